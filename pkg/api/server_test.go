package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/api"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/queue"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/storage"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/tenantstore"
)

const tenantJSON = `{
  "schema_version": 1,
  "tenant_id": "tenant-a",
  "timezone": "UTC",
  "default_currency": "USD",
  "vendors": [
    {
      "vendor_id": "vendor-a",
      "inbound": {"type": "s3", "s3_prefix": "vendor-a/"},
      "parser": {"format": "csv"}
    }
  ],
  "pricing": {
    "base_margin_pct": "0.1",
    "min_price": "1",
    "shipping_handling_flat": "0",
    "map_policy": {"enforce": true, "map_floor_behavior": "max(price, map_price)"},
    "rounding": {"mode": "nearest", "increment": "0.01"}
  },
  "merge": {
    "strategy": "best_offer",
    "best_offer": {"landed_cost": {"include_shipping_handling": true}}
  },
  "output": {"format": "csv", "columns": ["sku", "price"]}
}`

type apiFixture struct {
	runs    *runs.InMemoryStore
	tenants *tenantstore.InMemoryStore
	queue   *queue.InMemoryQueue
	blobs   *storage.InMemoryBlobStore
	server  *httptest.Server
}

func newAPIFixture(t *testing.T, keys []string) *apiFixture {
	t.Helper()
	f := &apiFixture{
		runs:    runs.NewInMemoryStore(),
		tenants: tenantstore.NewInMemoryStore(),
		queue:   queue.NewInMemoryQueue(),
		blobs:   storage.NewInMemoryBlobStore(),
	}
	server := api.New(api.Options{
		Runs:    f.runs,
		Tenants: f.tenants,
		Queue:   f.queue,
		Blobs:   f.blobs,
		APIKeys: keys,
		Now:     func() time.Time { return time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC) },
	})
	f.server = httptest.NewServer(server.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body, apiKey string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if apiKey != "" {
		request.Header.Set("X-API-Key", apiKey)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	return response
}

func decodeBody(t *testing.T, response *http.Response, out any) {
	t.Helper()
	defer func() { _ = response.Body.Close() }()
	require.NoError(t, json.NewDecoder(response.Body).Decode(out))
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t, []string{"secret"})
	response := f.do(t, http.MethodGet, "/v1/health", "", "")
	assert.Equal(t, http.StatusOK, response.StatusCode)
	var body map[string]string
	decodeBody(t, response, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIKeyRequired(t *testing.T) {
	f := newAPIFixture(t, []string{"secret"})
	response := f.do(t, http.MethodPost, "/v1/tenants", tenantJSON, "")
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()

	response = f.do(t, http.MethodPost, "/v1/tenants", tenantJSON, "wrong")
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	_ = response.Body.Close()

	response = f.do(t, http.MethodPost, "/v1/tenants", tenantJSON, "secret")
	assert.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()
}

func TestCreateAndGetTenant(t *testing.T) {
	f := newAPIFixture(t, nil)
	response := f.do(t, http.MethodPost, "/v1/tenants", tenantJSON, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var created map[string]string
	decodeBody(t, response, &created)
	assert.Equal(t, "1", created["config_version"])

	response = f.do(t, http.MethodGet, "/v1/tenants/tenant-a", "", "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var cfg map[string]any
	decodeBody(t, response, &cfg)
	assert.Equal(t, "tenant-a", cfg["tenant_id"])
}

func TestUpdateTenantConfigBumpsVersion(t *testing.T) {
	f := newAPIFixture(t, nil)
	response := f.do(t, http.MethodPost, "/v1/tenants", tenantJSON, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()

	response = f.do(t, http.MethodPut, "/v1/tenants/tenant-a/config", tenantJSON, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var updated map[string]string
	decodeBody(t, response, &updated)
	assert.Equal(t, "2", updated["config_version"])

	record, err := f.tenants.Get(context.Background(), "tenant-a", 2)
	require.NoError(t, err)
	require.NotNil(t, record)
}

func TestUpdateTenantConfigRejectsMismatchedID(t *testing.T) {
	f := newAPIFixture(t, nil)
	response := f.do(t, http.MethodPut, "/v1/tenants/other-tenant/config", tenantJSON, "")
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	_ = response.Body.Close()
}

func TestCreateTenantRejectsInvalidConfig(t *testing.T) {
	f := newAPIFixture(t, nil)
	bad := strings.Replace(tenantJSON, `"strategy": "best_offer"`, `"strategy": "take_all"`, 1)
	response := f.do(t, http.MethodPost, "/v1/tenants", bad, "")
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	_ = response.Body.Close()
}

func TestCreateRunEnqueuesJobAndPinsConfigVersion(t *testing.T) {
	f := newAPIFixture(t, nil)
	response := f.do(t, http.MethodPost, "/v1/tenants", tenantJSON, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()
	response = f.do(t, http.MethodPut, "/v1/tenants/tenant-a/config", tenantJSON, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()

	response = f.do(t, http.MethodPost, "/v1/runs",
		`{"tenant_id": "tenant-a", "vendors": ["vendor-a"]}`, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var status api.RunStatus
	decodeBody(t, response, &status)
	assert.Equal(t, runs.StatusQueued, status.Status)
	assert.Equal(t, 2, status.ConfigVersion, "run must pin the latest config version")
	assert.NotEmpty(t, status.RunID)

	message, err := f.queue.Receive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, message)
	var job runs.Job
	require.NoError(t, json.Unmarshal(message.Body, &job))
	assert.Equal(t, status.RunID, job.RunID)
	assert.Equal(t, 2, job.ConfigVersion)
}

func TestCreateRunConflictsWhileTenantHasRunningRun(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.NoError(t, f.runs.Create(context.Background(), &runs.Record{
		RunID:    "run-1",
		TenantID: "tenant-a",
		Status:   runs.StatusRunning,
	}))

	response := f.do(t, http.MethodPost, "/v1/runs",
		`{"tenant_id": "tenant-a", "vendors": []}`, "")
	assert.Equal(t, http.StatusConflict, response.StatusCode)
	var body map[string]string
	decodeBody(t, response, &body)
	assert.Contains(t, body["detail"], "run-1")
}

func TestCreateRunRateLimited(t *testing.T) {
	f := &apiFixture{
		runs:    runs.NewInMemoryStore(),
		tenants: tenantstore.NewInMemoryStore(),
		queue:   queue.NewInMemoryQueue(),
	}
	server := api.New(api.Options{
		Runs:    f.runs,
		Tenants: f.tenants,
		Queue:   f.queue,
		Limiter: api.NewLocalRunLimiter(1),
	})
	f.server = httptest.NewServer(server.Handler())
	t.Cleanup(f.server.Close)

	response := f.do(t, http.MethodPost, "/v1/runs", `{"tenant_id": "tenant-a", "vendors": []}`, "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var first api.RunStatus
	decodeBody(t, response, &first)
	// First run must terminate before a second is admitted.
	require.NoError(t, f.runs.UpdateStatus(context.Background(), first.RunID, runs.StatusSucceeded, runs.Update{}))

	response = f.do(t, http.MethodPost, "/v1/runs", `{"tenant_id": "tenant-a", "vendors": []}`, "")
	assert.Equal(t, http.StatusTooManyRequests, response.StatusCode)
	_ = response.Body.Close()
}

func TestGetRunAndArtifacts(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.NoError(t, f.runs.Create(context.Background(), &runs.Record{
		RunID:    "run-1",
		TenantID: "tenant-a",
		Status:   runs.StatusSucceeded,
		Artifacts: map[string]string{
			"merged_inventory": "run-1/tenants/tenant-a/outputs/merged_inventory.csv",
		},
	}))

	response := f.do(t, http.MethodGet, "/v1/runs/run-1", "", "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var status api.RunStatus
	decodeBody(t, response, &status)
	assert.Equal(t, runs.StatusSucceeded, status.Status)

	response = f.do(t, http.MethodGet, "/v1/runs/run-1/artifacts", "", "")
	require.Equal(t, http.StatusOK, response.StatusCode)
	var urls map[string]string
	decodeBody(t, response, &urls)
	assert.Contains(t, urls["merged_inventory"], "merged_inventory.csv")

	response = f.do(t, http.MethodGet, "/v1/runs/absent", "", "")
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	_ = response.Body.Close()
}
