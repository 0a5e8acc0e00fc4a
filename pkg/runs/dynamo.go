package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// tenantStatusIndex is the GSI serving the per-tenant running-run probe.
const tenantStatusIndex = "tenant_id-status-index"

// DynamoStore implements Store on a DynamoDB table keyed by run_id.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore builds a store from the default AWS config chain.
func NewDynamoStore(ctx context.Context, table string) (*DynamoStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &DynamoStore{client: dynamodb.NewFromConfig(awsCfg), table: table}, nil
}

// NewDynamoStoreFromClient wraps an already-constructed client.
func NewDynamoStoreFromClient(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// Create implements Store.
func (s *DynamoStore) Create(ctx context.Context, record *Record) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo put run %s: %w", record.RunID, err)
	}
	return nil
}

// UpdateStatus implements Store with a single UpdateItem expression: SET for
// every present field, REMOVE for ClearFields.
func (s *DynamoStore) UpdateStatus(ctx context.Context, runID string, status Status, update Update) error {
	sets := []string{"#status = :status"}
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
	}

	setString := func(attr, value string) {
		placeholder := "#" + attr
		names[placeholder] = attr
		sets = append(sets, fmt.Sprintf("%s = :%s", placeholder, attr))
		values[":"+attr] = &types.AttributeValueMemberS{Value: value}
	}

	if update.Stage != nil {
		setString("stage", string(*update.Stage))
	}
	if update.StartedAt != nil {
		setString("started_at", update.StartedAt.UTC().Format(time.RFC3339))
	}
	if update.FinishedAt != nil {
		setString("finished_at", update.FinishedAt.UTC().Format(time.RFC3339))
	}
	if update.FailedStage != nil {
		setString("failed_stage", string(*update.FailedStage))
	}
	if update.ErrorCode != nil {
		setString("error_code", *update.ErrorCode)
	}
	if update.ErrorMessage != nil {
		setString("error_message", *update.ErrorMessage)
	}
	if update.ErrorsArtifactKey != nil {
		setString("errors_artifact_key", *update.ErrorsArtifactKey)
	}
	if update.ErrorReportKey != nil {
		setString("error_report_key", *update.ErrorReportKey)
	}
	if update.Artifacts != nil {
		artifacts, err := attributevalue.Marshal(update.Artifacts)
		if err != nil {
			return fmt.Errorf("marshal artifacts: %w", err)
		}
		names["#artifacts"] = "artifacts"
		sets = append(sets, "#artifacts = :artifacts")
		values[":artifacts"] = artifacts
	}

	expression := "SET " + strings.Join(sets, ", ")
	if len(update.ClearFields) > 0 {
		removes := make([]string, 0, len(update.ClearFields))
		for _, field := range update.ClearFields {
			placeholder := "#clear_" + field
			names[placeholder] = field
			removes = append(removes, placeholder)
		}
		expression += " REMOVE " + strings.Join(removes, ", ")
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       runKey(runID),
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("dynamo update run %s: %w", runID, err)
	}
	return nil
}

// Get implements Store, returning nil when the run does not exist.
func (s *DynamoStore) Get(ctx context.Context, runID string) (*Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       runKey(runID),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo get run %s: %w", runID, err)
	}
	if len(result.Item) == 0 {
		return nil, nil
	}
	var record Record
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshal run record %s: %w", runID, err)
	}
	return &record, nil
}

// FindRunningByTenant implements Store via the tenant/status GSI.
func (s *DynamoStore) FindRunningByTenant(ctx context.Context, tenantID string) (*Record, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(tenantStatusIndex),
		KeyConditionExpression: aws.String("#tenant_id = :tenant_id AND #status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#tenant_id": "tenant_id",
			"#status":    "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tenant_id": &types.AttributeValueMemberS{Value: tenantID},
			":status":    &types.AttributeValueMemberS{Value: string(StatusRunning)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo query running runs for %s: %w", tenantID, err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	var record Record
	if err := attributevalue.UnmarshalMap(result.Items[0], &record); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &record, nil
}

func runKey(runID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"run_id": &types.AttributeValueMemberS{Value: runID},
	}
}
