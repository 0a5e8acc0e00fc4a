package tenantstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
)

// DynamoStore implements Store on a table with hash key tenant_id and range
// key config_version. The config document is stored as a JSON string so the
// schema round-trips exactly.
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

// Put implements Store.
func (s *DynamoStore) Put(ctx context.Context, record *Record) error {
	configJSON, err := json.Marshal(&record.Config)
	if err != nil {
		return fmt.Errorf("marshal tenant config: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"tenant_id":      &types.AttributeValueMemberS{Value: record.TenantID},
			"config_version": &types.AttributeValueMemberN{Value: strconv.Itoa(record.ConfigVersion)},
			"config":         &types.AttributeValueMemberS{Value: string(configJSON)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo put tenant %s v%d: %w", record.TenantID, record.ConfigVersion, err)
	}
	return nil
}

// Get implements Store.
func (s *DynamoStore) Get(ctx context.Context, tenantID string, configVersion int) (*Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"tenant_id":      &types.AttributeValueMemberS{Value: tenantID},
			"config_version": &types.AttributeValueMemberN{Value: strconv.Itoa(configVersion)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo get tenant %s v%d: %w", tenantID, configVersion, err)
	}
	if len(result.Item) == 0 {
		return nil, nil
	}
	return itemToRecord(result.Item)
}

// GetLatest implements Store by reading the highest config_version.
func (s *DynamoStore) GetLatest(ctx context.Context, tenantID string) (*Record, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#tenant_id = :tenant_id"),
		ExpressionAttributeNames: map[string]string{
			"#tenant_id": "tenant_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tenant_id": &types.AttributeValueMemberS{Value: tenantID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo query latest tenant %s: %w", tenantID, err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	return itemToRecord(result.Items[0])
}

func itemToRecord(item map[string]types.AttributeValue) (*Record, error) {
	record := &Record{}
	if attr, ok := item["tenant_id"].(*types.AttributeValueMemberS); ok {
		record.TenantID = attr.Value
	}
	if attr, ok := item["config_version"].(*types.AttributeValueMemberN); ok {
		version, err := strconv.Atoi(attr.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid config_version %q: %w", attr.Value, err)
		}
		record.ConfigVersion = version
	}
	if attr, ok := item["config"].(*types.AttributeValueMemberS); ok {
		var cfg config.TenantConfig
		if err := json.Unmarshal([]byte(attr.Value), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal tenant config: %w", err)
		}
		record.Config = cfg
	}
	return record, nil
}
