package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is the slice of the DynamoDB API the table store needs.
type DynamoDBClient interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDB keeps job records in a table keyed by id, with the JSON
// document stored as a string attribute.
type DynamoDB struct {
	client DynamoDBClient
	table  string
}

// NewDynamoDB builds the key-value table backend.
func NewDynamoDB(client DynamoDBClient, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

func (s *DynamoDB) keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoDB) LoadAll(ctx context.Context) ([]Record, error) {
	var records []Record
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan job table: %w", err)
		}
		for _, item := range out.Items {
			rec, err := itemToRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return records, nil
}

func itemToRecord(item map[string]types.AttributeValue) (Record, error) {
	id, ok := item["id"].(*types.AttributeValueMemberS)
	if !ok {
		return Record{}, fmt.Errorf("job item missing string id attribute")
	}
	data, ok := item["data"].(*types.AttributeValueMemberS)
	if !ok {
		return Record{}, fmt.Errorf("job item %s missing data attribute", id.Value)
	}
	return Record{ID: id.Value, Data: []byte(data.Value)}, nil
}

func (s *DynamoDB) Create(ctx context.Context, id string, data []byte) error {
	return s.put(ctx, id, data)
}

func (s *DynamoDB) Update(ctx context.Context, id string, data []byte) error {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyOf(id),
	})
	if err != nil {
		return fmt.Errorf("get job item %s: %w", id, err)
	}
	if out.Item == nil {
		return fmt.Errorf("job item %s not found", id)
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return err
	}
	merged, err := mergeRecords(rec.Data, data)
	if err != nil {
		return fmt.Errorf("merge job %s: %w", id, err)
	}
	return s.put(ctx, id, merged)
}

func (s *DynamoDB) put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"id":   &types.AttributeValueMemberS{Value: id},
			"data": &types.AttributeValueMemberS{Value: string(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("put job item %s: %w", id, err)
	}
	return nil
}

func (s *DynamoDB) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyOf(id),
	})
	if err != nil {
		return fmt.Errorf("delete job item %s: %w", id, err)
	}
	return nil
}
