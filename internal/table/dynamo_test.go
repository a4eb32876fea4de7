package table

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamoAPI struct {
	getInput    *dynamodb.GetItemInput
	getOutput   *dynamodb.GetItemOutput
	putInput    *dynamodb.PutItemInput
	updateInput *dynamodb.UpdateItemInput
	queryPages  []*dynamodb.QueryOutput
	queryCalls  int
}

func (f *fakeDynamoAPI) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInput = params
	if f.getOutput != nil {
		return f.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamoAPI) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInput = params
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoAPI) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInput = params
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{
			"imageCount": &types.AttributeValueMemberN{Value: "3"},
		},
	}, nil
}

func (f *fakeDynamoAPI) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	page := f.queryPages[f.queryCalls]
	f.queryCalls++
	return page, nil
}

func TestNewDynamoValidation(t *testing.T) {
	if _, err := NewDynamo(nil, "diary"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewDynamo(&fakeDynamoAPI{}, "  "); err == nil {
		t.Fatalf("expected error for blank table name")
	}
}

func TestDynamoGetItemAbsent(t *testing.T) {
	api := &fakeDynamoAPI{}
	store, err := NewDynamo(api, "diary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, err := store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for empty response, got %v", item)
	}
	if aws.ToString(api.getInput.TableName) != "diary" {
		t.Fatalf("unexpected table name %q", aws.ToString(api.getInput.TableName))
	}
	pk := api.getInput.Key[PartitionKeyField].(*types.AttributeValueMemberS)
	if pk.Value != "USER#u" {
		t.Fatalf("unexpected partition key %q", pk.Value)
	}
}

func TestDynamoAtomicAddExpression(t *testing.T) {
	api := &fakeDynamoAPI{}
	store, err := NewDynamo(api, "diary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, err := store.AtomicAdd(context.Background(), "USER#u#UPLOADS", "MONTH#2025-06",
		"imageCount", 1,
		Item{"updatedAt": "t1"},
		Item{"createdAt": "t1"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if got := NumberValue(item, "imageCount"); got != 3 {
		t.Fatalf("expected the returned attributes, got %d", got)
	}

	expression := aws.ToString(api.updateInput.UpdateExpression)
	if !strings.HasPrefix(expression, "ADD #fld :delta") {
		t.Fatalf("expected ADD clause, got %q", expression)
	}
	if !strings.Contains(expression, "if_not_exists") {
		t.Fatalf("create-only fields need if_not_exists, got %q", expression)
	}
	if api.updateInput.ReturnValues != types.ReturnValueAllNew {
		t.Fatalf("expected ALL_NEW return values, got %v", api.updateInput.ReturnValues)
	}
	if api.updateInput.ExpressionAttributeNames["#fld"] != "imageCount" {
		t.Fatalf("unexpected field mapping %v", api.updateInput.ExpressionAttributeNames)
	}
}

func TestDynamoQueryPagination(t *testing.T) {
	lastKey := map[string]types.AttributeValue{
		PartitionKeyField: &types.AttributeValueMemberS{Value: "USER#u#YEAR#2025"},
		SortKeyField:      &types.AttributeValueMemberS{Value: "DATE#2025-06-01"},
	}
	api := &fakeDynamoAPI{
		queryPages: []*dynamodb.QueryOutput{
			{
				Items: []map[string]types.AttributeValue{
					{SortKeyField: &types.AttributeValueMemberS{Value: "DATE#2025-06-01"}},
				},
				LastEvaluatedKey: lastKey,
			},
			{
				Items: []map[string]types.AttributeValue{
					{SortKeyField: &types.AttributeValueMemberS{Value: "DATE#2025-06-02"}},
				},
			},
		},
	}
	store, err := NewDynamo(api, "diary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, err := store.Query(context.Background(), "USER#u#YEAR#2025", "DATE#2025-06")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected items from both pages, got %d", len(items))
	}
	if api.queryCalls != 2 {
		t.Fatalf("expected two query calls, got %d", api.queryCalls)
	}
	if StringValue(items[1], SortKeyField) != "DATE#2025-06-02" {
		t.Fatalf("unexpected second item %v", items[1])
	}
}
