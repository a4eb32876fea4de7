package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the table layer uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo is the production Client backed by a DynamoDB table keyed on pk/sk.
type Dynamo struct {
	api       DynamoAPI
	tableName string
}

// NewDynamo wraps a DynamoDB client for the named table.
func NewDynamo(api DynamoAPI, tableName string) (*Dynamo, error) {
	if api == nil {
		return nil, fmt.Errorf("dynamo table: client required")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, fmt.Errorf("dynamo table: table name required")
	}
	return &Dynamo{api: api, tableName: tableName}, nil
}

func dynamoKey(partitionKey, sortKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		PartitionKeyField: &types.AttributeValueMemberS{Value: partitionKey},
		SortKeyField:      &types.AttributeValueMemberS{Value: sortKey},
	}
}

// GetItem implements Client.
func (d *Dynamo) GetItem(ctx context.Context, partitionKey, sortKey string) (Item, error) {
	resp, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       dynamoKey(partitionKey, sortKey),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo get item: %w", err)
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	item := Item{}
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamo unmarshal item: %w", err)
	}
	return item, nil
}

// PutItem implements Client.
func (d *Dynamo) PutItem(ctx context.Context, item Item) error {
	marshalled, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("dynamo marshal item: %w", err)
	}
	if _, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      marshalled,
	}); err != nil {
		return fmt.Errorf("dynamo put item: %w", err)
	}
	return nil
}

// AtomicAdd implements Client using a single UpdateItem with an ADD clause,
// so concurrent increments never lose updates.
func (d *Dynamo) AtomicAdd(ctx context.Context, partitionKey, sortKey, field string, delta int64, set Item, setOnCreate Item) (Item, error) {
	names := map[string]string{"#fld": field}
	values := map[string]types.AttributeValue{
		":delta": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta)},
	}

	assignments := make([]string, 0, len(set)+len(setOnCreate))
	index := 0
	appendAssignment := func(attr string, value any, onCreate bool) error {
		nameRef := fmt.Sprintf("#s%d", index)
		valueRef := fmt.Sprintf(":s%d", index)
		index++
		names[nameRef] = attr
		marshalled, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("dynamo marshal %s: %w", attr, err)
		}
		values[valueRef] = marshalled
		if onCreate {
			assignments = append(assignments, fmt.Sprintf("%s = if_not_exists(%s, %s)", nameRef, nameRef, valueRef))
		} else {
			assignments = append(assignments, fmt.Sprintf("%s = %s", nameRef, valueRef))
		}
		return nil
	}
	for attr, value := range set {
		if err := appendAssignment(attr, value, false); err != nil {
			return nil, err
		}
	}
	for attr, value := range setOnCreate {
		if err := appendAssignment(attr, value, true); err != nil {
			return nil, err
		}
	}

	expression := "ADD #fld :delta"
	if len(assignments) > 0 {
		expression += " SET " + strings.Join(assignments, ", ")
	}

	resp, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       dynamoKey(partitionKey, sortKey),
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo atomic add: %w", err)
	}

	item := Item{}
	if err := attributevalue.UnmarshalMap(resp.Attributes, &item); err != nil {
		return nil, fmt.Errorf("dynamo unmarshal updated item: %w", err)
	}
	return item, nil
}

// Query implements Client, paging through all matches in sort-key order.
func (d *Dynamo) Query(ctx context.Context, partitionKey, sortKeyPrefix string) ([]Item, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("#pk = :pk AND begins_with(#sk, :prefix)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": PartitionKeyField,
			"#sk": SortKeyField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: partitionKey},
			":prefix": &types.AttributeValueMemberS{Value: sortKeyPrefix},
		},
	}

	results := make([]Item, 0)
	paginator := dynamodb.NewQueryPaginator(d.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo query: %w", err)
		}
		for _, raw := range page.Items {
			item := Item{}
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("dynamo unmarshal query item: %w", err)
			}
			results = append(results, item)
		}
	}
	return results, nil
}
