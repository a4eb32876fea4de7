// Package table provides access to the sorted key-value store backing the
// diary. Items are addressed by a two-part key: a partition key and a sort
// key, both carried inside the item document under the pk/sk fields.
package table

import "context"

const (
	// PartitionKeyField names the partition-key attribute on stored items.
	PartitionKeyField = "pk"
	// SortKeyField names the sort-key attribute on stored items.
	SortKeyField = "sk"
)

// Item is a stored document. Nested values follow JSON conventions: numbers
// are float64, objects are map[string]any, lists are []any.
type Item map[string]any

// Client is the storage contract consumed by the diary services. All
// implementations are safe for concurrent use.
type Client interface {
	// GetItem fetches a single item, returning (nil, nil) when absent.
	GetItem(ctx context.Context, partitionKey, sortKey string) (Item, error)

	// PutItem writes the whole item, replacing any existing one under the
	// same key. The item must carry its pk/sk fields.
	PutItem(ctx context.Context, item Item) error

	// AtomicAdd increments a numeric field by delta as a single server-side
	// operation, creating the item when absent. Fields in set are written on
	// every call; fields in setOnCreate only when the item is first created.
	// The updated item is returned.
	AtomicAdd(ctx context.Context, partitionKey, sortKey, field string, delta int64, set Item, setOnCreate Item) (Item, error)

	// Query returns all items under the partition whose sort key begins with
	// sortKeyPrefix, in ascending sort-key order.
	Query(ctx context.Context, partitionKey, sortKeyPrefix string) ([]Item, error)
}

// NumberValue reads a numeric field from an item, tolerating the integer and
// float representations the different backends produce.
func NumberValue(item Item, field string) int64 {
	if item == nil {
		return 0
	}
	switch v := item[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// StringValue reads a string field from an item, returning "" when absent.
func StringValue(item Item, field string) string {
	if item == nil {
		return ""
	}
	value, _ := item[field].(string)
	return value
}
