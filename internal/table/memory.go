package table

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Client used by tests and throwaway local runs.
// Items are deep-copied through JSON on the way in and out so callers never
// share mutable state with the store.
type Memory struct {
	mu    sync.Mutex
	items map[string]Item
}

// NewMemory constructs an empty in-memory client.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]Item)}
}

func memoryKey(partitionKey, sortKey string) string {
	return partitionKey + "\x00" + sortKey
}

func copyItem(item Item) (Item, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var out Item
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetItem implements Client.
func (m *Memory) GetItem(_ context.Context, partitionKey, sortKey string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[memoryKey(partitionKey, sortKey)]
	if !ok {
		return nil, nil
	}
	return copyItem(stored)
}

// PutItem implements Client.
func (m *Memory) PutItem(_ context.Context, item Item) error {
	partitionKey := StringValue(item, PartitionKeyField)
	sortKey := StringValue(item, SortKeyField)
	if partitionKey == "" || sortKey == "" {
		return fmt.Errorf("memory table: item requires %s and %s fields", PartitionKeyField, SortKeyField)
	}
	stored, err := copyItem(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memoryKey(partitionKey, sortKey)] = stored
	return nil
}

// AtomicAdd implements Client.
func (m *Memory) AtomicAdd(_ context.Context, partitionKey, sortKey, field string, delta int64, set Item, setOnCreate Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(partitionKey, sortKey)
	stored, exists := m.items[key]
	if !exists {
		stored = Item{
			PartitionKeyField: partitionKey,
			SortKeyField:      sortKey,
		}
		for k, v := range setOnCreate {
			stored[k] = v
		}
	}
	stored[field] = NumberValue(stored, field) + delta
	for k, v := range set {
		stored[k] = v
	}
	m.items[key] = stored
	return copyItem(stored)
}

// Query implements Client.
func (m *Memory) Query(_ context.Context, partitionKey, sortKeyPrefix string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := memoryKey(partitionKey, sortKeyPrefix)
	matched := make([]string, 0)
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	results := make([]Item, 0, len(matched))
	for _, key := range matched {
		copied, err := copyItem(m.items[key])
		if err != nil {
			return nil, err
		}
		results = append(results, copied)
	}
	return results, nil
}
