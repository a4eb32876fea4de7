package table

import (
	"context"
	"testing"
)

func TestMemoryGetItemAbsent(t *testing.T) {
	store := NewMemory()
	item, err := store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for a missing item, got %v", item)
	}
}

func TestMemoryPutRequiresKeys(t *testing.T) {
	store := NewMemory()
	if err := store.PutItem(context.Background(), Item{"sk": "CONSENT"}); err == nil {
		t.Fatalf("expected error for missing partition key")
	}
	if err := store.PutItem(context.Background(), Item{"pk": "USER#u"}); err == nil {
		t.Fatalf("expected error for missing sort key")
	}
}

func TestMemoryIsolatesStoredState(t *testing.T) {
	store := NewMemory()
	original := Item{"pk": "USER#u", "sk": "CONSENT", "nested": map[string]any{"agreed": true}}
	if err := store.PutItem(context.Background(), original); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	// Mutating either the input or a fetched copy must not leak into the store.
	original["nested"].(map[string]any)["agreed"] = false
	fetched, err := store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if agreed := fetched["nested"].(map[string]any)["agreed"]; agreed != true {
		t.Fatalf("stored item was mutated through the caller's reference")
	}

	fetched["nested"].(map[string]any)["agreed"] = false
	again, err := store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if agreed := again["nested"].(map[string]any)["agreed"]; agreed != true {
		t.Fatalf("stored item was mutated through a fetched copy")
	}
}

func TestMemoryAtomicAdd(t *testing.T) {
	store := NewMemory()

	item, err := store.AtomicAdd(context.Background(), "USER#u#UPLOADS", "MONTH#2025-06",
		"imageCount", 1,
		Item{"updatedAt": "t1"},
		Item{"createdAt": "t1", "userId": "u"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if got := NumberValue(item, "imageCount"); got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}
	if StringValue(item, "createdAt") != "t1" {
		t.Fatalf("create-only fields missing on first write: %v", item)
	}

	item, err = store.AtomicAdd(context.Background(), "USER#u#UPLOADS", "MONTH#2025-06",
		"imageCount", 1,
		Item{"updatedAt": "t2"},
		Item{"createdAt": "t2", "userId": "u"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if got := NumberValue(item, "imageCount"); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	if StringValue(item, "createdAt") != "t1" {
		t.Fatalf("createdAt must not change on subsequent writes, got %q", StringValue(item, "createdAt"))
	}
	if StringValue(item, "updatedAt") != "t2" {
		t.Fatalf("updatedAt should follow every write, got %q", StringValue(item, "updatedAt"))
	}
}

func TestMemoryQueryPrefixOrder(t *testing.T) {
	store := NewMemory()
	keys := []string{"DATE#2025-06-03", "DATE#2025-06-01", "DATE#2025-07-01", "DATE#2025-06-12"}
	for _, sk := range keys {
		if err := store.PutItem(context.Background(), Item{"pk": "USER#u#YEAR#2025", "sk": sk}); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}
	if err := store.PutItem(context.Background(), Item{"pk": "USER#other#YEAR#2025", "sk": "DATE#2025-06-02"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	items, err := store.Query(context.Background(), "USER#u#YEAR#2025", "DATE#2025-06")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	want := []string{"DATE#2025-06-01", "DATE#2025-06-03", "DATE#2025-06-12"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, item := range items {
		if got := StringValue(item, SortKeyField); got != want[i] {
			t.Fatalf("item %d: expected %s, got %s", i, want[i], got)
		}
	}
}

func TestNumberValueTolerance(t *testing.T) {
	item := Item{"a": int64(3), "b": 4, "c": 5.0, "d": "nope"}
	if NumberValue(item, "a") != 3 || NumberValue(item, "b") != 4 || NumberValue(item, "c") != 5 {
		t.Fatalf("numeric representations should all decode")
	}
	if NumberValue(item, "d") != 0 || NumberValue(item, "missing") != 0 {
		t.Fatalf("non-numeric and missing fields should read as zero")
	}
}
