package table

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "diary.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close sqlite: %v", err)
		}
	})
	return store
}

func TestSQLiteGetPutRoundTrip(t *testing.T) {
	store := openTestSQLite(t)

	item, err := store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for missing item, got %v", item)
	}

	original := Item{
		"pk":      "USER#u",
		"sk":      "CONSENT",
		"agreed":  true,
		"version": "2025-12-21",
	}
	if err := store.PutItem(context.Background(), original); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	fetched, err := store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if fetched["agreed"] != true || StringValue(fetched, "version") != "2025-12-21" {
		t.Fatalf("unexpected item %v", fetched)
	}

	// A second put under the same key replaces the document.
	original["version"] = "2026-01-01"
	if err := store.PutItem(context.Background(), original); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	fetched, err = store.GetItem(context.Background(), "USER#u", "CONSENT")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if StringValue(fetched, "version") != "2026-01-01" {
		t.Fatalf("expected replaced document, got %v", fetched)
	}
}

func TestSQLiteAtomicAdd(t *testing.T) {
	store := openTestSQLite(t)

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
	if StringValue(item, "createdAt") != "t1" || StringValue(item, "userId") != "u" {
		t.Fatalf("create-only fields missing: %v", item)
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
		t.Fatalf("createdAt must survive subsequent adds, got %q", StringValue(item, "createdAt"))
	}
	if StringValue(item, "updatedAt") != "t2" {
		t.Fatalf("updatedAt should follow every add, got %q", StringValue(item, "updatedAt"))
	}
}

func TestSQLiteQueryPrefix(t *testing.T) {
	store := openTestSQLite(t)

	sortKeys := []string{"DATE#2025-06-03", "DATE#2025-06-01", "DATE#2025-07-01"}
	for _, sk := range sortKeys {
		if err := store.PutItem(context.Background(), Item{"pk": "USER#u#YEAR#2025", "sk": sk}); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	items, err := store.Query(context.Background(), "USER#u#YEAR#2025", "DATE#2025-06")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if StringValue(items[0], "sk") != "DATE#2025-06-01" || StringValue(items[1], "sk") != "DATE#2025-06-03" {
		t.Fatalf("unexpected order %v", items)
	}
}

func TestSQLiteQueryEscapesLikeMetacharacters(t *testing.T) {
	store := openTestSQLite(t)

	if err := store.PutItem(context.Background(), Item{"pk": "P", "sk": "A%B-1"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := store.PutItem(context.Background(), Item{"pk": "P", "sk": "AXB-1"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	items, err := store.Query(context.Background(), "P", "A%B")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(items) != 1 || StringValue(items[0], "sk") != "A%B-1" {
		t.Fatalf("LIKE metacharacters must match literally, got %v", items)
	}
}
