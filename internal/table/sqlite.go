package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqliteRow is the single denormalized table backing the SQLite client. The
// document column holds the full item as JSON, pk/sk are mirrored into
// columns for the composite primary key.
type sqliteRow struct {
	PartitionKey string `gorm:"column:pk;primaryKey;size:512;not null"`
	SortKey      string `gorm:"column:sk;primaryKey;size:512;not null"`
	Document     string `gorm:"column:doc;not null"`
}

func (sqliteRow) TableName() string {
	return "diary_items"
}

// SQLite is a Client for local development, mirroring the hosted table's
// contract on a single-file database.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite table: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sqliteRow{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("sqlite table initialized", zap.String("path", path))
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetItem implements Client.
func (s *SQLite) GetItem(ctx context.Context, partitionKey, sortKey string) (Item, error) {
	var row sqliteRow
	err := s.db.WithContext(ctx).
		Where("pk = ? AND sk = ?", partitionKey, sortKey).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get item: %w", err)
	}
	return decodeDocument(row.Document)
}

// PutItem implements Client.
func (s *SQLite) PutItem(ctx context.Context, item Item) error {
	partitionKey := StringValue(item, PartitionKeyField)
	sortKey := StringValue(item, SortKeyField)
	if partitionKey == "" || sortKey == "" {
		return fmt.Errorf("sqlite table: item requires %s and %s fields", PartitionKeyField, SortKeyField)
	}
	document, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("sqlite marshal item: %w", err)
	}

	row := sqliteRow{PartitionKey: partitionKey, SortKey: sortKey, Document: string(document)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pk"}, {Name: "sk"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite put item: %w", err)
	}
	return nil
}

// AtomicAdd implements Client with a single INSERT ... ON CONFLICT statement
// so the increment happens server-side in one step.
func (s *SQLite) AtomicAdd(ctx context.Context, partitionKey, sortKey, field string, delta int64, set Item, setOnCreate Item) (Item, error) {
	initial := Item{
		PartitionKeyField: partitionKey,
		SortKeyField:      sortKey,
		field:             delta,
	}
	for k, v := range setOnCreate {
		initial[k] = v
	}
	for k, v := range set {
		initial[k] = v
	}
	initialDoc, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("sqlite marshal counter: %w", err)
	}

	updateExpr := "json_set(doc"
	args := []any{partitionKey, sortKey, string(initialDoc)}
	for k, v := range set {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("sqlite marshal %s: %w", k, err)
		}
		updateExpr += ", ?, json(?)"
		args = append(args, "$."+k, string(encoded))
	}
	updateExpr += ", ?, COALESCE(json_extract(doc, ?), 0) + ?)"
	fieldPath := "$." + field
	args = append(args, fieldPath, fieldPath, delta)

	statement := "INSERT INTO diary_items (pk, sk, doc) VALUES (?, ?, ?) " +
		"ON CONFLICT(pk, sk) DO UPDATE SET doc = " + updateExpr

	if err := s.db.WithContext(ctx).Exec(statement, args...).Error; err != nil {
		return nil, fmt.Errorf("sqlite atomic add: %w", err)
	}

	item, err := s.GetItem(ctx, partitionKey, sortKey)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("sqlite atomic add: counter missing after upsert")
	}
	return item, nil
}

// Query implements Client.
func (s *SQLite) Query(ctx context.Context, partitionKey, sortKeyPrefix string) ([]Item, error) {
	var rows []sqliteRow
	err := s.db.WithContext(ctx).
		Where("pk = ? AND sk LIKE ? ESCAPE '\\'", partitionKey, escapeLikePattern(sortKeyPrefix)+"%").
		Order("sk ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}

	results := make([]Item, 0, len(rows))
	for _, row := range rows {
		item, err := decodeDocument(row.Document)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, nil
}

func decodeDocument(document string) (Item, error) {
	item := Item{}
	if err := json.Unmarshal([]byte(document), &item); err != nil {
		return nil, fmt.Errorf("sqlite decode item: %w", err)
	}
	return item, nil
}

func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
