// Package timeline owns the date-bucketed storage of diary entries. A
// multi-day entry is fanned out into every day bucket its range covers and
// retracted from the same set; month queries reassemble the buckets in
// chronological order without scanning the rest of the timeline.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tsuzuri-app/tsuzuri/backend/internal/apperr"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/table"
	"go.uber.org/zap"
)

const (
	opUpsert    = "timeline.upsert"
	opRetract   = "timeline.retract"
	opListRange = "timeline.list_range"
)

var (
	errMissingTable      = errors.New("table client is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingEntry      = errors.New("entry payload is required")
	errMissingEntryID    = errors.New("entry id is required")
	errMissingStartDate  = errors.New("start date is required")
)

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// IDProvider issues identifiers for entries that arrive without one.
type IDProvider interface {
	NewID() (string, error)
}

// ImageURLResolver resolves an object-store key to a retrievable URL. It is
// satisfied by the object store collaborator.
type ImageURLResolver interface {
	ResolveImageURL(ctx context.Context, key string) (string, error)
}

// ServiceConfig describes the dependencies of the timeline engine.
type ServiceConfig struct {
	Table      table.Client
	Images     ImageURLResolver
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements the fan-out write path and the month query path.
type Service struct {
	table      table.Client
	images     ImageURLResolver
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Table == nil {
		return nil, apperr.Internal(opUpsert, "missing_table", errMissingTable)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opUpsert, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		table:      cfg.Table,
		images:     cfg.Images,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Upsert writes the entry into every day bucket its date range covers,
// replacing any previous snapshot with the same id in each bucket. Buckets
// are written independently; a failure partway through leaves
// earlier dates updated and reports the error without retrying.
func (s *Service) Upsert(ctx context.Context, userID string, entry Entry) (Entry, error) {
	if entry == nil {
		return nil, apperr.Validation(opUpsert, "missing_entry", errMissingEntry)
	}

	entryID := entry.ID()
	if entryID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opUpsert, "id_generation_failed", err, userID)
			return nil, apperr.Internal(opUpsert, "id_generation_failed", err)
		}
		entryID = generated
		entry.SetID(entryID)
	}
	delete(entry, "type")

	start, end, err := entry.span(s.clock().UTC())
	if err != nil {
		return nil, apperr.Validation(opUpsert, "invalid_date_range", err)
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		if err := s.upsertIntoBucket(ctx, userID, date, entryID, entry); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

func (s *Service) upsertIntoBucket(ctx context.Context, userID, date, entryID string, entry Entry) error {
	partitionKey := bucketPartitionKey(userID, date[:4])
	sortKey := bucketSortKey(date)

	bucket, err := s.table.GetItem(ctx, partitionKey, sortKey)
	if err != nil {
		s.logError(opUpsert, "bucket_fetch_failed", err, userID, zap.String("date", date))
		return apperr.Internal(opUpsert, "bucket_fetch_failed", err)
	}
	if bucket == nil {
		bucket = table.Item{
			table.PartitionKeyField: partitionKey,
			table.SortKeyField:      sortKey,
			"userId":                userID,
			"orderedItems":          []any{},
		}
	}
	// Residue fields written by older clients.
	delete(bucket, "date")
	delete(bucket, "type")

	ordered, _ := bucket["orderedItems"].([]any)
	rewritten := make([]any, 0, len(ordered)+1)
	for _, raw := range ordered {
		if entrySnapshotID(raw) == entryID {
			continue
		}
		rewritten = append(rewritten, raw)
	}
	rewritten = append(rewritten, map[string]any(entry))
	bucket["orderedItems"] = rewritten

	if err := s.table.PutItem(ctx, bucket); err != nil {
		s.logError(opUpsert, "bucket_write_failed", err, userID, zap.String("date", date))
		return apperr.Internal(opUpsert, "bucket_write_failed", err)
	}
	return nil
}

// Retract removes the entry from every bucket in [startDate, endDate] and
// returns the number of buckets it actually rewrote. Buckets that never held
// the entry are left untouched, so retracting an absent entry is a no-op
// that still succeeds.
func (s *Service) Retract(ctx context.Context, userID, entryID, startDate, endDate string) (int, error) {
	if entryID == "" {
		return 0, apperr.Validation(opRetract, "missing_entry_id", errMissingEntryID)
	}
	if startDate == "" {
		return 0, apperr.Validation(opRetract, "missing_start_date", errMissingStartDate)
	}
	if endDate == "" {
		endDate = startDate
	}

	start, err := ParseDate(startDate)
	if err != nil {
		return 0, apperr.Validation(opRetract, "invalid_start_date", err)
	}
	end, err := ParseDate(endDate)
	if err != nil {
		return 0, apperr.Validation(opRetract, "invalid_end_date", err)
	}

	removed := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		changed, err := s.retractFromBucket(ctx, userID, date, entryID)
		if err != nil {
			return removed, err
		}
		if changed {
			removed++
		}
	}
	return removed, nil
}

func (s *Service) retractFromBucket(ctx context.Context, userID, date, entryID string) (bool, error) {
	partitionKey := bucketPartitionKey(userID, date[:4])
	sortKey := bucketSortKey(date)

	bucket, err := s.table.GetItem(ctx, partitionKey, sortKey)
	if err != nil {
		s.logError(opRetract, "bucket_fetch_failed", err, userID, zap.String("date", date))
		return false, apperr.Internal(opRetract, "bucket_fetch_failed", err)
	}
	if bucket == nil {
		return false, nil
	}
	ordered, ok := bucket["orderedItems"].([]any)
	if !ok {
		return false, nil
	}

	filtered := make([]any, 0, len(ordered))
	for _, raw := range ordered {
		if entrySnapshotID(raw) == entryID {
			continue
		}
		filtered = append(filtered, raw)
	}
	if len(filtered) == len(ordered) {
		return false, nil
	}

	bucket["orderedItems"] = filtered
	if err := s.table.PutItem(ctx, bucket); err != nil {
		s.logError(opRetract, "bucket_write_failed", err, userID, zap.String("date", date))
		return false, apperr.Internal(opRetract, "bucket_write_failed", err)
	}
	return true, nil
}

// ListRange returns the user's day buckets for the given month in
// chronological order, with image-bearing entries enriched with retrieval
// URLs. Year and month default to the current UTC month. A URL that fails to
// resolve is logged and skipped, never failing the query.
func (s *Service) ListRange(ctx context.Context, userID, year, month string) ([]table.Item, error) {
	now := s.clock().UTC()
	if year == "" {
		year = fmt.Sprintf("%04d", now.Year())
	}
	if month == "" {
		month = fmt.Sprintf("%02d", int(now.Month()))
	}
	if len(month) == 1 {
		month = "0" + month
	}
	if !yearPattern.MatchString(year) {
		return nil, apperr.Validation(opListRange, "invalid_year", fmt.Errorf("year %q must be YYYY", year))
	}
	if len(month) != 2 || month < "01" || month > "12" {
		return nil, apperr.Validation(opListRange, "invalid_month", fmt.Errorf("month %q must be 01-12", month))
	}

	partitionKey := bucketPartitionKey(userID, year)
	prefix := bucketSortKey(year + "-" + month)

	buckets, err := s.table.Query(ctx, partitionKey, prefix)
	if err != nil {
		s.logError(opListRange, "query_failed", err, userID,
			zap.String("year", year), zap.String("month", month))
		return nil, apperr.Internal(opListRange, "query_failed", err)
	}

	for _, bucket := range buckets {
		s.attachImageURLs(ctx, bucket)
	}
	return buckets, nil
}

func (s *Service) attachImageURLs(ctx context.Context, bucket table.Item) {
	if s.images == nil {
		return
	}
	ordered, _ := bucket["orderedItems"].([]any)
	for _, raw := range ordered {
		snapshot, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, _ := snapshot["imageKey"].(string)
		if key == "" {
			continue
		}
		url, err := s.images.ResolveImageURL(ctx, key)
		if err != nil {
			s.logger.Warn("image url resolution failed",
				zap.String("operation", opListRange),
				zap.String("image_key", key),
				zap.Error(err))
			continue
		}
		snapshot["imageUrl"] = url
	}
}

func entrySnapshotID(raw any) string {
	snapshot, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := snapshot["id"].(string)
	return id
}

func (s *Service) logError(operation, reason string, err error, userID string, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("user_id", userID),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("timeline service error", attrs...)
}
