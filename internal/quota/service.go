// Package quota enforces the monthly image-upload cap. One counter exists
// per user per UTC calendar month; the increment is a single server-side
// atomic add so concurrent uploads never corrupt the count.
package quota

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/tsuzuri-app/tsuzuri/backend/internal/apperr"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/table"
	"go.uber.org/zap"
)

// DefaultMonthlyLimit caps image uploads per user per calendar month.
const DefaultMonthlyLimit = 50

const (
	countField     = "imageCount"
	monthKeyLayout = "2006-01"
)

const (
	opPeek      = "quota.peek_count"
	opIncrement = "quota.try_increment"
)

var errMissingTable = errors.New("table client is required")

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ValidMonth reports whether the value is a YYYY-MM month key.
func ValidMonth(value string) bool {
	return monthPattern.MatchString(value)
}

// CurrentMonthUTC formats the UTC calendar month key for the given instant.
func CurrentMonthUTC(now time.Time) string {
	return now.UTC().Format(monthKeyLayout)
}

// ServiceConfig describes the dependencies of the quota counter.
type ServiceConfig struct {
	Table  table.Client
	Limit  int64
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service tracks per-user-per-month upload counts.
type Service struct {
	table  table.Client
	limit  int64
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs the counter.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Table == nil {
		return nil, apperr.Internal(opPeek, "missing_table", errMissingTable)
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultMonthlyLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{table: cfg.Table, limit: limit, clock: clock, logger: logger}, nil
}

// Limit returns the configured monthly ceiling.
func (s *Service) Limit() int64 {
	return s.limit
}

func quotaPartitionKey(userID string) string {
	return "USER#" + userID + "#UPLOADS"
}

func quotaSortKey(month string) string {
	return "MONTH#" + month
}

// PeekCount returns the stored count for the month, 0 when no counter
// exists. A failed read reports the full limit so a degraded backend blocks
// uploads instead of waving them through.
func (s *Service) PeekCount(ctx context.Context, userID, month string) int64 {
	item, err := s.table.GetItem(ctx, quotaPartitionKey(userID), quotaSortKey(month))
	if err != nil {
		s.logger.Error("quota read failed, failing closed",
			zap.String("operation", opPeek),
			zap.String("user_id", userID),
			zap.String("month", month),
			zap.Error(err))
		return s.limit
	}
	if item == nil {
		return 0
	}
	return table.NumberValue(item, countField)
}

// TryIncrement bumps the month's counter unless the limit is already
// reached. The pre-check is a best-effort gate: a slight overshoot under
// extreme concurrency is acceptable, a corrupted count is not, so the bump
// itself is a store-side atomic add with create-if-absent semantics.
func (s *Service) TryIncrement(ctx context.Context, userID, month string) (int64, bool, error) {
	current := s.PeekCount(ctx, userID, month)
	if current >= s.limit {
		return current, false, nil
	}

	now := s.clock().UTC().Format(time.RFC3339)
	item, err := s.table.AtomicAdd(ctx,
		quotaPartitionKey(userID), quotaSortKey(month),
		countField, 1,
		table.Item{"updatedAt": now},
		table.Item{"createdAt": now, "userId": userID, "month": month},
	)
	if err != nil {
		s.logger.Error("quota increment failed",
			zap.String("operation", opIncrement),
			zap.String("user_id", userID),
			zap.String("month", month),
			zap.Error(err))
		return current, false, apperr.Internal(opIncrement, "increment_failed", err)
	}

	return table.NumberValue(item, countField), true, nil
}
