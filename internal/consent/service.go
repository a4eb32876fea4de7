// Package consent implements the versioned consent gate. Every timeline and
// quota operation requires a stored acknowledgment of the current consent
// version; bumping the required version invalidates all prior consent.
package consent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tsuzuri-app/tsuzuri/backend/internal/apperr"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/table"
	"go.uber.org/zap"
)

// DefaultRequiredVersion is the consent version users must currently accept.
const DefaultRequiredVersion = "2025-12-21"

const consentSortKey = "CONSENT"

const (
	opGetStatus = "consent.get_status"
	opRecord    = "consent.record"
	opRequire   = "consent.require"
)

var (
	errMissingTable      = errors.New("table client is required")
	errAgreementRequired = errors.New("agreed must be true")
)

// ServiceConfig describes the dependencies of the consent gate.
type ServiceConfig struct {
	Table           table.Client
	RequiredVersion string
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Service reads and writes per-user consent records.
type Service struct {
	table           table.Client
	requiredVersion string
	clock           func() time.Time
	logger          *zap.Logger
}

// NewService validates the configuration and constructs the gate.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Table == nil {
		return nil, apperr.Internal(opGetStatus, "missing_table", errMissingTable)
	}
	requiredVersion := strings.TrimSpace(cfg.RequiredVersion)
	if requiredVersion == "" {
		requiredVersion = DefaultRequiredVersion
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
		table:           cfg.Table,
		requiredVersion: requiredVersion,
		clock:           clock,
		logger:          logger,
	}, nil
}

// Status reports a user's consent state alongside the required version.
type Status struct {
	Agreed          bool   `json:"agreed"`
	Version         string `json:"version,omitempty"`
	RequiredVersion string `json:"requiredVersion"`
	AgreedAt        string `json:"agreedAt,omitempty"`
}

// Record is a stored consent acknowledgment.
type Record struct {
	UserID   string `json:"userId"`
	Agreed   bool   `json:"agreed"`
	Version  string `json:"version"`
	AgreedAt string `json:"agreedAt"`
}

// RequiredVersion returns the version users must currently accept.
func (s *Service) RequiredVersion() string {
	return s.requiredVersion
}

func consentPartitionKey(userID string) string {
	return "USER#" + userID
}

// GetStatus fetches the stored record and evaluates it against the required
// version. Agreed only reports true for a currently-valid record.
func (s *Service) GetStatus(ctx context.Context, userID string) (Status, error) {
	item, err := s.table.GetItem(ctx, consentPartitionKey(userID), consentSortKey)
	if err != nil {
		s.logger.Error("consent lookup failed",
			zap.String("operation", opGetStatus),
			zap.String("user_id", userID),
			zap.Error(err))
		return Status{}, apperr.Internal(opGetStatus, "lookup_failed", err)
	}

	status := Status{
		Agreed:          s.isValid(item),
		RequiredVersion: s.requiredVersion,
	}
	if item != nil {
		status.Version = table.StringValue(item, "version")
		status.AgreedAt = table.StringValue(item, "agreedAt")
	}
	return status, nil
}

// Record stores a consent acknowledgment. Anything other than an explicit
// agreed=true is rejected, never stored. An omitted version defaults to the
// required one.
func (s *Service) Record(ctx context.Context, userID string, agreed bool, version string) (Record, error) {
	if !agreed {
		return Record{}, apperr.Validation(opRecord, "agreement_required", errAgreementRequired)
	}

	version = strings.TrimSpace(version)
	if version == "" {
		version = s.requiredVersion
	}

	record := Record{
		UserID:   userID,
		Agreed:   true,
		Version:  version,
		AgreedAt: s.clock().UTC().Format(time.RFC3339),
	}

	item := table.Item{
		table.PartitionKeyField: consentPartitionKey(userID),
		table.SortKeyField:      consentSortKey,
		"userId":                record.UserID,
		"agreed":                true,
		"version":               record.Version,
		"agreedAt":              record.AgreedAt,
	}
	if err := s.table.PutItem(ctx, item); err != nil {
		s.logger.Error("consent write failed",
			zap.String("operation", opRecord),
			zap.String("user_id", userID),
			zap.Error(err))
		return Record{}, apperr.Internal(opRecord, "write_failed", err)
	}

	return record, nil
}

// Require returns a ConsentRequired error unless the user holds valid
// consent for the current version. Storage failures also block.
func (s *Service) Require(ctx context.Context, userID string) error {
	item, err := s.table.GetItem(ctx, consentPartitionKey(userID), consentSortKey)
	if err != nil {
		s.logger.Error("consent check failed",
			zap.String("operation", opRequire),
			zap.String("user_id", userID),
			zap.Error(err))
		return apperr.Internal(opRequire, "lookup_failed", err)
	}
	if !s.isValid(item) {
		return apperr.ConsentRequired(opRequire, s.requiredVersion)
	}
	return nil
}

// isValid requires an existing record with agreed=true and an exact version
// match.
func (s *Service) isValid(item table.Item) bool {
	if item == nil {
		return false
	}
	agreed, _ := item["agreed"].(bool)
	return agreed && table.StringValue(item, "version") == s.requiredVersion
}
