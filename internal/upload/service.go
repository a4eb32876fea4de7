// Package upload issues presigned upload URLs for entry images, gated by
// the monthly quota counter.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/apperr"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/quota"
	"go.uber.org/zap"
)

const putURLTTL = 5 * time.Minute

const (
	opCreateURL = "upload.create_url"
	opStatus    = "upload.status"
)

var (
	errMissingQuota = errors.New("quota service is required")
	errMissingStore = errors.New("object store is required")
)

// allowedContentTypes lists the upload types the bucket accepts.
var allowedContentTypes = map[string]struct{}{
	"application/octet-stream": {},
	"image/jpeg":               {},
	"image/png":                {},
	"image/webp":               {},
}

// URLSigner is the object-store capability this service needs.
type URLSigner interface {
	PresignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// ServiceConfig describes the dependencies of the upload service.
type ServiceConfig struct {
	Quota  *quota.Service
	Store  URLSigner
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service sanitizes file names, charges the quota, and presigns uploads.
type Service struct {
	quota  *quota.Service
	store  URLSigner
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Quota == nil {
		return nil, apperr.Internal(opCreateURL, "missing_quota", errMissingQuota)
	}
	if cfg.Store == nil {
		return nil, apperr.Internal(opCreateURL, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{quota: cfg.Quota, store: cfg.Store, clock: clock, logger: logger}, nil
}

// LimitInfo reports quota usage for a month.
type LimitInfo struct {
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Month     string `json:"month"`
}

// Grant is a charged, presigned upload slot.
type Grant struct {
	UploadURL string    `json:"uploadUrl"`
	ImageKey  string    `json:"imageKey"`
	Limit     LimitInfo `json:"uploadLimit"`
}

// Status reports quota usage without charging it.
type Status struct {
	LimitInfo
	IsLimitReached bool `json:"isLimitReached"`
}

// CreateUploadURL charges one upload against the current month and returns a
// short-lived presigned PUT URL. A caller at the limit is rejected before
// any side effect.
func (s *Service) CreateUploadURL(ctx context.Context, userID, fileName, contentType string) (Grant, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, ok := allowedContentTypes[contentType]; !ok {
		return Grant{}, apperr.Validation(opCreateURL, "unsupported_content_type",
			fmt.Errorf("content type %q is not allowed", contentType))
	}

	safeName := SanitizeFileName(fileName)
	if safeName == "" {
		safeName = uuid.NewString() + ".jpg"
	}

	month := quota.CurrentMonthUTC(s.clock())
	count, ok, err := s.quota.TryIncrement(ctx, userID, month)
	if err != nil {
		return Grant{}, err
	}
	if !ok {
		return Grant{}, apperr.RateLimited(opCreateURL, s.quota.Limit(), count)
	}

	imageKey := fmt.Sprintf("users/%s/%s", userID, safeName)
	uploadURL, err := s.store.PresignedPutURL(ctx, imageKey, contentType, putURLTTL)
	if err != nil {
		s.logger.Error("upload url presign failed",
			zap.String("operation", opCreateURL),
			zap.String("user_id", userID),
			zap.String("image_key", imageKey),
			zap.Error(err))
		return Grant{}, apperr.Internal(opCreateURL, "presign_failed", err)
	}

	limit := s.quota.Limit()
	return Grant{
		UploadURL: uploadURL,
		ImageKey:  imageKey,
		Limit: LimitInfo{
			Limit:     limit,
			Used:      count,
			Remaining: limit - count,
			Month:     month,
		},
	}, nil
}

// UploadStatus reports usage for the requested month, defaulting to the
// current UTC month.
func (s *Service) UploadStatus(ctx context.Context, userID, month string) (Status, error) {
	if month == "" {
		month = quota.CurrentMonthUTC(s.clock())
	}
	if !quota.ValidMonth(month) {
		return Status{}, apperr.Validation(opStatus, "invalid_month",
			fmt.Errorf("month %q must be YYYY-MM", month))
	}

	limit := s.quota.Limit()
	used := s.quota.PeekCount(ctx, userID, month)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		LimitInfo: LimitInfo{
			Limit:     limit,
			Used:      used,
			Remaining: remaining,
			Month:     month,
		},
		IsLimitReached: used >= limit,
	}, nil
}
