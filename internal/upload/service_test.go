package upload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tsuzuri-app/tsuzuri/backend/internal/apperr"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/quota"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/table"
)

type stubSigner struct {
	lastKey         string
	lastContentType string
}

func (s *stubSigner) PresignedPutURL(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	s.lastKey = key
	s.lastContentType = contentType
	return "https://bucket.example.com/" + key + "?signed", nil
}

func testClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, store table.Client, limit int64) (*Service, *stubSigner) {
	t.Helper()
	quotaService, err := quota.NewService(quota.ServiceConfig{Table: store, Limit: limit, Clock: testClock})
	if err != nil {
		t.Fatalf("unexpected quota error: %v", err)
	}
	signer := &stubSigner{}
	service, err := NewService(ServiceConfig{Quota: quotaService, Store: signer, Clock: testClock})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service, signer
}

func TestCreateUploadURL(t *testing.T) {
	store := table.NewMemory()
	service, signer := newTestService(t, store, 50)

	grant, err := service.CreateUploadURL(context.Background(), "user-1", "photo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.ImageKey != "users/user-1/photo.jpg" {
		t.Fatalf("unexpected image key %q", grant.ImageKey)
	}
	if grant.UploadURL != "https://bucket.example.com/users/user-1/photo.jpg?signed" {
		t.Fatalf("unexpected upload url %q", grant.UploadURL)
	}
	if signer.lastContentType != "image/jpeg" {
		t.Fatalf("unexpected content type %q", signer.lastContentType)
	}
	if grant.Limit.Limit != 50 || grant.Limit.Used != 1 || grant.Limit.Remaining != 49 || grant.Limit.Month != "2025-06" {
		t.Fatalf("unexpected limit info %+v", grant.Limit)
	}
}

func TestCreateUploadURLSanitizesFileName(t *testing.T) {
	store := table.NewMemory()
	service, _ := newTestService(t, store, 50)

	grant, err := service.CreateUploadURL(context.Background(), "user-1", "../../etc/passwd", "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.ImageKey != "users/user-1/passwd" {
		t.Fatalf("unexpected image key %q", grant.ImageKey)
	}
}

func TestCreateUploadURLSubstitutesRandomName(t *testing.T) {
	store := table.NewMemory()
	service, _ := newTestService(t, store, 50)

	grant, err := service.CreateUploadURL(context.Background(), "user-1", "..", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(grant.ImageKey, "users/user-1/") || !strings.HasSuffix(grant.ImageKey, ".jpg") {
		t.Fatalf("expected a generated .jpg key, got %q", grant.ImageKey)
	}
	name := strings.TrimPrefix(grant.ImageKey, "users/user-1/")
	if len(name) <= len(".jpg") {
		t.Fatalf("expected a random name, got %q", name)
	}
}

func TestCreateUploadURLRejectsContentType(t *testing.T) {
	store := table.NewMemory()
	service, _ := newTestService(t, store, 50)

	_, err := service.CreateUploadURL(context.Background(), "user-1", "payload.html", "text/html")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	// The rejection happens before the quota is charged.
	status, err := service.UploadStatus(context.Background(), "user-1", "2025-06")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Used != 0 {
		t.Fatalf("rejected request must not consume quota, used=%d", status.Used)
	}
}

func TestCreateUploadURLEnforcesMonthlyLimit(t *testing.T) {
	store := table.NewMemory()
	service, _ := newTestService(t, store, 2)

	for i := 0; i < 2; i++ {
		if _, err := service.CreateUploadURL(context.Background(), "user-1", "photo.jpg", "image/jpeg"); err != nil {
			t.Fatalf("upload %d: unexpected error: %v", i+1, err)
		}
	}

	_, err := service.CreateUploadURL(context.Background(), "user-1", "photo.jpg", "image/jpeg")
	if apperr.KindOf(err) != apperr.KindRateLimited {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected taxonomy error, got %T", err)
	}
	if appErr.Limit != 2 || appErr.Current != 2 {
		t.Fatalf("unexpected limit details limit=%d current=%d", appErr.Limit, appErr.Current)
	}

	status, err := service.UploadStatus(context.Background(), "user-1", "2025-06")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Used != 2 {
		t.Fatalf("rejected upload must not consume quota, used=%d", status.Used)
	}
	if !status.IsLimitReached || status.Remaining != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestUploadStatusDefaultsAndValidatesMonth(t *testing.T) {
	store := table.NewMemory()
	service, _ := newTestService(t, store, 50)

	status, err := service.UploadStatus(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.Month != "2025-06" {
		t.Fatalf("expected the clock's month, got %q", status.Month)
	}
	if status.Used != 0 || status.Remaining != 50 || status.IsLimitReached {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := service.UploadStatus(context.Background(), "user-1", "2025/06"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for malformed month, got %v", err)
	}
}
