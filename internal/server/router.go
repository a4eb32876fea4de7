package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/apperr"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/consent"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/timeline"
	"github.com/tsuzuri-app/tsuzuri/backend/internal/upload"
	"go.uber.org/zap"
)

const userIDContextKey = "tsuzuri_user_id"

var (
	errMissingVerifier        = errors.New("gateway verifier dependency required")
	errMissingConsentService  = errors.New("consent service dependency required")
	errMissingTimelineService = errors.New("timeline service dependency required")
	errMissingUploadService   = errors.New("upload service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// GatewayVerifier validates a bearer token and returns the authenticated
// user id.
type GatewayVerifier interface {
	VerifyToken(token string) (string, error)
}

// Dependencies carries the collaborators the router needs.
type Dependencies struct {
	Verifier GatewayVerifier
	Consent  *consent.Service
	Timeline *timeline.Service
	Upload   *upload.Service
	Logger   *zap.Logger
}

// NewHTTPHandler assembles the diary API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Consent == nil {
		return nil, errMissingConsentService
	}
	if deps.Timeline == nil {
		return nil, errMissingTimelineService
	}
	if deps.Upload == nil {
		return nil, errMissingUploadService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier: deps.Verifier,
		consent:  deps.Consent,
		timeline: deps.Timeline,
		upload:   deps.Upload,
		logger:   logger,
	}

	authorized := router.Group("/")
	authorized.Use(handler.authorizeRequest)

	// Consent endpoints stay reachable with stale consent; everything else
	// sits behind the gate.
	authorized.GET("/consent", handler.handleGetConsent)
	authorized.POST("/consent", handler.handlePostConsent)

	gated := authorized.Group("/")
	gated.Use(handler.requireConsent)
	gated.GET("/items", handler.handleListItems)
	gated.POST("/items", handler.handleCreateItem)
	gated.DELETE("/items/:id", handler.handleDeleteItem)
	gated.POST("/upload-url", handler.handleUploadURL)
	gated.GET("/upload-status", handler.handleUploadStatus)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not Found"})
	})

	return router, nil
}

type httpHandler struct {
	verifier GatewayVerifier
	consent  *consent.Service
	timeline *timeline.Service
	upload   *upload.Service
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.verifier.VerifyToken(token)
	if err != nil {
		h.logger.Warn("gateway token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requireConsent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.consent.Require(c.Request.Context(), userID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Next()
}

func (h *httpHandler) handleGetConsent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := h.consent.GetStatus(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type consentRequestPayload struct {
	Agreed  bool   `json:"agreed"`
	Version string `json:"version"`
}

func (h *httpHandler) handlePostConsent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request consentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.consent.Record(c.Request.Context(), userID, request.Agreed, request.Version)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleListItems(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	buckets, err := h.timeline.ListRange(c.Request.Context(), userID, c.Query("year"), c.Query("month"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *httpHandler) handleCreateItem(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var entry timeline.Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	stored, err := h.timeline.Upsert(c.Request.Context(), userID, entry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *httpHandler) handleDeleteItem(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	entryID := c.Query("itemId")
	if entryID == "" {
		entryID = c.Param("id")
	}
	startDate := c.Query("startDate")
	if startDate == "" {
		startDate = c.Query("date")
	}

	removed, err := h.timeline.Retract(c.Request.Context(), userID, entryID, startDate, c.Query("endDate"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deleted", "removed": removed})
}

type uploadRequestPayload struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

func (h *httpHandler) handleUploadURL(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request uploadRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.upload.CreateUploadURL(c.Request.Context(), userID, request.FileName, request.ContentType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *httpHandler) handleUploadStatus(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	status, err := h.upload.UploadStatus(c.Request.Context(), userID, c.Query("month"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, body := errorResponse(h.logger, err)
	c.JSON(status, body)
}

func (h *httpHandler) abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(h.logger, err)
	c.AbortWithStatusJSON(status, body)
}

// errorResponse maps the error taxonomy onto HTTP statuses. Internal
// failures surface only the operation.reason code, never a cause chain.
func errorResponse(logger *zap.Logger, err error) (int, gin.H) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logger.Error("unclassified failure", zap.Error(err))
		return http.StatusInternalServerError, gin.H{"error": "internal_error", "code": "internal"}
	}

	switch appErr.Kind() {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": appErr.Code()}
	case apperr.KindConsentRequired:
		return http.StatusForbidden, gin.H{
			"message":         "Consent required",
			"requiredVersion": appErr.RequiredVersion,
			"code":            appErr.Code(),
		}
	case apperr.KindValidation:
		return http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": appErr.Error(),
			"code":    appErr.Code(),
		}
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"limit":   appErr.Limit,
			"current": appErr.Current,
			"code":    appErr.Code(),
		}
	case apperr.KindNotFound:
		return http.StatusNotFound, gin.H{"message": "Not Found", "code": appErr.Code()}
	default:
		logger.Error("internal failure", zap.String("code", appErr.Code()), zap.Error(appErr))
		return http.StatusInternalServerError, gin.H{"error": "internal_error", "code": appErr.Code()}
	}
}
