package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"upcontacts/internal/auth"
	"upcontacts/internal/observability"
)

type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	repo                  Cleaner
	logger                *observability.Logger
	cronSecret            string
	loginAttemptRetention time.Duration
	batchSize             int
}

func NewCleanupHandler(
	repo Cleaner,
	logger *observability.Logger,
	cronSecret string,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		repo:                  repo,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
	}
}

func (h *CleanupHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/maintenance/cleanup", h.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", h.Handle)
}

// Handle clears expired reset tokens and stale login-attempt rows. The
// endpoint answers 404 unless a cron secret is configured.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.repo.CleanupStaleAuthData(r.Context(), h.loginAttemptRetention, h.batchSize)
	if err != nil {
		observability.CaptureRequestError(r, err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"cleared_reset_tokens":   result.ClearedResetTokens,
		"deleted_login_attempts": result.DeletedLoginAttempts,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

// authorized compares the bearer credential with the cron secret in
// constant time.
func (h *CleanupHandler) authorized(r *http.Request) bool {
	scheme, credential, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(credential)), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
