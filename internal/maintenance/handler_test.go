package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upcontacts/internal/auth"
	"upcontacts/internal/observability"
)

type fakeCleaner struct {
	calls     int
	retention time.Duration
	batch     int
	result    auth.CleanupResult
	err       error
}

func (f *fakeCleaner) CleanupStaleAuthData(_ context.Context, retention time.Duration, batch int) (auth.CleanupResult, error) {
	f.calls++
	f.retention = retention
	f.batch = batch
	return f.result, f.err
}

func newMux(cleaner Cleaner, secret string, logs *bytes.Buffer) *http.ServeMux {
	mux := http.NewServeMux()
	NewCleanupHandler(cleaner, observability.NewLoggerTo(logs), secret, 48*time.Hour, 100).RegisterRoutes(mux)
	return mux
}

func TestCleanupDisabledWithoutSecret(t *testing.T) {
	cleaner := &fakeCleaner{}
	rec := httptest.NewRecorder()
	newMux(cleaner, "  ", &bytes.Buffer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, cleaner.calls)
}

func TestCleanupRejectsWrongSecret(t *testing.T) {
	cleaner := &fakeCleaner{}
	mux := newMux(cleaner, "s3cret", &bytes.Buffer{})

	for _, header := range []string{"", "Bearer nope", "Basic s3cret", "s3cret"} {
		req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	assert.Zero(t, cleaner.calls)
}

func TestCleanupRuns(t *testing.T) {
	cleaner := &fakeCleaner{result: auth.CleanupResult{ClearedResetTokens: 2, DeletedLoginAttempts: 7}}
	logs := &bytes.Buffer{}
	mux := newMux(cleaner, "s3cret", logs)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string             `json:"status"`
		Result auth.CleanupResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(2), body.Result.ClearedResetTokens)
	assert.Equal(t, int64(7), body.Result.DeletedLoginAttempts)
	assert.Equal(t, 48*time.Hour, cleaner.retention)
	assert.Equal(t, 100, cleaner.batch)
	assert.Contains(t, logs.String(), "auth_cleanup_completed")
}

func TestCleanupFailure(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("db down")}
	logs := &bytes.Buffer{}
	mux := newMux(cleaner, "s3cret", logs)

	req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
	assert.Contains(t, logs.String(), "auth_cleanup_failed")
}
