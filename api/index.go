package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"upcontacts/app"
	"upcontacts/internal/observability"
)

var build = func() (*app.Runtime, error) {
	return app.Build(app.Options{
		RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
	})
}

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entry point. The runtime is built on the first
// invocation of an instance. A failed build is logged and reported once,
// and every later request on that instance answers 500.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = build()
		if initErr != nil {
			observability.NewLogger().Error("bootstrap_failed", map[string]any{"error": initErr.Error()})
			observability.CaptureRequestError(r, initErr)
		}
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "service unavailable"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
