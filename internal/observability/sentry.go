package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

const serviceName = "upcontacts-api"

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		ServerName:       serviceName,
		AttachStacktrace: true,
	})
}

// CaptureRequestError reports err tagged with the request's method, path and id.
func CaptureRequestError(r *http.Request, err error) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("method", r.Method)
		scope.SetTag("path", r.URL.Path)
		if id := RequestID(r.Context()); id != "" {
			scope.SetTag("request_id", id)
		}
		sentry.CaptureException(err)
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
