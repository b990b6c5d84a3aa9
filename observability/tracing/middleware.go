package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Middleware wraps next with otelhttp server instrumentation. Spans are
// named "METHOD /path" from the request URL path, which never includes the
// query string. The route pattern is not known yet at this layer since the
// mux runs inside it.
func Middleware(serverName string, next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, serverName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz"
		}),
	)
}
