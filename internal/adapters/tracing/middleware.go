package tracing

import (
	"net/http"

	"github.com/riandyrn/otelchi"
	"go.opentelemetry.io/otel/trace"
)

// untraced paths are polled by probes and scrapers.
var untraced = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Middleware traces API requests through otelchi and tags each span with
// the caller's workspace. Probe and scrape endpoints are skipped.
func Middleware(serviceName, workspaceHeader string, opts ...otelchi.Option) func(http.Handler) http.Handler {
	opts = append([]otelchi.Option{
		otelchi.WithFilter(func(r *http.Request) bool { return !untraced[r.URL.Path] }),
	}, opts...)
	traced := otelchi.Middleware(serviceName, opts...)

	return func(next http.Handler) http.Handler {
		return traced(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				if ws := r.Header.Get(workspaceHeader); ws != "" {
					span.SetAttributes(WorkspaceID(ws))
				}
			}
			next.ServeHTTP(w, r)
		}))
	}
}
