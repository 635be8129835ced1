package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const (
	WorkspaceContextKey contextKey = "workspace_id"

	WorkspaceHeader  = "X-Workspace-ID"
	DefaultWorkspace = "default"
)

// Workspace scopes every request to a workspace taken from the
// X-Workspace-ID header or the workspace_id query parameter. There is no
// authentication; deployments are expected to sit behind a trusted proxy.
func Workspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspaceID := strings.TrimSpace(r.Header.Get(WorkspaceHeader))
		if workspaceID == "" {
			workspaceID = strings.TrimSpace(r.URL.Query().Get("workspace_id"))
		}
		if workspaceID == "" {
			workspaceID = DefaultWorkspace
		}

		if !isValidWorkspaceID(workspaceID) {
			slog.Warn("rejecting invalid workspace id", "workspace_id", workspaceID, "path", r.URL.Path)
			http.Error(w, "Invalid workspace ID format", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), WorkspaceContextKey, workspaceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetWorkspaceID(ctx context.Context) string {
	workspaceID, ok := ctx.Value(WorkspaceContextKey).(string)
	if !ok {
		return ""
	}
	return workspaceID
}

// WithWorkspaceID returns ctx carrying workspaceID, for handlers invoked
// outside the middleware chain.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, WorkspaceContextKey, workspaceID)
}

func isValidWorkspaceID(id string) bool {
	if id == "" || len(id) > 255 {
		return false
	}
	for _, ch := range id {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == '.' || ch == '@') {
			return false
		}
	}
	return true
}
