package orgcontext

import (
	"context"
	"strings"
)

// OrgContextKey is the request context key for the organization an admin principal is scoped to.
type OrgContextKey struct{}

// WithOrgID stores the org ID in the context. An empty org ID means platform scope.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, strings.TrimSpace(orgID))
}

// OrgIDFromContext returns the org ID from context, if set and non-empty.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	orgID, ok := ctx.Value(OrgContextKey{}).(string)
	if !ok || orgID == "" {
		return "", false
	}
	return orgID, true
}
