package orgcontext

import (
	"context"
	"testing"
)

func TestOrgIDFromContext(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected no org in empty context")
	}
	if _, ok := OrgIDFromContext(WithOrgID(context.Background(), "  ")); ok {
		t.Fatalf("expected blank org to be treated as unset")
	}
	orgID, ok := OrgIDFromContext(WithOrgID(context.Background(), " org-1 "))
	if !ok || orgID != "org-1" {
		t.Fatalf("expected org-1, got %q (%v)", orgID, ok)
	}
}
