package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/edgecount/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	obscontext "github.com/smallbiznis/edgecount/internal/observability/context"
	"github.com/smallbiznis/edgecount/internal/orgcontext"
)

const contextPrincipalKey = "admin_principal"

// AdminAuthRequired authenticates admin requests with a bearer API key.
// The caller's org scope comes from the key, never from the request.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.apiKeySvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		ctx = orgcontext.WithOrgID(ctx, principal.OrgID)
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), principal.KeyID)
		if principal.OrgID != "" {
			ctx = obscontext.WithOrgID(ctx, principal.OrgID)
		}

		c.Set(contextPrincipalKey, principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (*apikeydomain.Principal, bool) {
	if c == nil {
		return nil, false
	}
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*apikeydomain.Principal)
	return principal, ok && principal != nil
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
