package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/edgecount/internal/authorization"
	sitetokendomain "github.com/smallbiznis/edgecount/internal/sitetoken/domain"
)

func (s *Server) IssueSiteToken(c *gin.Context) {
	var req sitetokendomain.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = bodyOrgID(c, req.OrgID)

	if err := s.authorizeOrgActionWithContext(c, req.OrgID, authorization.ObjectSiteToken, authorization.ActionSiteTokenIssue); err != nil {
		AbortWithError(c, err)
		return
	}

	token, err := s.tokens.Issue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, token)
}

// ListSiteTokens returns unused, unexpired tokens; platform scope lists every org.
func (s *Server) ListSiteTokens(c *gin.Context) {
	tokens, err := s.tokens.ListPending(c.Request.Context(), requestOrgID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tokens})
}
