package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/edgecount/internal/authorization"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
)

func (s *Server) ListCameras(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		cameras []cameradomain.Camera
		err     error
	)
	if orgID := requestOrgID(c); orgID != "" {
		cameras, err = s.cameras.GetByOrg(ctx, orgID)
	} else {
		cameras, err = s.cameras.GetAll(ctx)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cameras})
}

func (s *Server) BindCamera(c *gin.Context) {
	var req cameradomain.BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = bodyOrgID(c, req.OrgID)

	if err := s.authorizeOrgActionWithContext(c, req.OrgID, authorization.ObjectCamera, authorization.ActionCameraBind); err != nil {
		AbortWithError(c, err)
		return
	}

	camera, err := s.cameras.Bind(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, camera)
}
