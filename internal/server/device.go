package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	handshakedomain "github.com/smallbiznis/edgecount/internal/handshake/domain"
)

func (s *Server) RegisterDevice(c *gin.Context) {
	var req handshakedomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithDeviceError(c, handshakedomain.ErrMissingFields, msgRegistrationInternal)
		return
	}
	req.Serial = strings.TrimSpace(req.Serial)
	if strings.TrimSpace(req.IPAddress) == "" {
		req.IPAddress = c.ClientIP()
	}
	c.Set("serial", req.Serial)

	binding, err := s.handshake.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithDeviceError(c, err, msgRegistrationInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Device registered and bound successfully",
		"binding": binding,
	})
}

func (s *Server) ActivateDevice(c *gin.Context) {
	var req handshakedomain.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithDeviceError(c, handshakedomain.ErrMissingSerial, msgInternal)
		return
	}
	req.Serial = strings.TrimSpace(req.Serial)
	c.Set("serial", req.Serial)

	cameraID, err := s.handshake.Activate(c.Request.Context(), req)
	if err != nil {
		AbortWithDeviceError(c, err, msgInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Activation recorded",
		"camera_id": cameraID,
	})
}
