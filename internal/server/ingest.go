package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingestiondomain "github.com/smallbiznis/edgecount/internal/ingestion/domain"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	maxIngestBodyBytes = 1 << 20
)

func (s *Server) IngestReport(c *gin.Context) {
	body, err := bufferBody(c, maxIngestBodyBytes)
	if err != nil {
		AbortWithDeviceError(c, err, msgInternal)
		return
	}

	result, err := s.ingestion.Ingest(c.Request.Context(), body, ingestiondomain.IngestOptions{
		IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
		DeviceToken:    bearerToken(c),
	})
	if err != nil {
		AbortWithDeviceError(c, err, msgInternal)
		return
	}

	resp := gin.H{
		"success": true,
		"message": "Data ingested successfully",
		"id":      result.ID,
	}
	if result.Deduplicated {
		resp["deduplicated"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// bufferBody reads at most limit bytes and puts the body back for the next reader.
func bufferBody(c *gin.Context, limit int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrPayloadTooLarge
		}
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
