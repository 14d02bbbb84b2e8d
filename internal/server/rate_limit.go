package server

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/edgecount/internal/ingestion/decoder"
	"github.com/smallbiznis/edgecount/internal/observability/logger"
	"github.com/smallbiznis/edgecount/internal/ratelimit"
	"go.uber.org/zap"
)

const maxHandshakeBodyBytes = 64 << 10

type handshakeRateLimitKey struct {
	Token string `json:"token"`
}

// HandshakeRateLimit limits device handshakes per client IP and, when the body
// carries one, per site token. Limiter failures let the request through.
func (s *Server) HandshakeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		body, err := bufferBody(c, maxHandshakeBodyBytes)
		if err != nil {
			AbortWithDeviceError(c, err, msgInternal)
			return
		}

		decision, err := s.limiter.AllowHandshake(ctx, c.ClientIP(), readHandshakeToken(body))
		if err != nil {
			logger.FromContext(ctx).Warn("handshake rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		s.applyDecision(c, decision)
	}
}

// IngestRateLimit limits report ingestion per device serial.
func (s *Server) IngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		body, err := bufferBody(c, maxIngestBodyBytes)
		if err != nil {
			AbortWithDeviceError(c, err, msgInternal)
			return
		}

		var serial string
		if envelope, _ := decoder.Decode(body); envelope != nil {
			serial = envelope.Serial
		}
		if serial != "" {
			c.Set("serial", serial)
		}

		decision, err := s.limiter.AllowIngest(ctx, serial)
		if err != nil {
			logger.FromContext(ctx).Warn("ingest rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		s.applyDecision(c, decision)
	}
}

func (s *Server) applyDecision(c *gin.Context, decision *ratelimit.Decision) {
	endpoint := normalizeRateLimitEndpoint(c)
	if decision == nil || decision.Result == nil || decision.Allowed {
		s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), endpoint)
		c.Next()
		return
	}
	s.denyRateLimit(c, endpoint, decision)
}

func (s *Server) denyRateLimit(c *gin.Context, endpoint string, decision *ratelimit.Decision) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("device rate limit exceeded",
		zap.String("reason", decision.Reason),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, decision.Reason)

	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(decision.Result)))
	c.Header("X-Rate-Limited-Reason", decision.Reason)
	AbortWithDeviceError(c, ErrRateLimited, msgInternal)
}

func retryAfterSeconds(res *ratelimit.Result) int {
	if res == nil {
		return 1
	}
	seconds := int(math.Ceil(res.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func readHandshakeToken(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload handshakeRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Token)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
