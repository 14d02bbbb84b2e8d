package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/edgecount/internal/apikey"
	apikeydomain "github.com/smallbiznis/edgecount/internal/apikey/domain"
	"github.com/smallbiznis/edgecount/internal/audit"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/authorization"
	"github.com/smallbiznis/edgecount/internal/camera"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
	"github.com/smallbiznis/edgecount/internal/config"
	"github.com/smallbiznis/edgecount/internal/handshake"
	handshakedomain "github.com/smallbiznis/edgecount/internal/handshake/domain"
	"github.com/smallbiznis/edgecount/internal/ingestion"
	ingestiondomain "github.com/smallbiznis/edgecount/internal/ingestion/domain"
	"github.com/smallbiznis/edgecount/internal/liveevents"
	"github.com/smallbiznis/edgecount/internal/observability"
	obsmiddleware "github.com/smallbiznis/edgecount/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/edgecount/internal/observability/metrics"
	obstracing "github.com/smallbiznis/edgecount/internal/observability/tracing"
	"github.com/smallbiznis/edgecount/internal/ratelimit"
	"github.com/smallbiznis/edgecount/internal/site"
	"github.com/smallbiznis/edgecount/internal/sitetoken"
	sitetokendomain "github.com/smallbiznis/edgecount/internal/sitetoken/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	apikey.Module,
	site.Module,
	sitetoken.Module,
	camera.Module,
	ratelimit.Module,
	handshake.Module,
	ingestion.Module,
	liveevents.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	tokens     sitetokendomain.Service
	cameras    cameradomain.Service
	handshake  handshakedomain.Service
	ingestion  ingestiondomain.Service
	apiKeySvc  apikeydomain.Service
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	liveEvents *liveevents.Hub
	limiter    *ratelimit.DeviceLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Tokens     sitetokendomain.Service
	Cameras    cameradomain.Service
	Handshake  handshakedomain.Service
	Ingestion  ingestiondomain.Service
	APIKeySvc  apikeydomain.Service
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	LiveEvents *liveevents.Hub          `optional:"true"`
	Limiter    *ratelimit.DeviceLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		tokens:     p.Tokens,
		cameras:    p.Cameras,
		handshake:  p.Handshake,
		ingestion:  p.Ingestion,
		apiKeySvc:  p.APIKeySvc,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		liveEvents: p.LiveEvents,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerDeviceRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Device routes are unauthenticated; the site token and the camera registry gate them.
func (s *Server) registerDeviceRoutes() {
	device := s.engine.Group("/device")
	device.POST("/register", s.HandshakeRateLimit(), s.RegisterDevice)
	device.POST("/activate", s.HandshakeRateLimit(), s.ActivateDevice)

	// -------- Ingestion --------
	s.engine.POST("/ingest", s.IngestRateLimit(), s.IngestReport)
	s.engine.POST("/ingestCounts", s.IngestRateLimit(), s.IngestReport)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminAuthRequired())

	// -------- Site Tokens --------
	admin.POST("/site-tokens", s.IssueSiteToken)
	admin.GET("/site-tokens", s.authorizeOrgAction(authorization.ObjectSiteToken, authorization.ActionSiteTokenView), s.ListSiteTokens)

	// -------- Cameras --------
	admin.GET("/cameras", s.authorizeOrgAction(authorization.ObjectCamera, authorization.ActionCameraView), s.ListCameras)
	admin.POST("/cameras/bind", s.BindCamera)

	// -------- Reports --------
	admin.GET("/orgs/:org_id/reports/stream", s.authorizeOrgAction(authorization.ObjectReport, authorization.ActionReportView), s.StreamOrgReports)

	admin.GET("/audit-logs", s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- API Keys --------
	admin.GET("/api-keys", s.authorizePlatformAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	admin.POST("/api-keys", s.authorizePlatformAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	admin.DELETE("/api-keys/:key_id", s.authorizePlatformAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
