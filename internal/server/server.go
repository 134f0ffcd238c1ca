// Package server exposes the HTTP surface: usage ingestion, balance reads,
// credit management, and API key lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	apikeydomain "github.com/smallbiznis/flowline/internal/apikey/domain"
	"github.com/smallbiznis/flowline/internal/config"
	creditdomain "github.com/smallbiznis/flowline/internal/credit/domain"
	"github.com/smallbiznis/flowline/internal/identity"
	orgservice "github.com/smallbiznis/flowline/internal/organization/service"
	"github.com/smallbiznis/flowline/internal/ratelimit"
	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
)

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	resolver     *identity.Resolver
	usageSvc     usagedomain.Service
	creditSvc    creditdomain.Service
	apiKeySvc    apikeydomain.Service
	orgSvc       *orgservice.Service
	usageLimiter *ratelimit.UsageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Resolver     *identity.Resolver
	UsageSvc     usagedomain.Service
	CreditSvc    creditdomain.Service
	APIKeySvc    apikeydomain.Service
	OrgSvc       *orgservice.Service
	UsageLimiter *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		resolver:     p.Resolver,
		usageSvc:     p.UsageSvc,
		creditSvc:    p.CreditSvc,
		apiKeySvc:    p.APIKeySvc,
		orgSvc:       p.OrgSvc,
		usageLimiter: p.UsageLimiter,
	}

	s.registerAPIRoutes()

	return s
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.APIKeyRequired())

	v1.POST("/usage/events", s.RequireScope(apikeydomain.ScopeUsageWrite), s.IngestUsageEvent)

	v1.GET("/ledger/accounts/:id/balance", s.RequireScope(apikeydomain.ScopeLedgerRead), s.GetAccountBalance)

	v1.GET("/organization", s.GetOrganization)

	credits := v1.Group("/credits")
	credits.Use(s.RequireScope(apikeydomain.ScopeCreditsWrite))
	credits.POST("", s.GrantCredit)
	credits.POST("/adjust", s.AdjustCredit)

	keys := v1.Group("/api_keys")
	keys.GET("", s.ListAPIKeys)
	keys.POST("", s.CreateAPIKey)
	keys.POST("/:id/rotate", s.RotateAPIKey)
	keys.DELETE("/:id", s.RevokeAPIKey)
}

func NewEngine(cfg config.Config, log *zap.Logger, registry *prometheus.Registry) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	// The gorm prometheus plugin registers its pool stats with the default
	// registerer, so /metrics gathers both registries.
	gatherers := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
