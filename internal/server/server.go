package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	analyticsdomain "github.com/smallbiznis/creditkit/internal/analytics/domain"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	authdomain "github.com/smallbiznis/creditkit/internal/auth/domain"
	"github.com/smallbiznis/creditkit/internal/auth/session"
	"github.com/smallbiznis/creditkit/internal/authorization"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	featureflagdomain "github.com/smallbiznis/creditkit/internal/featureflag/domain"
	"github.com/smallbiznis/creditkit/internal/observability"
	obsmiddleware "github.com/smallbiznis/creditkit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditkit/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditkit/internal/observability/tracing"
	"github.com/smallbiznis/creditkit/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
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

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
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

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	clock        clock.Clock
	sessions     *session.Manager
	authsvc      authdomain.Service
	accountSvc   accountdomain.Service
	creditSvc    creditdomain.Service
	flagSvc      featureflagdomain.Service
	analyticsSvc analyticsdomain.Service
	auditSvc     auditdomain.Service
	authzSvc     authorization.Service
	limiter      *ratelimit.Limiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Clock        clock.Clock
	Sessions     *session.Manager
	Authsvc      authdomain.Service
	AccountSvc   accountdomain.Service
	CreditSvc    creditdomain.Service
	FlagSvc      featureflagdomain.Service
	AnalyticsSvc analyticsdomain.Service
	AuditSvc     auditdomain.Service
	AuthzSvc     authorization.Service
	Limiter      *ratelimit.Limiter  `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		clock:        p.Clock,
		sessions:     p.Sessions,
		authsvc:      p.Authsvc,
		accountSvc:   p.AccountSvc,
		creditSvc:    p.CreditSvc,
		flagSvc:      p.FlagSvc,
		analyticsSvc: p.AnalyticsSvc,
		auditSvc:     p.AuditSvc,
		authzSvc:     p.AuthzSvc,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/magic-link", s.MagicLinkRateLimit(), s.RequestMagicLink)
	auth.GET("/magic-link/verify", s.VerifyMagicLink)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	credits := api.Group("/credits")
	{
		credits.GET("", s.authorize(authorization.ObjectCredits, authorization.ActionView), s.GetCredits)
		credits.GET("/transactions", s.authorize(authorization.ObjectCredits, authorization.ActionView), s.ListCreditTransactions)
		credits.POST("/spend", s.authorize(authorization.ObjectCredits, authorization.ActionSpend), s.SpendRateLimit(), s.SpendCredits)
	}

	features := api.Group("/features", s.authorize(authorization.ObjectFeatures, authorization.ActionView))
	{
		features.GET("", s.ListMyFeatures)
		features.GET("/:name", s.CheckFeature)
	}

	api.DELETE("/account", s.authorize(authorization.ObjectAccount, authorization.ActionDelete), s.DeleteMyAccount)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	accounts := admin.Group("/accounts")
	{
		view := s.authorize(authorization.ObjectAccounts, authorization.ActionView)
		manage := s.authorize(authorization.ObjectAccounts, authorization.ActionManage)

		accounts.GET("", view, s.ListAccounts)
		accounts.GET("/:id", view, s.GetAccount)
		accounts.PATCH("/:id/role", manage, s.UpdateAccountRole)
		accounts.PATCH("/:id/plan", manage, s.ChangeAccountPlan)
		accounts.POST("/:id/credits", s.authorize(authorization.ObjectCredits, authorization.ActionGrant), s.GrantCredits)
		accounts.GET("/:id/transactions", view, s.ListAccountTransactions)
		accounts.GET("/:id/ledger", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.VerifyAccountLedger)
		accounts.GET("/:id/features", view, s.ListAccountFeatures)
	}

	flags := admin.Group("/feature-flags")
	{
		view := s.authorize(authorization.ObjectFeatureFlags, authorization.ActionView)
		manage := s.authorize(authorization.ObjectFeatureFlags, authorization.ActionManage)

		flags.GET("", view, s.ListFeatureFlags)
		flags.POST("", manage, s.CreateFeatureFlag)
		flags.GET("/:id", view, s.GetFeatureFlag)
		flags.PATCH("/:id", manage, s.UpdateFeatureFlag)
		flags.DELETE("/:id", manage, s.DeleteFeatureFlag)
		flags.GET("/:id/accounts", view, s.ListFeatureFlagAccounts)
		flags.POST("/:id/accounts", manage, s.AssignFeatureFlag)
		flags.DELETE("/:id/accounts/:account_id", manage, s.UnassignFeatureFlag)
	}

	analytics := admin.Group("/analytics", s.authorize(authorization.ObjectAnalytics, authorization.ActionView))
	{
		analytics.GET("/overview", s.AnalyticsOverview)
		analytics.GET("/recent-accounts", s.RecentAccounts)
		analytics.GET("/recent-activity", s.RecentCreditActivity)
	}

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
	admin.GET("/ledger/drift", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.LedgerDrift)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
