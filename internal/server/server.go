package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/contentfin/internal/audit"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	"github.com/smallbiznis/contentfin/internal/authorization"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/engine"
	"github.com/smallbiznis/contentfin/internal/fact"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	"github.com/smallbiznis/contentfin/internal/feedback"
	feedbackdomain "github.com/smallbiznis/contentfin/internal/feedback/domain"
	"github.com/smallbiznis/contentfin/internal/kpi"
	"github.com/smallbiznis/contentfin/internal/lock"
	"github.com/smallbiznis/contentfin/internal/observability"
	obsmiddleware "github.com/smallbiznis/contentfin/internal/observability/logger"
	obstracing "github.com/smallbiznis/contentfin/internal/observability/tracing"
	"github.com/smallbiznis/contentfin/internal/ratelimit"
	"github.com/smallbiznis/contentfin/internal/recompute"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	"github.com/smallbiznis/contentfin/internal/rule"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the governance API. It expects config, observability, db and
// clock to be provided by the binary.
var Module = fx.Module("http.server",
	authorization.Module,
	audit.Module,
	rule.Module,
	fact.Module,
	kpi.Module,
	engine.Module,
	recompute.Module,
	lock.Module,
	ratelimit.Module,
	feedback.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	engine       *gin.Engine
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	feedbackSvc  feedbackdomain.Service
	ruleSvc      ruledomain.Resolver
	recomputeSvc recomputedomain.Enqueuer
	factReader   factdomain.Reader
	limiter      *ratelimit.SubmissionLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	FeedbackSvc  feedbackdomain.Service
	RuleSvc      ruledomain.Service
	RecomputeSvc recomputedomain.Service
	FactReader   factdomain.Reader
	Limiter      *ratelimit.SubmissionLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		db:           p.DB,
		log:          p.Log.Named("http.server"),
		clock:        p.Clock,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		feedbackSvc:  p.FeedbackSvc,
		ruleSvc:      p.RuleSvc,
		recomputeSvc: p.RecomputeSvc,
		factReader:   p.FactReader,
		limiter:      p.Limiter,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.ActorRequired())

	// -------- Feedback --------
	api.POST("/feedback", s.FeedbackSubmitRateLimit(), s.SubmitFeedback)
	api.GET("/feedback", s.SearchFeedback)
	api.GET("/feedback/summary", s.FeedbackSummary)
	api.GET("/feedback/:id", s.GetFeedback)
	api.GET("/feedback/:id/impact", s.AnalyzeFeedbackImpact)
	api.POST("/feedback/:id/approve", s.ApproveFeedback)
	api.POST("/feedback/:id/reject", s.RejectFeedback)
	api.POST("/feedback/:id/apply", s.ApplyFeedback)

	// -------- Audit --------
	api.GET("/audit", s.authorizeAction(authorization.ObjectAudit, authorization.ActionAuditView), s.ListAuditLogs)

	// -------- Rules --------
	api.GET("/rules/resolve", s.authorizeAction(authorization.ObjectRule, authorization.ActionRuleView), s.ResolveRule)
	api.GET("/definitions", s.ListDefinitions)

	// -------- Recompute --------
	api.POST("/recompute", s.authorizeAction(authorization.ObjectRecompute, authorization.ActionRecomputeRun), s.RequestRecompute)
}
