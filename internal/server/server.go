package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/trialgate/internal/authorization"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability"
	obsmiddleware "github.com/smallbiznis/trialgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/trialgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/trialgate/internal/observability/tracing"
	overview "github.com/smallbiznis/trialgate/internal/overview/domain"
	"github.com/smallbiznis/trialgate/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	authorization.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if len(cfg.Admin.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.Admin.CORSOrigins
		corsCfg.AddAllowHeaders(headerAPIKey, "X-Request-Id")
		r.Use(cors.New(corsCfg))
	}
	r.Use(obsmiddleware.GinMiddleware(log.Named("http"), obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
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

// JobRunner triggers scheduler sweeps on demand.
type JobRunner interface {
	RunJob(ctx context.Context, name string) (bool, error)
	JobNames() []string
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	policy      *config.MembershipPolicyHolder
	memberSvc   memberdomain.Service
	inviteSvc   invitedomain.Service
	inviteRepo  invitedomain.Repository
	notifier    notification.Sender
	authzSvc    authorization.Service
	overviewSvc overview.Service
	apiKeys     []apiKey
	jobs        JobRunner
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	Policy      *config.MembershipPolicyHolder
	MemberSvc   memberdomain.Service
	InviteSvc   invitedomain.Service
	InviteRepo  invitedomain.Repository
	Notifier    notification.Sender
	AuthzSvc    authorization.Service
	OverviewSvc overview.Service

	Scheduler *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("http.server"),
		policy:      p.Policy,
		memberSvc:   p.MemberSvc,
		inviteSvc:   p.InviteSvc,
		inviteRepo:  p.InviteRepo,
		notifier:    p.Notifier,
		authzSvc:    p.AuthzSvc,
		overviewSvc: p.OverviewSvc,
		apiKeys:     loadAPIKeys(p.Cfg.Admin.APIKeys),
	}
	if p.Scheduler != nil {
		svc.jobs = p.Scheduler
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	// -------- Members --------
	api.POST("/members", s.authorize(authorization.ObjectMember, authorization.ActionMemberRegister), s.RegisterMember)
	api.GET("/members/:subject_id/status", s.authorize(authorization.ObjectMember, authorization.ActionMemberView), s.GetMemberStatus)
	api.GET("/members/:subject_id/invites", s.authorize(authorization.ObjectInvite, authorization.ActionInviteView), s.ListMemberInvites)
	api.POST("/members/:subject_id/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRecord), s.RecordPayment)

	// -------- Invites --------
	api.GET("/invites", s.authorize(authorization.ObjectInvite, authorization.ActionInviteView), s.ListInvites)
	api.POST("/invites", s.authorize(authorization.ObjectInvite, authorization.ActionInviteIssue), s.IssueInvite)
	api.GET("/invites/check", s.authorize(authorization.ObjectInvite, authorization.ActionInviteCheck), s.CheckInviteLink)

	// -------- Stats --------
	api.GET("/stats", s.authorize(authorization.ObjectStats, authorization.ActionStatsView), s.GetStats)
	api.GET("/stats/expiring", s.authorize(authorization.ObjectStats, authorization.ActionStatsView), s.ListExpiring)

	// -------- Jobs --------
	api.GET("/jobs", s.authorize(authorization.ObjectJob, authorization.ActionJobRun), s.ListJobs)
	api.POST("/jobs/:job/run", s.authorize(authorization.ObjectJob, authorization.ActionJobRun), s.RunJob)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
