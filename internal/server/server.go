package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/loyalty/internal/account"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/auditor"
	auditordomain "github.com/smallbiznis/loyalty/internal/auditor/domain"
	"github.com/smallbiznis/loyalty/internal/cancellation"
	cancellationdomain "github.com/smallbiznis/loyalty/internal/cancellation/domain"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/ledger"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/observability"
	obsmiddleware "github.com/smallbiznis/loyalty/internal/observability/logger"
	obstracing "github.com/smallbiznis/loyalty/internal/observability/tracing"
	"github.com/smallbiznis/loyalty/internal/order"
	orderdomain "github.com/smallbiznis/loyalty/internal/order/domain"
	"github.com/smallbiznis/loyalty/internal/orderpoints"
	orderpointsdomain "github.com/smallbiznis/loyalty/internal/orderpoints/domain"
	"github.com/smallbiznis/loyalty/internal/reconcile"
	reconciledomain "github.com/smallbiznis/loyalty/internal/reconcile/domain"
	"github.com/smallbiznis/loyalty/pkg/redislock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	account.Module,
	order.Module,
	ledger.Module,
	reconcile.Module,
	orderpoints.Module,
	cancellation.Module,
	auditor.Module,
	redislock.Module,
	fx.Invoke(NewServer),
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

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	accountRepo     accountdomain.Repository
	orderRepo       orderdomain.Repository
	ledgerSvc       ledgerdomain.Service
	reconcileSvc    reconciledomain.Service
	orderPointsSvc  orderpointsdomain.Service
	cancellationSvc cancellationdomain.Service
	auditorSvc      auditordomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	AccountRepo     accountdomain.Repository
	OrderRepo       orderdomain.Repository
	LedgerSvc       ledgerdomain.Service
	ReconcileSvc    reconciledomain.Service
	OrderPointsSvc  orderpointsdomain.Service
	CancellationSvc cancellationdomain.Service
	AuditorSvc      auditordomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		accountRepo:     p.AccountRepo,
		orderRepo:       p.OrderRepo,
		ledgerSvc:       p.LedgerSvc,
		reconcileSvc:    p.ReconcileSvc,
		orderPointsSvc:  p.OrderPointsSvc,
		cancellationSvc: p.CancellationSvc,
		auditorSvc:      p.AuditorSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/accounts", s.CreateAccount)
	api.GET("/accounts/:id", s.GetAccount)

	api.POST("/orders", s.CreateOrder)
	api.POST("/orders/:id/points", s.ProcessOrderPoints)
	api.POST("/orders/:id/cancel", s.CancelOrder)

	api.GET("/users/:id/points/validate", s.ValidateUserPoints)
	api.POST("/users/:id/points/fix", s.FixUserPoints)
	api.GET("/users/:id/points/history", s.UserPointsHistory)

	api.POST("/points/audit", s.AuditAllUserPoints)
	api.POST("/points/audit/fix", s.FixAllUserPoints)
}
