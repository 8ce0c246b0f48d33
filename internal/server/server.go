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

	"github.com/brokerdesk/callbonus/internal/audit"
	auditdomain "github.com/brokerdesk/callbonus/internal/audit/domain"
	"github.com/brokerdesk/callbonus/internal/authorization"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/config"
	"github.com/brokerdesk/callbonus/internal/declaration"
	declarationdomain "github.com/brokerdesk/callbonus/internal/declaration/domain"
	"github.com/brokerdesk/callbonus/internal/depositcall"
	depositcalldomain "github.com/brokerdesk/callbonus/internal/depositcall/domain"
	"github.com/brokerdesk/callbonus/internal/lead"
	"github.com/brokerdesk/callbonus/internal/ledger"
	ledgerdomain "github.com/brokerdesk/callbonus/internal/ledger/domain"
	"github.com/brokerdesk/callbonus/internal/observability"
	"github.com/brokerdesk/callbonus/internal/order"
	"github.com/brokerdesk/callbonus/internal/ratelimit"
	"github.com/brokerdesk/callbonus/internal/reversal"
)

var Module = fx.Module("http.server",
	observability.Module,
	authorization.Module,
	audit.Module,
	lead.Module,
	order.Module,
	depositcall.Module,
	declaration.Module,
	ledger.Module,
	ratelimit.Module,
	reversal.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(registry *prometheus.Registry) *gin.Engine {
	return NewEngine(registry)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
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

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	clock          clock.Clock
	depositCallSvc depositcalldomain.Service
	declarationSvc declarationdomain.Service
	ledgerSvc      ledgerdomain.Service
	auditSvc       auditdomain.Service
	authzSvc       authorization.Service
	reversalEngine *reversal.Engine
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Clock          clock.Clock
	DepositCallSvc depositcalldomain.Service
	DeclarationSvc declarationdomain.Service
	LedgerSvc      ledgerdomain.Service
	AuditSvc       auditdomain.Service
	AuthzSvc       authorization.Service
	ReversalEngine *reversal.Engine
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		clock:          p.Clock,
		depositCallSvc: p.DepositCallSvc,
		declarationSvc: p.DeclarationSvc,
		ledgerSvc:      p.LedgerSvc,
		auditSvc:       p.AuditSvc,
		authzSvc:       p.AuthzSvc,
		reversalEngine: p.ReversalEngine,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.ActorRequired())

	// -------- Deposit Calls --------
	api.GET("/deposit-calls", s.ListDepositCalls)
	api.POST("/deposit-calls", s.CreateDepositCall)
	api.GET("/deposit-calls/:id", s.GetDepositCallByID)
	api.POST("/deposit-calls/:id/slots/:slot/schedule", s.ScheduleCall)
	api.POST("/deposit-calls/:id/slots/:slot/done", s.MarkCallDone)
	api.POST("/deposit-calls/:id/slots/:slot/approve", s.ApproveCall)
	api.POST("/deposit-calls/:id/slots/:slot/reject", s.RejectCall)
	api.POST("/deposit-calls/:id/slots/:slot/answered", s.MarkCallAnswered)
	api.POST("/deposit-calls/:id/slots/:slot/no-answer", s.MarkCallRejected)
	api.PATCH("/deposit-calls/:id/assignment", s.UpdateDepositCallAssignment)
	api.POST("/deposit-calls/:id/cancel", s.CancelDepositCall)

	// -------- Calendar / Review Queues --------
	api.GET("/appointments", s.ListAppointments)
	api.GET("/approvals/deposit-calls", s.ListPendingCallApprovals)
	api.GET("/approvals/declarations", s.ListPendingDeclarations)

	// -------- Declarations --------
	api.GET("/declarations", s.ListDeclarations)
	api.POST("/declarations", s.CreateDeclaration)
	api.GET("/declarations/:id", s.GetDeclarationByID)
	api.POST("/declarations/:id/approve", s.ApproveDeclaration)
	api.POST("/declarations/:id/reject", s.RejectDeclaration)
	api.DELETE("/declarations/:id", s.DeleteDeclaration)
	api.POST("/declarations/:id/reverse", s.authorizeAction(authorization.ObjectDeclaration, authorization.ActionDeclarationReverse), s.ReverseDeclaration)

	// -------- Bonuses --------
	api.GET("/bonuses/summary", s.GetBonusSummary)
	api.GET("/bonuses/preview", s.PreviewBonus)

	// -------- Ledger Tables --------
	api.GET("/ledger-tables", s.ListLedgerTables)
	api.GET("/ledger-tables/:accountManager", s.GetLedgerTable)

	// -------- Audit Logs --------
	api.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
