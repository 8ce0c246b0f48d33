package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	auditdomain "github.com/brokerdesk/callbonus/internal/audit/domain"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectDepositCall = "deposit_call"
	ObjectDeclaration = "declaration"
	ObjectLedger      = "ledger_table"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionDepositCallView     = "deposit_call.view"
	ActionDepositCallCreate   = "deposit_call.create"
	ActionDepositCallSchedule = "deposit_call.schedule"
	ActionDepositCallMarkDone = "deposit_call.mark_done"
	ActionDepositCallReview   = "deposit_call.review"
	ActionDepositCallAssign   = "deposit_call.assign"
	ActionDepositCallCancel   = "deposit_call.cancel"

	ActionDeclarationView    = "declaration.view"
	ActionDeclarationCreate  = "declaration.create"
	ActionDeclarationApprove = "declaration.approve"
	ActionDeclarationReject  = "declaration.reject"
	ActionDeclarationDelete  = "declaration.delete"
	ActionDeclarationReverse = "declaration.reverse"

	ActionLedgerView = "ledger_table.view"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor actorctx.Actor, object string, action string) error {
	if strings.TrimSpace(actor.ID) == "" || strings.TrimSpace(actor.Role) == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actor.ID)
	roleName := fmt.Sprintf("role:%s", strings.ToLower(actor.Role))
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps a user's casbin grouping aligned with the role carried
// on the request. A user whose role changed gets the stale grouping removed.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor actorctx.Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	actorID := actor.ID
	_ = s.auditSvc.AuditLog(ctx, actor.Role, &actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   actor.Role,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Agents work their own records and declarations.
		{"role:agent", ObjectDepositCall, ActionDepositCallView},
		{"role:agent", ObjectDepositCall, ActionDepositCallSchedule},
		{"role:agent", ObjectDepositCall, ActionDepositCallMarkDone},
		{"role:agent", ObjectDeclaration, ActionDeclarationView},
		{"role:agent", ObjectDeclaration, ActionDeclarationCreate},
		{"role:agent", ObjectDeclaration, ActionDeclarationDelete},

		// Affiliate managers additionally review.
		{"role:affiliate_manager", ObjectDepositCall, ActionDepositCallView},
		{"role:affiliate_manager", ObjectDepositCall, ActionDepositCallCreate},
		{"role:affiliate_manager", ObjectDepositCall, ActionDepositCallSchedule},
		{"role:affiliate_manager", ObjectDepositCall, ActionDepositCallMarkDone},
		{"role:affiliate_manager", ObjectDepositCall, ActionDepositCallReview},
		{"role:affiliate_manager", ObjectDeclaration, ActionDeclarationView},
		{"role:affiliate_manager", ObjectDeclaration, ActionDeclarationCreate},
		{"role:affiliate_manager", ObjectDeclaration, ActionDeclarationApprove},
		{"role:affiliate_manager", ObjectDeclaration, ActionDeclarationReject},
		{"role:affiliate_manager", ObjectLedger, ActionLedgerView},

		// Admin permissions
		{"role:admin", ObjectDepositCall, ActionDepositCallView},
		{"role:admin", ObjectDepositCall, ActionDepositCallCreate},
		{"role:admin", ObjectDepositCall, ActionDepositCallSchedule},
		{"role:admin", ObjectDepositCall, ActionDepositCallMarkDone},
		{"role:admin", ObjectDepositCall, ActionDepositCallReview},
		{"role:admin", ObjectDepositCall, ActionDepositCallAssign},
		{"role:admin", ObjectDepositCall, ActionDepositCallCancel},
		{"role:admin", ObjectDeclaration, ActionDeclarationView},
		{"role:admin", ObjectDeclaration, ActionDeclarationCreate},
		{"role:admin", ObjectDeclaration, ActionDeclarationApprove},
		{"role:admin", ObjectDeclaration, ActionDeclarationReject},
		{"role:admin", ObjectDeclaration, ActionDeclarationDelete},
		{"role:admin", ObjectDeclaration, ActionDeclarationReverse},
		{"role:admin", ObjectLedger, ActionLedgerView},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
