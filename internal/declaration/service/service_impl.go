package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	auditdomain "github.com/brokerdesk/callbonus/internal/audit/domain"
	"github.com/brokerdesk/callbonus/internal/authorization"
	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/config"
	"github.com/brokerdesk/callbonus/internal/declaration/domain"
	depositcalldomain "github.com/brokerdesk/callbonus/internal/depositcall/domain"
	leaddomain "github.com/brokerdesk/callbonus/internal/lead/domain"
	ledgerdomain "github.com/brokerdesk/callbonus/internal/ledger/domain"
	"github.com/brokerdesk/callbonus/internal/observability/metrics"
	orderdomain "github.com/brokerdesk/callbonus/internal/order/domain"
	"github.com/brokerdesk/callbonus/internal/ratelimit"
	"github.com/brokerdesk/callbonus/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Rates        *config.BonusConfigHolder
	Repo         domain.Repository
	Leads        leaddomain.Repository
	Orders       orderdomain.Repository
	DepositCalls depositcalldomain.Repository
	Ledger       ledgerdomain.Service
	Authz        authorization.Service
	Audit        auditdomain.Service          `optional:"true"`
	Metrics      *metrics.Metrics             `optional:"true"`
	Limiter      *ratelimit.DeclarationLimiter `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	rates        *config.BonusConfigHolder
	repo         domain.Repository
	leads        leaddomain.Repository
	orders       orderdomain.Repository
	depositCalls depositcalldomain.Repository
	ledger       ledgerdomain.Service
	authz        authorization.Service
	audit        auditdomain.Service
	metrics      *metrics.Metrics
	limiter      *ratelimit.DeclarationLimiter
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("declaration.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		rates:        p.Rates,
		repo:         p.Repo,
		leads:        p.Leads,
		orders:       p.Orders,
		depositCalls: p.DepositCalls,
		ledger:       p.Ledger,
		authz:        p.Authz,
		audit:        p.Audit,
		metrics:      p.Metrics,
		limiter:      p.Limiter,
	}
}

func (s *Service) authorize(ctx context.Context, action string) (actorctx.Actor, error) {
	actor, ok := actorctx.FromContext(ctx)
	if !ok {
		return actorctx.Actor{}, domain.ErrForbidden
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectDeclaration, action); err != nil {
		return actorctx.Actor{}, domain.ErrForbidden
	}
	return actor, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Declaration, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationCreate)
	if err != nil {
		return nil, err
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowAgent(ctx, actor.ID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			s.metrics.RecordRateLimitDenied()
			return nil, domain.ErrRateLimited
		}
	}

	cdrCallID := strings.TrimSpace(req.CDRCallID)
	affiliateManager := strings.TrimSpace(req.AffiliateManager)
	if cdrCallID == "" || affiliateManager == "" || req.LeadID == 0 || req.CallDate.IsZero() {
		return nil, domain.ErrMissingFields
	}
	if !req.CallCategory.Valid() {
		return nil, domain.ErrInvalidCategory
	}
	if req.CallCategory == calltype.CategoryFTD && !req.CallType.Valid() {
		return nil, domain.ErrInvalidCallType
	}
	if req.CallType != "" && !req.CallType.Valid() {
		return nil, domain.ErrInvalidCallType
	}
	// Deposit bonuses are declared by the account manager while confirming
	// the deposit, never through the agent submission path.
	if req.CallType == calltype.Deposit && actor.IsAgent() {
		return nil, domain.ErrDepositNotDeclarable
	}

	rates := s.rates.Get()
	if !rates.Qualifies(req.CallDuration) {
		return nil, domain.ErrCallTooShort
	}

	lead, err := s.leads.FindByID(ctx, s.db, req.LeadID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, domain.ErrInvalidLead
	}
	if actor.IsAgent() && lead.AssignedAgent != actor.ID {
		return nil, domain.ErrLeadNotAssigned
	}

	if existing, err := s.repo.FindActiveByCDR(ctx, s.db, cdrCallID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domain.ErrAlreadyDeclared
	}

	depositCallID, orderID, err := s.resolveDepositCall(ctx, req, lead)
	if err != nil {
		return nil, err
	}

	bonus := rates.Compute(req.CallType, req.CallCategory, req.CallDuration)
	callDate := req.CallDate.UTC()
	now := s.clock.Now()

	declaration := &domain.Declaration{
		ID:               s.genID.Generate(),
		AgentID:          actor.ID,
		AffiliateManager: affiliateManager,
		LeadID:           req.LeadID,
		OrderID:          orderID,
		DepositCallID:    depositCallID,

		CDRCallID:         cdrCallID,
		CallDate:          callDate,
		CallDuration:      req.CallDuration,
		SourceNumber:      strings.TrimSpace(req.SourceNumber),
		DestinationNumber: strings.TrimSpace(req.DestinationNumber),
		LineNumber:        strings.TrimSpace(req.LineNumber),
		CallType:          req.CallType,
		CallCategory:      req.CallCategory,
		Description:       strings.TrimSpace(req.Description),
		RecordFile:        strings.TrimSpace(req.RecordFile),

		BaseBonus:   bonus.Base,
		HourlyBonus: bonus.Hourly,
		TotalBonus:  bonus.Total,

		DeclarationMonth: int(callDate.Month()),
		DeclarationYear:  callDate.Year(),

		Status:    domain.StatusPending,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, declaration); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyDeclared
		}
		return nil, err
	}

	s.metrics.RecordDeclarationCreated(string(declaration.CallType), string(declaration.CallCategory))
	s.auditLog(ctx, actor, "declaration.created", declaration.ID, map[string]any{
		"cdrCallId":  declaration.CDRCallID,
		"callType":   string(declaration.CallType),
		"category":   string(declaration.CallCategory),
		"totalBonus": declaration.TotalBonus,
	})
	return declaration, nil
}

// resolveDepositCall binds the declaration to the lead's confirmed deposit
// record. An explicit deposit call must be one of the lead's confirmed
// records; otherwise the first confirmed record that has no active
// declaration of this call type yet is picked. Filler calls are never bound.
func (s *Service) resolveDepositCall(ctx context.Context, req domain.CreateRequest, lead *leaddomain.Lead) (*snowflake.ID, *snowflake.ID, error) {
	if req.CallCategory != calltype.CategoryFTD {
		return nil, req.OrderID, nil
	}

	// A deposit declaration binds the as yet unconfirmed record it will
	// confirm on approval.
	if req.CallType == calltype.Deposit {
		if req.DepositCallID != nil {
			return req.DepositCallID, req.OrderID, nil
		}
		active, err := s.depositCalls.FindActiveForLead(ctx, s.db, req.LeadID, lead.Email)
		if err != nil {
			return nil, nil, err
		}
		for _, record := range active {
			if req.OrderID != nil && (record.OrderID == nil || *record.OrderID != *req.OrderID) {
				continue
			}
			if record.DepositConfirmed {
				continue
			}
			id := record.ID
			return &id, orderIDOf(record, req.OrderID), nil
		}
		return nil, req.OrderID, nil
	}

	confirmed, err := s.depositCalls.FindConfirmedForLead(ctx, s.db, req.LeadID, lead.Email)
	if err != nil {
		return nil, nil, err
	}

	if req.DepositCallID != nil {
		for _, record := range confirmed {
			if record.ID == *req.DepositCallID {
				return req.DepositCallID, orderIDOf(record, req.OrderID), nil
			}
		}
		return nil, nil, domain.ErrNoConfirmedDeposit
	}

	for _, record := range confirmed {
		if req.OrderID != nil && (record.OrderID == nil || *record.OrderID != *req.OrderID) {
			continue
		}
		exists, err := s.repo.ActiveTypeExistsForDepositCall(ctx, s.db, record.ID, req.CallType)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			id := record.ID
			return &id, orderIDOf(record, req.OrderID), nil
		}
	}
	return nil, req.OrderID, nil
}

func orderIDOf(record *depositcalldomain.DepositCall, fallback *snowflake.ID) *snowflake.ID {
	if record.OrderID != nil {
		return record.OrderID
	}
	return fallback
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Declaration, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationView)
	if err != nil {
		return nil, err
	}

	declaration, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if declaration == nil || !declaration.IsActive {
		return nil, domain.ErrNotFound
	}
	if actor.IsAgent() && declaration.AgentID != actor.ID {
		return nil, domain.ErrForbidden
	}
	if actor.IsAffiliateManager() && declaration.AffiliateManager != actor.ID {
		return nil, domain.ErrForbidden
	}
	return declaration, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Declaration, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationView)
	if err != nil {
		return nil, err
	}

	if actor.IsAgent() {
		filter.AgentID = actor.ID
	}
	if actor.IsAffiliateManager() {
		filter.AffiliateManager = actor.ID
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) PendingForReviewer(ctx context.Context) ([]*domain.Declaration, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationApprove)
	if err != nil {
		return nil, err
	}

	filter := domain.ListFilter{Status: domain.StatusPending}
	if actor.IsAffiliateManager() {
		filter.AffiliateManager = actor.ID
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) MonthlyTotals(ctx context.Context, agentID string, month, year int) (*domain.MonthlyTotals, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationView)
	if err != nil {
		return nil, err
	}
	if actor.IsAgent() {
		agentID = actor.ID
	}
	if agentID == "" {
		return nil, domain.ErrMissingFields
	}

	declarations, err := s.repo.ApprovedForPeriod(ctx, s.db, agentID, month, year)
	if err != nil {
		return nil, err
	}
	return summarize(agentID, month, year, declarations), nil
}

func (s *Service) AllAgentsMonthlyTotals(ctx context.Context, month, year int) ([]*domain.MonthlyTotals, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationView)
	if err != nil {
		return nil, err
	}
	if actor.IsAgent() {
		return nil, domain.ErrForbidden
	}

	declarations, err := s.repo.ApprovedForPeriod(ctx, s.db, "", month, year)
	if err != nil {
		return nil, err
	}

	byAgent := make(map[string][]*domain.Declaration)
	for _, declaration := range declarations {
		byAgent[declaration.AgentID] = append(byAgent[declaration.AgentID], declaration)
	}

	out := make([]*domain.MonthlyTotals, 0, len(byAgent))
	for agentID, items := range byAgent {
		out = append(out, summarize(agentID, month, year, items))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func summarize(agentID string, month, year int, declarations []*domain.Declaration) *domain.MonthlyTotals {
	totals := &domain.MonthlyTotals{
		AgentID: agentID,
		Month:   month,
		Year:    year,
		ByType:  make(map[string]domain.TypeTotals),
	}
	for _, declaration := range declarations {
		totals.BaseBonus = calltype.RoundCents(totals.BaseBonus + declaration.BaseBonus)
		totals.HourlyBonus = calltype.RoundCents(totals.HourlyBonus + declaration.HourlyBonus)
		totals.TotalBonus = calltype.RoundCents(totals.TotalBonus + declaration.TotalBonus)
		totals.DurationSeconds += declaration.CallDuration

		key := string(declaration.CallType)
		if key == "" {
			key = string(declaration.CallCategory)
		}
		byType := totals.ByType[key]
		byType.Count++
		byType.TotalBonus = calltype.RoundCents(byType.TotalBonus + declaration.TotalBonus)
		totals.ByType[key] = byType
	}
	return totals
}

func (s *Service) PreviewBonus(ctx context.Context, callType calltype.Type, category calltype.Category, durationSeconds int64) (calltype.Bonus, error) {
	if _, err := s.authorize(ctx, authorization.ActionDeclarationView); err != nil {
		return calltype.Bonus{}, err
	}
	if !category.Valid() {
		return calltype.Bonus{}, domain.ErrInvalidCategory
	}
	if callType != "" && !callType.Valid() {
		return calltype.Bonus{}, domain.ErrInvalidCallType
	}
	return s.rates.Get().Compute(callType, category, durationSeconds), nil
}

// loadReviewable fetches a declaration the actor may approve or reject.
func (s *Service) loadReviewable(ctx context.Context, actor actorctx.Actor, id snowflake.ID) (*domain.Declaration, error) {
	declaration, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if declaration == nil || !declaration.IsActive {
		return nil, domain.ErrNotFound
	}
	if !actor.IsAdmin() && declaration.AffiliateManager != actor.ID {
		return nil, domain.ErrForbidden
	}
	if !declaration.Reviewable() {
		return nil, domain.ErrAlreadyReviewed
	}
	return declaration, nil
}

func (s *Service) Approve(ctx context.Context, req domain.ReviewRequest) (*domain.Declaration, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationApprove)
	if err != nil {
		return nil, err
	}

	declaration, err := s.loadReviewable(ctx, actor, req.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	// Ledger and slot postings are best effort. A failure leaves the
	// approval standing and is reconciled manually from the logs.
	s.postLedger(ctx, declaration, 1)
	s.applyCallOutcome(ctx, declaration, actor, now)

	declaration.Status = domain.StatusApproved
	declaration.ReviewedBy = actor.ID
	declaration.ReviewedAt = &now
	declaration.ReviewNotes = strings.TrimSpace(req.Notes)
	declaration.UpdatedAt = now
	if err := s.repo.Save(ctx, s.db, declaration); err != nil {
		return nil, err
	}

	s.metrics.RecordDeclarationReviewed("approved")
	s.auditLog(ctx, actor, "declaration.approved", declaration.ID, map[string]any{
		"agentId":    declaration.AgentID,
		"totalBonus": declaration.TotalBonus,
	})
	return declaration, nil
}

func (s *Service) Reject(ctx context.Context, req domain.ReviewRequest) (*domain.Declaration, error) {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationReject)
	if err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return nil, domain.ErrNotesRequired
	}

	declaration, err := s.loadReviewable(ctx, actor, req.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	declaration.Status = domain.StatusRejected
	declaration.ReviewedBy = actor.ID
	declaration.ReviewedAt = &now
	declaration.ReviewNotes = notes
	declaration.UpdatedAt = now
	if err := s.repo.Save(ctx, s.db, declaration); err != nil {
		return nil, err
	}

	s.metrics.RecordDeclarationReviewed("rejected")
	s.auditLog(ctx, actor, "declaration.rejected", declaration.ID, map[string]any{
		"agentId": declaration.AgentID,
		"notes":   notes,
	})
	return declaration, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	actor, err := s.authorize(ctx, authorization.ActionDeclarationDelete)
	if err != nil {
		return err
	}

	declaration, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if declaration == nil || !declaration.IsActive {
		return domain.ErrNotFound
	}
	if !actor.IsAdmin() {
		if declaration.AgentID != actor.ID || declaration.Status != domain.StatusPending {
			return domain.ErrForbidden
		}
	}

	declaration.IsActive = false
	declaration.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, s.db, declaration); err != nil {
		return err
	}

	s.auditLog(ctx, actor, "declaration.deleted", declaration.ID, nil)
	return nil
}

// postLedger credits (sign=1) or would debit the monthly table for a
// declaration. Filler and zero-bonus declarations never touch the ledger.
func (s *Service) postLedger(ctx context.Context, declaration *domain.Declaration, sign int64) {
	if declaration.TotalBonus <= 0 {
		return
	}
	rowID, err := declaration.CallType.LedgerRowID()
	if err != nil {
		s.log.Warn("no ledger row for call type",
			zap.String("declaration_id", declaration.ID.String()),
			zap.String("call_type", string(declaration.CallType)))
		return
	}

	deltas := []ledgerdomain.RowDelta{
		{RowID: rowID, CountDelta: sign, ValueDelta: float64(sign) * declaration.TotalBonus},
		{RowID: calltype.TalkingTimeRowID, ValueDelta: float64(sign) * calltype.Hours(declaration.CallDuration)},
	}
	if _, err := s.ledger.Adjust(ctx, declaration.AffiliateManager, declaration.DeclarationMonth, declaration.DeclarationYear, deltas); err != nil {
		s.log.Warn("ledger posting failed",
			zap.String("declaration_id", declaration.ID.String()),
			zap.String("affiliate_manager", declaration.AffiliateManager),
			zap.Error(err))
	}
}

// applyCallOutcome pushes the approval into the deposit call record: deposit
// declarations confirm the deposit, slot-mapped calls complete their slot.
func (s *Service) applyCallOutcome(ctx context.Context, declaration *domain.Declaration, actor actorctx.Actor, now time.Time) {
	if declaration.CallCategory != calltype.CategoryFTD {
		return
	}

	if declaration.CallType == calltype.Deposit {
		s.confirmDeposit(ctx, declaration, actor, now)
		return
	}

	slot, ok := declaration.CallType.SlotNumber()
	if !ok {
		return
	}
	record, err := s.boundDepositCall(ctx, declaration)
	if err != nil || record == nil {
		if err != nil {
			s.log.Warn("deposit call lookup failed", zap.String("declaration_id", declaration.ID.String()), zap.Error(err))
		}
		return
	}
	if err := record.CompleteFromDeclaration(slot, actor.ID, now); err != nil {
		s.log.Warn("slot completion failed",
			zap.String("declaration_id", declaration.ID.String()),
			zap.Int("slot", slot),
			zap.Error(err))
		return
	}
	record.UpdatedAt = now
	if err := s.depositCalls.Save(ctx, s.db, record); err != nil {
		s.log.Warn("slot completion save failed", zap.String("deposit_call_id", record.ID.String()), zap.Error(err))
		return
	}
	s.metrics.RecordSlotTransition("completed_from_declaration")
}

func (s *Service) confirmDeposit(ctx context.Context, declaration *domain.Declaration, actor actorctx.Actor, now time.Time) {
	record, err := s.depositCallForConfirmation(ctx, declaration)
	if err != nil || record == nil {
		if err != nil {
			s.log.Warn("deposit call lookup failed", zap.String("declaration_id", declaration.ID.String()), zap.Error(err))
		}
		return
	}

	record.DepositConfirmed = true
	record.DepositConfirmedBy = actor.ID
	record.DepositConfirmedAt = &now
	id := declaration.ID
	record.DepositDeclarationID = &id
	record.UpdatedAt = now
	if err := s.depositCalls.Save(ctx, s.db, record); err != nil {
		s.log.Warn("deposit confirmation save failed", zap.String("deposit_call_id", record.ID.String()), zap.Error(err))
		return
	}

	if record.OrderID == nil {
		return
	}
	order, err := s.orders.FindByID(ctx, s.db, *record.OrderID)
	if err != nil || order == nil {
		if err != nil {
			s.log.Warn("order lookup failed", zap.String("order_id", record.OrderID.String()), zap.Error(err))
		}
		return
	}
	order.ConfirmDeposit(record.LeadID, actor.ID, "", "", now)
	order.UpdatedAt = now
	if err := s.orders.Save(ctx, s.db, order); err != nil {
		s.log.Warn("order confirmation save failed", zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}

// depositCallForConfirmation finds the record a deposit declaration should
// confirm: the pinned record, or the lead's first unconfirmed active one.
func (s *Service) depositCallForConfirmation(ctx context.Context, declaration *domain.Declaration) (*depositcalldomain.DepositCall, error) {
	if declaration.DepositCallID != nil {
		return s.depositCalls.FindByID(ctx, s.db, *declaration.DepositCallID)
	}

	lead, err := s.leads.FindByID(ctx, s.db, declaration.LeadID)
	if err != nil {
		return nil, err
	}
	email := ""
	if lead != nil {
		email = lead.Email
	}
	active, err := s.depositCalls.FindActiveForLead(ctx, s.db, declaration.LeadID, email)
	if err != nil {
		return nil, err
	}
	for _, record := range active {
		if declaration.OrderID != nil && (record.OrderID == nil || *record.OrderID != *declaration.OrderID) {
			continue
		}
		if record.DepositConfirmed {
			continue
		}
		return record, nil
	}
	return nil, nil
}

// boundDepositCall resolves the deposit call a declaration refers to: the
// pinned record when set, otherwise the lead's confirmed record (narrowed by
// order when the declaration carries one).
func (s *Service) boundDepositCall(ctx context.Context, declaration *domain.Declaration) (*depositcalldomain.DepositCall, error) {
	if declaration.DepositCallID != nil {
		return s.depositCalls.FindByID(ctx, s.db, *declaration.DepositCallID)
	}

	lead, err := s.leads.FindByID(ctx, s.db, declaration.LeadID)
	if err != nil {
		return nil, err
	}
	email := ""
	if lead != nil {
		email = lead.Email
	}
	confirmed, err := s.depositCalls.FindConfirmedForLead(ctx, s.db, declaration.LeadID, email)
	if err != nil {
		return nil, err
	}
	for _, record := range confirmed {
		if declaration.OrderID != nil && (record.OrderID == nil || *record.OrderID != *declaration.OrderID) {
			continue
		}
		return record, nil
	}
	return nil, nil
}

func (s *Service) auditLog(ctx context.Context, actor actorctx.Actor, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	target := targetID.String()
	actorID := actor.ID
	if err := s.audit.AuditLog(ctx, string(auditdomain.ActorTypeUser), &actorID, action, "declaration", &target, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
