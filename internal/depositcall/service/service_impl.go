package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	auditdomain "github.com/brokerdesk/callbonus/internal/audit/domain"
	"github.com/brokerdesk/callbonus/internal/audit/masking"
	"github.com/brokerdesk/callbonus/internal/authorization"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/depositcall/domain"
	leaddomain "github.com/brokerdesk/callbonus/internal/lead/domain"
	"github.com/brokerdesk/callbonus/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Leads   leaddomain.Repository
	Authz   authorization.Service
	Audit   auditdomain.Service `optional:"true"`
	Metrics *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	leads   leaddomain.Repository
	authz   authorization.Service
	audit   auditdomain.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("depositcall.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		leads:   p.Leads,
		authz:   p.Authz,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *Service) authorize(ctx context.Context, action string) (actorctx.Actor, error) {
	actor, ok := actorctx.FromContext(ctx)
	if !ok {
		return actorctx.Actor{}, domain.ErrForbidden
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectDepositCall, action); err != nil {
		return actorctx.Actor{}, domain.ErrForbidden
	}
	return actor, nil
}

// canTouch reports whether the actor may operate on this record. Agents are
// limited to records assigned to them; managers and admins see everything.
func canTouch(actor actorctx.Actor, record *domain.DepositCall) bool {
	if !actor.IsAgent() {
		return true
	}
	return record.AssignedAgent == actor.ID || record.AccountManager == actor.ID
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallCreate)
	if err != nil {
		return nil, err
	}

	ftdName := strings.TrimSpace(req.FTDName)
	ftdEmail := strings.TrimSpace(strings.ToLower(req.FTDEmail))
	ftdPhone := strings.TrimSpace(req.FTDPhone)

	if req.IsCustomRecord {
		if req.LeadID == 0 {
			if ftdEmail == "" {
				return nil, domain.ErrInvalidLead
			}
			// Custom records carry FTD contact by hand; link a known lead
			// when the email matches, otherwise mint a standalone id.
			lead, err := s.leads.FindByEmail(ctx, s.db, ftdEmail)
			if err != nil {
				return nil, err
			}
			if lead != nil {
				req.LeadID = lead.ID
				if ftdName == "" {
					ftdName = lead.FullName()
				}
				if ftdPhone == "" {
					ftdPhone = strings.TrimSpace(lead.Phone)
				}
			} else {
				req.LeadID = s.genID.Generate()
			}
		}
	} else {
		if req.LeadID == 0 {
			return nil, domain.ErrInvalidLead
		}
		lead, err := s.leads.FindByID(ctx, s.db, req.LeadID)
		if err != nil {
			return nil, err
		}
		if lead == nil {
			return nil, domain.ErrInvalidLead
		}
		if ftdName == "" {
			ftdName = lead.FullName()
		}
		if ftdEmail == "" {
			ftdEmail = strings.ToLower(strings.TrimSpace(lead.Email))
		}
		if ftdPhone == "" {
			ftdPhone = strings.TrimSpace(lead.Phone)
		}
	}

	now := s.clock.Now()
	record := &domain.DepositCall{
		ID:             s.genID.Generate(),
		LeadID:         req.LeadID,
		OrderID:        req.OrderID,
		IsCustomRecord: req.IsCustomRecord,
		AccountManager: strings.TrimSpace(req.AccountManager),
		AssignedAgent:  strings.TrimSpace(req.AssignedAgent),
		FTDName:        ftdName,
		FTDEmail:       ftdEmail,
		FTDPhone:       ftdPhone,
		Status:         domain.StatusActive,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range record.Slots {
		record.Slots[i].Status = domain.SlotPending
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.auditLog(ctx, actor, "deposit_call.created", record.ID, map[string]any{
		"leadId":   record.LeadID.String(),
		"ftdEmail": record.FTDEmail,
		"ftdPhone": record.FTDPhone,
	})
	return record, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallView)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if !canTouch(actor, record) {
		return nil, domain.ErrForbidden
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallView)
	if err != nil {
		return nil, err
	}

	// Agents only ever see their own book.
	if actor.IsAgent() {
		filter.AssignedAgent = actor.ID
	}
	return s.repo.List(ctx, s.db, filter)
}

// loadActive fetches an active record the actor may operate on.
func (s *Service) loadActive(ctx context.Context, actor actorctx.Actor, id snowflake.ID) (*domain.DepositCall, error) {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.StatusActive {
		return nil, domain.ErrNotActive
	}
	if !canTouch(actor, record) {
		return nil, domain.ErrForbidden
	}
	return record, nil
}

func (s *Service) ScheduleCall(ctx context.Context, req domain.ScheduleRequest) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallSchedule)
	if err != nil {
		return nil, err
	}
	if req.ExpectedDate.IsZero() {
		return nil, domain.ErrInvalidExpectedDate
	}

	record, err := s.loadActive(ctx, actor, req.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := record.Schedule(req.SlotNumber, req.ExpectedDate.UTC(), actor.ID, now); err != nil {
		return nil, err
	}
	record.UpdatedAt = now
	if err := s.repo.Save(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.metrics.RecordSlotTransition("scheduled")
	s.auditLog(ctx, actor, "deposit_call.slot_scheduled", record.ID, map[string]any{
		"slot":         req.SlotNumber,
		"expectedDate": req.ExpectedDate.UTC().Format(time.RFC3339),
	})
	return record, nil
}

func (s *Service) MarkCallDone(ctx context.Context, req domain.SlotActionRequest) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallMarkDone)
	if err != nil {
		return nil, err
	}

	record, err := s.loadActive(ctx, actor, req.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := record.MarkDone(req.SlotNumber, actor.ID, strings.TrimSpace(req.Notes), now); err != nil {
		return nil, err
	}
	record.UpdatedAt = now
	if err := s.repo.Save(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.metrics.RecordSlotTransition("pending_approval")
	s.auditLog(ctx, actor, "deposit_call.slot_marked_done", record.ID, map[string]any{
		"slot": req.SlotNumber,
	})
	return record, nil
}

func (s *Service) ApproveCall(ctx context.Context, req domain.SlotActionRequest) (*domain.DepositCall, error) {
	return s.review(ctx, req, "deposit_call.slot_approved", "completed",
		func(record *domain.DepositCall, actor string, now time.Time) error {
			return record.Approve(req.SlotNumber, actor, now)
		})
}

func (s *Service) RejectCall(ctx context.Context, req domain.SlotActionRequest) (*domain.DepositCall, error) {
	return s.review(ctx, req, "deposit_call.slot_claim_rejected", "rescheduled",
		func(record *domain.DepositCall, _ string, _ time.Time) error {
			return record.RejectClaim(req.SlotNumber)
		})
}

func (s *Service) MarkCallAnswered(ctx context.Context, req domain.SlotActionRequest) (*domain.DepositCall, error) {
	return s.review(ctx, req, "deposit_call.slot_answered", "answered",
		func(record *domain.DepositCall, actor string, now time.Time) error {
			return record.MarkAnswered(req.SlotNumber, actor, strings.TrimSpace(req.Notes), now)
		})
}

func (s *Service) MarkCallRejected(ctx context.Context, req domain.SlotActionRequest) (*domain.DepositCall, error) {
	return s.review(ctx, req, "deposit_call.slot_rejected", "rejected",
		func(record *domain.DepositCall, actor string, now time.Time) error {
			return record.MarkRejected(req.SlotNumber, actor, strings.TrimSpace(req.Notes), now)
		})
}

func (s *Service) review(
	ctx context.Context,
	req domain.SlotActionRequest,
	action, transition string,
	apply func(record *domain.DepositCall, actor string, now time.Time) error,
) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallReview)
	if err != nil {
		return nil, err
	}

	record, err := s.loadActive(ctx, actor, req.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := apply(record, actor.ID, now); err != nil {
		return nil, err
	}
	record.UpdatedAt = now
	if err := s.repo.Save(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.metrics.RecordSlotTransition(transition)
	s.auditLog(ctx, actor, action, record.ID, map[string]any{
		"slot": req.SlotNumber,
	})
	return record, nil
}

func (s *Service) PendingApprovals(ctx context.Context, accountManager string) ([]domain.PendingApproval, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallReview)
	if err != nil {
		return nil, err
	}
	if actor.IsAffiliateManager() {
		accountManager = actor.ID
	}

	records, err := s.repo.FindActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	out := make([]domain.PendingApproval, 0)
	for _, record := range records {
		if accountManager != "" && record.AccountManager != accountManager {
			continue
		}
		for _, n := range record.PendingApprovalSlots() {
			slot, err := record.Slots.Slot(n)
			if err != nil {
				continue
			}
			out = append(out, domain.PendingApproval{
				DepositCall: *record,
				SlotNumber:  n,
				Slot:        *slot,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Slot.MarkedAt, out[j].Slot.MarkedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})
	return out, nil
}

func (s *Service) UpcomingAppointments(ctx context.Context, start, end time.Time, accountManager, assignedAgent string) ([]domain.Appointment, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallView)
	if err != nil {
		return nil, err
	}
	if actor.IsAgent() {
		assignedAgent = actor.ID
	}

	records, err := s.repo.FindActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Appointment, 0)
	for _, record := range records {
		if accountManager != "" && record.AccountManager != accountManager {
			continue
		}
		if assignedAgent != "" && record.AssignedAgent != assignedAgent {
			continue
		}
		for i := range record.Slots {
			slot := record.Slots[i]
			// A claimed slot stays on the calendar until it is reviewed.
			if slot.Status != domain.SlotScheduled && slot.Status != domain.SlotPendingApproval {
				continue
			}
			if slot.ExpectedDate == nil {
				continue
			}
			if slot.ExpectedDate.Before(start) || !slot.ExpectedDate.Before(end) {
				continue
			}
			out = append(out, domain.Appointment{
				DepositCall:  *record,
				SlotNumber:   i + 1,
				ExpectedDate: *slot.ExpectedDate,
				Status:       slot.Status,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpectedDate.Before(out[j].ExpectedDate)
	})
	return out, nil
}

func (s *Service) UpdateAssignment(ctx context.Context, req domain.AssignRequest) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallAssign)
	if err != nil {
		return nil, err
	}

	record, err := s.loadActive(ctx, actor, req.ID)
	if err != nil {
		return nil, err
	}

	if req.AccountManager != nil {
		record.AccountManager = strings.TrimSpace(*req.AccountManager)
	}
	if req.AssignedAgent != nil {
		record.AssignedAgent = strings.TrimSpace(*req.AssignedAgent)
	}
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.auditLog(ctx, actor, "deposit_call.assignment_updated", record.ID, map[string]any{
		"accountManager": record.AccountManager,
		"assignedAgent":  record.AssignedAgent,
	})
	return record, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.DepositCall, error) {
	actor, err := s.authorize(ctx, authorization.ActionDepositCallCancel)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.StatusActive {
		return nil, domain.ErrNotActive
	}

	record.Status = domain.StatusCancelled
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.auditLog(ctx, actor, "deposit_call.cancelled", record.ID, nil)
	return record, nil
}

func (s *Service) auditLog(ctx context.Context, actor actorctx.Actor, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	target := targetID.String()
	actorID := actor.ID
	if err := s.audit.AuditLog(ctx, string(auditdomain.ActorTypeUser), &actorID, action, "deposit_call", &target, masking.MaskContacts(metadata)); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
