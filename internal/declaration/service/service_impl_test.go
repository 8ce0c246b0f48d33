package service

import (
	"context"
	"testing"
	"time"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/config"
	"github.com/brokerdesk/callbonus/internal/declaration/domain"
	"github.com/brokerdesk/callbonus/internal/declaration/repository"
	depositcalldomain "github.com/brokerdesk/callbonus/internal/depositcall/domain"
	depositcallrepository "github.com/brokerdesk/callbonus/internal/depositcall/repository"
	leaddomain "github.com/brokerdesk/callbonus/internal/lead/domain"
	leadrepository "github.com/brokerdesk/callbonus/internal/lead/repository"
	ledgerdomain "github.com/brokerdesk/callbonus/internal/ledger/domain"
	ledgerservice "github.com/brokerdesk/callbonus/internal/ledger/service"
	orderdomain "github.com/brokerdesk/callbonus/internal/order/domain"
	orderrepository "github.com/brokerdesk/callbonus/internal/order/repository"
	"github.com/brokerdesk/callbonus/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(context.Context, actorctx.Actor, string, string) error { return nil }

type fixture struct {
	db           *gorm.DB
	svc          domain.Service
	ledger       ledgerdomain.Service
	depositCalls depositcalldomain.Repository
	clock        *clock.FakeClock
	node         *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&domain.Declaration{},
		&depositcalldomain.DepositCall{},
		&leaddomain.Lead{},
		&orderdomain.Order{},
		&ledgerdomain.Table{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, time.May, 14, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)

	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Authz: allowAllAuthz{},
	})

	depositCallRepo := depositcallrepository.Provide()
	svc := New(Params{
		DB:           dbConn,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Rates:        config.NewStaticBonusConfigHolder(calltype.DefaultRates()),
		Repo:         repository.Provide(),
		Leads:        leadrepository.Provide(),
		Orders:       orderrepository.Provide(),
		DepositCalls: depositCallRepo,
		Ledger:       ledgerSvc,
		Authz:        allowAllAuthz{},
	})

	return &fixture{
		db:           dbConn,
		svc:          svc,
		ledger:       ledgerSvc,
		depositCalls: depositCallRepo,
		clock:        fake,
		node:         node,
	}
}

func agentCtx(id string) context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{ID: id, Role: actorctx.RoleAgent})
}

func managerCtx(id string) context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{ID: id, Role: actorctx.RoleAffiliateManager})
}

func adminCtx() context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{ID: "admin-1", Role: actorctx.RoleAdmin})
}

func (f *fixture) seedLead(t *testing.T, agent string) *leaddomain.Lead {
	t.Helper()
	lead := &leaddomain.Lead{
		ID:            f.node.Generate(),
		FirstName:     "Kim",
		LastName:      "Vogel",
		Email:         "kim.vogel@example.com",
		Phone:         "+4915712345678",
		AssignedAgent: agent,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	require.NoError(t, f.db.Create(lead).Error)
	return lead
}

func (f *fixture) seedConfirmedDeposit(t *testing.T, lead *leaddomain.Lead, manager string) *depositcalldomain.DepositCall {
	t.Helper()
	now := f.clock.Now()
	record := &depositcalldomain.DepositCall{
		ID:                 f.node.Generate(),
		LeadID:             lead.ID,
		AccountManager:     manager,
		AssignedAgent:      lead.AssignedAgent,
		FTDName:            "Kim Vogel",
		FTDEmail:           lead.Email,
		DepositConfirmed:   true,
		DepositConfirmedBy: manager,
		DepositConfirmedAt: &now,
		Status:             depositcalldomain.StatusActive,
		CreatedBy:          manager,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i := range record.Slots {
		record.Slots[i].Status = depositcalldomain.SlotPending
	}
	require.NoError(t, f.db.Create(record).Error)
	return record
}

func (f *fixture) declare(t *testing.T, agent string, lead *leaddomain.Lead, req domain.CreateRequest) *domain.Declaration {
	t.Helper()
	if req.LeadID == 0 {
		req.LeadID = lead.ID
	}
	if req.AffiliateManager == "" {
		req.AffiliateManager = "am-1"
	}
	if req.CallDate.IsZero() {
		req.CallDate = f.clock.Now()
	}
	declaration, err := f.svc.Create(agentCtx(agent), req)
	require.NoError(t, err)
	return declaration
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{
			name: "missing cdr id",
			req: domain.CreateRequest{
				LeadID: lead.ID, AffiliateManager: "am-1",
				CallDate: f.clock.Now(), CallDuration: 1200,
				CallType: calltype.FirstCall, CallCategory: calltype.CategoryFTD,
			},
			want: domain.ErrMissingFields,
		},
		{
			name: "bad category",
			req: domain.CreateRequest{
				LeadID: lead.ID, AffiliateManager: "am-1", CDRCallID: "cdr-1",
				CallDate: f.clock.Now(), CallDuration: 1200,
				CallType: calltype.FirstCall, CallCategory: "vip",
			},
			want: domain.ErrInvalidCategory,
		},
		{
			name: "ftd requires call type",
			req: domain.CreateRequest{
				LeadID: lead.ID, AffiliateManager: "am-1", CDRCallID: "cdr-2",
				CallDate: f.clock.Now(), CallDuration: 1200,
				CallCategory: calltype.CategoryFTD,
			},
			want: domain.ErrInvalidCallType,
		},
		{
			name: "too short",
			req: domain.CreateRequest{
				LeadID: lead.ID, AffiliateManager: "am-1", CDRCallID: "cdr-3",
				CallDate: f.clock.Now(), CallDuration: 899,
				CallType: calltype.FirstCall, CallCategory: calltype.CategoryFTD,
			},
			want: domain.ErrCallTooShort,
		},
		{
			name: "deposit type blocked for agents",
			req: domain.CreateRequest{
				LeadID: lead.ID, AffiliateManager: "am-1", CDRCallID: "cdr-4",
				CallDate: f.clock.Now(), CallDuration: 1200,
				CallType: calltype.Deposit, CallCategory: calltype.CategoryFTD,
			},
			want: domain.ErrDepositNotDeclarable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(agentCtx("agent-1"), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateLeadMustBeAssigned(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	_, err := f.svc.Create(agentCtx("agent-2"), domain.CreateRequest{
		LeadID: lead.ID, AffiliateManager: "am-1", CDRCallID: "cdr-10",
		CallDate: f.clock.Now(), CallDuration: 1200,
		CallType: calltype.FirstCall, CallCategory: calltype.CategoryFTD,
	})
	require.ErrorIs(t, err, domain.ErrLeadNotAssigned)
}

func TestCreateComputesBonusAndBinding(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")
	deposit := f.seedConfirmedDeposit(t, lead, "am-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-20",
		CallDuration: 7250,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})

	require.Equal(t, 7.5, declaration.BaseBonus)
	require.Equal(t, 10.0, declaration.HourlyBonus)
	require.Equal(t, 17.5, declaration.TotalBonus)
	require.Equal(t, 5, declaration.DeclarationMonth)
	require.Equal(t, 2026, declaration.DeclarationYear)
	require.NotNil(t, declaration.DepositCallID)
	require.Equal(t, deposit.ID, *declaration.DepositCallID)
	require.Equal(t, domain.StatusPending, declaration.Status)
}

func TestCreateFillerHasNoBonus(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-21",
		CallDuration: 5000,
		CallCategory: calltype.CategoryFiller,
	})

	require.Zero(t, declaration.TotalBonus)
	require.Nil(t, declaration.DepositCallID)
}

func TestCreateDuplicateCDR(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-30",
		CallDuration: 1200,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})

	_, err := f.svc.Create(agentCtx("agent-1"), domain.CreateRequest{
		LeadID: lead.ID, AffiliateManager: "am-1", CDRCallID: "cdr-30",
		CallDate: f.clock.Now(), CallDuration: 1500,
		CallType: calltype.SecondCall, CallCategory: calltype.CategoryFTD,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyDeclared)
}

func TestApprovePostsLedgerAndCompletesSlot(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")
	deposit := f.seedConfirmedDeposit(t, lead, "am-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-40",
		CallDuration: 7250,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})

	approved, err := f.svc.Approve(managerCtx("am-1"), domain.ReviewRequest{ID: declaration.ID})
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, approved.Status)
	require.Equal(t, "am-1", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	table, err := f.ledger.GetOrCreate(context.Background(), "am-1", 5, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), table.Rows["first_am_call"].Count)
	require.Equal(t, 17.5, table.Rows["first_am_call"].Value)
	require.Equal(t, 2.01, table.Rows[calltype.TalkingTimeRowID].Value)

	record, err := f.depositCalls.FindByID(context.Background(), f.db, deposit.ID)
	require.NoError(t, err)
	require.Equal(t, depositcalldomain.SlotCompleted, record.Slots[0].Status)
	require.Equal(t, "am-1", record.Slots[0].ApprovedBy)
}

func TestApproveFillerSkipsLedger(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-41",
		CallDuration: 5000,
		CallCategory: calltype.CategoryFiller,
	})

	_, err := f.svc.Approve(managerCtx("am-1"), domain.ReviewRequest{ID: declaration.ID})
	require.NoError(t, err)

	var tables []*ledgerdomain.Table
	require.NoError(t, f.db.Find(&tables).Error)
	require.Empty(t, tables)
}

func TestApproveGates(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-50",
		CallDuration: 1200,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})

	_, err := f.svc.Approve(managerCtx("am-2"), domain.ReviewRequest{ID: declaration.ID})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Approve(adminCtx(), domain.ReviewRequest{ID: declaration.ID})
	require.NoError(t, err)

	_, err = f.svc.Approve(managerCtx("am-1"), domain.ReviewRequest{ID: declaration.ID})
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
}

func TestRejectRequiresNotes(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-60",
		CallDuration: 1200,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})

	_, err := f.svc.Reject(managerCtx("am-1"), domain.ReviewRequest{ID: declaration.ID})
	require.ErrorIs(t, err, domain.ErrNotesRequired)

	rejected, err := f.svc.Reject(managerCtx("am-1"), domain.ReviewRequest{ID: declaration.ID, Notes: "call audio missing"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, rejected.Status)

	var tables []*ledgerdomain.Table
	require.NoError(t, f.db.Find(&tables).Error)
	require.Empty(t, tables)
}

func TestDeleteRules(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-70",
		CallDuration: 1200,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})

	require.ErrorIs(t, f.svc.Delete(agentCtx("agent-2"), declaration.ID), domain.ErrForbidden)
	require.NoError(t, f.svc.Delete(agentCtx("agent-1"), declaration.ID))
	require.ErrorIs(t, f.svc.Delete(agentCtx("agent-1"), declaration.ID), domain.ErrNotFound)

	// Soft delete frees the CDR id for a fresh declaration.
	redeclared := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-70",
		CallDuration: 1500,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})
	require.NotEqual(t, declaration.ID, redeclared.ID)
}

func TestDeleteApprovedNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	declaration := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-71",
		CallDuration: 1200,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})
	_, err := f.svc.Approve(managerCtx("am-1"), domain.ReviewRequest{ID: declaration.ID})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(agentCtx("agent-1"), declaration.ID), domain.ErrForbidden)
	require.NoError(t, f.svc.Delete(adminCtx(), declaration.ID))
}

func TestMonthlyTotals(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")
	f.seedConfirmedDeposit(t, lead, "am-1")

	first := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-80",
		CallDuration: 7250,
		CallType:     calltype.FirstCall,
		CallCategory: calltype.CategoryFTD,
	})
	second := f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-81",
		CallDuration: 1200,
		CallType:     calltype.SecondCall,
		CallCategory: calltype.CategoryFTD,
	})
	// Pending declarations stay out of the totals.
	f.declare(t, "agent-1", lead, domain.CreateRequest{
		CDRCallID:    "cdr-82",
		CallDuration: 1200,
		CallType:     calltype.ThirdCall,
		CallCategory: calltype.CategoryFTD,
	})

	_, err := f.svc.Approve(managerCtx("am-1"), domain.ReviewRequest{ID: first.ID})
	require.NoError(t, err)
	_, err = f.svc.Approve(managerCtx("am-1"), domain.ReviewRequest{ID: second.ID})
	require.NoError(t, err)

	totals, err := f.svc.MonthlyTotals(agentCtx("agent-1"), "", 5, 2026)
	require.NoError(t, err)
	require.Equal(t, "agent-1", totals.AgentID)
	require.Equal(t, 15.0, totals.BaseBonus)
	require.Equal(t, 10.0, totals.HourlyBonus)
	require.Equal(t, 25.0, totals.TotalBonus)
	require.Equal(t, int64(8450), totals.DurationSeconds)
	require.Equal(t, int64(1), totals.ByType["first_call"].Count)
	require.Equal(t, int64(1), totals.ByType["second_call"].Count)
}

func TestAllAgentsMonthlyTotalsScope(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AllAgentsMonthlyTotals(agentCtx("agent-1"), 5, 2026)
	require.ErrorIs(t, err, domain.ErrForbidden)

	totals, err := f.svc.AllAgentsMonthlyTotals(adminCtx(), 5, 2026)
	require.NoError(t, err)
	require.Empty(t, totals)
}

func TestPreviewBonus(t *testing.T) {
	f := newFixture(t)

	bonus, err := f.svc.PreviewBonus(agentCtx("agent-1"), calltype.FourthCall, calltype.CategoryFTD, 7300)
	require.NoError(t, err)
	require.Equal(t, 10.0, bonus.Base)
	require.Equal(t, 10.0, bonus.Hourly)
	require.Equal(t, 20.0, bonus.Total)

	bonus, err = f.svc.PreviewBonus(agentCtx("agent-1"), "", calltype.CategoryFiller, 7300)
	require.NoError(t, err)
	require.Zero(t, bonus.Total)
}
