package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/depositcall/domain"
	"github.com/brokerdesk/callbonus/internal/depositcall/repository"
	leaddomain "github.com/brokerdesk/callbonus/internal/lead/domain"
	leadrepository "github.com/brokerdesk/callbonus/internal/lead/repository"
	"github.com/brokerdesk/callbonus/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(context.Context, actorctx.Actor, string, string) error { return nil }

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(&domain.DepositCall{}, &leaddomain.Lead{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    dbConn,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
		Leads: leadrepository.Provide(),
		Authz: allowAllAuthz{},
	})
	return &fixture{db: dbConn, svc: svc, clock: fake, node: node}
}

func agentCtx(id string) context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{ID: id, Role: actorctx.RoleAgent})
}

func managerCtx(id string) context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{ID: id, Role: actorctx.RoleAffiliateManager})
}

func (f *fixture) createRecord(t *testing.T, agent, manager string) *domain.DepositCall {
	t.Helper()
	record, err := f.svc.Create(managerCtx(manager), domain.CreateRequest{
		LeadID:         f.node.Generate(),
		IsCustomRecord: true,
		AccountManager: manager,
		AssignedAgent:  agent,
		FTDName:        "Jamie Doe",
		FTDEmail:       "jamie@example.com",
		FTDPhone:       "+4917212345678",
	})
	require.NoError(t, err)
	return record
}

func TestCreateCustomRecordLinksLeadByEmail(t *testing.T) {
	f := newFixture(t)

	known := &leaddomain.Lead{
		ID:        f.node.Generate(),
		FirstName: "Robin",
		LastName:  "Vance",
		Email:     "Robin.Vance@example.com",
		Phone:     "+4915112345678",
	}
	require.NoError(t, f.db.Create(known).Error)

	record, err := f.svc.Create(managerCtx("am-1"), domain.CreateRequest{
		IsCustomRecord: true,
		AccountManager: "am-1",
		AssignedAgent:  "agent-1",
		FTDEmail:       "robin.vance@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, known.ID, record.LeadID)
	require.Equal(t, "Robin Vance", record.FTDName)
	require.Equal(t, "+4915112345678", record.FTDPhone)

	// No matching lead: the record stands alone under a fresh id.
	standalone, err := f.svc.Create(managerCtx("am-1"), domain.CreateRequest{
		IsCustomRecord: true,
		AccountManager: "am-1",
		AssignedAgent:  "agent-1",
		FTDName:        "Walk In",
		FTDEmail:       "walkin@example.com",
	})
	require.NoError(t, err)
	require.NotZero(t, standalone.LeadID)
	require.NotEqual(t, known.ID, standalone.LeadID)

	_, err = f.svc.Create(managerCtx("am-1"), domain.CreateRequest{
		IsCustomRecord: true,
		AccountManager: "am-1",
	})
	require.ErrorIs(t, err, domain.ErrInvalidLead)
}

func TestCreateInitialSlots(t *testing.T) {
	f := newFixture(t)

	record := f.createRecord(t, "agent-1", "am-1")
	require.Equal(t, domain.StatusActive, record.Status)
	for i := range record.Slots {
		require.Equal(t, domain.SlotPending, record.Slots[i].Status)
	}
	require.Equal(t, "am-1", record.CreatedBy)
}

func TestScheduleMarkDoneApprove(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	expected := time.Date(2026, time.March, 12, 15, 0, 0, 0, time.UTC)
	record, err := f.svc.ScheduleCall(agentCtx("agent-1"), domain.ScheduleRequest{
		ID:           record.ID,
		SlotNumber:   1,
		ExpectedDate: expected,
	})
	require.NoError(t, err)
	require.Equal(t, domain.SlotScheduled, record.Slots[0].Status)
	require.Equal(t, expected, record.Slots[0].ExpectedDate.UTC())

	f.clock.Advance(48 * time.Hour)
	record, err = f.svc.MarkCallDone(agentCtx("agent-1"), domain.SlotActionRequest{
		ID:         record.ID,
		SlotNumber: 1,
		Notes:      "reached voicemail twice, connected on third try",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SlotPendingApproval, record.Slots[0].Status)
	require.NotNil(t, record.Slots[0].DoneDate)
	require.Equal(t, "agent-1", record.Slots[0].MarkedBy)

	record, err = f.svc.ApproveCall(managerCtx("am-1"), domain.SlotActionRequest{
		ID:         record.ID,
		SlotNumber: 1,
	})
	require.NoError(t, err)
	require.Equal(t, domain.SlotCompleted, record.Slots[0].Status)
	require.Equal(t, "am-1", record.Slots[0].ApprovedBy)
}

func TestApproveRequiresClaim(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	_, err := f.svc.ApproveCall(managerCtx("am-1"), domain.SlotActionRequest{
		ID:         record.ID,
		SlotNumber: 2,
	})
	require.ErrorIs(t, err, domain.ErrSlotNotPendingApproval)
}

func TestSlotNumberOutOfRange(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	for _, n := range []int{0, 11, -3} {
		_, err := f.svc.ScheduleCall(agentCtx("agent-1"), domain.ScheduleRequest{
			ID:           record.ID,
			SlotNumber:   n,
			ExpectedDate: f.clock.Now().Add(24 * time.Hour),
		})
		require.ErrorIs(t, err, domain.ErrSlotOutOfRange)

		_, err = f.svc.ApproveCall(managerCtx("am-1"), domain.SlotActionRequest{
			ID:         record.ID,
			SlotNumber: n,
		})
		require.ErrorIs(t, err, domain.ErrSlotOutOfRange)
	}

	reloaded, err := f.svc.GetByID(managerCtx("am-1"), record.ID)
	require.NoError(t, err)
	for i := range reloaded.Slots {
		require.Equal(t, domain.SlotPending, reloaded.Slots[i].Status)
	}
}

func TestRejectClaimReturnsToScheduled(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	_, err := f.svc.ScheduleCall(agentCtx("agent-1"), domain.ScheduleRequest{
		ID:           record.ID,
		SlotNumber:   3,
		ExpectedDate: f.clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.MarkCallDone(agentCtx("agent-1"), domain.SlotActionRequest{ID: record.ID, SlotNumber: 3})
	require.NoError(t, err)

	record, err = f.svc.RejectCall(managerCtx("am-1"), domain.SlotActionRequest{ID: record.ID, SlotNumber: 3})
	require.NoError(t, err)
	require.Equal(t, domain.SlotScheduled, record.Slots[2].Status)
	require.Nil(t, record.Slots[2].DoneDate)
	require.NotNil(t, record.Slots[2].ExpectedDate)
}

func TestMarkAnsweredIsTerminal(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	_, err := f.svc.MarkCallDone(agentCtx("agent-1"), domain.SlotActionRequest{ID: record.ID, SlotNumber: 1})
	require.NoError(t, err)
	record, err = f.svc.MarkCallAnswered(managerCtx("am-1"), domain.SlotActionRequest{
		ID:         record.ID,
		SlotNumber: 1,
		Notes:      "client answered, no callback needed",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SlotAnswered, record.Slots[0].Status)
	require.Equal(t, "client answered, no callback needed", record.Slots[0].Notes)

	_, err = f.svc.ApproveCall(managerCtx("am-1"), domain.SlotActionRequest{ID: record.ID, SlotNumber: 1})
	require.ErrorIs(t, err, domain.ErrSlotNotPendingApproval)
}

func TestAgentCannotTouchOtherBook(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	_, err := f.svc.ScheduleCall(agentCtx("agent-2"), domain.ScheduleRequest{
		ID:           record.ID,
		SlotNumber:   1,
		ExpectedDate: f.clock.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.GetByID(agentCtx("agent-2"), record.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListScopesAgents(t *testing.T) {
	f := newFixture(t)
	f.createRecord(t, "agent-1", "am-1")
	f.createRecord(t, "agent-2", "am-1")

	records, err := f.svc.List(agentCtx("agent-1"), domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "agent-1", records[0].AssignedAgent)

	records, err = f.svc.List(managerCtx("am-1"), domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestPendingApprovalsOrderedByClaimTime(t *testing.T) {
	f := newFixture(t)
	first := f.createRecord(t, "agent-1", "am-1")
	second := f.createRecord(t, "agent-1", "am-1")

	_, err := f.svc.MarkCallDone(agentCtx("agent-1"), domain.SlotActionRequest{ID: second.ID, SlotNumber: 1})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.svc.MarkCallDone(agentCtx("agent-1"), domain.SlotActionRequest{ID: first.ID, SlotNumber: 2})
	require.NoError(t, err)

	pending, err := f.svc.PendingApprovals(managerCtx("am-1"), "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, second.ID, pending[0].DepositCall.ID)
	require.Equal(t, first.ID, pending[1].DepositCall.ID)
}

func TestUpcomingAppointmentsWindow(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	inWindow := f.clock.Now().Add(24 * time.Hour)
	outOfWindow := f.clock.Now().Add(30 * 24 * time.Hour)
	_, err := f.svc.ScheduleCall(agentCtx("agent-1"), domain.ScheduleRequest{ID: record.ID, SlotNumber: 1, ExpectedDate: inWindow})
	require.NoError(t, err)
	_, err = f.svc.ScheduleCall(agentCtx("agent-1"), domain.ScheduleRequest{ID: record.ID, SlotNumber: 2, ExpectedDate: outOfWindow})
	require.NoError(t, err)

	appointments, err := f.svc.UpcomingAppointments(agentCtx("agent-1"), f.clock.Now(), f.clock.Now().Add(7*24*time.Hour), "", "")
	require.NoError(t, err)
	require.Len(t, appointments, 1)
	require.Equal(t, 1, appointments[0].SlotNumber)
	require.Equal(t, inWindow, appointments[0].ExpectedDate.UTC())

	// A claimed slot still shows on the calendar until someone reviews it.
	_, err = f.svc.MarkCallDone(agentCtx("agent-1"), domain.SlotActionRequest{ID: record.ID, SlotNumber: 1})
	require.NoError(t, err)

	appointments, err = f.svc.UpcomingAppointments(agentCtx("agent-1"), f.clock.Now(), f.clock.Now().Add(7*24*time.Hour), "", "")
	require.NoError(t, err)
	require.Len(t, appointments, 1)
	require.Equal(t, domain.SlotPendingApproval, appointments[0].Status)
}

func TestCancelBlocksFurtherWork(t *testing.T) {
	f := newFixture(t)
	record := f.createRecord(t, "agent-1", "am-1")

	adminCtx := actorctx.WithActor(context.Background(), actorctx.Actor{ID: "admin-1", Role: actorctx.RoleAdmin})
	cancelled, err := f.svc.Cancel(adminCtx, record.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)

	_, err = f.svc.ScheduleCall(agentCtx("agent-1"), domain.ScheduleRequest{
		ID:           record.ID,
		SlotNumber:   1,
		ExpectedDate: f.clock.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrNotActive)

	_, err = f.svc.Cancel(adminCtx, record.ID)
	require.ErrorIs(t, err, domain.ErrNotActive)
}

func TestGetByIDNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetByID(managerCtx("am-1"), f.node.Generate())
	require.True(t, errors.Is(err, domain.ErrNotFound))
}
