package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/config"
	declarationdomain "github.com/brokerdesk/callbonus/internal/declaration/domain"
	declarationrepository "github.com/brokerdesk/callbonus/internal/declaration/repository"
	declarationservice "github.com/brokerdesk/callbonus/internal/declaration/service"
	depositcalldomain "github.com/brokerdesk/callbonus/internal/depositcall/domain"
	depositcallrepository "github.com/brokerdesk/callbonus/internal/depositcall/repository"
	depositcallservice "github.com/brokerdesk/callbonus/internal/depositcall/service"
	leaddomain "github.com/brokerdesk/callbonus/internal/lead/domain"
	leadrepository "github.com/brokerdesk/callbonus/internal/lead/repository"
	ledgerdomain "github.com/brokerdesk/callbonus/internal/ledger/domain"
	ledgerservice "github.com/brokerdesk/callbonus/internal/ledger/service"
	orderdomain "github.com/brokerdesk/callbonus/internal/order/domain"
	orderrepository "github.com/brokerdesk/callbonus/internal/order/repository"
	"github.com/brokerdesk/callbonus/internal/reversal"
	"github.com/brokerdesk/callbonus/pkg/db"
)

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(context.Context, actorctx.Actor, string, string) error { return nil }

type fixture struct {
	db    *gorm.DB
	srv   *Server
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&leaddomain.Lead{},
		&orderdomain.Order{},
		&depositcalldomain.DepositCall{},
		&declarationdomain.Declaration{},
		&ledgerdomain.Table{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, time.July, 6, 9, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)

	depositCallRepo := depositcallrepository.Provide()
	leadRepo := leadrepository.Provide()
	orderRepo := orderrepository.Provide()
	declarationRepo := declarationrepository.Provide()

	depositCallSvc := depositcallservice.New(depositcallservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  depositCallRepo,
		Leads: leadRepo,
		Authz: allowAllAuthz{},
	})

	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Authz: allowAllAuthz{},
	})

	declarationSvc := declarationservice.New(declarationservice.Params{
		DB:           dbConn,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Rates:        config.NewStaticBonusConfigHolder(calltype.DefaultRates()),
		Repo:         declarationRepo,
		Leads:        leadRepo,
		Orders:       orderRepo,
		DepositCalls: depositCallRepo,
		Ledger:       ledgerSvc,
		Authz:        allowAllAuthz{},
	})

	engine := reversal.New(reversal.Params{
		DB:           dbConn,
		Log:          log,
		Clock:        fake,
		Declarations: declarationRepo,
		DepositCalls: depositCallRepo,
		Leads:        leadRepo,
		Orders:       orderRepo,
		Ledger:       ledgerSvc,
	})

	srv := &Server{
		engine:         NewEngine(prometheus.NewRegistry()),
		cfg:            config.Config{Environment: "test", HTTPAddr: ":0"},
		log:            log,
		clock:          fake,
		depositCallSvc: depositCallSvc,
		declarationSvc: declarationSvc,
		ledgerSvc:      ledgerSvc,
		authzSvc:       allowAllAuthz{},
		reversalEngine: engine,
	}
	srv.registerAPIRoutes()

	return &fixture{db: dbConn, srv: srv, clock: fake, node: node}
}

func (f *fixture) seedLead(t *testing.T, agent string) *leaddomain.Lead {
	t.Helper()
	lead := &leaddomain.Lead{
		ID:            f.node.Generate(),
		FirstName:     "Noor",
		LastName:      "Haddad",
		Email:         "noor.haddad@example.com",
		Phone:         "+35799123456",
		AssignedAgent: agent,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	require.NoError(t, f.db.Create(lead).Error)
	return lead
}

func (f *fixture) do(t *testing.T, method, path string, actor *actorctx.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderActorID, actor.ID)
		req.Header.Set(HeaderActorName, actor.Name)
		req.Header.Set(HeaderActorRole, actor.Role)
	}

	rec := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func manager(id string) *actorctx.Actor {
	return &actorctx.Actor{ID: id, Name: id, Role: actorctx.RoleAffiliateManager}
}

func agent(id string) *actorctx.Actor {
	return &actorctx.Actor{ID: id, Name: id, Role: actorctx.RoleAgent}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestActorRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/deposit-calls", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/deposit-calls", &actorctx.Actor{ID: "x", Role: "intruder"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))

	rec = f.do(t, http.MethodGet, "/health", nil, nil)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestDepositCallLifecycle(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")
	am := manager("am-1")

	rec := f.do(t, http.MethodPost, "/api/deposit-calls", am, gin.H{
		"lead_id":         lead.ID.String(),
		"account_manager": "am-1",
		"assigned_agent":  "agent-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	id, ok := data["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodGet, "/api/deposit-calls/"+id, am, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/deposit-calls/%s/slots/1/schedule", id), agent("agent-1"), gin.H{
		"expected_date": f.clock.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/deposit-calls/%s/slots/1/done", id), agent("agent-1"), gin.H{
		"notes": "reached, fifteen minutes",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/deposit-calls/%s/slots/1/approve", id), am, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	slots, ok := data["slots"].([]any)
	require.True(t, ok)
	first, ok := slots[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, string(depositcalldomain.SlotCompleted), first["status"])
}

func TestSlotStateConflictMapsTo409(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")
	am := manager("am-1")

	rec := f.do(t, http.MethodPost, "/api/deposit-calls", am, gin.H{
		"lead_id":         lead.ID.String(),
		"account_manager": "am-1",
		"assigned_agent":  "agent-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeData(t, rec)["id"].(string)

	// approving a slot that was never claimed is a state conflict
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/deposit-calls/%s/slots/1/approve", id), am, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetDepositCallNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/deposit-calls/"+f.node.Generate().String(), manager("am-1"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/deposit-calls/not-a-snowflake", manager("am-1"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDeclarationValidationMapsTo400(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	rec := f.do(t, http.MethodPost, "/api/declarations", agent("agent-1"), gin.H{
		"lead_id":            lead.ID.String(),
		"affiliate_manager":  "am-1",
		"cdr_call_id":        "cdr-short-1",
		"call_date":          f.clock.Now().Format(time.RFC3339),
		"call_duration":      120,
		"source_number":      "100",
		"destination_number": "+35799123456",
		"call_type":          "first_call",
		"call_category":      "ftd",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "call_too_short")
}

func TestDeclarationFlowAndBonusPreview(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	rec := f.do(t, http.MethodPost, "/api/declarations", agent("agent-1"), gin.H{
		"lead_id":            lead.ID.String(),
		"affiliate_manager":  "am-1",
		"cdr_call_id":        "cdr-filler-1",
		"call_date":          f.clock.Now().Format(time.RFC3339),
		"call_duration":      1000,
		"source_number":      "100",
		"destination_number": "+35799123456",
		"call_category":      "filler",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, string(declarationdomain.StatusPending), data["status"])

	// same CDR again is a conflict
	rec = f.do(t, http.MethodPost, "/api/declarations", agent("agent-1"), gin.H{
		"lead_id":            lead.ID.String(),
		"affiliate_manager":  "am-1",
		"cdr_call_id":        "cdr-filler-1",
		"call_date":          f.clock.Now().Format(time.RFC3339),
		"call_duration":      1000,
		"source_number":      "100",
		"destination_number": "+35799123456",
		"call_category":      "filler",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/bonuses/preview?call_type=first_call&call_category=ftd&duration_seconds=7250", agent("agent-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeData(t, rec)
	require.InDelta(t, 7.5, preview["base_bonus"], 0.0001)
	require.InDelta(t, 10.0, preview["hourly_bonus"], 0.0001)
	require.InDelta(t, 17.5, preview["total_bonus"], 0.0001)
}

func TestReverseDeclarationEndpoint(t *testing.T) {
	f := newFixture(t)
	lead := f.seedLead(t, "agent-1")

	rec := f.do(t, http.MethodPost, "/api/declarations", agent("agent-1"), gin.H{
		"lead_id":            lead.ID.String(),
		"affiliate_manager":  "am-1",
		"cdr_call_id":        "cdr-rev-1",
		"call_date":          f.clock.Now().Format(time.RFC3339),
		"call_duration":      1000,
		"source_number":      "100",
		"destination_number": "+35799123456",
		"call_category":      "filler",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeData(t, rec)["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/declarations/"+id+"/approve", manager("am-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/declarations/"+id+"/reverse", &actorctx.Actor{ID: "admin-1", Name: "admin-1", Role: actorctx.RoleAdmin}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	summary, ok := data["summary"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, summary["deactivated"])
	require.Contains(t, data["report"], "deactivated (active true -> false)")

	// reversed declaration is gone from active listings
	rec = f.do(t, http.MethodGet, "/api/declarations/"+id, manager("am-1"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerTableEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ledger-tables/am-1?month=7&year=2026", manager("am-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, "am-1", data["accountManager"])

	rows, ok := data["rows"].(map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 12)
}
