package domain

import (
	"context"
	"errors"
	"time"

	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound                = errors.New("not_found")
	ErrForbidden               = errors.New("forbidden")
	ErrAlreadyDeclared         = errors.New("already_declared")
	ErrAlreadyReviewed         = errors.New("already_reviewed")
	ErrInvalidCallType         = errors.New("invalid_call_type")
	ErrInvalidCategory         = errors.New("invalid_category")
	ErrCallTooShort            = errors.New("call_too_short")
	ErrMissingFields           = errors.New("missing_required_fields")
	ErrNotesRequired           = errors.New("notes_required")
	ErrInvalidLead             = errors.New("invalid_lead")
	ErrLeadNotAssigned         = errors.New("lead_not_assigned")
	ErrDepositNotDeclarable    = errors.New("deposit_not_declarable")
	ErrNoConfirmedDeposit      = errors.New("no_confirmed_deposit")
	ErrRateLimited             = errors.New("rate_limited")
)

type CreateRequest struct {
	LeadID           snowflake.ID
	OrderID          *snowflake.ID
	DepositCallID    *snowflake.ID
	AffiliateManager string

	CDRCallID         string
	CallDate          time.Time
	CallDuration      int64
	SourceNumber      string
	DestinationNumber string
	LineNumber        string
	CallType          calltype.Type
	CallCategory      calltype.Category
	Description       string
	RecordFile        string
}

type ListFilter struct {
	AgentID          string
	AffiliateManager string
	Status           Status
	Category         calltype.Category
	Month            int
	Year             int
}

// TypeTotals is the per-call-type slice of a monthly summary.
type TypeTotals struct {
	Count      int64   `json:"count"`
	TotalBonus float64 `json:"totalBonus"`
}

// MonthlyTotals summarizes an agent's approved, active declarations for one
// payroll period.
type MonthlyTotals struct {
	AgentID         string                `json:"agentId"`
	Month           int                   `json:"month"`
	Year            int                   `json:"year"`
	BaseBonus       float64               `json:"baseBonus"`
	HourlyBonus     float64               `json:"hourlyBonus"`
	TotalBonus      float64               `json:"totalBonus"`
	DurationSeconds int64                 `json:"durationSeconds"`
	ByType          map[string]TypeTotals `json:"byType"`
}

type ReviewRequest struct {
	ID    snowflake.ID
	Notes string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Declaration, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Declaration, error)
	List(ctx context.Context, filter ListFilter) ([]*Declaration, error)
	PendingForReviewer(ctx context.Context) ([]*Declaration, error)

	MonthlyTotals(ctx context.Context, agentID string, month, year int) (*MonthlyTotals, error)
	AllAgentsMonthlyTotals(ctx context.Context, month, year int) ([]*MonthlyTotals, error)
	PreviewBonus(ctx context.Context, callType calltype.Type, category calltype.Category, durationSeconds int64) (calltype.Bonus, error)

	Approve(ctx context.Context, req ReviewRequest) (*Declaration, error)
	Reject(ctx context.Context, req ReviewRequest) (*Declaration, error)
	Delete(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, declaration *Declaration) error
	Save(ctx context.Context, db *gorm.DB, declaration *Declaration) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Declaration, error)
	FindActiveByCDR(ctx context.Context, db *gorm.DB, cdrCallID string) (*Declaration, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Declaration, error)
	// ActiveTypeExistsForDepositCall reports whether an active declaration of
	// this call type already references the deposit call record.
	ActiveTypeExistsForDepositCall(ctx context.Context, db *gorm.DB, depositCallID snowflake.ID, callType calltype.Type) (bool, error)
	// ApprovedForPeriod returns active approved declarations for a payroll
	// period, optionally narrowed to one agent.
	ApprovedForPeriod(ctx context.Context, db *gorm.DB, agentID string, month, year int) ([]*Declaration, error)
}
