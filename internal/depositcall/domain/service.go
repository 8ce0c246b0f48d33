package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrSlotOutOfRange         = errors.New("slot_out_of_range")
	ErrSlotNotPendingApproval = errors.New("slot_not_pending_approval")
	ErrSlotNotCompleted       = errors.New("slot_not_completed")
	ErrInvalidLead            = errors.New("invalid_lead")
	ErrInvalidExpectedDate    = errors.New("invalid_expected_date")
	ErrDuplicateRecord        = errors.New("duplicate_record")
	ErrNotFound               = errors.New("not_found")
	ErrNotActive              = errors.New("record_not_active")
	ErrForbidden              = errors.New("forbidden")
)

type CreateRequest struct {
	LeadID         snowflake.ID
	OrderID        *snowflake.ID
	IsCustomRecord bool
	AccountManager string
	AssignedAgent  string
	FTDName        string
	FTDEmail       string
	FTDPhone       string
}

type ListFilter struct {
	AccountManager string
	AssignedAgent  string
	Status         Status
	LeadID         snowflake.ID
}

type ScheduleRequest struct {
	ID           snowflake.ID
	SlotNumber   int
	ExpectedDate time.Time
}

type SlotActionRequest struct {
	ID         snowflake.ID
	SlotNumber int
	Notes      string
}

type AssignRequest struct {
	ID             snowflake.ID
	AccountManager *string
	AssignedAgent  *string
}

// Appointment is one scheduled slot surfaced on the calendar view.
type Appointment struct {
	DepositCall  DepositCall `json:"depositCall"`
	SlotNumber   int         `json:"slotNumber"`
	ExpectedDate time.Time   `json:"expectedDate"`
	Status       SlotStatus  `json:"status"`
}

// PendingApproval is one claimed slot awaiting reviewer action.
type PendingApproval struct {
	DepositCall DepositCall `json:"depositCall"`
	SlotNumber  int         `json:"slotNumber"`
	Slot        CallSlot    `json:"slot"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*DepositCall, error)
	GetByID(ctx context.Context, id snowflake.ID) (*DepositCall, error)
	List(ctx context.Context, filter ListFilter) ([]*DepositCall, error)

	ScheduleCall(ctx context.Context, req ScheduleRequest) (*DepositCall, error)
	MarkCallDone(ctx context.Context, req SlotActionRequest) (*DepositCall, error)
	ApproveCall(ctx context.Context, req SlotActionRequest) (*DepositCall, error)
	RejectCall(ctx context.Context, req SlotActionRequest) (*DepositCall, error)
	MarkCallAnswered(ctx context.Context, req SlotActionRequest) (*DepositCall, error)
	MarkCallRejected(ctx context.Context, req SlotActionRequest) (*DepositCall, error)

	PendingApprovals(ctx context.Context, accountManager string) ([]PendingApproval, error)
	UpcomingAppointments(ctx context.Context, start, end time.Time, accountManager, assignedAgent string) ([]Appointment, error)

	UpdateAssignment(ctx context.Context, req AssignRequest) (*DepositCall, error)
	Cancel(ctx context.Context, id snowflake.ID) (*DepositCall, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *DepositCall) error
	Save(ctx context.Context, db *gorm.DB, record *DepositCall) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DepositCall, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*DepositCall, error)
	// FindConfirmedForLead returns active, deposit-confirmed records for a
	// lead, matched by lead id first and by the lead's email as a fallback
	// for records imported before lead linking existed.
	FindConfirmedForLead(ctx context.Context, db *gorm.DB, leadID snowflake.ID, email string) ([]*DepositCall, error)
	// FindActiveForLead returns the lead's active records regardless of
	// confirmation state, with the same email fallback.
	FindActiveForLead(ctx context.Context, db *gorm.DB, leadID snowflake.ID, email string) ([]*DepositCall, error)
	FindActive(ctx context.Context, db *gorm.DB) ([]*DepositCall, error)
}
