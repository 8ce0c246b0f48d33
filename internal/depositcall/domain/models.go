package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SlotCount is the number of nurture-call slots tracked per deposit.
const SlotCount = 10

type SlotStatus string

const (
	SlotPending         SlotStatus = "pending"
	SlotScheduled       SlotStatus = "scheduled"
	SlotPendingApproval SlotStatus = "pending_approval"
	SlotCompleted       SlotStatus = "completed"
	SlotSkipped         SlotStatus = "skipped"
	SlotAnswered        SlotStatus = "answered"
	// SlotRejected is terminal: the FTD declined the call. The claim-rejection
	// retry path never stores this status, it returns the slot to scheduled.
	SlotRejected SlotStatus = "rejected"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CallSlot tracks one nurture call against a confirmed deposit.
type CallSlot struct {
	ExpectedDate *time.Time `json:"expectedDate,omitempty"`
	DoneDate     *time.Time `json:"doneDate,omitempty"`
	Status       SlotStatus `json:"status"`
	MarkedBy     string     `json:"markedBy,omitempty"`
	MarkedAt     *time.Time `json:"markedAt,omitempty"`
	ApprovedBy   string     `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// CallSlots is the fixed array of the 10 slots, stored as one JSON column.
// Slot numbers are 1-based everywhere outside this type.
type CallSlots [SlotCount]CallSlot

// Slot returns the 1-based slot, or ErrSlotOutOfRange.
func (s *CallSlots) Slot(n int) (*CallSlot, error) {
	if n < 1 || n > SlotCount {
		return nil, ErrSlotOutOfRange
	}
	return &s[n-1], nil
}

// DepositCall is the per-lead record the slots live on.
type DepositCall struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	LeadID         snowflake.ID `gorm:"not null;index;uniqueIndex:ux_deposit_calls_lead_order,priority:1,where:order_id IS NOT NULL" json:"leadId"`
	OrderID        *snowflake.ID `gorm:"index;uniqueIndex:ux_deposit_calls_lead_order,priority:2,where:order_id IS NOT NULL" json:"orderId,omitempty"`
	IsCustomRecord bool         `gorm:"not null;default:false" json:"isCustomRecord"`

	AccountManager string `gorm:"type:text;index" json:"accountManager,omitempty"`
	AssignedAgent  string `gorm:"type:text;index" json:"assignedAgent,omitempty"`

	// FTD details denormalized for quick access and email-fallback lookup.
	FTDName  string `gorm:"type:text" json:"ftdName,omitempty"`
	FTDEmail string `gorm:"type:text;index" json:"ftdEmail,omitempty"`
	FTDPhone string `gorm:"type:text" json:"ftdPhone,omitempty"`

	Slots CallSlots `gorm:"type:jsonb;serializer:json" json:"slots"`

	DepositConfirmed     bool          `gorm:"not null;default:false" json:"depositConfirmed"`
	DepositConfirmedBy   string        `gorm:"type:text" json:"depositConfirmedBy,omitempty"`
	DepositConfirmedAt   *time.Time    `json:"depositConfirmedAt,omitempty"`
	DepositDeclarationID *snowflake.ID `json:"depositDeclarationId,omitempty"`

	Status    Status    `gorm:"type:text;not null;default:'active';index" json:"status"`
	CreatedBy string    `gorm:"type:text;not null" json:"createdBy"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (DepositCall) TableName() string { return "deposit_calls" }

// Schedule books a slot for an expected date. Any prior state is overwritten,
// rebooking a missed appointment is the normal flow.
func (d *DepositCall) Schedule(n int, expectedDate time.Time, actor string, now time.Time) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	slot.ExpectedDate = &expectedDate
	slot.Status = SlotScheduled
	slot.MarkedBy = actor
	slot.MarkedAt = &now
	return nil
}

// MarkDone records that the agent made the call and queues it for review.
func (d *DepositCall) MarkDone(n int, actor, notes string, now time.Time) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	slot.DoneDate = &now
	slot.Status = SlotPendingApproval
	slot.MarkedBy = actor
	slot.MarkedAt = &now
	slot.Notes = notes
	return nil
}

// Approve confirms a claimed call.
func (d *DepositCall) Approve(n int, actor string, now time.Time) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	if slot.Status != SlotPendingApproval {
		return ErrSlotNotPendingApproval
	}
	slot.Status = SlotCompleted
	slot.ApprovedBy = actor
	slot.ApprovedAt = &now
	return nil
}

// RejectClaim sends a claimed call back to scheduled so the agent can retry.
func (d *DepositCall) RejectClaim(n int) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	if slot.Status != SlotPendingApproval {
		return ErrSlotNotPendingApproval
	}
	slot.Status = SlotScheduled
	slot.DoneDate = nil
	return nil
}

// MarkAnswered closes a claimed call as answered, a terminal state.
func (d *DepositCall) MarkAnswered(n int, actor, notes string, now time.Time) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	if slot.Status != SlotPendingApproval {
		return ErrSlotNotPendingApproval
	}
	slot.Status = SlotAnswered
	slot.ApprovedBy = actor
	slot.ApprovedAt = &now
	if notes != "" {
		slot.Notes = notes
	}
	return nil
}

// MarkRejected closes a claimed call as rejected by the FTD, a terminal state.
func (d *DepositCall) MarkRejected(n int, actor, notes string, now time.Time) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	if slot.Status != SlotPendingApproval {
		return ErrSlotNotPendingApproval
	}
	slot.Status = SlotRejected
	slot.ApprovedBy = actor
	slot.ApprovedAt = &now
	if notes != "" {
		slot.Notes = notes
	}
	return nil
}

// CompleteFromDeclaration force-completes the slot when the matching bonus
// declaration is approved, even if the agent never claimed it through the
// slot workflow. Already-completed slots are left alone.
func (d *DepositCall) CompleteFromDeclaration(n int, reviewer string, now time.Time) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	if slot.Status == SlotCompleted {
		return nil
	}
	slot.Status = SlotCompleted
	slot.DoneDate = &now
	slot.ApprovedBy = reviewer
	slot.ApprovedAt = &now
	return nil
}

// ResetSlot undoes a declaration-driven completion. Only an exactly completed
// slot is reset; any other state means later progress that a reversal must
// not clobber.
func (d *DepositCall) ResetSlot(n int) error {
	slot, err := d.Slots.Slot(n)
	if err != nil {
		return err
	}
	if slot.Status != SlotCompleted {
		return ErrSlotNotCompleted
	}
	slot.Status = SlotPending
	slot.DoneDate = nil
	slot.ApprovedBy = ""
	slot.ApprovedAt = nil
	return nil
}

// PendingApprovalSlots returns the 1-based numbers of slots awaiting review.
func (d *DepositCall) PendingApprovalSlots() []int {
	var out []int
	for i := range d.Slots {
		if d.Slots[i].Status == SlotPendingApproval {
			out = append(out, i+1)
		}
	}
	return out
}

// CompletedSlotCount counts slots in the completed state.
func (d *DepositCall) CompletedSlotCount() int {
	count := 0
	for i := range d.Slots {
		if d.Slots[i].Status == SlotCompleted {
			count++
		}
	}
	return count
}
