package domain

import (
	"time"

	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Declaration is one claimed call bonus, keyed to the CDR record the agent
// references. The CDR call id is unique among active declarations only, a
// reversed declaration frees the id for redeclaration.
type Declaration struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	AgentID          string        `gorm:"type:text;not null;index" json:"agentId"`
	AffiliateManager string        `gorm:"type:text;not null;index" json:"affiliateManager"`
	LeadID           snowflake.ID  `gorm:"not null;index" json:"leadId"`
	OrderID          *snowflake.ID `gorm:"index" json:"orderId,omitempty"`
	DepositCallID    *snowflake.ID `gorm:"index" json:"depositCallId,omitempty"`

	CDRCallID         string            `gorm:"type:text;not null;uniqueIndex:ux_declarations_active_cdr,where:is_active" json:"cdrCallId"`
	CallDate          time.Time         `gorm:"not null;index" json:"callDate"`
	CallDuration      int64             `gorm:"not null" json:"callDuration"`
	SourceNumber      string            `gorm:"type:text" json:"sourceNumber,omitempty"`
	DestinationNumber string            `gorm:"type:text" json:"destinationNumber,omitempty"`
	LineNumber        string            `gorm:"type:text" json:"lineNumber,omitempty"`
	CallType          calltype.Type     `gorm:"type:text" json:"callType,omitempty"`
	CallCategory      calltype.Category `gorm:"type:text;not null" json:"callCategory"`
	Description       string            `gorm:"type:text" json:"description,omitempty"`
	RecordFile        string            `gorm:"type:text" json:"recordFile,omitempty"`

	BaseBonus   float64 `gorm:"not null;default:0" json:"baseBonus"`
	HourlyBonus float64 `gorm:"not null;default:0" json:"hourlyBonus"`
	TotalBonus  float64 `gorm:"not null;default:0" json:"totalBonus"`

	// Payroll period, seeded from the call date but kept independent so a
	// late-month declaration can be moved to the next period.
	DeclarationMonth int `gorm:"not null;index" json:"declarationMonth"`
	DeclarationYear  int `gorm:"not null;index" json:"declarationYear"`

	Status      Status     `gorm:"type:text;not null;default:'pending';index" json:"status"`
	ReviewedBy  string     `gorm:"type:text" json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	ReviewNotes string     `gorm:"type:text" json:"reviewNotes,omitempty"`

	IsActive  bool      `gorm:"not null;default:true;index" json:"isActive"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Declaration) TableName() string { return "declarations" }

// Reviewable reports whether the declaration can still be approved or
// rejected.
func (d *Declaration) Reviewable() bool {
	return d.IsActive && d.Status == StatusPending
}
