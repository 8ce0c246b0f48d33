package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not_found")

// LeadMetadata is the per-lead state carried on an order, including the
// deposit confirmation the remediation flow may need to clear.
type LeadMetadata struct {
	LeadID             snowflake.ID `json:"leadId"`
	DepositConfirmed   bool         `json:"depositConfirmed"`
	DepositConfirmedBy string       `json:"depositConfirmedBy,omitempty"`
	DepositConfirmedAt *time.Time   `json:"depositConfirmedAt,omitempty"`
	DepositPSP         string       `json:"depositPSP,omitempty"`
	DepositCardIssuer  string       `json:"depositCardIssuer,omitempty"`
}

type Order struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	LeadsMetadata []LeadMetadata `gorm:"type:jsonb;serializer:json" json:"leadsMetadata"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// MetadataFor returns the metadata entry for a lead, or nil.
func (o *Order) MetadataFor(leadID snowflake.ID) *LeadMetadata {
	for i := range o.LeadsMetadata {
		if o.LeadsMetadata[i].LeadID == leadID {
			return &o.LeadsMetadata[i]
		}
	}
	return nil
}

// ClearDepositConfirmation wipes the deposit confirmation for a lead and
// reports whether anything changed.
func (o *Order) ClearDepositConfirmation(leadID snowflake.ID) bool {
	meta := o.MetadataFor(leadID)
	if meta == nil {
		return false
	}
	changed := meta.DepositConfirmed || meta.DepositConfirmedBy != "" ||
		meta.DepositConfirmedAt != nil || meta.DepositPSP != "" || meta.DepositCardIssuer != ""
	meta.DepositConfirmed = false
	meta.DepositConfirmedBy = ""
	meta.DepositConfirmedAt = nil
	meta.DepositPSP = ""
	meta.DepositCardIssuer = ""
	return changed
}

// ConfirmDeposit records a deposit confirmation for a lead, adding the
// metadata entry when the order has none yet.
func (o *Order) ConfirmDeposit(leadID snowflake.ID, by, psp, cardIssuer string, at time.Time) {
	meta := o.MetadataFor(leadID)
	if meta == nil {
		o.LeadsMetadata = append(o.LeadsMetadata, LeadMetadata{LeadID: leadID})
		meta = &o.LeadsMetadata[len(o.LeadsMetadata)-1]
	}
	meta.DepositConfirmed = true
	meta.DepositConfirmedBy = by
	meta.DepositConfirmedAt = &at
	if psp != "" {
		meta.DepositPSP = psp
	}
	if cardIssuer != "" {
		meta.DepositCardIssuer = cardIssuer
	}
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	Save(ctx context.Context, db *gorm.DB, order *Order) error
}
