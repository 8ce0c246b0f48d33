package domain

import (
	"time"

	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/bwmarrin/snowflake"
)

// Row is one line of a monthly affiliate manager table. Call rows track a
// call count and the bonus value earned; the talking time row keeps the
// count at zero and accumulates hours in Value.
type Row struct {
	Label string  `json:"label"`
	Count int64   `json:"count"`
	Value float64 `json:"value"`
}

// Rows maps row id to its current state, stored as one JSON column.
type Rows map[string]Row

// Table is the per-manager, per-month bonus ledger. Version guards
// concurrent adjustments.
type Table struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountManager string       `gorm:"type:text;not null;uniqueIndex:ux_am_tables_owner_period,priority:1" json:"accountManager"`
	Month          int          `gorm:"not null;uniqueIndex:ux_am_tables_owner_period,priority:2" json:"month"`
	Year           int          `gorm:"not null;uniqueIndex:ux_am_tables_owner_period,priority:3" json:"year"`

	Rows    Rows  `gorm:"type:jsonb;serializer:json" json:"rows"`
	Version int64 `gorm:"not null;default:0" json:"version"`

	LastUpdatedBy string `gorm:"type:text" json:"lastUpdatedBy,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Table) TableName() string { return "affiliate_manager_tables" }

var rowLabels = map[string]string{
	"deposit_calls":           "Deposit Calls",
	"first_am_call":           "First AM Call",
	"second_am_call":          "Second AM Call",
	"third_am_call":           "Third AM Call",
	"fourth_am_call":          "Fourth AM Call",
	"fifth_am_call":           "Fifth AM Call",
	"sixth_am_call":           "Sixth AM Call",
	"seventh_am_call":         "Seventh AM Call",
	"eighth_am_call":          "Eighth AM Call",
	"ninth_am_call":           "Ninth AM Call",
	"tenth_am_call":           "Tenth AM Call",
	calltype.TalkingTimeRowID: "Total Talking Time",
}

// DefaultRows returns a zeroed row set covering every call type plus the
// talking time accumulator.
func DefaultRows() Rows {
	rows := make(Rows, len(rowLabels))
	for id, label := range rowLabels {
		rows[id] = Row{Label: label}
	}
	return rows
}

// Backfill adds any row ids missing from older tables. It reports whether
// anything was added.
func (t *Table) Backfill() bool {
	if t.Rows == nil {
		t.Rows = DefaultRows()
		return true
	}
	changed := false
	for id, label := range rowLabels {
		if _, ok := t.Rows[id]; !ok {
			t.Rows[id] = Row{Label: label}
			changed = true
		}
	}
	return changed
}

// Apply accumulates one delta into a row. Counts and values never go below
// zero, and values are rounded to cents after accumulation.
func (t *Table) Apply(delta RowDelta) error {
	row, ok := t.Rows[delta.RowID]
	if !ok {
		return ErrUnknownRow
	}
	row.Count += delta.CountDelta
	if row.Count < 0 {
		row.Count = 0
	}
	row.Value = calltype.RoundCents(row.Value + delta.ValueDelta)
	if row.Value <= 0 {
		row.Value = 0
	}
	t.Rows[delta.RowID] = row
	return nil
}
