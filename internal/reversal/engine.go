package reversal

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/brokerdesk/callbonus/internal/clock"
	declarationdomain "github.com/brokerdesk/callbonus/internal/declaration/domain"
	depositcalldomain "github.com/brokerdesk/callbonus/internal/depositcall/domain"
	leaddomain "github.com/brokerdesk/callbonus/internal/lead/domain"
	ledgerdomain "github.com/brokerdesk/callbonus/internal/ledger/domain"
	"github.com/brokerdesk/callbonus/internal/observability/metrics"
	orderdomain "github.com/brokerdesk/callbonus/internal/order/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scope selects the declarations a run operates on: an explicit id list, a
// payroll period, or every active declaration.
type Scope struct {
	IDs   []snowflake.ID
	Month int
	Year  int
}

// All reports whether the scope selects every active declaration.
func (s Scope) All() bool {
	return len(s.IDs) == 0 && s.Month == 0 && s.Year == 0
}

type Options struct {
	// DryRun prints every computed change without writing any of them.
	DryRun bool
	// ResetDepositConfirmation additionally clears the deposit confirmation
	// on the bound deposit call record and its parent order.
	ResetDepositConfirmation bool
}

// Summary is the closing tally of a run.
type Summary struct {
	Declarations         int `json:"declarations"`
	Deactivated          int `json:"deactivated"`
	LedgerRowsReversed   int `json:"ledgerRowsReversed"`
	SlotsReset           int `json:"slotsReset"`
	ConfirmationsCleared int `json:"confirmationsCleared"`
	Failures             int `json:"failures"`
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Declarations declarationdomain.Repository
	DepositCalls depositcalldomain.Repository
	Leads        leaddomain.Repository
	Orders       orderdomain.Repository
	Ledger       ledgerdomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
}

// Engine unwinds approved declarations: ledger rows are subtracted, slots
// reset and the declaration deactivated. Each declaration is processed
// independently; one failure never aborts the run.
type Engine struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	declarations declarationdomain.Repository
	depositCalls depositcalldomain.Repository
	leads        leaddomain.Repository
	orders       orderdomain.Repository
	ledger       ledgerdomain.Service
	metrics      *metrics.Metrics
}

func New(p Params) *Engine {
	return &Engine{
		db:           p.DB,
		log:          p.Log.Named("reversal.engine"),
		clock:        p.Clock,
		declarations: p.Declarations,
		depositCalls: p.DepositCalls,
		leads:        p.Leads,
		orders:       p.Orders,
		ledger:       p.Ledger,
		metrics:      p.Metrics,
	}
}

func (e *Engine) Run(ctx context.Context, scope Scope, opts Options, out io.Writer) (*Summary, error) {
	declarations, err := e.collect(ctx, scope, out)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Declarations: len(declarations)}
	for _, declaration := range declarations {
		if err := e.process(ctx, declaration, opts, out, summary); err != nil {
			summary.Failures++
			e.metrics.RecordReversalItem("failed")
			e.log.Warn("reversal item failed",
				zap.String("declaration_id", declaration.ID.String()),
				zap.Error(err))
			fmt.Fprintf(out, "declaration %s: FAILED: %v\n", declaration.ID, err)
			continue
		}
		e.metrics.RecordReversalItem("reversed")
	}

	fmt.Fprintf(out, "summary: declarations=%d deactivated=%d ledger_rows=%d slots_reset=%d confirmations_cleared=%d failures=%d\n",
		summary.Declarations, summary.Deactivated, summary.LedgerRowsReversed,
		summary.SlotsReset, summary.ConfirmationsCleared, summary.Failures)
	if opts.DryRun {
		fmt.Fprintln(out, "dry run: no changes were written")
	}
	return summary, nil
}

func (e *Engine) collect(ctx context.Context, scope Scope, out io.Writer) ([]*declarationdomain.Declaration, error) {
	if len(scope.IDs) > 0 {
		declarations := make([]*declarationdomain.Declaration, 0, len(scope.IDs))
		for _, id := range scope.IDs {
			declaration, err := e.declarations.FindByID(ctx, e.db, id)
			if err != nil {
				return nil, err
			}
			if declaration == nil {
				fmt.Fprintf(out, "declaration %s: not found, skipped\n", id)
				continue
			}
			if !declaration.IsActive {
				fmt.Fprintf(out, "declaration %s: already inactive, skipped\n", id)
				continue
			}
			declarations = append(declarations, declaration)
		}
		return declarations, nil
	}

	filter := declarationdomain.ListFilter{Month: scope.Month, Year: scope.Year}
	return e.declarations.List(ctx, e.db, filter)
}

func (e *Engine) process(ctx context.Context, declaration *declarationdomain.Declaration, opts Options, out io.Writer, summary *Summary) error {
	fmt.Fprintf(out, "declaration %s (agent %s, am %s, lead %s, %s/%s, bonus %.2f, status %s):\n",
		declaration.ID, declaration.AgentID,
		orDash(declaration.AffiliateManager), declaration.LeadID,
		orDash(string(declaration.CallType)), string(declaration.CallCategory),
		declaration.TotalBonus, declaration.Status)

	if declaration.Status == declarationdomain.StatusApproved {
		if err := e.reverseLedger(ctx, declaration, opts, out, summary); err != nil {
			return err
		}
		e.resetSlot(ctx, declaration, opts, out, summary)
	}

	if opts.ResetDepositConfirmation {
		e.clearConfirmation(ctx, declaration, opts, out, summary)
	}

	if !opts.DryRun {
		declaration.IsActive = false
		declaration.UpdatedAt = e.clock.Now()
		if err := e.declarations.Save(ctx, e.db, declaration); err != nil {
			return err
		}
	}
	summary.Deactivated++
	fmt.Fprintf(out, "  deactivated (active true -> false)\n")
	return nil
}

func (e *Engine) reverseLedger(ctx context.Context, declaration *declarationdomain.Declaration, opts Options, out io.Writer, summary *Summary) error {
	if declaration.TotalBonus <= 0 {
		return nil
	}
	rowID, err := declaration.CallType.LedgerRowID()
	if err != nil {
		fmt.Fprintf(out, "  ledger: no row for call type %q, skipped\n", declaration.CallType)
		return nil
	}

	manager := declaration.AffiliateManager
	month, year := declaration.DeclarationMonth, declaration.DeclarationYear
	table, err := e.ledger.Find(ctx, manager, month, year)
	if err != nil {
		return err
	}
	if table == nil {
		fmt.Fprintf(out, "  ledger: no table for %s %04d-%02d, skipped\n", manager, year, month)
		return nil
	}

	hours := calltype.Hours(declaration.CallDuration)
	oldRow := table.Rows[rowID]
	oldTT := table.Rows[calltype.TalkingTimeRowID]

	var newRow, newTT ledgerdomain.Row
	if opts.DryRun {
		newRow = ledgerdomain.Row{
			Count: maxInt64(0, oldRow.Count-1),
			Value: math.Max(0, calltype.RoundCents(oldRow.Value-declaration.TotalBonus)),
		}
		newTT = ledgerdomain.Row{
			Value: math.Max(0, calltype.RoundCents(oldTT.Value-hours)),
		}
	} else {
		updated, err := e.ledger.Adjust(ctx, manager, month, year, []ledgerdomain.RowDelta{
			{RowID: rowID, CountDelta: -1, ValueDelta: -declaration.TotalBonus},
			{RowID: calltype.TalkingTimeRowID, ValueDelta: -hours},
		})
		if err != nil {
			return err
		}
		newRow = updated.Rows[rowID]
		newTT = updated.Rows[calltype.TalkingTimeRowID]
	}

	fmt.Fprintf(out, "  ledger %s %04d-%02d %s: count %d -> %d, value %.2f -> %.2f (-%.2f)\n",
		manager, year, month, rowID, oldRow.Count, newRow.Count, oldRow.Value, newRow.Value, declaration.TotalBonus)
	fmt.Fprintf(out, "  ledger %s %04d-%02d %s: %.2f -> %.2f (-%.2f)\n",
		manager, year, month, calltype.TalkingTimeRowID, oldTT.Value, newTT.Value, hours)
	summary.LedgerRowsReversed += 2
	return nil
}

// resetSlot undoes the slot completion, but only when the slot is exactly
// completed. Failures here are logged and do not fail the declaration.
func (e *Engine) resetSlot(ctx context.Context, declaration *declarationdomain.Declaration, opts Options, out io.Writer, summary *Summary) {
	if declaration.CallCategory != calltype.CategoryFTD || declaration.CallType == calltype.Deposit {
		return
	}
	slot, ok := declaration.CallType.SlotNumber()
	if !ok {
		return
	}

	record, err := e.boundDepositCall(ctx, declaration)
	if err != nil {
		e.log.Warn("slot lookup failed", zap.String("declaration_id", declaration.ID.String()), zap.Error(err))
		fmt.Fprintf(out, "  slot: lookup failed: %v\n", err)
		return
	}
	if record == nil {
		fmt.Fprintf(out, "  slot: no deposit call record, skipped\n")
		return
	}

	current, err := record.Slots.Slot(slot)
	if err != nil {
		return
	}
	if current.Status != depositcalldomain.SlotCompleted {
		fmt.Fprintf(out, "  slot %s#%d: status %s, untouched\n", record.ID, slot, current.Status)
		return
	}

	if !opts.DryRun {
		if err := record.ResetSlot(slot); err != nil {
			fmt.Fprintf(out, "  slot %s#%d: reset failed: %v\n", record.ID, slot, err)
			return
		}
		record.UpdatedAt = e.clock.Now()
		if err := e.depositCalls.Save(ctx, e.db, record); err != nil {
			e.log.Warn("slot reset save failed", zap.String("deposit_call_id", record.ID.String()), zap.Error(err))
			fmt.Fprintf(out, "  slot %s#%d: save failed: %v\n", record.ID, slot, err)
			return
		}
		e.metrics.RecordSlotTransition("reset")
	}
	fmt.Fprintf(out, "  slot %s#%d: completed -> pending\n", record.ID, slot)
	summary.SlotsReset++
}

// clearConfirmation wipes the deposit confirmation from both the deposit
// call record and the parent order's per-lead metadata.
func (e *Engine) clearConfirmation(ctx context.Context, declaration *declarationdomain.Declaration, opts Options, out io.Writer, summary *Summary) {
	record, err := e.boundDepositCall(ctx, declaration)
	if err != nil {
		e.log.Warn("confirmation lookup failed", zap.String("declaration_id", declaration.ID.String()), zap.Error(err))
		fmt.Fprintf(out, "  confirmation: lookup failed: %v\n", err)
		return
	}
	if record == nil {
		fmt.Fprintf(out, "  confirmation: no deposit call record, skipped\n")
		return
	}

	cleared := false
	if record.DepositConfirmed || record.DepositConfirmedBy != "" || record.DepositDeclarationID != nil {
		if !opts.DryRun {
			record.DepositConfirmed = false
			record.DepositConfirmedBy = ""
			record.DepositConfirmedAt = nil
			record.DepositDeclarationID = nil
			record.UpdatedAt = e.clock.Now()
			if err := e.depositCalls.Save(ctx, e.db, record); err != nil {
				e.log.Warn("confirmation clear save failed", zap.String("deposit_call_id", record.ID.String()), zap.Error(err))
				fmt.Fprintf(out, "  confirmation: save failed: %v\n", err)
				return
			}
		}
		cleared = true
		fmt.Fprintf(out, "  confirmation: deposit call %s confirmed true -> false\n", record.ID)
	}

	if record.OrderID != nil {
		order, err := e.orders.FindByID(ctx, e.db, *record.OrderID)
		if err != nil {
			e.log.Warn("order lookup failed", zap.String("order_id", record.OrderID.String()), zap.Error(err))
		} else if order != nil && order.MetadataFor(record.LeadID) != nil {
			if opts.DryRun {
				if order.MetadataFor(record.LeadID).DepositConfirmed {
					cleared = true
					fmt.Fprintf(out, "  confirmation: order %s lead %s confirmed true -> false\n", order.ID, record.LeadID)
				}
			} else if order.ClearDepositConfirmation(record.LeadID) {
				order.UpdatedAt = e.clock.Now()
				if err := e.orders.Save(ctx, e.db, order); err != nil {
					e.log.Warn("order confirmation clear failed", zap.String("order_id", order.ID.String()), zap.Error(err))
				} else {
					cleared = true
					fmt.Fprintf(out, "  confirmation: order %s lead %s confirmed true -> false\n", order.ID, record.LeadID)
				}
			}
		}
	}

	if cleared {
		summary.ConfirmationsCleared++
	}
}

func (e *Engine) boundDepositCall(ctx context.Context, declaration *declarationdomain.Declaration) (*depositcalldomain.DepositCall, error) {
	if declaration.DepositCallID != nil {
		return e.depositCalls.FindByID(ctx, e.db, *declaration.DepositCallID)
	}

	lead, err := e.leads.FindByID(ctx, e.db, declaration.LeadID)
	if err != nil {
		return nil, err
	}
	email := ""
	if lead != nil {
		email = lead.Email
	}
	records, err := e.depositCalls.FindActiveForLead(ctx, e.db, declaration.LeadID, email)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if declaration.OrderID != nil && (record.OrderID == nil || *record.OrderID != *declaration.OrderID) {
			continue
		}
		return record, nil
	}
	return nil, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
