package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	"github.com/brokerdesk/callbonus/internal/audit"
	"github.com/brokerdesk/callbonus/internal/authorization"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/config"
	"github.com/brokerdesk/callbonus/internal/declaration"
	"github.com/brokerdesk/callbonus/internal/depositcall"
	"github.com/brokerdesk/callbonus/internal/lead"
	"github.com/brokerdesk/callbonus/internal/ledger"
	"github.com/brokerdesk/callbonus/internal/observability"
	"github.com/brokerdesk/callbonus/internal/order"
	"github.com/brokerdesk/callbonus/internal/ratelimit"
	"github.com/brokerdesk/callbonus/internal/reversal"
	"github.com/brokerdesk/callbonus/pkg/db"
	"github.com/brokerdesk/callbonus/pkg/log"
)

type idList []snowflake.ID

func (l *idList) String() string {
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(value string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return fmt.Errorf("invalid declaration id %q", value)
	}
	*l = append(*l, id)
	return nil
}

// validateTargets enforces the scope rules: exactly one of -id, -month/-year
// or -all, and confirmation resets only against explicit ids. The bare -all
// keeps the everything-run deliberate.
func validateTargets(ids idList, month, year int, all, resetConf bool) error {
	targets := 0
	if len(ids) > 0 {
		targets++
	}
	if month != 0 || year != 0 {
		targets++
	}
	if all {
		targets++
	}
	if targets == 0 {
		return errors.New("nothing to do: pass -id, -month and -year, or -all")
	}
	if targets > 1 {
		return errors.New("-id, -month/-year and -all are mutually exclusive")
	}
	if (month == 0) != (year == 0) {
		return errors.New("-month and -year go together")
	}
	if resetConf && len(ids) == 0 {
		return errors.New("-reset-deposit-confirmation needs explicit -id targets")
	}
	return nil
}

func main() {
	var (
		ids       idList
		month     = flag.Int("month", 0, "reverse all active declarations in this payroll month (requires -year)")
		year      = flag.Int("year", 0, "payroll year for -month")
		all       = flag.Bool("all", false, "reverse every active declaration")
		dryRun    = flag.Bool("dry-run", false, "print what would change without writing")
		resetConf = flag.Bool("reset-deposit-confirmation", false, "also clear deposit confirmations (only with -id)")
	)
	flag.Var(&ids, "id", "declaration id to reverse, repeatable")
	flag.Parse()

	if err := validateTargets(ids, *month, *year, *all, *resetConf); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	scope := reversal.Scope{IDs: ids, Month: *month, Year: *year}
	opts := reversal.Options{DryRun: *dryRun, ResetDepositConfirmation: *resetConf}

	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		observability.Module,
		authorization.Module,
		audit.Module,
		lead.Module,
		order.Module,
		depositcall.Module,
		declaration.Module,
		ledger.Module,
		ratelimit.Module,
		reversal.Module,

		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, p runParams) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						code := run(p, scope, opts)
						_ = shutdowner.Shutdown(fx.ExitCode(code))
					}()
					return nil
				},
			})
		}),
	)
	app.Run()
}

type runParams struct {
	fx.In

	Engine  *reversal.Engine
	Limiter *ratelimit.DeclarationLimiter `optional:"true"`
	Log     *zap.Logger
}

func run(p runParams, scope reversal.Scope, opts reversal.Options) int {
	ctx := actorctx.WithActor(context.Background(), actorctx.System())
	log := p.Log.Named("reversal.cli")

	// writes are serialized across operators; a dry run never conflicts
	if p.Limiter != nil && p.Limiter.Enabled() && !opts.DryRun {
		token, ok, err := p.Limiter.TryLockReversalRun(ctx)
		if err != nil {
			log.Error("run lock unavailable", zap.Error(err))
			return 1
		}
		if !ok {
			log.Error("another reversal run is in progress")
			return 1
		}
		defer func() {
			if err := p.Limiter.ReleaseReversalRun(ctx, token); err != nil {
				log.Warn("run lock not released", zap.Error(err))
			}
		}()
	}

	summary, err := p.Engine.Run(ctx, scope, opts, os.Stdout)
	if err != nil {
		log.Error("reversal run failed", zap.Error(err))
		return 1
	}
	if summary.Failures > 0 {
		return 1
	}
	return 0
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
