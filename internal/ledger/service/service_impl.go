package service

import (
	"context"
	"errors"
	"strings"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	"github.com/brokerdesk/callbonus/internal/authorization"
	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/ledger/domain"
	"github.com/brokerdesk/callbonus/internal/observability/metrics"
	"github.com/brokerdesk/callbonus/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// adjustRetries bounds optimistic retry on version conflicts.
const adjustRetries = 5

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Authz   authorization.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	authz   authorization.Service
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		authz:   p.Authz,
		metrics: p.Metrics,
	}
}

func validatePeriod(month, year int) error {
	if month < 1 || month > 12 {
		return domain.ErrInvalidPeriod
	}
	if year < 2000 || year > 2200 {
		return domain.ErrInvalidPeriod
	}
	return nil
}

func (s *Service) Find(ctx context.Context, accountManager string, month, year int) (*domain.Table, error) {
	accountManager = strings.TrimSpace(accountManager)
	if accountManager == "" {
		return nil, domain.ErrInvalidOwner
	}
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}
	return s.find(ctx, accountManager, month, year)
}

func (s *Service) GetOrCreate(ctx context.Context, accountManager string, month, year int) (*domain.Table, error) {
	accountManager = strings.TrimSpace(accountManager)
	if accountManager == "" {
		return nil, domain.ErrInvalidOwner
	}
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}

	table, err := s.find(ctx, accountManager, month, year)
	if err != nil {
		return nil, err
	}
	if table == nil {
		now := s.clock.Now()
		table = &domain.Table{
			ID:             s.genID.Generate(),
			AccountManager: accountManager,
			Month:          month,
			Year:           year,
			Rows:           domain.DefaultRows(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.db.WithContext(ctx).Create(table).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return s.find(ctx, accountManager, month, year)
			}
			return nil, err
		}
		return table, nil
	}

	if table.Backfill() {
		// Struct update so the json serializer on Rows runs.
		if err := s.db.WithContext(ctx).Model(&domain.Table{}).
			Where("id = ? AND version = ?", table.ID, table.Version).
			Select("rows", "version", "updated_at").
			Updates(&domain.Table{
				Rows:      table.Rows,
				Version:   table.Version + 1,
				UpdatedAt: s.clock.Now(),
			}).Error; err != nil {
			return nil, err
		}
		table.Version++
	}
	return table, nil
}

func (s *Service) Get(ctx context.Context, accountManager string, month, year int) (*domain.Table, error) {
	actor, ok := actorctx.FromContext(ctx)
	if !ok {
		return nil, domain.ErrForbidden
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectLedger, authorization.ActionLedgerView); err != nil {
		return nil, domain.ErrForbidden
	}
	if actor.IsAffiliateManager() {
		accountManager = actor.ID
	}
	return s.GetOrCreate(ctx, accountManager, month, year)
}

func (s *Service) List(ctx context.Context, month, year int) ([]*domain.Table, error) {
	actor, ok := actorctx.FromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}

	var tables []*domain.Table
	if err := s.db.WithContext(ctx).
		Where("month = ? AND year = ?", month, year).
		Order("account_manager ASC").
		Find(&tables).Error; err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *Service) Adjust(ctx context.Context, accountManager string, month, year int, deltas []domain.RowDelta) (*domain.Table, error) {
	if len(deltas) == 0 {
		return s.GetOrCreate(ctx, accountManager, month, year)
	}

	var lastErr error
	for attempt := 0; attempt < adjustRetries; attempt++ {
		table, err := s.GetOrCreate(ctx, accountManager, month, year)
		if err != nil {
			return nil, err
		}

		for _, delta := range deltas {
			if err := table.Apply(delta); err != nil {
				return nil, err
			}
		}

		updatedBy := "system"
		if actor, ok := actorctx.FromContext(ctx); ok {
			updatedBy = actor.ID
		}

		now := s.clock.Now()
		// Struct update so the json serializer on Rows runs.
		result := s.db.WithContext(ctx).Model(&domain.Table{}).
			Where("id = ? AND version = ?", table.ID, table.Version).
			Select("rows", "version", "last_updated_by", "updated_at").
			Updates(&domain.Table{
				Rows:          table.Rows,
				Version:       table.Version + 1,
				LastUpdatedBy: updatedBy,
				UpdatedAt:     now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			lastErr = domain.ErrConcurrentAdjustment
			continue
		}

		table.Version++
		table.UpdatedAt = now
		table.LastUpdatedBy = updatedBy
		for _, delta := range deltas {
			direction := "credit"
			if delta.CountDelta < 0 || delta.ValueDelta < 0 {
				direction = "debit"
			}
			s.metrics.RecordLedgerAdjustment(delta.RowID, direction)
		}
		return table, nil
	}
	return nil, lastErr
}

func (s *Service) find(ctx context.Context, accountManager string, month, year int) (*domain.Table, error) {
	var table domain.Table
	err := s.db.WithContext(ctx).
		Where("account_manager = ? AND month = ? AND year = ?", accountManager, month, year).
		First(&table).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &table, nil
}
