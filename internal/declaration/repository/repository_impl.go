package repository

import (
	"context"
	"errors"

	"github.com/brokerdesk/callbonus/internal/calltype"
	"github.com/brokerdesk/callbonus/internal/declaration/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, declaration *domain.Declaration) error {
	return db.WithContext(ctx).Create(declaration).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, declaration *domain.Declaration) error {
	return db.WithContext(ctx).Save(declaration).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Declaration, error) {
	var declaration domain.Declaration
	err := db.WithContext(ctx).Where("id = ?", id).First(&declaration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &declaration, nil
}

func (r *repo) FindActiveByCDR(ctx context.Context, db *gorm.DB, cdrCallID string) (*domain.Declaration, error) {
	var declaration domain.Declaration
	err := db.WithContext(ctx).
		Where("cdr_call_id = ? AND is_active = ?", cdrCallID, true).
		First(&declaration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &declaration, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Declaration, error) {
	query := db.WithContext(ctx).Model(&domain.Declaration{}).Where("is_active = ?", true)
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	if filter.AffiliateManager != "" {
		query = query.Where("affiliate_manager = ?", filter.AffiliateManager)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("call_category = ?", filter.Category)
	}
	if filter.Month != 0 {
		query = query.Where("declaration_month = ?", filter.Month)
	}
	if filter.Year != 0 {
		query = query.Where("declaration_year = ?", filter.Year)
	}

	var declarations []*domain.Declaration
	if err := query.Order("call_date DESC").Find(&declarations).Error; err != nil {
		return nil, err
	}
	return declarations, nil
}

func (r *repo) ActiveTypeExistsForDepositCall(ctx context.Context, db *gorm.DB, depositCallID snowflake.ID, callType calltype.Type) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Declaration{}).
		Where("deposit_call_id = ? AND call_type = ? AND is_active = ?", depositCallID, callType, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ApprovedForPeriod(ctx context.Context, db *gorm.DB, agentID string, month, year int) ([]*domain.Declaration, error) {
	query := db.WithContext(ctx).Model(&domain.Declaration{}).
		Where("status = ? AND is_active = ? AND declaration_month = ? AND declaration_year = ?",
			domain.StatusApproved, true, month, year)
	if agentID != "" {
		query = query.Where("agent_id = ?", agentID)
	}

	var declarations []*domain.Declaration
	if err := query.Order("agent_id ASC, call_date ASC").Find(&declarations).Error; err != nil {
		return nil, err
	}
	return declarations, nil
}
