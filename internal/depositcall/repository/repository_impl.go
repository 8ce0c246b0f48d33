package repository

import (
	"context"
	"errors"

	"github.com/brokerdesk/callbonus/internal/depositcall/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.DepositCall) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, record *domain.DepositCall) error {
	return db.WithContext(ctx).Save(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DepositCall, error) {
	var record domain.DepositCall
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.DepositCall, error) {
	var records []*domain.DepositCall
	stmt := db.WithContext(ctx).Model(&domain.DepositCall{})
	if filter.AccountManager != "" {
		stmt = stmt.Where("account_manager = ?", filter.AccountManager)
	}
	if filter.AssignedAgent != "" {
		stmt = stmt.Where("assigned_agent = ?", filter.AssignedAgent)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.LeadID != 0 {
		stmt = stmt.Where("lead_id = ?", filter.LeadID)
	}
	err := stmt.Order("created_at desc, id desc").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) FindConfirmedForLead(ctx context.Context, db *gorm.DB, leadID snowflake.ID, email string) ([]*domain.DepositCall, error) {
	var records []*domain.DepositCall
	err := db.WithContext(ctx).
		Where("status = ? AND deposit_confirmed = ?", domain.StatusActive, true).
		Where("lead_id = ?", leadID).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) > 0 || email == "" {
		return records, nil
	}

	// Fallback for records imported before lead linking: match the FTD email.
	err = db.WithContext(ctx).
		Where("status = ? AND deposit_confirmed = ?", domain.StatusActive, true).
		Where("ftd_email = ?", email).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) FindActiveForLead(ctx context.Context, db *gorm.DB, leadID snowflake.ID, email string) ([]*domain.DepositCall, error) {
	var records []*domain.DepositCall
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Where("lead_id = ?", leadID).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) > 0 || email == "" {
		return records, nil
	}

	err = db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Where("ftd_email = ?", email).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB) ([]*domain.DepositCall, error) {
	var records []*domain.DepositCall
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
