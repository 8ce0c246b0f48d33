package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not_found")

// Lead is the FTD contact record declarations and deposit calls hang off.
type Lead struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	FirstName     string       `gorm:"type:text" json:"firstName"`
	LastName      string       `gorm:"type:text" json:"lastName"`
	Email         string       `gorm:"type:text;index" json:"email"`
	Phone         string       `gorm:"type:text" json:"phone"`
	AssignedAgent string       `gorm:"type:text;index" json:"assignedAgent,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Lead) TableName() string { return "leads" }

func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lead, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Lead, error)
}
