// Package member holds company membership used for authorization and
// billing contact resolution.
package member

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Member struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	CompanyID     snowflake.ID `gorm:"not null;index"`
	UserID        snowflake.ID `gorm:"not null;index"`
	Email         string       `gorm:"type:text;not null"`
	Role          string       `gorm:"type:text;not null;default:member"`
	PlatformAdmin bool         `gorm:"not null;default:false"`
	Active        bool         `gorm:"not null;default:true"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Member) TableName() string { return "members" }

// IsActiveMember reports whether the user is an active member of the
// company.
func IsActiveMember(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&Member{}).
		Where("company_id = ? AND user_id = ? AND active = ?", companyID, userID, true).
		Count(&count).Error
	return count > 0, err
}

// IsPlatformAdmin reports whether any active membership of the user
// carries the platform admin flag.
func IsPlatformAdmin(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&Member{}).
		Where("user_id = ? AND platform_admin = ? AND active = ?", userID, true, true).
		Count(&count).Error
	return count > 0, err
}

// BillingContact returns the email of the company's owner, falling
// back to the oldest active member.
func BillingContact(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (string, error) {
	var m Member
	err := db.WithContext(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("CASE WHEN role = 'owner' THEN 0 ELSE 1 END, created_at").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Email, nil
}
