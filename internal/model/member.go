// Package model contains the application's data model definitions.
package model

import "time"

// Member is an authenticated end user of one tenant's benefits program.
type Member struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantSchema string    `gorm:"size:64;index;not null" json:"tenantSchema"`
	Username     string    `gorm:"size:128;uniqueIndex;not null" json:"username"`
	Password     string    `gorm:"size:255;not null" json:"-"`
	FullName     string    `gorm:"size:255" json:"fullName"`
	Email        string    `gorm:"size:255" json:"email"`
	Phone        string    `gorm:"size:32" json:"phone"`
	PlanTier     string    `gorm:"size:64" json:"planTier"`
	Company      string    `gorm:"size:255" json:"company"`
	Role         string    `gorm:"size:32;default:MEMBER" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Member) TableName() string {
	return "members"
}
