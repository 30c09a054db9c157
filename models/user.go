package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleClient    = "client"
	RoleDeveloper = "developer"
)

type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	WalletAddress string         `gorm:"uniqueIndex;size:42;not null" json:"wallet_address"`
	Name          string         `gorm:"size:255" json:"name"`
	Role          string         `gorm:"size:20" json:"role"` // client, developer
	LoginNonce    string         `gorm:"size:128" json:"-"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}
