package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ChangeRequestStatus string

const (
	ChangeRequestPending   ChangeRequestStatus = "pending"
	ChangeRequestConfirmed ChangeRequestStatus = "confirmed"
	ChangeRequestApproved  ChangeRequestStatus = "approved"
	ChangeRequestRejected  ChangeRequestStatus = "rejected"
	ChangeRequestIgnored   ChangeRequestStatus = "ignored"
)

type ChangeRequest struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	DeletedAt     gorm.DeletedAt      `gorm:"index" json:"-"`
	AgreementID   uint                `gorm:"not null;index" json:"agreement_id"`
	RequesterID   uint                `gorm:"not null" json:"requester_id"`
	RequesterRole string              `gorm:"size:20" json:"requester_role"`
	Title         string              `gorm:"size:255;not null" json:"title"`
	Description   string              `gorm:"type:text" json:"description"`
	Status        ChangeRequestStatus `gorm:"size:20;default:'pending'" json:"status"`

	// Confirmation payload, set by the developer when pricing the request.
	Amount   decimal.Decimal `gorm:"type:decimal(32,18)" json:"amount"`
	Currency string          `gorm:"size:10" json:"currency,omitempty"`
	Details  string          `gorm:"type:text" json:"details,omitempty"`

	// Set when approval triggered an escrow cost amendment.
	TxHash string `gorm:"size:66" json:"tx_hash,omitempty"`

	Files []Document `gorm:"foreignKey:ChangeRequestID" json:"files,omitempty"`
}

// TableName overrides the table name
func (ChangeRequest) TableName() string {
	return "change_requests"
}
