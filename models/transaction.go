package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TransactionCreation     = "creation"
	TransactionModification = "modification"
	TransactionCompletion   = "completion"
)

const (
	TransactionPendingConfirmation = "pending_confirmation"
	TransactionConfirmed           = "confirmed"
)

// Transaction is the off-chain record of an on-chain action. A row is
// written as soon as the wallet returns a hash; block metadata is
// filled in once the transaction is mined.
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
	AgreementID uint            `gorm:"not null;index" json:"agreement_id"`
	Type        string          `gorm:"size:20;not null" json:"type"` // creation, modification, completion
	Network     string          `gorm:"size:40" json:"network"`
	Hash        string          `gorm:"uniqueIndex;size:66;not null" json:"hash"`
	Amount      decimal.Decimal `gorm:"type:decimal(32,18)" json:"amount"`
	Status      string          `gorm:"size:30;default:'pending_confirmation'" json:"status"` // pending_confirmation, confirmed
	BlockNumber *uint64         `json:"block_number,omitempty"`
	BlockTime   *time.Time      `json:"block_time,omitempty"`
	GasUsed     uint64          `json:"gas_used,omitempty"`
}

// TableName overrides the table name
func (Transaction) TableName() string {
	return "transactions"
}
