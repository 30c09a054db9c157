package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DraftMilestone is the pre-persistence milestone shape carried inside
// a wizard draft, serialized into the draft's milestones column.
type DraftMilestone struct {
	Title   string          `json:"title"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate *time.Time      `json:"due_date,omitempty"`
}

// DraftDocument mirrors Document for files already pushed to the
// content-addressed store during the wizard.
type DraftDocument struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
	URL         string `json:"url"`
}

// AgreementDraft holds in-progress wizard state for one session. Each
// group setter shallow-merges into this row; nothing is validated
// until submission.
type AgreementDraft struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClientID  uint      `gorm:"not null;index" json:"client_id"`

	// Project details
	Title       string `gorm:"size:255" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	// Parties
	DeveloperID      uint   `json:"developer_id"`
	ClientAddress    string `gorm:"size:42" json:"client_address"`
	DeveloperAddress string `gorm:"size:42" json:"developer_address"`

	// Files and terms
	Deadline      *time.Time `json:"deadline"`
	DocumentsJSON string     `gorm:"type:text" json:"-"`

	// Payment and milestones
	TotalValue     decimal.Decimal `gorm:"type:decimal(32,18)" json:"total_value"`
	Currency       string          `gorm:"size:10" json:"currency"`
	MilestonesJSON string          `gorm:"type:text" json:"-"`
}

// TableName overrides the table name
func (AgreementDraft) TableName() string {
	return "agreement_drafts"
}
