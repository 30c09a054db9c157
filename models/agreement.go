package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AgreementStatus string

const (
	AgreementStatusDraft AgreementStatus = "draft"
	AgreementPending     AgreementStatus = "pending"
	AgreementPriced      AgreementStatus = "priced"
	AgreementRejected    AgreementStatus = "rejected"
	AgreementCancelled   AgreementStatus = "cancelled"
	AgreementActive      AgreementStatus = "active"
	AgreementInProgress  AgreementStatus = "in-progress"
	AgreementCompleted   AgreementStatus = "completed"
	AgreementPaid        AgreementStatus = "paid"
)

// agreementTransitions is the full lifecycle graph. Rejection and
// cancellation are terminal; everything else is monotonic.
var agreementTransitions = map[AgreementStatus][]AgreementStatus{
	AgreementStatusDraft: {AgreementPending},
	AgreementPending:     {AgreementPriced, AgreementCancelled},
	AgreementPriced:      {AgreementActive, AgreementRejected, AgreementCancelled},
	AgreementActive:      {AgreementInProgress, AgreementCompleted, AgreementPaid},
	AgreementInProgress:  {AgreementCompleted},
	AgreementCompleted:   {AgreementPaid},
}

// CanTransitionTo reports whether the lifecycle graph allows moving
// from s to next.
func (s AgreementStatus) CanTransitionTo(next AgreementStatus) bool {
	for _, t := range agreementTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s AgreementStatus) Terminal() bool {
	return len(agreementTransitions[s]) == 0
}

type Agreement struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
	Title            string          `gorm:"size:255;not null" json:"title"`
	Description      string          `gorm:"type:text" json:"description"`
	ClientID         uint            `gorm:"not null;index" json:"client_id"`
	DeveloperID      uint            `gorm:"index" json:"developer_id"`
	ClientAddress    string          `gorm:"size:42" json:"client_address"`
	DeveloperAddress string          `gorm:"size:42" json:"developer_address"`
	TotalValue       decimal.Decimal `gorm:"type:decimal(32,18)" json:"total_value"`
	Currency         string          `gorm:"size:10;not null" json:"currency"`
	Deadline         *time.Time      `json:"deadline"`
	Status           AgreementStatus `gorm:"size:20;default:'pending'" json:"status"`

	// Blockchain linkage. Until OnChainID is set no escrow operation
	// is possible against this agreement.
	OnChainID     *uint64 `gorm:"index" json:"on_chain_id,omitempty"`
	FundingTxHash string  `gorm:"size:66" json:"funding_tx_hash,omitempty"`

	Milestones     []Milestone     `gorm:"foreignKey:AgreementID" json:"milestones,omitempty"`
	Documents      []Document      `gorm:"foreignKey:AgreementID" json:"documents,omitempty"`
	ChangeRequests []ChangeRequest `gorm:"foreignKey:AgreementID" json:"change_requests,omitempty"`

	Client    User `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Developer User `gorm:"foreignKey:DeveloperID" json:"developer,omitempty"`
}

// TableName overrides the table name
func (Agreement) TableName() string {
	return "agreements"
}

// Document is a content-addressed file reference attached to an
// agreement, a milestone submission or a change request.
type Document struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	AgreementID     *uint          `gorm:"index" json:"agreement_id,omitempty"`
	MilestoneID     *uint          `gorm:"index" json:"milestone_id,omitempty"`
	ChangeRequestID *uint          `gorm:"index" json:"change_request_id,omitempty"`
	Name            string         `gorm:"size:255;not null" json:"name"`
	Size            int64          `json:"size"`
	ContentHash     string         `gorm:"size:128;not null;index" json:"content_hash"`
	URL             string         `gorm:"size:500" json:"url"`
}

// TableName overrides the table name
func (Document) TableName() string {
	return "documents"
}
