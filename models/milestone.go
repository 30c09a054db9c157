package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "pending"
	MilestoneInProgress        MilestoneStatus = "in_progress"
	MilestoneSubmitted         MilestoneStatus = "submitted"
	MilestoneInReview          MilestoneStatus = "in_review"
	MilestoneRevisionRequested MilestoneStatus = "revision_requested"
	MilestoneCompleted         MilestoneStatus = "completed"
	MilestoneApproved          MilestoneStatus = "approved"
	MilestonePaid              MilestoneStatus = "paid"
	MilestoneRejected          MilestoneStatus = "rejected"
)

// Done reports whether the milestone counts as finished for the
// ordering gate on later milestones.
func (s MilestoneStatus) Done() bool {
	return s == MilestoneCompleted || s == MilestoneApproved || s == MilestonePaid
}

type Milestone struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
	AgreementID uint            `gorm:"not null;index" json:"agreement_id"`
	Position    int             `gorm:"not null" json:"position"`
	Title       string          `gorm:"size:255;not null" json:"title"`
	DueDate     *time.Time      `json:"due_date"`
	Amount      decimal.Decimal `gorm:"type:decimal(32,18)" json:"amount"`
	Status      MilestoneStatus `gorm:"size:20;default:'pending'" json:"status"`

	// Submission payload
	SubmissionNotes string     `gorm:"type:text" json:"submission_notes,omitempty"`
	SubmissionLink  string     `gorm:"size:500" json:"submission_link,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`

	// Client review
	Rating         int    `json:"rating,omitempty"`
	Feedback       string `gorm:"type:text" json:"feedback,omitempty"`
	RevisionReason string `gorm:"type:text" json:"revision_reason,omitempty"`

	Deliverables []Document `gorm:"foreignKey:MilestoneID" json:"deliverables,omitempty"`
}

// TableName overrides the table name
func (Milestone) TableName() string {
	return "milestones"
}
