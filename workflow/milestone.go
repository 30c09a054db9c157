package workflow

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
)

// ListMilestones returns the agreement's milestones in order.
func (w *Workflow) ListMilestones(ctx context.Context, agreementID uint) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := w.DB.WithContext(ctx).
		Preload("Deliverables").
		Where("agreement_id = ?", agreementID).
		Order("position ASC").
		Find(&milestones).Error
	return milestones, err
}

// CanComplete reports whether the milestone at position may be
// completed: every milestone at a lower position must already be done.
func CanComplete(milestones []models.Milestone, position int) bool {
	for _, m := range milestones {
		if m.Position < position && !m.Status.Done() {
			return false
		}
	}
	return true
}

func blocking(milestones []models.Milestone, position int) *models.Milestone {
	for i := range milestones {
		if milestones[i].Position < position && !milestones[i].Status.Done() {
			return &milestones[i]
		}
	}
	return nil
}

func (w *Workflow) loadMilestone(ctx context.Context, id uint) (*models.Milestone, *models.Agreement, error) {
	var ms models.Milestone
	if err := w.DB.WithContext(ctx).Preload("Deliverables").First(&ms, id).Error; err != nil {
		return nil, nil, err
	}
	ag, err := w.GetAgreement(ctx, ms.AgreementID)
	if err != nil {
		return nil, nil, err
	}
	return &ms, ag, nil
}

// StartMilestone moves pending → in_progress and bumps the agreement
// to in-progress on the first start.
func (w *Workflow) StartMilestone(ctx context.Context, developer *models.User, milestoneID uint) (*models.Milestone, error) {
	ms, ag, err := w.loadMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("only the agreement's developer may start a milestone")
	}
	if ms.Status != models.MilestonePending {
		return nil, Validationf("milestone %q is %s, only a pending milestone can be started", ms.Title, ms.Status)
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ms).Update("status", models.MilestoneInProgress).Error; err != nil {
			return err
		}
		return w.markProgress(tx, ag, models.AgreementInProgress)
	})
	if err != nil {
		return nil, err
	}
	ms.Status = models.MilestoneInProgress
	return ms, nil
}

// AttachDeliverables stores uploaded file references against a
// persisted milestone.
func (w *Workflow) AttachDeliverables(ctx context.Context, developer *models.User, milestoneID uint, refs []storage.FileRef) (*models.Milestone, error) {
	ms, ag, err := w.loadMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("only the agreement's developer may attach deliverables")
	}
	if len(refs) == 0 {
		return nil, Validationf("no files provided")
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range refs {
			doc := models.Document{
				MilestoneID: &ms.ID,
				Name:        r.Name,
				Size:        r.Size,
				ContentHash: r.ContentHash,
				URL:         r.URL,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
			ms.Deliverables = append(ms.Deliverables, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// SubmitMilestone records the deliverable payload and moves the
// milestone to submitted. At least one uploaded file or a
// content-addressed link is required.
func (w *Workflow) SubmitMilestone(ctx context.Context, developer *models.User, milestoneID uint, refs []storage.FileRef, link, notes string) (*models.Milestone, error) {
	ms, ag, err := w.loadMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("only the agreement's developer may submit a milestone")
	}
	switch ms.Status {
	case models.MilestonePending, models.MilestoneInProgress, models.MilestoneRevisionRequested:
	default:
		return nil, Validationf("milestone %q is %s and cannot be submitted", ms.Title, ms.Status)
	}
	if len(refs) == 0 && strings.TrimSpace(link) == "" && len(ms.Deliverables) == 0 {
		return nil, Validationf("attach deliverable files or a content link before submitting")
	}

	now := w.now()
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range refs {
			doc := models.Document{
				MilestoneID: &ms.ID,
				Name:        r.Name,
				Size:        r.Size,
				ContentHash: r.ContentHash,
				URL:         r.URL,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
			ms.Deliverables = append(ms.Deliverables, doc)
		}
		if err := tx.Model(ms).Updates(map[string]interface{}{
			"status":           models.MilestoneSubmitted,
			"submission_link":  link,
			"submission_notes": notes,
			"submitted_at":     now,
		}).Error; err != nil {
			return err
		}
		return w.markProgress(tx, ag, models.AgreementInProgress)
	})
	if err != nil {
		return nil, err
	}
	ms.Status = models.MilestoneSubmitted
	ms.SubmissionLink = link
	ms.SubmissionNotes = notes
	ms.SubmittedAt = &now
	return ms, nil
}

// CompleteMilestone moves a submitted milestone to completed. Refused
// with a concrete reason when an earlier milestone is unfinished or no
// deliverable is attached.
func (w *Workflow) CompleteMilestone(ctx context.Context, developer *models.User, milestoneID uint) (*models.Milestone, error) {
	ms, ag, err := w.loadMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("only the agreement's developer may complete a milestone")
	}
	switch ms.Status {
	case models.MilestoneInProgress, models.MilestoneSubmitted:
	default:
		return nil, Validationf("milestone %q is %s and cannot be completed", ms.Title, ms.Status)
	}
	if b := blocking(ag.Milestones, ms.Position); b != nil {
		return nil, Validationf("milestone %q must be completed before %q", b.Title, ms.Title)
	}
	if len(ms.Deliverables) == 0 && strings.TrimSpace(ms.SubmissionLink) == "" {
		return nil, Validationf("upload at least one deliverable file before completing this milestone")
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ms).Update("status", models.MilestoneCompleted).Error; err != nil {
			return err
		}
		ms.Status = models.MilestoneCompleted
		return w.maybeCompleteAgreement(tx, ag, ms)
	})
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// ApproveMilestone is the client's acceptance of a submission.
func (w *Workflow) ApproveMilestone(ctx context.Context, client *models.User, milestoneID uint, rating int, feedback string) (*models.Milestone, error) {
	ms, ag, err := w.loadMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the client may approve a milestone")
	}
	switch ms.Status {
	case models.MilestoneSubmitted, models.MilestoneCompleted, models.MilestoneInReview:
	default:
		return nil, Validationf("milestone %q is %s and cannot be approved", ms.Title, ms.Status)
	}
	if rating != 0 && (rating < 1 || rating > 5) {
		return nil, Validationf("rating must be between 1 and 5")
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ms).Updates(map[string]interface{}{
			"status":   models.MilestoneApproved,
			"rating":   rating,
			"feedback": feedback,
		}).Error; err != nil {
			return err
		}
		ms.Status = models.MilestoneApproved
		return w.maybeCompleteAgreement(tx, ag, ms)
	})
	if err != nil {
		return nil, err
	}
	ms.Rating = rating
	ms.Feedback = feedback
	return ms, nil
}

// RequestRevision sends a submission back to the developer.
func (w *Workflow) RequestRevision(ctx context.Context, client *models.User, milestoneID uint, reason string) (*models.Milestone, error) {
	ms, ag, err := w.loadMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the client may request a revision")
	}
	switch ms.Status {
	case models.MilestoneSubmitted, models.MilestoneInReview:
	default:
		return nil, Validationf("milestone %q is %s, only a submitted milestone can be sent back", ms.Title, ms.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, Validationf("a revision reason is required")
	}

	err = w.DB.WithContext(ctx).Model(ms).Updates(map[string]interface{}{
		"status":          models.MilestoneRevisionRequested,
		"revision_reason": reason,
	}).Error
	if err != nil {
		return nil, err
	}
	ms.Status = models.MilestoneRevisionRequested
	ms.RevisionReason = reason
	return ms, nil
}

// maybeCompleteAgreement flips the agreement to completed once every
// milestone is done. Informational only, no funds move here.
func (w *Workflow) maybeCompleteAgreement(tx *gorm.DB, ag *models.Agreement, updated *models.Milestone) error {
	allDone := true
	for _, m := range ag.Milestones {
		status := m.Status
		if m.ID == updated.ID {
			status = updated.Status
		}
		if !status.Done() {
			allDone = false
			break
		}
	}
	if !allDone || len(ag.Milestones) == 0 {
		return nil
	}
	return w.markProgress(tx, ag, models.AgreementCompleted)
}
