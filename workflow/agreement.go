package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
)

// CreateAgreementInput is the validated wizard output that produces a
// pending agreement.
type CreateAgreementInput struct {
	Title            string
	Description      string
	ClientAddress    string
	DeveloperID      uint
	DeveloperAddress string
	TotalValue       decimal.Decimal
	Currency         string
	Deadline         *time.Time
	Milestones       []models.DraftMilestone
	Documents        []storage.FileRef
}

func (in *CreateAgreementInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return Validationf("title is required")
	case strings.TrimSpace(in.Description) == "":
		return Validationf("description is required")
	case in.ClientAddress == "" && in.DeveloperAddress == "":
		return Validationf("at least one party wallet address is required")
	case !in.TotalValue.IsPositive():
		return Validationf("total value must be greater than zero")
	case in.Currency == "":
		return Validationf("currency is required")
	}
	return nil
}

// CreateAgreement persists a new agreement with status pending,
// together with its milestones and attached documents.
func (w *Workflow) CreateAgreement(ctx context.Context, client *models.User, in CreateAgreementInput) (*models.Agreement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	ag := &models.Agreement{
		Title:            in.Title,
		Description:      in.Description,
		ClientID:         client.ID,
		DeveloperID:      in.DeveloperID,
		ClientAddress:    in.ClientAddress,
		DeveloperAddress: in.DeveloperAddress,
		TotalValue:       in.TotalValue,
		Currency:         in.Currency,
		Deadline:         in.Deadline,
		Status:           models.AgreementPending,
	}
	if ag.ClientAddress == "" {
		ag.ClientAddress = client.WalletAddress
	}

	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ag).Error; err != nil {
			return err
		}
		for i, m := range in.Milestones {
			ms := models.Milestone{
				AgreementID: ag.ID,
				Position:    i,
				Title:       m.Title,
				Amount:      m.Amount,
				DueDate:     m.DueDate,
				Status:      models.MilestonePending,
			}
			if err := tx.Create(&ms).Error; err != nil {
				return err
			}
		}
		for _, d := range in.Documents {
			doc := models.Document{
				AgreementID: &ag.ID,
				Name:        d.Name,
				Size:        d.Size,
				ContentHash: d.ContentHash,
				URL:         d.URL,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w.GetAgreement(ctx, ag.ID)
}

// SubmitDraft turns a wizard draft into a pending agreement and
// discards the draft. Validation failure leaves the draft untouched.
func (w *Workflow) SubmitDraft(ctx context.Context, client *models.User, draftID string) (*models.Agreement, error) {
	var draft models.AgreementDraft
	if err := w.DB.WithContext(ctx).First(&draft, "id = ?", draftID).Error; err != nil {
		return nil, err
	}
	if draft.ClientID != client.ID {
		return nil, Forbiddenf("draft %s belongs to another client", draftID)
	}

	var milestones []models.DraftMilestone
	if draft.MilestonesJSON != "" {
		if err := json.Unmarshal([]byte(draft.MilestonesJSON), &milestones); err != nil {
			return nil, Validationf("draft milestones are malformed: %v", err)
		}
	}
	var docs []models.DraftDocument
	if draft.DocumentsJSON != "" {
		if err := json.Unmarshal([]byte(draft.DocumentsJSON), &docs); err != nil {
			return nil, Validationf("draft documents are malformed: %v", err)
		}
	}
	refs := make([]storage.FileRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, storage.FileRef{Name: d.Name, Size: d.Size, ContentHash: d.ContentHash, URL: d.URL})
	}

	ag, err := w.CreateAgreement(ctx, client, CreateAgreementInput{
		Title:            draft.Title,
		Description:      draft.Description,
		ClientAddress:    draft.ClientAddress,
		DeveloperID:      draft.DeveloperID,
		DeveloperAddress: draft.DeveloperAddress,
		TotalValue:       draft.TotalValue,
		Currency:         draft.Currency,
		Deadline:         draft.Deadline,
		Milestones:       milestones,
		Documents:        refs,
	})
	if err != nil {
		return nil, err
	}

	if err := w.DB.WithContext(ctx).Delete(&models.AgreementDraft{}, "id = ?", draftID).Error; err != nil {
		return ag, err
	}
	return ag, nil
}

func (w *Workflow) GetAgreement(ctx context.Context, id uint) (*models.Agreement, error) {
	var ag models.Agreement
	err := w.DB.WithContext(ctx).
		Preload("Milestones", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Documents").
		First(&ag, id).Error
	if err != nil {
		return nil, err
	}
	return &ag, nil
}

// MilestonePrice carries the developer's amount for one milestone.
type MilestonePrice struct {
	ID     uint
	Amount decimal.Decimal
}

// PriceInput is the developer's acceptance of the agreement terms.
type PriceInput struct {
	TotalValue       decimal.Decimal
	DeveloperAddress string
	Milestones       []MilestonePrice
}

// PriceAgreement is the pending → priced transition: the developer
// confirms milestone amounts and the total. Milestone amounts must sum
// to the total exactly.
func (w *Workflow) PriceAgreement(ctx context.Context, developer *models.User, agreementID uint, in PriceInput) (*models.Agreement, error) {
	ag, err := w.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if ag.Status != models.AgreementPending {
		return nil, &TransitionError{From: ag.Status, To: models.AgreementPriced}
	}
	if ag.DeveloperID != 0 && ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("agreement %d is assigned to another developer", agreementID)
	}
	if !in.TotalValue.IsPositive() {
		return nil, Validationf("total value must be greater than zero")
	}

	amounts := make(map[uint]decimal.Decimal, len(in.Milestones))
	for _, p := range in.Milestones {
		amounts[p.ID] = p.Amount
	}
	sum := decimal.Zero
	for i := range ag.Milestones {
		if a, ok := amounts[ag.Milestones[i].ID]; ok {
			ag.Milestones[i].Amount = a
		}
		sum = sum.Add(ag.Milestones[i].Amount)
	}
	if len(ag.Milestones) > 0 && !sum.Equal(in.TotalValue) {
		return nil, Validationf("milestone amounts sum to %s but the total value is %s; they must match", sum, in.TotalValue)
	}

	addr := in.DeveloperAddress
	if addr == "" {
		addr = developer.WalletAddress
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range ag.Milestones {
			if err := tx.Model(&ag.Milestones[i]).Update("amount", ag.Milestones[i].Amount).Error; err != nil {
				return err
			}
		}
		return tx.Model(ag).Updates(map[string]interface{}{
			"status":            models.AgreementPriced,
			"total_value":       in.TotalValue,
			"developer_id":      developer.ID,
			"developer_address": addr,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return w.GetAgreement(ctx, agreementID)
}

// ApprovalResult bundles the mutated agreement with the transaction
// record written for the chain call.
type ApprovalResult struct {
	Agreement   *models.Agreement
	Transaction *models.Transaction
}

// ApproveAgreement is the priced → active transition and the single
// place escrow funding happens. The returned transaction still needs
// ConfirmTransaction to pick up its receipt and on-chain id.
func (w *Workflow) ApproveAgreement(ctx context.Context, client *models.User, agreementID uint) (*ApprovalResult, error) {
	ag, err := w.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if ag.Status != models.AgreementPriced {
		return nil, &TransitionError{From: ag.Status, To: models.AgreementActive}
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the client may approve this agreement")
	}
	if !common.IsHexAddress(ag.DeveloperAddress) {
		return nil, Validationf("developer wallet address %q is not a valid hex address; ask the developer to set one", ag.DeveloperAddress)
	}
	if !ag.TotalValue.IsPositive() {
		return nil, Validationf("total value must be greater than zero")
	}

	start := w.now().Add(StartBuffer)
	if ag.Deadline == nil || !ag.Deadline.After(start) {
		return nil, Validationf("deadline must be in the future (after the %s funding buffer)", StartBuffer)
	}

	docHash := ""
	if len(ag.Documents) > 0 {
		docHash = ag.Documents[0].ContentHash
	}

	txHash, err := w.Escrow.CreateAgreement(ctx, ag.DeveloperAddress, ag.Title, docHash, ag.TotalValue, start, *ag.Deadline)
	if err != nil {
		return nil, err
	}

	record := &models.Transaction{
		AgreementID: ag.ID,
		Type:        models.TransactionCreation,
		Network:     w.Network,
		Hash:        txHash,
		Amount:      ag.TotalValue,
		Status:      models.TransactionPendingConfirmation,
	}
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ag).Updates(map[string]interface{}{
			"status":          models.AgreementActive,
			"funding_tx_hash": txHash,
		}).Error; err != nil {
			return err
		}
		_, err := recordTransactionTx(tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	ag.Status = models.AgreementActive
	ag.FundingTxHash = txHash
	return &ApprovalResult{Agreement: ag, Transaction: record}, nil
}

// DeclineAgreement is the priced → rejected/cancelled branch. Terminal,
// no chain call.
func (w *Workflow) DeclineAgreement(ctx context.Context, client *models.User, agreementID uint, to models.AgreementStatus) (*models.Agreement, error) {
	if to != models.AgreementRejected && to != models.AgreementCancelled {
		return nil, Validationf("declining an agreement may only set rejected or cancelled, not %q", to)
	}
	ag, err := w.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the client may decline this agreement")
	}
	if !ag.Status.CanTransitionTo(to) {
		return nil, &TransitionError{From: ag.Status, To: to}
	}
	if err := w.DB.WithContext(ctx).Model(ag).Update("status", to).Error; err != nil {
		return nil, err
	}
	ag.Status = to
	return ag, nil
}

// Transition applies a generic status change, still gated by the
// lifecycle graph. Escrow-touching edges must use their dedicated
// operations instead.
func (w *Workflow) Transition(ctx context.Context, agreementID uint, to models.AgreementStatus) (*models.Agreement, error) {
	ag, err := w.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !ag.Status.CanTransitionTo(to) {
		return nil, &TransitionError{From: ag.Status, To: to}
	}
	if to == models.AgreementActive || to == models.AgreementPaid {
		return nil, Validationf("transition to %q moves funds and must go through its dedicated operation", to)
	}
	if err := w.DB.WithContext(ctx).Model(ag).Update("status", to).Error; err != nil {
		return nil, err
	}
	ag.Status = to
	return ag, nil
}

// ReleasePayment is the → paid transition. It preflights the on-chain
// state so a doomed completion never reaches the wallet.
func (w *Workflow) ReleasePayment(ctx context.Context, client *models.User, agreementID uint) (*ApprovalResult, error) {
	ag, err := w.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !ag.Status.CanTransitionTo(models.AgreementPaid) {
		return nil, &TransitionError{From: ag.Status, To: models.AgreementPaid}
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the client may release payment")
	}
	if ag.OnChainID == nil {
		return nil, Validationf("agreement has no on-chain id yet; wait for the funding transaction to confirm")
	}

	summary, err := w.Escrow.GetAgreementSummary(ctx, *ag.OnChainID)
	if err != nil {
		return nil, err
	}
	if summary.Status != escrow.StatusActive {
		return nil, escrow.NewError(escrow.KindOnChainState,
			"cannot release payment while the on-chain agreement is %s; it must be Active", summary.Status)
	}
	if !strings.EqualFold(summary.Client, client.WalletAddress) {
		return nil, escrow.NewError(escrow.KindWrongAccount,
			"connected wallet %s does not match the on-chain client %s; switch to that account in your wallet provider",
			client.WalletAddress, summary.Client)
	}

	txHash, err := w.Escrow.CompleteAgreement(ctx, *ag.OnChainID)
	if err != nil {
		return nil, err
	}

	record := &models.Transaction{
		AgreementID: ag.ID,
		Type:        models.TransactionCompletion,
		Network:     w.Network,
		Hash:        txHash,
		Amount:      summary.EscrowBalance,
		Status:      models.TransactionPendingConfirmation,
	}
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ag).Update("status", models.AgreementPaid).Error; err != nil {
			return err
		}
		_, err := recordTransactionTx(tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	ag.Status = models.AgreementPaid
	return &ApprovalResult{Agreement: ag, Transaction: record}, nil
}

// markProgress bumps the agreement when milestone work starts or ends.
func (w *Workflow) markProgress(tx *gorm.DB, ag *models.Agreement, to models.AgreementStatus) error {
	if ag.Status == to || !ag.Status.CanTransitionTo(to) {
		return nil
	}
	if err := tx.Model(ag).Update("status", to).Error; err != nil {
		return err
	}
	ag.Status = to
	return nil
}

// IsNotFound reports whether err is a missing-record lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
