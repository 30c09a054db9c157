package workflow

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
)

// CreateChangeRequest opens a scope amendment on an active agreement.
// Client-only.
func (w *Workflow) CreateChangeRequest(ctx context.Context, client *models.User, agreementID uint, title, description string, files []storage.FileRef) (*models.ChangeRequest, error) {
	ag, err := w.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the agreement's client may open a change request")
	}
	switch ag.Status {
	case models.AgreementActive, models.AgreementInProgress, models.AgreementCompleted:
	default:
		return nil, Validationf("change requests require an active agreement, this one is %s", ag.Status)
	}
	if title == "" {
		return nil, Validationf("title is required")
	}
	if description == "" {
		return nil, Validationf("description is required")
	}

	cr := &models.ChangeRequest{
		AgreementID:   agreementID,
		RequesterID:   client.ID,
		RequesterRole: models.RoleClient,
		Title:         title,
		Description:   description,
		Status:        models.ChangeRequestPending,
	}
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cr).Error; err != nil {
			return err
		}
		for _, f := range files {
			doc := models.Document{
				ChangeRequestID: &cr.ID,
				Name:            f.Name,
				Size:            f.Size,
				ContentHash:     f.ContentHash,
				URL:             f.URL,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return err
			}
			cr.Files = append(cr.Files, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cr, nil
}

// ListChangeRequests returns an agreement's requests, optionally
// filtered by status. Ignored requests never show up in the pending
// listing.
func (w *Workflow) ListChangeRequests(ctx context.Context, agreementID uint, status models.ChangeRequestStatus) ([]models.ChangeRequest, error) {
	q := w.DB.WithContext(ctx).Preload("Files").Where("agreement_id = ?", agreementID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var requests []models.ChangeRequest
	err := q.Order("created_at ASC").Find(&requests).Error
	return requests, err
}

func (w *Workflow) loadChangeRequest(ctx context.Context, id uint) (*models.ChangeRequest, *models.Agreement, error) {
	var cr models.ChangeRequest
	if err := w.DB.WithContext(ctx).Preload("Files").First(&cr, id).Error; err != nil {
		return nil, nil, err
	}
	ag, err := w.GetAgreement(ctx, cr.AgreementID)
	if err != nil {
		return nil, nil, err
	}
	return &cr, ag, nil
}

// ConfirmChangeRequest is the developer pricing a pending request.
func (w *Workflow) ConfirmChangeRequest(ctx context.Context, developer *models.User, requestID uint, amount decimal.Decimal, currency, details string) (*models.ChangeRequest, error) {
	cr, ag, err := w.loadChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("only the agreement's developer may confirm a change request")
	}
	if cr.Status != models.ChangeRequestPending {
		return nil, Validationf("change request is %s, only a pending request can be confirmed", cr.Status)
	}
	if amount.IsNegative() {
		return nil, Validationf("additional amount cannot be negative")
	}
	if currency == "" {
		currency = ag.Currency
	}

	err = w.DB.WithContext(ctx).Model(cr).Updates(map[string]interface{}{
		"status":   models.ChangeRequestConfirmed,
		"amount":   amount,
		"currency": currency,
		"details":  details,
	}).Error
	if err != nil {
		return nil, err
	}
	cr.Status = models.ChangeRequestConfirmed
	cr.Amount = amount
	cr.Currency = currency
	cr.Details = details
	return cr, nil
}

// IgnoreChangeRequest is the developer declining to price a request.
// Soft state change; the row survives but leaves the pending set.
func (w *Workflow) IgnoreChangeRequest(ctx context.Context, developer *models.User, requestID uint) (*models.ChangeRequest, error) {
	cr, ag, err := w.loadChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ag.DeveloperID != developer.ID {
		return nil, Forbiddenf("only the agreement's developer may ignore a change request")
	}
	if cr.Status != models.ChangeRequestPending {
		return nil, Validationf("change request is %s, only a pending request can be ignored", cr.Status)
	}
	if err := w.DB.WithContext(ctx).Model(cr).Update("status", models.ChangeRequestIgnored).Error; err != nil {
		return nil, err
	}
	cr.Status = models.ChangeRequestIgnored
	return cr, nil
}

// ApproveResult pairs the approved request with the escrow amendment
// transaction, when one was made.
type ApproveResult struct {
	Request     *models.ChangeRequest
	Transaction *models.Transaction
}

// ApproveChangeRequest is the client accepting a confirmed price. When
// the amount is in the escrow's native currency and the agreement is
// on-chain, the escrow cost amendment happens before the status flips;
// without an on-chain id the caller must opt into the off-chain-only
// path explicitly.
func (w *Workflow) ApproveChangeRequest(ctx context.Context, client *models.User, requestID uint, offChainOnly bool) (*ApproveResult, error) {
	cr, ag, err := w.loadChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the agreement's client may approve a change request")
	}
	if cr.Status != models.ChangeRequestConfirmed {
		return nil, Validationf("change request is %s, only a confirmed request can be approved", cr.Status)
	}

	needsChain := cr.Amount.IsPositive() && cr.Currency == w.NativeCurrency
	var record *models.Transaction

	if needsChain && ag.OnChainID == nil {
		if !offChainOnly {
			return nil, Validationf("agreement %d has no on-chain escrow id; pass off_chain_only=true to approve without amending escrow", ag.ID)
		}
		needsChain = false
	}

	txHash := ""
	if needsChain {
		txHash, err = w.Escrow.RequestChange(ctx, *ag.OnChainID, cr.Title+": "+cr.Description, cr.Amount)
		if err != nil {
			return nil, err
		}
		record = &models.Transaction{
			AgreementID: ag.ID,
			Type:        models.TransactionModification,
			Network:     w.Network,
			Hash:        txHash,
			Amount:      cr.Amount,
			Status:      models.TransactionPendingConfirmation,
		}
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": models.ChangeRequestApproved}
		if txHash != "" {
			updates["tx_hash"] = txHash
		}
		if err := tx.Model(cr).Updates(updates).Error; err != nil {
			return err
		}
		if record != nil {
			if _, err := recordTransactionTx(tx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cr.Status = models.ChangeRequestApproved
	cr.TxHash = txHash
	return &ApproveResult{Request: cr, Transaction: record}, nil
}

// RejectChangeRequest is the client declining a confirmed price.
// Terminal for the request, no chain call.
func (w *Workflow) RejectChangeRequest(ctx context.Context, client *models.User, requestID uint) (*models.ChangeRequest, error) {
	cr, ag, err := w.loadChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ag.ClientID != client.ID {
		return nil, Forbiddenf("only the agreement's client may reject a change request")
	}
	if cr.Status != models.ChangeRequestConfirmed {
		return nil, Validationf("change request is %s, only a confirmed request can be rejected", cr.Status)
	}
	if err := w.DB.WithContext(ctx).Model(cr).Update("status", models.ChangeRequestRejected).Error; err != nil {
		return nil, err
	}
	cr.Status = models.ChangeRequestRejected
	return cr, nil
}
