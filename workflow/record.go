package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/models"
)

// recordTransactionTx inserts a transaction record unless one with the
// same hash already exists. Recording is idempotent by hash: the
// second attempt returns the stored row untouched.
func recordTransactionTx(tx *gorm.DB, rec *models.Transaction) (created bool, err error) {
	var existing models.Transaction
	err = tx.Where("hash = ?", rec.Hash).First(&existing).Error
	if err == nil {
		*rec = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if rec.Status == "" {
		rec.Status = models.TransactionPendingConfirmation
	}
	if err := tx.Create(rec).Error; err != nil {
		return false, err
	}
	return true, nil
}

// RecordTransaction stores an on-chain transaction record, idempotent
// by hash.
func (w *Workflow) RecordTransaction(ctx context.Context, rec *models.Transaction) (created bool, err error) {
	return recordTransactionTx(w.DB.WithContext(ctx), rec)
}

// ConfirmTransaction polls for the transaction's receipt on a bounded
// exponential-backoff schedule, then persists block metadata. For a
// creation transaction the on-chain agreement id from the
// AgreementCreated event is stored on the agreement in the same
// database transaction, so the id is never recovered after the fact.
//
// Exhausting the schedule returns ErrConfirmationPending: the chain
// effect already succeeded and the record stays pending_confirmation.
func (w *Workflow) ConfirmTransaction(ctx context.Context, hash string) error {
	var rec models.Transaction
	if err := w.DB.WithContext(ctx).Where("hash = ?", hash).First(&rec).Error; err != nil {
		return err
	}
	if rec.Status == models.TransactionConfirmed {
		return nil
	}

	delay := w.Confirm.BaseDelay
	for attempt := 0; attempt < w.Confirm.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > w.Confirm.MaxDelay {
				delay = w.Confirm.MaxDelay
			}
		}

		conf, err := w.Escrow.ConfirmedTransaction(ctx, hash)
		if err != nil {
			if escrow.KindOf(err) == escrow.KindNotMined {
				continue
			}
			return err
		}

		return w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			updates := map[string]interface{}{
				"status":       models.TransactionConfirmed,
				"block_number": conf.BlockNumber,
				"gas_used":     conf.GasUsed,
			}
			if !conf.BlockTime.IsZero() {
				updates["block_time"] = conf.BlockTime
			}
			if err := tx.Model(&rec).Updates(updates).Error; err != nil {
				return err
			}
			if rec.Type == models.TransactionCreation && conf.AgreementID != nil {
				if err := tx.Model(&models.Agreement{}).
					Where("id = ?", rec.AgreementID).
					Update("on_chain_id", *conf.AgreementID).Error; err != nil {
					return err
				}
			}
			return nil
		})
	}

	return ErrConfirmationPending
}
