package workflow

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeDript/codedript-backend/models"
)

func TestChangeRequestNegotiation(t *testing.T) {
	ctx := context.Background()
	wf := setupWorkflow(t, &MockEscrowClient{})
	client, developer := createTestUsers(t, wf.DB)
	ag := createActiveAgreement(t, wf, client, developer, 1)

	cr, err := wf.CreateChangeRequest(ctx, client, ag.ID, "Add dark mode", "Toggle in settings", oneFile("mock.png"))
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestPending, cr.Status)
	require.Len(t, cr.Files, 1)

	cr, err = wf.ConfirmChangeRequest(ctx, developer, cr.ID, decimal.RequireFromString("50"), "", "two extra days")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestConfirmed, cr.Status)
	assert.Equal(t, "ETH", cr.Currency, "currency defaults to the agreement's")

	// Without an on-chain escrow the client must opt in explicitly.
	_, err = wf.ApproveChangeRequest(ctx, client, cr.ID, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "off_chain_only")

	result, err := wf.ApproveChangeRequest(ctx, client, cr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestApproved, result.Request.Status)
	assert.Nil(t, result.Transaction)
}

func TestApproveChangeRequestAmendsEscrow(t *testing.T) {
	ctx := context.Background()
	wf := setupWorkflow(t, &MockEscrowClient{})
	client, developer := createTestUsers(t, wf.DB)
	ag := createActiveAgreement(t, wf, client, developer, 1)

	onChainID := uint64(9)
	require.NoError(t, wf.DB.Model(ag).Update("on_chain_id", onChainID).Error)

	cr, err := wf.CreateChangeRequest(ctx, client, ag.ID, "Extra page", "Add a pricing page", nil)
	require.NoError(t, err)
	cr, err = wf.ConfirmChangeRequest(ctx, developer, cr.ID, decimal.RequireFromString("75"), "ETH", "")
	require.NoError(t, err)

	// The chain call must land before the database flips the status.
	var statusDuringCall models.ChangeRequestStatus
	mock := wf.Escrow.(*MockEscrowClient)
	mock.RequestChangeFunc = func(ctx context.Context, gotID uint64, description string, additionalCost decimal.Decimal) (string, error) {
		assert.Equal(t, onChainID, gotID)
		assert.True(t, additionalCost.Equal(decimal.RequireFromString("75")))
		var current models.ChangeRequest
		require.NoError(t, wf.DB.First(&current, cr.ID).Error)
		statusDuringCall = current.Status
		return "0xamend", nil
	}

	result, err := wf.ApproveChangeRequest(ctx, client, cr.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestConfirmed, statusDuringCall)
	assert.Equal(t, models.ChangeRequestApproved, result.Request.Status)
	assert.Equal(t, "0xamend", result.Request.TxHash)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, models.TransactionModification, result.Transaction.Type)
	assert.Equal(t, "0xamend", result.Transaction.Hash)
}

func TestIgnoredRequestLeavesPendingSet(t *testing.T) {
	ctx := context.Background()
	wf := setupWorkflow(t, &MockEscrowClient{})
	client, developer := createTestUsers(t, wf.DB)
	ag := createActiveAgreement(t, wf, client, developer, 1)

	keep, err := wf.CreateChangeRequest(ctx, client, ag.ID, "Keep me", "stays pending", nil)
	require.NoError(t, err)
	drop, err := wf.CreateChangeRequest(ctx, client, ag.ID, "Drop me", "gets ignored", nil)
	require.NoError(t, err)

	_, err = wf.IgnoreChangeRequest(ctx, developer, drop.ID)
	require.NoError(t, err)

	pending, err := wf.ListChangeRequests(ctx, ag.ID, models.ChangeRequestPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, keep.ID, pending[0].ID)

	confirmed, err := wf.ListChangeRequests(ctx, ag.ID, models.ChangeRequestConfirmed)
	require.NoError(t, err)
	assert.Empty(t, confirmed, "an ignored request is not confirmed")

	all, err := wf.ListChangeRequests(ctx, ag.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "the ignored row survives")
}

func TestChangeRequestGuards(t *testing.T) {
	ctx := context.Background()
	wf := setupWorkflow(t, &MockEscrowClient{})
	client, developer := createTestUsers(t, wf.DB)
	ag := createActiveAgreement(t, wf, client, developer, 1)

	// Developers cannot open requests.
	_, err := wf.CreateChangeRequest(ctx, developer, ag.ID, "t", "d", nil)
	require.Error(t, err)
	assert.IsType(t, &ForbiddenError{}, err)

	cr, err := wf.CreateChangeRequest(ctx, client, ag.ID, "t", "d", nil)
	require.NoError(t, err)

	// Confirming is the developer's move, rejecting requires a
	// confirmed price first.
	_, err = wf.ConfirmChangeRequest(ctx, client, cr.ID, decimal.Zero, "", "")
	require.Error(t, err)
	assert.IsType(t, &ForbiddenError{}, err)

	_, err = wf.RejectChangeRequest(ctx, client, cr.ID)
	require.Error(t, err)
	assert.IsType(t, &ValidationError{}, err)

	_, err = wf.ConfirmChangeRequest(ctx, developer, cr.ID, decimal.RequireFromString("-1"), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")

	_, err = wf.ConfirmChangeRequest(ctx, developer, cr.ID, decimal.RequireFromString("10"), "", "")
	require.NoError(t, err)
	got, err := wf.RejectChangeRequest(ctx, client, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestRejected, got.Status)
}
