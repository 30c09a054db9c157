package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/workflow"
)

type TransactionHandler struct {
	db     *gorm.DB
	wf     *workflow.Workflow
	escrow escrow.Client
}

func NewTransactionHandler(db *gorm.DB, wf *workflow.Workflow, esc escrow.Client) *TransactionHandler {
	return &TransactionHandler{db: db, wf: wf, escrow: esc}
}

type RecordTransactionRequest struct {
	AgreementID uint            `json:"agreement_id" binding:"required"`
	Type        string          `json:"type" binding:"required"`
	Network     string          `json:"network"`
	Hash        string          `json:"hash" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
}

// Record stores an on-chain transaction against an agreement.
// Idempotent by hash: re-posting a known hash returns the stored row.
func (h *TransactionHandler) Record(c *gin.Context) {
	if _, ok := currentUser(c, h.db); !ok {
		return
	}

	var req RecordTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Type {
	case models.TransactionCreation, models.TransactionModification, models.TransactionCompletion:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction type"})
		return
	}

	network := req.Network
	if network == "" {
		network = h.wf.Network
	}
	rec := &models.Transaction{
		AgreementID: req.AgreementID,
		Type:        req.Type,
		Network:     network,
		Hash:        req.Hash,
		Amount:      req.Amount,
	}

	created, err := h.wf.RecordTransaction(c.Request.Context(), rec)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, rec)
}

func (h *TransactionHandler) ListByAgreement(c *gin.Context) {
	if _, ok := currentUser(c, h.db); !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var transactions []models.Transaction
	if err := h.db.Where("agreement_id = ?", id).Order("created_at ASC").Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
		return
	}
	c.JSON(http.StatusOK, transactions)
}

// Details inspects a transaction directly on-chain.
func (h *TransactionHandler) Details(c *gin.Context) {
	if _, ok := currentUser(c, h.db); !ok {
		return
	}

	details, err := h.escrow.GetTransactionDetails(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}
