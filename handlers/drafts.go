package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/workflow"
)

type DraftHandler struct {
	db *gorm.DB
	wf *workflow.Workflow
}

func NewDraftHandler(db *gorm.DB, wf *workflow.Workflow) *DraftHandler {
	return &DraftHandler{db: db, wf: wf}
}

type draftResponse struct {
	models.AgreementDraft
	Milestones []models.DraftMilestone `json:"milestones"`
	Documents  []models.DraftDocument  `json:"documents"`
}

func toDraftResponse(d models.AgreementDraft) draftResponse {
	resp := draftResponse{AgreementDraft: d}
	if d.MilestonesJSON != "" {
		json.Unmarshal([]byte(d.MilestonesJSON), &resp.Milestones)
	}
	if d.DocumentsJSON != "" {
		json.Unmarshal([]byte(d.DocumentsJSON), &resp.Documents)
	}
	return resp
}

func (h *DraftHandler) Create(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}

	draft := models.AgreementDraft{
		ID:       uuid.NewString(),
		ClientID: user.ID,
	}
	if err := h.db.Create(&draft).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create draft"})
		return
	}
	c.JSON(http.StatusCreated, toDraftResponse(draft))
}

func (h *DraftHandler) load(c *gin.Context) (*models.AgreementDraft, *models.User, bool) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return nil, nil, false
	}
	var draft models.AgreementDraft
	if err := h.db.First(&draft, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return nil, nil, false
	}
	if draft.ClientID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Draft belongs to another client"})
		return nil, nil, false
	}
	return &draft, user, true
}

func (h *DraftHandler) Get(c *gin.Context) {
	draft, _, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toDraftResponse(*draft))
}

type DraftDetailsRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// PatchDetails shallow-merges the project-details wizard group.
func (h *DraftHandler) PatchDetails(c *gin.Context) {
	draft, _, ok := h.load(c)
	if !ok {
		return
	}
	var req DraftDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Title != nil {
		draft.Title = *req.Title
	}
	if req.Description != nil {
		draft.Description = *req.Description
	}
	h.save(c, draft)
}

type DraftPartiesRequest struct {
	DeveloperID      *uint   `json:"developer_id"`
	ClientAddress    *string `json:"client_address"`
	DeveloperAddress *string `json:"developer_address"`
}

// PatchParties shallow-merges the parties wizard group.
func (h *DraftHandler) PatchParties(c *gin.Context) {
	draft, _, ok := h.load(c)
	if !ok {
		return
	}
	var req DraftPartiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.DeveloperID != nil {
		draft.DeveloperID = *req.DeveloperID
	}
	if req.ClientAddress != nil {
		draft.ClientAddress = *req.ClientAddress
	}
	if req.DeveloperAddress != nil {
		draft.DeveloperAddress = *req.DeveloperAddress
	}
	h.save(c, draft)
}

type DraftTermsRequest struct {
	Deadline  *time.Time              `json:"deadline"`
	Documents *[]models.DraftDocument `json:"documents"`
}

// PatchTerms shallow-merges the files-and-terms wizard group. Files
// must already be uploaded; only their references are stored here.
func (h *DraftHandler) PatchTerms(c *gin.Context) {
	draft, _, ok := h.load(c)
	if !ok {
		return
	}
	var req DraftTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Deadline != nil {
		draft.Deadline = req.Deadline
	}
	if req.Documents != nil {
		data, err := json.Marshal(*req.Documents)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed documents"})
			return
		}
		draft.DocumentsJSON = string(data)
	}
	h.save(c, draft)
}

type DraftPaymentRequest struct {
	TotalValue *decimal.Decimal         `json:"total_value"`
	Currency   *string                  `json:"currency"`
	Milestones *[]models.DraftMilestone `json:"milestones"`
}

// PatchPayment shallow-merges the payment-and-milestones wizard group.
func (h *DraftHandler) PatchPayment(c *gin.Context) {
	draft, _, ok := h.load(c)
	if !ok {
		return
	}
	var req DraftPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.TotalValue != nil {
		draft.TotalValue = *req.TotalValue
	}
	if req.Currency != nil {
		draft.Currency = *req.Currency
	}
	if req.Milestones != nil {
		data, err := json.Marshal(*req.Milestones)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed milestones"})
			return
		}
		draft.MilestonesJSON = string(data)
	}
	h.save(c, draft)
}

func (h *DraftHandler) save(c *gin.Context, draft *models.AgreementDraft) {
	if err := h.db.Save(draft).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update draft"})
		return
	}
	c.JSON(http.StatusOK, toDraftResponse(*draft))
}

// Delete discards the draft. Wizard cancellation path.
func (h *DraftHandler) Delete(c *gin.Context) {
	draft, _, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.db.Delete(draft).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete draft"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Submit validates the draft and turns it into a pending agreement.
// A validation failure leaves the draft untouched.
func (h *DraftHandler) Submit(c *gin.Context) {
	draft, user, ok := h.load(c)
	if !ok {
		return
	}

	agreement, err := h.wf.SubmitDraft(c.Request.Context(), user, draft.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agreement)
}
