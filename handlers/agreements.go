package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/config"
	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
	"github.com/CodeDript/codedript-backend/workflow"
)

type AgreementHandler struct {
	db       *gorm.DB
	config   *config.Config
	wf       *workflow.Workflow
	uploader storage.Uploader
}

func NewAgreementHandler(db *gorm.DB, cfg *config.Config, wf *workflow.Workflow, uploader storage.Uploader) *AgreementHandler {
	return &AgreementHandler{
		db:       db,
		config:   cfg,
		wf:       wf,
		uploader: uploader,
	}
}

type CreateAgreementRequest struct {
	Title            string                  `json:"title" binding:"required"`
	Description      string                  `json:"description" binding:"required"`
	DeveloperID      uint                    `json:"developer_id"`
	ClientAddress    string                  `json:"client_address"`
	DeveloperAddress string                  `json:"developer_address"`
	TotalValue       decimal.Decimal         `json:"total_value"`
	Currency         string                  `json:"currency" binding:"required"`
	Deadline         *time.Time              `json:"deadline"`
	Milestones       []models.DraftMilestone `json:"milestones"`
	Documents        []models.DraftDocument  `json:"documents"`
}

// Create accepts either JSON with pre-uploaded document references or
// multipart form data whose files are pushed to the content store
// before the agreement is persisted.
func (h *AgreementHandler) Create(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	if user.Role != models.RoleClient {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only clients can create agreements"})
		return
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.createMultipart(c, user)
		return
	}

	var req CreateAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	refs := make([]storage.FileRef, 0, len(req.Documents))
	for _, d := range req.Documents {
		refs = append(refs, storage.FileRef{Name: d.Name, Size: d.Size, ContentHash: d.ContentHash, URL: d.URL})
	}

	agreement, err := h.wf.CreateAgreement(c.Request.Context(), user, workflow.CreateAgreementInput{
		Title:            req.Title,
		Description:      req.Description,
		ClientAddress:    req.ClientAddress,
		DeveloperID:      req.DeveloperID,
		DeveloperAddress: req.DeveloperAddress,
		TotalValue:       req.TotalValue,
		Currency:         req.Currency,
		Deadline:         req.Deadline,
		Milestones:       req.Milestones,
		Documents:        refs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agreement)
}

func (h *AgreementHandler) createMultipart(c *gin.Context, user *models.User) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed multipart form"})
		return
	}
	field := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	in := workflow.CreateAgreementInput{
		Title:            field("title"),
		Description:      field("description"),
		ClientAddress:    field("client_address"),
		DeveloperAddress: field("developer_address"),
		Currency:         field("currency"),
	}
	if v := field("total_value"); v != "" {
		value, err := decimal.NewFromString(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid total_value"})
			return
		}
		in.TotalValue = value
	}
	if v := field("deadline"); v != "" {
		deadline, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid deadline, expected RFC3339"})
			return
		}
		in.Deadline = &deadline
	}
	if v := field("milestones"); v != "" {
		if err := json.Unmarshal([]byte(v), &in.Milestones); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed milestones"})
			return
		}
	}

	files := make([]storage.File, 0, len(form.File["files"]))
	var closers []interface{ Close() error }
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		closers = append(closers, f)
		files = append(files, storage.File{Name: fh.Filename, Content: f})
	}
	if len(files) > 0 {
		refs, err := h.uploader.UploadAll(c.Request.Context(), files)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		in.Documents = refs
	}

	agreement, err := h.wf.CreateAgreement(c.Request.Context(), user, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agreement)
}

func (h *AgreementHandler) loadParty(c *gin.Context) (*models.Agreement, *models.User, bool) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return nil, nil, false
	}
	id, ok := paramID(c)
	if !ok {
		return nil, nil, false
	}
	agreement, err := h.wf.GetAgreement(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	if agreement.ClientID != user.ID && agreement.DeveloperID != user.ID && agreement.DeveloperID != 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a party to this agreement"})
		return nil, nil, false
	}
	return agreement, user, true
}

func (h *AgreementHandler) Get(c *gin.Context) {
	agreement, _, ok := h.loadParty(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, agreement)
}

func (h *AgreementHandler) List(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}

	q := h.db.Preload("Milestones").Order("created_at DESC")
	if user.Role == models.RoleDeveloper {
		q = q.Where("developer_id = ? OR developer_id = 0", user.ID)
	} else {
		q = q.Where("client_id = ?", user.ID)
	}

	var agreements []models.Agreement
	if err := q.Find(&agreements).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch agreements"})
		return
	}
	c.JSON(http.StatusOK, agreements)
}

type UpdateAgreementRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Deadline    *time.Time `json:"deadline"`
}

// Update edits descriptive fields. Allowed only before the developer
// has priced the agreement.
func (h *AgreementHandler) Update(c *gin.Context) {
	agreement, user, ok := h.loadParty(c)
	if !ok {
		return
	}
	if agreement.ClientID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the client may edit the agreement"})
		return
	}
	if agreement.Status != models.AgreementPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Agreement can no longer be edited"})
		return
	}

	var req UpdateAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Deadline != nil {
		updates["deadline"] = *req.Deadline
	}
	if len(updates) > 0 {
		if err := h.db.Model(agreement).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update agreement"})
			return
		}
	}

	updated, err := h.wf.GetAgreement(c.Request.Context(), agreement.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type StatusRequest struct {
	Status models.AgreementStatus `json:"status" binding:"required"`
}

// PatchStatus applies a generic transition through the lifecycle
// graph. Funding and payment release have dedicated endpoints.
func (h *AgreementHandler) PatchStatus(c *gin.Context) {
	agreement, _, ok := h.loadParty(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.wf.Transition(c.Request.Context(), agreement.ID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type PriceAgreementRequest struct {
	TotalValue       decimal.Decimal `json:"total_value"`
	DeveloperAddress string          `json:"developer_address"`
	Milestones       []struct {
		ID     uint            `json:"id"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"milestones"`
}

// Price is the developer's acceptance: milestone amounts plus total.
func (h *AgreementHandler) Price(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	if user.Role != models.RoleDeveloper {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only developers can price an agreement"})
		return
	}

	var req PriceAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := workflow.PriceInput{
		TotalValue:       req.TotalValue,
		DeveloperAddress: req.DeveloperAddress,
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, workflow.MilestonePrice{ID: m.ID, Amount: m.Amount})
	}

	agreement, err := h.wf.PriceAgreement(c.Request.Context(), user, id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

// Approve is the client's acceptance of the price. Funds escrow
// on-chain and records the transaction; receipt confirmation runs in
// the background.
func (h *AgreementHandler) Approve(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	result, err := h.wf.ApproveAgreement(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.confirmAsync(result.Transaction.Hash)

	c.JSON(http.StatusOK, gin.H{
		"agreement":   result.Agreement,
		"transaction": result.Transaction,
	})
}

type DeclineRequest struct {
	Cancel bool `json:"cancel"`
}

// Decline rejects (or cancels) a priced agreement. Terminal, no chain
// interaction.
func (h *AgreementHandler) Decline(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req DeclineRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to := models.AgreementRejected
	if req.Cancel {
		to = models.AgreementCancelled
	}

	agreement, err := h.wf.DeclineAgreement(c.Request.Context(), user, id, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

// Release pays out escrow to the developer after the on-chain
// preflight checks pass.
func (h *AgreementHandler) Release(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	result, err := h.wf.ReleasePayment(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.confirmAsync(result.Transaction.Hash)

	c.JSON(http.StatusOK, gin.H{
		"agreement":   result.Agreement,
		"transaction": result.Transaction,
	})
}

// confirmAsync runs receipt polling off the request path. Exhausted
// confirmation is a degraded success, logged and left pending.
func (h *AgreementHandler) confirmAsync(hash string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := h.wf.ConfirmTransaction(ctx, hash); err != nil {
			log.Printf("confirmation of %s deferred: %v", hash, err)
		}
	}()
}
