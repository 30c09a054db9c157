package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
	"github.com/CodeDript/codedript-backend/workflow"
)

type ChangeRequestHandler struct {
	db       *gorm.DB
	wf       *workflow.Workflow
	uploader storage.Uploader
}

func NewChangeRequestHandler(db *gorm.DB, wf *workflow.Workflow, uploader storage.Uploader) *ChangeRequestHandler {
	return &ChangeRequestHandler{db: db, wf: wf, uploader: uploader}
}

type CreateChangeRequestRequest struct {
	AgreementID uint                   `json:"agreement_id" binding:"required"`
	Title       string                 `json:"title" binding:"required"`
	Description string                 `json:"description" binding:"required"`
	Files       []models.DraftDocument `json:"files"`
}

func (h *ChangeRequestHandler) Create(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}

	var req CreateChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	refs := make([]storage.FileRef, 0, len(req.Files))
	for _, f := range req.Files {
		refs = append(refs, storage.FileRef{Name: f.Name, Size: f.Size, ContentHash: f.ContentHash, URL: f.URL})
	}

	request, err := h.wf.CreateChangeRequest(c.Request.Context(), user, req.AgreementID, req.Title, req.Description, refs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (h *ChangeRequestHandler) ListByAgreement(c *gin.Context) {
	if _, ok := currentUser(c, h.db); !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	requests, err := h.wf.ListChangeRequests(c.Request.Context(), id, models.ChangeRequestStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

type ConfirmChangeRequestRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Details  string          `json:"details"`
}

func (h *ChangeRequestHandler) Confirm(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req ConfirmChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.wf.ConfirmChangeRequest(c.Request.Context(), user, id, req.Amount, req.Currency, req.Details)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (h *ChangeRequestHandler) Ignore(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	request, err := h.wf.IgnoreChangeRequest(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

type ApproveChangeRequestRequest struct {
	OffChainOnly bool `json:"off_chain_only"`
}

func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req ApproveChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.wf.ApproveChangeRequest(c.Request.Context(), user, id, req.OffChainOnly)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"change_request": result.Request}
	if result.Transaction != nil {
		resp["transaction"] = result.Transaction
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	request, err := h.wf.RejectChangeRequest(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// UploadFile pushes multipart files to the content store and returns
// their references. An upload failure returns no partial result.
func (h *ChangeRequestHandler) UploadFile(c *gin.Context) {
	if _, ok := currentUser(c, h.db); !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed multipart form"})
		return
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		fileHeaders = form.File["file"]
	}
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}

	var files []storage.File
	var closers []interface{ Close() error }
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		closers = append(closers, f)
		files = append(files, storage.File{Name: fh.Filename, Content: f})
	}

	refs, err := h.uploader.UploadAll(c.Request.Context(), files)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"files": refs})
}
