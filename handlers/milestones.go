package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
	"github.com/CodeDript/codedript-backend/workflow"
)

type MilestoneHandler struct {
	db       *gorm.DB
	wf       *workflow.Workflow
	uploader storage.Uploader
}

func NewMilestoneHandler(db *gorm.DB, wf *workflow.Workflow, uploader storage.Uploader) *MilestoneHandler {
	return &MilestoneHandler{db: db, wf: wf, uploader: uploader}
}

func (h *MilestoneHandler) ListByAgreement(c *gin.Context) {
	if _, ok := currentUser(c, h.db); !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	milestones, err := h.wf.ListMilestones(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestones)
}

func (h *MilestoneHandler) Start(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	milestone, err := h.wf.StartMilestone(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

type SubmitMilestoneRequest struct {
	Files []models.DraftDocument `json:"files"`
	Link  string                 `json:"link"`
	Notes string                 `json:"notes"`
}

// Submit records the deliverable payload. JSON carries pre-uploaded
// references; multipart uploads the files first and aborts the
// submission when any upload fails.
func (h *MilestoneHandler) Submit(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var refs []storage.FileRef
	var link, notes string

	if c.ContentType() == "application/json" {
		var req SubmitMilestoneRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		link, notes = req.Link, req.Notes
		for _, f := range req.Files {
			refs = append(refs, storage.FileRef{Name: f.Name, Size: f.Size, ContentHash: f.ContentHash, URL: f.URL})
		}
	} else {
		uploaded, ok := h.uploadForm(c)
		if !ok {
			return
		}
		refs = uploaded
		link = c.PostForm("link")
		notes = c.PostForm("notes")
	}

	milestone, err := h.wf.SubmitMilestone(c.Request.Context(), user, id, refs, link, notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

// Files attaches more deliverable references to a persisted milestone.
func (h *MilestoneHandler) Files(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var refs []storage.FileRef
	if c.ContentType() == "application/json" {
		var req SubmitMilestoneRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, f := range req.Files {
			refs = append(refs, storage.FileRef{Name: f.Name, Size: f.Size, ContentHash: f.ContentHash, URL: f.URL})
		}
	} else {
		uploaded, ok := h.uploadForm(c)
		if !ok {
			return
		}
		refs = uploaded
	}

	milestone, err := h.wf.AttachDeliverables(c.Request.Context(), user, id, refs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

func (h *MilestoneHandler) Complete(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	milestone, err := h.wf.CompleteMilestone(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

type ApproveMilestoneRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (h *MilestoneHandler) Approve(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req ApproveMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	milestone, err := h.wf.ApproveMilestone(c.Request.Context(), user, id, req.Rating, req.Feedback)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

type RevisionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *MilestoneHandler) RequestRevision(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req RevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	milestone, err := h.wf.RequestRevision(c.Request.Context(), user, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

// uploadForm uploads every multipart file, aborting on the first
// failure so the caller never proceeds with a partial set.
func (h *MilestoneHandler) uploadForm(c *gin.Context) ([]storage.FileRef, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed multipart form"})
		return nil, false
	}

	var files []storage.File
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
			return nil, false
		}
		closers = append(closers, f)
		files = append(files, storage.File{Name: fh.Filename, Content: f})
	}
	if len(files) == 0 {
		return nil, true
	}

	refs, err := h.uploader.UploadAll(c.Request.Context(), files)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}
	return refs, true
}
