package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/config"
	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/middleware"
	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/storage"
	"github.com/CodeDript/codedript-backend/workflow"
)

// StubEscrowClient lets each test override only the calls it expects.
type StubEscrowClient struct {
	CreateAgreementFunc       func(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error)
	CompleteAgreementFunc     func(ctx context.Context, onChainID uint64) (string, error)
	GetAgreementSummaryFunc   func(ctx context.Context, onChainID uint64) (*escrow.Summary, error)
	GetTransactionDetailsFunc func(ctx context.Context, hash string) (*escrow.TxDetails, error)
}

func (s *StubEscrowClient) Connect(ctx context.Context) (string, error) { return "0xoperator", nil }

func (s *StubEscrowClient) CreateAgreement(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error) {
	if s.CreateAgreementFunc != nil {
		return s.CreateAgreementFunc(ctx, developerAddress, projectName, documentHash, totalValue, start, end)
	}
	return "0xcreate", nil
}

func (s *StubEscrowClient) RequestChange(ctx context.Context, onChainID uint64, description string, additionalCost decimal.Decimal) (string, error) {
	return "0xchange", nil
}

func (s *StubEscrowClient) CompleteAgreement(ctx context.Context, onChainID uint64) (string, error) {
	if s.CompleteAgreementFunc != nil {
		return s.CompleteAgreementFunc(ctx, onChainID)
	}
	return "0xcomplete", nil
}

func (s *StubEscrowClient) GetAgreementSummary(ctx context.Context, onChainID uint64) (*escrow.Summary, error) {
	if s.GetAgreementSummaryFunc != nil {
		return s.GetAgreementSummaryFunc(ctx, onChainID)
	}
	return &escrow.Summary{Status: escrow.StatusActive}, nil
}

func (s *StubEscrowClient) GetTransactionDetails(ctx context.Context, hash string) (*escrow.TxDetails, error) {
	if s.GetTransactionDetailsFunc != nil {
		return s.GetTransactionDetailsFunc(ctx, hash)
	}
	return &escrow.TxDetails{Hash: hash}, nil
}

func (s *StubEscrowClient) ConfirmedTransaction(ctx context.Context, hash string) (*escrow.Confirmation, error) {
	return &escrow.Confirmation{BlockNumber: 1}, nil
}

// memUploader keeps uploads in memory so multipart handlers can be
// exercised without a gateway.
type memUploader struct {
	uploads []string
}

func (m *memUploader) Upload(ctx context.Context, name string, content io.Reader) (storage.FileRef, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return storage.FileRef{}, err
	}
	m.uploads = append(m.uploads, name)
	hash := fmt.Sprintf("Qm%x", sha256.Sum256(data))[:16]
	return storage.FileRef{Name: name, Size: int64(len(data)), ContentHash: hash, URL: "http://gateway/ipfs/" + hash}, nil
}

func (m *memUploader) UploadAll(ctx context.Context, files []storage.File) ([]storage.FileRef, error) {
	refs := make([]storage.FileRef, 0, len(files))
	for _, f := range files {
		ref, err := m.Upload(ctx, f.Name, f.Content)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	cfg      *config.Config
	wf       *workflow.Workflow
	escrow   *StubEscrowClient
	uploader *memUploader
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))

	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTRefreshSecret: "test-refresh-secret",
		ChainNetwork:     "sepolia",
		NativeCurrency:   "ETH",
	}
	stub := &StubEscrowClient{}
	wf := workflow.New(db, stub, cfg.ChainNetwork, cfg.NativeCurrency)
	wf.Confirm = workflow.ConfirmPolicy{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	router := gin.New()
	api := router.Group("/api/v1")

	authHandler := NewAuthHandler(db, cfg)
	api.POST("/auth/nonce", authHandler.Nonce)
	api.POST("/auth/verify", authHandler.Verify)
	api.POST("/auth/refresh", authHandler.Refresh)

	protected := api.Group("")
	protected.Use(middleware.JwtAuthMiddleware(cfg))

	draftHandler := NewDraftHandler(db, wf)
	protected.POST("/drafts", middleware.RequireRole("client"), draftHandler.Create)
	protected.GET("/drafts/:id", draftHandler.Get)
	protected.PATCH("/drafts/:id/details", draftHandler.PatchDetails)
	protected.PATCH("/drafts/:id/parties", draftHandler.PatchParties)
	protected.PATCH("/drafts/:id/terms", draftHandler.PatchTerms)
	protected.PATCH("/drafts/:id/payment", draftHandler.PatchPayment)
	protected.DELETE("/drafts/:id", draftHandler.Delete)
	protected.POST("/drafts/:id/submit", draftHandler.Submit)

	uploader := &memUploader{}
	agreementHandler := NewAgreementHandler(db, cfg, wf, uploader)
	protected.POST("/agreements", agreementHandler.Create)
	protected.GET("/agreements", agreementHandler.List)
	protected.GET("/agreements/:id", agreementHandler.Get)
	protected.PUT("/agreements/:id", agreementHandler.Update)
	protected.PATCH("/agreements/:id/status", agreementHandler.PatchStatus)
	protected.POST("/agreements/:id/price", middleware.RequireRole("developer"), agreementHandler.Price)
	protected.POST("/agreements/:id/approve", middleware.RequireRole("client"), agreementHandler.Approve)
	protected.POST("/agreements/:id/decline", middleware.RequireRole("client"), agreementHandler.Decline)
	protected.POST("/agreements/:id/release", middleware.RequireRole("client"), agreementHandler.Release)

	milestoneHandler := NewMilestoneHandler(db, wf, uploader)
	protected.GET("/milestones/agreement/:id", milestoneHandler.ListByAgreement)
	protected.POST("/milestones/:id/start", milestoneHandler.Start)
	protected.POST("/milestones/:id/submit", milestoneHandler.Submit)
	protected.POST("/milestones/:id/files", milestoneHandler.Files)
	protected.POST("/milestones/:id/complete", milestoneHandler.Complete)
	protected.POST("/milestones/:id/approve", middleware.RequireRole("client"), milestoneHandler.Approve)
	protected.POST("/milestones/:id/request-revision", middleware.RequireRole("client"), milestoneHandler.RequestRevision)

	changeRequestHandler := NewChangeRequestHandler(db, wf, uploader)
	protected.POST("/change-requests", middleware.RequireRole("client"), changeRequestHandler.Create)
	protected.GET("/change-requests/agreement/:id", changeRequestHandler.ListByAgreement)
	protected.POST("/change-requests/:id/confirm", middleware.RequireRole("developer"), changeRequestHandler.Confirm)
	protected.POST("/change-requests/:id/ignore", middleware.RequireRole("developer"), changeRequestHandler.Ignore)
	protected.POST("/change-requests/:id/approve", middleware.RequireRole("client"), changeRequestHandler.Approve)
	protected.POST("/change-requests/:id/reject", middleware.RequireRole("client"), changeRequestHandler.Reject)
	protected.POST("/change-requests/upload-file", changeRequestHandler.UploadFile)

	transactionHandler := NewTransactionHandler(db, wf, stub)
	protected.POST("/transactions", transactionHandler.Record)
	protected.GET("/transactions/agreement/:id", transactionHandler.ListByAgreement)
	protected.GET("/transactions/:hash/details", transactionHandler.Details)

	return &testEnv{router: router, db: db, cfg: cfg, wf: wf, escrow: stub, uploader: uploader}
}

func (e *testEnv) createUser(t *testing.T, role, wallet string) *models.User {
	t.Helper()
	user := &models.User{WalletAddress: wallet, Name: "Test " + role, Role: role, IsActive: true}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) token(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := middleware.GenerateToken(user.ID, user.Role, user.WalletAddress, e.cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}
