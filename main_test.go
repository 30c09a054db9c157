package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/config"
	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/storage"
)

type nopEscrow struct{}

func (nopEscrow) Connect(ctx context.Context) (string, error) { return "", nil }
func (nopEscrow) CreateAgreement(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error) {
	return "", nil
}
func (nopEscrow) RequestChange(ctx context.Context, onChainID uint64, description string, additionalCost decimal.Decimal) (string, error) {
	return "", nil
}
func (nopEscrow) CompleteAgreement(ctx context.Context, onChainID uint64) (string, error) {
	return "", nil
}
func (nopEscrow) GetAgreementSummary(ctx context.Context, onChainID uint64) (*escrow.Summary, error) {
	return &escrow.Summary{}, nil
}
func (nopEscrow) GetTransactionDetails(ctx context.Context, hash string) (*escrow.TxDetails, error) {
	return &escrow.TxDetails{}, nil
}
func (nopEscrow) ConfirmedTransaction(ctx context.Context, hash string) (*escrow.Confirmation, error) {
	return &escrow.Confirmation{}, nil
}

func testRouter(t *testing.T) *gin.Engine {
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
	return newRouter(cfg, db, nopEscrow{}, storage.NewGatewayClient("http://127.0.0.1:0", "http://127.0.0.1:0"))
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Contains(t, w.Body.String(), "codedript-api")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/api/v1/agreements", "/api/v1/drafts/abc"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/api/v1/agreements", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
