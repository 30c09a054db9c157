package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/config"
	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/models"
)

type MockEscrowClient struct {
	Calls []string

	ConnectFunc              func(ctx context.Context) (string, error)
	CreateAgreementFunc      func(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error)
	RequestChangeFunc        func(ctx context.Context, onChainID uint64, description string, additionalCost decimal.Decimal) (string, error)
	CompleteAgreementFunc    func(ctx context.Context, onChainID uint64) (string, error)
	GetAgreementSummaryFunc  func(ctx context.Context, onChainID uint64) (*escrow.Summary, error)
	GetTransactionDetailsFunc func(ctx context.Context, hash string) (*escrow.TxDetails, error)
	ConfirmedTransactionFunc func(ctx context.Context, hash string) (*escrow.Confirmation, error)
}

func (m *MockEscrowClient) Connect(ctx context.Context) (string, error) {
	m.Calls = append(m.Calls, "Connect")
	return m.ConnectFunc(ctx)
}

func (m *MockEscrowClient) CreateAgreement(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error) {
	m.Calls = append(m.Calls, "CreateAgreement")
	return m.CreateAgreementFunc(ctx, developerAddress, projectName, documentHash, totalValue, start, end)
}

func (m *MockEscrowClient) RequestChange(ctx context.Context, onChainID uint64, description string, additionalCost decimal.Decimal) (string, error) {
	m.Calls = append(m.Calls, "RequestChange")
	return m.RequestChangeFunc(ctx, onChainID, description, additionalCost)
}

func (m *MockEscrowClient) CompleteAgreement(ctx context.Context, onChainID uint64) (string, error) {
	m.Calls = append(m.Calls, "CompleteAgreement")
	return m.CompleteAgreementFunc(ctx, onChainID)
}

func (m *MockEscrowClient) GetAgreementSummary(ctx context.Context, onChainID uint64) (*escrow.Summary, error) {
	m.Calls = append(m.Calls, "GetAgreementSummary")
	return m.GetAgreementSummaryFunc(ctx, onChainID)
}

func (m *MockEscrowClient) GetTransactionDetails(ctx context.Context, hash string) (*escrow.TxDetails, error) {
	m.Calls = append(m.Calls, "GetTransactionDetails")
	return m.GetTransactionDetailsFunc(ctx, hash)
}

func (m *MockEscrowClient) ConfirmedTransaction(ctx context.Context, hash string) (*escrow.Confirmation, error) {
	m.Calls = append(m.Calls, "ConfirmedTransaction")
	return m.ConfirmedTransactionFunc(ctx, hash)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

func setupWorkflow(t *testing.T, mock *MockEscrowClient) *Workflow {
	t.Helper()
	wf := New(setupTestDB(t), mock, "sepolia", "ETH")
	wf.Confirm = ConfirmPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	return wf
}

func createTestUsers(t *testing.T, db *gorm.DB) (client, developer *models.User) {
	t.Helper()
	client = &models.User{
		WalletAddress: "0x1111111111111111111111111111111111111111",
		Name:          "Client",
		Role:          models.RoleClient,
		IsActive:      true,
	}
	developer = &models.User{
		WalletAddress: "0x2222222222222222222222222222222222222222",
		Name:          "Developer",
		Role:          models.RoleDeveloper,
		IsActive:      true,
	}
	require.NoError(t, db.Create(client).Error)
	require.NoError(t, db.Create(developer).Error)
	return client, developer
}

func deadlineIn(d time.Duration) *time.Time {
	t := time.Now().Add(d).UTC()
	return &t
}
