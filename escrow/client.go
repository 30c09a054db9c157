package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Status mirrors the on-chain agreement status enum.
type Status uint8

const (
	StatusPending   Status = 0
	StatusActive    Status = 1
	StatusCompleted Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusActive:
		return "Active"
	case StatusCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Summary is the on-chain view of an agreement, read before mutating
// calls so callers can fail with a precise reason instead of burning
// gas on a doomed transaction.
type Summary struct {
	Client        string          `json:"client"`
	Developer     string          `json:"developer"`
	TotalValue    decimal.Decimal `json:"total_value"`
	EscrowBalance decimal.Decimal `json:"escrow_balance"`
	Status        Status          `json:"status"`
}

// TxDetails is a read-only transaction lookup for user-facing
// inspection.
type TxDetails struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Value       decimal.Decimal `json:"value"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      uint64          `json:"status"`
	GasUsed     uint64          `json:"gas_used"`
	GasPrice    decimal.Decimal `json:"gas_price"`
	Pending     bool            `json:"pending"`
}

// Confirmation is the mined view of a previously submitted
// transaction. AgreementID is set when the receipt carries an
// AgreementCreated event.
type Confirmation struct {
	BlockNumber uint64
	BlockTime   time.Time
	GasUsed     uint64
	AgreementID *uint64
}

// Client wraps the escrow smart contract. Mutating calls are
// single-shot and return as soon as the node accepts the transaction;
// they never wait for mining and never retry on their own.
type Client interface {
	// Connect verifies the signing account and node are usable and
	// returns the operator's hex address.
	Connect(ctx context.Context) (string, error)

	// CreateAgreement funds escrow with totalValue and registers the
	// agreement on-chain. Returns the transaction hash.
	CreateAgreement(ctx context.Context, developerAddress, projectName, documentHash string, totalValue decimal.Decimal, start, end time.Time) (string, error)

	// RequestChange adds cost to an existing on-chain agreement.
	RequestChange(ctx context.Context, onChainID uint64, description string, additionalCost decimal.Decimal) (string, error)

	// CompleteAgreement releases escrowed funds to the developer.
	CompleteAgreement(ctx context.Context, onChainID uint64) (string, error)

	GetAgreementSummary(ctx context.Context, onChainID uint64) (*Summary, error)
	GetTransactionDetails(ctx context.Context, hash string) (*TxDetails, error)

	// ConfirmedTransaction returns block metadata for a mined
	// transaction, or a KindNotMined error while it is still pending.
	ConfirmedTransaction(ctx context.Context, hash string) (*Confirmation, error)
}

var weiPerEther = decimal.New(1, 18)

// ToWei converts a native-currency amount to wei.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Mul(weiPerEther).BigInt()
}

// FromWei converts a wei amount to the native-currency decimal.
func FromWei(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -18)
}
