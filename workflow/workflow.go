package workflow

import (
	"time"

	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/escrow"
)

// StartBuffer is added between "now" and the on-chain start time so a
// slow wallet confirmation cannot produce a start in the past.
const StartBuffer = 5 * time.Minute

// ConfirmPolicy bounds the receipt-polling schedule for transaction
// recording. Delay doubles per attempt up to MaxDelay.
type ConfirmPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{Attempts: 8, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Workflow orchestrates the agreement lifecycle. It owns every status
// transition and every escrow call; handlers stay thin.
type Workflow struct {
	DB             *gorm.DB
	Escrow         escrow.Client
	Network        string
	NativeCurrency string
	Confirm        ConfirmPolicy
	Now            func() time.Time
}

func New(db *gorm.DB, esc escrow.Client, network, nativeCurrency string) *Workflow {
	return &Workflow{
		DB:             db,
		Escrow:         esc,
		Network:        network,
		NativeCurrency: nativeCurrency,
		Confirm:        DefaultConfirmPolicy(),
		Now:            time.Now,
	}
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
