package repo

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state transition")
)

// EntryType identifica a operação registrada no ledger.
type EntryType string

const (
	EntryWager    EntryType = "wager"
	EntryPayout   EntryType = "payout"
	EntryRefund   EntryType = "refund"
	EntryReversal EntryType = "reversal"
	EntryDeposit  EntryType = "deposit"
	EntryWithdraw EntryType = "withdraw"
)

// Scope devolve o espaço de unicidade do external_id.
// Ids de transação do agregador (wager/payout/refund/reversal) dividem um
// espaço; payment_ids do processador e ids de saque têm espaços próprios.
func (t EntryType) Scope() string {
	switch t {
	case EntryDeposit:
		return "deposit"
	case EntryWithdraw:
		return "withdraw"
	default:
		return "game"
	}
}

// Balance é a linha de saldo de uma moeda na carteira do usuário.
// Invariante: Available >= 0 e Locked >= 0.
type Balance struct {
	UserID    string          `json:"userId"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// LedgerEntry é um registro append-only de operação que afeta saldo.
type LedgerEntry struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"userId"`
	EntryType     EntryType       `json:"type"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	ExternalID    string          `json:"externalId"`
	RefExternalID string          `json:"refExternalId,omitempty"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Estados do saque. Transições só andam pra frente:
// requested -> processing -> completed | failed ; requested -> cancelled
const (
	WithdrawalRequested  = "requested"
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalFailed     = "failed"
	WithdrawalCancelled  = "cancelled"
)

type Withdrawal struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Destination string          `json:"destination"`
	Status      string          `json:"status"`
	ProviderRef string          `json:"providerRef,omitempty"`
	Error       string          `json:"error,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// EntryParams agrupa os campos de uma mutação de saldo com entrada no ledger.
type EntryParams struct {
	UserID        string
	Currency      string
	Amount        decimal.Decimal
	EntryType     EntryType
	ExternalID    string
	RefExternalID string
	Metadata      json.RawMessage
}
