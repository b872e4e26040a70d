package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/wallet-service/rates"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidRequest = errors.New("invalid request")
)

// Action é o tipo fechado de operações do agregador. Dispatch por switch
// exaustivo; string desconhecida nunca cai em um ramo válido
type Action int

const (
	ActionBalance Action = iota
	ActionWager
	ActionPayout
	ActionRefund
	ActionReversal
)

// ParseAction converte a forma textual do callback ("bet", "win", ...)
func ParseAction(s string) (Action, error) {
	switch s {
	case "balance":
		return ActionBalance, nil
	case "bet":
		return ActionWager, nil
	case "win":
		return ActionPayout, nil
	case "refund":
		return ActionRefund, nil
	case "rollback":
		return ActionReversal, nil
	default:
		return 0, ErrUnknownAction
	}
}

// Store é o armazenamento atômico exigido pelo engine. Cada método mutador é
// uma unidade atômica idempotente por external_id
type Store interface {
	Wager(ctx context.Context, ep repo.EntryParams) (decimal.Decimal, error)
	Payout(ctx context.Context, ep repo.EntryParams) (decimal.Decimal, error)
	Refund(ctx context.Context, ep repo.EntryParams) (decimal.Decimal, error)
	Deposit(ctx context.Context, ep repo.EntryParams) (decimal.Decimal, error)
	AvailableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error)
}

// Request é um callback do agregador já decodificado
type Request struct {
	Action           string
	PlayerID         string
	Currency         string
	Amount           decimal.Decimal
	TransactionID    string
	RefTransactionID string
	Metadata         json.RawMessage
}

type Result struct {
	Balance       decimal.Decimal
	Currency      string
	TransactionID string
}

// Engine aplica as mutações de liquidação sobre o Store
type Engine struct {
	store Store
	log   *zap.Logger
}

func New(store Store, log *zap.Logger) *Engine { return &Engine{store: store, log: log} }

// conflitos transitórios de persistência são retentados um número limitado
// de vezes antes de subir o erro
const maxConflictRetries = 3

// Handle processa um callback do agregador. Ações mutadoras são idempotentes
// por transaction_id; a repetição devolve o balance_after original
func (e *Engine) Handle(ctx context.Context, req Request) (Result, error) {
	action, err := ParseAction(req.Action)
	if err != nil {
		return Result{}, err
	}
	if req.PlayerID == "" {
		return Result{}, ErrInvalidRequest
	}
	currency := rates.Normalize(req.Currency)

	if action == ActionBalance {
		bal, err := e.store.AvailableBalance(ctx, req.PlayerID, currency)
		if err != nil {
			return Result{}, err
		}
		return Result{Balance: bal, Currency: currency}, nil
	}

	// ações mutadoras
	if !req.Amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	if req.TransactionID == "" {
		return Result{}, ErrInvalidRequest
	}

	ep := repo.EntryParams{
		UserID:     req.PlayerID,
		Currency:   currency,
		Amount:     req.Amount,
		ExternalID: req.TransactionID,
		Metadata:   req.Metadata,
	}

	var bal decimal.Decimal
	for attempt := 0; ; attempt++ {
		switch action {
		case ActionWager:
			ep.EntryType = repo.EntryWager
			bal, err = e.store.Wager(ctx, ep)
		case ActionPayout:
			ep.EntryType = repo.EntryPayout
			bal, err = e.store.Payout(ctx, ep)
		case ActionRefund:
			ep.EntryType = repo.EntryRefund
			ep.RefExternalID = req.RefTransactionID
			bal, err = e.store.Refund(ctx, ep)
		case ActionReversal:
			ep.EntryType = repo.EntryReversal
			ep.RefExternalID = req.RefTransactionID
			bal, err = e.store.Refund(ctx, ep)
		default:
			return Result{}, ErrUnknownAction
		}

		if err == nil || !repo.IsRetryable(err) || attempt >= maxConflictRetries {
			break
		}
		e.log.Warn("transient persistence conflict, retrying",
			zap.String("transactionId", req.TransactionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(time.Duration(50*(attempt+1)) * time.Millisecond):
		}
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Balance: bal, Currency: currency, TransactionID: req.TransactionID}, nil
}

// CreditDeposit aplica um depósito confirmado pelo processador de pagamentos,
// idempotente por payment_id
func (e *Engine) CreditDeposit(ctx context.Context, userID, currency, paymentID string, amount decimal.Decimal, metadata json.RawMessage) (decimal.Decimal, error) {
	if userID == "" || paymentID == "" {
		return decimal.Zero, ErrInvalidRequest
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return e.store.Deposit(ctx, repo.EntryParams{
		UserID:     userID,
		Currency:   rates.Normalize(currency),
		Amount:     amount,
		EntryType:  repo.EntryDeposit,
		ExternalID: paymentID,
		Metadata:   metadata,
	})
}
