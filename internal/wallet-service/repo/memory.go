package repo

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory implementa o mesmo contrato do Postgres em memória: mutações
// atômicas por mutex, idempotência por (scope, external_id) e transições de
// saque com os mesmos guardas. Serve aos testes e ao desenvolvimento local;
// produção usa sempre o Postgres
type Memory struct {
	mu          sync.Mutex
	balances    map[string]*Balance
	entries     map[string]*LedgerEntry
	log         []LedgerEntry
	withdrawals map[string]*Withdrawal
	nextID      int64
}

func NewMemory() *Memory {
	return &Memory{
		balances:    map[string]*Balance{},
		entries:     map[string]*LedgerEntry{},
		withdrawals: map[string]*Withdrawal{},
	}
}

func balKey(userID, currency string) string { return userID + "|" + currency }
func entryKey(scope, externalID string) string {
	return scope + "|" + externalID
}

// SetBalance semeia um saldo (uso em teste)
func (m *Memory) SetBalance(userID, currency string, available, locked decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balKey(userID, currency)] = &Balance{
		UserID: userID, Currency: currency, Available: available, Locked: locked,
	}
}

// Snapshot devolve uma cópia do saldo atual (uso em teste)
func (m *Memory) Snapshot(userID, currency string) Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[balKey(userID, currency)]; ok {
		return *b
	}
	return Balance{UserID: userID, Currency: currency, Available: decimal.Zero, Locked: decimal.Zero}
}

// EntryCount conta entradas do ledger para um external_id (uso em teste)
func (m *Memory) EntryCount(externalID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.log {
		if e.ExternalID == externalID {
			n++
		}
	}
	return n
}

func (m *Memory) getOrCreate(userID, currency string) *Balance {
	k := balKey(userID, currency)
	b, ok := m.balances[k]
	if !ok {
		b = &Balance{UserID: userID, Currency: currency, Available: decimal.Zero, Locked: decimal.Zero}
		m.balances[k] = b
	}
	return b
}

func (m *Memory) apply(ep EntryParams,
	mutate func(avail, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, error),
) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[entryKey(ep.EntryType.Scope(), ep.ExternalID)]; ok {
		return e.BalanceAfter, nil
	}

	b := m.getOrCreate(ep.UserID, ep.Currency)
	newAvail, newLocked, err := mutate(b.Available, b.Locked)
	if err != nil {
		return decimal.Zero, err
	}
	if newAvail.IsNegative() {
		newAvail = decimal.Zero
	}
	if newLocked.IsNegative() {
		newLocked = decimal.Zero
	}
	b.Available, b.Locked = newAvail, newLocked

	m.nextID++
	e := LedgerEntry{
		ID:            m.nextID,
		UserID:        ep.UserID,
		EntryType:     ep.EntryType,
		Currency:      ep.Currency,
		Amount:        ep.Amount,
		Status:        "confirmed",
		ExternalID:    ep.ExternalID,
		RefExternalID: ep.RefExternalID,
		BalanceAfter:  newAvail,
		Metadata:      ep.Metadata,
		CreatedAt:     time.Now(),
	}
	m.entries[entryKey(ep.EntryType.Scope(), ep.ExternalID)] = &e
	m.log = append(m.log, e)
	return newAvail, nil
}

func (m *Memory) Wager(_ context.Context, ep EntryParams) (decimal.Decimal, error) {
	return m.apply(ep, func(a, l decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyWager(a, l, ep.Amount)
	})
}

func (m *Memory) Payout(_ context.Context, ep EntryParams) (decimal.Decimal, error) {
	return m.apply(ep, func(a, l decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyPayout(a, l, ep.Amount)
	})
}

func (m *Memory) Refund(_ context.Context, ep EntryParams) (decimal.Decimal, error) {
	return m.apply(ep, func(a, l decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyRefund(a, l, ep.Amount)
	})
}

func (m *Memory) Deposit(_ context.Context, ep EntryParams) (decimal.Decimal, error) {
	return m.apply(ep, func(a, l decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyDeposit(a, l, ep.Amount)
	})
}

func (m *Memory) AvailableBalance(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[balKey(userID, currency)]; ok {
		return b.Available, nil
	}
	return decimal.Zero, nil
}

func (m *Memory) CurrencyBalance(_ context.Context, userID, currency string) (Balance, error) {
	return m.Snapshot(userID, currency), nil
}

func (m *Memory) Balances(_ context.Context, userID string) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Balance
	for _, b := range m.balances {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *Memory) Transactions(_ context.Context, userID string, limit int) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for i := len(m.log) - 1; i >= 0 && len(out) < limit; i-- {
		if m.log[i].UserID == userID {
			out = append(out, m.log[i])
		}
	}
	return out, nil
}

func (m *Memory) CreateWithdrawal(_ context.Context, w *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.getOrCreate(w.UserID, w.Currency)
	if b.Available.LessThan(w.Amount) {
		return ErrInsufficientFunds
	}
	b.Available = b.Available.Sub(w.Amount)
	b.Locked = b.Locked.Add(w.Amount)

	cp := *w
	cp.Status = WithdrawalRequested
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.withdrawals[w.ID] = &cp
	w.Status = WithdrawalRequested
	return nil
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (*Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) ClaimWithdrawal(_ context.Context, id string) (*Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch w.Status {
	case WithdrawalRequested:
		w.Status = WithdrawalProcessing
	case WithdrawalProcessing:
		// retomada após crash
	default:
		return nil, ErrInvalidState
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) FinalizeWithdrawal(_ context.Context, id, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	if w.Status == WithdrawalCompleted {
		return nil
	}
	if w.Status != WithdrawalProcessing {
		return ErrInvalidState
	}

	b := m.getOrCreate(w.UserID, w.Currency)
	b.Locked = b.Locked.Sub(w.Amount)
	if b.Locked.IsNegative() {
		b.Locked = decimal.Zero
	}

	m.nextID++
	e := LedgerEntry{
		ID:           m.nextID,
		UserID:       w.UserID,
		EntryType:    EntryWithdraw,
		Currency:     w.Currency,
		Amount:       w.Amount,
		Status:       "confirmed",
		ExternalID:   w.ID,
		BalanceAfter: b.Available,
		CreatedAt:    time.Now(),
	}
	m.entries[entryKey(EntryWithdraw.Scope(), w.ID)] = &e
	m.log = append(m.log, e)

	w.Status = WithdrawalCompleted
	w.ProviderRef = providerRef
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) FailWithdrawal(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	if w.Status == WithdrawalFailed {
		return nil
	}
	if w.Status != WithdrawalProcessing && w.Status != WithdrawalRequested {
		return ErrInvalidState
	}
	m.release(w)
	w.Status = WithdrawalFailed
	w.Error = reason
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) CancelWithdrawal(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok || w.UserID != userID {
		return ErrNotFound
	}
	if w.Status != WithdrawalRequested {
		return ErrInvalidState
	}
	m.release(w)
	w.Status = WithdrawalCancelled
	w.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) release(w *Withdrawal) {
	b := m.getOrCreate(w.UserID, w.Currency)
	b.Available = b.Available.Add(w.Amount)
	b.Locked = b.Locked.Sub(w.Amount)
	if b.Locked.IsNegative() {
		b.Locked = decimal.Zero
	}
}
