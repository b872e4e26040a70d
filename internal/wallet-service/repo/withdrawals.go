package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// CreateWithdrawal grava o pedido de saque e trava os fundos na mesma
// transação: available -= amount, locked += amount. A trava garante que o
// valor não pode ser gasto enquanto o pedido aguarda aprovação
func (p *Postgres) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	avail, locked, err := p.lockBalance(ctx, tx, w.UserID, w.Currency)
	if err != nil {
		return err
	}
	if avail.LessThan(w.Amount) {
		return ErrInsufficientFunds
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE wallet_balances SET available=$1, locked=$2, version=version+1, updated_at=NOW()
		 WHERE user_id=$3 AND currency=$4`,
		avail.Sub(w.Amount).String(), locked.Add(w.Amount).String(), w.UserID, w.Currency); err != nil {
		return err
	}

	var md any
	if len(w.Metadata) > 0 {
		md = []byte(w.Metadata)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO withdrawals(id, user_id, currency, amount, fee, destination, status, metadata)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.UserID, w.Currency, w.Amount.String(), w.Fee.String(), w.Destination,
		WithdrawalRequested, md); err != nil {
		return err
	}

	w.Status = WithdrawalRequested
	return tx.Commit()
}

func scanWithdrawal(row *sql.Row) (*Withdrawal, error) {
	var w Withdrawal
	var amt, fee string
	var md []byte
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &amt, &fee, &w.Destination,
		&w.Status, &w.ProviderRef, &w.Error, &md, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Amount, err = decimal.NewFromString(amt); err != nil {
		return nil, err
	}
	if w.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if string(md) != "null" {
		w.Metadata = md
	}
	return &w, nil
}

const withdrawalCols = `id, user_id, currency, amount, fee, destination, status,
	COALESCE(provider_ref,''), COALESCE(error,''), COALESCE(metadata,'null'), created_at, updated_at`

func (p *Postgres) GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	return scanWithdrawal(p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1`, id))
}

// ClaimWithdrawal pega um saque para execução pelo worker.
// requested -> processing; processing é devolvido de novo para permitir
// retomada após crash do worker; estados terminais devolvem ErrInvalidState
func (p *Postgres) ClaimWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	switch w.Status {
	case WithdrawalRequested:
		if _, err = tx.ExecContext(ctx,
			`UPDATE withdrawals SET status=$1, updated_at=NOW() WHERE id=$2`,
			WithdrawalProcessing, id); err != nil {
			return nil, err
		}
		w.Status = WithdrawalProcessing
	case WithdrawalProcessing:
		// retomada: worker anterior caiu no meio do payout
	default:
		return nil, ErrInvalidState
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

// FinalizeWithdrawal conclui um saque: debita o locked, grava a entrada de
// ledger type=withdraw e marca completed. No-op quando já está completed,
// então o retry do finalize após crash nunca debita duas vezes
func (p *Postgres) FinalizeWithdrawal(ctx context.Context, id, providerRef string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if w.Status == WithdrawalCompleted {
		return nil // idempotente
	}
	if w.Status != WithdrawalProcessing {
		return ErrInvalidState
	}

	avail, locked, err := p.lockBalance(ctx, tx, w.UserID, w.Currency)
	if err != nil {
		return err
	}
	newLocked := p.clamp(w.UserID, w.Currency, "locked", locked.Sub(w.Amount))

	if _, err = tx.ExecContext(ctx,
		`UPDATE wallet_balances SET locked=$1, version=version+1, updated_at=NOW()
		 WHERE user_id=$2 AND currency=$3`,
		newLocked.String(), w.UserID, w.Currency); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries(user_id, entry_type, scope, currency, amount, status, external_id, balance_after)
		 VALUES($1,$2,$3,$4,$5,'confirmed',$6,$7)`,
		w.UserID, string(EntryWithdraw), EntryWithdraw.Scope(), w.Currency,
		w.Amount.String(), w.ID, avail.String()); err != nil {
		if isUniqueViolation(err) {
			return nil // finalize concorrente já gravou
		}
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE withdrawals SET status=$1, provider_ref=$2, updated_at=NOW() WHERE id=$3`,
		WithdrawalCompleted, providerRef, id); err != nil {
		return err
	}

	return tx.Commit()
}

// FailWithdrawal marca o saque como failed e devolve o valor travado para
// available. Nenhum débito acontece. No-op quando já está failed
func (p *Postgres) FailWithdrawal(ctx context.Context, id, reason string) error {
	return p.releaseAndClose(ctx, id, WithdrawalFailed, reason, WithdrawalProcessing, WithdrawalRequested)
}

// CancelWithdrawal aborta o saque antes da execução, liberando a trava.
// Só é válido enquanto status=requested; depois disso o fluxo corre até
// um estado terminal
func (p *Postgres) CancelWithdrawal(ctx context.Context, id, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1 AND user_id=$2 FOR UPDATE`, id, userID))
	if err != nil {
		return err
	}
	if w.Status != WithdrawalRequested {
		return ErrInvalidState
	}

	if err := p.releaseLockTx(ctx, tx, w); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE withdrawals SET status=$1, updated_at=NOW() WHERE id=$2`,
		WithdrawalCancelled, id); err != nil {
		return err
	}
	return tx.Commit()
}

// releaseAndClose move locked de volta para available e fecha o saque no
// estado terminal dado, aceitando apenas os status de origem listados
func (p *Postgres) releaseAndClose(ctx context.Context, id, terminal, reason string, from ...string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if w.Status == terminal {
		return nil // idempotente
	}
	allowed := false
	for _, s := range from {
		if w.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return ErrInvalidState
	}

	if err := p.releaseLockTx(ctx, tx, w); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE withdrawals SET status=$1, error=$2, updated_at=NOW() WHERE id=$3`,
		terminal, reason, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) releaseLockTx(ctx context.Context, tx *sql.Tx, w *Withdrawal) error {
	avail, locked, err := p.lockBalance(ctx, tx, w.UserID, w.Currency)
	if err != nil {
		return err
	}
	newLocked := p.clamp(w.UserID, w.Currency, "locked", locked.Sub(w.Amount))
	_, err = tx.ExecContext(ctx,
		`UPDATE wallet_balances SET available=$1, locked=$2, version=version+1, updated_at=NOW()
		 WHERE user_id=$3 AND currency=$4`,
		avail.Add(w.Amount).String(), newLocked.String(), w.UserID, w.Currency)
	return err
}
