package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Postgres implementa o armazenamento da carteira, do ledger e dos saques
type Postgres struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgres(db *sql.DB, log *zap.Logger) *Postgres { return &Postgres{db: db, log: log} }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// IsRetryable reconhece conflitos transitórios do Postgres que valem nova
// tentativa (serialization failure, deadlock)
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// lockBalance retorna a linha de saldo do usuário com FOR UPDATE, criando a
// linha zerada dentro da mesma transação quando ainda não existe
func (p *Postgres) lockBalance(ctx context.Context, tx *sql.Tx, userID, currency string) (avail, locked decimal.Decimal, err error) {
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO wallet_balances(user_id, currency, available, locked, version)
		 VALUES($1,$2,0,0,1) ON CONFLICT (user_id, currency) DO NOTHING`,
		userID, currency); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	var a, l string
	if err = tx.QueryRowContext(ctx,
		`SELECT available, locked FROM wallet_balances WHERE user_id=$1 AND currency=$2 FOR UPDATE`,
		userID, currency).Scan(&a, &l); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if avail, err = decimal.NewFromString(a); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if locked, err = decimal.NewFromString(l); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return avail, locked, nil
}

// clamp zera valores negativos. Saldo negativo indica violação de invariante
// em alguma mutação anterior, então fica registrado em log
func (p *Postgres) clamp(userID, currency, field string, v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		p.log.Error("negative balance clamped to zero",
			zap.String("userId", userID),
			zap.String("currency", currency),
			zap.String("field", field),
			zap.String("value", v.String()),
		)
		return decimal.Zero
	}
	return v
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// recordedBalance devolve o balance_after já gravado para um external_id
func (p *Postgres) recordedBalance(ctx context.Context, q rowQuerier, scope, externalID string) (decimal.Decimal, bool, error) {
	var s string
	err := q.QueryRowContext(ctx,
		`SELECT balance_after FROM ledger_entries WHERE scope=$1 AND external_id=$2`,
		scope, externalID).Scan(&s)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

// applyEntry executa uma mutação de saldo como unidade atômica:
// checagem de idempotência, lock da linha, mutação, clamp e inserção no
// ledger acontecem em uma única transação. Entrega repetida do mesmo
// external_id devolve o balance_after original sem nova mutação
func (p *Postgres) applyEntry(ctx context.Context, ep EntryParams,
	mutate func(avail, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, error),
) (decimal.Decimal, error) {
	scope := ep.EntryType.Scope()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	// Idempotência: entrega repetida devolve o resultado gravado
	if bal, ok, err := p.recordedBalance(ctx, tx, scope, ep.ExternalID); err != nil {
		return decimal.Zero, err
	} else if ok {
		return bal, nil
	}

	avail, locked, err := p.lockBalance(ctx, tx, ep.UserID, ep.Currency)
	if err != nil {
		return decimal.Zero, err
	}

	newAvail, newLocked, err := mutate(avail, locked)
	if err != nil {
		return decimal.Zero, err // rollback: nenhuma mutação
	}
	newAvail = p.clamp(ep.UserID, ep.Currency, "available", newAvail)
	newLocked = p.clamp(ep.UserID, ep.Currency, "locked", newLocked)

	if _, err = tx.ExecContext(ctx,
		`UPDATE wallet_balances SET available=$1, locked=$2, version=version+1, updated_at=NOW()
		 WHERE user_id=$3 AND currency=$4`,
		newAvail.String(), newLocked.String(), ep.UserID, ep.Currency); err != nil {
		return decimal.Zero, err
	}

	var ref, md any
	if ep.RefExternalID != "" {
		ref = ep.RefExternalID
	}
	if len(ep.Metadata) > 0 {
		md = []byte(ep.Metadata)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries(user_id, entry_type, scope, currency, amount, status, external_id, ref_external_id, balance_after, metadata)
		 VALUES($1,$2,$3,$4,$5,'confirmed',$6,$7,$8,$9)`,
		ep.UserID, string(ep.EntryType), scope, ep.Currency, ep.Amount.String(),
		ep.ExternalID, ref, newAvail.String(), md); err != nil {
		if isUniqueViolation(err) {
			// corrida com entrega duplicada: quem chegou primeiro ganhou;
			// trata como já processado e devolve o resultado gravado
			_ = tx.Rollback()
			bal, ok, rerr := p.recordedBalance(ctx, p.db, scope, ep.ExternalID)
			if rerr != nil || !ok {
				return decimal.Zero, err
			}
			return bal, nil
		}
		return decimal.Zero, err
	}

	if err = tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return newAvail, nil
}

// Wager debita available e credita locked pelo mesmo valor.
// Saldo insuficiente devolve ErrInsufficientFunds sem mutação
func (p *Postgres) Wager(ctx context.Context, ep EntryParams) (decimal.Decimal, error) {
	return p.applyEntry(ctx, ep, func(avail, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyWager(avail, locked, ep.Amount)
	})
}

// Payout credita available incondicionalmente, independente de locked
func (p *Postgres) Payout(ctx context.Context, ep EntryParams) (decimal.Decimal, error) {
	return p.applyEntry(ctx, ep, func(avail, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyPayout(avail, locked, ep.Amount)
	})
}

// Refund libera min(locked, amount) do locked e credita o valor integral em
// available. Cobre refund e reversal; ep.EntryType distingue os dois
func (p *Postgres) Refund(ctx context.Context, ep EntryParams) (decimal.Decimal, error) {
	return p.applyEntry(ctx, ep, func(avail, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyRefund(avail, locked, ep.Amount)
	})
}

// Deposit credita available (IPN do processador), idempotente por payment_id
func (p *Postgres) Deposit(ctx context.Context, ep EntryParams) (decimal.Decimal, error) {
	return p.applyEntry(ctx, ep, func(avail, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return ApplyDeposit(avail, locked, ep.Amount)
	})
}

// AvailableBalance retorna o available de uma moeda; zero quando não existe linha
func (p *Postgres) AvailableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var s string
	err := p.db.QueryRowContext(ctx,
		`SELECT available FROM wallet_balances WHERE user_id=$1 AND currency=$2`,
		userID, currency).Scan(&s)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

// CurrencyBalance retorna a linha de saldo de uma moeda, zerada quando a
// carteira ainda não tem a moeda
func (p *Postgres) CurrencyBalance(ctx context.Context, userID, currency string) (Balance, error) {
	out := Balance{UserID: userID, Currency: currency, Available: decimal.Zero, Locked: decimal.Zero}
	var a, l string
	err := p.db.QueryRowContext(ctx,
		`SELECT available, locked FROM wallet_balances WHERE user_id=$1 AND currency=$2`,
		userID, currency).Scan(&a, &l)
	if err == sql.ErrNoRows {
		return out, nil
	}
	if err != nil {
		return Balance{}, err
	}
	if out.Available, err = decimal.NewFromString(a); err != nil {
		return Balance{}, err
	}
	if out.Locked, err = decimal.NewFromString(l); err != nil {
		return Balance{}, err
	}
	return out, nil
}

// Balances lista todas as moedas da carteira do usuário
func (p *Postgres) Balances(ctx context.Context, userID string) ([]Balance, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT currency, available, locked FROM wallet_balances WHERE user_id=$1 ORDER BY currency`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var cur, a, l string
		if err := rows.Scan(&cur, &a, &l); err != nil {
			return nil, err
		}
		avail, err := decimal.NewFromString(a)
		if err != nil {
			return nil, err
		}
		locked, err := decimal.NewFromString(l)
		if err != nil {
			return nil, err
		}
		out = append(out, Balance{UserID: userID, Currency: cur, Available: avail, Locked: locked})
	}
	return out, rows.Err()
}

// Transactions lista as entradas mais recentes do ledger do usuário
func (p *Postgres) Transactions(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, entry_type, currency, amount, status, external_id, COALESCE(ref_external_id,''), balance_after, COALESCE(metadata,'null'), created_at
		 FROM ledger_entries WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var amt, bal string
		var md []byte
		e.UserID = userID
		if err := rows.Scan(&e.ID, &e.EntryType, &e.Currency, &amt, &e.Status, &e.ExternalID, &e.RefExternalID, &bal, &md, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(bal); err != nil {
			return nil, err
		}
		if string(md) != "null" {
			e.Metadata = md
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
