package repo

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyWager(t *testing.T) {
	avail, locked, err := ApplyWager(d("100"), d("0"), d("30"))
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("70")))
	assert.True(t, locked.Equal(d("30")))

	// valor exato do saldo é aceito
	avail, locked, err = ApplyWager(d("30"), d("5"), d("30"))
	require.NoError(t, err)
	assert.True(t, avail.IsZero())
	assert.True(t, locked.Equal(d("35")))
}

func TestApplyWagerInsufficient(t *testing.T) {
	avail, locked, err := ApplyWager(d("29.99"), d("5"), d("30"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	// valores intactos
	assert.True(t, avail.Equal(d("29.99")))
	assert.True(t, locked.Equal(d("5")))
}

func TestApplyPayoutIgnoresLocked(t *testing.T) {
	avail, locked, err := ApplyPayout(d("0"), d("30"), d("45.5"))
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("45.5")))
	assert.True(t, locked.Equal(d("30")))
}

func TestApplyRefundReleasesAtMostLocked(t *testing.T) {
	// locked cobre o valor: libera tudo
	avail, locked, err := ApplyRefund(d("70"), d("30"), d("30"))
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("100")))
	assert.True(t, locked.IsZero())

	// locked menor que o valor: libera só o que existe, crédito integral
	avail, locked, err = ApplyRefund(d("10"), d("12"), d("20"))
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("30")))
	assert.True(t, locked.IsZero(), "locked=%s", locked)

	// nada travado: só credita
	avail, locked, err = ApplyRefund(d("10"), d("0"), d("20"))
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("30")))
	assert.True(t, locked.IsZero())
}

func TestEntryScope(t *testing.T) {
	// ids do agregador dividem um espaço; payment_id e id de saque têm os seus
	assert.Equal(t, "game", EntryWager.Scope())
	assert.Equal(t, "game", EntryPayout.Scope())
	assert.Equal(t, "game", EntryRefund.Scope())
	assert.Equal(t, "game", EntryReversal.Scope())
	assert.Equal(t, "deposit", EntryDeposit.Scope())
	assert.Equal(t, "withdraw", EntryWithdraw.Scope())
}

func TestApplyDeposit(t *testing.T) {
	avail, locked, err := ApplyDeposit(d("1"), d("2"), d("0.5"))
	require.NoError(t, err)
	assert.True(t, avail.Equal(d("1.5")))
	assert.True(t, locked.Equal(d("2")))
}
