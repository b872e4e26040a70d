package withdrawal

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
	"github.com/radieske/casino-wallet-platform/pkg/contracts/events"
)

type fakeApprovals struct {
	tokens map[string]string
	putErr error
	taken  []string
}

func newFakeApprovals() *fakeApprovals {
	return &fakeApprovals{tokens: map[string]string{}}
}

func (f *fakeApprovals) Put(_ context.Context, id, token string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.tokens[id] = token
	return nil
}

func (f *fakeApprovals) Take(_ context.Context, id, token string) (bool, error) {
	stored, ok := f.tokens[id]
	if !ok || stored != token {
		return false, nil
	}
	delete(f.tokens, id)
	f.taken = append(f.taken, id)
	return true, nil
}

type fakePublisher struct {
	published []events.WithdrawalRequested
	err       error
}

func (f *fakePublisher) PublishWithdrawalRequested(_ context.Context, e events.WithdrawalRequested) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, e)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup() (*Service, *repo.Memory, *fakeApprovals, *fakePublisher) {
	store := repo.NewMemory()
	approvals := newFakeApprovals()
	publ := &fakePublisher{}
	return NewService(store, approvals, publ, zap.NewNop()), store, approvals, publ
}

func TestRequestLocksFundsAndIssuesToken(t *testing.T) {
	svc, store, approvals, _ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, token, err := svc.Request(context.Background(), "U1", "SOL", d("1.5"), d("0.01"), "addr-1")
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, repo.WithdrawalRequested, w.Status)
	assert.Equal(t, "sol", w.Currency)
	assert.NotEmpty(t, token)
	assert.Equal(t, token, approvals.tokens[w.ID])

	b := store.Snapshot("U1", "sol")
	assert.True(t, b.Available.Equal(d("0.5")))
	assert.True(t, b.Locked.Equal(d("1.5")))
}

func TestRequestRejectsInsufficientFunds(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("1"), decimal.Zero)

	_, _, err := svc.Request(context.Background(), "U1", "sol", d("1.5"), decimal.Zero, "addr-1")
	require.ErrorIs(t, err, repo.ErrInsufficientFunds)

	b := store.Snapshot("U1", "sol")
	assert.True(t, b.Available.Equal(d("1")))
	assert.True(t, b.Locked.IsZero())
}

func TestRequestValidation(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("10"), decimal.Zero)

	_, _, err := svc.Request(context.Background(), "", "sol", d("1"), decimal.Zero, "addr")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.Request(context.Background(), "U1", "sol", d("1"), decimal.Zero, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.Request(context.Background(), "U1", "sol", d("0"), decimal.Zero, "addr")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.Request(context.Background(), "U1", "sol", d("1"), d("-0.1"), "addr")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRequestRollsBackWhenTokenCannotBeStored(t *testing.T) {
	svc, store, approvals, _ := setup()
	approvals.putErr = errors.New("redis down")
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	_, _, err := svc.Request(context.Background(), "U1", "sol", d("1.5"), decimal.Zero, "addr-1")
	require.Error(t, err)

	// a trava foi desfeita: saldo de volta ao estado original
	b := store.Snapshot("U1", "sol")
	assert.True(t, b.Available.Equal(d("2")))
	assert.True(t, b.Locked.IsZero())
}

func TestApprovePublishesEvent(t *testing.T) {
	svc, store, _, publ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, token, err := svc.Request(context.Background(), "U1", "sol", d("1.5"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	require.NoError(t, svc.Approve(context.Background(), "U1", w.ID, token))
	require.Len(t, publ.published, 1)
	e := publ.published[0]
	assert.Equal(t, w.ID, e.WithdrawalID)
	assert.Equal(t, "U1", e.UserID)
	assert.Equal(t, "1.5", e.Amount)
	assert.Equal(t, "addr-1", e.Destination)
}

func TestApproveRejectsWrongToken(t *testing.T) {
	svc, store, _, publ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, _, err := svc.Request(context.Background(), "U1", "sol", d("1"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	err = svc.Approve(context.Background(), "U1", w.ID, "not-the-token")
	assert.ErrorIs(t, err, ErrBadToken)
	assert.Empty(t, publ.published)
}

func TestApprovalTokenIsSingleUse(t *testing.T) {
	svc, store, _, publ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, token, err := svc.Request(context.Background(), "U1", "sol", d("1"), decimal.Zero, "addr-1")
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), "U1", w.ID, token))

	// segunda aprovação com o mesmo token não republica
	err = svc.Approve(context.Background(), "U1", w.ID, token)
	assert.Error(t, err)
	assert.Len(t, publ.published, 1)
}

func TestApproveRejectsOtherUsersWithdrawal(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, token, err := svc.Request(context.Background(), "U1", "sol", d("1"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	err = svc.Approve(context.Background(), "U2", w.ID, token)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCancelReleasesLockedFunds(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, _, err := svc.Request(context.Background(), "U1", "sol", d("1.5"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "U1", w.ID))

	got, err := store.GetWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.WithdrawalCancelled, got.Status)

	b := store.Snapshot("U1", "sol")
	assert.True(t, b.Available.Equal(d("2")))
	assert.True(t, b.Locked.IsZero())
}

func TestCancelOnlyWhileRequested(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, _, err := svc.Request(context.Background(), "U1", "sol", d("1"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	_, err = store.ClaimWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), "U1", w.ID)
	assert.ErrorIs(t, err, repo.ErrInvalidState)
}

func TestFinalizeDebitsLockedExactlyOnce(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, _, err := svc.Request(context.Background(), "U1", "sol", d("1.5"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	_, err = store.ClaimWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)

	require.NoError(t, store.FinalizeWithdrawal(context.Background(), w.ID, "prov-1"))
	// reentrega do evento: finalização repetida é no-op
	require.NoError(t, store.FinalizeWithdrawal(context.Background(), w.ID, "prov-1"))

	b := store.Snapshot("U1", "sol")
	assert.True(t, b.Available.Equal(d("0.5")))
	assert.True(t, b.Locked.IsZero())
	assert.Equal(t, 1, store.EntryCount(w.ID))

	got, err := store.GetWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.WithdrawalCompleted, got.Status)
	assert.Equal(t, "prov-1", got.ProviderRef)
}

func TestFailReleasesLock(t *testing.T) {
	svc, store, _, _ := setup()
	store.SetBalance("U1", "sol", d("2"), decimal.Zero)

	w, _, err := svc.Request(context.Background(), "U1", "sol", d("1.5"), decimal.Zero, "addr-1")
	require.NoError(t, err)

	_, err = store.ClaimWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)

	require.NoError(t, store.FailWithdrawal(context.Background(), w.ID, "payout provider timeout"))

	b := store.Snapshot("U1", "sol")
	assert.True(t, b.Available.Equal(d("2")))
	assert.True(t, b.Locked.IsZero())

	got, err := store.GetWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.WithdrawalFailed, got.Status)
}
