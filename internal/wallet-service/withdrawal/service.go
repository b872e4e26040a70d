package withdrawal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/wallet-service/rates"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
	"github.com/radieske/casino-wallet-platform/pkg/contracts/events"
)

var (
	ErrBadToken       = errors.New("invalid or expired approval token")
	ErrInvalidRequest = errors.New("invalid withdrawal request")
)

// Store são as operações de saque usadas pelo serviço
type Store interface {
	CreateWithdrawal(ctx context.Context, w *repo.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*repo.Withdrawal, error)
	CancelWithdrawal(ctx context.Context, id, userID string) error
}

// Publisher publica o pedido aprovado na fila durável consumida pelo worker
type Publisher interface {
	PublishWithdrawalRequested(ctx context.Context, e events.WithdrawalRequested) error
}

// ApprovalStore guarda tokens de aprovação pendentes com expiração.
// Precisa ser durável e compartilhado entre instâncias do serviço; um mapa
// em memória perderia aprovações em restart
type ApprovalStore interface {
	Put(ctx context.Context, withdrawalID, token string) error
	Take(ctx context.Context, withdrawalID, token string) (bool, error)
}

// Service conduz o pedido de saque: criação com trava de fundos, aprovação
// por token e cancelamento. A execução do payout fica no withdrawal-worker
type Service struct {
	store     Store
	approvals ApprovalStore
	publ      Publisher
	log       *zap.Logger
}

func NewService(store Store, approvals ApprovalStore, publ Publisher, log *zap.Logger) *Service {
	return &Service{store: store, approvals: approvals, publ: publ, log: log}
}

// Request cria o saque (status=requested, fundos travados) e registra um
// token de aprovação expirável. A entrega do token ao usuário (email/OTP)
// fica fora deste núcleo
func (s *Service) Request(ctx context.Context, userID, currency string, amount, fee decimal.Decimal, destination string) (*repo.Withdrawal, string, error) {
	if userID == "" || destination == "" {
		return nil, "", ErrInvalidRequest
	}
	if !amount.IsPositive() || fee.IsNegative() {
		return nil, "", ErrInvalidRequest
	}

	w := &repo.Withdrawal{
		ID:          uuid.New().String(),
		UserID:      userID,
		Currency:    rates.Normalize(currency),
		Amount:      amount,
		Fee:         fee,
		Destination: destination,
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		return nil, "", err
	}

	token := newToken()
	if err := s.approvals.Put(ctx, w.ID, token); err != nil {
		// sem token não há como aprovar; desfaz o pedido e libera a trava
		if cerr := s.store.CancelWithdrawal(ctx, w.ID, userID); cerr != nil {
			s.log.Error("rollback of unapprovable withdrawal failed",
				zap.String("withdrawalId", w.ID), zap.Error(cerr))
		}
		return nil, "", err
	}

	return w, token, nil
}

// Approve valida o token e publica o evento consumido pelo worker.
// Válido apenas enquanto status=requested
func (s *Service) Approve(ctx context.Context, userID, id, token string) error {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}
	if w.UserID != userID {
		return repo.ErrNotFound
	}
	if w.Status != repo.WithdrawalRequested {
		return repo.ErrInvalidState
	}

	ok, err := s.approvals.Take(ctx, id, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadToken
	}

	return s.publ.PublishWithdrawalRequested(ctx, events.WithdrawalRequested{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Currency:     w.Currency,
		Amount:       w.Amount.String(),
		Destination:  w.Destination,
	})
}

// Cancel aborta o pedido enquanto ainda não entrou em processamento
func (s *Service) Cancel(ctx context.Context, userID, id string) error {
	return s.store.CancelWithdrawal(ctx, id, userID)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
