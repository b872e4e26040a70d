package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
	"github.com/radieske/casino-wallet-platform/internal/withdrawal-worker/payout"
	ev "github.com/radieske/casino-wallet-platform/pkg/contracts/events"
)

// Store é o estado persistido dos saques. A retomada após crash relê daqui,
// nunca de memória
type Store interface {
	ClaimWithdrawal(ctx context.Context, id string) (*repo.Withdrawal, error)
	FinalizeWithdrawal(ctx context.Context, id, providerRef string) error
	FailWithdrawal(ctx context.Context, id, reason string) error
}

// PayoutSender executa o payout no provedor externo
type PayoutSender interface {
	Send(ctx context.Context, destination, currency string, amount decimal.Decimal, withdrawalID string) (*payout.Result, error)
}

// MessageSource é o lado de consumo do Kafka. O offset só é confirmado
// depois do processamento terminar: crash no meio reentrega a mensagem, e
// os guardas de estado do Store tornam a reentrega inofensiva
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer processa a fila de saques aprovados: reivindica o saque,
// executa o payout e fecha em estado terminal, publicando o desfecho
type Consumer struct {
	source  MessageSource
	store   Store
	payouts PayoutSender
	settled MessageWriter
	dlq     MessageWriter // opcional
	log     *zap.Logger
}

func New(source MessageSource, store Store, payouts PayoutSender, settled, dlq MessageWriter, log *zap.Logger) *Consumer {
	return &Consumer{source: source, store: store, payouts: payouts, settled: settled, dlq: dlq, log: log}
}

// Run consome até o contexto encerrar ou a fonte fechar.
// Commit sempre depois de processar: mensagem não processada volta na
// próxima leitura do grupo
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return err
			}
			c.log.Warn("kafka fetch", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var requested ev.WithdrawalRequested
		if jerr := json.Unmarshal(msg.Value, &requested); jerr != nil {
			// mensagem malformada nunca fica boa; confirma e segue
			c.log.Error("unmarshal withdrawal_requested", zap.Error(jerr))
			_ = c.source.CommitMessages(ctx, msg)
			continue
		}

		if err := c.processOne(ctx, &requested); err != nil {
			// sem commit: a reentrega retoma pelo status persistido
			c.log.Error("process withdrawal",
				zap.String("withdrawalId", requested.WithdrawalID), zap.Error(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := c.source.CommitMessages(ctx, msg); err != nil {
			c.log.Warn("kafka commit", zap.Error(err))
		}
	}
}

// processOne executa o fluxo de um saque:
// 1. Reivindica o saque (requested -> processing; processing retoma após crash)
// 2. Executa o payout no provedor externo, com retries
// 3. Sucesso: finaliza (debita locked, grava ledger, completed)
// 4. Falha: devolve a trava para available e marca failed (visível ao operador)
// 5. Publica o desfecho
func (c *Consumer) processOne(ctx context.Context, requested *ev.WithdrawalRequested) error {
	w, err := c.store.ClaimWithdrawal(ctx, requested.WithdrawalID)
	if errors.Is(err, repo.ErrInvalidState) {
		// entrega repetida de um saque já terminal: nada a fazer
		c.log.Info("withdrawal already settled", zap.String("withdrawalId", requested.WithdrawalID))
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		// evento órfão nunca vai resolver; não vale reentrega
		c.log.Error("withdrawal not found", zap.String("withdrawalId", requested.WithdrawalID))
		return nil
	}
	if err != nil {
		return err
	}

	res, err := c.sendWithRetries(ctx, w)
	if err != nil {
		if c.dlq != nil {
			_ = c.dlq.WriteMessages(ctx, kafka.Message{
				Key: []byte(w.ID), Value: mustJSON(requested), Time: time.Now(),
			})
		}
		if ferr := c.store.FailWithdrawal(ctx, w.ID, err.Error()); ferr != nil {
			return ferr
		}
		return c.publishSettled(ctx, w, repo.WithdrawalFailed, err.Error(), "")
	}

	if err := c.store.FinalizeWithdrawal(ctx, w.ID, res.ProviderRef); err != nil {
		// payout saiu mas o finalize falhou; a reentrega retoma pelo status
		// persistido e o provedor deduplica pelo external_id
		return err
	}
	return c.publishSettled(ctx, w, repo.WithdrawalCompleted, "", res.ProviderRef)
}

// sendWithRetries tenta o payout até 3 vezes com backoff linear
func (c *Consumer) sendWithRetries(ctx context.Context, w *repo.Withdrawal) (*payout.Result, error) {
	if w.Amount.IsZero() {
		// defensivo; o serviço nunca cria saque com amount zero
		return nil, errors.New("zero amount withdrawal")
	}
	var res *payout.Result
	var err error
	const retries = 3
	for i := 0; i < retries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(300*i) * time.Millisecond)
		}
		if res, err = c.payouts.Send(ctx, w.Destination, w.Currency, w.Amount, w.ID); err == nil {
			return res, nil
		}
	}
	return nil, err
}

func (c *Consumer) publishSettled(ctx context.Context, w *repo.Withdrawal, status, reason, providerRef string) error {
	e := ev.WithdrawalSettled{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Status:       status,
		Reason:       reason,
		ProviderRef:  providerRef,
		Ts:           time.Now(),
	}
	return c.settled.WriteMessages(ctx, kafka.Message{Key: []byte(w.ID), Value: mustJSON(e), Time: e.Ts})
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
