package producer

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/radieske/casino-wallet-platform/internal/shared/kafka"
	"github.com/radieske/casino-wallet-platform/pkg/contracts/events"
)

// KafkaPublisher publica pedidos de saque aprovados na fila durável
type KafkaPublisher struct {
	Writer *kafkago.Writer
}

func NewKafkaPublisher(w *kafkago.Writer) *KafkaPublisher {
	return &KafkaPublisher{Writer: w}
}

func (p *KafkaPublisher) PublishWithdrawalRequested(ctx context.Context, e events.WithdrawalRequested) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return kafka.WriteJSON(ctx, p.Writer, e.WithdrawalID, b)
}
