package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/shared/config"
	"github.com/radieske/casino-wallet-platform/internal/shared/db"
	"github.com/radieske/casino-wallet-platform/internal/shared/kafka"
	"github.com/radieske/casino-wallet-platform/internal/shared/logger"
	"github.com/radieske/casino-wallet-platform/internal/shared/metrics"
	wrepo "github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
	"github.com/radieske/casino-wallet-platform/internal/withdrawal-worker/consumer"
	"github.com/radieske/casino-wallet-platform/internal/withdrawal-worker/payout"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("withdrawal-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres: estado persistido dos saques; a retomada após crash relê
	// daqui, nunca de memória
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()
	repo := wrepo.NewPostgres(pg, log)

	// Kafka consumer: fila durável de saques aprovados.
	// O commit de offset fica por conta do consumer, depois do processamento
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicWithdrawalRequested, "withdrawal-worker")
	defer reader.Close()

	// Kafka producer: publica o desfecho e, opcionalmente, envia para DLQ
	settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWithdrawalSettled)
	defer settledWriter.Close()

	var dlq consumer.MessageWriter
	if cfg.TopicWithdrawalDLQ != "" {
		dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWithdrawalDLQ)
		defer dlqWriter.Close()
		dlq = dlqWriter
	}

	payoutCli := payout.New(cfg.PayoutBaseURL, cfg.PayoutAPIKey)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	log.Info("withdrawal-worker started",
		zap.String("consume", cfg.TopicWithdrawalRequested),
		zap.String("publish", cfg.TopicWithdrawalSettled),
	)

	c := consumer.New(reader, repo, payoutCli, settledWriter, dlq, log)
	if err := c.Run(context.Background()); err != nil {
		log.Fatal("consumer stopped", zap.Error(err))
	}
}
