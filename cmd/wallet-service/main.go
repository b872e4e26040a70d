package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/shared/cache"
	"github.com/radieske/casino-wallet-platform/internal/shared/config"
	"github.com/radieske/casino-wallet-platform/internal/shared/db"
	"github.com/radieske/casino-wallet-platform/internal/shared/kafka"
	"github.com/radieske/casino-wallet-platform/internal/shared/logger"
	"github.com/radieske/casino-wallet-platform/internal/shared/metrics"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/engine"
	whttp "github.com/radieske/casino-wallet-platform/internal/wallet-service/http"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/producer"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/rates"
	wrepo "github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/signature"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/withdrawal"
)

func main() {
	cfg := config.Load()

	// Inicializa logger estruturado
	log, err := logger.New("wallet-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "wallet-service"), zap.String("env", cfg.Env))

	// Conexão com Postgres para carteira, ledger e saques
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis: cache de cotações e tokens de aprovação de saque
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Kafka: fila durável de saques aprovados
	wdWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWithdrawalRequested)
	defer wdWriter.Close()

	repo := wrepo.NewPostgres(pg, log)
	eng := engine.New(repo, log)

	rateSvc := rates.NewService(cfg.RatesBaseURL, rates.NewRedisCache(rdb, cfg.RatesCacheTTL), log)

	wdSvc := withdrawal.NewService(
		repo,
		withdrawal.NewRedisApprovals(rdb, cfg.ApprovalTTL),
		producer.NewKafkaPublisher(wdWriter),
		log,
	)

	aggAuth := &signature.AggregatorVerifier{
		MerchantID: cfg.AggregatorMerchantID,
		Secret:     cfg.AggregatorSecret,
		Skew:       cfg.AggregatorSkew,
	}
	ipnAuth := &signature.ProcessorVerifier{Secret: cfg.ProcessorIPNSecret}

	api := whttp.NewServer(log, aggAuth, ipnAuth, eng, repo, wdSvc, rateSvc)

	// Servidor de métricas e health check em porta separada
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	// Servidor principal da API
	apiSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort, // ex: 8082
		Handler: api.Router(),
	}
	log.Info("api listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
