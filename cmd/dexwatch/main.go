package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dexwatch/internal/chain"
	"dexwatch/internal/config"
	"dexwatch/internal/decode"
	"dexwatch/internal/hub"
	"dexwatch/internal/kline"
	"dexwatch/internal/metadata"
	"dexwatch/internal/model"
	"dexwatch/internal/scanner"
	"dexwatch/internal/service"
	"dexwatch/internal/store/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "dexwatch",
		Short:        "AMM event ingestion and analytics",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the per-chain event scanners",
		RunE:  runIngest,
	}
	ingestCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	ingestCmd.Flags().String("redis-addr", "", "redis address for the candle cache (optional)")
	ingestCmd.Flags().String("metrics-addr", "", "prometheus listen address (optional)")
	ingestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(ingestCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll a checkpoint back after a deep reorg (operator intervention)",
		RunE:  runRollback,
	}
	rollbackCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	rollbackCmd.Flags().Uint64("chain", 0, "chain id")
	rollbackCmd.Flags().String("category", "", "event category (factory or swap)")
	rollbackCmd.Flags().Uint64("to-block", 0, "checkpoint block to roll back to")
	rollbackCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(rollbackCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PgDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewStore(ctx, cfg.PgDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	decoder, err := decode.NewDecoder()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := scanner.NewMetrics(registry)
	eventHub := hub.New(logger)
	supervisor := scanner.NewSupervisor(logger)

	started := 0
	for _, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			logger.Info("chain disabled, skipping", zap.Uint64("chain_id", chainCfg.ChainID))
			continue
		}
		if err := chainCfg.Validate(); err != nil {
			logger.Error("invalid chain config, skipping chain", zap.Error(err))
			continue
		}

		client, err := chain.NewClient(ctx, chainCfg.RPCURL)
		if err != nil {
			logger.Error("connect rpc failed, skipping chain",
				zap.Uint64("chain_id", chainCfg.ChainID),
				zap.Error(err),
			)
			continue
		}
		defer client.Close()

		rpcChainID, err := client.GetChainID(ctx)
		if err != nil {
			logger.Error("chain id probe failed, skipping chain",
				zap.Uint64("chain_id", chainCfg.ChainID),
				zap.Error(err),
			)
			continue
		}
		if !rpcChainID.IsUint64() || rpcChainID.Uint64() != chainCfg.ChainID {
			logger.Error("rpc endpoint serves a different chain, skipping chain",
				zap.Uint64("configured", chainCfg.ChainID),
				zap.String("reported", rpcChainID.String()),
			)
			continue
		}

		enricher, err := metadata.NewEnricher(client, logger)
		if err != nil {
			return err
		}

		for _, category := range []model.EventCategory{model.CategoryFactory, model.CategorySwap} {
			batchSize := chainCfg.FactoryBatchSize
			if category == model.CategorySwap {
				batchSize = chainCfg.PairBatchSize
			}
			s, err := scanner.New(scanner.Config{
				ChainID:        chainCfg.ChainID,
				Category:       category,
				FactoryAddress: common.HexToAddress(chainCfg.FactoryAddress),
				StartBlock:     chainCfg.StartBlock,
				BatchSize:      batchSize,
				Confirmations:  chainCfg.Confirmations,
				PollInterval:   chainCfg.PollInterval,
				BaseBackoff:    cfg.BaseBackoff,
				MaxBackoff:     cfg.MaxBackoff,
				StallAfter:     cfg.StallAfter,
			}, client, db, db, decoder, eventHub, enricher, metrics, logger)
			if err != nil {
				return err
			}
			supervisor.Add(s)
			started++
		}
	}
	if started == 0 {
		return fmt.Errorf("no usable chains configured")
	}

	var candleCache *kline.Cache
	if cfg.RedisAddr != "" {
		candleCache = kline.NewCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.CacheTTL, logger)
	}
	aggregator := kline.NewAggregator(db, candleCache, logger)
	facade := service.NewQuery(db, aggregator, eventHub, supervisor, logger)

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, registry, logger)
	}
	go reportHealth(ctx, facade, logger)

	logger.Info("ingest start",
		zap.Int("scanners", started),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Bool("candle_cache", candleCache != nil),
	)

	supervisor.Run(ctx)
	logger.Info("ingest stopped")
	return nil
}

func runRollback(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	chainID, _ := cmd.Flags().GetUint64("chain")
	categoryRaw, _ := cmd.Flags().GetString("category")
	toBlock, _ := cmd.Flags().GetUint64("to-block")

	if cfg.PgDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if chainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	category, err := model.ParseCategory(categoryRaw)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewStore(ctx, cfg.PgDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	cp, ok, err := db.Get(ctx, chainID, category)
	if err != nil {
		return err
	}
	if ok && toBlock > cp.LastBlock {
		return fmt.Errorf("rollback target %d is above current checkpoint %d", toBlock, cp.LastBlock)
	}

	if err := db.Rollback(ctx, chainID, category, toBlock); err != nil {
		return err
	}

	logger.Info("checkpoint rolled back",
		zap.Uint64("chain_id", chainID),
		zap.String("category", string(category)),
		zap.Uint64("from", cp.LastBlock),
		zap.Uint64("to", toBlock),
	)
	return nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func reportHealth(ctx context.Context, facade *service.Query, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, status := range facade.Health() {
				logger.Info("scanner health",
					zap.Uint64("chain_id", status.ChainID),
					zap.String("category", string(status.Category)),
					zap.String("state", status.State.String()),
					zap.Uint64("last_block", status.LastBlock),
					zap.Int("retries", status.Retries),
					zap.String("last_error", status.LastError),
				)
			}
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
