package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"hedgeflow/internal/api"
	"hedgeflow/internal/chain"
	"hedgeflow/internal/config"
	"hedgeflow/internal/hedger"
	"hedgeflow/internal/monitor"
	"hedgeflow/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:          "hedged",
		Short:        "Deposit-to-hedge pipeline daemon",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the deposit monitor, hedge orchestrator, and HTTP API",
		RunE:  runDaemon,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().String("contract", "", "deposit contract address")
	runCmd.Flags().String("redis-addr", "127.0.0.1:6379", "redis address")
	runCmd.Flags().String("redis-password", "", "redis password")
	runCmd.Flags().Int("redis-db", 0, "redis database")
	runCmd.Flags().String("http-addr", "127.0.0.1:8080", "HTTP listen address")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for the audit archive")
	runCmd.Flags().String("archive-path", "", "optional JSONL audit archive path")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	closeCmd := &cobra.Command{
		Use:   "close <tx-hash>",
		Short: "Close all hedge positions for a deposit",
		Args:  cobra.ExactArgs(1),
		RunE:  runClose,
	}
	closeCmd.Flags().String("redis-addr", "127.0.0.1:6379", "redis address")
	closeCmd.Flags().String("redis-password", "", "redis password")
	closeCmd.Flags().Int("redis-db", 0, "redis database")
	closeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(closeCmd)

	depositsCmd := &cobra.Command{
		Use:   "deposits",
		Short: "Print the most recent deposits",
		RunE:  runDeposits,
	}
	depositsCmd.Flags().String("redis-addr", "127.0.0.1:6379", "redis address")
	depositsCmd.Flags().String("redis-password", "", "redis password")
	depositsCmd.Flags().Int("redis-db", 0, "redis database")
	depositsCmd.Flags().Int64("limit", 20, "number of deposits to print")
	depositsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(depositsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := store.NewRedis(ctx, store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer durable.Close()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	auditSink, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	targets, err := buildTargets(cfg.Venues)
	if err != nil {
		return err
	}

	depositMonitor := monitor.New(monitor.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		StartLookback:     cfg.StartLookback,
		BatchSize:         cfg.BatchSize,
		DepositTTL:        cfg.DepositTTL,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, durable, auditSink, logger.Named("monitor"))

	orchestrator := hedger.New(hedger.Config{
		PopTimeout:  cfg.PopTimeout,
		ClaimTTL:    cfg.ClaimTTL,
		PositionTTL: cfg.PositionTTL,
	}, targets, durable, auditSink, logger.Named("hedger"))

	httpServer := api.NewServer(cfg.HTTPAddr,
		api.NewHandlers(depositMonitor, orchestrator, logger.Named("api")),
		logger.Named("api"))

	if chainID, err := chainClient.ChainID(ctx); err == nil {
		logger.Info("pipeline start",
			zap.String("chain_id", chainID.String()),
			zap.String("contract", cfg.ContractAddress),
			zap.Int("venues", len(targets)),
		)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return depositMonitor.Run(groupCtx) })
	group.Go(func() error { return orchestrator.Run(groupCtx) })
	group.Go(func() error { return httpServer.Run(groupCtx) })

	return group.Wait()
}

func runClose(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := store.NewRedis(ctx, store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer durable.Close()

	targets, err := buildTargets(cfg.Venues)
	if err != nil {
		return err
	}

	orchestrator := hedger.New(hedger.Config{
		PositionTTL: cfg.PositionTTL,
	}, targets, durable, nil, logger.Named("hedger"))

	success, err := orchestrator.CloseOut(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("success: %t\n", success)
	if !success {
		os.Exit(1)
	}
	return nil
}

func runDeposits(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt64("limit")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := store.NewRedis(ctx, store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer durable.Close()

	depositMonitor := monitor.New(monitor.Config{}, nil, durable, nil, logger)

	deposits, err := depositMonitor.RecentDeposits(ctx, limit)
	if err != nil {
		return err
	}

	for _, deposit := range deposits {
		fmt.Printf("%s  block=%d  depositor=%s  amount=%s  minted=%s\n",
			deposit.TxHash, deposit.BlockNumber, deposit.Depositor,
			deposit.Amount.String(), deposit.MintedAmount.String())
	}
	return nil
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
