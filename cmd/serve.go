package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"wallet-engine/internal/api"
	"wallet-engine/internal/cache"
	"wallet-engine/internal/chain"
	"wallet-engine/internal/config"
	"wallet-engine/internal/database"
	"wallet-engine/internal/health"
	"wallet-engine/internal/history"
	"wallet-engine/internal/indexer"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/logger"
	"wallet-engine/internal/monitors"
	"wallet-engine/internal/provisioning"
	"wallet-engine/internal/rpc"
)

func runServe(cfg *config.Config) error {
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.InitDB(cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations(database.DB, cfg.Database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	health.RegisterDependency("postgres", database.DB.PingContext)

	users := database.NewUserStore(database.DB)
	wallets := provisioning.NewService(users, logger.Component("provisioning"))

	rpcClient := rpc.NewClient(cfg.Indexer.URL(), "", cfg.Indexer.RateLimit, cfg.MaxRetries, cfg.RetryDelay, cfg.HTTP.Timeout, logger.Component("indexer"))
	defer rpcClient.Close()
	aggregator := history.NewAggregator(indexer.NewClient(rpcClient, logger.Component("indexer")), logger.Component("history"))

	ethClient, err := chain.Dial(ctx, cfg.Chain, cfg.HTTP.Timeout, logger.Component("chain"))
	if err != nil {
		return err
	}
	defer ethClient.Close()
	health.RegisterChain(ctx, "ethereum", ethClient, cfg.Chain.BlockPollInterval)

	sinks := []interfaces.BalanceSink{users}
	var snapshots api.SnapshotCache
	if cfg.Redis.Enabled {
		balanceCache := cache.NewBalanceCache(cfg.Redis)
		defer balanceCache.Close()
		health.RegisterDependency("redis", balanceCache.Ping)
		sinks = append(sinks, balanceCache)
		snapshots = balanceCache
	}

	base := monitors.NewBaseMonitor(cfg.MaxRetries, cfg.RetryDelay, logger.Component("balances"))
	balances := monitors.NewBalanceMonitor(base, ethClient, sinks...)

	handler := api.NewHandler(wallets, aggregator, balances, snapshots)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(handler, cfg.Server, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Wallet API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	health.SetReady(true)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	health.SetReady(false)
	log.Info().Msg("Shutting down wallet API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
