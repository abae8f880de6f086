package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/web5lab/payout-ai/config"
	"github.com/web5lab/payout-ai/core/events"
	"github.com/web5lab/payout-ai/explorer"
	"github.com/web5lab/payout-ai/observability/logging"
	"github.com/web5lab/payout-ai/services/settlementd"
	"github.com/web5lab/payout-ai/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PAYOUT_ENV"))
	logger := logging.Setup("settlementd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	if cfg.LogFile != "" {
		logger = logging.SetupWithRotation("settlementd", env, logging.RotationConfig{
			Path:      cfg.LogFile,
			MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30,
		})
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state db", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	indexer, err := explorer.Open(cfg.ExplorerDB, logger)
	if err != nil {
		logger.Error("open explorer db", "err", err)
		os.Exit(1)
	}
	defer indexer.Close()

	params, err := nodeParams(cfg, db, indexer)
	if err != nil {
		logger.Error("wire node", "err", err)
		os.Exit(1)
	}
	node, err := settlementd.NewNode(params)
	if err != nil {
		logger.Error("construct node", "err", err)
		os.Exit(1)
	}

	seeds, err := config.LoadOfferingSeeds(cfg.OfferingSeedFile)
	if err != nil {
		logger.Error("load offering seeds", "err", err)
		os.Exit(1)
	}
	if len(seeds) > 0 {
		created, err := node.ApplySeeds(seeds)
		if err != nil {
			logger.Error("apply offering seeds", "err", err)
			os.Exit(1)
		}
		logger.Info("seeded offerings", "count", created)
	}

	limiter := settlementd.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	server := settlementd.NewServer(node, indexer, limiter, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("settlementd listening", "addr", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}
}

func nodeParams(cfg *config.Config, db storage.Database, indexer *explorer.Indexer) (settlementd.NodeParams, error) {
	params := settlementd.NodeParams{
		DB:            db,
		Emitter:       events.NewMultiEmitter(indexer),
		ChainID:       cfg.ChainID,
		PayoutRateBps: cfg.PayoutRateBps,
		PenaltyBps:    cfg.PenaltyBps,
		PayoutPeriod:  cfg.PayoutPeriodSeconds,
		MaturityDelay: cfg.MaturityDelaySeconds,
		MaxQuoteAge:   cfg.OracleStaleness(),
	}
	params.PrincipalAsset = "PAI"

	for name, target := range map[string]*[20]byte{
		"AdminAddress":    &params.Admin,
		"VaultAddress":    &params.Vault,
		"TreasuryAddress": &params.Treasury,
		"PoolAddress":     &params.Pool,
		"SaleTreasury":    &params.SaleTreasury,
	} {
		value := addressField(cfg, name)
		if strings.TrimSpace(value) == "" {
			return params, fmt.Errorf("%s must be configured", name)
		}
		addr, err := config.ParseAddress(value)
		if err != nil {
			return params, fmt.Errorf("%s: %w", name, err)
		}
		*target = addr
	}
	return params, nil
}

func addressField(cfg *config.Config, name string) string {
	switch name {
	case "AdminAddress":
		return cfg.AdminAddress
	case "VaultAddress":
		return cfg.VaultAddress
	case "TreasuryAddress":
		return cfg.TreasuryAddress
	case "PoolAddress":
		return cfg.PoolAddress
	case "SaleTreasury":
		return cfg.SaleTreasury
	default:
		return ""
	}
}
