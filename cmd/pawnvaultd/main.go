package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pawnvault/config"
	"pawnvault/core/events"
	"pawnvault/core/types"
	"pawnvault/crypto"
	"pawnvault/native/loan"
	"pawnvault/observability/logging"
	"pawnvault/rpc"
	"pawnvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := os.Getenv("PAWNVAULT_ENV")
	logger := logging.Setup("pawnvaultd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("Failed to decode admin address", slog.Any("error", err))
		os.Exit(1)
	}
	moduleAddr, err := cfg.Module()
	if err != nil {
		logger.Error("Failed to resolve module address", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := storage.NewStore(filepath.Join(cfg.DataDir, "loans.db"), nil)
	if err != nil {
		logger.Error("Failed to open loan store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	engine := loan.NewEngine(moduleAddr, admin)
	engine.SetState(store)
	engine.SetEmitter(&logEmitter{logger: logger})

	executor := &transferExecutor{logger: logger}
	engine.SetCollaborators(executor, executor, executor)

	if cfg.Paused {
		logger.Warn("starting with loan module paused")
	}
	engine.SetPauses(staticPauses{paused: cfg.Paused})

	if err := engine.SetBorrowerFeeRate(admin, cfg.BorrowerFeePerMille); err != nil {
		logger.Error("Failed to apply borrower fee rate", slog.Any("error", err))
		os.Exit(1)
	}
	if err := engine.SetLenderFeeRate(admin, cfg.LenderFeePerMille); err != nil {
		logger.Error("Failed to apply lender fee rate", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddress))
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	server := rpc.NewServer(engine, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// staticPauses applies the configured pause flag to every module.
type staticPauses struct {
	paused bool
}

func (s staticPauses) IsPaused(string) bool {
	return s.paused
}

// logEmitter publishes lifecycle events to the structured log so off-process
// observers can follow state changes.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(event events.Event) {
	payload, ok := event.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("loan event", slog.String("type", event.EventType()))
		return
	}
	evt := payload.Event()
	attrs := make([]any, 0, len(evt.Attributes)+1)
	attrs = append(attrs, slog.String("type", evt.Type))
	for key, value := range evt.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("loan event", attrs...)
}

// transferExecutor emits transfer instructions in the order the custody
// sequencing issues them. The actual asset and fund movements are executed by
// the host ledger this service instructs.
type transferExecutor struct {
	logger *slog.Logger
}

func (t *transferExecutor) TransferSingleUnit(asset, from, to crypto.Address, itemID *big.Int) error {
	t.logger.Info("transfer instruction",
		slog.String("protocol", "single-unit"),
		slog.String("asset", asset.String()),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("itemId", itemID.String()))
	return nil
}

func (t *transferExecutor) TransferMultiUnit(asset, from, to crypto.Address, itemID, quantity *big.Int, data []byte) error {
	t.logger.Info("transfer instruction",
		slog.String("protocol", "multi-unit"),
		slog.String("asset", asset.String()),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("itemId", itemID.String()),
		slog.String("quantity", quantity.String()))
	return nil
}

func (t *transferExecutor) TransferFunds(token, from, to crypto.Address, amount *big.Int) error {
	t.logger.Info("transfer instruction",
		slog.String("protocol", "fungible"),
		slog.String("token", token.String()),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("amount", amount.String()))
	return nil
}
