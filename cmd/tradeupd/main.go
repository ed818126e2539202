package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tradeup/adapters/eth"
	"tradeup/config"
	"tradeup/core/events"
	"tradeup/core/types"
	"tradeup/native/tradeup"
	"tradeup/observability"
	"tradeup/observability/logging"
	"tradeup/rpc"
	"tradeup/state"
	"tradeup/storage"
)

type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if l.logger == nil || evt == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("escrow event", "type", evt.EventType())
		return
	}
	e := payload.Event()
	if e == nil {
		return
	}
	args := make([]any, 0, 2+2*len(e.Attributes))
	args = append(args, "type", e.Type)
	for key, value := range e.Attributes {
		args = append(args, key, value)
	}
	l.logger.Info("escrow event", args...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TRADEUP_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("tradeupd", env, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	params, err := cfg.ChainParams()
	if err != nil {
		logger.Error("invalid chain parameters", "err", err)
		os.Exit(1)
	}
	escrowAddr, err := cfg.EscrowAddress()
	if err != nil {
		logger.Error("invalid escrow address", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "tradeup.db"))
	if err != nil {
		logger.Error("open ledger database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, err := tradeup.NewEngine(params)
	if err != nil {
		logger.Error("construct engine", "err", err)
		os.Exit(1)
	}
	engine.SetState(state.NewManager(db))
	engine.SetEscrowAddress(escrowAddr)
	engine.SetEmitter(observability.NewMetricsEmitter(logEmitter{logger: logger}))

	client, err := eth.Dial(cfg.Eth.Endpoint)
	if err != nil {
		logger.Error("dial custody endpoint", "err", err)
		os.Exit(1)
	}
	defer client.Close()
	custody, err := eth.NewCustody(context.Background(), client, os.Getenv(cfg.Eth.KeyEnv))
	if err != nil {
		logger.Error("initialise custody adapter", "err", err)
		os.Exit(1)
	}
	engine.SetCustody(custody)

	if minterAddr, ok, err := cfg.MinterContract(); err != nil {
		logger.Error("invalid minter contract", "err", err)
		os.Exit(1)
	} else if ok {
		minter, err := eth.NewMinter(custody, minterAddr)
		if err != nil {
			logger.Error("initialise minter", "err", err)
			os.Exit(1)
		}
		engine.SetMinter(minter)
	}

	logger.Info("tradeup escrow ready",
		"network", cfg.NetworkName,
		"expiresAt", params.ExpiresAt,
		"finalWildcard", params.Final.Wildcard(),
	)
	server := rpc.NewServer(engine, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
