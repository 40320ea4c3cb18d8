package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"

	"fxcockpit/config"
	"fxcockpit/internal/adapters/logger"
	"fxcockpit/internal/adapters/mt5bridge"
	"fxcockpit/internal/adapters/sqlite"
	"fxcockpit/internal/app"
	"fxcockpit/internal/httpapi"
	"fxcockpit/internal/marketdata"
	"fxcockpit/internal/reconcile"
	"fxcockpit/internal/terminal"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appLogger.Info(ctx, "Starting FX cockpit", map[string]interface{}{
		"symbol": cfg.Symbol, "bridge": cfg.BridgeURL, "httpAddr": cfg.HTTPAddr,
	})

	ledger, err := sqlite.NewLedger(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize ledger")
		os.Exit(1)
	}
	defer ledger.Close()

	driver, err := mt5bridge.New(mt5bridge.Config{BaseURL: cfg.BridgeURL, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create bridge client")
		os.Exit(1)
	}

	clk := clock.New()
	manager, err := terminal.NewManager(terminal.Config{
		Driver:           driver,
		Logger:           appLogger,
		Clock:            clk,
		Symbol:           cfg.Symbol,
		ExpectedServer:   cfg.ExpectedServer,
		AutoLaunch:       cfg.AutoLaunch,
		TerminalPaths:    cfg.TerminalPaths,
		RetryInterval:    cfg.RetryInterval,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
		HistoryTimeout:   cfg.HistoryTimeout,
		LaunchWait:       cfg.LaunchWait,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create connection manager")
		os.Exit(1)
	}

	gateway, err := marketdata.NewGateway(manager, appLogger, clk)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create market data gateway")
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.Config{
		Market:      gateway,
		Ledger:      ledger,
		Logger:      appLogger,
		Clock:       clk,
		HistoryFrom: cfg.HistoryFrom,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create reconciliation engine")
		os.Exit(1)
	}

	api, err := httpapi.NewServer(httpapi.Config{
		Quotes:  gateway,
		Ledger:  ledger,
		Journal: ledger,
		Syncer:  engine,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create HTTP API")
		os.Exit(1)
	}

	service, err := app.NewService(app.Config{
		Manager:      manager,
		Engine:       engine,
		Handler:      api,
		Logger:       appLogger,
		Clock:        clk,
		HTTPAddr:     cfg.HTTPAddr,
		SyncInterval: cfg.SyncInterval,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create service")
		os.Exit(1)
	}

	if err := service.Run(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		os.Exit(1)
	}
}
