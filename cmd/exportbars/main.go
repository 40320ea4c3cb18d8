// Command exportbars pulls bar history from the connected terminal and
// writes it to a CSV file for offline analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/benbjohnson/clock"

	"fxcockpit/config"
	"fxcockpit/internal/adapters/logger"
	"fxcockpit/internal/adapters/mt5bridge"
	"fxcockpit/internal/domain"
	"fxcockpit/internal/marketdata"
	"fxcockpit/internal/terminal"
	"fxcockpit/internal/utils"
)

func main() {
	tfFlag := flag.String("timeframe", "M5", "bar timeframe (M1, M5, M15, M30, H1, H4, D1)")
	countFlag := flag.Int("count", 1000, "number of bars to export")
	outFlag := flag.String("out", "", "output CSV path (default data/<symbol>_<timeframe>.csv)")
	flag.Parse()

	tf := domain.Timeframe(*tfFlag)
	if !tf.IsValid() {
		log.Fatalf("FATAL: unsupported timeframe %q", *tfFlag)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)
	ctx := context.Background()

	driver, err := mt5bridge.New(mt5bridge.Config{BaseURL: cfg.BridgeURL, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to create bridge client: %v", err)
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
		log.Fatalf("FATAL: Failed to create connection manager: %v", err)
	}
	defer manager.Close()

	gateway, err := marketdata.NewGateway(manager, appLogger, clk)
	if err != nil {
		log.Fatalf("FATAL: Failed to create market data gateway: %v", err)
	}

	if !manager.Initialize(ctx) {
		log.Fatalf("FATAL: Terminal not reachable")
	}
	defer manager.Shutdown(ctx)

	fmt.Printf("Fetching %d %s bars for %s...\n", *countFlag, tf, gateway.Symbol())
	bars := gateway.HistoricalBars(ctx, tf, *countFlag)
	if len(bars) == 0 {
		log.Fatalf("FATAL: no bars returned")
	}

	filename := *outFlag
	if filename == "" {
		if err := os.MkdirAll("data", 0755); err != nil {
			log.Fatalf("FATAL: Failed to create data directory: %v", err)
		}
		filename = fmt.Sprintf("data/%s_%s.csv", gateway.Symbol(), tf)
	}
	if err := utils.WriteBarsToCSV(bars, gateway.Symbol(), tf, filename); err != nil {
		log.Fatalf("FATAL: Failed to write CSV: %v", err)
	}
	fmt.Printf("Wrote %d bars to %s\n", len(bars), filename)
}
