package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fxcockpit/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Instrument
	Symbol string

	// Terminal bridge
	BridgeURL      string
	ExpectedServer string   // Optional venue check; empty disables it
	AutoLaunch     bool     // Probe install paths and launch the terminal when attach fails
	TerminalPaths  []string // Well-known install paths to probe

	// Connection timings
	RetryInterval    time.Duration // Circuit-breaker window between connect attempts
	ConnectTimeout   time.Duration // Bound on a single connect attempt
	OperationTimeout time.Duration // Per-call bound for quote/position fetches
	HistoryTimeout   time.Duration // Per-call bound for bulk history fetches
	LaunchWait       time.Duration // How long to wait for a launched terminal to reach its server

	// Reconciliation
	HistoryFrom  time.Time     // Start of the deal-history fetch window
	SyncInterval time.Duration // Period of the scheduled sync pass

	// HTTP API
	HTTPAddr string

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// Default terminal install paths probed during auto-discovery. Mirrors the
// common Windows install locations of the terminal.
var defaultTerminalPaths = []string{
	`C:\Program Files\OANDA MetaTrader 5\terminal64.exe`,
	`C:\Program Files\MetaTrader 5\terminal64.exe`,
	`C:\Program Files (x86)\MetaTrader 5\terminal64.exe`,
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.Symbol = getEnv("SYMBOL", "USDJPY")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}

	cfg.BridgeURL = getEnv("BRIDGE_URL", "http://127.0.0.1:18812")
	if cfg.BridgeURL == "" {
		errs = append(errs, "BRIDGE_URL must be set")
	}
	cfg.ExpectedServer = getEnv("EXPECTED_SERVER", "")
	cfg.AutoLaunch = getEnvAsBool("AUTO_LAUNCH", true)

	if pathsStr := getEnv("TERMINAL_PATHS", ""); pathsStr != "" {
		for _, p := range strings.Split(pathsStr, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TerminalPaths = append(cfg.TerminalPaths, p)
			}
		}
	} else {
		cfg.TerminalPaths = defaultTerminalPaths
	}

	cfg.RetryInterval = getEnvAsSeconds("RETRY_INTERVAL_SECONDS", 60, &errs)
	cfg.ConnectTimeout = getEnvAsSeconds("CONNECT_TIMEOUT_SECONDS", 30, &errs)
	cfg.OperationTimeout = getEnvAsSeconds("OPERATION_TIMEOUT_SECONDS", 5, &errs)
	cfg.HistoryTimeout = getEnvAsSeconds("HISTORY_TIMEOUT_SECONDS", 30, &errs)
	cfg.LaunchWait = getEnvAsSeconds("LAUNCH_WAIT_SECONDS", 30, &errs)
	cfg.SyncInterval = getEnvAsSeconds("SYNC_INTERVAL_SECONDS", 300, &errs)

	historyFromStr := getEnv("HISTORY_FROM", "2024-01-01")
	historyFrom, err := time.Parse("2006-01-02", historyFromStr)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_FROM %q: must be YYYY-MM-DD", historyFromStr))
	}
	cfg.HistoryFrom = historyFrom

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8000")

	cfg.DBPath = getEnv("DB_PATH", "./data/cockpit.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsSeconds(key string, defaultSeconds int, errs *[]string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer, got %q", key, valueStr))
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(value) * time.Second
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
