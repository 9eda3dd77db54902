package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds the command line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Validate    bool
	ShowVersion bool
}

// parseFlags parses command line flags with environment variable fallbacks
func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config", getEnv("VITABAND_CONFIG", ""),
		"Path to the configuration file (defaults apply when empty)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("VITABAND_LOG_LEVEL", ""),
		"Log level override: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("VITABAND_LOG_FORMAT", ""),
		"Log format override: json, text")
	flag.BoolVar(&cfg.Validate, "validate", false,
		"Validate the configuration and exit")
	flag.BoolVar(&cfg.ShowVersion, "version", false,
		"Show version information and exit")

	showHelp := flag.Bool("help", false, "Show detailed help")

	flag.Parse()

	if *showHelp {
		printDetailedHelp()
		os.Exit(0)
	}

	return cfg
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func printDetailedHelp() {
	fmt.Printf(`%s - edge health monitoring agent

USAGE:
    %s [OPTIONS]

OPTIONS:
`, appName, appName)
	flag.PrintDefaults()
	fmt.Printf(`
ENVIRONMENT VARIABLES:
    VITABAND_CONFIG         Path to the configuration file
    VITABAND_LOG_LEVEL      Log level (debug, info, warn, error)
    VITABAND_LOG_FORMAT     Log format (json, text)
    VITABAND_BUS_URL        NATS server URL
    VITABAND_DEVICE_ID      Stable device identifier
    VITABAND_REPLAY_PATH    Replay recorded readings from a JSONL file
    VITABAND_METRICS_PORT   Prometheus metrics port

EXAMPLES:
    # Run with defaults (synthetic sensors, local NATS)
    %s

    # Run with a configuration file
    %s -config /etc/vitaband/config.json

    # Check a configuration file without starting
    %s -config /etc/vitaband/config.json -validate

    # Replay a recorded session with debug logging
    VITABAND_REPLAY_PATH=session.jsonl %s -log-level debug
`, appName, appName, appName, appName)
}
