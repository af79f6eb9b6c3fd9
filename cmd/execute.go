// Package cmd routes the chantio subcommands: serve, index, ask, version.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/chantio/chantio/internal/config"
	"github.com/chantio/chantio/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the entry point called from main. Special flags are handled
// before full initialization so version and help work even with an invalid
// config.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{Level: logLevel()})

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		return runServe(cfg, logger)
	case "index":
		return runIndex(cfg, logger)
	case "ask":
		return runAsk(cfg, logger, os.Args[2:])
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// logLevel reads the DEBUG environment variable; any value enables debug
// logging.
func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func printHelp() {
	fmt.Print(`chantio - knowledge retrieval engine for the site-management app

Usage:
  chantio serve            Start the engine with scheduled indexing and the admin API
  chantio index            Run a one-shot full index of all records
  chantio ask <question>   Ask a question against the indexed records
  chantio version          Show version information

Configuration is read from ~/.chantio/config.yaml and CHANTIO_* environment
variables.
`)
}
