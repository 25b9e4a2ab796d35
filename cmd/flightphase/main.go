package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yegors/flightphase/internal/config"
	"github.com/yegors/flightphase/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

const usage = `usage: flightphase [-config path] <command>

commands:
  import    load the configured CSV file into the positions table
  extract   extract flights and phase segments for every eligible aircraft
  serve     serve stored results and on-demand classification over HTTP
`

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting flightphase",
		logger.String("version", Version),
		logger.String("command", command),
		logger.String("config_path", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "import":
		err = runImport(ctx, cfg, log)
	case "extract":
		err = runExtract(ctx, cfg, log)
	case "serve":
		err = runServe(ctx, cfg, log)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("Command failed", logger.String("command", command), logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Done", logger.String("command", command))
}
