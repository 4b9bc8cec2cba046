package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/woxQAQ/diffeq-wasm/internal/app"
	"github.com/woxQAQ/diffeq-wasm/internal/config"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// parseInputs splits a comma-separated list of floats.
func parseInputs(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	modelPath := flag.String("model", "", "Model text to compile")
	wasmPath := flag.String("wasm", "", "Compiled module to load instead of compiling")
	tEnd := flag.Float64("t-end", 1, "End of the time span")
	points := flag.Int("points", 11, "Number of time points")
	inputs := flag.String("inputs", "", "Comma-separated model inputs")
	sens := flag.Bool("sens", false, "Also compute forward sensitivities")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting diffeq",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	in, err := parseInputs(*inputs)
	if err != nil {
		logger.Fatal("Invalid inputs", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	res, err := a.Run(ctx, &app.Request{
		ModelPath:     *modelPath,
		WasmPath:      *wasmPath,
		TEnd:          *tEnd,
		Points:        *points,
		Inputs:        in,
		Sensitivities: *sens,
	})
	if cerr := a.Close(context.Background()); cerr != nil {
		logger.Warn("Shutdown error", zap.Error(cerr))
	}
	if err != nil {
		logger.Fatal("Solve failed", zap.Error(err))
	}

	write := writeCSV
	if term.IsTerminal(int(os.Stdout.Fd())) {
		write = writeTable
	}
	if err := write(os.Stdout, res); err != nil {
		logger.Fatal("Failed to write results", zap.Error(err))
	}
}
