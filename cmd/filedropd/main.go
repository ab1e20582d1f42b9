package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/config"
	"github.com/marmos91/filedrop/pkg/coordinator"
	"github.com/marmos91/filedrop/pkg/server"
)

const usage = `filedropd - file exchange server

Usage:
  filedropd [start] [-config path]   Start the server (default)
  filedropd init [-config path] [-force]
                                     Write a default config file

Configuration is read from -config, or from
$XDG_CONFIG_HOME/filedrop/config.yaml when present. Any setting can be
overridden with FILEDROP_* environment variables.
`

func main() {
	args := os.Args[1:]
	command := "start"
	if len(args) > 0 && (args[0] == "start" || args[0] == "init") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("filedropd "+command, flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "", "Path to config file")
	force := fs.Bool("force", false, "Overwrite an existing config file (init only)")
	_ = fs.Parse(args)

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected argument %q\n\n", fs.Arg(0))
		fs.Usage()
		os.Exit(2)
	}

	switch command {
	case "init":
		runInit(*configPath, *force)
	default:
		if err := run(*configPath); err != nil {
			logger.Error("%v", err)
			os.Exit(1)
		}
	}
}

func runInit(configPath string, force bool) {
	path := configPath
	var err error
	if path == "" {
		path, err = config.InitConfig(force)
	} else {
		err = config.InitConfigToPath(path, force)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration written to %s\n", path)
}

// run starts every configured component and blocks until SIGINT/SIGTERM or
// a fatal adapter error. Any startup failure is returned.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("filedrop server starting")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	metricsResult := config.InitializeMetrics(cfg)

	st, err := config.CreateStore(ctx, &cfg.Store, metricsResult.Exchange)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store: %v", err)
		}
	}()

	requestLog, err := config.CreateRequestLog(ctx, &cfg.RequestLog)
	if err != nil {
		return fmt.Errorf("failed to create request log: %w", err)
	}
	defer func() {
		if err := requestLog.Close(); err != nil {
			logger.Warn("Error closing request log: %v", err)
		}
	}()

	coord := coordinator.New(st, requestLog, metricsResult.Exchange)
	srv := server.New(coord)
	srv.StopTimeout = cfg.Server.ShutdownTimeout

	adapters, err := config.CreateAdapters(cfg, metricsResult.Exchange)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := metricsResult.Server.Stop(shutdownCtx); err != nil {
				logger.Warn("Error stopping metrics server: %v", err)
			}
		}()
	}

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Adapters.Exchange.Port)

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}
