package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/handlers/staticfileserver"
	"example.com/dirserve/internal/logger"
	"example.com/dirserve/internal/metrics"
	"example.com/dirserve/internal/server"
)

func main() {
	cfg, err := buildConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildConfig merges the optional -config file with command-line flags.
// Flags that were set explicitly take precedence over the file.
func buildConfig(args []string, output io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("dirserve", flag.ContinueOnError)
	fs.SetOutput(output)

	configPath := fs.String("config", "", "Path to a configuration file (JSON, TOML or YAML)")
	host := fs.String("host", "127.0.0.1", "Host to listen on")
	port := fs.Int("port", 3000, "Port to listen on")
	root := fs.String("root", ".", "Base directory to serve")
	mode := fs.String("mode", string(config.RenderModePlain), "Directory listing style: plain or styled")
	restricted := fs.String("restricted", "", "Comma-separated substrings forbidden in request paths")
	logLevel := fs.String("log-level", string(config.LogLevelInfo), "Error log level: DEBUG, INFO, WARNING or ERROR")
	metricsAddr := fs.String("metrics-addr", "", "Address to serve prometheus metrics on; empty disables")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyDefaults(cfg); err != nil {
		return nil, err
	}

	if set["host"] || set["port"] {
		h, p, err := net.SplitHostPort(*cfg.Server.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", *cfg.Server.Address, err)
		}
		if set["host"] {
			h = *host
		}
		if set["port"] {
			if *port < 0 || *port > 65535 {
				return nil, fmt.Errorf("port %d out of range", *port)
			}
			p = strconv.Itoa(*port)
		}
		addr := net.JoinHostPort(h, p)
		cfg.Server.Address = &addr
	}
	if set["root"] {
		abs, err := filepath.Abs(*root)
		if err != nil {
			return nil, fmt.Errorf("invalid root %q: %w", *root, err)
		}
		cfg.Files.BasePath = abs
	}
	if set["mode"] {
		m, err := config.ParseRenderMode(*mode)
		if err != nil {
			return nil, err
		}
		cfg.Files.RenderMode = m
	}
	if set["restricted"] {
		cfg.Files.RestrictedPatterns = config.ParseRestrictedPatterns(*restricted)
	}
	if set["log-level"] {
		cfg.Logging.LogLevel = config.LogLevel(*logLevel)
	}
	if set["metrics-addr"] {
		cfg.Server.MetricsAddress = metricsAddr
	}

	if err := config.ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newServer wires the dispatcher behind the router and middleware, with
// its own prometheus registry for the metrics endpoint.
func newServer(cfg *config.Config, lg *logger.Logger) (*server.Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	files, err := staticfileserver.New(cfg.Files, lg, m)
	if err != nil {
		return nil, err
	}
	h := server.Chain(server.NewMux(files, lg),
		server.RequestID,
		server.AccessLog(lg, m),
		server.Timeout(cfg.Server.RequestTimeoutDuration()),
	)
	return server.NewServer(cfg, lg, h, m.Handler())
}

func run(ctx context.Context, cfg *config.Config) error {
	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.CloseLogFiles()

	srv, err := newServer(cfg, lg)
	if err != nil {
		lg.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := lg.ReopenLogFiles(); err != nil {
					lg.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
					continue
				}
				lg.Info("Reopened log files", nil)
			}
		}
	}()

	if err := srv.Start(ctx); err != nil {
		lg.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
		return err
	}
	lg.Info("Server shut down gracefully", nil)
	return nil
}
