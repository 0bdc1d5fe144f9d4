// Command uaserver is the accompanying server example named in §6: a flat
// flag set (no subcommands, unlike the teacher's own multi-command CLI)
// that loads configuration, wires the dispatch table, and serves one OPC
// UA TCP endpoint until interrupted. Grounded on dittofs's cmd/dittofs
// runStart: config.Load, logger.Init, a cancellable context, and a
// SIGINT/SIGTERM select loop for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/open62541/open62541-sub008/internal/config"
	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/metrics"
	"github.com/open62541/open62541-sub008/internal/server"
)

// repeatableFlag accumulates every occurrence of a flag passed more than
// once on the command line, since the standard flag package only keeps
// the last value for a given name.
type repeatableFlag []string

func (r *repeatableFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatableFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	fs := flag.NewFlagSet("uaserver", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file (defaults built in if omitted)")
	port := fs.String("port", "", "override the listen port (host is taken from configuration)")
	certificate := fs.String("certificate", "", "override the certificate path")
	privateKey := fs.String("private-key", "", "override the private key path")
	discoveryURL := fs.String("discovery-url", "", "override the discovery endpoint URL")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled if omitted)")
	var usernames, passwords repeatableFlag
	fs.Var(&usernames, "username", "username for a static identity entry; pair with --password in the same position, may repeat")
	fs.Var(&passwords, "password", "password for a static identity entry; pair with --username in the same position, may repeat")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlagOverrides(cfg, *port, *certificate, *privateKey, *discoveryURL, usernames, passwords); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg)

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logger.Err(err))
			}
		}()
		logger.Info("metrics endpoint enabled", "address", *metricsAddr)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop", "address", cfg.Listen)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if metricsServer != nil {
			_ = metricsServer.Close()
		}
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if metricsServer != nil {
			_ = metricsServer.Close()
		}
		if err != nil {
			logger.Error("server error", logger.Err(err))
			os.Exit(1)
		}
		logger.Info("server stopped")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyFlagOverrides(cfg *config.Config, port, certificate, privateKey, discoveryURL string, usernames, passwords repeatableFlag) error {
	if port != "" {
		host := cfg.Listen
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
		cfg.Listen = fmt.Sprintf("%s:%s", host, port)
	}
	if certificate != "" {
		cfg.Security.CertificatePath = certificate
	}
	if privateKey != "" {
		cfg.Security.PrivateKeyPath = privateKey
	}
	if discoveryURL != "" {
		cfg.Discovery.URL = discoveryURL
	}
	if len(usernames) != len(passwords) {
		return fmt.Errorf("--username and --password must be repeated the same number of times (%d vs %d)", len(usernames), len(passwords))
	}
	if len(usernames) > 0 {
		if cfg.Identity.Users == nil {
			cfg.Identity.Users = make(map[string]string, len(usernames))
		}
		for i, u := range usernames {
			cfg.Identity.Users[u] = passwords[i]
		}
	}
	return nil
}
