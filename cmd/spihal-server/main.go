// Command spihal-server runs the SPI socket harness: a TCP server that
// answers the remote backend's framed requests with a simulated
// TLE92104 peripheral behind the transfers.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"spihal/config"
	"spihal/harness"
	"spihal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration file")
		listen     = flag.String("listen", "", "listen address (overrides the config file)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Harness.Listen = *listen
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)

	srv, err := harness.Listen(cfg.Harness.Listen)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	srv.ApplyFaults(cfg.Harness.Faults)

	if *configPath != "" {
		stop, err := srv.WatchConfig(*configPath)
		if err != nil {
			slog.Warn("config watch unavailable", "err", err)
		} else {
			defer stop()
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		slog.Info("shutting down")
		srv.Close()
	}()

	if err := srv.Serve(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
