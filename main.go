// Package main runs a farm voice assistant: it streams the microphone to a
// Gemini live session, plays the spoken answers and serves a dashboard.
//
// Usage:
//
//	voiceagent [-config path/to/config.json]
//
// If -config is not specified, the agent looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-voiceagent/internal/agent"
	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/metrics"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Check FFmpeg availability
	ffmpegPath := util.ResolveFFmpegPath(cfg.GetFFmpegPath())
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - running in degraded mode",
			"configured_path", cfg.GetFFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := agent.New(cfg, ffmpegPath, agent.Deps{Metrics: metrics.New(reg)})
	srv := NewServer(cfg, a, ffmpegAvailable, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting voice agent")
	a.Start(ctx)

	// Start web server.
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop version checker goroutine
	srv.version.Stop()

	// Shut down HTTP server.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	if err := a.Stop(); err != nil {
		slog.Error("error stopping agent", "error", err)
	}

	slog.Info("shutdown complete")
}
