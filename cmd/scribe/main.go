// Lecture scribe - captures lecture audio and serves a live transcript over WebSocket
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	audiocap "github.com/GriffinCanCode/lecture-scribe/internal/audio"
	"github.com/GriffinCanCode/lecture-scribe/internal/config"
	"github.com/GriffinCanCode/lecture-scribe/internal/grpcclient"
	"github.com/GriffinCanCode/lecture-scribe/internal/orchestrator"
	"github.com/GriffinCanCode/lecture-scribe/internal/server"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt/execstt"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt/whisper"
	"github.com/GriffinCanCode/lecture-scribe/internal/vad"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (overrides SCRIBE_CONFIG)")
	device := flag.String("device", "", "start listening on this device at launch (mic, loopback, file:<path>, or a name)")
	prompt := flag.String("prompt", "", "task description passed to the engine")
	listDevices := flag.Bool("list-devices", false, "print capture devices and exit")
	save := flag.Bool("save", false, "save the transcript on shutdown")
	flag.Parse()

	if *configPath != "" {
		_ = os.Setenv("SCRIBE_CONFIG", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if *listDevices {
		names, err := audiocap.ListDevices()
		if err != nil {
			slog.Error("list devices failed", "error", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	detector, closeDetector, err := newDetector(cfg)
	if err != nil {
		slog.Error("failed to set up speech detection", "mode", cfg.VADMode, "error", err)
		os.Exit(1)
	}
	defer closeDetector()

	m := orchestrator.New(cfg, detector, orchestrator.Handlers{
		OnTranscriptUpdate: func(chunk, _ string) {
			slog.Debug("transcript updated", "chunk", chunk)
		},
	})
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.LoadEngine(ctx, loader(cfg), stt.RefFromConfig(cfg)); err != nil {
		// Keep serving: the control API reports NO_ENGINE until a restart fixes the model.
		slog.Error("engine load failed", "mode", cfg.STTMode, "model", cfg.STTModel, "error", err)
	}

	srv := server.New(m, audiocap.ListDevices)
	go srv.Broadcast(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("scribe server starting", "http", cfg.HTTPAddr, "stt", cfg.STTMode, "vad", cfg.VADMode)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	if *device != "" {
		if err := m.Start(ctx, *device, *prompt); err != nil {
			slog.Error("auto start failed", "device", *device, "error", err)
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if err := m.Stop(); err != nil {
		slog.Debug("stop", "error", err)
	}
	if *save && m.Transcript() != "" {
		if path, err := m.SaveTranscript(); err != nil {
			slog.Error("save transcript failed", "error", err)
		} else {
			slog.Info("transcript saved", "path", path)
		}
	}
	cancel()
	slog.Info("shutdown complete")
}

// loader picks the engine backend.
func loader(cfg *config.Config) stt.LoadFunc {
	switch cfg.STTMode {
	case "grpc":
		return grpcclient.Loader(cfg.InferenceAddr)
	case "exec":
		return execstt.Loader(cfg.STTCommand)
	default:
		return whisper.Load
	}
}

// newDetector picks the speech gate. A nil detector transcribes every window.
func newDetector(cfg *config.Config) (vad.Detector, func(), error) {
	switch cfg.VADMode {
	case "grpc":
		c, err := grpcclient.Dial(cfg.InferenceAddr)
		if err != nil {
			return nil, func() {}, err
		}
		return c, func() { _ = c.Close() }, nil
	case "none":
		return nil, func() {}, nil
	default:
		return vad.NewEnergyDetector(), func() {}, nil
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
