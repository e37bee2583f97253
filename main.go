package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"faceforge/config"
	"faceforge/core"
	"faceforge/media"
	"faceforge/metrics"
	"faceforge/server"
	elevenlabs "faceforge/services/elevenlabs/voice"
	"faceforge/stream"
	"faceforge/swap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "settings.json", "Path to settings file")
	flag.Parse()

	logger := core.GetLogger()

	if err := godotenv.Load(".env"); err != nil {
		logger.With(map[string]any{"error": err}).Warn("No .env file found or failed to load")
	}

	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.FromFile(configPath)
		if err != nil {
			logger.Fatal("failed to load settings", "path", configPath, "error", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	logger.Info("starting FaceForge",
		"version", server.Version,
		"addr", cfg.Addr(),
		"upload_dir", cfg.Upload.Dir,
		"swap_endpoint", cfg.Swap.Endpoint,
	)

	m := metrics.NewMetrics()

	engine, err := swap.NewEngine(cfg.Swap, logger)
	if err != nil {
		logger.Fatal("failed to create swap engine", "error", err)
	}

	registry := stream.NewRegistry(engine, cfg.Stream.JPEGQuality, logger, m)
	streamHandler := stream.NewHandler(registry, logger)
	store := server.NewJobStore(m)

	var syncer *media.AudioSyncer
	if s, err := media.NewAudioSyncer(logger); err != nil {
		logger.Warn("audio sync disabled", "error", err)
	} else {
		syncer = s
	}

	var cloner *elevenlabs.VoiceCloner
	if cfg.Voice.APIKey != "" {
		c, err := elevenlabs.NewVoiceCloner(elevenlabs.VoiceClonerConfig{
			APIKey:  cfg.Voice.APIKey,
			BaseURL: cfg.Voice.BaseURL,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create voice client", "error", err)
		}
		cloner = c
	} else {
		logger.Info("voice cloning disabled, no API key configured")
	}

	srv := server.New(cfg, registry, streamHandler, store, syncer, cloner, m, logger)
	srv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	registry.Stop()

	if err := engine.Close(); err != nil {
		logger.Error("engine close error", "error", err)
	}
	logger.Info("shutdown complete")
}
