package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ParthMatta-9921/Chatapp/internal/auth"
	"github.com/ParthMatta-9921/Chatapp/internal/config"
	"github.com/ParthMatta-9921/Chatapp/internal/logging"
	"github.com/ParthMatta-9921/Chatapp/internal/server"
	"github.com/ParthMatta-9921/Chatapp/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	secret, err := cfg.Secret()
	if err != nil {
		logger.Fatal("auth secret unavailable", zap.Error(err))
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Fatal("create database directory", zap.Error(err))
		}
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("open message store", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer st.Close()
	logger.Info("message store ready", zap.String("path", cfg.Database.Path))

	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	tokens := auth.NewManager(secret, ttl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger, st, tokens)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}
