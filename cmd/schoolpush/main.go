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
	"syscall"
	"time"

	"github.com/dukerupert/schoolpush/internal/config"
	"github.com/dukerupert/schoolpush/internal/database"
	"github.com/dukerupert/schoolpush/internal/logging"
	"github.com/dukerupert/schoolpush/internal/push"
	"github.com/dukerupert/schoolpush/internal/server"
	"github.com/dukerupert/schoolpush/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Server.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Server.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := resolveVAPIDKeys(cfg, store.NewStateStore(db), logger); err != nil {
		logger.Error("failed to resolve VAPID keys", "error", err)
		os.Exit(1)
	}

	srv := server.New(db, cfg, logger)
	srv.Start()

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		// Enable waits on the permission dialog, so writes get a long deadline.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("schoolpush listening", "addr", httpServer.Addr, "backend", cfg.Backend.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	srv.Stop()
}

// resolveVAPIDKeys fills cfg.Push from the store when the config carries no
// keys, generating and persisting a pair on first run.
func resolveVAPIDKeys(cfg *config.Config, st *store.StateStore, logger *slog.Logger) error {
	if cfg.Push.VAPIDPublicKey != "" {
		return nil
	}

	pub, okPub, err := st.Get(store.KeyVAPIDPublic)
	if err != nil {
		return err
	}
	priv, okPriv, err := st.Get(store.KeyVAPIDPrivate)
	if err != nil {
		return err
	}
	if okPub && okPriv {
		cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey = pub, priv
		return nil
	}

	pub, priv, err = push.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err := st.Set(store.KeyVAPIDPublic, pub); err != nil {
		return err
	}
	if err := st.Set(store.KeyVAPIDPrivate, priv); err != nil {
		return err
	}
	logger.Info("generated VAPID key pair")
	cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey = pub, priv
	return nil
}
