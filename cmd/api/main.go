package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkrelic/questline/internal/config"
	"github.com/mkrelic/questline/internal/engine"
	"github.com/mkrelic/questline/internal/events"
	"github.com/mkrelic/questline/internal/handlers"
	"github.com/mkrelic/questline/internal/logger"
	"github.com/mkrelic/questline/internal/player"
	"github.com/mkrelic/questline/internal/session"
	"github.com/mkrelic/questline/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Questline API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"data_dir", cfg.DataDir)

	catalog, err := storage.LoadCatalog(cfg.DataDir, log)
	if err != nil {
		log.Error("Failed to load quest catalog", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewRedisStore(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create progress store", "error", err)
		os.Exit(1)
	}

	storeCtx, storeCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storeCancel()
	if err := store.WaitForConnection(storeCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}

	players := player.NewRedisPlayers(store.Client(), log)
	integrity := events.NewIntegrityQueue(store.Client(), log)
	eng := engine.New(catalog, store, players.Services(), integrity, log)
	sessions := session.NewManager(eng, log)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(store, catalog, log)
	mux.Handle("/health", healthHandler)

	interactionHandler := handlers.NewInteractionHandler(sessions, log)
	mux.Handle("/v1/interactions", interactionHandler)
	mux.Handle("/v1/interactions/", interactionHandler)

	questHandler := handlers.NewQuestHandler(catalog, log)
	mux.Handle("/v1/quests", questHandler)
	mux.Handle("/v1/quests/", questHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}
