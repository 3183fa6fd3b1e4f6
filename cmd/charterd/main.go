// charterd server — drives structured project interviews and produces
// validated project charters over an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/charterworks/charterd/pkg/agent"
	"github.com/charterworks/charterd/pkg/api"
	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/consistency"
	"github.com/charterworks/charterd/pkg/conversation"
	"github.com/charterworks/charterd/pkg/database"
	"github.com/charterworks/charterd/pkg/gate"
	"github.com/charterworks/charterd/pkg/llm"
	"github.com/charterworks/charterd/pkg/llm/providers"
	"github.com/charterworks/charterd/pkg/orchestrator"
	"github.com/charterworks/charterd/pkg/quality"
	"github.com/charterworks/charterd/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	slog.Info("Starting charterd", "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema up to date")

	providerAdapters, err := providers.BuildAll(cfg)
	if err != nil {
		log.Fatalf("Failed to build LLM providers: %v", err)
	}

	registry := prometheus.NewRegistry()
	recorder := llm.NewMetricsRecorder(registry)
	router := llm.NewRouter(cfg, providerAdapters, recorder)

	sessionStore := store.NewSessionStore(dbClient.Gorm())
	screener := conversation.NewScreener(cfg.Interview, cfg.Injection)
	evaluator := quality.NewEvaluator(router, cfg.Interview)
	loop := conversation.NewLoop(evaluator, sessionStore, screener, cfg.Interview)

	agents, err := agent.NewRegistry(loop, router)
	if err != nil {
		log.Fatalf("Failed to build stage agents: %v", err)
	}

	checker := consistency.NewChecker(router)
	orch := orchestrator.New(sessionStore, agents, gate.NewValidator(), checker)

	server := api.NewServer(cfg, dbClient, orch, registry)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ":"+httpPort)
		errCh <- server.Start(":" + httpPort)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
