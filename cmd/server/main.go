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
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/propline-io/escalation-gateway/pkg/api"
	"github.com/propline-io/escalation-gateway/pkg/config"
	"github.com/propline-io/escalation-gateway/pkg/services"
	"github.com/propline-io/escalation-gateway/pkg/store"
	"github.com/propline-io/escalation-gateway/pkg/timeplus"
)

// @title Escalation Gateway API
// @version 1.0
// @description API for managing escalation rules over operational records
// @BasePath /api

func main() {
	// Configure Log Level from Environment Variable
	logLevelStr := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(logLevelStr) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel) // Default to Info
	}
	logrus.Infof("Log level set to: %s", logrus.GetLevel().String())

	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Pick the storage backend: Timeplus streams when an address is
	// configured, an in-memory store otherwise.
	var (
		ruleStore       services.RuleStore
		escalationStore services.EscalationStore
		roleDirectory   services.RoleDirectory
		registry        = services.NewSourceRegistry()
		tpClient        *timeplus.Client
	)
	if cfg.Timeplus.Address != "" {
		tpClient, err = timeplus.NewClient(&cfg.Timeplus)
		if err != nil {
			logrus.Fatalf("Failed to create Timeplus client: %v", err)
		}
		tpStore := timeplus.NewStore(tpClient)
		if err := tpStore.Setup(ctx); err != nil {
			logrus.Warnf("Failed to set up streams: %v", err)
		}
		tpStore.RegisterSources(registry)
		ruleStore = tpStore
		escalationStore = tpStore
		roleDirectory = tpStore
		logrus.Infof("Using Timeplus backend at %s", cfg.Timeplus.Address)
	} else {
		mem := store.NewMemory()
		mem.RegisterSources(registry)
		ruleStore = mem
		escalationStore = mem
		roleDirectory = mem
		logrus.Info("No Timeplus address configured, using in-memory backend")
	}

	// Initialize services
	ruleService := services.NewRuleService(ruleStore, escalationStore)
	roleExpander := services.NewRoleExpander(roleDirectory)
	dispatcher := services.NewDispatcher(registry, roleExpander, escalationStore, cfg.Engine.CandidateLimit)

	scheduler := services.NewScheduler(
		cfg.Engine.WorkspaceID,
		ruleService,
		dispatcher,
		time.Duration(cfg.Engine.PollIntervalSeconds)*time.Second,
	)
	scheduler.Start(ctx)
	logrus.Info("Escalation scheduler started")

	// Set up the router
	r := mux.NewRouter()

	apiHandler := api.NewAPIHandler(ruleService, scheduler, cfg.Engine.WorkspaceID)
	apiHandler.SetupRoutes(r)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler())

	// CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.Server.AllowedOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)

	// Create HTTP server
	// Use PORT environment variable if available, otherwise use config
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logrus.Infof("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Stop the evaluation loop
	scheduler.Stop()
	logrus.Info("Escalation scheduler stopped")

	// Create a deadline for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	// Shutdown the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	if tpClient != nil {
		if err := tpClient.Close(); err != nil {
			logrus.Warnf("Failed to close Timeplus client: %v", err)
		}
	}

	logrus.Info("Server exited properly")
}
