package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-request-workflow/internal/app"
	"github.com/pesio-ai/be-request-workflow/internal/auth"
	"github.com/pesio-ai/be-request-workflow/internal/client"
	"github.com/pesio-ai/be-request-workflow/internal/handler"
	"github.com/pesio-ai/be-request-workflow/internal/platform/config"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/platform/natsbus"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Database.Driver).
		Msg("Starting Request Workflow Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	stores, err := app.OpenStores(ctx, cfg.Database, true, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer stores.Close()

	// Resolve role bindings
	resolver := service.NewBindingsResolver(stores.Users, cfg.Workflow.GeneralApproverUsername, log.Component("bindings"))
	registry := service.NewIdentityRegistry(stores.Users, stores.Approvers, resolver, log.Component("identity"))

	if cfg.Database.Driver == "memory" {
		if _, err := app.Seed(ctx, stores.Users, registry, log.Component("seed")); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed in-memory storage")
		}
	}
	if _, err := resolver.Refresh(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve role bindings")
	}

	// Notifications are optional
	var notifier service.Notifier
	if cfg.NATS.URL != "" {
		bus, err := natsbus.Connect(ctx, natsbus.Config{
			URL:      cfg.NATS.URL,
			Name:     cfg.Service.Name,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{client.SubjectPrefix + ".>"},
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer bus.Close()
		notifier = client.NewNotificationPublisher(bus, log.Component("notifications").Logger)
		log.Info().Str("url", cfg.NATS.URL).Str("stream", cfg.NATS.Stream).Msg("Notification bus connected")
	} else {
		log.Warn().Msg("NATS_URL not set; workflow notifications disabled")
	}

	advisor := client.NewDepartmentRouter(10*time.Minute, log.Component("advisor").Logger)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	// Initialize services
	workflowEngine := service.NewWorkflowEngine(
		stores.Users, stores.Approvers, stores.Requests, stores.Flow, resolver,
		log.Component("workflow"),
		service.WithSuggester(advisor),
		service.WithNotifier(notifier),
	)
	flowProjection := service.NewFlowProjection(
		stores.Users, stores.Approvers, stores.Requests, stores.Flow, resolver,
		log.Component("flow"),
	)
	documentEngine := service.NewDocumentEngine(stores.Users, stores.Documents, resolver, notifier, log.Component("documents"))
	analytics := service.NewAnalytics(stores.Users, stores.Analytics, log.Component("analytics"))

	// Setup HTTP server
	httpHandler := handler.NewHTTPHandler(handler.Services{
		Workflow:  workflowEngine,
		Flow:      flowProjection,
		Documents: documentEngine,
		Identity:  registry,
		Analytics: analytics,
		Advisor:   advisor,
		Tokens:    tokens,
		Ready:     stores.Ready,
	}, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryLoggingInterceptor(log.Component("grpc")),
		handler.UnaryAuthInterceptor(tokens),
	))
	handler.RegisterWorkflowServiceServer(grpcServer, handler.NewGRPCHandler(workflowEngine, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.WorkflowServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
