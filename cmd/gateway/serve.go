package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/attachments"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/httpapi"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/repository"
	"github.com/haasonsaas/nexus/internal/settings"
	"github.com/haasonsaas/nexus/internal/titlegen"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's HTTP surface and tool-server pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	return cmd
}

// gatewayServer bundles the long-lived components runServe starts and
// stops together.
type gatewayServer struct {
	httpServer      *http.Server
	metricsServer   *http.Server
	repo            *repository.SQLiteStore
	mcpManager      *mcp.Manager
	attachments     *attachments.Service
	logger          *slog.Logger
	shutdownTracing func(context.Context) error
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	resolvedPath := resolveConfigPath(configPath)

	cfg, err := config.Load(resolvedPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewSlogLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting gateway", "version", version, "commit", commit, "config", resolvedPath)

	server, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", server.httpServer.Addr)
		if err := server.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		logger.Info("metrics server listening", "addr", server.metricsServer.Addr)
		if err := server.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received, stopping gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.stop(shutdownCtx)
}

// bootstrap wires every component SPEC_FULL.md names against cfg and
// starts the background pieces (MCP connections, attachment reaper).
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gatewayServer, error) {
	repo, err := repository.Open(ctx, repository.Config{Path: cfg.Repository.Path})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	provider, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.DefaultModel,
		AppName:      cfg.LLM.AppName,
		SiteURL:      cfg.LLM.SiteURL,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("build provider: %w", err)
	}

	mcpManager := mcp.NewManager(&cfg.MCP, logger)
	if cfg.MCP.Enabled {
		if err := mcpManager.Start(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("start tool servers: %w", err)
		}
	}

	blobStore, localBlobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		mcpManager.Stop()
		repo.Close()
		return nil, err
	}

	attachmentSvc := attachments.NewService(blobStore, repo, attachments.ServiceConfig{
		MaxSizeBytes: cfg.Attachments.MaxSizeBytes,
		RetentionTTL: cfg.Attachments.RetentionTTL(),
		ReapInterval: time.Hour,
	}, logger)
	go attachmentSvc.RunReaper(ctx)

	modelSettingsPath := settingsFilePath(cfg, "model_settings.json")
	modelSettings := settings.NewModelSettingsService(modelSettingsPath)

	presetsPath := settingsFilePath(cfg, "presets.json")
	presets := settings.NewPresetService(presetsPath, modelSettings, mcpManager)

	var planner *orchestrator.Planner
	if cfg.Orchestrator.PlannerModel != "" {
		planner = orchestrator.NewPlanner(provider, cfg.Orchestrator.PlannerModel)
	}
	titles := titlegen.NewGenerator(provider, repo, cfg.Orchestrator.TitleModel, logger)

	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       tracingEndpoint(cfg),
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	metrics := observability.NewMetrics()

	orch := orchestrator.New(
		repo, repo, attachmentSvc,
		provider, mcpManager,
		modelSettings, presets,
		planner, titles,
		orchestrator.Config{
			Limits: orchestrator.TurnLimits{
				MaxToolIterations: cfg.Orchestrator.MaxToolIterations,
				MaxToolCalls:      cfg.Orchestrator.MaxToolCalls,
				MaxWallTime:       cfg.Orchestrator.MaxWallTime,
			},
			Tracer:  tracer,
			Metrics: metrics,
		},
		logger,
	)

	catalog := httpapi.NewModelCatalogClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)

	handler := httpapi.NewHandler(httpapi.Config{
		Orchestrator:   orch,
		ModelSettings:  modelSettings,
		Presets:        presets,
		MCP:            mcpManager,
		Attachments:    attachmentSvc,
		Catalog:        catalog,
		LocalBlobStore: localBlobStore,
		MaxUploadBytes: cfg.Attachments.MaxSizeBytes,
		Metrics:        metrics,
		Logger:         logger,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	return &gatewayServer{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		metricsServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		repo:            repo,
		mcpManager:      mcpManager,
		attachments:     attachmentSvc,
		logger:          logger,
		shutdownTracing: shutdownTracing,
	}, nil
}

// tracingEndpoint returns the OTLP endpoint to export to, or "" to build a
// no-op tracer when tracing.enabled is false.
func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Observability.Tracing.Enabled {
		return ""
	}
	return cfg.Observability.Tracing.Endpoint
}

// buildBlobStore constructs the configured attachment backend. localStore
// is non-nil only for the "local" backend, so the HTTP layer can wire its
// JWT-verified blob-serving endpoint.
func buildBlobStore(ctx context.Context, cfg *config.Config) (attachments.Store, *attachments.LocalStore, error) {
	switch cfg.Attachments.Backend {
	case "s3":
		store, err := attachments.NewS3Store(ctx, attachments.S3StoreConfig{
			Bucket:          cfg.Attachments.S3.Bucket,
			Region:          cfg.Attachments.S3.Region,
			Endpoint:        cfg.Attachments.S3.Endpoint,
			Prefix:          cfg.Attachments.S3.Prefix,
			AccessKeyID:     cfg.Attachments.S3.AccessKeyID,
			SecretAccessKey: cfg.Attachments.S3.SecretAccessKey,
			UsePathStyle:    cfg.Attachments.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build s3 attachment store: %w", err)
		}
		return store, nil, nil
	default:
		store, err := attachments.NewLocalStore(cfg.Attachments.BasePath, cfg.Attachments.ServePath, []byte(cfg.Attachments.SigningKey))
		if err != nil {
			return nil, nil, fmt.Errorf("build local attachment store: %w", err)
		}
		return store, store, nil
	}
}

func settingsFilePath(cfg *config.Config, name string) string {
	return fmt.Sprintf("%s.d/%s", cfg.Repository.Path, name)
}

func (s *gatewayServer) stop(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
	}
	if err := s.mcpManager.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("tool servers shutdown: %w", err))
	}
	if err := s.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("repository close: %w", err))
	}
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
