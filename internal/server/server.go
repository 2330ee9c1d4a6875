package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"simcloud/internal/api"
	"simcloud/internal/config"
	"simcloud/internal/eventbus"
	"simcloud/internal/instance"
	"simcloud/internal/monitor"
	"simcloud/internal/probe"
	"simcloud/internal/provider"
	"simcloud/internal/region"
	"simcloud/internal/scheduler"
	"simcloud/internal/session"
	"simcloud/internal/session/repo"
	"simcloud/internal/worker"
)

type Server struct {
	cfg         *config.Config
	deps        *Dependency
	httpServer  *http.Server
	asynqServer *asynq.Server
	asynqMux    *asynq.ServeMux
	scheduler   *scheduler.Scheduler
	logger      *slog.Logger
}

func NewServer(ctx context.Context, cfg *config.Config, deps *Dependency) (*Server, error) {
	logger := deps.Logger

	regions := region.DefaultRegions()
	if cfg.Region.Table != "" {
		parsed, err := region.ParseRegions(cfg.Region.Table)
		if err != nil {
			return nil, fmt.Errorf("region table: %w", err)
		}
		regions = parsed
	}
	registry := region.NewRegistry(regions)

	localCode, err := localRegionCode(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	localRegion, ok := registry.ByCode(localCode)
	if !ok {
		return nil, fmt.Errorf("local region code %q is not in the region table", localCode)
	}

	provisioner, err := newProvisioner(cfg, deps, localRegion)
	if err != nil {
		return nil, err
	}

	prober := probe.NewGRPC(cfg.Scheduler.ProbeTimeout, logger)
	controller := instance.NewController(provisioner, prober, instance.ControllerConfig{
		RegionName:          localRegion.Name,
		ProbePort:           cfg.Scheduler.ProbePort,
		Images:              runnerImages(cfg),
		DefaultImage:        cfg.Provider.DefaultImage,
		BootstrapTarballURL: cfg.Provider.BootstrapTarballURL,
		SSHAuthorizedKeys:   sshAuthorizedKeys(cfg, logger),
	}, logger)

	router := region.NewRouter(registry, localCode, controller, &http.Client{Timeout: 30 * time.Second}, logger)

	bus := eventbus.NewRedisBus(deps.Redis, logger)
	sessionRepo := repo.NewRepository(deps.PG, deps.Redis)
	svc := session.NewService(sessionRepo, registry, deps.AsynqClient, session.ServiceConfig{
		WarmUpLead: cfg.Scheduler.WarmUpLead,
		MaxLength:  cfg.Scheduler.MaxSessionLength,
	}, logger)

	sched := scheduler.New(sessionRepo, router, bus, scheduler.Config{
		TickPeriod:       cfg.Scheduler.TickPeriod,
		FailurePolicy:    scheduler.FailurePolicy(cfg.Scheduler.FailurePolicy),
		MonitorLaunched:  cfg.Scheduler.MonitorLaunched,
		CheckConcurrency: cfg.Scheduler.CheckConcurrency,
	}, logger)

	terminateWorker := worker.NewTerminateWorker(router, sessionRepo, bus, logger)
	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(session.TerminateTask, terminateWorker.HandleTerminate)

	ginRouter := api.NewRouter(
		api.NewSessionHandler(svc, bus),
		api.NewInstanceHandler(controller, router),
		localRegion.Name,
	)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      ginRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:         cfg,
		deps:        deps,
		httpServer:  httpServer,
		asynqServer: asynqServer,
		asynqMux:    mux,
		scheduler:   sched,
		logger:      logger,
	}, nil
}

func localRegionCode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Region.LocalCode != "" {
		return cfg.Region.LocalCode, nil
	}
	endpoint := cfg.Region.MetadataEndpoint
	if endpoint == "" {
		endpoint = region.DefaultMetadataEndpoint
	}
	code, err := region.LocalRegionCode(ctx, &http.Client{Timeout: 5 * time.Second}, endpoint)
	if err != nil {
		return "", fmt.Errorf("discover local region: %w", err)
	}
	logger.Info("Local region discovered", "region_code", code)
	return code, nil
}

func newProvisioner(cfg *config.Config, deps *Dependency, localRegion region.Region) (provider.Provisioner, error) {
	switch cfg.Provider.Kind {
	case "docker":
		return provider.NewDocker(deps.Docker, provider.DockerConfig{
			RegionCode:  localRegion.Code,
			NetworkName: cfg.Provider.DockerNetwork,
			MemoryMB:    cfg.Provider.DockerMemoryMB,
			CPU:         cfg.Provider.DockerCPU,
		}, deps.Logger), nil
	case "oci":
		return provider.NewOCI(deps.OCIProvider, provider.OCIConfig{
			CompartmentID:      cfg.Provider.CompartmentID,
			AvailabilityDomain: cfg.Provider.AvailabilityDomain,
			SubnetID:           cfg.Provider.SubnetID,
			Shape:              cfg.Provider.Shape,
		}, deps.Logger)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

func runnerImages(cfg *config.Config) map[string]string {
	images := map[string]string{
		string(session.RunnerASE):        cfg.Provider.ASEImage,
		string(session.RunnerOMM):        cfg.Provider.OMMImage,
		string(session.RunnerStatic):     cfg.Provider.StaticImage,
		string(session.RunnerTrajectory): cfg.Provider.TrajectoryImage,
	}
	for k, v := range images {
		if v == "" {
			delete(images, k)
		}
	}
	return images
}

func sshAuthorizedKeys(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Provider.SSHPublicKeyFile == "" {
		return ""
	}
	b, err := os.ReadFile(cfg.Provider.SSHPublicKeyFile)
	if err != nil {
		logger.Warn("Failed to read ssh public key, instances get no key", "error", err)
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go func() {
		if err := monitor.StartMetricsServer(ctx, s.cfg.Metrics.Addr, s.logger); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	go s.scheduler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
