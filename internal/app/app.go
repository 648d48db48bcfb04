package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/cloudshelf/store-provisioner/internal/api"
	"github.com/cloudshelf/store-provisioner/internal/cluster"
	"github.com/cloudshelf/store-provisioner/internal/config"
	"github.com/cloudshelf/store-provisioner/internal/httpserver"
	"github.com/cloudshelf/store-provisioner/internal/lifecycle"
	"github.com/cloudshelf/store-provisioner/internal/packager"
	"github.com/cloudshelf/store-provisioner/internal/platform"
	"github.com/cloudshelf/store-provisioner/internal/reconciler"
	"github.com/cloudshelf/store-provisioner/internal/store"
	"github.com/cloudshelf/store-provisioner/internal/telemetry"
)

// Run is the main application entry point: it reads config, connects to
// infrastructure, and serves the stores API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting store-provisioner", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	pkg := packager.New(cfg.HelmBin, cfg.HelmChartPath, cfg.HelmValuesFile, cfg.HelmEnvValuesFile)
	if err := pkg.Validate(ctx); err != nil {
		return fmt.Errorf("validating packaging tool: %w", err)
	}
	logger.Info("packaging tool validated", "bin", cfg.HelmBin, "chart", cfg.HelmChartPath)

	clientset, err := newKubernetesClientset(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}
	clusterReader := cluster.New(clientset)

	repo := store.NewPostgresRepository(db)

	rec := reconciler.New(repo, pkg, clusterReader, logger, reconciler.Config{
		Workers:      cfg.ProvisioningMaxWorkers,
		Timeout:      time.Duration(cfg.ProvisioningTimeoutSeconds) * time.Second,
		PollInterval: time.Duration(cfg.ProvisioningPollIntervalSeconds) * time.Second,
		BaseDomain:   cfg.BaseDomain,
	})

	lifecycleAPI := lifecycle.New(repo, pkg, rec, logger, cfg.BaseDomain)

	if err := lifecycleAPI.ResumeInFlight(ctx); err != nil {
		logger.Error("resuming in-flight stores", "error", err)
	}

	srv := httpserver.NewServer(cfg, logger, db, metricsReg)

	storesHandler := api.NewHandler(logger, lifecycleAPI)
	srv.APIRouter.Mount("/", storesHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down http server", "error", err)
		}
		return rec.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newKubernetesClientset builds a clientset from an explicit kubeconfig
// path. An unloadable or missing config is fatal at startup per spec.
func newKubernetesClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	if kubeconfigPath == "" {
		return nil, fmt.Errorf("KUBECONFIG is not set")
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig %q: %w", kubeconfigPath, err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes clientset: %w", err)
	}

	return clientset, nil
}
