package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pipeforge/controller/pkg/api"
	"github.com/pipeforge/controller/pkg/audit"
	"github.com/pipeforge/controller/pkg/backend"
	"github.com/pipeforge/controller/pkg/config"
	"github.com/pipeforge/controller/pkg/datasets"
	"github.com/pipeforge/controller/pkg/decision"
	"github.com/pipeforge/controller/pkg/inventory"
	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/metrics"
	"github.com/pipeforge/controller/pkg/pipeline"
	"github.com/pipeforge/controller/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller: submission API, decision unit, and control loops",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.PipelinesDir, 0755); err != nil {
		return fmt.Errorf("creating pipelines dir: %w", err)
	}

	metrics.SetVersion(Version)

	clientset, err := inventory.NewClientsetFromKubeconfig(cfg.KubeConfig)
	if err != nil {
		return fmt.Errorf("building kube clientset: %w", err)
	}

	metricsSource, err := inventory.NewPromQLMetricsSource(cfg.PrometheusURL)
	if err != nil {
		return fmt.Errorf("building prometheus client: %w", err)
	}

	inv := inventory.New(inventory.NewClientsetLister(clientset), metricsSource)
	if err := inv.Refresh(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("initial node inventory refresh failed, starting with an empty inventory")
		metrics.RegisterComponent("inventory", false, err.Error())
	} else {
		metrics.RegisterComponent("inventory", true, "")
	}

	catalog := datasets.New(cfg.DatasetsPath)
	if err := catalog.Refresh(); err != nil {
		logger.Warn().Err(err).Msg("initial dataset catalog refresh failed")
	}

	decisionUnit := decision.New(string(cfg.PlacerName), cfg.Seed, inv, catalog)
	metrics.RegisterComponent("decision-unit", true, "")

	backendClient := backend.New(cfg.KFPURL, cfg.KFPAPIEndpoint, cfg.EnableCaching)
	metrics.RegisterComponent("backend", true, "")

	auditLog := audit.New(cfg.NPipelinesCSV)

	store, err := storage.NewBoltStore(cfg.PipelinesDir)
	if err != nil {
		return fmt.Errorf("opening durable store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	metrics.RegisterComponent("api", true, "")

	mgr := pipeline.New(pipeline.Deps{
		Decision:       decisionUnit,
		Inventory:      inv,
		Backend:        backendClient,
		Audit:          auditLog,
		Store:          store,
		PipelinesDir:   cfg.PipelinesDir,
		WaitInterval:   cfg.WaitInterval,
		UpdateInterval: cfg.UpdateInterval,
	})
	mgr.Start()
	defer mgr.Stop()

	apiServer := api.New(mgr, catalog, cfg.PipelinesDir)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      apiServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metrics.NodesTotal.Reset()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("submission API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("submission API failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("submission API shutdown error")
	}

	if err := dumpPipelines(mgr, cfg.PipelinesDir); err != nil {
		logger.Error().Err(err).Msg("failed to write shutdown pipeline dump")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// dumpPipelines writes every held pipeline to <pipelinesDir>/pipelines.json
// on shutdown, per the external interfaces' shutdown snapshot.
func dumpPipelines(mgr *pipeline.Manager, pipelinesDir string) error {
	f, err := os.Create(filepath.Join(pipelinesDir, "pipelines.json"))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(mgr.All())
}
