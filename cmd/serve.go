package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/health"
	"github.com/ebalodis/faceframe/internal/overlay"
	"github.com/ebalodis/faceframe/internal/pipeline"
	"github.com/ebalodis/faceframe/internal/record"
	"github.com/ebalodis/faceframe/internal/service"
	"github.com/ebalodis/faceframe/internal/source"
	"github.com/ebalodis/faceframe/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection pipeline over the configured sensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	// The config service validates and applies environment overrides on
	// top of the file the bootstrap logger was built from
	configService, err := config.NewService(cfgFile, log)
	if err != nil {
		return err
	}
	cfg = configService.Get()

	log.Info("Starting faceframe",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	engine, err := buildEngine(cfg, cfg.Engine.Mode, log)
	if err != nil {
		return err
	}

	if len(cfg.Sensors) == 0 {
		return fmt.Errorf("no sensors configured")
	}
	sources := make([]source.FrameSource, 0, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		src, err := source.New(sc, log)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", sc.ID, err)
		}
		sources = append(sources, src)
	}

	pipe, err := pipeline.New(cfg.Pipeline, engine, sources, log)
	if err != nil {
		return err
	}

	surface := overlay.NewImageSurface(cfg.Overlay.Width, cfg.Overlay.Height)
	renderer, err := overlay.NewRenderer(surface, pipe.Current, log)
	if err != nil {
		return err
	}

	manager := service.NewManager(log)
	manager.Register(pipe)
	manager.Register(renderer)

	var recorder *record.Recorder
	if cfg.Record.Enabled {
		recorder, err = record.NewRecorder(cfg.Record, pipe.Current, log)
		if err != nil {
			return fmt.Errorf("creating recorder: %w", err)
		}
		manager.Register(recorder)
	}

	healthMgr := health.NewManager(log, manager)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewEngineChecker(engine))
	healthMgr.RegisterChecker(health.NewPipelineChecker(pipe.Stats, 0))
	if recorder != nil {
		healthMgr.RegisterChecker(health.NewStoreChecker(recorder.Store()))
	}

	webServer := web.NewServer(&cfg.Web, log)
	webServer.SetVersion(version)
	webServer.SetPipeline(pipe)
	webServer.SetOverlay(renderer, surface)
	webServer.SetHealth(healthMgr)
	if recorder != nil {
		webServer.SetDetectionStore(recorder.Store())
	}
	manager.Register(webServer)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}

	// Surface startup failures instead of idling with a dead pipeline
	if status := manager.GetServiceStatus("pipeline"); status != nil {
		if err := status.GetError(); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = manager.Shutdown(shutdownCtx)
			return fmt.Errorf("pipeline failed to start: %w", err)
		}
	}

	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
	return nil
}
