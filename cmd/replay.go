package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/overlay"
	"github.com/ebalodis/faceframe/internal/pipeline"
	"github.com/ebalodis/faceframe/internal/service"
	"github.com/ebalodis/faceframe/internal/source"
)

var replayOpts struct {
	FPS      int
	Engine   string
	Duration time.Duration
	Facing   string
}

var replayCmd = &cobra.Command{
	Use:   "replay <frames-path>",
	Short: "Run the pipeline over recorded JPEG frames",
	Long: `Replay feeds a JPEG file or directory of JPEG frames through the full
detection pipeline and prints the pipeline counters when done. With the
default fake engine no inference sidecar is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context(), args[0])
	},
}

func init() {
	replayCmd.Flags().IntVarP(&replayOpts.FPS, "fps", "f", 0, "Replay frame rate (default from configuration)")
	replayCmd.Flags().StringVarP(&replayOpts.Engine, "engine", "e", "", "Inference engine: fake or http (default from configuration)")
	replayCmd.Flags().DurationVarP(&replayOpts.Duration, "duration", "d", 10*time.Second, "How long to replay")
	replayCmd.Flags().StringVar(&replayOpts.Facing, "facing", "back", "Sensor facing to simulate: back or front")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, framesPath string) error {
	cfg := loadConfigOrDefault()

	fps := replayOpts.FPS
	if fps <= 0 {
		fps = cfg.Replay.FPS
	}
	engineMode := replayOpts.Engine
	if engineMode == "" {
		engineMode = cfg.Replay.Engine
	}
	facing := frame.Facing(replayOpts.Facing)
	if facing != frame.FacingBack && facing != frame.FacingFront {
		return fmt.Errorf("invalid facing: %s", replayOpts.Facing)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	engine, err := buildEngine(cfg, engineMode, log)
	if err != nil {
		return err
	}

	sensor := source.Sensor{ID: "replay", Label: "Replay", Facing: facing}
	src := source.NewFileSource(sensor, framesPath, fps, log)

	pipe, err := pipeline.New(cfg.Pipeline, engine, []source.FrameSource{src}, log)
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

	// Subscribe before starting so the first publication is not missed
	published := manager.GetEventBus().Subscribe(service.EventTypeDetections)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}
	if status := manager.GetServiceStatus("pipeline"); status != nil {
		if err := status.GetError(); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = manager.Shutdown(shutdownCtx)
			return fmt.Errorf("pipeline failed to start: %w", err)
		}
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Replaying frames"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	deadline := time.After(replayOpts.Duration)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case _, ok := <-published:
			if !ok {
				break loop
			}
			bar.Add(1)
		}
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	stats := pipe.Stats()
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if set := pipe.Current(); set != nil {
		fmt.Fprintf(os.Stderr, "Final detection set: seq=%d faces=%d image=%dx%d\n",
			set.Seq, len(set.Detections), set.ImageWidth, set.ImageHeight)
	}
	return nil
}
