package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ebalodis/faceframe/internal/source"
)

var probeDuration time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe <rtsp-url>",
	Short: "Inspect an RTSP stream before adding it as a sensor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd, args[0])
	},
}

func init() {
	probeCmd.Flags().DurationVarP(&probeDuration, "duration", "d", 5*time.Second, "How long to sample the stream")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, rawURL string) error {
	cfg := loadConfigOrDefault()

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	report, err := source.Probe(cmd.Context(), rawURL, probeDuration, log)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !report.HasH264 {
		fmt.Fprintln(os.Stderr, "Warning: stream carries no H264 track; it cannot feed the pipeline")
	}
	return nil
}
