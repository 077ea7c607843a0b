package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waytale/waytale/internal/config"
	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/replay"
	"github.com/waytale/waytale/pkg/tour"
)

// SimulateCmd replays a recorded trace against a tour and prints the
// resulting trigger and playback command sequence.
func SimulateCmd() *cobra.Command {
	var (
		tourPath  string
		tracePath string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a recorded position trace against a tour",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Init(config.Env("WAYTALE_LOG_LEVEL", logLevel))

			tr, err := tour.Load(tourPath)
			if err != nil {
				return fmt.Errorf("load tour: %w", err)
			}

			f, err := os.Open(tracePath)
			if err != nil {
				return fmt.Errorf("open trace: %w", err)
			}
			defer f.Close()

			trace, err := replay.ReadTrace(f)
			if err != nil {
				return err
			}

			player := replay.NewPlayer(tr, nil, engine.Config{})
			out, err := player.Run(cmd.Context(), trace)
			if err != nil {
				return err
			}

			fmt.Printf("Replayed %d records against %q (%d POIs)\n", len(trace), tr.Title, len(tr.POIs))
			fmt.Printf("Triggers (%d):\n", len(out.Triggers))
			for _, t := range out.Triggers {
				fmt.Printf("  %s\n", t)
			}
			fmt.Printf("Playback commands (%d):\n", len(out.PlaybackOps))
			for _, op := range out.PlaybackOps {
				fmt.Printf("  %s\n", op)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tourPath, "tour", "", "path to the tour YAML file (required)")
	cmd.Flags().StringVar(&tracePath, "trace", "", "path to the JSON-lines trace file (required)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level during replay")
	cmd.MarkFlagRequired("tour")
	cmd.MarkFlagRequired("trace")

	return cmd
}
