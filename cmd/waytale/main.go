package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waytale/waytale/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "waytale",
		Short: "Location-triggered audio tour engine",
		Long: `waytale runs location-triggered audio tours: it watches position
updates, schedules geofences around upcoming stops, and plays narration
with crossfades when a visit is detected.`,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.SimulateCmd())
	rootCmd.AddCommand(cli.ValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
