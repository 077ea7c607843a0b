package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waytale/waytale/pkg/tour"
)

// ValidateCmd loads a tour file and reports whether it passes validation.
func ValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <tour-file>",
		Short: "Validate a tour YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := tour.Load(args[0])
			if err != nil {
				return fmt.Errorf("invalid tour: %w", err)
			}
			fmt.Printf("%s: %q ok (%d POIs, mode %s)\n", t.ID, t.Title, len(t.POIs), t.Profile.Mode)
			return nil
		},
	}
	return cmd
}
