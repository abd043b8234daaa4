package commands

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

func doctorCmd(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check data dir, graph store, persisted session and metrics address",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, args []string) error {
			report := c.rt.Doctor(cmd.Context(), timeout)
			if err := c.print(report); err != nil {
				return err
			}
			if !report.Ready {
				return errors.New("doctor found failing checks")
			}
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "graph probe timeout")
	return cmd
}
