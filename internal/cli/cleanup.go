package cli

import (
	"github.com/spf13/cobra"
)

func newCleanupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every session recorded in local history from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			services, _, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			history, err := services.Storage.SessionHistory(ctx)
			if err != nil {
				return err
			}
			deleted := services.Sessions.Cleanup(ctx)
			cmd.Printf("deleted %d of %d sessions\n", deleted, len(history))
			return nil
		},
	}
}
