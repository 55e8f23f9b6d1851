package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show the processing status of a session",
		Long:  "Show the processing status of a session. Without an id the most recent session in local history is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			services, _, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			id, err := endedSession(ctx, services, args)
			if err != nil {
				return err
			}
			status, err := services.Sessions.FetchStatus(ctx, id)
			if err != nil {
				return err
			}
			opts.view(cmd).status(id, status)
			return nil
		},
	}
}
