package cli

import (
	"github.com/spf13/cobra"

	"stationear/internal/domain"
	"stationear/internal/usecase"
)

func newResultsCommand(opts *options) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "results [session-id]",
		Short: "Print the processed timeline of a session",
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

			var result *domain.SessionResult
			if wait {
				result, err = services.Watcher.WaitAndFetch(ctx, id)
				if err != nil {
					return err
				}
			} else if result = services.Sessions.FetchResults(ctx, id); result == nil {
				return usecase.ErrResultsUnavailable
			}

			// Read straight from the backend so viewing results never seeds defaults.
			registered, err := services.Client.ListKeywords(ctx, id)
			if err != nil {
				registered, _ = services.Storage.LoadKeywords(ctx, id)
			}
			texts := make([]string, 0, len(registered))
			for _, keyword := range registered {
				texts = append(texts, keyword.Text)
			}
			opts.view(cmd).digest(id, usecase.BuildDigest(*result, texts, services.Rules))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until processing completes before fetching")
	return cmd
}
