package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newAlertsCommand(opts *options) *cobra.Command {
	var follow time.Duration

	cmd := &cobra.Command{
		Use:   "alerts [session-id]",
		Short: "Print live keyword alerts for a session until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			services, _, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			id, err := targetSession(ctx, services, args)
			if err != nil {
				return err
			}

			view := opts.view(cmd)
			view.field("Following", id.String())
			services.Monitor.Follow(ctx, id)

			if follow > 0 {
				timer := time.NewTimer(follow)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
				}
			} else {
				<-ctx.Done()
			}
			services.Monitor.Close()
			return nil
		},
	}

	cmd.Flags().DurationVar(&follow, "for", 0, "stop following after this long (0 follows until interrupted)")
	return cmd
}
