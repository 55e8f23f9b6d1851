package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stationear/internal/domain"
	"stationear/internal/usecase"
)

func newRecordCommand(opts *options) *cobra.Command {
	var (
		duration time.Duration
		noWait   bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start a fresh session, record until interrupted, then wait for results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			services, events, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.Sessions.Initialize(ctx); err != nil {
				return err
			}
			active := services.Sessions.Active()
			view := opts.view(cmd)
			view.field("Session", active.String())

			if _, err := services.Keywords.List(ctx, active); err != nil {
				events.SessionError(domain.ErrorCodeKeywords, err.Error())
			}
			services.Monitor.Follow(ctx, active)

			if err := services.Recorder.Start(ctx); err != nil {
				return err
			}

			result, err := waitForStop(ctx, services.Recorder, events.Stopped(), duration)
			if err != nil && result.EndedSessionID.IsZero() {
				return err
			}
			view.field("Ended", result.EndedSessionID.String())
			view.field("Next", result.ActiveSessionID.String())
			if noWait {
				return err
			}

			services.Monitor.Close()
			final, waitErr := services.Watcher.WaitAndFetch(ctx, result.EndedSessionID)
			if waitErr != nil {
				return waitErr
			}
			view.digest(result.EndedSessionID, usecase.BuildDigest(*final, services.Keywords.Texts(), services.Rules))
			return err
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 records until interrupted or the recording limit)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return after stopping without waiting for results")
	return cmd
}

// waitForStop blocks until the run auto-stops, the duration elapses or the
// process is interrupted. Only the last two stop the run here.
func waitForStop(ctx context.Context, recorder *usecase.RecordingController, stopped <-chan domain.StopResult, duration time.Duration) (domain.StopResult, error) {
	interrupted, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var elapsed <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		elapsed = timer.C
	}

	select {
	case result := <-stopped:
		return result, nil
	case <-elapsed:
	case <-interrupted.Done():
	}

	result, err := recorder.Stop(context.WithoutCancel(ctx))
	if errors.Is(err, usecase.ErrNotRecording) {
		// Auto-stop won the race; its result is already on the way.
		select {
		case result := <-stopped:
			return result, nil
		case <-time.After(5 * time.Second):
			return domain.StopResult{}, err
		}
	}
	return result, err
}
