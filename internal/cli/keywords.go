package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stationear/internal/domain"
	"stationear/internal/keywords"
)

func newKeywordsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage the keywords registered for a session",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [session-id]",
			Short: "List registered keywords",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				services, _, err := opts.build(cmd)
				if err != nil {
					return err
				}
				defer services.Close()

				id, err := targetSession(ctx, services, args)
				if err != nil {
					return err
				}
				items, err := services.Keywords.List(ctx, id)
				if err != nil {
					return err
				}
				opts.view(cmd).keywords(id, items)
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <session-id> <keyword>",
			Short: "Register a keyword",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				services, _, err := opts.build(cmd)
				if err != nil {
					return err
				}
				defer services.Close()

				id := domain.SessionID(strings.TrimSpace(args[0]))
				items, err := services.Keywords.Add(ctx, id, args[1])
				if err != nil {
					return err
				}
				opts.view(cmd).keywords(id, items)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <session-id> <keyword-id|keyword>",
			Short: "Remove a keyword by server id or text",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				services, _, err := opts.build(cmd)
				if err != nil {
					return err
				}
				defer services.Close()

				id := domain.SessionID(strings.TrimSpace(args[0]))
				items, err := services.Keywords.List(ctx, id)
				if err != nil {
					return err
				}
				target, ok := findKeyword(items, args[1])
				if !ok {
					return fmt.Errorf("keyword %q is not registered for session %s", args[1], id)
				}
				remaining, err := services.Keywords.Remove(ctx, id, target)
				if err != nil {
					return err
				}
				opts.view(cmd).keywords(id, remaining)
				return nil
			},
		},
	)
	return cmd
}

// findKeyword matches ref against server ids first, then normalized text.
func findKeyword(items []domain.Keyword, ref string) (domain.Keyword, bool) {
	ref = strings.TrimSpace(ref)
	if number, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for _, item := range items {
			if item.ID != nil && *item.ID == number {
				return item, true
			}
		}
	}
	want := keywords.Normalize(ref)
	for _, item := range items {
		if keywords.Normalize(item.Text) == want {
			return item, true
		}
	}
	return domain.Keyword{}, false
}
