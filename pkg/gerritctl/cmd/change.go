package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goreview/gerritctl/pkg/gerritctl/client"
	"github.com/goreview/gerritctl/pkg/gerritctl/output"
)

func NewChangeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Query and act on changes",
	}

	cmd.AddCommand(
		newChangeQueryCommand(),
		newChangeShowCommand(),
		newChangeAbandonCommand(),
		newChangeRestoreCommand(),
		newChangeSubmitCommand(),
		newChangeReviewCommand(),
		newChangeReviewersCommand(),
		newChangeSetMessageCommand(),
	)

	return cmd
}

func newChangeQueryCommand() *cobra.Command {
	var (
		limit    int
		cursor   string
		fields   []string
		allPages bool
	)
	cmd := &cobra.Command{
		Use:   "query QUERY...",
		Short: "Search changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if limit == 0 && rt.cfg != nil {
				limit = rt.cfg.Settings.PageSize
			}
			opts := client.QueryOptions{Limit: limit, Cursor: cursor, Fields: fields}
			query := strings.Join(args, " ")

			var changes []client.Change
			if allPages {
				it := apiClient.Changes().QueryAll(query, opts)
				for it.Next(cmd.Context()) {
					changes = append(changes, it.Change())
				}
				if err := it.Err(); err != nil {
					return err
				}
			} else {
				changes, err = apiClient.Changes().Query(cmd.Context(), query, opts)
				if err != nil {
					return err
				}
			}
			format := output.Format(rt.OutputFormat())
			if format == output.FormatTable {
				output.WriteChangeTable(rt.Writer(), changes)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, changes)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum changes per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume marker from a previous page")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Additional fields to include (repeatable)")
	cmd.Flags().BoolVar(&allPages, "all", false, "Follow pagination to the last page")
	return cmd
}

func newChangeShowCommand() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "show CHANGE",
		Short: "Show a single change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			change, err := apiClient.Changes().Detail(cmd.Context(), args[0], fields...)
			if err != nil {
				return err
			}
			format := output.Format(rt.OutputFormat())
			if format == output.FormatTable {
				output.WriteChangeTable(rt.Writer(), []client.Change{*change})
				_, _ = fmt.Fprintln(rt.Writer(), apiClient.ChangePageURL(change.Number))
				return nil
			}
			return output.WriteObject(rt.Writer(), format, change)
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Additional fields to include (repeatable)")
	return cmd
}

func newChangeAbandonCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "abandon CHANGE",
		Short: "Abandon a change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			change, err := apiClient.Changes().Abandon(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}
			return writeChange(rt, change)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message posted with the abandon")
	return cmd
}

func newChangeRestoreCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "restore CHANGE",
		Short: "Restore an abandoned change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			change, err := apiClient.Changes().Restore(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}
			return writeChange(rt, change)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message posted with the restore")
	return cmd
}

func newChangeSubmitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "submit CHANGE",
		Short: "Submit a change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			change, err := apiClient.Changes().Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeChange(rt, change)
		},
	}
}

func newChangeReviewCommand() *cobra.Command {
	var (
		message string
		labels  []string
	)
	cmd := &cobra.Command{
		Use:   "review CHANGE",
		Short: "Post a review on the current revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if message == "" && len(labels) == 0 {
				return fmt.Errorf("nothing to post, use --message or --label")
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			review := client.ReviewInput{Message: message}
			if len(labels) > 0 {
				review.Labels = map[string]int{}
				for _, label := range labels {
					name, value, err := parseLabel(label)
					if err != nil {
						return err
					}
					review.Labels[name] = value
				}
			}
			if _, err := apiClient.Changes().SetReview(cmd.Context(), args[0], review); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Review posted on %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Review message")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "Label vote as NAME=VALUE (repeatable)")
	return cmd
}

func newChangeReviewersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviewers",
		Short: "Manage the reviewers of a change",
	}
	cmd.AddCommand(
		newReviewersListCommand(),
		newReviewersAddCommand(),
		newReviewersRemoveCommand(),
	)
	return cmd
}

func newReviewersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list CHANGE",
		Short: "List reviewers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			reviewers, err := apiClient.Changes().Reviewers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			format := output.Format(rt.OutputFormat())
			if format == output.FormatTable {
				output.WriteAccountTable(rt.Writer(), reviewers)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, reviewers)
		},
	}
}

func newReviewersAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add CHANGE REVIEWER...",
		Short: "Add reviewers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			changeID := args[0]
			var missing []string
			for _, reviewer := range args[1:] {
				added, err := apiClient.Changes().AddReviewer(cmd.Context(), changeID, reviewer)
				if err != nil {
					return err
				}
				if !added {
					missing = append(missing, reviewer)
					continue
				}
				_, _ = fmt.Fprintf(rt.Writer(), "Added %s\n", reviewer)
			}
			if len(missing) > 0 {
				return fmt.Errorf("could not resolve reviewers: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func newReviewersRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove CHANGE REVIEWER",
		Short: "Remove a reviewer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if err := apiClient.Changes().RemoveReviewer(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Removed %s\n", args[1])
			return nil
		},
	}
}

func newChangeSetMessageCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "set-message CHANGE",
		Short: "Replace the commit message of the current revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if err := apiClient.Changes().SetCommitMessage(cmd.Context(), args[0], message); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Commit message updated on %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "New commit message")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func writeChange(rt *runtimeState, change *client.Change) error {
	format := output.Format(rt.OutputFormat())
	if format == output.FormatTable {
		output.WriteChangeTable(rt.Writer(), []client.Change{*change})
		return nil
	}
	return output.WriteObject(rt.Writer(), format, change)
}

func parseLabel(s string) (string, int, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("invalid label %q, want NAME=VALUE", s)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid label value in %q: %w", s, err)
	}
	return name, value, nil
}
