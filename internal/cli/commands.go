package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"studysync/internal/app"
	"studysync/internal/models"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				counts, err := a.Queue.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(counts)
				}
				fmt.Fprintf(out, "pending: %d\nsyncing: %d\nsynced:  %d\nfailed:  %d\ntotal:   %d\n",
					counts.Pending, counts.Syncing, counts.Synced, counts.Failed, counts.Total)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print counts as JSON")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var (
		statuses []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.ActionFilter{}
			for _, s := range statuses {
				st := models.ActionStatus(strings.ToLower(strings.TrimSpace(s)))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				actions, err := a.Store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if limit > 0 && len(actions) > limit {
					actions = actions[:limit]
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tRETRIES\tMETHOD\tURL\tQUEUED\tERROR")
				for i := range actions {
					act := &actions[i]
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
						act.ID, act.Status, act.RetryCount, act.Method, act.URL,
						act.Timestamp.Local().Format("2006-01-02 15:04:05"), act.ErrorText())
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "filter by status (pending, syncing, synced, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", models.DefaultListLimit, "maximum rows to print, 0 for all")
	return cmd
}

func newEnqueueCmd(opts *options) *cobra.Command {
	var (
		body    string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue METHOD URL",
		Short: "Queue an outbound request",
		Example: `  queuectl enqueue POST /api/sessions --body '{"subject":"math","minutes":45}'
  queuectl enqueue DELETE /api/sessions/42 -H X-Device=laptop`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hdrs, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			var payload any
			if body != "" {
				payload = json.RawMessage(body)
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				id, err := a.Queue.Enqueue(cmd.Context(), args[0], args[1], hdrs, payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&body, "body", "b", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as Key=Value, repeatable")
	return cmd
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, want Key=Value", h)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func newSyncCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				switch {
				case force:
					a.Monitor.SetOnline(true)
				case a.Config.Connectivity.ProbeURL != "":
					a.Monitor.SetOnline(a.Monitor.Probe(cmd.Context()))
				}

				summary, err := a.Queue.Trigger(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !summary.Ran {
					fmt.Fprintln(out, "offline or already syncing, nothing done")
					return nil
				}
				fmt.Fprintf(out, "synced %d, failed %d, retrying %d, recovered %d in %s\n",
					summary.Synced, summary.Failed, summary.Retried, summary.Recovered, summary.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "treat the network as online without probing")
	return cmd
}

func newRetryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Give failed actions a fresh retry budget and sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				n, err := a.Queue.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				a.Queue.Wait()
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed actions\n", n)
				return nil
			})
		},
	}
}

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove synced actions older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				n, err := a.Queue.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d synced actions\n", n)
				return nil
			})
		},
	}
}

var errNotConfirmed = errors.New("refusing to clear the queue without --yes")

func newClearCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every queued action, delivered or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNotConfirmed
			}
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app.App) error {
				if err := a.Queue.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}
