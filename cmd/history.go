// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/config"
	"github.com/xkilldash9x/sweep-cli/internal/observability"
	"github.com/xkilldash9x/sweep-cli/internal/store"
)

// journalOpener opens the configured run journal. It is a parameter of the
// command so tests can inject a journal.
type journalOpener func(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (store.Journal, error)

func newHistoryCmd(open journalOpener) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if d := cfg.Journal().Driver; d == config.JournalNone || d == "" {
				return fmt.Errorf("the run journal is disabled (journal.driver is %q)", config.JournalNone)
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			journal, err := open(ctx, cfg.Journal(), logger)
			if err != nil {
				return fmt.Errorf("failed to open run journal: %w", err)
			}
			defer journal.Close()

			if len(args) == 1 {
				events, err := journal.ListEvents(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to list events: %w", err)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), events)
				}
				return writeEvents(cmd.OutOrStdout(), events)
			}

			runs, err := journal.ListRuns(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			return writeRuns(cmd.OutOrStdout(), runs)
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return historyCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

const timeLayout = "2006-01-02 15:04:05"

func writeRuns(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tOUTCOME\tDELETED\tSKIPPED\tURL")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		deleted := fmt.Sprint(r.Deleted)
		if r.DryRun {
			deleted = fmt.Sprintf("(%d)", r.Previewed)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(timeLayout), duration, r.Outcome, deleted, r.Skipped, r.URL)
	}
	return tw.Flush()
}

func writeEvents(w io.Writer, events []store.EventRecord) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events recorded for this run.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tIDENTITY\tDETAIL")
	for _, e := range events {
		detail := e.Detail.Text
		if e.Detail.Reason != "" {
			detail = e.Detail.Reason
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.At.Local().Format(timeLayout), e.Kind, e.Identity, detail)
	}
	return tw.Flush()
}
