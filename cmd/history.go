package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/callmon/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded calls",
	Long: `Inspect the call records written by 'callmon watch' when history.enabled
is set. Records live as JSON files under history.dir.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded calls, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := historyStore()
		if err != nil {
			return err
		}
		return runHistoryList(store, cmd.OutOrStdout())
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one call record as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := historyStore()
		if err != nil {
			return err
		}
		return runHistoryShow(store, args[0], cmd.OutOrStdout())
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest records, keeping --keep of them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := historyStore()
		if err != nil {
			return err
		}
		return runHistoryPrune(store, pruneKeep, cmd.OutOrStdout())
	},
}

var pruneKeep int

func init() {
	historyPruneCmd.Flags().IntVar(&pruneKeep, "keep", 50, "number of most recent records to keep")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

// historyStore opens the configured record directory, even when recording
// is disabled, so old records stay readable.
func historyStore() (history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.NewFileStore(cfg.History.Dir)
}

func runHistoryList(store history.Store, w io.Writer) error {
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "no calls recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tFROM\tTO\tSTATE\tREASON\tDURATION")
	for _, r := range records {
		reason := string(r.Reason)
		if reason == "" {
			reason = "-"
		}
		if r.Terminated {
			reason += " (terminated)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			orDash(r.Origin),
			orDash(r.Destination),
			r.State,
			reason,
			r.Duration().Round(time.Second),
		)
	}
	return tw.Flush()
}

func runHistoryShow(store history.Store, id string, w io.Writer) error {
	rec, err := store.Load(id)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return enc.Close()
}

func runHistoryPrune(store history.Store, keep int, w io.Writer) error {
	if keep <= 0 {
		return fmt.Errorf("--keep must be positive, got %d", keep)
	}
	removed, err := history.Prune(store, keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Removed %d record(s)\n", removed)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
