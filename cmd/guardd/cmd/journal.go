package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/kirillm/trade-guard/internal/storage"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the audit journal",
	Long: `Query risk events and execution snapshots from the journal database
configured by DB_DRIVER and DB_DSN.

Examples:
  guardd journal events --limit 20
  guardd journal stats --since 24h
  guardd journal execution <execution-id>
  guardd journal account <account>`,
}

var journalEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent risk events",
	Args:  cobra.NoArgs,
	RunE:  runJournalEvents,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count risk events by type",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var journalExecutionCmd = &cobra.Command{
	Use:   "execution <execution-id>",
	Short: "Show the last snapshot of an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalExecution,
}

var journalAccountCmd = &cobra.Command{
	Use:   "account <account>",
	Short: "List executions of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalAccount,
}

var (
	journalLimit int
	journalSince time.Duration
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalEventsCmd, journalStatsCmd, journalExecutionCmd, journalAccountCmd)

	journalCmd.PersistentFlags().IntVarP(&journalLimit, "limit", "n", 50, "max rows")
	journalStatsCmd.Flags().DurationVar(&journalSince, "since", 24*time.Hour, "count events newer than this")
}

func openJournal(ctx context.Context) (*storage.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.JournalEnabled() {
		return nil, fmt.Errorf("journal is not configured: set DB_DRIVER and DB_DSN")
	}
	return storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, storage.PoolConfig{})
}

func runJournalEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.RiskEvents().GetRecent(ctx, journalLimit)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tINVARIANT\tREASON")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp.UTC().Format(time.RFC3339), ev.Type, ev.Invariant, ev.Reason)
	}
	return w.Flush()
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.RiskEvents().CountByType(ctx, time.Now().Add(-journalSince))
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	byName := make(map[string]int, len(counts))
	types := make([]string, 0, len(counts))
	for t, n := range counts {
		byName[string(t)] = n
		types = append(types, string(t))
	}
	sort.Strings(types)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Risk events in the last %s:\n", journalSince)
	for _, t := range types {
		fmt.Fprintf(out, "  %-26s %d\n", t, byName[t])
	}
	return nil
}

func runJournalExecution(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	exec, err := st.Executions().Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get execution: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), exec)
}

func runJournalAccount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	execs, err := st.Executions().ListByAccount(ctx, args[0], journalLimit)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOPERATION\tSTATUS\tATTEMPTS\tTX\tUPDATED")
	for _, e := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", e.ID, e.Operation, e.Status, e.Attempts, e.TxHash, e.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
