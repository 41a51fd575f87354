package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/transdata/internal/config"
	"github.com/bamsammich/transdata/internal/journal"
	"github.com/bamsammich/transdata/internal/ui"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List sessions recorded in a daemon journal",
		Long: `List the most recent sessions a daemon recorded with --journal, newest
first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runHistory,
	}

	cmd.Flags().String("journal", "", "journal database (default: daemon config or state dir)")
	cmd.Flags().IntP("limit", "n", 20, "number of sessions to show")
	cmd.Flags().Bool("failed", false, "only show failed sessions")
	cmd.Flags().
		String("config", "", "config file (default: $XDG_CONFIG_HOME/transdata/config.toml)")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("journal")      //nolint:errcheck // flag name is hardcoded
	limit, _ := cmd.Flags().GetInt("limit")          //nolint:errcheck // flag name is hardcoded
	failedOnly, _ := cmd.Flags().GetBool("failed")   //nolint:errcheck // flag name is hardcoded
	configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag name is hardcoded

	if limit <= 0 {
		return fmt.Errorf("invalid --limit %d", limit)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = historyPath(cfg.Daemon)
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), limit, failedOnly)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSTATE\tRESULT\tSIZE\tRECEIVED\tNAME\tREMOTE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Finished.Local().Format(time.DateTime),
			e.State,
			e.Kind,
			ui.FormatBytes(e.Size),
			ui.FormatBytes(e.Transferred),
			e.Name,
			e.Remote,
		)
	}
	return tw.Flush()
}

// historyPath picks the journal the daemon would write to: its configured
// journal, else the default location.
func historyPath(d config.DaemonConfig) string {
	if d.Journal != nil && *d.Journal != "" && *d.Journal != journalDefault {
		return *d.Journal
	}
	return journal.DefaultPath()
}
