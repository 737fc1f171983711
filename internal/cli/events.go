package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"filewatch/internal/eventlog"
	"filewatch/internal/eventsink"
)

// createEventsCommand выводит последние записи журнала
func createEventsCommand(appCtx *AppContext) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Prints the latest entries of the event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := appCtx.loadConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.EventLog.Path
			}
			if dbPath == "" {
				return errors.New("no event journal configured, set event_log.path or pass --db")
			}
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("open event journal: %w", err)
			}

			store, err := eventlog.Open(eventlog.Config{Path: dbPath, ReadOnly: true})
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries()
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	eventsCmd.Flags().StringVar(&dbPath, "db", "", "path to the event journal (default event_log.path)")
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to print, 0 for all")

	return eventsCmd
}

func printEntries(w io.Writer, entries []eventsink.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}

	for _, e := range entries {
		severity := fmt.Sprintf("%-11s", e.Severity)
		switch e.Severity {
		case eventsink.SeverityWarning:
			severity = color.YellowString(severity)
		case eventsink.SeverityError:
			severity = color.RedString(severity)
		default:
			severity = color.CyanString(severity)
		}

		fmt.Fprintf(w, "%s %s %s %s\n",
			e.Time.Local().Format("2006-01-02 15:04:05.000"),
			severity,
			e.Path,
			e.Message,
		)
	}
}
