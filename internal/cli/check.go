package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"filewatch/internal/reader"
	"filewatch/internal/watcher"
)

// createCheckCommand один раз читает файл с настройками повторов,
// так же как это делает наблюдение перед стартом
func createCheckCommand(appCtx *AppContext) *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Checks that a file can be watched",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appCtx.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.WatchFilePath = args[0]
			}

			target, err := watcher.NewTarget(cfg.WatchFilePath)
			if err != nil {
				return err
			}

			r := reader.New(nil, reader.Config{
				Attempts: cfg.Read.Attempts,
				Delay:    cfg.Read.Delay,
			})
			content, err := r.ReadFile(cmd.Context(), target.Path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is readable (%d bytes)\n", target.Path, len(content))
			return nil
		},
	}

	return checkCmd
}
