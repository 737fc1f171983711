package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand создает дерево команд filewatch. Без подкоманды
// корневая команда запускает сервис наблюдения
func NewRootCommand(appCtx *AppContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "filewatch [path]",
		Short: "Watches a single file and reports changes to its content",
		Long: `filewatch watches one file and reports every change to its content,
its deletion and failures to observe it. The path comes from the first
argument or from the WatchFilePath setting.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appCtx.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.WatchFilePath = args[0]
			}

			return appCtx.Run(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&appCtx.ConfigPath, "config", "c", "", "path to config file (default $CONFIG_PATH)")

	attachCommands(rootCmd,
		createEventsCommand(appCtx),
		createCheckCommand(appCtx),
	)

	return rootCmd
}

func attachCommands(root *cobra.Command, cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		root.AddCommand(cmd)
	}
}
