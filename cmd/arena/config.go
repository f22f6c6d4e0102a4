package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/horde-arena/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the arena configuration after resolving the config file, the
preset and --seed. The output is valid input for --config.

Examples:
  arena config > ~/.arena/arena.yaml
  arena config --preset swarm`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}
