// arena runs deterministic horde arena matches over rollback netcode.
//
// Usage:
//
//	arena simulate           - Run a headless local match with bot input
//	arena host               - Host a two-player match over websocket
//	arena join <url>         - Join a hosted match
//	arena replay <log>       - Re-simulate a replay log and verify checksums
//	arena runs               - List recorded runs
//	arena desync <a> <b>     - Find the first frame where two runs disagree
//	arena config             - Print the effective configuration
//
// Global flags:
//
//	--config <path>       - Arena config YAML
//	--preset <name>       - Horde preset: calm, normal, swarm
//	--seed <value>        - Override the round seed
//	--db <path>           - Run database (default: ~/.arena/runs.db)
//	--log-level <level>   - debug, info, warn, error
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vovakirdan/horde-arena/internal/config"
)

var (
	// Global flags
	flagConfig   string
	flagPreset   string
	flagSeed     int64
	flagDBPath   string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Horde Arena - deterministic rollback arena matches",
	Long: `Horde Arena runs a deterministic top-down arena where players command
flocking hordes, synchronized between peers with rollback netcode.

Available commands:
  simulate - Headless local match with bot input
  host     - Host a two-player match
  join     - Join a hosted match
  replay   - Verify a replay log
  runs     - List recorded runs
  desync   - Compare two runs frame by frame
  config   - Print the effective configuration

Examples:
  arena simulate --frames 3600
  arena host --listen :7777
  arena join ws://localhost:7777/ws --code ABC123
  arena replay ~/.arena/replays/<run>.jsonl.zst`,
	SilenceUsage: true,
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to arena config YAML")
	rootCmd.PersistentFlags().StringVar(&flagPreset, "preset", "", "Horde preset: calm, normal, swarm")
	rootCmd.PersistentFlags().Int64Var(&flagSeed, "seed", 0, "Round seed (0 = keep the config's seed)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "~/.arena/runs.db", "Path to runs database (empty disables)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	// Add subcommands
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(desyncCmd)
	rootCmd.AddCommand(configCmd)
}

// newLogger writes text to a terminal and JSON lines otherwise.
func newLogger() (*log.Logger, error) {
	level, err := log.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", flagLogLevel, err)
	}
	opts := log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "arena",
	}
	if !term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec // fd fits in int
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(os.Stderr, opts), nil
}

// loadConfig resolves the config file, applies the preset and the seed
// override, and validates the result.
func loadConfig(logger *log.Logger) (config.ArenaConfig, error) {
	cfg, source, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	preset, err := config.ParsePreset(flagPreset)
	if err != nil {
		return cfg, err
	}
	config.ApplyPreset(&cfg, preset)
	if flagSeed != 0 {
		cfg.Runtime.Seed = flagSeed
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	logger.Debug("config loaded", "source", source, "preset", preset, "seed", cfg.Runtime.Seed)
	return cfg, nil
}
