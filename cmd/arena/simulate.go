package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/horde-arena/internal/netplay"
)

var (
	simulateFlags   matchFlags
	flagSimRealtime bool
	flagSimVerify   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a headless local match with bot input",
	Long: `Run every player slot locally, driven by a seeded bot, without any
network. The run's checksums go to the runs database and its inputs to a
replay log, so 'arena replay' can verify determinism afterwards.

Examples:
  arena simulate --frames 3600
  arena simulate --frames 600 --seed 42 --preset swarm
  arena simulate --realtime --metrics-addr :9100`,
	RunE: runSimulate,
}

func init() {
	addMatchFlags(&simulateFlags, simulateCmd.Flags(), 3600)
	simulateCmd.Flags().BoolVar(&flagSimRealtime, "realtime", false, "Advance at the configured tick rate instead of as fast as possible")
	simulateCmd.Flags().BoolVar(&flagSimVerify, "verify", false, "Re-simulate the replay log afterwards and fail on mismatch")
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	local := make([]int, cfg.Runtime.Players)
	for i := range local {
		local[i] = i
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := playMatch(ctx, logger, matchPlan{
		cfg:     cfg,
		local:   local,
		input:   netplay.Bot{Seed: simulateFlags.botSeed},
		unpaced: !flagSimRealtime,
		flags:   simulateFlags,
	})
	if err != nil {
		return err
	}
	printResult(res)

	if flagSimVerify && simulateFlags.replayDir != "" {
		return verifyReplay(replayPath(simulateFlags.replayDir, res.RunID), logger)
	}
	return nil
}
