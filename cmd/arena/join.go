package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/horde-arena/internal/netplay"
	"github.com/vovakirdan/horde-arena/internal/rollback"
)

var (
	joinFlags    matchFlags
	flagJoinCode string
	flagJoinName string
)

var joinCmd = &cobra.Command{
	Use:   "join <url>",
	Short: "Join a hosted match",
	Long: `Connect to a host's lobby, take the slot it assigns and play the match.
The host sends its whole arena config, which replaces the local one; only
runtime.workers and the local session tuning (input delay, prediction
window, disconnect timeout) are kept. --config, --preset and --seed do not
change the simulation of a joined match.

Examples:
  arena join ws://localhost:7777/ws --code ABC123
  arena join ws://10.0.0.5:7777/ws --code ABC123 --name bob`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

func init() {
	addMatchFlags(&joinFlags, joinCmd.Flags(), 0)
	joinCmd.Flags().StringVar(&flagJoinCode, "code", "", "Join code printed by the host")
	joinCmd.Flags().StringVar(&flagJoinName, "name", "", "Player name shown to the host")
	_ = joinCmd.MarkFlagRequired("code")
}

func runJoin(_ *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	peer, welcome, err := netplay.Dial(dialCtx, args[0], netplay.Hello{Code: flagJoinCode, Name: flagJoinName}, logger)
	if err != nil {
		return err
	}

	cfg = welcome.Adopt(cfg)
	if err := cfg.Validate(); err != nil {
		_ = peer.Close()
		return fmt.Errorf("host parameters: %w", err)
	}
	logger.Info("joined match", "match", welcome.MatchID, "slot", welcome.Slot, "seed", cfg.Runtime.Seed)

	res, err := playMatch(ctx, logger, matchPlan{
		cfg:     cfg,
		matchID: welcome.MatchID,
		local:   []int{welcome.Slot},
		remote:  map[int]rollback.Peer{0: peer},
		input:   netplay.Bot{Seed: joinFlags.botSeed},
		flags:   joinFlags,
	})
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}
