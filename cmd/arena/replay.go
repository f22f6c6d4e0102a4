package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/horde-arena/internal/replay"
	"github.com/vovakirdan/horde-arena/internal/rollback"
	"github.com/vovakirdan/horde-arena/internal/storage"
)

// errReplayMismatch is returned when a re-simulation disagrees with its log.
var errReplayMismatch = errors.New("replay diverged from the recorded run")

var flagReplayUseDB bool

var replayCmd = &cobra.Command{
	Use:   "replay <log>",
	Short: "Re-simulate a replay log and verify its checksums",
	Long: `Rebuild the arena from the config stored in a replay log, feed it the
recorded inputs and compare the checksum after every frame with the ones
recorded during the match.

With --compare-db the checksums stored for the same run in the runs
database are compared too.

Examples:
  arena replay ~/.arena/replays/3f2c....jsonl.zst
  arena replay run.jsonl.zst --compare-db`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		return verifyReplay(args[0], logger)
	},
}

func init() {
	replayCmd.Flags().BoolVar(&flagReplayUseDB, "compare-db", false, "Also compare against checksums in the runs database")
}

func verifyReplay(path string, logger *log.Logger) error {
	r, err := replay.Open(path)
	if err != nil {
		return err
	}
	lg, err := replay.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return err
	}

	var extra []rollback.FrameChecksum
	if flagReplayUseDB && flagDBPath != "" {
		store, err := storage.Open(flagDBPath)
		if err != nil {
			return err
		}
		extra, err = store.Checksums(lg.Header.RunID, 0, ^uint32(0))
		store.Close()
		if err != nil {
			return err
		}
	}

	rep, err := replay.Verify(lg, extra, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Run:       %s\n", lg.Header.RunID)
	fmt.Printf("Frames:    %d\n", rep.Frames)
	fmt.Printf("Checked:   %d checksums\n", rep.Checked)
	fmt.Printf("Final:     %016x\n", rep.Final)
	if !rep.OK() {
		fmt.Printf("Mismatch:  frame %d, recorded %016x, replayed %016x\n",
			rep.Mismatch.Frame, rep.Mismatch.Recorded, rep.Mismatch.Replayed)
		return errReplayMismatch
	}
	fmt.Println("Result:    deterministic")
	return nil
}
