package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/horde-arena/internal/storage"
)

var flagRunsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [match-id]",
	Short: "List recorded runs",
	Long: `List the most recent runs in the runs database, or every run of one
match when a match id is given.

Examples:
  arena runs
  arena runs --limit 50
  arena runs 0b6f...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var desyncCmd = &cobra.Command{
	Use:   "desync <run-a> <run-b>",
	Short: "Find the first frame where two runs disagree",
	Long: `Compare the confirmed checksums of two runs of the same match, for
example the host's and the joiner's databases merged into one, and report
the first frame where they differ along with any desyncs the runs saw.

Examples:
  arena desync 3f2c... 9a41...`,
	Args: cobra.ExactArgs(2),
	RunE: runDesync,
}

func init() {
	runsCmd.Flags().IntVar(&flagRunsLimit, "limit", 10, "Number of recent runs to show")
}

func runRuns(_ *cobra.Command, args []string) error {
	store, err := storage.Open(flagDBPath)
	if err != nil {
		return fmt.Errorf("opening runs database: %w", err)
	}
	defer store.Close()

	var runs []storage.Run
	if len(args) == 1 {
		runs, err = store.RunsForMatch(args[0])
	} else {
		runs, err = store.RecentRuns(flagRunsLimit)
	}
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		fmt.Println()
		fmt.Println("Run 'arena simulate' to record one.")
		return nil
	}

	// Print header
	fmt.Printf("  %-36s  %-4s  %-8s  %-10s  %-8s  %s\n", "Run", "Slot", "Frames", "Ended", "Seed", "Date")
	fmt.Printf("  %-36s  %-4s  %-8s  %-10s  %-8s  %s\n", "---", "----", "------", "-----", "----", "----")

	for _, r := range runs {
		ended := r.EndReason
		if ended == "" {
			ended = "running"
		}
		fmt.Printf("  %-36s  %-4d  %-8d  %-10s  %-8d  %s\n",
			r.RunID, r.Slot, r.Frames, ended, r.Seed, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runDesync(_ *cobra.Command, args []string) error {
	store, err := storage.Open(flagDBPath)
	if err != nil {
		return fmt.Errorf("opening runs database: %w", err)
	}
	defer store.Close()

	for _, id := range args {
		if _, err := store.RunByID(id); err != nil {
			return fmt.Errorf("run %s: %w", id, err)
		}
	}

	div, compared, err := store.FirstDivergence(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Compared %d frames\n", compared)
	if div == nil {
		fmt.Println("No divergence.")
	} else {
		fmt.Printf("First divergence at frame %d: %016x vs %016x\n", div.Frame, div.A, div.B)
	}

	for _, id := range args {
		desyncs, err := store.Desyncs(id)
		if err != nil {
			return err
		}
		for _, d := range desyncs {
			fmt.Printf("  %s reported desync with slot %d at frame %d: local %016x, remote %016x\n",
				id, d.Slot, d.Frame, d.Local, d.Remote)
		}
	}
	return nil
}
