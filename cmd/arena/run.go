package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vovakirdan/horde-arena/internal/config"
	"github.com/vovakirdan/horde-arena/internal/metrics"
	"github.com/vovakirdan/horde-arena/internal/netplay"
	"github.com/vovakirdan/horde-arena/internal/replay"
	"github.com/vovakirdan/horde-arena/internal/rollback"
	"github.com/vovakirdan/horde-arena/internal/sim"
	"github.com/vovakirdan/horde-arena/internal/storage"
)

// matchFlags are shared by every command that plays a match.
type matchFlags struct {
	frames      uint32
	replayDir   string
	metricsAddr string
	botSeed     int64
}

// matchPlan describes who plays which slot.
type matchPlan struct {
	cfg     config.ArenaConfig
	matchID string
	local   []int
	remote  map[int]rollback.Peer
	input   netplay.InputSource
	unpaced bool
	flags   matchFlags
}

// playMatch builds the arena and session for plan, wires the run database,
// replay log and metrics, and runs the match until it ends.
func playMatch(ctx context.Context, logger *log.Logger, plan matchPlan) (netplay.Result, error) {
	// Once the match runs, closing the session closes the peers.
	ran := false
	defer func() {
		if !ran {
			for _, peer := range plan.remote {
				_ = peer.Close()
			}
		}
	}()

	sc, err := plan.cfg.Sim()
	if err != nil {
		return netplay.Result{}, err
	}
	arena := sim.NewArena(sc, sim.WithLogger(logger.WithPrefix("sim")))
	session, err := rollback.New[sim.State](plan.cfg.RollbackConfig(), arena, logger)
	if err != nil {
		return netplay.Result{}, err
	}
	for _, slot := range plan.local {
		if err := session.AddPlayer(rollback.PlayerLocal, slot, nil); err != nil {
			return netplay.Result{}, err
		}
	}
	for slot, peer := range plan.remote {
		if err := session.AddPlayer(rollback.PlayerRemote, slot, peer); err != nil {
			return netplay.Result{}, err
		}
	}

	runID := uuid.NewString()
	if plan.matchID == "" {
		plan.matchID = runID
	}
	opts := []netplay.MatchOption{
		netplay.WithLogger(logger),
		netplay.WithFrameLimit(plan.flags.frames),
	}
	if plan.unpaced {
		opts = append(opts, netplay.WithUnpaced())
	}

	var recorders netplay.Recorders

	// Storage is optional; the match still runs without it.
	var store *storage.Store
	if flagDBPath != "" {
		store, err = storage.Open(flagDBPath)
		if err != nil {
			logger.Warn("could not open runs database", "err", err)
			store = nil
		}
	}
	if store != nil {
		defer store.Close()
		_, err = store.StartRun(storage.Run{
			RunID:    runID,
			MatchID:  plan.matchID,
			Slot:     plan.local[0],
			Seed:     plan.cfg.Runtime.Seed,
			Players:  plan.cfg.Runtime.Players,
			TickRate: plan.cfg.Runtime.TickRate,
		})
		if err != nil {
			return netplay.Result{}, err
		}
		recorders = append(recorders, store)
	}

	if plan.flags.replayDir != "" {
		path := replayPath(plan.flags.replayDir, runID)
		w, err := replay.Create(path, replay.Header{
			RunID:   runID,
			MatchID: plan.matchID,
			Slot:    plan.local[0],
			Config:  plan.cfg,
		})
		if err != nil {
			return netplay.Result{}, err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("closing replay log", "err", err)
			}
		}()
		recorders = append(recorders, w)
		opts = append(opts, netplay.WithInputRecorder(w))
		logger.Info("recording replay", "path", path)
	}
	if len(recorders) > 0 {
		opts = append(opts, netplay.WithRecorder(recorders))
	}

	if plan.flags.metricsAddr != "" {
		collector, err := metrics.NewSessionCollector(prometheus.NewRegistry())
		if err != nil {
			return netplay.Result{}, err
		}
		stop := serveMetrics(plan.flags.metricsAddr, collector.Handler(), logger)
		defer stop()
		opts = append(opts, netplay.WithObserver(collector))
	}

	m := netplay.NewMatch(runID, session, plan.input, plan.cfg.Runtime.TickRate, len(plan.remote), opts...)
	ran = true
	res, runErr := m.Run(ctx)

	if store != nil {
		if err := store.FinishRun(runID, res.Reason.String(), res.Frames); err != nil {
			logger.Warn("finishing run", "err", err)
		}
	}
	return res, runErr
}

// serveMetrics exposes /metrics on addr until the returned stop is called.
func serveMetrics(addr string, handler http.Handler, logger *log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printResult(res netplay.Result) {
	fmt.Printf("Run:        %s\n", res.RunID)
	fmt.Printf("Ended:      %s\n", res.Reason)
	fmt.Printf("Frames:     %d\n", res.Frames)
	fmt.Printf("Checksum:   %016x\n", res.Checksum)
	fmt.Printf("Rollbacks:  %d (%d frames resimulated)\n", res.Stats.Rollbacks, res.Stats.ResimulatedFrames)
	fmt.Printf("Stalls:     %d\n", res.Stats.PredictionStalls)
	if len(res.Desyncs) > 0 {
		fmt.Printf("Desyncs:    %d, first at frame %d\n", len(res.Desyncs), res.Desyncs[0].Frame)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func replayPath(dir, runID string) string {
	return filepath.Join(expandHome(dir), runID+".jsonl.zst")
}

func addMatchFlags(f *matchFlags, fs interface {
	Uint32Var(p *uint32, name string, value uint32, usage string)
	StringVar(p *string, name string, value string, usage string)
	Int64Var(p *int64, name string, value int64, usage string)
}, frames uint32) {
	fs.Uint32Var(&f.frames, "frames", frames, "Stop after this many frames (0 = until disconnect or Ctrl+C)")
	fs.StringVar(&f.replayDir, "replay-dir", "~/.arena/replays", "Directory for replay logs (empty disables)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Int64Var(&f.botSeed, "bot-seed", 1, "Seed for the bot driving local players")
}
