package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/horde-arena/internal/netplay"
	"github.com/vovakirdan/horde-arena/internal/rollback"
)

var (
	hostFlags    matchFlags
	flagListen   string
	flagHostCode string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host a two-player match over websocket",
	Long: `Open a lobby on --listen and wait for one player to join with the
printed code. The host plays slot 0 and sends its whole arena config to
the joiner, so only the host's --config, --preset and --seed matter.

Examples:
  arena host
  arena host --listen :7777 --code ZOMBIE --frames 7200`,
	RunE: runHost,
}

func init() {
	addMatchFlags(&hostFlags, hostCmd.Flags(), 0)
	hostCmd.Flags().StringVar(&flagListen, "listen", ":7777", "Lobby address (host:port)")
	hostCmd.Flags().StringVar(&flagHostCode, "code", "", "Join code (generated when empty)")
}

func runHost(_ *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	host, err := netplay.NewHost(netplay.HostConfig{Arena: cfg, Code: flagHostCode}, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", host.Handler())
	srv := &http.Server{Addr: flagListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	fmt.Printf("Hosting match %s on %s\n", host.MatchID(), flagListen)
	fmt.Printf("Join code: %s\n", host.Code())
	fmt.Printf("Join with: arena join ws://<this-host>%s/ws --code %s\n", flagListen, host.Code())
	fmt.Println("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	go func() {
		select {
		case err := <-serveErr:
			logger.Error("lobby server", "err", err)
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	seats, err := host.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for players: %w", err)
	}

	remote := make(map[int]rollback.Peer, len(seats))
	for _, seat := range seats {
		remote[seat.Slot] = seat.Peer
	}
	res, err := playMatch(ctx, logger, matchPlan{
		cfg:     cfg,
		matchID: host.MatchID(),
		local:   []int{0},
		remote:  remote,
		input:   netplay.Bot{Seed: hostFlags.botSeed},
		flags:   hostFlags,
	})
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}
