package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/server"
)

var serveNoTimers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP API and the decay and narrative timers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoTimers, "no-timers", false, "do not run decay sweeps or narrative batches in the background")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openEngine(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	eng := rt.engine
	if !serveNoTimers {
		eng.StartDecayTimer(rt.cfg.Engine.Decay.Interval.Duration)
		eng.StartNarrativeTimer(rt.cfg.Engine.Narrative.Interval.Duration)
	}

	addr := rt.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(eng, VersionString(), rt.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		rt.log.Info("rapport: serving", "addr", addr, "db", rt.cfg.Database.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	rt.log.Info("rapport: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
