package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syui/aigpt/internal/config"
	"github.com/syui/aigpt/internal/engine"
	"github.com/syui/aigpt/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the tick loop",
	Long: `Serve owns the companion's database: it runs a scheduler tick at startup
and every AIGPT_TICK_INTERVAL, and answers the HTTP API that other aigpt
commands use while it is up.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe blocks until SIGINT or SIGTERM. The tick loop is stopped before
// the listener drains so no transmission starts during shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	eng, err := engine.Open(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if eng.LLM == nil {
		fmt.Fprintf(os.Stderr, "  llm: none, using fallback messages\n")
	} else {
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}
	fmt.Fprintf(os.Stderr, "  tz: %s, tick every %s\n", eng.Location(), cfg.Core.TickInterval)

	eng.StartTicker(cfg.Core.TickInterval)

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.New(eng, VersionString()),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "aigpt serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", eng.DB.Path)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "\nshutting down...")
	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
