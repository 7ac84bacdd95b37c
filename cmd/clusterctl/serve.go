package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/clusterctl/pkg/bus"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/metrics"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane's background engines and HTTP endpoints",
	Long: `serve starts the health check loop, the recovery loop, the
high-frequency metrics pipeline, the FTP sidecar reconciler, and (if
enabled) the backup cleanup loop, and exposes /metrics, /healthz, and
the metrics bus's WebSocket topics over HTTP until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("enable-pprof", false, "Expose net/http/pprof endpoints alongside the HTTP server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.bus.Start()
	defer a.bus.Stop()
	a.bus.RegisterFilter(bus.TopicMetrics, bus.OwnerFilter(a.ownerOf))

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
		log.WithComponent("serve").Info().Str("loop", name).Msg("loop started")
	}

	runLoop("health-check", a.health.RunCheckLoop)
	runLoop("health-recovery", a.health.RunRecoveryLoop)
	runLoop("metrics-pipeline", a.pipeline.Run)
	runLoop("ftp-reconcile", a.ftp.Run)
	if a.backup.Enabled() {
		runLoop("backup-cleanup", a.backup.RunCleanupLoop)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/topic/metrics", func(w http.ResponseWriter, r *http.Request) {
		a.bus.ServeWebSocket(w, r, bus.TopicMetrics, a.identityFor(r))
	})
	mux.HandleFunc("/topic/stats", func(w http.ResponseWriter, r *http.Request) {
		a.bus.ServeWebSocket(w, r, bus.TopicStats, a.identityFor(r))
	})
	if pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof"); pprofEnabled {
		registerPprof(mux)
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("serve").Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent("serve").Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.WithComponent("serve").Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithComponent("serve").Warn().Err(err).Msg("http server did not shut down cleanly")
	}

	cancel()
	wg.Wait()

	log.WithComponent("serve").Info().Msg("shutdown complete")
	return nil
}
