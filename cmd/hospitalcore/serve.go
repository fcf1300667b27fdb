package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Restore state and expose metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			flushEvery, _ := cmd.Flags().GetDuration("flush-interval")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, flushEvery)
		},
	}
	cmd.Flags().Duration("flush-interval", 30*time.Second, "How often pending durable writes are retried (0 disables)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, flushEvery time.Duration) error {
	a, err := bootstrap(ctx, cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if len(a.svc.PendingSync()) > 0 {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("pending"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info().Str("addr", a.cfg.MetricsAddr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	if flushEvery > 0 {
		go flushLoop(ctx, a, flushEvery)
	}

	<-ctx.Done()
	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.svc.FlushPending(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Int("pending", len(a.svc.PendingSync())).Msg("pending durable writes left unflushed")
	}
	a.log.Info().Msg("stopped")
	return nil
}

func flushLoop(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(a.svc.PendingSync()) == 0 {
				continue
			}
			if err := a.svc.FlushPending(ctx); err != nil {
				a.log.Warn().Err(err).Msg("flush pending durable writes")
			}
		}
	}
}
