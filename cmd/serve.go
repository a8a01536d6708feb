package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ordergrpc "github.com/fjod/go_cart/ordering-service/internal/grpc"
	h "github.com/fjod/go_cart/ordering-service/internal/http"
	"github.com/fjod/go_cart/ordering-service/internal/publisher"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health server and the outbox poller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root)
		},
	}
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.menu.Warm(ctx); err != nil {
		log.Warn("menu warm-up failed", slog.Any("err", err))
	}
	if _, err := a.menu.Refresh(ctx); err != nil {
		// The menu is fetched again on first use.
		log.Warn("initial menu fetch failed", slog.Any("err", err))
	}

	sink, err := a.newSink()
	if err != nil {
		return err
	}
	defer sink.Close()

	poller := publisher.NewOutboxPoller(a.ledger, sink, a.engine, publisher.Options{
		EventTick:      cfg.Publisher.EventTick,
		RecoveryTick:   cfg.Publisher.RecoveryTick,
		ReconcileGrace: cfg.Workflow.ReconcileGrace,
	}, log)

	// Confirmations may wait for the POS up to the submit timeout.
	intentTimeout := cfg.Workflow.SubmitTimeout + 15*time.Second
	router := h.NewRouter(h.Handlers{
		Menu:    h.NewMenuHandler(a.menu, cfg.Menu.MaxAge, cfg.POS.CallTimeout+5*time.Second, log),
		Intents: h.NewIntentHandler(a.engine, intentTimeout, log),
		Orders:  h.NewOrdersHandler(a.ledger, 10*time.Second, log),
		Ready:   func() bool { return a.menu.Current() != nil },
	}, h.RouterOptions{
		RequestTimeout:     max(cfg.HTTP.RequestTimeout, intentTimeout),
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: intentTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	health := ordergrpc.NewHealthServer(a.menu, cfg.Menu.MaxAge, cfg.GRPC.HealthInterval, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return health.Serve(gctx, lis)
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})

	err = g.Wait()
	log.Info("ordering service stopped")
	return err
}
