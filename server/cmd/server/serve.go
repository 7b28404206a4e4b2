package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/infradash/infradash/server/internal/alerts"
	"github.com/infradash/infradash/server/internal/api"
	"github.com/infradash/infradash/server/internal/certs"
	"github.com/infradash/infradash/server/internal/config"
	"github.com/infradash/infradash/server/internal/grpchealth"
	"github.com/infradash/infradash/server/internal/metrics"
	"github.com/infradash/infradash/server/internal/openapi"
	"github.com/infradash/infradash/server/internal/proxy"
	"github.com/infradash/infradash/server/internal/registry"
	"github.com/infradash/infradash/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	setupLogging(os.Stdout, cfg)

	s := cfg.Server
	slog.Info("infradash starting",
		"config", opts.configPath,
		"http_port", s.HTTPPort,
		"grpc_port", s.GRPCPort,
		"cache_ttl", s.Health.CacheTTL,
		"probe_timeout", s.Health.ProbeTimeout,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(s.APIConfigs)
	if reg.Len() == 0 {
		slog.Warn("no APIs configured; set API_CONFIGS or server.api_configs")
	}
	slog.Info("APIs loaded", "count", reg.Len(), "names", reg.Names())

	met := metrics.New()

	// Health monitor with background cache eviction.
	mon := newMonitor(reg, s.Health, met)
	go mon.Cache().Run(ctx)
	mon.Subscribe(met)

	// Alerts engine; evaluates rules on every computed status.
	alertEngine := alerts.New(s.Alerts)
	mon.Subscribe(alertEngine)

	px := proxy.New(reg, proxy.Options{
		Timeout:            s.Proxy.Timeout,
		MaxIdleConns:       s.Proxy.MaxIdleConns,
		InsecureSkipVerify: s.Proxy.InsecureSkipVerify,
		Recorder:           met,
	})
	defer px.Close()

	// WebSocket hub; re-checks and broadcasts every BroadcastInterval.
	hub := ws.New(mon, s.BroadcastInterval)
	go hub.Run(ctx)

	catalog := openapi.NewCatalog(reg, nil, openapi.Options{})
	checker := certs.NewChecker(reg, certs.Options{InsecureSkipVerify: s.Health.InsecureSkipVerify})

	var defaults atomic.Pointer[config.DefaultsConfig]
	defaults.Store(&s.Defaults)

	// Optional gRPC health service.
	var (
		grpcSrv *grpc.Server
		sink    *grpchealth.Sink
	)
	if s.GRPCPort > 0 {
		sink = grpchealth.New()
		mon.Subscribe(sink)
		grpcSrv = grpc.NewServer()
		sink.Register(grpcSrv)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen on gRPC port %d: %w", s.GRPCPort, err)
		}
		go func() {
			slog.Info("gRPC health listening", "port", s.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	// Hot reload of the API list, alert rules and defaults.
	if opts.configPath != "" || opts.envFile != "" {
		go func() {
			err := config.Watch(ctx, opts.configPath, opts.envFile, func(next *config.Config) {
				apis := reg.Reload(next.Server.APIConfigs)
				keep := make(map[string]bool, len(apis))
				for _, d := range apis {
					keep[d.ID] = true
				}
				met.Forget(keep)
				if sink != nil {
					sink.Forget(keep)
				}
				alertEngine.Reload(next.Server.Alerts)
				alertEngine.Forget(keep)
				catalog.Invalidate()
				defaults.Store(&next.Server.Defaults)
				slog.Info("APIs reloaded", "count", len(apis))
			})
			if err != nil {
				slog.Warn("config watch disabled", "err", err)
			}
		}()
	}

	handler := api.New(api.Deps{
		Registry: reg,
		Monitor:  mon,
		Defaults: func() config.DefaultsConfig { return *defaults.Load() },
		Alerts:   alertEngine,
		Certs:    checker,
		OpenAPI:  catalog,
		Proxy:    px,
		Hub:      hub,
		Metrics:  met,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", s.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("infradash shutting down")
	case err = <-errCh:
		slog.Error("server failure", "err", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if grpcSrv != nil {
		sink.Shutdown()
		grpcSrv.GracefulStop()
	}
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
	return err
}
