package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/localdocs"
	"github.com/hupe1980/localdocs/observability"
	"github.com/hupe1980/localdocs/transport/natsrpc"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	shards := fs.String("shards", "", "comma-separated shard files or directories to import at startup")
	metricsAddr := fs.String("metrics-addr", a.cfg.Metrics.Addr, "listen address of the /metrics endpoint; empty disables it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := a.openDB(ctx, localdocs.WithMetricsCollector(observability.NewPrometheusCollector(reg)))
	if err != nil {
		return err
	}
	defer db.Close()

	if paths := splitList(*shards); len(paths) > 0 {
		if _, err := a.importPaths(ctx, db, paths); err != nil {
			return err
		}
	}

	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("localdocs-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			a.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	sub, err := natsrpc.Serve(nc, a.cfg.NATS.Subject, db.Worker(),
		natsrpc.WithLogger(a.logger.Logger),
		natsrpc.WithQueueGroup(a.cfg.NATS.QueueGroup),
		natsrpc.WithTimeout(a.cfg.NATS.Timeout),
	)
	if err != nil {
		return err
	}
	a.logger.Info("serving searches", "subject", a.cfg.NATS.Subject, "queue", a.cfg.NATS.QueueGroup)

	var srv *http.Server
	errc := make(chan error, 1)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info("metrics listening", "addr", *metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	a.logger.Info("shutting down")
	if derr := sub.Drain(); derr != nil {
		a.logger.Warn("drain subscription", "error", derr)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return err
}
