package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/threadmill/pkg/coord"
	"github.com/daviddao/threadmill/pkg/server"
)

const shutdownGrace = 5 * time.Second

// serverSettings builds the listener settings from the config.
func (a *app) serverSettings() server.Settings {
	return server.Settings{
		Addr:         a.cfg.Server.Addr,
		ReadTimeout:  a.cfg.ReadTimeout(),
		WriteTimeout: a.cfg.WriteTimeout(),
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	}
}

func (a *app) cmdServe(args []string) int {
	flags := a.newFlags("serve")
	addr := flags.String("addr", "", "listen address (overrides server.addr)")
	noMaintain := flags.Bool("no-maintenance", false, "don't run periodic maintenance")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	settings := a.serverSettings()
	if *addr != "" {
		settings.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.serve(ctx, settings, !*noMaintain); err != nil {
		return a.fail("serve", err)
	}
	return 0
}

// serve runs the HTTP server and, when maintain is set, the maintenance
// loop until ctx is done. State is persisted after every write, after
// every pass and once more on the way out.
func (a *app) serve(ctx context.Context, settings server.Settings, maintain bool) error {
	srv := server.New(a.agg, settings,
		server.WithLogger(a.logger),
		server.WithPersist(a.syncer.Sync))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, shutdownGrace)
	})
	if maintain {
		interval := a.cfg.MaintenanceInterval()
		a.logger.Info("maintenance scheduled", zap.Duration("interval", interval))
		g.Go(func() error {
			return a.agg.RunMaintenance(ctx, interval, a.cfg.Policy(), a.afterMaintenance)
		})
	}

	err := g.Wait()
	if serr := a.syncer.Sync(); serr != nil && err == nil {
		err = fmt.Errorf("final persist: %w", serr)
	}
	return err
}

func (a *app) afterMaintenance(r coord.Report) {
	if err := a.syncer.Sync(); err != nil {
		a.logger.Error("persist after maintenance", zap.Error(err))
		return
	}
	if r.Events > 0 || len(r.Overdue) > 0 {
		a.logger.Info("maintenance pass",
			zap.Int("events", r.Events),
			zap.Int("decayed", r.Decayed),
			zap.Strings("expired", r.Expired),
			zap.Int("overdue", len(r.Overdue)))
	}
}
