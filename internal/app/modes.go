package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/assembler"
	"github.com/alanyoungcy/crossarb/internal/executor"
	"github.com/alanyoungcy/crossarb/internal/pipeline"
	"github.com/alanyoungcy/crossarb/internal/risk"
	"github.com/alanyoungcy/crossarb/internal/scanner"
	"github.com/alanyoungcy/crossarb/internal/server"
	"github.com/alanyoungcy/crossarb/internal/server/handler"
	"github.com/alanyoungcy/crossarb/internal/server/ws"
	"github.com/alanyoungcy/crossarb/internal/sim"
)

// ScanMode runs only the scanner.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scanner.New(deps.Bus, deps.Quotes, a.cfg.Scanner, a.logger).Run(ctx)
	})
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// RiskMode runs only the risk engine.
func (a *App) RiskMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return risk.New(deps.Bus, a.cfg.Risk, "risk-1", a.logger).Run(ctx)
	})
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// ExecuteMode runs only the router-executor.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return executor.New(deps.Bus, deps.Toggles, a.cfg.Executor, a.logger).Run(ctx)
	})
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// SimMode runs only the order simulator.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sim.New(deps.Bus, a.cfg.Simulator.Consumer, a.logger).Run(ctx)
	})
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// AssembleMode runs the trade assembler with persistence.
func (a *App) AssembleMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return assembler.New(deps.Bus, deps.TradeStore, a.cfg.Assembler.Consumer, a.logger).Run(ctx)
	})
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs the entire pipeline: scanner, risk engine, executor,
// simulator, assembler, trade persister, trade tail, ops server, and the
// archiver when enabled. Paper mode reuses this wiring on the in-memory bus.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scanner.New(deps.Bus, deps.Quotes, a.cfg.Scanner, a.logger).Run(ctx)
	})
	g.Go(func() error {
		return risk.New(deps.Bus, a.cfg.Risk, "risk-1", a.logger).Run(ctx)
	})
	g.Go(func() error {
		return executor.New(deps.Bus, deps.Toggles, a.cfg.Executor, a.logger).Run(ctx)
	})
	g.Go(func() error {
		return sim.New(deps.Bus, a.cfg.Simulator.Consumer, a.logger).Run(ctx)
	})
	g.Go(func() error {
		return assembler.New(deps.Bus, deps.TradeStore, a.cfg.Assembler.Consumer, a.logger).Run(ctx)
	})

	if deps.TradeStore != nil {
		g.Go(func() error {
			return pipeline.NewPersister(deps.Bus, deps.TradeStore, "persist-1", a.logger).Run(ctx)
		})
	}

	if a.cfg.Archiver.Enabled && deps.TradeStore != nil && deps.BlobWriter != nil {
		g.Go(func() error {
			arch := pipeline.NewArchiver(deps.TradeStore, deps.BlobWriter, a.cfg.Archiver.RetentionDays, a.logger)
			return arch.RunInterval(ctx, time.Duration(a.cfg.Archiver.IntervalHours)*time.Hour)
		})
	}

	hub := ws.NewHub(deps.Bus, "tail-1", a.logger)
	g.Go(func() error { return hub.Run(ctx) })
	a.startServer(ctx, g, deps, hub)

	return g.Wait()
}

// startServer registers the ops HTTP server on the group when enabled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.BusPinger, deps.StorePinger),
		Toggles: handler.NewToggleHandler(deps.Toggles, a.logger),
		Trades:  handler.NewTradeHandler(deps.TradeStore),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}
