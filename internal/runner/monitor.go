package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

// MonitorLoop checks every pair's stop-loss once per interval until ctx is done. A tick
// in which some pair failed unexpectedly is followed by the longer error backoff.
func (o *Orchestrator) MonitorLoop(ctx context.Context) {
	o.log.Info("monitoring started",
		zap.Duration("interval", o.settings.Interval),
		zap.Int("pairs", len(o.pairs)),
	)
	for {
		if ctx.Err() != nil {
			return
		}
		wait := o.settings.Interval
		if failures := o.Tick(ctx); failures > 0 {
			wait = o.settings.ErrorBackoff
			o.notifier.Send("Monitor error",
				fmt.Sprintf("%d pair(s) failed during the last monitor pass, next pass in %s.", failures, wait))
		}
		if err := o.sleep(ctx, wait); err != nil {
			o.log.Info("monitoring stopped", zap.Error(err))
			return
		}
	}
}

// Tick runs one monitor pass and returns how many pairs failed unexpectedly.
func (o *Orchestrator) Tick(ctx context.Context) int {
	start := time.Now()
	failures := 0

	for _, p := range o.pairs {
		if ctx.Err() != nil {
			break
		}
		if err := guard(func() error { return o.monitorPair(ctx, p) }); err != nil {
			failures++
			o.log.Error("monitor pass failed for pair", zap.String("pair", p.ID()), zap.Error(err))
			o.record(models.EventTickError, p, err.Error(), nil)
		}
	}

	o.status.TouchTick(time.Now())
	o.metrics.ObserveTick(time.Since(start).Seconds())
	return failures
}

func (o *Orchestrator) monitorPair(ctx context.Context, p *hedge.Pair) error {
	log := o.log.With(zap.String("pair", p.ID()))

	if _, resolved := p.Market(); !resolved {
		if err := p.Initialize(ctx); err != nil {
			log.Debug("market still unresolved", zap.Error(err))
		}
		return nil
	}

	hit, pnl, err := p.StopLossTriggered(ctx)
	if err != nil {
		// a failed read never triggers; the next tick tries again
		log.Warn("floating pnl unavailable", zap.Error(err))
		return nil
	}
	o.metrics.FloatingPnL(p.ID(), pnl)
	log.Debug("floating pnl", zap.Float64("pnl", pnl))
	if !hit {
		return nil
	}

	o.metrics.StopLoss(p.ID())
	o.record(models.EventStopLoss, p, "stop-loss triggered", map[string]any{
		"pnl":       pnl,
		"threshold": o.settings.StopLossThreshold,
	})
	log.Warn("stop-loss triggered, closing", zap.Float64("pnl", pnl))

	if err := p.Close(ctx); err != nil {
		o.metrics.Close("stop_loss", "failed")
		o.notifier.Send("Stop-loss close failed",
			fmt.Sprintf("Pair %s hit stop-loss at PnL %.2f but closing failed: %v. Manual check required.", p.ID(), pnl, err))
		o.record(models.EventCloseFailed, p, err.Error(), map[string]any{"reason": "stop_loss"})
		return nil
	}
	o.metrics.Close("stop_loss", "ok")
	o.notifier.Send("Stop-loss executed",
		fmt.Sprintf("Pair %s closed at PnL %.2f (threshold %.2f).", p.ID(), pnl, o.settings.StopLossThreshold))
	o.record(models.EventClosed, p, "closed on stop-loss", map[string]any{"pnl": pnl})
	return nil
}

func (o *Orchestrator) logBalances(ctx context.Context, p *hedge.Pair) {
	long, short := p.Balances(ctx)
	for _, leg := range []struct {
		name string
		res  retry.Result[models.AccountInfo]
	}{{"long", long}, {"short", short}} {
		if !leg.res.Success {
			o.log.Warn("account info unavailable", zap.String("pair", p.ID()), zap.String("leg", leg.name), zap.String("error", leg.res.Error))
			continue
		}
		o.log.Info("account balance",
			zap.String("pair", p.ID()),
			zap.String("leg", leg.name),
			zap.Float64("collateral", leg.res.Value.Collateral),
			zap.Float64("available", leg.res.Value.AvailableBalance),
			zap.Int("positions", len(leg.res.Value.Positions)),
		)
	}
}

// CloseAll makes a best-effort close of every pair and releases their gateways.
// Failures are logged and alerted, never returned.
func (o *Orchestrator) CloseAll(ctx context.Context) {
	closed, failed := 0, 0
	for _, p := range o.pairs {
		log := o.log.With(zap.String("pair", p.ID()))
		if _, resolved := p.Market(); !resolved {
			log.Warn("market unresolved, nothing to close")
			continue
		}
		err := guard(func() error { return p.Close(ctx) })
		if err != nil {
			failed++
			o.metrics.Close("shutdown", "failed")
			log.Error("close on shutdown failed", zap.Error(err))
			o.notifier.Send("Close failed",
				fmt.Sprintf("Pair %s could not be closed on shutdown: %v. Manual check required.", p.ID(), err))
			o.record(models.EventCloseFailed, p, err.Error(), map[string]any{"reason": "shutdown"})
			continue
		}
		closed++
		o.metrics.Close("shutdown", "ok")
		o.record(models.EventClosed, p, "closed on shutdown", nil)
	}
	for _, p := range o.pairs {
		if err := p.CloseGateways(); err != nil {
			o.log.Warn("gateway close failed", zap.String("pair", p.ID()), zap.Error(err))
		}
	}
	o.log.Info("close pass finished", zap.Int("closed", closed), zap.Int("failed", failed))
}

// Run drives the whole lifecycle and returns once every pair has been closed.
func (o *Orchestrator) Run(ctx context.Context) {
	o.setPhase(PhaseInitializing)
	if o.pairs == nil {
		o.BuildPairs()
	}
	if len(o.pairs) == 0 {
		o.log.Warn("no hedge pairs configured")
	}
	for _, p := range o.pairs {
		if err := guard(func() error { return p.Initialize(ctx) }); err != nil {
			o.log.Warn("pair initialization failed", zap.String("pair", p.ID()), zap.Error(err))
		}
		_ = guard(func() error { o.logBalances(ctx, p); return nil })
	}

	if ctx.Err() == nil {
		o.setPhase(PhaseOpeningPositions)
		o.OpenAll(ctx)
	}

	if ctx.Err() == nil {
		o.setPhase(PhaseMonitoring)
		o.status.SetReady(true)
		o.MonitorLoop(ctx)
	}

	o.status.SetReady(false)
	o.setPhase(PhaseStopping)
	closeCtx, cancel := context.WithTimeout(context.Background(), o.settings.CloseTimeout)
	defer cancel()
	o.CloseAll(closeCtx)
	o.setPhase(PhaseStopped)
}

// Start launches Run in the background. The run is detached from ctx; use Stop.
func (o *Orchestrator) Start(context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go func() {
		defer close(o.done)
		o.Run(runCtx)
	}()
}

// Stop signals the run to finish and waits for the close pass or ctx expiry.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.runMu.Lock()
	cancel, done := o.cancel, o.done
	o.runMu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator stop: %w", ctx.Err())
	}
}
