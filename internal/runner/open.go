package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/models"
)

type OpenSummary struct {
	Total         int
	Checked       int
	Opened        int
	AlreadyHedged int
	Incomplete    int
	QueryFailed   int
	Unresolved    int
	OpenFailed    int
}

func (s OpenSummary) String() string {
	return fmt.Sprintf("pairs: %d, checked: %d, opened: %d, already hedged: %d, incomplete: %d, query failed: %d, unresolved: %d, open failed: %d",
		s.Total, s.Checked, s.Opened, s.AlreadyHedged, s.Incomplete, s.QueryFailed, s.Unresolved, s.OpenFailed)
}

// OpenAll opens every pair that is confirmed flat on both legs. Anything ambiguous is
// skipped with an alert.
func (o *Orchestrator) OpenAll(ctx context.Context) OpenSummary {
	sum := OpenSummary{Total: len(o.pairs)}

	for _, p := range o.pairs {
		if ctx.Err() != nil {
			o.log.Warn("open pass interrupted", zap.Error(ctx.Err()))
			break
		}
		err := guard(func() error { return o.openPair(ctx, p, &sum) })
		if err != nil {
			sum.OpenFailed++
			o.log.Error("open pass failed for pair", zap.String("pair", p.ID()), zap.Error(err))
			o.notifier.Send("Open failed", fmt.Sprintf("Pair %s: unexpected error while opening: %v", p.ID(), err))
			o.record(models.EventOpenFailed, p, err.Error(), nil)
		}
	}

	o.log.Info("open pass finished",
		zap.Int("total", sum.Total),
		zap.Int("checked", sum.Checked),
		zap.Int("opened", sum.Opened),
		zap.Int("already_hedged", sum.AlreadyHedged),
		zap.Int("incomplete", sum.Incomplete),
		zap.Int("query_failed", sum.QueryFailed),
		zap.Int("unresolved", sum.Unresolved),
		zap.Int("open_failed", sum.OpenFailed),
	)
	if sum.QueryFailed > 0 || sum.OpenFailed > 0 {
		o.notifier.Send("Open summary", sum.String())
	}
	return sum
}

func (o *Orchestrator) openPair(ctx context.Context, p *hedge.Pair, sum *OpenSummary) error {
	log := o.log.With(zap.String("pair", p.ID()))

	if _, resolved := p.Market(); !resolved {
		if err := p.Initialize(ctx); err != nil {
			sum.Unresolved++
			o.metrics.Open("skipped")
			o.notifier.Send("Market unresolved", fmt.Sprintf("Pair %s will not trade: %v", p.ID(), err))
			return nil
		}
	}

	v := o.safety.Check(ctx, p)
	sum.Checked++

	switch v.Outcome {
	case hedge.OutcomeUnreliable:
		sum.QueryFailed++
		o.metrics.Open("skipped")
		log.Warn("position query unreliable, open skipped", zap.String("reason", v.Reason))
		o.notifier.Send("Position query unreliable",
			fmt.Sprintf("Pair %s: position query unreliable, skipped to avoid duplicate exposure (%s).", p.ID(), v.Reason))
		o.record(models.EventSkippedUnreliable, p, v.Reason, nil)
		return nil

	case hedge.OutcomeConfirmedHedged:
		sum.AlreadyHedged++
		o.metrics.Open("skipped")
		log.Info("already hedged, open skipped")
		return nil

	case hedge.OutcomeIncomplete:
		sum.Incomplete++
		o.metrics.Open("skipped")
		o.record(models.EventIncomplete, p, v.Reason, map[string]any{
			"long":  v.LongAmount,
			"short": v.ShortAmount,
		})
		return nil
	}

	if err := p.Open(ctx); err != nil {
		sum.OpenFailed++
		o.metrics.Open("failed")
		msg := fmt.Sprintf("Pair %s: open failed: %v", p.ID(), err)
		var legErr *hedge.LegError
		if errors.As(err, &legErr) && legErr.Incomplete {
			msg += ". The long leg is open without its hedge, manual check required."
		}
		o.notifier.Send("Open failed", msg)
		o.record(models.EventOpenFailed, p, err.Error(), nil)
		return nil
	}

	sum.Opened++
	o.metrics.Open("ok")
	longRef, shortRef := p.OrderRefs()
	data := map[string]any{}
	if longRef != nil {
		data["long_tx"] = longRef.TxHash
	}
	if shortRef != nil {
		data["short_tx"] = shortRef.TxHash
	}
	o.record(models.EventOpened, p, "hedge opened", data)
	return nil
}
