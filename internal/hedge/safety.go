package hedge

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"hedge_bot/internal/models"
)

// Outcome of a position safety check. Only ConfirmedEmpty allows opening.
type Outcome int

const (
	OutcomeConfirmedEmpty Outcome = iota
	OutcomeConfirmedHedged
	OutcomeIncomplete
	OutcomeUnreliable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmedEmpty:
		return "confirmed_empty"
	case OutcomeConfirmedHedged:
		return "confirmed_hedged"
	case OutcomeIncomplete:
		return "incomplete"
	case OutcomeUnreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Verdict struct {
	Outcome     Outcome
	LongAmount  float64
	ShortAmount float64
	Reason      string
}

// HasPositions is true for every outcome except ConfirmedEmpty: ambiguity counts as exposure.
func (v Verdict) HasPositions() bool { return v.Outcome != OutcomeConfirmedEmpty }

func (v Verdict) Confident() bool { return v.Outcome != OutcomeUnreliable }

// legExposure is what one leg holds in the symbol: the amount in the expected direction
// and whether anything is held in the opposite one.
type legExposure struct {
	amount    float64
	wrongSide float64
}

func (e legExposure) any() bool { return e.amount > 0 || e.wrongSide > 0 }

func exposure(positions []models.PositionSnapshot, symbol string, want models.Side) (legExposure, error) {
	var e legExposure
	for _, pos := range positions {
		if !strings.EqualFold(pos.Symbol, symbol) {
			continue
		}
		if math.IsNaN(pos.Size) || math.IsInf(pos.Size, 0) || pos.Size < 0 {
			return legExposure{}, fmt.Errorf("malformed position size %v", pos.Size)
		}
		if pos.Size == 0 {
			continue
		}
		if pos.Side == want {
			e.amount += pos.Size
		} else {
			e.wrongSide += pos.Size
		}
	}
	return e, nil
}

// Evaluate applies the decision table to both legs' position queries:
//
//	either query failed or malformed      -> Unreliable
//	both legs hold their expected side    -> ConfirmedHedged
//	exactly one leg holds anything        -> Incomplete
//	neither leg holds anything            -> ConfirmedEmpty
//
// A leg holding the opposite side of what it should is treated as exposure that does
// not hedge, so the pair never reaches ConfirmedEmpty in that case.
func Evaluate(symbol string, long, short []models.PositionSnapshot, longOK, shortOK bool) Verdict {
	if !longOK || !shortOK {
		return Verdict{Outcome: OutcomeUnreliable, Reason: "position query failed"}
	}
	l, err := exposure(long, symbol, models.SideLong)
	if err != nil {
		return Verdict{Outcome: OutcomeUnreliable, Reason: "long leg: " + err.Error()}
	}
	s, err := exposure(short, symbol, models.SideShort)
	if err != nil {
		return Verdict{Outcome: OutcomeUnreliable, Reason: "short leg: " + err.Error()}
	}

	v := Verdict{LongAmount: l.amount, ShortAmount: s.amount}
	switch {
	case l.amount > 0 && s.amount > 0 && l.wrongSide == 0 && s.wrongSide == 0:
		v.Outcome = OutcomeConfirmedHedged
	case l.any() || s.any():
		v.Outcome = OutcomeIncomplete
		if l.wrongSide > 0 || s.wrongSide > 0 {
			v.Reason = fmt.Sprintf("opposite-side exposure: long leg %.6f, short leg %.6f", l.wrongSide, s.wrongSide)
		}
	default:
		v.Outcome = OutcomeConfirmedEmpty
	}
	return v
}

// SafetyChecker decides whether opening a pair is safe without ever duplicating exposure.
type SafetyChecker struct {
	notifier Notifier
	log      *zap.Logger
}

func NewSafetyChecker(n Notifier, log *zap.Logger) *SafetyChecker {
	return &SafetyChecker{notifier: n, log: log}
}

// Check queries both legs and evaluates them. Incomplete hedges raise an alert here;
// the caller owns the alert for Unreliable since it decides what was skipped.
func (c *SafetyChecker) Check(ctx context.Context, p *Pair) (v Verdict) {
	log := c.log.With(zap.String("pair", p.ID()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("position check panicked", zap.Any("panic", r))
			v = Verdict{Outcome: OutcomeUnreliable, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	long, short, longErr, shortErr, ok := p.legPositions(ctx)
	if !ok {
		log.Error("position query failed",
			zap.String("long_error", longErr),
			zap.String("short_error", shortErr),
		)
		return Verdict{
			Outcome: OutcomeUnreliable,
			Reason:  fmt.Sprintf("long: %s; short: %s", orNone(longErr), orNone(shortErr)),
		}
	}

	v = Evaluate(p.Symbol(), long, short, true, true)
	switch v.Outcome {
	case OutcomeUnreliable:
		log.Warn("position payload malformed", zap.String("reason", v.Reason))
	case OutcomeConfirmedHedged:
		log.Info("hedge already in place",
			zap.Float64("long", v.LongAmount),
			zap.Float64("short", v.ShortAmount),
		)
	case OutcomeIncomplete:
		log.Warn("incomplete hedge",
			zap.Float64("long", v.LongAmount),
			zap.Float64("short", v.ShortAmount),
			zap.String("reason", v.Reason),
		)
		msg := fmt.Sprintf("Pair %s holds an incomplete hedge, manual check required. Long leg: %.6f, short leg: %.6f.",
			p.ID(), v.LongAmount, v.ShortAmount)
		if v.Reason != "" {
			msg += " " + v.Reason + "."
		}
		c.notifier.Send("Incomplete hedge", msg)
	case OutcomeConfirmedEmpty:
		log.Info("no positions, safe to open")
	}
	return v
}

func orNone(s string) string {
	if s == "" {
		return "ok"
	}
	return s
}
