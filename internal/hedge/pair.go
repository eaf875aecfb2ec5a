package hedge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

type State int32

const (
	StateUninitialized State = iota
	StateMarketUnresolved
	StateFlat // market resolved, nothing opened by us
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMarketUnresolved:
		return "market_unresolved"
	case StateFlat:
		return "flat"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Params: торговые параметры пары, приходят из конфига.
type Params struct {
	Name              string
	Symbol            string
	Leverage          int
	NotionalUSD       float64
	StopLossThreshold float64
}

// Pair owns the long and short leg of one hedge. All operations on a pair are serialized.
type Pair struct {
	id     string
	params Params
	long   Gateway
	short  Gateway
	log    *zap.Logger

	state atomic.Int32

	mu        sync.Mutex
	market    models.Market
	resolved  bool
	lastLong  *models.OrderRef
	lastShort *models.OrderRef
}

func NewPair(id string, params Params, long, short Gateway, log *zap.Logger) *Pair {
	return &Pair{
		id:     id,
		params: params,
		long:   long,
		short:  short,
		log:    log.With(zap.String("pair", id)),
	}
}

func (p *Pair) ID() string       { return p.id }
func (p *Pair) Name() string     { return p.params.Name }
func (p *Pair) Symbol() string   { return p.params.Symbol }
func (p *Pair) State() State     { return State(p.state.Load()) }
func (p *Pair) Params() Params   { return p.params }
func (p *Pair) setState(s State) { p.state.Store(int32(s)) }

// Market returns the resolved market; ok is false until Initialize succeeds.
func (p *Pair) Market() (models.Market, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.market, p.resolved
}

// OrderRefs returns the last orders placed on each leg.
func (p *Pair) OrderRefs() (long, short *models.OrderRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLong, p.lastShort
}

// Initialize resolves the pair's market through the long leg. Once resolved the market
// never changes. On failure the pair stays MarketUnresolved and refuses to trade until a
// later Initialize succeeds.
func (p *Pair) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolved {
		return nil
	}

	p.log.Info("resolving market", zap.String("symbol", p.params.Symbol))
	res := p.long.FindMarketBySymbol(ctx, p.params.Symbol)
	if !res.Success {
		p.setState(StateMarketUnresolved)
		p.log.Warn("market unresolved, pair will not trade",
			zap.String("symbol", p.params.Symbol),
			zap.Strings("available", res.Value.Available),
			zap.String("error", res.Error),
		)
		return fmt.Errorf("%w: %s: %s", ErrMarketUnresolved, p.params.Symbol, res.Error)
	}

	p.market = res.Value.Market
	p.resolved = true
	p.setState(StateFlat)
	p.log.Info("market resolved",
		zap.Int("market_id", p.market.MarketID),
		zap.String("status", p.market.Status),
		zap.Float64("min_base_amount", p.market.MinBaseAmount),
		zap.Float64("min_quote_amount", p.market.MinQuoteAmount),
	)
	return nil
}

// Open sizes both legs from the configured notional using the long leg's price, then
// buys on the long leg and sells the same quantity on the short leg. The short leg is
// not touched when the long order fails.
func (p *Pair) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.resolved {
		return ErrMarketUnresolved
	}
	if p.State() == StateOpen {
		return ErrAlreadyOpen
	}
	p.setState(StateOpening)

	q := p.long.USDToQuantity(ctx, p.market.MarketID, p.params.NotionalUSD)
	if !q.Success {
		p.setState(StateFlat)
		return fmt.Errorf("convert %.2f USD to %s quantity: %s", p.params.NotionalUSD, p.params.Symbol, q.Error)
	}
	qty := q.Value.Quantity
	p.log.Info("sizing hedge",
		zap.Float64("usd", p.params.NotionalUSD),
		zap.Float64("quantity", qty),
		zap.Float64("price", q.Value.Price),
	)

	longRef, err := p.placeLeg(ctx, p.long, models.OrderSideBuy, qty, false)
	if err != nil {
		p.setState(StateFlat)
		p.log.Error("long leg order failed", zap.Error(err))
		return &LegError{Op: "open", Long: err}
	}
	p.lastLong = &longRef

	shortRef, err := p.placeLeg(ctx, p.short, models.OrderSideSell, qty, false)
	if err != nil {
		// the long leg is already live: keep the pair monitored
		p.setState(StateOpen)
		p.log.Error("short leg order failed, long leg is unhedged", zap.Error(err))
		return &LegError{Op: "open", Short: err, Incomplete: true}
	}
	p.lastShort = &shortRef

	p.setState(StateOpen)
	p.log.Info("hedge opened",
		zap.String("long_tx", longRef.TxHash),
		zap.String("short_tx", shortRef.TxHash),
	)
	return nil
}

func (p *Pair) placeLeg(ctx context.Context, gw Gateway, side models.OrderSide, qty float64, reduceOnly bool) (models.OrderRef, error) {
	res, err := gw.PlaceOrder(ctx, models.OrderRequest{
		MarketID:   p.market.MarketID,
		Side:       side,
		Quantity:   qty,
		Leverage:   p.params.Leverage,
		Type:       models.OrderTypeMarket,
		ReduceOnly: reduceOnly,
	})
	if err := mutationErr(res, err); err != nil {
		return models.OrderRef{}, err
	}
	return res.Value, nil
}

// FloatingPnL sums unrealized PnL of both legs in the pair's symbol. It returns 0 and the
// error when either leg could not be read.
func (p *Pair) FloatingPnL(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.floatingPnL(ctx)
}

func (p *Pair) floatingPnL(ctx context.Context) (float64, error) {
	if !p.resolved {
		return 0, ErrMarketUnresolved
	}

	longPos := p.long.GetOpenPositions(ctx, p.market.MarketID)
	shortPos := p.short.GetOpenPositions(ctx, p.market.MarketID)
	if !longPos.Success || !shortPos.Success {
		err := fmt.Errorf("positions unavailable: long=%q short=%q", longPos.Error, shortPos.Error)
		p.log.Error("floating pnl read failed", zap.Error(err))
		return 0, err
	}

	var total float64
	for _, set := range [][]models.PositionSnapshot{longPos.Value, shortPos.Value} {
		for _, pos := range set {
			if !strings.EqualFold(pos.Symbol, p.params.Symbol) {
				continue
			}
			if math.IsNaN(pos.UnrealizedPnl) || math.IsInf(pos.UnrealizedPnl, 0) {
				continue
			}
			total += pos.UnrealizedPnl
		}
	}
	return total, nil
}

// StopLossHit reports whether pnl is a loss strictly beyond the threshold magnitude.
func StopLossHit(pnl, threshold float64) bool {
	return pnl < -math.Abs(threshold)
}

// StopLossTriggered reads the floating PnL and compares it against the threshold.
// A failed read never triggers.
func (p *Pair) StopLossTriggered(ctx context.Context) (bool, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pnl, err := p.floatingPnL(ctx)
	if err != nil {
		return false, 0, err
	}
	if StopLossHit(pnl, p.params.StopLossThreshold) {
		p.log.Info("stop-loss triggered",
			zap.Float64("pnl", pnl),
			zap.Float64("threshold", p.params.StopLossThreshold),
		)
		return true, pnl, nil
	}
	return false, pnl, nil
}

// Close flattens both legs independently: working orders are cancelled, then any position
// in the symbol is reduced to zero with a market order. It succeeds only if both legs did.
func (p *Pair) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.resolved {
		return ErrMarketUnresolved
	}
	prev := p.State()
	p.setState(StateClosing)

	longErr := p.closeLeg(ctx, p.long)
	shortErr := p.closeLeg(ctx, p.short)

	if longErr != nil || shortErr != nil {
		p.setState(prev)
		legErr := &LegError{Op: "close", Long: longErr, Short: shortErr}
		legErr.Incomplete = (longErr == nil) != (shortErr == nil)
		p.log.Error("close failed", zap.String("legs", legErr.FailedLegs()), zap.Error(legErr))
		return legErr
	}

	p.lastLong, p.lastShort = nil, nil
	p.setState(StateFlat)
	p.log.Info("hedge closed")
	return nil
}

func (p *Pair) closeLeg(ctx context.Context, gw Gateway) error {
	res, err := gw.CancelAllOrders(ctx)
	if err := mutationErr(res, err); err != nil {
		if ferr := p.cancelOneByOne(ctx, gw); ferr != nil {
			return fmt.Errorf("cancel orders: %w (one by one: %v)", err, ferr)
		}
		p.log.Warn("cancel all failed, working orders cancelled one by one", zap.Error(err))
	}

	positions := gw.GetOpenPositions(ctx, p.market.MarketID)
	if !positions.Success {
		return fmt.Errorf("positions unavailable: %s", positions.Error)
	}
	for _, pos := range positions.Value {
		if !strings.EqualFold(pos.Symbol, p.params.Symbol) || pos.Size <= 0 {
			continue
		}
		side := models.OrderSideSell
		if pos.SignedSize < 0 {
			side = models.OrderSideBuy
		}
		if _, err := p.placeLeg(ctx, gw, side, pos.Size, true); err != nil {
			return fmt.Errorf("flatten %s %.6f: %w", pos.Side, pos.Size, err)
		}
	}
	return nil
}

// cancelOneByOne cancels the working orders of the pair's market individually.
func (p *Pair) cancelOneByOne(ctx context.Context, gw Gateway) error {
	orders := gw.GetActiveOrders(ctx, p.market.MarketID)
	if !orders.Success {
		return fmt.Errorf("active orders unavailable: %s", orders.Error)
	}
	for _, o := range orders.Value {
		res, err := gw.CancelOrder(ctx, o.MarketID, o.OrderIndex)
		if err := mutationErr(res, err); err != nil {
			return fmt.Errorf("order %d: %w", o.OrderIndex, err)
		}
	}
	return nil
}

// legPositions reads both legs for the safety check. Unresolved pairs query every market.
func (p *Pair) legPositions(ctx context.Context) (long, short []models.PositionSnapshot, longErr, shortErr string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	marketID := -1
	if p.resolved {
		marketID = p.market.MarketID
	}
	l := p.long.GetOpenPositions(ctx, marketID)
	s := p.short.GetOpenPositions(ctx, marketID)
	return l.Value, s.Value, l.Error, s.Error, l.Success && s.Success
}

// Balances reads account info of both legs.
func (p *Pair) Balances(ctx context.Context) (long, short retry.Result[models.AccountInfo]) {
	return p.long.GetAccountInfo(ctx), p.short.GetAccountInfo(ctx)
}

// CloseGateways releases both legs' connections.
func (p *Pair) CloseGateways() error {
	longErr := p.long.Close()
	shortErr := p.short.Close()
	if longErr != nil {
		return longErr
	}
	return shortErr
}
