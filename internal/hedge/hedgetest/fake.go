// Package hedgetest provides in-memory gateways and notifiers for tests.
package hedgetest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

// Gateway is a scriptable in-memory exchange account. Zero value serves nothing;
// set the fields before handing it to a pair.
type Gateway struct {
	mu sync.Mutex

	Markets []models.Market
	Price   float64

	Positions    []models.PositionSnapshot
	PositionsErr string
	// PositionsPanic makes GetOpenPositions panic with this value.
	PositionsPanic any

	PlaceErr  error
	CancelErr error
	// CancelAllErr fails only CancelAllOrders.
	CancelAllErr error

	ActiveOrders    []models.ActiveOrder
	ActiveOrdersErr string

	Orders       []models.OrderRequest
	CancelAllCnt int
	CancelCnt    int
	FindCalls    int
	Closed       int
}

func (g *Gateway) FindMarketBySymbol(_ context.Context, symbol string) retry.Result[models.MarketLookup] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.FindCalls++

	var available []string
	for _, m := range g.Markets {
		if strings.EqualFold(m.Symbol, symbol) {
			return retry.Ok(models.MarketLookup{Market: m})
		}
		available = append(available, m.Symbol)
	}
	return retry.Failf(models.MarketLookup{Available: available}, errors.New("market "+symbol+" not found"))
}

func (g *Gateway) QuotePrice(context.Context, int) retry.Result[float64] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Price <= 0 {
		return retry.Fail[float64](errors.New("no price"))
	}
	return retry.Ok(g.Price)
}

func (g *Gateway) USDToQuantity(ctx context.Context, marketID int, usd float64) retry.Result[models.Quote] {
	p := g.QuotePrice(ctx, marketID)
	if !p.Success {
		return retry.Fail[models.Quote](p.Err())
	}
	return retry.Ok(models.Quote{Quantity: usd / p.Value, Price: p.Value})
}

func (g *Gateway) PlaceOrder(_ context.Context, req models.OrderRequest) (retry.Result[models.OrderRef], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PlaceErr != nil {
		return retry.Result[models.OrderRef]{Error: g.PlaceErr.Error(), Critical: true},
			&retry.PermanentOperationError{Op: "place order", Err: g.PlaceErr}
	}
	g.Orders = append(g.Orders, req)
	return retry.Ok(models.OrderRef{TxHash: "0xfeed", MarketID: req.MarketID, Side: req.Side}), nil
}

func (g *Gateway) CancelOrder(_ context.Context, marketID int, _ int64) (retry.Result[models.OrderRef], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CancelCnt++
	if g.CancelErr != nil {
		return retry.Result[models.OrderRef]{Error: g.CancelErr.Error(), Critical: true},
			&retry.PermanentOperationError{Op: "cancel order", Err: g.CancelErr}
	}
	return retry.Ok(models.OrderRef{MarketID: marketID}), nil
}

func (g *Gateway) CancelAllOrders(context.Context) (retry.Result[models.OrderRef], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CancelAllCnt++
	err := g.CancelAllErr
	if g.CancelErr != nil {
		err = g.CancelErr
	}
	if err != nil {
		return retry.Result[models.OrderRef]{Error: err.Error(), Critical: true},
			&retry.PermanentOperationError{Op: "cancel all orders", Err: err}
	}
	return retry.Ok(models.OrderRef{TxHash: "0xcancel"}), nil
}

func (g *Gateway) GetOpenPositions(_ context.Context, marketID int) retry.Result[[]models.PositionSnapshot] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PositionsPanic != nil {
		panic(g.PositionsPanic)
	}
	if g.PositionsErr != "" {
		return retry.Fail[[]models.PositionSnapshot](errors.New(g.PositionsErr))
	}
	out := make([]models.PositionSnapshot, 0, len(g.Positions))
	for _, p := range g.Positions {
		if marketID < 0 || p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return retry.Ok(out)
}

func (g *Gateway) GetAccountInfo(context.Context) retry.Result[models.AccountInfo] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return retry.Ok(models.AccountInfo{Positions: append([]models.PositionSnapshot(nil), g.Positions...)})
}

func (g *Gateway) GetActiveOrders(_ context.Context, marketID int) retry.Result[[]models.ActiveOrder] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ActiveOrdersErr != "" {
		return retry.Fail[[]models.ActiveOrder](errors.New(g.ActiveOrdersErr))
	}
	out := make([]models.ActiveOrder, 0, len(g.ActiveOrders))
	for _, o := range g.ActiveOrders {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	return retry.Ok(out)
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Closed++
	return nil
}

// SetPositions replaces the positions the account reports.
func (g *Gateway) SetPositions(p ...models.PositionSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Positions = p
}

func (g *Gateway) PlacedOrders() []models.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderRequest(nil), g.Orders...)
}

type Alert struct {
	Title   string
	Message string
}

// Notifier records every alert it is asked to send.
type Notifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (n *Notifier) Send(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, Alert{Title: title, Message: message})
}

func (n *Notifier) Alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.alerts...)
}

// Count returns how many alerts have a title containing substr.
func (n *Notifier) Count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.alerts {
		if strings.Contains(a.Title, substr) {
			c++
		}
	}
	return c
}

// BTC is a ready market used across tests.
var BTC = models.Market{MarketID: 1, Symbol: "BTC", Status: "active", MinBaseAmount: 0.0001, SizeDecimals: 4, PriceDecimals: 1}

func Long(size, upnl float64) models.PositionSnapshot {
	return models.NewPositionSnapshot(BTC.MarketID, BTC.Symbol, size, 50000, upnl, 0)
}

func Short(size, upnl float64) models.PositionSnapshot {
	return models.NewPositionSnapshot(BTC.MarketID, BTC.Symbol, -size, 50000, upnl, 0)
}
