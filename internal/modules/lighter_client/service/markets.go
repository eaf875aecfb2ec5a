package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

func newMarketMeta(ob OrderBook) marketMeta {
	m := models.Market{
		MarketID:       ob.MarketID,
		Symbol:         ob.Symbol,
		Status:         ob.Status,
		MinBaseAmount:  ob.MinBaseAmount.Float(),
		MinQuoteAmount: ob.MinQuoteAmount.Float(),
		SizeDecimals:   -1,
		PriceDecimals:  -1,
	}
	meta := marketMeta{
		market:     m,
		sizeScale:  decimal.NewFromInt(defaultSizeScale),
		priceScale: decimal.NewFromInt(defaultPriceScale),
	}
	if d := ob.SupportedSizeDecimals; d != nil {
		meta.market.SizeDecimals = *d
		meta.sizeScale = decimal.New(1, int32(*d))
	}
	if d := ob.SupportedPriceDecimals; d != nil {
		meta.market.PriceDecimals = *d
		meta.priceScale = decimal.New(1, int32(*d))
	}
	return meta
}

// loadMarkets fetches every order book and refreshes the cache.
func (c *Client) loadMarkets(ctx context.Context) ([]OrderBook, error) {
	var resp orderBooksResponse
	if err := c.get(ctx, "/api/v1/orderBooks", nil, &resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, ob := range resp.OrderBooks {
		c.markets[ob.MarketID] = newMarketMeta(ob)
	}
	c.mu.Unlock()
	return resp.OrderBooks, nil
}

// meta returns cached market metadata, loading the market list on a miss.
func (c *Client) meta(ctx context.Context, marketID int) (marketMeta, error) {
	c.mu.RLock()
	m, ok := c.markets[marketID]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}
	if _, err := c.loadMarkets(ctx); err != nil {
		return marketMeta{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok = c.markets[marketID]
	if !ok {
		return marketMeta{}, errors.Wrapf(ErrMarketNotFound, "market_id %d", marketID)
	}
	return m, nil
}

func (c *Client) FindMarketBySymbol(ctx context.Context, symbol string) retry.Result[models.MarketLookup] {
	res, _ := retry.Do(ctx, c.exec, "find market", false, func(ctx context.Context) ([]OrderBook, error) {
		return c.loadMarkets(ctx)
	})
	if !res.Success {
		return retry.Fail[models.MarketLookup](res.Err())
	}

	want := strings.ToUpper(strings.TrimSpace(symbol))
	available := make([]string, 0, len(res.Value))
	for _, ob := range res.Value {
		if strings.ToUpper(ob.Symbol) == want {
			meta := newMarketMeta(ob)
			c.log.Info("market found",
				zap.String("symbol", ob.Symbol),
				zap.Int("market_id", ob.MarketID),
				zap.String("size_scale", meta.sizeScale.String()),
			)
			return retry.Ok(models.MarketLookup{Market: meta.market})
		}
		available = append(available, ob.Symbol)
	}
	c.log.Warn("market not found", zap.String("symbol", symbol), zap.Strings("available", available))
	return retry.Failf(models.MarketLookup{Available: available}, errors.Wrapf(ErrMarketNotFound, "symbol %s", symbol))
}

func (c *Client) QuotePrice(ctx context.Context, marketID int) retry.Result[float64] {
	res, _ := retry.Do(ctx, c.exec, "quote price", false, func(ctx context.Context) (float64, error) {
		return c.midPrice(ctx, marketID)
	})
	return res
}

// midPrice is the midpoint of the best bid and ask. An empty side is an error.
func (c *Client) midPrice(ctx context.Context, marketID int) (float64, error) {
	var resp orderBookOrdersResponse
	err := c.get(ctx, "/api/v1/orderBookOrders", map[string]string{
		"market_id": strconv.Itoa(marketID),
		"limit":     "1",
	}, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.Bids) == 0 || len(resp.Asks) == 0 {
		return 0, errors.Errorf("order book for market %d has an empty side", marketID)
	}
	bid, ask := resp.Bids[0].Price.Float(), resp.Asks[0].Price.Float()
	if bid <= 0 || ask <= 0 {
		return 0, errors.Errorf("order book for market %d has invalid prices bid=%v ask=%v", marketID, bid, ask)
	}
	return (bid + ask) / 2, nil
}

// USDToQuantity converts a notional to base quantity at the current midpoint, raised to the
// market minimum when smaller. Without market metadata the conversion fails.
func (c *Client) USDToQuantity(ctx context.Context, marketID int, usdAmount float64) retry.Result[models.Quote] {
	if usdAmount <= 0 {
		return retry.Fail[models.Quote](errors.Errorf("usd amount must be positive, got %v", usdAmount))
	}
	price := c.QuotePrice(ctx, marketID)
	if !price.Success {
		return retry.Fail[models.Quote](errors.Wrap(price.Err(), "price unavailable"))
	}

	meta, _ := retry.Do(ctx, c.exec, "market metadata", false, func(ctx context.Context) (marketMeta, error) {
		return c.meta(ctx, marketID)
	})
	if !meta.Success {
		return retry.Fail[models.Quote](errors.Wrap(meta.Err(), "market metadata unavailable"))
	}

	qty := usdAmount / price.Value
	if minBase := meta.Value.market.MinBaseAmount; minBase > 0 && qty < minBase {
		c.log.Warn("quantity below market minimum, using minimum",
			zap.Float64("quantity", qty),
			zap.Float64("min_base_amount", minBase),
			zap.Float64("usd", usdAmount),
		)
		qty = minBase
	}
	c.log.Debug("usd converted",
		zap.Float64("usd", usdAmount),
		zap.Float64("price", price.Value),
		zap.Float64("quantity", qty),
	)
	return retry.Ok(models.Quote{Quantity: qty, Price: price.Value})
}
