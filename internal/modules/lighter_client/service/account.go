package service

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

func (c *Client) fetchAccount(ctx context.Context) (account, error) {
	var resp accountResponse
	err := c.get(ctx, "/api/v1/account", map[string]string{
		"by":    "index",
		"value": strconv.FormatInt(c.cred.AccountIndex, 10),
	}, &resp)
	if err != nil {
		return account{}, err
	}
	for _, a := range resp.Accounts {
		if a.AccountIndex == c.cred.AccountIndex {
			return a, nil
		}
	}
	if len(resp.Accounts) == 1 {
		return resp.Accounts[0], nil
	}
	return account{}, errors.Errorf("account %d missing from response", c.cred.AccountIndex)
}

// snapshots converts raw positions. A missing symbol is taken from market metadata, loading
// the market list when this account has not seen the market yet; an unresolvable symbol is an error.
func (c *Client) snapshots(ctx context.Context, raw []accountPosition, marketID int) ([]models.PositionSnapshot, error) {
	out := make([]models.PositionSnapshot, 0, len(raw))
	for _, p := range raw {
		if marketID >= 0 && p.MarketID != marketID {
			continue
		}
		signed := p.signed()
		if signed == 0 {
			continue
		}
		symbol := p.Symbol
		if symbol == "" {
			meta, err := c.meta(ctx, p.MarketID)
			if err != nil {
				return nil, errors.Wrapf(err, "symbol of position in market %d", p.MarketID)
			}
			if symbol = meta.market.Symbol; symbol == "" {
				return nil, errors.Errorf("market %d has no symbol", p.MarketID)
			}
		}
		out = append(out, models.NewPositionSnapshot(
			p.MarketID, symbol, signed,
			p.AvgEntryPrice.Float(), p.UnrealizedPnl.Float(), p.RealizedPnl.Float(),
		))
	}
	return out, nil
}

func (c *Client) GetOpenPositions(ctx context.Context, marketID int) retry.Result[[]models.PositionSnapshot] {
	res, _ := retry.Do(ctx, c.exec, "get positions", false, func(ctx context.Context) ([]models.PositionSnapshot, error) {
		a, err := c.fetchAccount(ctx)
		if err != nil {
			return nil, err
		}
		return c.snapshots(ctx, a.Positions, marketID)
	})
	return res
}

func (c *Client) GetAccountInfo(ctx context.Context) retry.Result[models.AccountInfo] {
	res, _ := retry.Do(ctx, c.exec, "get account", false, func(ctx context.Context) (models.AccountInfo, error) {
		a, err := c.fetchAccount(ctx)
		if err != nil {
			return models.AccountInfo{}, err
		}
		positions, err := c.snapshots(ctx, a.Positions, -1)
		if err != nil {
			return models.AccountInfo{}, err
		}
		return models.AccountInfo{
			AccountIndex:     a.AccountIndex,
			Collateral:       a.Collateral.Float(),
			AvailableBalance: a.AvailableBalance.Float(),
			Positions:        positions,
		}, nil
	})
	return res
}

func (c *Client) GetActiveOrders(ctx context.Context, marketID int) retry.Result[[]models.ActiveOrder] {
	res, _ := retry.Do(ctx, c.exec, "get active orders", false, func(ctx context.Context) ([]models.ActiveOrder, error) {
		token, err := c.signer.AuthToken(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "auth token")
		}
		var resp activeOrdersResponse
		err = c.get(ctx, "/api/v1/accountActiveOrders", map[string]string{
			"account_index": strconv.FormatInt(c.cred.AccountIndex, 10),
			"market_id":     strconv.Itoa(marketID),
			"auth":          token,
		}, &resp)
		if err != nil {
			return nil, err
		}
		orders := make([]models.ActiveOrder, 0, len(resp.Orders))
		for _, o := range resp.Orders {
			side := models.OrderSideBuy
			if o.IsAsk {
				side = models.OrderSideSell
			}
			orders = append(orders, models.ActiveOrder{
				OrderIndex:          o.OrderIndex,
				ClientOrderIndex:    o.ClientOrderIndex,
				MarketID:            o.MarketIndex,
				Side:                side,
				Price:               o.Price.Float(),
				RemainingBaseAmount: o.RemainingBaseAmount.Float(),
				Status:              o.Status,
			})
		}
		return orders, nil
	})
	return res
}
