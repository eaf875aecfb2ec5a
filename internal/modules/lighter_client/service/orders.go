package service

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

func (c *Client) nextNonce(ctx context.Context) (int64, error) {
	var resp nextNonceResponse
	err := c.get(ctx, "/api/v1/nextNonce", map[string]string{
		"account_index": strconv.FormatInt(c.cred.AccountIndex, 10),
		"api_key_index": strconv.Itoa(int(c.cred.APIKeyIndex)),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

// sendTx signs payload with a fresh nonce and submits it.
func (c *Client) sendTx(ctx context.Context, txType int, payload any) (string, error) {
	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return "", errors.Wrap(err, "next nonce")
	}
	c.log.Debug("signing tx",
		zap.Int("tx_type", txType),
		zap.Int64("nonce", nonce),
		zap.String("payload", payloadJSON(payload)),
	)
	txInfo, err := c.signer.Sign(ctx, SignRequest{TxType: txType, Nonce: nonce, Payload: payload})
	if err != nil {
		return "", err
	}
	var resp sendTxResponse
	err = c.postForm(ctx, "/api/v1/sendTx", map[string]string{
		"tx_type": strconv.Itoa(txType),
		"tx_info": txInfo,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// ensureLeverage applies leverage on a market once per client.
func (c *Client) ensureLeverage(ctx context.Context, marketID, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	c.mu.RLock()
	applied := c.leverage[marketID] == leverage
	c.mu.RUnlock()
	if applied {
		return nil
	}

	tx := UpdateLeverageTx{
		MarketIndex:           marketID,
		InitialMarginFraction: 10000 / leverage,
		MarginMode:            marginModeCross,
	}
	res, err := retry.Do(ctx, c.exec, "update leverage", true, func(ctx context.Context) (string, error) {
		return c.sendTx(ctx, TxTypeUpdateLeverage, tx)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.leverage[marketID] = leverage
	c.mu.Unlock()
	c.log.Info("leverage applied", zap.Int("market_id", marketID), zap.Int("leverage", leverage), zap.String("tx_hash", res.Value))
	return nil
}

func rejected[T any](err error) (retry.Result[T], error) {
	return retry.Fail[T](err), nil
}

// PlaceOrder submits a market or limit order. Quantities and prices are converted to the
// market's integer units; a market order carries a worst acceptable price derived from the
// current midpoint and the configured slippage.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (retry.Result[models.OrderRef], error) {
	if req.Quantity <= 0 {
		return rejected[models.OrderRef](errors.Errorf("quantity must be positive, got %v", req.Quantity))
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return rejected[models.OrderRef](errors.Errorf("unknown order side %q", req.Side))
	}
	if req.Type == "" {
		req.Type = models.OrderTypeMarket
		if req.Price != nil {
			req.Type = models.OrderTypeLimit
		}
	}
	if req.Type == models.OrderTypeLimit && req.Price == nil {
		return rejected[models.OrderRef](errors.New("limit order requires a price"))
	}

	meta, err := c.meta(ctx, req.MarketID)
	if err != nil {
		return rejected[models.OrderRef](errors.Wrap(err, "market metadata"))
	}

	baseAmount := decimal.NewFromFloat(req.Quantity).Mul(meta.sizeScale).Truncate(0).IntPart()
	if baseAmount < 1 {
		return rejected[models.OrderRef](errors.Errorf(
			"quantity %v is below one base unit (scale %s)", req.Quantity, meta.sizeScale))
	}

	tx := CreateOrderTx{
		MarketIndex:      req.MarketID,
		ClientOrderIndex: c.clientOrderSeq.Add(1),
		BaseAmount:       baseAmount,
		IsAsk:            req.Side == models.OrderSideSell,
		ReduceOnly:       req.ReduceOnly,
	}

	switch req.Type {
	case models.OrderTypeLimit:
		price := decimal.NewFromFloat(*req.Price).Mul(meta.priceScale).Truncate(0).IntPart()
		if price < 1 {
			return rejected[models.OrderRef](errors.Errorf(
				"limit price %v converts to %d, below one price unit (scale %s)", *req.Price, price, meta.priceScale))
		}
		tx.Price = price
		tx.OrderType = orderTypeLimit
		tx.TimeInForce = timeInForceGTT
		tx.OrderExpiry = time.Now().Add(28 * 24 * time.Hour).UnixMilli()
	default:
		mid := c.QuotePrice(ctx, req.MarketID)
		if !mid.Success {
			return rejected[models.OrderRef](errors.Wrap(mid.Err(), "no price for market order"))
		}
		worst := decimal.NewFromFloat(mid.Value)
		slip := decimal.NewFromFloat(c.opts.MaxSlippage)
		if tx.IsAsk {
			worst = worst.Mul(decimal.NewFromInt(1).Sub(slip))
		} else {
			worst = worst.Mul(decimal.NewFromInt(1).Add(slip))
		}
		tx.Price = worst.Mul(meta.priceScale).Truncate(0).IntPart()
		if tx.Price < 1 {
			tx.Price = 1
		}
		tx.OrderType = orderTypeMarket
		tx.TimeInForce = timeInForceIOC
	}

	if !req.ReduceOnly {
		if err := c.ensureLeverage(ctx, req.MarketID, req.Leverage); err != nil {
			return retry.Result[models.OrderRef]{Error: err.Error(), Critical: true, Timestamp: time.Now()}, err
		}
	}

	log := c.log.With(
		zap.Int("market_id", req.MarketID),
		zap.String("side", string(req.Side)),
		zap.Int64("base_amount", tx.BaseAmount),
		zap.Int64("price", tx.Price),
		zap.Bool("reduce_only", req.ReduceOnly),
	)
	log.Info("placing order")

	res, err := retry.Do(ctx, c.exec, "place order", true, func(ctx context.Context) (models.OrderRef, error) {
		hash, err := c.sendTx(ctx, TxTypeCreateOrder, tx)
		if err != nil {
			return models.OrderRef{}, err
		}
		return models.OrderRef{
			TxHash:           hash,
			TxType:           TxTypeCreateOrder,
			MarketID:         req.MarketID,
			Side:             req.Side,
			BaseAmount:       tx.BaseAmount,
			Price:            tx.Price,
			ClientOrderIndex: tx.ClientOrderIndex,
			SubmittedAt:      time.Now(),
		}, nil
	})
	if err == nil {
		log.Info("order submitted", zap.String("tx_hash", res.Value.TxHash))
	}
	return res, err
}

func (c *Client) CancelOrder(ctx context.Context, marketID int, orderIndex int64) (retry.Result[models.OrderRef], error) {
	tx := CancelOrderTx{MarketIndex: marketID, OrderIndex: orderIndex}
	return retry.Do(ctx, c.exec, "cancel order", true, func(ctx context.Context) (models.OrderRef, error) {
		hash, err := c.sendTx(ctx, TxTypeCancelOrder, tx)
		if err != nil {
			return models.OrderRef{}, err
		}
		return models.OrderRef{TxHash: hash, TxType: TxTypeCancelOrder, MarketID: marketID, SubmittedAt: time.Now()}, nil
	})
}

// CancelAllOrders cancels every working order of the account across markets.
func (c *Client) CancelAllOrders(ctx context.Context) (retry.Result[models.OrderRef], error) {
	tx := CancelAllTx{TimeInForce: timeInForceIOC}
	return retry.Do(ctx, c.exec, "cancel all orders", true, func(ctx context.Context) (models.OrderRef, error) {
		hash, err := c.sendTx(ctx, TxTypeCancelAll, tx)
		if err != nil {
			return models.OrderRef{}, err
		}
		return models.OrderRef{TxHash: hash, TxType: TxTypeCancelAll, MarketID: -1, SubmittedAt: time.Now()}, nil
	})
}

// payloadJSON is used for debug logging of signer payloads.
func payloadJSON(v any) string {
	b, err := sonic.MarshalString(v)
	if err != nil {
		return ""
	}
	return b
}
