package service

import (
	"strconv"
	"strings"
)

// Transaction types accepted by /api/v1/sendTx.
const (
	TxTypeCreateOrder    = 14
	TxTypeCancelOrder    = 15
	TxTypeCancelAll      = 16
	TxTypeUpdateLeverage = 20
)

const (
	orderTypeLimit  = 0
	orderTypeMarket = 1

	timeInForceIOC = 0
	timeInForceGTT = 1

	marginModeCross = 0
)

// flexFloat принимает и число, и строку с числом; мусор превращается в 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func (f flexFloat) Float() float64 { return float64(f) }

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s apiStatus) status() apiStatus { return s }

type statusCarrier interface {
	status() apiStatus
}

type OrderBook struct {
	Symbol                 string    `json:"symbol"`
	MarketID               int       `json:"market_id"`
	Status                 string    `json:"status"`
	MinBaseAmount          flexFloat `json:"min_base_amount"`
	MinQuoteAmount         flexFloat `json:"min_quote_amount"`
	SupportedSizeDecimals  *int      `json:"supported_size_decimals"`
	SupportedPriceDecimals *int      `json:"supported_price_decimals"`
}

type orderBooksResponse struct {
	apiStatus
	OrderBooks []OrderBook `json:"order_books"`
}

type bookLevel struct {
	OrderIndex          int64     `json:"order_index"`
	Price               flexFloat `json:"price"`
	RemainingBaseAmount flexFloat `json:"remaining_base_amount"`
}

type orderBookOrdersResponse struct {
	apiStatus
	Asks []bookLevel `json:"asks"`
	Bids []bookLevel `json:"bids"`
}

type accountPosition struct {
	MarketID      int       `json:"market_id"`
	Symbol        string    `json:"symbol"`
	Sign          flexFloat `json:"sign"`
	Position      flexFloat `json:"position"`
	AvgEntryPrice flexFloat `json:"avg_entry_price"`
	UnrealizedPnl flexFloat `json:"unrealized_pnl"`
	RealizedPnl   flexFloat `json:"realized_pnl"`
}

// signed returns the position amount with its direction applied. When the exchange
// reports a sign the amount is taken as unsigned.
func (p accountPosition) signed() float64 {
	amount := p.Position.Float()
	switch {
	case p.Sign > 0:
		if amount < 0 {
			return -amount
		}
		return amount
	case p.Sign < 0:
		if amount > 0 {
			return -amount
		}
		return amount
	default:
		return amount
	}
}

type account struct {
	AccountIndex     int64             `json:"account_index"`
	Collateral       flexFloat         `json:"collateral"`
	AvailableBalance flexFloat         `json:"available_balance"`
	Positions        []accountPosition `json:"positions"`
}

type accountResponse struct {
	apiStatus
	Accounts []account `json:"accounts"`
}

type nextNonceResponse struct {
	apiStatus
	Nonce int64 `json:"nonce"`
}

type sendTxResponse struct {
	apiStatus
	TxHash string `json:"tx_hash"`
}

type activeOrder struct {
	OrderIndex          int64     `json:"order_index"`
	ClientOrderIndex    int64     `json:"client_order_index"`
	MarketIndex         int       `json:"market_index"`
	IsAsk               bool      `json:"is_ask"`
	Price               flexFloat `json:"price"`
	RemainingBaseAmount flexFloat `json:"remaining_base_amount"`
	Status              string    `json:"status"`
}

type activeOrdersResponse struct {
	apiStatus
	Orders []activeOrder `json:"orders"`
}

// Payloads handed to the signer, one per transaction type.

type CreateOrderTx struct {
	MarketIndex      int   `json:"market_index"`
	ClientOrderIndex int64 `json:"client_order_index"`
	BaseAmount       int64 `json:"base_amount"`
	Price            int64 `json:"price"`
	IsAsk            bool  `json:"is_ask"`
	OrderType        int   `json:"order_type"`
	TimeInForce      int   `json:"time_in_force"`
	ReduceOnly       bool  `json:"reduce_only"`
	TriggerPrice     int64 `json:"trigger_price"`
	OrderExpiry      int64 `json:"order_expiry"`
}

type CancelOrderTx struct {
	MarketIndex int   `json:"market_index"`
	OrderIndex  int64 `json:"order_index"`
}

type CancelAllTx struct {
	TimeInForce int   `json:"time_in_force"`
	Time        int64 `json:"time"`
}

type UpdateLeverageTx struct {
	MarketIndex           int `json:"market_index"`
	InitialMarginFraction int `json:"initial_margin_fraction"`
	MarginMode            int `json:"margin_mode"`
}
