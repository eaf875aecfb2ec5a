package models

import "time"

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that reduces a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest: Price == nil means a market order.
type OrderRequest struct {
	MarketID   int
	Side       OrderSide
	Quantity   float64
	Price      *float64
	Leverage   int
	Type       OrderType
	ReduceOnly bool
}

// OrderRef is what we keep about a submitted transaction.
type OrderRef struct {
	TxHash           string
	TxType           int
	MarketID         int
	Side             OrderSide
	BaseAmount       int64
	Price            int64
	ClientOrderIndex int64
	SubmittedAt      time.Time
}

type ActiveOrder struct {
	OrderIndex          int64
	ClientOrderIndex    int64
	MarketID            int
	Side                OrderSide
	Price               float64
	RemainingBaseAmount float64
	Status              string
}
