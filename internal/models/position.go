package models

import "math"

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// PositionSnapshot: позиция аккаунта по одному рынку.
type PositionSnapshot struct {
	MarketID      int
	Symbol        string
	Side          Side
	Size          float64 // abs(SignedSize)
	SignedSize    float64
	AvgEntryPrice float64
	UnrealizedPnl float64
	RealizedPnl   float64
}

// NewPositionSnapshot derives Side and Size from the signed amount.
func NewPositionSnapshot(marketID int, symbol string, signed, entry, upnl, rpnl float64) PositionSnapshot {
	side := SideShort
	if signed > 0 {
		side = SideLong
	}
	return PositionSnapshot{
		MarketID:      marketID,
		Symbol:        symbol,
		Side:          side,
		Size:          math.Abs(signed),
		SignedSize:    signed,
		AvgEntryPrice: entry,
		UnrealizedPnl: upnl,
		RealizedPnl:   rpnl,
	}
}

type AccountInfo struct {
	AccountIndex     int64
	Collateral       float64
	AvailableBalance float64
	Positions        []PositionSnapshot
}
