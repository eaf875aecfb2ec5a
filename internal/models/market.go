package models

// Market: запись из списка order books биржи.
type Market struct {
	MarketID       int
	Symbol         string
	Status         string
	MinBaseAmount  float64
	MinQuoteAmount float64
	SizeDecimals   int
	PriceDecimals  int
}

// MarketLookup is the payload of a symbol search. Available is filled on a miss.
type MarketLookup struct {
	Market    Market
	Available []string
}

type Quote struct {
	Quantity float64
	Price    float64
}
