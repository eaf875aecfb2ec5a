package hedge

import (
	"context"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

// Gateway is one exchange account as the hedge core sees it.
//
// Queries never fail loudly: a degraded read comes back as a Result with Success=false.
// Mutations additionally return a *retry.PermanentOperationError once retries are exhausted.
type Gateway interface {
	FindMarketBySymbol(ctx context.Context, symbol string) retry.Result[models.MarketLookup]
	QuotePrice(ctx context.Context, marketID int) retry.Result[float64]
	USDToQuantity(ctx context.Context, marketID int, usdAmount float64) retry.Result[models.Quote]

	PlaceOrder(ctx context.Context, req models.OrderRequest) (retry.Result[models.OrderRef], error)
	CancelOrder(ctx context.Context, marketID int, orderIndex int64) (retry.Result[models.OrderRef], error)
	CancelAllOrders(ctx context.Context) (retry.Result[models.OrderRef], error)

	// GetOpenPositions returns positions in marketID, or every position when marketID < 0.
	GetOpenPositions(ctx context.Context, marketID int) retry.Result[[]models.PositionSnapshot]
	GetAccountInfo(ctx context.Context) retry.Result[models.AccountInfo]
	GetActiveOrders(ctx context.Context, marketID int) retry.Result[[]models.ActiveOrder]

	Close() error
}

// Notifier delivers human-visible alerts. Implementations must not block.
type Notifier interface {
	Send(title, message string)
}

// mutationErr folds the two failure channels of a mutating call into one error.
func mutationErr[T any](res retry.Result[T], err error) error {
	if err != nil {
		return err
	}
	return res.Err()
}
