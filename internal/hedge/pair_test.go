package hedge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge_bot/internal/hedge/hedgetest"
	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

func testParams() Params {
	return Params{Name: "btc hedge", Symbol: "BTC", Leverage: 5, NotionalUSD: 10, StopLossThreshold: 100}
}

func newTestPair(t *testing.T) (*Pair, *hedgetest.Gateway, *hedgetest.Gateway) {
	t.Helper()
	long := &hedgetest.Gateway{Markets: []models.Market{{MarketID: 0, Symbol: "ETH"}, hedgetest.BTC}, Price: 50000}
	short := &hedgetest.Gateway{Markets: long.Markets, Price: 50000}
	return NewPair("acc1-acc2", testParams(), long, short, zap.NewNop()), long, short
}

func TestStopLossHit(t *testing.T) {
	assert.True(t, StopLossHit(-150, 100))
	assert.False(t, StopLossHit(-100, 100), "loss equal to threshold does not trigger")
	assert.False(t, StopLossHit(50, 100))
	assert.True(t, StopLossHit(-150, -100), "sign of the threshold is ignored")
}

func TestPair_Initialize(t *testing.T) {
	p, long, _ := newTestPair(t)
	require.Equal(t, StateUninitialized, p.State())

	require.NoError(t, p.Initialize(context.Background()))
	m, ok := p.Market()
	require.True(t, ok)
	assert.Equal(t, 1, m.MarketID)
	assert.Equal(t, StateFlat, p.State())

	// resolved once, never again
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, 1, long.FindCalls)
}

func TestPair_InitializeUnknownSymbolDoesNotFallBack(t *testing.T) {
	p, long, _ := newTestPair(t)
	long.Markets = []models.Market{{MarketID: 0, Symbol: "ETH"}}

	err := p.Initialize(context.Background())
	require.ErrorIs(t, err, ErrMarketUnresolved)
	assert.Equal(t, StateMarketUnresolved, p.State())
	_, ok := p.Market()
	assert.False(t, ok)

	require.ErrorIs(t, p.Open(context.Background()), ErrMarketUnresolved)
	require.ErrorIs(t, p.Close(context.Background()), ErrMarketUnresolved)
	assert.Empty(t, long.PlacedOrders())

	// a later attempt may succeed
	long.Markets = append(long.Markets, hedgetest.BTC)
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, StateFlat, p.State())
}

func TestPair_Open(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))

	require.NoError(t, p.Open(context.Background()))
	assert.Equal(t, StateOpen, p.State())

	lo := long.PlacedOrders()
	so := short.PlacedOrders()
	require.Len(t, lo, 1)
	require.Len(t, so, 1)
	assert.Equal(t, models.OrderSideBuy, lo[0].Side)
	assert.Equal(t, models.OrderSideSell, so[0].Side)
	assert.InDelta(t, 0.0002, lo[0].Quantity, 1e-12)
	assert.Equal(t, lo[0].Quantity, so[0].Quantity)
	assert.Equal(t, 5, lo[0].Leverage)
	assert.Equal(t, models.OrderTypeMarket, lo[0].Type)

	lr, sr := p.OrderRefs()
	assert.NotNil(t, lr)
	assert.NotNil(t, sr)

	assert.ErrorIs(t, p.Open(context.Background()), ErrAlreadyOpen)
}

func TestPair_OpenLongFailureSkipsShort(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	long.PlaceErr = errors.New("insufficient margin")

	err := p.Open(context.Background())
	var legErr *LegError
	require.ErrorAs(t, err, &legErr)
	assert.Equal(t, "long", legErr.FailedLegs())
	assert.False(t, legErr.Incomplete)
	assert.Empty(t, short.PlacedOrders())
	assert.Equal(t, StateFlat, p.State())

	var permanent *retry.PermanentOperationError
	assert.ErrorAs(t, err, &permanent)
}

func TestPair_OpenShortFailureLeavesPairMonitored(t *testing.T) {
	p, _, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	short.PlaceErr = errors.New("nonce too low")

	err := p.Open(context.Background())
	var legErr *LegError
	require.ErrorAs(t, err, &legErr)
	assert.True(t, legErr.Incomplete)
	assert.Equal(t, "short", legErr.FailedLegs())
	assert.Equal(t, StateOpen, p.State())
}

func TestPair_StopLossTriggered(t *testing.T) {
	cases := []struct {
		name      string
		longPnL   float64
		shortPnL  float64
		triggered bool
	}{
		{"loss beyond threshold", -200, 50, true},
		{"loss equal to threshold", -60, -40, false},
		{"profit", 20, 30, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, long, short := newTestPair(t)
			require.NoError(t, p.Initialize(context.Background()))
			long.SetPositions(hedgetest.Long(0.0002, tc.longPnL))
			short.SetPositions(hedgetest.Short(0.0002, tc.shortPnL))

			hit, pnl, err := p.StopLossTriggered(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.triggered, hit)
			assert.InDelta(t, tc.longPnL+tc.shortPnL, pnl, 1e-9)
		})
	}
}

func TestPair_FloatingPnLIgnoresOtherSymbols(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	long.SetPositions(hedgetest.Long(0.0002, -10), models.NewPositionSnapshot(1, "ETH", 1, 3000, -500, 0))
	short.SetPositions(hedgetest.Short(0.0002, 4))

	pnl, err := p.FloatingPnL(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -6, pnl, 1e-9)
}

func TestPair_FailedReadNeverTriggers(t *testing.T) {
	p, long, _ := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	long.PositionsErr = "timeout"

	hit, pnl, err := p.StopLossTriggered(context.Background())
	require.Error(t, err)
	assert.False(t, hit)
	assert.Zero(t, pnl)
}

func TestPair_CloseFlattensBothLegs(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Open(context.Background()))
	long.SetPositions(hedgetest.Long(0.0002, 0))
	short.SetPositions(hedgetest.Short(0.0002, 0))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, StateFlat, p.State())
	assert.Equal(t, 1, long.CancelAllCnt)
	assert.Equal(t, 1, short.CancelAllCnt)

	lo := long.PlacedOrders()
	so := short.PlacedOrders()
	require.Len(t, lo, 2)
	require.Len(t, so, 2)
	assert.Equal(t, models.OrderSideSell, lo[1].Side)
	assert.True(t, lo[1].ReduceOnly)
	assert.Equal(t, models.OrderSideBuy, so[1].Side)
	assert.True(t, so[1].ReduceOnly)
}

func TestPair_CloseReportsFailedLeg(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Open(context.Background()))
	short.CancelErr = errors.New("service unavailable")
	short.ActiveOrders = []models.ActiveOrder{{OrderIndex: 7, MarketID: hedgetest.BTC.MarketID}}

	err := p.Close(context.Background())
	var legErr *LegError
	require.ErrorAs(t, err, &legErr)
	assert.Equal(t, "short", legErr.FailedLegs())
	assert.True(t, legErr.Incomplete)
	assert.Equal(t, 1, long.CancelAllCnt, "long leg is still closed")
	assert.Equal(t, StateOpen, p.State())
}

func TestPair_CloseCancelsOneByOneWhenCancelAllFails(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Open(context.Background()))
	long.CancelAllErr = errors.New("rate limit")
	long.ActiveOrders = []models.ActiveOrder{
		{OrderIndex: 1, MarketID: hedgetest.BTC.MarketID},
		{OrderIndex: 2, MarketID: hedgetest.BTC.MarketID},
		{OrderIndex: 3, MarketID: 0},
	}

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 2, long.CancelCnt)
	assert.Zero(t, short.CancelCnt)
	assert.Equal(t, StateFlat, p.State())
}

func TestPair_CloseFailsWhenOrdersCannotBeListed(t *testing.T) {
	p, long, _ := newTestPair(t)
	require.NoError(t, p.Initialize(context.Background()))
	long.CancelAllErr = errors.New("bad request")
	long.ActiveOrdersErr = "auth token expired"

	err := p.Close(context.Background())
	var legErr *LegError
	require.ErrorAs(t, err, &legErr)
	assert.Equal(t, "long", legErr.FailedLegs())
	assert.Contains(t, err.Error(), "auth token expired")
}

func TestPair_CloseGateways(t *testing.T) {
	p, long, short := newTestPair(t)
	require.NoError(t, p.CloseGateways())
	assert.Equal(t, 1, long.Closed)
	assert.Equal(t, 1, short.Closed)
}
