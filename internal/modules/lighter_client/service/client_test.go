package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

const orderBooksJSON = `{"code":200,"order_books":[
	{"symbol":"ETH","market_id":2,"status":"active","min_base_amount":"0.01","supported_size_decimals":2,"supported_price_decimals":2},
	{"symbol":"BTC","market_id":1,"status":"active","min_base_amount":"0.0001","supported_size_decimals":4,"supported_price_decimals":1}
]}`

const accountJSON = `{"code":200,"accounts":[{"account_index":7,"collateral":"1000.5","available_balance":900,"positions":[
	{"market_id":1,"symbol":"BTC","sign":-1,"position":"0.5","avg_entry_price":"50000","unrealized_pnl":"-12.5","realized_pnl":"1"},
	{"market_id":2,"symbol":"","sign":1,"position":"3","avg_entry_price":3000,"unrealized_pnl":"abc"},
	{"market_id":1,"symbol":"BTC","sign":1,"position":"0"}
]}]}`

type fakeSigner struct {
	mu   sync.Mutex
	reqs []SignRequest
	err  error
}

func (s *fakeSigner) Sign(_ context.Context, req SignRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.reqs = append(s.reqs, req)
	return "signed", nil
}

func (s *fakeSigner) AuthToken(context.Context) (string, error) { return "token", nil }

func (s *fakeSigner) requests() []SignRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SignRequest(nil), s.reqs...)
}

type lighterStub struct {
	booksCalls   atomic.Int32
	booksFailing atomic.Int32
	emptyAsks    atomic.Bool
	account      atomic.Value // string, overrides accountJSON

	mu    sync.Mutex
	sent  []string
	auths []string
}

func (l *lighterStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/orderBooks", func(w http.ResponseWriter, r *http.Request) {
		l.booksCalls.Add(1)
		if l.booksFailing.Load() > 0 {
			l.booksFailing.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_, _ = w.Write([]byte(orderBooksJSON))
	})
	mux.HandleFunc("/api/v1/orderBookOrders", func(w http.ResponseWriter, r *http.Request) {
		if l.emptyAsks.Load() {
			_, _ = w.Write([]byte(`{"code":200,"bids":[{"price":"49999"}],"asks":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"bids":[{"price":"49999"}],"asks":[{"price":50001}]}`))
	})
	mux.HandleFunc("/api/v1/account", func(w http.ResponseWriter, r *http.Request) {
		body := accountJSON
		if v, ok := l.account.Load().(string); ok {
			body = v
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/api/v1/nextNonce", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"nonce":41}`))
	})
	mux.HandleFunc("/api/v1/sendTx", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		l.mu.Lock()
		l.sent = append(l.sent, r.FormValue("tx_type"))
		l.mu.Unlock()
		if r.FormValue("tx_info") != "signed" {
			_, _ = w.Write([]byte(`{"code":21120,"message":"invalid signature"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"tx_hash":"0xabc"}`))
	})
	mux.HandleFunc("/api/v1/accountActiveOrders", func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		l.auths = append(l.auths, r.URL.Query().Get("auth"))
		l.mu.Unlock()
		_, _ = w.Write([]byte(`{"code":200,"orders":[{"order_index":5,"client_order_index":9,"market_index":1,"is_ask":true,"price":"50100","remaining_base_amount":"0.2","status":"open"}]}`))
	})
	return mux
}

func (l *lighterStub) sentTypes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

func newTestClient(t *testing.T) (*Client, *lighterStub, *fakeSigner) {
	t.Helper()
	stub := &lighterStub{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	exec := retry.NewExecutor(retry.Policy{MaxRetries: 3, BaseDelay: 2 * time.Second}, zap.NewNop(),
		retry.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	signer := &fakeSigner{}
	cred := models.AccountCredential{AccountName: "acc1", AccountIndex: 7, APIKeyIndex: 2, Network: models.NetworkTestnet}
	c := NewClient(cred, nil, signer, exec, Options{BaseURL: srv.URL + "/", MaxSlippage: 0.01}, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c, stub, signer
}

func TestClient_FindMarketBySymbol(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	res := c.FindMarketBySymbol(ctx, " btc ")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Value.Market.MarketID)
	assert.Equal(t, 4, res.Value.Market.SizeDecimals)
	assert.Equal(t, 0.0001, res.Value.Market.MinBaseAmount)

	miss := c.FindMarketBySymbol(ctx, "DOGE")
	assert.False(t, miss.Success)
	assert.Contains(t, miss.Error, "market not found")
	assert.Equal(t, []string{"ETH", "BTC"}, miss.Value.Available)
}

func TestClient_RetriesServiceUnavailable(t *testing.T) {
	c, stub, _ := newTestClient(t)
	stub.booksFailing.Store(2)

	res := c.FindMarketBySymbol(context.Background(), "BTC")
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 3, stub.booksCalls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	c, stub, _ := newTestClient(t)
	stub.booksFailing.Store(10)

	res := c.FindMarketBySymbol(context.Background(), "BTC")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "http 503")
	assert.EqualValues(t, 3, stub.booksCalls.Load())
}

func TestClient_QuotePrice(t *testing.T) {
	c, stub, _ := newTestClient(t)
	ctx := context.Background()

	res := c.QuotePrice(ctx, 1)
	require.True(t, res.Success, res.Error)
	assert.InDelta(t, 50000.0, res.Value, 1e-9)

	stub.emptyAsks.Store(true)
	res = c.QuotePrice(ctx, 1)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "empty side")
}

func TestClient_USDToQuantity(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	res := c.USDToQuantity(ctx, 1, 10)
	require.True(t, res.Success, res.Error)
	assert.InDelta(t, 0.0002, res.Value.Quantity, 1e-12)
	assert.InDelta(t, 50000.0, res.Value.Price, 1e-9)

	// below the market minimum
	res = c.USDToQuantity(ctx, 1, 1)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 0.0001, res.Value.Quantity)

	res = c.USDToQuantity(ctx, 1, 0)
	assert.False(t, res.Success)
}

func TestClient_PlaceMarketOrder(t *testing.T) {
	c, stub, signer := newTestClient(t)
	ctx := context.Background()

	res, err := c.PlaceOrder(ctx, models.OrderRequest{
		MarketID: 1,
		Side:     models.OrderSideBuy,
		Quantity: 0.0002,
		Leverage: 5,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "0xabc", res.Value.TxHash)
	assert.EqualValues(t, 2, res.Value.BaseAmount)
	assert.EqualValues(t, 505000, res.Value.Price)

	assert.Equal(t, []string{"20", "14"}, stub.sentTypes())
	reqs := signer.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, UpdateLeverageTx{MarketIndex: 1, InitialMarginFraction: 2000, MarginMode: marginModeCross}, reqs[0].Payload)
	assert.EqualValues(t, 41, reqs[1].Nonce)
	order, ok := reqs[1].Payload.(CreateOrderTx)
	require.True(t, ok)
	assert.False(t, order.IsAsk)
	assert.Equal(t, orderTypeMarket, order.OrderType)
	assert.Equal(t, timeInForceIOC, order.TimeInForce)

	// leverage is applied once per market
	res, err = c.PlaceOrder(ctx, models.OrderRequest{MarketID: 1, Side: models.OrderSideSell, Quantity: 0.0002, Leverage: 5})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 495000, res.Value.Price)
	assert.Equal(t, []string{"20", "14", "14"}, stub.sentTypes())
}

func TestClient_ReduceOnlySkipsLeverage(t *testing.T) {
	c, stub, signer := newTestClient(t)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		MarketID: 1, Side: models.OrderSideSell, Quantity: 0.5, Leverage: 5, ReduceOnly: true,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"14"}, stub.sentTypes())
	order := signer.requests()[0].Payload.(CreateOrderTx)
	assert.True(t, order.ReduceOnly)
	assert.True(t, order.IsAsk)
}

func TestClient_PlaceOrderValidation(t *testing.T) {
	tiny := 0.01
	price := 49000.0
	cases := []struct {
		name string
		req  models.OrderRequest
		msg  string
	}{
		{"zero quantity", models.OrderRequest{MarketID: 1, Side: models.OrderSideBuy}, "quantity must be positive"},
		{"bad side", models.OrderRequest{MarketID: 1, Side: "hold", Quantity: 1}, "unknown order side"},
		{"below base unit", models.OrderRequest{MarketID: 1, Side: models.OrderSideBuy, Quantity: 0.00001}, "below one base unit"},
		{"limit price too small", models.OrderRequest{MarketID: 1, Side: models.OrderSideBuy, Quantity: 1, Price: &tiny}, "below one price unit"},
		{"limit without price", models.OrderRequest{MarketID: 1, Side: models.OrderSideBuy, Quantity: 1, Type: models.OrderTypeLimit}, "requires a price"},
		{"unknown market", models.OrderRequest{MarketID: 99, Side: models.OrderSideBuy, Quantity: 1, Price: &price}, "market not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, stub, _ := newTestClient(t)
			res, err := c.PlaceOrder(context.Background(), tc.req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tc.msg)
			assert.Empty(t, stub.sentTypes())
		})
	}
}

func TestClient_PlaceLimitOrder(t *testing.T) {
	c, _, signer := newTestClient(t)
	price := 48000.55

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		MarketID: 1, Side: models.OrderSideBuy, Quantity: 0.0003, Price: &price,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 480005, res.Value.Price)

	reqs := signer.requests()
	order := reqs[len(reqs)-1].Payload.(CreateOrderTx)
	assert.Equal(t, orderTypeLimit, order.OrderType)
	assert.Equal(t, timeInForceGTT, order.TimeInForce)
	assert.Greater(t, order.OrderExpiry, time.Now().UnixMilli())
}

func TestClient_SignerFailureIsCritical(t *testing.T) {
	c, stub, signer := newTestClient(t)
	signer.err = assert.AnError

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		MarketID: 1, Side: models.OrderSideBuy, Quantity: 0.0002, ReduceOnly: true,
	})
	require.Error(t, err)
	var perm *retry.PermanentOperationError
	assert.ErrorAs(t, err, &perm)
	assert.False(t, res.Success)
	assert.True(t, res.Critical)
	assert.Empty(t, stub.sentTypes())
}

func TestClient_CancelAllOrders(t *testing.T) {
	c, stub, signer := newTestClient(t)

	res, err := c.CancelAllOrders(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, TxTypeCancelAll, res.Value.TxType)
	assert.Equal(t, []string{"16"}, stub.sentTypes())
	assert.Equal(t, CancelAllTx{TimeInForce: timeInForceIOC}, signer.requests()[0].Payload)
}

func TestClient_GetOpenPositions(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	res := c.GetOpenPositions(ctx, 1)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Value, 1)
	p := res.Value[0]
	assert.Equal(t, models.SideShort, p.Side)
	assert.Equal(t, 0.5, p.Size)
	assert.Equal(t, -0.5, p.SignedSize)
	assert.Equal(t, -12.5, p.UnrealizedPnl)
	assert.Equal(t, 1.0, p.RealizedPnl)
}

const blankSymbolAccountJSON = `{"code":200,"accounts":[{"account_index":7,"positions":[
	{"market_id":1,"symbol":"","sign":-1,"position":"0.01","unrealized_pnl":"-200"}
]}]}`

func TestClient_PositionsResolveSymbolOnColdCache(t *testing.T) {
	c, stub, _ := newTestClient(t)
	stub.account.Store(blankSymbolAccountJSON)

	res := c.GetOpenPositions(context.Background(), 1)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Value, 1)
	short := res.Value[0]
	assert.Equal(t, "BTC", short.Symbol)
	assert.Equal(t, models.SideShort, short.Side)
	assert.Equal(t, -200.0, short.UnrealizedPnl)
	assert.EqualValues(t, 1, stub.booksCalls.Load())

	long := models.NewPositionSnapshot(1, "BTC", 0.01, 50000, 150, 0)
	v := hedge.Evaluate("BTC", []models.PositionSnapshot{long}, res.Value, true, true)
	assert.Equal(t, hedge.OutcomeConfirmedHedged, v.Outcome)
	assert.Equal(t, 0.01, v.ShortAmount)
}

func TestClient_PositionsWithUnresolvableSymbolFail(t *testing.T) {
	t.Run("unknown market", func(t *testing.T) {
		c, stub, _ := newTestClient(t)
		stub.account.Store(`{"code":200,"accounts":[{"account_index":7,"positions":[
			{"market_id":9,"symbol":"","sign":1,"position":"2"}]}]}`)

		res := c.GetOpenPositions(context.Background(), -1)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "market not found")

		info := c.GetAccountInfo(context.Background())
		assert.False(t, info.Success)
	})
	t.Run("market list down", func(t *testing.T) {
		c, stub, _ := newTestClient(t)
		stub.account.Store(blankSymbolAccountJSON)
		stub.booksFailing.Store(100)

		res := c.GetOpenPositions(context.Background(), 1)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "http 503")
	})
}

func TestClient_USDToQuantityFailsWithoutMarketMetadata(t *testing.T) {
	c, stub, _ := newTestClient(t)
	stub.booksFailing.Store(100)

	res := c.USDToQuantity(context.Background(), 1, 1)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "market metadata unavailable")
	assert.EqualValues(t, 3, stub.booksCalls.Load())
}

func TestClient_GetAccountInfo(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	require.True(t, c.FindMarketBySymbol(ctx, "BTC").Success)

	res := c.GetAccountInfo(ctx)
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 7, res.Value.AccountIndex)
	assert.Equal(t, 1000.5, res.Value.Collateral)
	assert.Equal(t, 900.0, res.Value.AvailableBalance)
	require.Len(t, res.Value.Positions, 2)

	eth := res.Value.Positions[1]
	assert.Equal(t, "ETH", eth.Symbol)
	assert.Equal(t, models.SideLong, eth.Side)
	assert.Zero(t, eth.UnrealizedPnl)
}

func TestClient_GetActiveOrders(t *testing.T) {
	c, stub, _ := newTestClient(t)

	res := c.GetActiveOrders(context.Background(), 1)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Value, 1)
	assert.Equal(t, models.OrderSideSell, res.Value[0].Side)
	assert.Equal(t, 50100.0, res.Value[0].Price)
	assert.Equal(t, []string{"token"}, stub.auths)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c, _, _ := newTestClient(t)
	require.True(t, c.QuotePrice(context.Background(), 1).Success)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	// a closed client reconnects lazily
	assert.True(t, c.QuotePrice(context.Background(), 1).Success)
}

func TestFlexFloat(t *testing.T) {
	cases := map[string]float64{
		`"1.5"`:  1.5,
		`2`:      2,
		`null`:   0,
		`""`:     0,
		`"n/a"`:  0,
		` "-3" `: -3,
	}
	for in, want := range cases {
		var f flexFloat
		require.NoError(t, f.UnmarshalJSON([]byte(in)), in)
		assert.Equal(t, want, f.Float(), in)
	}
}

func TestAccountPositionSigned(t *testing.T) {
	assert.Equal(t, -2.0, accountPosition{Sign: -1, Position: 2}.signed())
	assert.Equal(t, 2.0, accountPosition{Sign: 1, Position: -2}.signed())
	assert.Equal(t, -2.0, accountPosition{Position: -2}.signed())
}
