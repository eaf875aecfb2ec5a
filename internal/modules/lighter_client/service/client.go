package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

var ErrMarketNotFound = errors.New("market not found")

const (
	defaultSizeScale  = 1_000_000
	defaultPriceScale = 100
)

type Options struct {
	// BaseURL overrides the network endpoint.
	BaseURL     string
	Timeout     time.Duration
	MaxSlippage float64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxSlippage <= 0 {
		o.MaxSlippage = 0.01
	}
	return o
}

type marketMeta struct {
	market     models.Market
	sizeScale  decimal.Decimal
	priceScale decimal.Decimal
}

// Client: шлюз одного аккаунта Lighter. HTTP-клиент создаётся при первом вызове.
type Client struct {
	cred   models.AccountCredential
	proxy  *models.ProxyConfig
	signer Signer
	exec   *retry.Executor
	opts   Options
	log    *zap.Logger

	httpMu sync.Mutex
	http   *resty.Client

	mu       sync.RWMutex
	markets  map[int]marketMeta
	leverage map[int]int

	clientOrderSeq atomic.Int64
}

func NewClient(
	cred models.AccountCredential,
	proxy *models.ProxyConfig,
	signer Signer,
	exec *retry.Executor,
	opts Options,
	log *zap.Logger,
) *Client {
	c := &Client{
		cred:     cred,
		proxy:    proxy,
		signer:   signer,
		exec:     exec,
		opts:     opts.withDefaults(),
		log:      log.With(zap.String("account", cred.AccountName)),
		markets:  make(map[int]marketMeta),
		leverage: make(map[int]int),
	}
	c.clientOrderSeq.Store(time.Now().UnixMilli())
	return c
}

func (c *Client) baseURL() string {
	if c.opts.BaseURL != "" {
		return strings.TrimSuffix(c.opts.BaseURL, "/")
	}
	return c.cred.Network.BaseURL()
}

func (c *Client) rest() *resty.Client {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()

	if c.http != nil {
		return c.http
	}
	cl := resty.New().
		SetBaseURL(c.baseURL()).
		SetTimeout(c.opts.Timeout).
		SetHeader("Accept", "application/json")
	if c.proxy != nil {
		cl.SetProxy(c.proxy.URL())
		c.log.Info("using proxy", zap.String("proxy", c.proxy.Name), zap.Bool("auth", c.proxy.HasAuth()))
	}
	c.http = cl
	c.log.Info("lighter client initialized",
		zap.String("base_url", c.baseURL()),
		zap.Int64("account_index", c.cred.AccountIndex),
		zap.Uint8("api_key_index", c.cred.APIKeyIndex),
	)
	return cl
}

// Close drops the HTTP client. Safe to call more than once.
func (c *Client) Close() error {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	if c.http == nil {
		return nil
	}
	c.http.GetClient().CloseIdleConnections()
	c.http = nil
	c.log.Info("lighter client closed")
	return nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out statusCarrier) error {
	resp, err := c.rest().R().SetContext(ctx).SetQueryParams(params).Get(path)
	if err != nil {
		return errors.Wrap(err, "GET "+path)
	}
	return decode(resp, path, out)
}

func (c *Client) postForm(ctx context.Context, path string, form map[string]string, out statusCarrier) error {
	resp, err := c.rest().R().SetContext(ctx).SetFormData(form).Post(path)
	if err != nil {
		return errors.Wrap(err, "POST "+path)
	}
	return decode(resp, path, out)
}

// decode keeps HTTP status codes in the error text so 502/503/504 classify as transient.
func decode(resp *resty.Response, path string, out statusCarrier) error {
	if !resp.IsSuccess() {
		return errors.Errorf("%s: http %d: %s", path, resp.StatusCode(), clip(resp.Body()))
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	if st := out.status(); st.Code != 0 && st.Code != 200 {
		return errors.Errorf("%s: lighter error %d: %s", path, st.Code, st.Message)
	}
	return nil
}
