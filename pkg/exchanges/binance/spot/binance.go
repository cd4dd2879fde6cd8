package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"btc-grid-core/pkg/exchanges/common"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	productionURL = "https://api.binance.com"
	testnetURL    = "https://testnet.binance.vision"
)

// Config holds Binance credentials and the traded symbol.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	Symbol     string
	RecvWindow int64  // ms
	BaseURL    string // overrides the environment URL when set
}

// Client is a Binance spot REST client bound to one symbol. It implements
// common.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

var _ common.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	base := productionURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime)
	// 6000 weight/min on spot, paced at 10 req/s
	client.rateLimiter = common.NewRateLimiter(6000, time.Minute, 10)
	return client
}

// Symbol returns the traded pair.
func (c *Client) Symbol() string { return c.cfg.Symbol }

// Testnet reports whether the client targets the testnet.
func (c *Client) Testnet() bool { return c.cfg.Testnet }

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, &common.TransportError{Op: "decode server time", Err: err}
	}
	return res.ServerTime, nil
}

// GetPrice returns the last traded price of the symbol.
func (c *Client) GetPrice(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, &common.TransportError{Op: "decode ticker price", Err: err}
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return 0, &common.TransportError{Op: "parse ticker price", Err: err}
	}
	return price, nil
}

// GetOpenOrders returns resting orders for the symbol.
func (c *Client) GetOpenOrders(ctx context.Context) ([]common.Order, error) {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []common.Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, &common.TransportError{Op: "decode open orders", Err: err}
	}
	return orders, nil
}

// GetTrades returns the most recent account trades, oldest first.
func (c *Client) GetTrades(ctx context.Context, limit int) ([]common.Trade, error) {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}
	var trades []common.Trade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, &common.TransportError{Op: "decode my trades", Err: err}
	}
	return trades, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

func (c *Client) CreateLimitOrder(ctx context.Context, side common.Side, price, qty float64) (common.NewOrder, error) {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeLimit))
	params.Set("timeInForce", string(common.TIFGTC))
	params.Set("price", common.FormatFloat(price))
	params.Set("quantity", common.FormatFloat(qty))
	return c.placeOrder(ctx, params)
}

func (c *Client) CreateMarketOrder(ctx context.Context, side common.Side, qty float64) (common.NewOrder, error) {
	params := url.Values{}
	params.Set("symbol", c.cfg.Symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeMarket))
	params.Set("quantity", common.FormatFloat(qty))
	return c.placeOrder(ctx, params)
}

// ModifyOrder cancels orderID and places a new limit order at newPrice. A
// failed cancel is returned as is so callers can detect unknown orders.
func (c *Client) ModifyOrder(ctx context.Context, orderID int64, side common.Side, newPrice, qty float64) (common.NewOrder, error) {
	if err := c.CancelOrder(ctx, orderID); err != nil {
		return common.NewOrder{}, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	order, err := c.CreateLimitOrder(ctx, side, newPrice, qty)
	if err != nil {
		return common.NewOrder{}, fmt.Errorf("recreate order %d at %s: %w", orderID, common.FormatFloat(newPrice), err)
	}
	return order, nil
}

// GetAccount returns account balances and basic flags.
func (c *Client) GetAccount(ctx context.Context) (common.AccountInfo, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return common.AccountInfo{}, err
	}
	var info common.AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return common.AccountInfo{}, &common.TransportError{Op: "decode account info", Err: err}
	}
	return info, nil
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (common.NewOrder, error) {
	params.Set("newOrderRespType", "RESULT")
	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.NewOrder{}, err
	}
	var resp common.NewOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.NewOrder{}, &common.TransportError{Op: "decode order response", Err: err}
	}
	return resp, nil
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, common.ErrMissingCredentials
	}
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Timestamp(ctx), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	encoded := params.Encode()
	encoded += "&signature=" + sign(encoded, c.cfg.APISecret)

	endpoint := c.baseURL + path
	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
	}
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(ctx, req)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	op := req.Method + " " + req.URL.Path
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &common.TransportError{Op: op, Err: err}
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &common.TransportError{Op: op, Err: err}
	}
	if res.StatusCode >= 300 {
		return nil, decodeError(op, res.StatusCode, body)
	}
	return body, nil
}

// decodeError maps {"code":-2011,"msg":"Unknown order sent."} bodies to
// APIError. Server-side failures without a code are transient.
func decodeError(op string, status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
		return &common.APIError{Status: status, Code: apiErr.Code, Msg: apiErr.Msg}
	}
	if status >= 500 {
		return &common.TransportError{Op: op, Err: fmt.Errorf("status %d: %s", status, string(body))}
	}
	return &common.APIError{Status: status, Msg: string(body)}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
