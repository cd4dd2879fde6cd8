package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"btc-grid-core/internal/events"
	"btc-grid-core/internal/monitor"
	"btc-grid-core/internal/notify"
	"btc-grid-core/internal/persistence"
	"btc-grid-core/internal/trailing"
	"btc-grid-core/pkg/db"
	"btc-grid-core/pkg/exchanges/common"
	"btc-grid-core/pkg/exchanges/paper"
)

const (
	testJWTSecret = "test-secret"
	testAppSecret = "app-secret"
)

type testEnv struct {
	ts       *httptest.Server
	paper    *paper.Gateway
	registry *trailing.Registry
	bus      *events.Bus
	db       *db.Database
	tokens   *notify.TokenStore
	writer   *persistence.BatchWriter
}

func newTestAPIServer(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(db.MemoryPath)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	gw := paper.New(paper.Config{InitialPrice: 42000})
	registry := trailing.NewRegistry()
	tokens := notify.NewTokenStore(database)
	writer := persistence.NewBatchWriter(database.DB, 100, 20*time.Millisecond)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	persistence.NewAuditLog(bus, writer).Start(auditCtx)

	opts := Options{
		JWTSecret:      testJWTSecret,
		AppSecret:      testAppSecret,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		Meta:           SystemMeta{DryRun: true, Version: "test"},
	}
	if mutate != nil {
		mutate(&opts)
	}

	server := NewServer(Deps{
		Gateways: common.Environments{Testnet: gw},
		Prices:   gw,
		Registry: registry,
		Bus:      bus,
		DB:       database,
		Tokens:   tokens,
		Notifier: notify.NewDispatcher(metrics, notify.BusChannel{Bus: bus}),
		Metrics:  metrics,
		Audit:    writer,
	}, opts)

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		stopAudit()
		_ = writer.Close()
		_ = database.Close()
	})
	return &testEnv{ts: httpServer, paper: gw, registry: registry, bus: bus, db: database, tokens: tokens, writer: writer}
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any, headers ...string) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	var resp tokenResponse
	status := doJSONRequest(t, e.ts.Client(), http.MethodPost, e.ts.URL+"/api/auth/login", "", map[string]string{
		"device_id":   "device-1",
		"device_name": "iPhone 15 Pro",
		"app_secret":  testAppSecret,
	}, &resp)
	if status != http.StatusOK || resp.Token == "" {
		t.Fatalf("login failed status=%d resp=%+v", status, resp)
	}
	return resp.Token
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestHealthAndPrice(t *testing.T) {
	env := newTestAPIServer(t, nil)
	client := env.ts.Client()

	var health struct {
		Status string     `json:"status"`
		System SystemMeta `json:"system"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("health status %d", status)
	}
	if health.Status != "ok" || !health.System.DryRun {
		t.Fatalf("health = %+v", health)
	}

	var price struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/price/current", "", nil, &price); status != http.StatusOK {
		t.Fatalf("price status %d", status)
	}
	if price.Symbol != "BTCUSDT" || price.Price != 42000 {
		t.Fatalf("price = %+v", price)
	}
}

func TestAuth(t *testing.T) {
	env := newTestAPIServer(t, nil)
	client := env.ts.Client()
	url := env.ts.URL

	var resp errorBody
	status := doJSONRequest(t, client, http.MethodPost, url+"/api/auth/login", "", map[string]string{
		"device_id":  "device-1",
		"app_secret": "wrong",
	}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("bad secret: status=%d code=%s", status, resp.Code)
	}

	resp = errorBody{}
	status = doJSONRequest(t, client, http.MethodPost, url+"/api/auth/login", "", map[string]string{"app_secret": testAppSecret}, &resp)
	if status != http.StatusBadRequest || resp.Code != "INVALID_PAYLOAD" {
		t.Fatalf("missing device: status=%d code=%s", status, resp.Code)
	}

	resp = errorBody{}
	status = doJSONRequest(t, client, http.MethodGet, url+"/api/trailing/orders", "", nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("no token: status=%d code=%s", status, resp.Code)
	}

	resp = errorBody{}
	status = doJSONRequest(t, client, http.MethodGet, url+"/api/trailing/orders", "", nil, &resp, "Authorization", "Token abc")
	if status != http.StatusUnauthorized || resp.Code != "INVALID_AUTH_HEADER" {
		t.Fatalf("bad scheme: status=%d code=%s", status, resp.Code)
	}

	expired, err := generateToken("device-1", "iPhone", testJWTSecret, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	resp = errorBody{}
	status = doJSONRequest(t, client, http.MethodGet, url+"/api/trailing/orders", expired, nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("expired: status=%d code=%s", status, resp.Code)
	}

	forged, _ := generateToken("device-1", "iPhone", "other-secret", time.Now().Add(time.Minute))
	if status := doJSONRequest(t, client, http.MethodGet, url+"/api/trailing/orders", forged, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("forged token accepted: %d", status)
	}

	token := env.login(t)
	var refreshed tokenResponse
	status = doJSONRequest(t, client, http.MethodPost, url+"/api/auth/refresh", "", map[string]string{"token": token}, &refreshed)
	if status != http.StatusOK || refreshed.Token == "" || refreshed.ExpiresIn != 900 {
		t.Fatalf("refresh: status=%d resp=%+v", status, refreshed)
	}
	claims, err := parseToken(refreshed.Token, testJWTSecret)
	if err != nil || claims.Subject != "device-1" || claims.DeviceName != "iPhone 15 Pro" {
		t.Fatalf("refreshed claims = %+v, %v", claims, err)
	}

	status = doJSONRequest(t, client, http.MethodPost, url+"/api/auth/refresh", "", map[string]string{"token": expired}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("refresh with expired token: %d", status)
	}
}

func TestProductionHeaderWithoutKeys(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)

	for _, v := range []string{"true", "1"} {
		var resp errorBody
		status := doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/account/open-orders", token, nil, &resp, productionHeader, v)
		if status != http.StatusBadRequest || resp.Code != "PRODUCTION_NOT_CONFIGURED" {
			t.Fatalf("%s: status=%d code=%s", v, status, resp.Code)
		}
	}

	// Any other value stays on testnet.
	status := doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/account/open-orders", token, nil, nil, productionHeader, "yes")
	if status != http.StatusOK {
		t.Fatalf("testnet request: %d", status)
	}
}

func TestBalance(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)

	var resp balanceResponse
	if status := doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/account/balance", token, nil, &resp); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if resp.USDT.Total != 100000 || resp.BTC.Total != 1 {
		t.Fatalf("balances = %+v", resp)
	}
	if resp.BTCValueUSD != 42000 || resp.TotalUSD != 142000 {
		t.Fatalf("valuation = %v / %v", resp.BTCValueUSD, resp.TotalUSD)
	}
}

func TestLimitOrderValidation(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)

	tests := []struct {
		name     string
		payload  map[string]any
		wantCode string
	}{
		{"bad side", map[string]any{"side": "HOLD", "price": 41000, "quantity": 0.01}, "INVALID_SIDE"},
		{"zero price", map[string]any{"side": "BUY", "price": 0, "quantity": 0.01}, "INVALID_PRICE"},
		{"negative quantity", map[string]any{"side": "sell", "price": 43000, "quantity": -1}, "INVALID_QUANTITY"},
		{"zero trailing", map[string]any{"side": "BUY", "price": 41000, "quantity": 0.01, "trailing_percent": 0}, "INVALID_TRAILING_PERCENT"},
		{"missing side", map[string]any{"price": 41000, "quantity": 0.01}, "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorBody
			status := doJSONRequest(t, env.ts.Client(), http.MethodPost, env.ts.URL+"/api/orders/limit", token, tt.payload, &resp)
			if status != http.StatusBadRequest || resp.Code != tt.wantCode {
				t.Fatalf("status=%d code=%s, want 400 %s", status, resp.Code, tt.wantCode)
			}
		})
	}
	if n := env.paper.Stats().Creates; n != 0 {
		t.Fatalf("invalid requests reached the exchange %d times", n)
	}
}

type limitOrderBody struct {
	OrderID    int64  `json:"orderId"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	TrailingID string `json:"trailing_id"`
}

func TestLimitOrderWithTrailing(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	client := env.ts.Client()

	removed, unsub := env.bus.Subscribe(events.EventTrailingRemoved, 4)
	defer unsub()

	var placed limitOrderBody
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/orders/limit", token, map[string]any{
		"side": "sell", "price": 43000, "quantity": 0.01, "trailing_percent": 1,
	}, &placed)
	if status != http.StatusOK || placed.OrderID == 0 || placed.TrailingID == "" || placed.Side != "SELL" {
		t.Fatalf("limit: status=%d resp=%+v", status, placed)
	}

	var list struct {
		Orders []trailing.View `json:"orders"`
		Count  int             `json:"count"`
	}
	doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/trailing/orders", token, nil, &list)
	if list.Count != 1 || len(list.Orders) != 1 {
		t.Fatalf("trailing list = %+v", list)
	}
	got := list.Orders[0]
	if got.ID != placed.TrailingID || got.OrderID != placed.OrderID || got.ReferencePrice != 42000 || got.CurrentOrderPrice != 43000 {
		t.Fatalf("trailing entry = %+v", got)
	}
	if got.TargetPrice != 41580 {
		t.Fatalf("target = %v, want 41580", got.TargetPrice)
	}

	var errResp errorBody
	status = doJSONRequest(t, client, http.MethodDelete, env.ts.URL+"/api/trailing/orders/not-a-uuid", token, nil, &errResp)
	if status != http.StatusBadRequest || errResp.Code != "INVALID_ID" {
		t.Fatalf("bad uuid: %d %s", status, errResp.Code)
	}
	status = doJSONRequest(t, client, http.MethodDelete, env.ts.URL+"/api/trailing/orders/6f1c5a56-5a3c-4d7e-9a4b-0c1d2e3f4a5b", token, nil, &errResp)
	if status != http.StatusNotFound || errResp.Code != "TRAILING_NOT_FOUND" {
		t.Fatalf("unknown id: %d %s", status, errResp.Code)
	}
	status = doJSONRequest(t, client, http.MethodDelete, env.ts.URL+"/api/trailing/orders/"+placed.TrailingID, token, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("delete: %d", status)
	}
	if env.registry.Len() != 0 {
		t.Fatal("registry should be empty")
	}

	select {
	case msg := <-removed:
		ev := msg.(events.TrailingRemoved)
		if ev.TrailingID != placed.TrailingID || ev.Reason != events.ReasonUser {
			t.Fatalf("removed event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}

	// The exchange order survives.
	open, _ := env.paper.GetOpenOrders(context.Background())
	if len(open) != 1 || open[0].OrderID != placed.OrderID {
		t.Fatalf("open orders = %+v", open)
	}
}

func TestCancelOrderStopsTrailing(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	client := env.ts.Client()

	var placed limitOrderBody
	doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/orders/limit", token, map[string]any{
		"side": "BUY", "price": 41000, "quantity": 0.01, "trailing_percent": 0.5,
	}, &placed)
	if placed.TrailingID == "" {
		t.Fatalf("trailing not started: %+v", placed)
	}

	var resp struct {
		Success         bool  `json:"success"`
		OrderID         int64 `json:"order_id"`
		TrailingStopped bool  `json:"trailing_stopped"`
	}
	status := doJSONRequest(t, client, http.MethodDelete, env.ts.URL+"/api/account/orders/"+strconv.FormatInt(placed.OrderID, 10), token, nil, &resp)
	if status != http.StatusOK || !resp.Success || !resp.TrailingStopped || resp.OrderID != placed.OrderID {
		t.Fatalf("cancel: status=%d resp=%+v", status, resp)
	}
	if env.registry.Len() != 0 {
		t.Fatal("trailing entry survived the cancel")
	}

	var errResp errorBody
	status = doJSONRequest(t, client, http.MethodDelete, env.ts.URL+"/api/account/orders/"+strconv.FormatInt(placed.OrderID, 10), token, nil, &errResp)
	if status != http.StatusNotFound || errResp.Code != "ORDER_NOT_FOUND" {
		t.Fatalf("second cancel: %d %s", status, errResp.Code)
	}
	status = doJSONRequest(t, client, http.MethodDelete, env.ts.URL+"/api/account/orders/abc", token, nil, &errResp)
	if status != http.StatusBadRequest || errResp.Code != "INVALID_ORDER_ID" {
		t.Fatalf("bad id: %d %s", status, errResp.Code)
	}
}

func TestGridCreateAndPairedOrders(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	client := env.ts.Client()

	var errResp errorBody
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/grid/create", token, map[string]any{
		"buy_price": 43000, "sell_price": 41000, "amount_usd": 100,
	}, &errResp)
	if status != http.StatusBadRequest || errResp.Code != "INVALID_PRICES" {
		t.Fatalf("inverted prices: %d %s", status, errResp.Code)
	}
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/grid/create", token, map[string]any{
		"buy_price": 41000, "sell_price": 43000, "amount_usd": 0.5,
	}, &errResp)
	if status != http.StatusBadRequest || errResp.Code != "AMOUNT_TOO_SMALL" {
		t.Fatalf("small amount: %d %s", status, errResp.Code)
	}

	var grid gridPairResponse
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/grid/create", token, map[string]any{
		"buy_price": 41000, "sell_price": 43000, "amount_usd": 100,
	}, &grid)
	if status != http.StatusOK {
		t.Fatalf("grid create: %d", status)
	}
	if grid.Quantity != 0.00243 {
		t.Fatalf("quantity = %v, want 0.00243", grid.Quantity)
	}
	if math.Abs(grid.EstimatedProfitUSD-4.86) > 1e-9 {
		t.Fatalf("profit = %v", grid.EstimatedProfitUSD)
	}
	if grid.BuyOrder.Side != common.SideBuy || grid.SellOrder.Side != common.SideSell {
		t.Fatalf("sides = %s/%s", grid.BuyOrder.Side, grid.SellOrder.Side)
	}

	// A lone order stays unpaired.
	doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/orders/limit", token, map[string]any{
		"side": "BUY", "price": 40000, "quantity": 0.5,
	}, nil)

	var orders ordersResponse
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/account/orders", token, nil, &orders); status != http.StatusOK {
		t.Fatalf("orders: %d", status)
	}
	if orders.TotalOrders != 3 || len(orders.GridPairs) != 1 || len(orders.UnpairedOrders) != 1 {
		t.Fatalf("orders = %+v", orders)
	}
	pair := orders.GridPairs[0]
	if pair.BuyOrder.OrderID != grid.BuyOrder.OrderID || pair.SellOrder.OrderID != grid.SellOrder.OrderID {
		t.Fatalf("pair = %+v", pair)
	}
}

func TestGridQuantityTruncates(t *testing.T) {
	tests := []struct {
		amount, price, want float64
	}{
		{100, 41000, 0.00243},
		{42, 42000, 0.001},
		{1, 100000, 0.00001},
		{0.99, 100000, 0},
	}
	for _, tt := range tests {
		if got := gridQuantity(tt.amount, tt.price); got != tt.want {
			t.Errorf("gridQuantity(%v, %v) = %v, want %v", tt.amount, tt.price, got, tt.want)
		}
	}
}

func TestModifyOrder(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	client := env.ts.Client()

	var placed limitOrderBody
	doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/orders/limit", token, map[string]any{
		"side": "BUY", "price": 41000, "quantity": 0.01, "trailing_percent": 1,
	}, &placed)

	var resp struct {
		NewOrder common.NewOrder `json:"new_order"`
	}
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/grid/modify", token, map[string]any{
		"order_id": placed.OrderID, "new_price": 40500,
	}, &resp)
	if status != http.StatusOK || resp.NewOrder.OrderID == placed.OrderID || resp.NewOrder.Side != common.SideBuy {
		t.Fatalf("modify: status=%d resp=%+v", status, resp)
	}
	if resp.NewOrder.OrigQty != "0.01" {
		t.Fatalf("quantity changed: %s", resp.NewOrder.OrigQty)
	}
	if env.registry.Len() != 0 {
		t.Fatal("manual modify should stop trailing")
	}

	var errResp errorBody
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/grid/modify", token, map[string]any{
		"order_id": placed.OrderID, "new_price": 40000,
	}, &errResp)
	if status != http.StatusNotFound || errResp.Code != "ORDER_NOT_FOUND" {
		t.Fatalf("stale id: %d %s", status, errResp.Code)
	}
}

func TestHistoryFromFills(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	client := env.ts.Client()

	doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/orders/limit", token, map[string]any{
		"side": "BUY", "price": 41000, "quantity": 0.01,
	}, nil)
	env.paper.SetPrice(40900)
	doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/orders/limit", token, map[string]any{
		"side": "SELL", "price": 43000, "quantity": 0.01,
	}, nil)
	env.paper.SetPrice(43100)

	var history tradeHistoryResponse
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/history/trades", token, nil, &history); status != http.StatusOK {
		t.Fatalf("trades: %d", status)
	}
	if len(history.CompletedPairs) != 1 {
		t.Fatalf("pairs = %+v", history.CompletedPairs)
	}
	p := history.CompletedPairs[0]
	if p.BuyPrice != 41000 || p.SellPrice != 43000 || math.Abs(p.GrossProfitUSD-20) > 1e-9 {
		t.Fatalf("pair = %+v", p)
	}

	var summary struct {
		TotalTrades    int     `json:"total_trades"`
		TotalNetProfit float64 `json:"total_net_profit"`
	}
	doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/history/profit", token, nil, &summary)
	if summary.TotalTrades != 1 || math.Abs(summary.TotalNetProfit-history.TotalNetProfit) > 1e-9 {
		t.Fatalf("summary = %+v, history net %v", summary, history.TotalNetProfit)
	}
}

func TestAuditEndpoints(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	ctx := context.Background()

	if err := env.db.CreateFillEvent(ctx, db.FillEvent{TradeID: 5001, OrderID: 1001, Side: "BUY", Price: 41000, Qty: 0.01, FilledAt: time.UnixMilli(1700000000000)}); err != nil {
		t.Fatal(err)
	}
	if err := env.db.CreateTrailingEvent(ctx, db.TrailingEvent{TrailingID: "t-1", Kind: "repriced", Side: "SELL", OldOrderID: 1, NewOrderID: 2, OldPrice: 43000, NewPrice: 41915}); err != nil {
		t.Fatal(err)
	}

	var fills struct {
		Fills []fillView `json:"fills"`
		Count int        `json:"count"`
	}
	doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/history/fills?limit=5", token, nil, &fills)
	if fills.Count != 1 || fills.Fills[0].TradeID != 5001 || fills.Fills[0].FilledAt != 1700000000000 {
		t.Fatalf("fills = %+v", fills)
	}

	var trail struct {
		Events []trailingEventView `json:"events"`
		Count  int                 `json:"count"`
	}
	doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/trailing/history", token, nil, &trail)
	if trail.Count != 1 || trail.Events[0].NewPrice != 41915 || trail.Events[0].Kind != "repriced" {
		t.Fatalf("trailing history = %+v", trail)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	client := env.ts.Client()
	ctx := context.Background()

	var errResp errorBody
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/notifications/register", token, map[string]string{
		"device_token": "abc", "platform": "android",
	}, &errResp)
	if status != http.StatusBadRequest || errResp.Code != "UNSUPPORTED_PLATFORM" {
		t.Fatalf("android: %d %s", status, errResp.Code)
	}

	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/notifications/register", token, map[string]string{
		"device_token": "apns-token", "platform": "ios",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("register: %d", status)
	}
	tokens, err := env.tokens.ListDeviceTokens(ctx)
	if err != nil || len(tokens) != 1 || tokens[0].DeviceID != "device-1" || tokens[0].DeviceName != "iPhone 15 Pro" {
		t.Fatalf("tokens = %+v, %v", tokens, err)
	}

	notes, unsub := env.bus.Subscribe(events.EventNotification, 4)
	defer unsub()
	if status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/notifications/test", token, nil, nil); status != http.StatusOK {
		t.Fatalf("test push: %d", status)
	}
	select {
	case msg := <-notes:
		if n := msg.(events.Notification); n.Title != "🧪 Test Notification" {
			t.Fatalf("notification = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("test notification not published")
	}

	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/notifications/unregister", token, map[string]string{"device_token": "apns-token"}, nil)
	if status != http.StatusOK {
		t.Fatalf("unregister: %d", status)
	}
	tokens, _ = env.tokens.ListDeviceTokens(ctx)
	if len(tokens) != 0 {
		t.Fatalf("token not removed: %+v", tokens)
	}
}

func TestWebsocketStream(t *testing.T) {
	env := newTestAPIServer(t, nil)
	token := env.login(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err=%v resp=%v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription starts after the upgrade; keep publishing until the
	// first message arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Publish(events.EventOrderFilled, events.OrderFilled{TradeID: 5001, Side: "BUY", Price: 41000, Quantity: 0.01})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env1 struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&env1); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env1.Type != string(events.EventOrderFilled) || env1.Payload["trade_id"] != float64(5001) {
		t.Fatalf("envelope = %+v", env1)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestAPIServer(t, func(o *Options) {
		o.RateLimitRPS = 0.001
		o.RateLimitBurst = 1
	})
	client := env.ts.Client()

	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, nil); status != http.StatusOK {
		t.Fatalf("first request: %d", status)
	}
	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, &resp); status != http.StatusTooManyRequests || resp.Code != "RATE_LIMITED" {
		t.Fatalf("second request: %d %s", status, resp.Code)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestAPIServer(t, nil)
	client := env.ts.Client()
	doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, nil)

	var snapshot metricsResponse
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/metrics", "", nil, &snapshot); status != http.StatusOK {
		t.Fatalf("metrics: %d", status)
	}
	if snapshot.HTTPRequests == 0 {
		t.Fatal("requests not counted")
	}
	if snapshot.Audit == nil || snapshot.Audit.TotalWrites != 0 {
		t.Fatalf("audit = %+v", snapshot.Audit)
	}

	env.bus.Publish(events.EventOrderFilled, events.OrderFilled{TradeID: 9001, OrderID: 1, Side: "BUY", Price: 42000, Quantity: 0.001, At: time.Now()})
	deadline := time.Now().Add(2 * time.Second)
	for {
		var latest metricsResponse
		doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/metrics", "", nil, &latest)
		if latest.Audit != nil && latest.Audit.TotalWrites == 1 && latest.Audit.Tables["fill_events"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit writes not reported: %+v", latest.Audit)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := client.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "btc_grid_http_requests_total") {
		t.Fatalf("prometheus output missing request counter:\n%s", body)
	}
}

func TestRequestIDEcho(t *testing.T) {
	env := newTestAPIServer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc" {
		t.Fatalf("request id = %q", got)
	}
}
