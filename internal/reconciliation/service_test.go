package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"btc-grid-core/internal/events"
	"btc-grid-core/pkg/exchanges/common"
	"btc-grid-core/pkg/exchanges/paper"
)

type fill struct {
	side   common.Side
	price  float64
	qty    float64
	profit *float64
}

type recordingSink struct {
	mu    sync.Mutex
	fills []fill
}

func (r *recordingSink) NotifyBuyFilled(_ context.Context, price, qty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, fill{side: common.SideBuy, price: price, qty: qty})
}

func (r *recordingSink) NotifySellFilled(_ context.Context, price, qty float64, profit *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, fill{side: common.SideSell, price: price, qty: qty, profit: profit})
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fills)
}

// flaky injects read failures in front of the paper gateway.
type flaky struct {
	*paper.Gateway
	openErr   error
	tradesErr error
}

func (f *flaky) GetOpenOrders(ctx context.Context) ([]common.Order, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.Gateway.GetOpenOrders(ctx)
}

func (f *flaky) GetTrades(ctx context.Context, limit int) ([]common.Trade, error) {
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return f.Gateway.GetTrades(ctx, limit)
}

func newPaper() *paper.Gateway {
	return paper.New(paper.Config{Symbol: "BTCUSDT", InitialPrice: 42000})
}

func mustLimit(t *testing.T, gw *paper.Gateway, side common.Side, price, qty float64) int64 {
	t.Helper()
	o, err := gw.CreateLimitOrder(context.Background(), side, price, qty)
	if err != nil {
		t.Fatalf("place %s @ %v: %v", side, price, err)
	}
	return o.OrderID
}

func TestExistingStateIsNotReported(t *testing.T) {
	ctx := context.Background()
	gw := newPaper()
	if _, err := gw.CreateMarketOrder(ctx, common.SideBuy, 0.01); err != nil {
		t.Fatal(err)
	}
	mustLimit(t, gw, common.SideBuy, 41000, 0.001)

	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	known, last := svc.State()
	if len(known) != 1 || last == 0 {
		t.Fatalf("snapshot = %v / %d, want one order and a trade id", known, last)
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) != 0 || sink.count() != 0 {
		t.Fatalf("nothing changed but got missing=%v fills=%d", report.Missing, sink.count())
	}
}

func TestFilledOrderIsReported(t *testing.T) {
	ctx := context.Background()
	gw := newPaper()
	bus := events.NewBus()
	filled, unsub := bus.Subscribe(events.EventOrderFilled, 4)
	defer unsub()

	buyID := mustLimit(t, gw, common.SideBuy, 41000, 0.001)
	mustLimit(t, gw, common.SideSell, 43000, 0.001)

	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{Bus: bus})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	gw.SetPrice(40900)
	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) != 1 || report.Missing[0] != buyID {
		t.Fatalf("missing = %v, want [%d]", report.Missing, buyID)
	}
	if len(sink.fills) != 1 {
		t.Fatalf("fills = %+v", sink.fills)
	}
	got := sink.fills[0]
	if got.side != common.SideBuy || got.price != 41000 || got.qty != 0.001 {
		t.Errorf("unexpected fill %+v", got)
	}

	select {
	case ev := <-filled:
		if ev.(events.OrderFilled).OrderID != buyID {
			t.Errorf("event for order %d, want %d", ev.(events.OrderFilled).OrderID, buyID)
		}
	case <-time.After(time.Second):
		t.Fatal("no order.filled event")
	}

	// the same trade is never reported twice
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Fatalf("fills = %d after quiet cycle", sink.count())
	}

	gw.SetPrice(43100)
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 2 || sink.fills[1].side != common.SideSell || sink.fills[1].profit != nil {
		t.Fatalf("sell fill not reported without profit: %+v", sink.fills)
	}
}

func TestCancelWithoutTradesIsSilent(t *testing.T) {
	ctx := context.Background()
	gw := newPaper()
	id := mustLimit(t, gw, common.SideBuy, 41000, 0.001)

	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := gw.CancelOrder(ctx, id); err != nil {
		t.Fatal(err)
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) != 1 || len(report.Notified) != 0 || sink.count() != 0 {
		t.Fatalf("cancel reported as fill: %+v", report)
	}
	if known, _ := svc.State(); len(known) != 0 {
		t.Fatalf("known set not replaced: %v", known)
	}
}

func TestNewTradesWaitForAMissingOrder(t *testing.T) {
	ctx := context.Background()
	gw := newPaper()
	id := mustLimit(t, gw, common.SideBuy, 41000, 0.001)

	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	// a market fill never rests, so no order goes missing
	if _, err := gw.CreateMarketOrder(ctx, common.SideBuy, 0.002); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 0 {
		t.Fatalf("fills = %d with no missing order", sink.count())
	}

	// any disappearance reports every unseen trade, including the market fill
	if err := gw.CancelOrder(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 || sink.fills[0].qty != 0.002 {
		t.Fatalf("fills = %+v", sink.fills)
	}
}

func TestOpenOrdersErrorLeavesState(t *testing.T) {
	ctx := context.Background()
	gw := &flaky{Gateway: newPaper()}
	id := mustLimit(t, gw.Gateway, common.SideBuy, 41000, 0.001)

	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	gw.Gateway.SetPrice(40000)

	gw.openErr = &common.TransportError{Op: "GET /api/v3/openOrders", Err: errors.New("reset")}
	if _, err := svc.Reconcile(ctx); !common.IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if known, _ := svc.State(); len(known) != 1 || known[0] != id {
		t.Fatalf("known set changed on failure: %v", known)
	}

	gw.openErr = nil
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Fatalf("fill lost after recovery: %d", sink.count())
	}
}

func TestTradesErrorKeepsHighWater(t *testing.T) {
	ctx := context.Background()
	gw := &flaky{Gateway: newPaper()}
	mustLimit(t, gw.Gateway, common.SideBuy, 41000, 0.001)

	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	_, before := svc.State()
	gw.Gateway.SetPrice(40000)

	gw.tradesErr = &common.APIError{Status: 418, Code: -1003, Msg: "banned"}
	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TradesErr == nil || sink.count() != 0 {
		t.Fatalf("report = %+v", report)
	}
	known, after := svc.State()
	if after != before {
		t.Fatalf("high-water moved %d -> %d", before, after)
	}
	if len(known) != 0 {
		t.Fatalf("known set must be replaced even when trades fail: %v", known)
	}
}

func TestRunInitializesAndStops(t *testing.T) {
	gw := newPaper()
	mustLimit(t, gw, common.SideBuy, 41000, 0.001)
	sink := &recordingSink{}
	svc := NewService(gw, sink, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !svc.isInitialized() {
		select {
		case <-deadline:
			t.Fatal("never initialized")
		case <-time.After(time.Millisecond):
		}
	}
	gw.SetPrice(40000)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("fill never reported")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
