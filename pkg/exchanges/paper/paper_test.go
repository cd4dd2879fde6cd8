package paper

import (
	"context"
	"errors"
	"math"
	"testing"

	"btc-grid-core/pkg/exchanges/common"
)

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	g := New(Config{InitialPrice: 42000, FeeRate: 0.001})

	buy, err := g.CreateLimitOrder(ctx, common.SideBuy, 41000, 0.01)
	if err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	if buy.Status != common.StatusNew {
		t.Fatalf("status = %s, want NEW", buy.Status)
	}
	open, _ := g.GetOpenOrders(ctx)
	if len(open) != 1 || open[0].OrderID != buy.OrderID {
		t.Fatalf("open orders = %+v", open)
	}

	g.SetPrice(41500)
	if open, _ = g.GetOpenOrders(ctx); len(open) != 1 {
		t.Fatalf("order filled before price crossed")
	}

	g.SetPrice(40990)
	if open, _ = g.GetOpenOrders(ctx); len(open) != 0 {
		t.Fatalf("order should have filled, open=%+v", open)
	}
	trades, _ := g.GetTrades(ctx, 10)
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if !tr.IsBuyer || tr.OrderID != buy.OrderID || tr.Price != "41000" {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if fee := common.ParseDecimal(tr.Commission).InexactFloat64(); tr.CommissionAsset != "BTC" || math.Abs(fee-0.00001) > 1e-12 {
		t.Fatalf("buy commission = %s %s", tr.Commission, tr.CommissionAsset)
	}
}

func TestMarketableLimitFillsImmediately(t *testing.T) {
	ctx := context.Background()
	g := New(Config{InitialPrice: 42000})

	sell, err := g.CreateLimitOrder(ctx, common.SideSell, 41000, 0.01)
	if err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	if sell.Status != common.StatusFilled {
		t.Fatalf("status = %s, want FILLED", sell.Status)
	}
	trades, _ := g.GetTrades(ctx, 1)
	if len(trades) != 1 || trades[0].IsBuyer || trades[0].CommissionAsset != "USDT" {
		t.Fatalf("unexpected trades %+v", trades)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	g := New(Config{InitialPrice: 42000})
	err := g.CancelOrder(context.Background(), 123)
	if !common.IsUnknownOrder(err) {
		t.Fatalf("expected unknown order, got %v", err)
	}
}

func TestModifyOrderReturnsNewID(t *testing.T) {
	ctx := context.Background()
	g := New(Config{InitialPrice: 42000})
	orig, _ := g.CreateLimitOrder(ctx, common.SideSell, 43000, 0.01)

	next, err := g.ModifyOrder(ctx, orig.OrderID, common.SideSell, 43500, 0.01)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if next.OrderID == orig.OrderID {
		t.Fatal("modify must yield a new order id")
	}
	if _, err := g.ModifyOrder(ctx, orig.OrderID, common.SideSell, 44000, 0.01); !common.IsUnknownOrder(err) {
		t.Fatalf("old id should be gone, got %v", err)
	}
	open, _ := g.GetOpenOrders(ctx)
	if len(open) != 1 || open[0].Price != "43500" {
		t.Fatalf("open = %+v", open)
	}
	if st := g.Stats(); st.Modifies != 2 || st.Creates != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestInsufficientBalance(t *testing.T) {
	g := New(Config{InitialPrice: 42000, QuoteBalance: 100})
	_, err := g.CreateLimitOrder(context.Background(), common.SideBuy, 40000, 1)
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2010 {
		t.Fatalf("expected -2010, got %v", err)
	}
}

func TestGetTradesLimitKeepsNewest(t *testing.T) {
	ctx := context.Background()
	g := New(Config{InitialPrice: 42000})
	for i := 0; i < 5; i++ {
		if _, err := g.CreateMarketOrder(ctx, common.SideBuy, 0.001); err != nil {
			t.Fatalf("CreateMarketOrder: %v", err)
		}
	}
	trades, _ := g.GetTrades(ctx, 2)
	if len(trades) != 2 {
		t.Fatalf("len = %d", len(trades))
	}
	if trades[0].ID >= trades[1].ID || trades[0].Time >= trades[1].Time {
		t.Fatalf("trades not ascending: %+v", trades)
	}
	all, _ := g.GetTrades(ctx, 0)
	if trades[1].ID != all[len(all)-1].ID {
		t.Fatal("limit should keep the newest trades")
	}
}

func TestAccountReflectsLockedFunds(t *testing.T) {
	ctx := context.Background()
	g := New(Config{InitialPrice: 42000, QuoteBalance: 1000, BaseBalance: 1})
	if _, err := g.CreateLimitOrder(ctx, common.SideBuy, 40000, 0.01); err != nil {
		t.Fatal(err)
	}
	info, _ := g.GetAccount(ctx)
	usdt := info.Balance("USDT")
	if usdt.LockedDecimal().String() != "400" || usdt.FreeDecimal().String() != "600" {
		t.Fatalf("usdt = %+v", usdt)
	}
}
