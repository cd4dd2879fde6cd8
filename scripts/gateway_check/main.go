package main

import (
	"context"
	"log"
	"os"
	"time"

	"btc-grid-core/internal/pairing"
	"btc-grid-core/pkg/config"
	exspot "btc-grid-core/pkg/exchanges/binance/spot"
	exchange "btc-grid-core/pkg/exchanges/common"
)

// gateway_check exercises the spot gateway the server uses against the
// configured environment and prints what the grid endpoints would see.
//
// Usage:
//
//	go run ./scripts/gateway_check
//
// Environment (same as the server):
//
//	BINANCE_TESTNET_API_KEY / BINANCE_TESTNET_SECRET_KEY
//	BINANCE_PROD_API_KEY / BINANCE_PROD_SECRET_KEY   (with CHECK_USE_PRODUCTION=true)
//
// Behaviour:
//
//	CHECK_USE_PRODUCTION  (default "false")
//	CHECK_PLACE_ORDERS    (default "false") places a far-from-market limit
//	                      buy, modifies it once, then cancels it.
func main() {
	log.Println("=== Gateway check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	useProduction := getenv("CHECK_USE_PRODUCTION", "false") == "true"
	placeOrders := getenv("CHECK_PLACE_ORDERS", "false") == "true"
	log.Printf("Config: symbol=%s production=%v placeOrders=%v", cfg.Symbol, useProduction, placeOrders)

	envs := exchange.Environments{
		Testnet: exspot.New(exspot.Config{
			APIKey:     cfg.TestnetAPIKey,
			APISecret:  cfg.TestnetAPISecret,
			Testnet:    true,
			Symbol:     cfg.Symbol,
			RecvWindow: cfg.RecvWindow,
		}),
	}
	if cfg.HasProduction() {
		envs.Production = exspot.New(exspot.Config{
			APIKey:     cfg.ProdAPIKey,
			APISecret:  cfg.ProdAPISecret,
			Symbol:     cfg.Symbol,
			RecvWindow: cfg.RecvWindow,
		})
	}

	gw, err := envs.ForEnvironment(useProduction)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	price := checkReads(gw)
	if !placeOrders {
		log.Println("Skip placing orders (CHECK_PLACE_ORDERS=false)")
	} else if price > 0 {
		checkOrderLifecycle(gw, price)
	}

	log.Println("=== Gateway check finished ===")
}

func checkReads(gw exchange.Gateway) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	price, err := gw.GetPrice(ctx)
	if err != nil {
		log.Printf("GetPrice error: %v", err)
	} else {
		log.Printf("Price=%.2f", price)
	}

	account, err := gw.GetAccount(ctx)
	if err != nil {
		log.Printf("GetAccount error: %v", err)
	} else {
		log.Printf("USDT=%s BTC=%s", account.Balance("USDT").Total(), account.Balance("BTC").Total())
	}

	orders, err := gw.GetOpenOrders(ctx)
	if err != nil {
		log.Printf("GetOpenOrders error: %v", err)
	} else {
		pairs, unpaired := pairing.MatchOpenPairs(orders)
		log.Printf("Open orders=%d grid pairs=%d unpaired=%d", len(orders), len(pairs), len(unpaired))
		for _, p := range pairs {
			log.Printf("  pair buy=%s sell=%s qty=%s est=%.2f USD", p.BuyOrder.Price, p.SellOrder.Price, p.BuyOrder.OrigQty, p.ProfitUSD)
		}
	}

	trades, err := gw.GetTrades(ctx, 100)
	if err != nil {
		log.Printf("GetTrades error: %v", err)
	} else {
		summary := pairing.Summarize(pairing.MatchCompletedPairs(trades))
		log.Printf("Trades=%d completed pairs=%d net=%.4f USD avg=%.3f%%",
			len(trades), summary.TotalTrades, summary.TotalNetProfit, summary.AverageProfitPercent)
	}
	return price
}

// checkOrderLifecycle rests a small buy 20% under market so it cannot fill.
func checkOrderLifecycle(gw exchange.Gateway, price float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	const qty = 0.0002
	limit := float64(int(price*0.8*100)) / 100
	created, err := gw.CreateLimitOrder(ctx, exchange.SideBuy, limit, qty)
	if err != nil {
		log.Printf("CreateLimitOrder error (acceptable, e.g. insufficient balance): %v", err)
		return
	}
	log.Printf("CreateLimitOrder OK id=%d price=%s", created.OrderID, created.Price)

	orderID := created.OrderID
	modified, err := gw.ModifyOrder(ctx, orderID, exchange.SideBuy, limit-10, qty)
	if err != nil {
		log.Printf("ModifyOrder error: %v", err)
	} else {
		log.Printf("ModifyOrder OK id=%d price=%s", modified.OrderID, modified.Price)
		orderID = modified.OrderID
	}

	if err := gw.CancelOrder(ctx, orderID); err != nil {
		log.Printf("CancelOrder error (may be filled already): %v", err)
	} else {
		log.Println("CancelOrder OK")
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
