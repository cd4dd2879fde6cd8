package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"btc-grid-core/internal/api"
	"btc-grid-core/internal/events"
	"btc-grid-core/internal/monitor"
	"btc-grid-core/internal/notify"
	"btc-grid-core/internal/persistence"
	"btc-grid-core/internal/reconciliation"
	"btc-grid-core/internal/trailing"
	"btc-grid-core/pkg/cache"
	"btc-grid-core/pkg/config"
	"btc-grid-core/pkg/db"
	exspot "btc-grid-core/pkg/exchanges/binance/spot"
	exchange "btc-grid-core/pkg/exchanges/common"
	"btc-grid-core/pkg/exchanges/paper"
	"btc-grid-core/pkg/i18n"
	"btc-grid-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	logCloser := logger.Setup(logger.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logCloser.Close()

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	if cfg.LogFile != "" {
		log.Printf(i18n.Get("LogFileEnabled"), cfg.LogFile)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf(i18n.Get("ConfigInvalid"), err)
	}
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port, cfg.Symbol)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	sysMetrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()

	// Exchange gateways
	gateways := buildGateways(cfg)
	if gateways.HasProduction() {
		log.Println(i18n.Get("ProductionEnabled"))
	} else {
		log.Println(i18n.Get("ProductionDisabled"))
	}

	// Price cache in front of the testnet (or paper) price
	var store cache.PriceStore
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisPriceStore(cfg.RedisAddr, cfg.PriceCacheTTL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := redisStore.Ping(pingCtx)
		pingCancel()
		if err == nil {
			log.Printf(i18n.Get("PriceCacheRedis"), cfg.RedisAddr, cfg.PriceCacheTTL)
			store = redisStore
			defer redisStore.Close()
		} else {
			log.Printf(i18n.Get("PriceCacheRedisError"), err)
			_ = redisStore.Close()
		}
	}
	if store == nil {
		memStore := cache.NewShardedPriceCache(cfg.PriceCacheTTL)
		go sweepPriceCache(ctx, memStore, cfg.PriceCacheTTL)
		log.Printf(i18n.Get("PriceCacheMemory"), cfg.PriceCacheTTL)
		store = memStore
	}
	prices := cache.NewCachedPriceSource(cfg.Symbol, gateways.Testnet, store)

	// Metrics and alerts from bus events
	(&monitor.Watcher{Bus: bus, Metrics: sysMetrics, Alerts: monitor.LogAlertSink{}}).Start(ctx)

	// Audit trail
	writer := persistence.NewBatchWriter(database.DB, 100, 2*time.Second)
	persistence.NewAuditLog(bus, writer).Start(ctx)
	log.Println(i18n.Get("AuditLogStarted"))

	// Notifications
	tokens := notify.NewTokenStore(database)
	channels := []notify.Channel{notify.BusChannel{Bus: bus}, notify.LogChannel{}}
	if cfg.NotifyWebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.NotifyWebhookURL, tokens))
		log.Printf(i18n.Get("WebhookEnabled"), cfg.NotifyWebhookURL)
	} else {
		log.Println(i18n.Get("WebhookDisabled"))
	}
	dispatcher := notify.NewDispatcher(sysMetrics, channels...)

	// Trailing registry and repricing loop
	registry := trailing.NewRegistry()
	trailingMonitor := trailing.NewMonitor(registry, prices, gateways, trailing.Options{
		Interval: cfg.TrailingInterval,
		Deadband: cfg.TrailingDeadband,
		Bus:      bus,
		Metrics:  sysMetrics,
	})
	trailingMonitor.Start(ctx)
	log.Printf(i18n.Get("TrailingStarted"), cfg.TrailingInterval)

	// Fill / cancellation detection
	fillGateway, err := gateways.ForEnvironment(cfg.FillUseProduction)
	if err != nil {
		log.Printf("⚠️ fill monitor: %v; watching testnet instead", err)
		fillGateway = gateways.Testnet
	} else if cfg.FillUseProduction {
		log.Println(i18n.Get("FillMonitorProduction"))
	}
	fills := reconciliation.NewService(fillGateway, dispatcher, reconciliation.Options{
		Interval:   cfg.FillInterval,
		TradeLimit: cfg.FillTradeLimit,
		Bus:        bus,
		Metrics:    sysMetrics,
	})
	fills.Start(ctx)
	log.Printf(i18n.Get("FillMonitorStarted"), cfg.FillInterval)

	// API
	server := api.NewServer(api.Deps{
		Gateways: gateways,
		Prices:   prices,
		Registry: registry,
		Bus:      bus,
		DB:       database,
		Tokens:   tokens,
		Notifier: dispatcher,
		Metrics:  sysMetrics,
		Audit:    writer,
	}, api.Options{
		Symbol:            cfg.Symbol,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiry:         cfg.JWTExpiry,
		AppSecret:         cfg.AppSecret,
		HistoryTradeLimit: cfg.HistoryTradeLimit,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		Meta: api.SystemMeta{
			DryRun:     cfg.DryRun,
			Production: gateways.HasProduction(),
			Version:    buildVersion,
		},
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf(i18n.Get("APIServerError"), err)
	}
	cancel()
	if err := writer.Close(); err != nil {
		log.Printf("⚠️ audit flush: %v", err)
	}
	log.Println(i18n.Get("ShutdownComplete"))
}

// buildGateways returns the paper venue in DRY_RUN, otherwise the signed
// testnet client plus production when its keys are configured.
func buildGateways(cfg *config.Config) exchange.Environments {
	if cfg.DryRun {
		log.Println(i18n.Get("DryRunMode"))
		paperCfg := paper.Config{
			Symbol:       cfg.Symbol,
			InitialPrice: cfg.DryRunInitialPrice,
			FeeRate:      cfg.DryRunFeeRate,
		}
		if cfg.DryRunInitialPrice <= 0 {
			// Public ticker needs no keys.
			paperCfg.Feed = exspot.New(exspot.Config{Symbol: cfg.Symbol})
		}
		return exchange.Environments{Testnet: paper.New(paperCfg)}
	}

	envs := exchange.Environments{
		Testnet: exspot.New(exspot.Config{
			APIKey:     cfg.TestnetAPIKey,
			APISecret:  cfg.TestnetAPISecret,
			Testnet:    true,
			Symbol:     cfg.Symbol,
			RecvWindow: cfg.RecvWindow,
		}),
	}
	log.Printf(i18n.Get("TestnetGateway"), cfg.Symbol)
	if cfg.HasProduction() {
		envs.Production = exspot.New(exspot.Config{
			APIKey:     cfg.ProdAPIKey,
			APISecret:  cfg.ProdAPISecret,
			Symbol:     cfg.Symbol,
			RecvWindow: cfg.RecvWindow,
		})
	}
	return envs
}

// sweepPriceCache drops expired in-memory prices.
func sweepPriceCache(ctx context.Context, c *cache.ShardedPriceCache, ttl time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup(ttl)
		}
	}
}
