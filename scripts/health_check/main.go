package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"btc-grid-core/pkg/config"
	"btc-grid-core/pkg/db"
	exspot "btc-grid-core/pkg/exchanges/binance/spot"

	jsoniter "github.com/json-iterator/go"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

const (
	statusHealthy   = "HEALTHY"
	statusDegraded  = "DEGRADED"
	statusUnhealthy = "UNHEALTHY"
)

func main() {
	fmt.Println("🏥 BTC Grid Health Check")
	fmt.Println("========================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{
		Overall: statusHealthy,
		Services: []HealthStatus{
			checkConfig(cfg),
			checkDatabase(ctx, cfg),
			checkBinance(ctx, cfg),
			checkAPIServer(ctx, cfg),
		},
	}

	for _, svc := range report.Services {
		if svc.Status == statusUnhealthy {
			report.Overall = statusUnhealthy
			break
		} else if svc.Status == statusDegraded {
			report.Overall = statusDegraded
		}
	}

	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		icon := "✓"
		switch svc.Status {
		case statusUnhealthy:
			icon = "✗"
		case statusDegraded:
			icon = "⚠"
		}
		fmt.Printf("%s %-20s %s %s\n", icon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		out, _ := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}

	if report.Overall == statusUnhealthy {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: statusHealthy, Timestamp: time.Now()}
}

func checkConfig(cfg *config.Config) HealthStatus {
	status := newStatus("Configuration")
	if err := cfg.Validate(); err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
		return status
	}
	status.Message = fmt.Sprintf("Port=%s Symbol=%s DryRun=%v", cfg.Port, cfg.Symbol, cfg.DryRun)
	return status
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Database")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	defer database.Close()

	if err := database.Ping(ctx); err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Ping failed: %v", err)
		return status
	}
	status.Message = "Connected (" + cfg.DBPath + ")"
	return status
}

func checkBinance(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Binance API")
	if cfg.DryRun && cfg.DryRunInitialPrice > 0 {
		status.Message = "Skipped (paper venue with fixed price)"
		return status
	}

	client := exspot.New(exspot.Config{Testnet: !cfg.DryRun, Symbol: cfg.Symbol})
	serverTime, err := client.GetServerTime(ctx)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	network := "MAINNET"
	if client.Testnet() {
		network = "TESTNET"
	}
	status.Message = fmt.Sprintf("Connected to %s (time=%d)", network, serverTime)

	if !cfg.DryRun && cfg.TestnetAPIKey == "" {
		status.Status = statusDegraded
		status.Message += ", no testnet API key"
	}
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("API Server")
	url := fmt.Sprintf("http://localhost:%s/health", cfg.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = statusDegraded
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}

	var body struct {
		TrailingOrders int `json:"trailing_orders"`
	}
	if err := jsoniter.NewDecoder(resp.Body).Decode(&body); err != nil {
		status.Status = statusDegraded
		status.Message = fmt.Sprintf("Bad body: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("Running (%d trailing orders)", body.TrailingOrders)
	return status
}
