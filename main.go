package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"pairtrader/internal/api"
	"pairtrader/internal/connector"
	"pairtrader/internal/events"
	"pairtrader/internal/feed"
	"pairtrader/internal/history"
	"pairtrader/internal/orchestrator"
	detector "pairtrader/internal/signal"
	"pairtrader/pkg/config"
	"pairtrader/pkg/db"
	"pairtrader/pkg/exchanges/common"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	store := db.NewCarryStore(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pairs, err := config.LoadPairs(cfg.PairsPath)
	if err != nil {
		log.Printf("pairs file not loaded (%v); manual trades only", err)
	}
	for _, np := range pairs {
		if err := store.LoadCarries(ctx, np.Name, np.Pair); err != nil {
			log.Fatalf("restore carries for %s: %v", np.Name, err)
		}
	}

	bus := events.NewBus()
	hist := history.NewLog()
	queue := orchestrator.NewQueue(16)
	orch := orchestrator.New(queue, hist, bus, connector.Options{})
	for _, np := range pairs {
		orch.RegisterPair(np.Pair)
	}
	go orch.Run(ctx)

	creds := cfg.Creds()

	if cfg.EnableSignals {
		for _, np := range pairs {
			startDetector(ctx, queue, bus, cfg, creds, np)
		}
	}

	server := api.NewServer(bus, hist, orch, queue, creds, cfg.JWTSecret, cfg.AdminKey)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()
	log.Printf("pairtrader up on :%s with %d pair(s)", cfg.Port, len(pairs))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()

	// Persist carries so the next run continues where this one stopped.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	for _, np := range pairs {
		if err := store.SaveCarries(saveCtx, np.Name, np.Pair); err != nil {
			log.Printf("save carries for %s: %v", np.Name, err)
		}
	}
}

// startDetector subscribes both legs' price feeds and runs a spread
// detector for the pair.
func startDetector(ctx context.Context, queue *orchestrator.Queue, bus *events.Bus, cfg *config.Config, creds map[string]common.Credentials, np config.NamedPair) {
	var channels []<-chan feed.Tick
	for _, leg := range np.Pair.Legs() {
		src := buildFeed(leg.Venue, leg.Market, cfg.BinanceTestnet)
		if src == nil {
			log.Printf("no feed for venue %s, skipping detector for %s", leg.Venue, np.Name)
			return
		}
		ch, _, err := src.Subscribe(ctx, leg.Symbol)
		if err != nil {
			log.Printf("subscribe %s %s: %v", leg.Venue, leg.Symbol, err)
			return
		}
		channels = append(channels, ch)
	}

	det := detector.New(queue, bus, detector.Config{
		Pair:      np.Pair,
		Threshold: decimal.NewFromFloat(cfg.SpreadThreshold),
		Cooldown:  cfg.SignalCooldown,
		Creds:     creds,
	})
	go det.Run(ctx, channels...)
	log.Printf("detector running for pair %s", np.Name)
}

func buildFeed(venue string, market common.MarketType, binanceTestnet bool) feed.Source {
	switch venue {
	case "binance":
		return feed.NewBinance(market, binanceTestnet)
	case "kucoin":
		return feed.NewKuCoin(market)
	case "ftx":
		return feed.NewFTX(market)
	}
	return nil
}
