// Package config loads environment-driven settings and the YAML pair file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"pairtrader/internal/trade"
	"pairtrader/pkg/exchanges/common"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	Port string

	// Venue credentials
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	KuCoinAPIKey     string
	KuCoinAPISecret  string
	KuCoinPassphrase string

	FTXAPIKey    string
	FTXAPISecret string

	// Signal detection
	EnableSignals   bool
	SpreadThreshold float64
	SignalCooldown  time.Duration

	// Pair definitions
	PairsPath string

	// Database
	DBPath string

	// Auth
	JWTSecret string
	AdminKey  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		KuCoinAPIKey:     os.Getenv("KUCOIN_API_KEY"),
		KuCoinAPISecret:  os.Getenv("KUCOIN_API_SECRET"),
		KuCoinPassphrase: os.Getenv("KUCOIN_PASSPHRASE"),
		FTXAPIKey:        os.Getenv("FTX_API_KEY"),
		FTXAPISecret:     os.Getenv("FTX_API_SECRET"),
		EnableSignals:    getEnv("ENABLE_SIGNALS", "false") == "true",
		SpreadThreshold:  getEnvFloat("SPREAD_THRESHOLD", 0.002),
		SignalCooldown:   getEnvDuration("SIGNAL_COOLDOWN", time.Minute),
		PairsPath:        getEnv("PAIRS_PATH", "./pairs.yaml"),
		DBPath:           getEnv("DB_PATH", "./data/pairtrader.db"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		AdminKey:         os.Getenv("ADMIN_KEY"),
	}, nil
}

// Creds returns the configured credentials keyed by venue name.
func (c *Config) Creds() map[string]common.Credentials {
	return map[string]common.Credentials{
		"binance": {Key: c.BinanceAPIKey, Secret: c.BinanceAPISecret},
		"kucoin":  {Key: c.KuCoinAPIKey, Secret: c.KuCoinAPISecret, Passphrase: c.KuCoinPassphrase},
		"ftx":     {Key: c.FTXAPIKey, Secret: c.FTXAPISecret},
	}
}

// Leg is one leg of a pair as declared in the YAML file. Decimal fields are
// written as strings to avoid float re-rounding.
type Leg struct {
	Venue          string          `yaml:"venue"`
	Market         string          `yaml:"market"`
	Symbol         string          `yaml:"symbol"`
	Base           string          `yaml:"base"`
	Quote          string          `yaml:"quote"`
	Side           string          `yaml:"side"`
	Size           decimal.Decimal `yaml:"size"`
	QuoteAmount    decimal.Decimal `yaml:"quote_amount"`
	Leverage       int             `yaml:"leverage"`
	PricePrecision int32           `yaml:"price_precision"`
	QtyPrecision   int32           `yaml:"qty_precision"`
	TickSize       decimal.Decimal `yaml:"tick_size"`
	MinNotional    decimal.Decimal `yaml:"min_notional"`
}

// PairFile is the on-disk pair declaration format.
type PairFile struct {
	Pairs []struct {
		Name string `yaml:"name"`
		Legs []Leg  `yaml:"legs"`
	} `yaml:"pairs"`
}

// NamedPair couples a pair with its declared name, which keys its
// persisted state.
type NamedPair struct {
	Name string
	Pair *trade.Pair
}

// LoadPairs parses the YAML pair file into linked trade pairs.
func LoadPairs(path string) ([]NamedPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	return ParsePairs(raw)
}

// ParsePairs decodes pair declarations and validates each leg.
func ParsePairs(raw []byte) ([]NamedPair, error) {
	var file PairFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}

	pairs := make([]NamedPair, 0, len(file.Pairs))
	for _, p := range file.Pairs {
		if len(p.Legs) != 2 {
			return nil, fmt.Errorf("pair %q: need exactly 2 legs, got %d", p.Name, len(p.Legs))
		}
		a, err := p.Legs[0].toConfig()
		if err != nil {
			return nil, fmt.Errorf("pair %q leg 0: %w", p.Name, err)
		}
		b, err := p.Legs[1].toConfig()
		if err != nil {
			return nil, fmt.Errorf("pair %q leg 1: %w", p.Name, err)
		}
		pair, err := trade.NewPair(p.Name, a, b)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, NamedPair{Name: p.Name, Pair: pair})
	}
	return pairs, nil
}

func (l Leg) toConfig() (*trade.Config, error) {
	side := common.Side(strings.ToUpper(l.Side))
	if side != common.SideBuy && side != common.SideSell {
		return nil, fmt.Errorf("unknown side %q", l.Side)
	}
	market := common.MarketType(strings.ToUpper(l.Market))
	if market != common.MarketSpot && market != common.MarketFutures {
		return nil, fmt.Errorf("unknown market %q", l.Market)
	}
	switch l.Venue {
	case "binance", "kucoin", "ftx":
	default:
		return nil, fmt.Errorf("unknown venue %q", l.Venue)
	}
	if l.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	lev := l.Leverage
	if lev < 1 {
		lev = 1
	}
	return &trade.Config{
		Venue:               l.Venue,
		Market:              market,
		Symbol:              l.Symbol,
		Base:                l.Base,
		Quote:               l.Quote,
		Side:                side,
		Type:                common.OrderTypeMarket,
		Size:                l.Size,
		QuoteAmount:         l.QuoteAmount,
		OriginalQuoteAmount: l.QuoteAmount,
		Leverage:            lev,
		PricePrecision:      l.PricePrecision,
		QtyPrecision:        l.QtyPrecision,
		TickSize:            l.TickSize,
		MinNotional:         l.MinNotional,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
