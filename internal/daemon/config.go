// Package daemon holds the rewardd runtime configuration: a TOML file at
// ~/.rewardd/config.toml layered over compiled-in defaults.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonview/rewards/internal/logging"
)

// Config is the full rewardd configuration.
type Config struct {
	API         APIConfig              `toml:"api"`
	Store       StoreConfig            `toml:"store"`
	Logging     logging.Config         `toml:"logging"`
	Rewards     RewardsConfig          `toml:"rewards"`
	Referral    ReferralConfig         `toml:"referral"`
	Payments    PaymentsConfig         `toml:"payments"`
	Withdrawals WithdrawalsConfig      `toml:"withdrawals"`
	RateLimit   map[string]ActionLimit `toml:"ratelimit"`
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type RewardsConfig struct {
	DailyBonus    int64  `toml:"daily_bonus"`
	DailyTimezone string `toml:"daily_timezone"`
	PointsPerTON  int64  `toml:"points_per_ton"`
}

type ReferralConfig struct {
	Base        int64     `toml:"base"`
	Multipliers []float64 `toml:"multipliers"`
	MaxDepth    int       `toml:"max_depth"`
}

type PaymentsConfig struct {
	PollInterval   string `toml:"poll_interval"`
	FinalityDepth  int    `toml:"finality_depth"`
	MinInboundNano int64  `toml:"min_inbound_nano"`
	PurchaseTTL    string `toml:"purchase_ttl"`
	DepositAddress string `toml:"deposit_address"` // inbound purchases pay here
}

type WithdrawalsConfig struct {
	MinPoints      int64  `toml:"min_points"`
	FeeBasisPoints int64  `toml:"fee_basis_points"`
	IntentTTL      string `toml:"intent_ttl"`
}

// ActionLimit throttles one guarded action category.
type ActionLimit struct {
	PerHour float64 `toml:"per_hour"`
	Burst   int     `toml:"burst"`
}

// DefaultConfig returns the full stock configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8790,
		},
		Store: StoreConfig{
			Path: filepath.Join(baseDir(), "rewards.db"),
		},
		Logging: logging.DefaultConfig(),
		Rewards: RewardsConfig{
			DailyBonus:    10,
			DailyTimezone: "UTC",
			PointsPerTON:  100,
		},
		Referral: ReferralConfig{
			Base:        50,
			Multipliers: []float64{1.0, 0.5, 0.25},
			MaxDepth:    3,
		},
		Payments: PaymentsConfig{
			PollInterval:   "15s",
			FinalityDepth:  3,
			MinInboundNano: 100_000_000,
			PurchaseTTL:    "5m",
		},
		Withdrawals: WithdrawalsConfig{
			MinPoints:      200,
			FeeBasisPoints: 150,
			IntentTTL:      "30m",
		},
		RateLimit: map[string]ActionLimit{
			"watch":    {PerHour: 30, Burst: 10},
			"daily":    {PerHour: 5, Burst: 5},
			"withdraw": {PerHour: 5, Burst: 2},
			"purchase": {PerHour: 10, Burst: 5},
		},
	}
}

// DefaultPath returns ~/.rewardd/config.toml.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.toml")
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".rewardd")
}

// Load reads path over the defaults. A missing file yields the defaults
// unchanged; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config, creating the directory if needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// PollIntervalDuration parses the poll interval, falling back to 15s.
func (p PaymentsConfig) PollIntervalDuration() time.Duration {
	return parseDuration(p.PollInterval, 15*time.Second)
}

// PurchaseTTLDuration parses the purchase intent lifetime, default 5m.
func (p PaymentsConfig) PurchaseTTLDuration() time.Duration {
	return parseDuration(p.PurchaseTTL, 5*time.Minute)
}

// IntentTTLDuration parses the withdrawal settlement window, default 30m.
func (w WithdrawalsConfig) IntentTTLDuration() time.Duration {
	return parseDuration(w.IntentTTL, 30*time.Minute)
}

// Timezone resolves the daily-bonus timezone, default UTC.
func (r RewardsConfig) Timezone() *time.Location {
	loc, err := time.LoadLocation(r.DailyTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
