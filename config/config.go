package config

import (
	"encoding/hex"
	"nhbchain/crypto"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress  string       `toml:"ListenAddress"`
	RPCAddress     string       `toml:"RPCAddress"`
	DataDir        string       `toml:"DataDir"`
	ValidatorKey   string       `toml:"ValidatorKey"`
	BootstrapPeers []string     `toml:"BootstrapPeers"` // THE MISSING FIELD
	Market         MarketConfig `toml:"Market"`
}

// MarketConfig configures the market-and-agreement subsystem: its
// subscription store backend, gossip fan-out, and default agreement
// expiration window.
type MarketConfig struct {
	// StoreDriver selects the subscription store backend: "memory" for a
	// single-process node, "postgres" or "sqlite" for the gorm-backed
	// storage/marketdb store.
	StoreDriver string `toml:"StoreDriver"`
	// DatabaseURL is the gorm DSN used when StoreDriver is "postgres" or
	// "sqlite".
	DatabaseURL string `toml:"DatabaseURL"`
	// SweepInterval is how often expired subscriptions are swept, as a
	// Go duration string (e.g. "30s").
	SweepInterval string `toml:"SweepInterval"`
	// DefaultAgreementTTL is the validTo window applied when a
	// create_agreement call omits validTo, as a Go duration string; an
	// Agreement still in Proposal or Pending state at validTo expires.
	DefaultAgreementTTL string `toml:"DefaultAgreementTTL"`
	// GossipTopics lists extra overlay topics for offer discovery. marketd
	// only logs them at startup; discovery uses its two fixed topics.
	GossipTopics []string `toml:"GossipTopics"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.ValidatorKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":6001",
		RPCAddress:    ":8080",
		DataDir:       "./nhb-data",
		ValidatorKey:  hex.EncodeToString(key.Bytes()),
		// Initialize with an empty list of peers by default.
		BootstrapPeers: []string{},
		Market: MarketConfig{
			StoreDriver:         "memory",
			SweepInterval:       "30s",
			DefaultAgreementTTL: "10m",
		},
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
