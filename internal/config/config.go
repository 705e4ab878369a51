package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Ledger struct {
		RPCURL          string `yaml:"rpc_url"`
		PrivateKey      string `yaml:"private_key"`
		ContractAddress string `yaml:"contract_address"`
		ChainID         int64  `yaml:"chain_id"`
		// RewardRatePerPoint fixes the tokens paid per quiz point. The
		// amount credited to an attempt is stamped once at settlement
		// and never recomputed, so changing the rate only affects
		// future settlements.
		RewardRatePerPoint int64  `yaml:"reward_rate_per_point"`
		ConfirmTimeout     string `yaml:"confirm_timeout"`
		ConfirmInterval    string `yaml:"confirm_interval"`
	} `yaml:"ledger"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty
// or malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
