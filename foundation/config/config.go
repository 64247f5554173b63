// Package config loads the node's TOML configuration file. Command line
// flags and environment variables parsed in main override anything read
// here.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Node holds the [node] section.
type Node struct {
	APIPort     int    `mapstructure:"api_port"`
	NetworkPort int    `mapstructure:"network_port"`
	RPCPort     int    `mapstructure:"rpc_port"`
	DBPath      string `mapstructure:"db_path"`
	NoNetwork   bool   `mapstructure:"no_network"`
}

// Network holds the [network] section.
type Network struct {
	MaxPeers       int      `mapstructure:"max_peers"`
	BootstrapNodes []string `mapstructure:"bootstrap_nodes"`
	DNSSeeds       []string `mapstructure:"dns_seeds"`
}

// Consensus holds the [consensus] section.
type Consensus struct {
	MaxBlockTransactions int    `mapstructure:"max_block_transactions"`
	MaxBlockSizeBytes    uint32 `mapstructure:"max_block_size_bytes"`
	MinTransactionFee    uint64 `mapstructure:"min_transaction_fee_microunits"`
	TransactionExpiry    uint64 `mapstructure:"transaction_expiry_blocks"`
	CoinbaseMaturity     uint64 `mapstructure:"coinbase_maturity"`
}

// Security holds the [security] section.
type Security struct {
	MaxMempoolSize       int   `mapstructure:"max_mempool_size"`
	TransactionExpirySec int64 `mapstructure:"transaction_expiry_seconds"`
	EnableRateLimiting   bool  `mapstructure:"enable_rate_limiting"`
}

// Mining holds the [mining] section.
type Mining struct {
	Year1Reward             uint64  `mapstructure:"year_1_reward_microunits"`
	AnnualReductionPercent  uint8   `mapstructure:"annual_reduction_percent"`
	MinReward               uint64  `mapstructure:"min_reward_microunits"`
	BlocksPerYear           uint64  `mapstructure:"blocks_per_year"`
	EarlyAdopterBonusBlocks uint64  `mapstructure:"early_adopter_bonus_blocks"`
	EarlyAdopterMultiplier  float64 `mapstructure:"early_adopter_multiplier"`
	BootstrapPhaseBlocks    uint64  `mapstructure:"bootstrap_phase_blocks"`
	RewardLockPercent       uint8   `mapstructure:"mining_reward_lock_percent"`
	RewardLockBlocks        uint64  `mapstructure:"mining_reward_lock_blocks"`
	FeeBurnPercent          uint8   `mapstructure:"fee_burn_percent"`
	FeeTreasuryPercent      uint8   `mapstructure:"fee_treasury_percent"`
	FeeValidatorPercent     uint8   `mapstructure:"fee_validator_percent"`
	TargetBlockTime         uint64  `mapstructure:"target_block_time"`
	DifficultyInterval      uint64  `mapstructure:"difficulty_adjustment_interval"`
}

// Metrics holds the [metrics] section.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the full parsed configuration file.
type Config struct {
	Node      Node      `mapstructure:"node"`
	Network   Network   `mapstructure:"network"`
	Consensus Consensus `mapstructure:"consensus"`
	Security  Security  `mapstructure:"security"`
	Mining    Mining    `mapstructure:"mining"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

// Load reads the TOML file at path, filling in the documented defaults for
// any missing keys. An empty path returns pure defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.api_port", 8080)
	v.SetDefault("node.network_port", 9000)
	v.SetDefault("node.rpc_port", 9090)
	v.SetDefault("node.db_path", "zblock/quanta.db")
	v.SetDefault("node.no_network", false)

	v.SetDefault("network.max_peers", 125)
	v.SetDefault("network.bootstrap_nodes", []string{})
	v.SetDefault("network.dns_seeds", []string{})

	v.SetDefault("consensus.max_block_transactions", 2000)
	v.SetDefault("consensus.max_block_size_bytes", 1_048_576)
	v.SetDefault("consensus.min_transaction_fee_microunits", 100)
	v.SetDefault("consensus.transaction_expiry_blocks", 8640)
	v.SetDefault("consensus.coinbase_maturity", 0)

	v.SetDefault("security.max_mempool_size", 5000)
	v.SetDefault("security.transaction_expiry_seconds", 86400)
	v.SetDefault("security.enable_rate_limiting", true)

	v.SetDefault("mining.year_1_reward_microunits", 100_000_000)
	v.SetDefault("mining.annual_reduction_percent", 15)
	v.SetDefault("mining.min_reward_microunits", 5_000_000)
	v.SetDefault("mining.blocks_per_year", 3_153_600)
	v.SetDefault("mining.early_adopter_bonus_blocks", 100_000)
	v.SetDefault("mining.early_adopter_multiplier", 1.5)
	v.SetDefault("mining.bootstrap_phase_blocks", 315_360)
	v.SetDefault("mining.mining_reward_lock_percent", 50)
	v.SetDefault("mining.mining_reward_lock_blocks", 157_680)
	v.SetDefault("mining.fee_burn_percent", 70)
	v.SetDefault("mining.fee_treasury_percent", 20)
	v.SetDefault("mining.fee_validator_percent", 10)
	v.SetDefault("mining.target_block_time", 10)
	v.SetDefault("mining.difficulty_adjustment_interval", 10)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 2112)
}
