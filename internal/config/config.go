package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Uniswap V3 deployment on Polygon PoS.
const (
	DefaultChainID         = 137
	DefaultFactory         = "0x1F98431c8aD98523631AE4a59f267346ea31F984"
	DefaultPositionManager = "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"
	DefaultSwapRouter      = "0xE592427A0AEce92De3Edee1F18E0157C05861564"
	DefaultQuoter          = "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"
)

// Config holds configuration values loaded from .env, flags, env, or config file.
type Config struct {
	RPCURL     string
	PrivateKey string
	ChainID    int64

	PositionManager string
	Factory         string
	SwapRouter      string
	Quoter          string
	FeeTiers        []string

	TickWindow         int
	SlippageBps        int
	Deadline           time.Duration
	MaxFeeGwei         int64
	MaxPriorityFeeGwei int64
	ConfirmTimeout     time.Duration
	PollInterval       time.Duration

	PGDSN         string
	Journal       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	Listen        string

	LogLevel string
}

// Contracts are the parsed periphery addresses.
type Contracts struct {
	Factory         common.Address
	PositionManager common.Address
	SwapRouter      common.Address
	Quoter          common.Address
	FeeTiers        []uint32
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("LPEXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-id", int64(DefaultChainID))
	v.SetDefault("position-manager", DefaultPositionManager)
	v.SetDefault("factory", DefaultFactory)
	v.SetDefault("swap-router", DefaultSwapRouter)
	v.SetDefault("quoter", DefaultQuoter)
	v.SetDefault("fee-tiers", "500,3000,10000")
	v.SetDefault("tick-window", 2)
	v.SetDefault("slippage-bps", 50)
	v.SetDefault("deadline", 20*time.Minute)
	v.SetDefault("max-fee-gwei", int64(110))
	v.SetDefault("max-priority-fee-gwei", int64(26))
	v.SetDefault("confirm-timeout", 5*time.Minute)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("journal", "./data/executions.jsonl")
	v.SetDefault("redis-db", 0)
	v.SetDefault("lock-ttl", 30*time.Minute)
	v.SetDefault("listen", ":8080")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:             v.GetString("rpc"),
		PrivateKey:         v.GetString("private-key"),
		ChainID:            v.GetInt64("chain-id"),
		PositionManager:    v.GetString("position-manager"),
		Factory:            v.GetString("factory"),
		SwapRouter:         v.GetString("swap-router"),
		Quoter:             v.GetString("quoter"),
		FeeTiers:           getStringSlice(v, "fee-tiers"),
		TickWindow:         v.GetInt("tick-window"),
		SlippageBps:        v.GetInt("slippage-bps"),
		Deadline:           v.GetDuration("deadline"),
		MaxFeeGwei:         v.GetInt64("max-fee-gwei"),
		MaxPriorityFeeGwei: v.GetInt64("max-priority-fee-gwei"),
		ConfirmTimeout:     v.GetDuration("confirm-timeout"),
		PollInterval:       v.GetDuration("poll-interval"),
		PGDSN:              v.GetString("pg-dsn"),
		Journal:            v.GetString("journal"),
		RedisAddr:          v.GetString("redis-addr"),
		RedisPassword:      v.GetString("redis-password"),
		RedisDB:            v.GetInt("redis-db"),
		LockTTL:            v.GetDuration("lock-ttl"),
		Listen:             v.GetString("listen"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings needed to talk to the chain.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if _, err := c.Contracts(); err != nil {
		return err
	}
	if c.TickWindow <= 0 {
		return fmt.Errorf("tick window must be positive")
	}
	if c.SlippageBps <= 0 || c.SlippageBps >= 10000 {
		return fmt.Errorf("slippage bps must be in [1, 10000)")
	}
	if c.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if c.MaxFeeGwei <= 0 || c.MaxPriorityFeeGwei <= 0 {
		return fmt.Errorf("gas fees must be positive")
	}
	if c.MaxPriorityFeeGwei > c.MaxFeeGwei {
		return fmt.Errorf("max priority fee %d gwei exceeds max fee %d gwei", c.MaxPriorityFeeGwei, c.MaxFeeGwei)
	}
	return nil
}

// ValidateSigner additionally requires a signing key.
func (c Config) ValidateSigner() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return fmt.Errorf("private key is required")
	}
	return nil
}

// Contracts parses the periphery addresses and fee tiers.
func (c Config) Contracts() (Contracts, error) {
	addrs, err := ParseAddresses([]string{c.Factory, c.PositionManager, c.SwapRouter, c.Quoter})
	if err != nil {
		return Contracts{}, err
	}
	if len(addrs) != 4 {
		return Contracts{}, fmt.Errorf("factory, position manager, swap router and quoter addresses are required")
	}
	tiers, err := ParseFeeTiers(c.FeeTiers)
	if err != nil {
		return Contracts{}, err
	}
	return Contracts{
		Factory:         addrs[0],
		PositionManager: addrs[1],
		SwapRouter:      addrs[2],
		Quoter:          addrs[3],
		FeeTiers:        tiers,
	}, nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseFeeTiers converts fee tiers in hundredths of a bip.
func ParseFeeTiers(inputs []string) ([]uint32, error) {
	tiers := make([]uint32, 0, len(inputs))
	for _, input := range inputs {
		fee, err := strconv.ParseUint(strings.TrimSpace(input), 10, 24)
		if err != nil || fee == 0 {
			return nil, fmt.Errorf("invalid fee tier: %s", input)
		}
		tiers = append(tiers, uint32(fee))
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one fee tier is required")
	}
	return tiers, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
