package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App     `json:"app"      toml:"app"`
		HTTP    `json:"http"     toml:"http"`
		Log     `json:"logger"   toml:"logger"`
		Chain   `json:"chain"    toml:"chain"`
		Storage `json:"storage"  toml:"storage"`
		Journal `json:"journal"  toml:"journal"`
		Mirror  `json:"mirror"   toml:"mirror"`
		Badges  `json:"badges"   toml:"badges"`
		Workers `json:"workers"  toml:"workers"`
		DB      `json:"db"       toml:"db"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"  env-default:"blue-carbon-registry"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME"  env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"     env-default:"false"`
	}

	HTTP struct {
		Port       string `json:"port"        toml:"port"        env:"HTTP_PORT"   env-default:"8080"`
		MirrorPort string `json:"mirror_port" toml:"mirror_port" env:"MIRROR_PORT" env-default:"8090"`
	}

	Log struct {
		Level string `json:"level" toml:"level" env:"LOG_LEVEL" env-default:"info"`
	}

	Chain struct {
		RPCURL              string        `json:"rpc_url"              toml:"rpc_url"              env:"CHAIN_RPC_URL"`
		Network             string        `json:"network"              toml:"network"              env:"CHAIN_NETWORK"              env-default:"testnet"`
		ExplorerBase        string        `json:"explorer_base"        toml:"explorer_base"        env:"CHAIN_EXPLORER_BASE"        env-default:"https://testnet.bscscan.com"`
		TreasuryAddress     string        `json:"treasury_address"     toml:"treasury_address"     env:"TREASURY_ADDRESS"`
		RegistryAddress     string        `json:"registry_address"     toml:"registry_address"     env:"REGISTRY_ADDRESS"     env-default:"blue_carbon_registry"`
		PoolContract        string        `json:"pool_contract"        toml:"pool_contract"        env:"POOL_CONTRACT"`
		WalletSeed          string        `json:"wallet_seed"          toml:"wallet_seed"          env:"WALLET_SEED"`
		DerivationIndex     uint32        `json:"derivation_index"     toml:"derivation_index"     env:"WALLET_DERIVATION_INDEX" env-default:"0"`
		ConfirmationTimeout time.Duration `json:"confirmation_timeout" toml:"confirmation_timeout" env:"CONFIRMATION_TIMEOUT" env-default:"2m"`
		ConfirmationPoll    time.Duration `json:"confirmation_poll"    toml:"confirmation_poll"    env:"CONFIRMATION_POLL"    env-default:"3s"`
		FallbackBalance     float64       `json:"fallback_balance"     toml:"fallback_balance"     env:"FALLBACK_BALANCE"     env-default:"5"`
	}

	Storage struct {
		Path             string `json:"path"               toml:"path"               env:"STORAGE_PATH"       env-default:"./data/registry"`
		InMemory         bool   `json:"in_memory"          toml:"in_memory"          env:"STORAGE_IN_MEMORY"  env-default:"false"`
		SeedDemoProjects bool   `json:"seed_demo_projects" toml:"seed_demo_projects" env:"SEED_DEMO_PROJECTS" env-default:"true"`
	}

	Journal struct {
		SimulatedDelay time.Duration `json:"simulated_delay" toml:"simulated_delay" env:"SIMULATED_DELAY" env-default:"2s"`
	}

	Mirror struct {
		BaseURL        string        `json:"base_url"         toml:"base_url"         env:"TXN_API_BASE"`
		SyncInterval   time.Duration `json:"sync_interval"    toml:"sync_interval"    env:"MIRROR_SYNC_INTERVAL"    env-default:"1m"`
		MaxAttempts    int           `json:"max_attempts"     toml:"max_attempts"     env:"MIRROR_MAX_ATTEMPTS"     env-default:"5"`
		RetryBaseDelay time.Duration `json:"retry_base_delay" toml:"retry_base_delay" env:"MIRROR_RETRY_BASE_DELAY" env-default:"500ms"`
		QueueSize      int           `json:"queue_size"       toml:"queue_size"       env:"MIRROR_QUEUE_SIZE"       env-default:"256"`
		Timeout        time.Duration `json:"timeout"          toml:"timeout"          env:"MIRROR_TIMEOUT"          env-default:"10s"`
	}

	Badges struct {
		BaseURL string `json:"base_url" toml:"base_url" env:"BADGES_API_BASE"`
	}

	Workers struct {
		PendingReconcileInterval time.Duration `json:"pending_reconcile_interval" toml:"pending_reconcile_interval" env:"PENDING_RECONCILE_INTERVAL" env-default:"1m"`
		PendingStaleAfter        time.Duration `json:"pending_stale_after"        toml:"pending_stale_after"        env:"PENDING_STALE_AFTER"        env-default:"5m"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}

// RealTransactionsEnabled reports whether spends are paid on-chain to a treasury.
func (c *Config) RealTransactionsEnabled() bool {
	return strings.TrimSpace(c.Chain.TreasuryAddress) != ""
}

// LogLevel resolves the configured level; debug mode always wins.
func (c *Config) LogLevel() slog.Level {
	if c.App.Debug {
		return slog.LevelDebug
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
