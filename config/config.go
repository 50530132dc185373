package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App        `json:"app"        toml:"app"`
		HTTP       `json:"http"       toml:"http"`
		DB         `json:"db"         toml:"db"`
		Swap       `json:"swap"       toml:"swap"`
		Rates      `json:"rates"      toml:"rates"`
		Management `json:"management" toml:"management"`
		Workers    `json:"workers"    toml:"workers"`
		Log        `json:"logger"     toml:"logger"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8080"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX" env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK" env-default:"1"`
	}

	Swap struct {
		ProviderURL       string `json:"provider_url"        toml:"provider_url"        env:"SWAP_PROVIDER_URL"`
		ProviderAPIKey    string `json:"provider_api_key"    toml:"provider_api_key"    env:"SWAP_PROVIDER_API_KEY"`
		SandboxSeed       string `json:"sandbox_seed"        toml:"sandbox_seed"        env:"SWAP_SANDBOX_SEED" env-default:"your secure seed phrase here"`
		QuoteValidMinutes int    `json:"quote_valid_minutes" toml:"quote_valid_minutes" env:"SWAP_QUOTE_VALID_MINUTES" env-default:"15"`
	}

	Rates struct {
		APIURL string `json:"api_url" toml:"api_url" env:"RATE_API_URL"`
	}

	Management struct {
		BaseURL        string `json:"base_url"        toml:"base_url"        env:"MANAGEMENT_BASE_URL"`
		APIKey         string `json:"api_key"         toml:"api_key"         env:"MANAGEMENT_API_KEY"`
		TimeoutSeconds int    `json:"timeout_seconds" toml:"timeout_seconds" env:"MANAGEMENT_TIMEOUT" env-default:"10"`
	}

	Workers struct {
		SweepInterval      int `json:"sweep_interval"       toml:"sweep_interval"       env:"SYNC_SWEEP_INTERVAL" env-default:"1"`     // minutes
		PollInterval       int `json:"poll_interval"        toml:"poll_interval"        env:"SWAP_POLL_INTERVAL" env-default:"10"`     // seconds
		StepRetryLimit     int `json:"step_retry_limit"     toml:"step_retry_limit"     env:"STEP_RETRY_LIMIT" env-default:"3"`        // attempts per step
		StepRetryBackoffMs int `json:"step_retry_backoff"   toml:"step_retry_backoff"   env:"STEP_RETRY_BACKOFF_MS" env-default:"500"` // base backoff
		FeeScheduleCheck   int `json:"fee_schedule_check"   toml:"fee_schedule_check"   env:"FEE_SCHEDULE_CHECK" env-default:"5"`      // minutes
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
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
