package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

func init() {
	godotenv.Load(".env")
}

func Get(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetBool(key, defaultVal string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		v = defaultVal
	}
	return v == "1" || v == "true" || v == "yes"
}

// Anomaly scan defaults, used by the scan command.
var (
	AnomalyStdThreshold = 2.0
	BaselineDays        = 365
	CurrentWindowDays   = 30
	MinBaselinePoints   = 5
)

// Duration decodes "250ms" style strings from TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	UserAgent    string `toml:"user_agent" validate:"required"`
	DataDir      string `toml:"data_dir" validate:"required"`
	CacheBackend string `toml:"cache_backend" validate:"oneof=memory file sqlite badger postgres"`
	DatabaseURL  string `toml:"database_url" validate:"required_if=CacheBackend postgres"`
	Port         string `toml:"port" validate:"required,numeric"`
	LogLevel     string `toml:"log_level" validate:"oneof=trace debug info warn error"`
	AdminAPIKey  string `toml:"-"`
	TraceStdout  bool   `toml:"trace_stdout"`

	FMPAPIKey   string `toml:"-"`
	EODHDAPIKey string `toml:"-"`

	MarketProviders  []string `toml:"market_providers" validate:"min=1,dive,oneof=fmp yahoo eodhd"`
	FMPDailyQuota    int      `toml:"fmp_daily_quota" validate:"gte=0"`
	YahooDailyQuota  int      `toml:"yahoo_daily_quota" validate:"gte=0"`
	EODHDDailyQuota  int      `toml:"eodhd_daily_quota" validate:"gte=0"`
	EdgarMinInterval Duration `toml:"edgar_min_interval" validate:"gt=0"`
	MarketInterval   Duration `toml:"market_min_interval" validate:"gt=0"`
	MaxRetries       int      `toml:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay   Duration `toml:"retry_base_delay" validate:"gte=0"`

	InsiderForms          []string `toml:"insider_forms" validate:"min=1"`
	MaxInsiderFilings     int      `toml:"max_insider_filings"`
	BeneficialForms       []string `toml:"beneficial_forms" validate:"min=1"`
	MaxBeneficialFilings  int      `toml:"max_beneficial_filings"`
	InstitutionalManagers []string `toml:"institutional_managers" validate:"dive,numeric"`
	KnownFloatFraction    float64  `toml:"known_float_fraction" validate:"gt=0,lte=1"`
	EstimatorWASM         string   `toml:"estimator_wasm"`

	IdentifierRefreshSchedule string `toml:"identifier_refresh_schedule"`
}

func Default() *Config {
	return &Config{
		UserAgent:        "ownership-lens research contact@example.com",
		DataDir:          "data",
		CacheBackend:     "file",
		Port:             "8000",
		LogLevel:         "info",
		MarketProviders:  []string{"fmp", "yahoo", "eodhd"},
		FMPDailyQuota:    250,
		YahooDailyQuota:  2000,
		EODHDDailyQuota:  20,
		EdgarMinInterval: Duration(110 * time.Millisecond),
		MarketInterval:   Duration(250 * time.Millisecond),
		MaxRetries:       3,
		RetryBaseDelay:   Duration(time.Second),

		InsiderForms:         []string{"3", "4", "5"},
		MaxInsiderFilings:    40,
		BeneficialForms:      []string{"SC 13D", "SC 13G", "SC 13D/A", "SC 13G/A", "SCHEDULE 13D", "SCHEDULE 13G", "SCHEDULE 13D/A", "SCHEDULE 13G/A"},
		MaxBeneficialFilings: 20,
		// Vanguard, BlackRock, State Street, Fidelity (FMR), Geode
		InstitutionalManagers: []string{"0000102909", "0001364742", "0000093751", "0000315066", "0001214717"},
		KnownFloatFraction:    0.7,

		IdentifierRefreshSchedule: "@daily",
	}
}

// Load builds the configuration: defaults, then the optional TOML file named
// by OWNERSHIP_CONFIG, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := Get("OWNERSHIP_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setStr := func(key string, dst *string) {
		if v := Get(key); v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v := Get(key); v != "" {
			*dst = splitList(v)
		}
	}
	var firstErr error
	setInt := func(key string, dst *int) {
		if v := Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	setDur := func(key string, dst *Duration) {
		if v := Get(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	setStr("SEC_USER_AGENT", &cfg.UserAgent)
	setStr("VIBES_DATA_DIR", &cfg.DataDir)
	setStr("CACHE_BACKEND", &cfg.CacheBackend)
	setStr("DATABASE_URL", &cfg.DatabaseURL)
	setStr("PORT", &cfg.Port)
	setStr("LOG_LEVEL", &cfg.LogLevel)
	setStr("ESTIMATOR_WASM", &cfg.EstimatorWASM)
	setStr("IDENTIFIER_REFRESH_SCHEDULE", &cfg.IdentifierRefreshSchedule)
	cfg.FMPAPIKey = Get("FMP_API_KEY")
	cfg.EODHDAPIKey = Get("EODHD_API_KEY")
	cfg.AdminAPIKey = Get("ADMIN_API_KEY")
	cfg.TraceStdout = GetBool("TRACE_STDOUT", strconv.FormatBool(cfg.TraceStdout))

	setList("MARKET_PROVIDERS", &cfg.MarketProviders)
	setList("INSIDER_FORMS", &cfg.InsiderForms)
	setList("BENEFICIAL_FORMS", &cfg.BeneficialForms)
	setList("INSTITUTIONAL_MANAGERS", &cfg.InstitutionalManagers)
	setInt("FMP_DAILY_QUOTA", &cfg.FMPDailyQuota)
	setInt("YAHOO_DAILY_QUOTA", &cfg.YahooDailyQuota)
	setInt("EODHD_DAILY_QUOTA", &cfg.EODHDDailyQuota)
	setInt("FETCH_MAX_RETRIES", &cfg.MaxRetries)
	setInt("MAX_INSIDER_FILINGS", &cfg.MaxInsiderFilings)
	setInt("MAX_BENEFICIAL_FILINGS", &cfg.MaxBeneficialFilings)
	setDur("EDGAR_MIN_INTERVAL", &cfg.EdgarMinInterval)
	setDur("MARKET_MIN_INTERVAL", &cfg.MarketInterval)
	setDur("FETCH_RETRY_BASE", &cfg.RetryBaseDelay)
	if v := Get("KNOWN_FLOAT_FRACTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("KNOWN_FLOAT_FRACTION: %w", err)
		} else if err == nil {
			cfg.KnownFloatFraction = f
		}
	}
	return firstErr
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// QuotaFor returns the configured daily quota of a market-data provider.
func (c *Config) QuotaFor(provider string) int {
	switch provider {
	case "fmp":
		return c.FMPDailyQuota
	case "yahoo":
		return c.YahooDailyQuota
	case "eodhd":
		return c.EODHDDailyQuota
	}
	return 0
}
