// Package config loads the engine's configuration surface (SPEC_FULL.md §6)
// from environment variables, an optional config file, and a .env file, via
// viper. The shape of the getters mirrors the teacher's getEnv*/getEnvDecimal
// helpers so call sites read the same way; the loader underneath is viper
// instead of raw os.Getenv, because the option surface here is far larger
// than a handful of flat env vars.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Mode gates real order placement.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// RiskConfig carries the thresholds consumed by internal/risk.
type RiskConfig struct {
	MaxTotalExposure    decimal.Decimal
	MaxExposurePerEvent decimal.Decimal
	MaxPositionImbalance decimal.Decimal
	DailyLossLimit      decimal.Decimal
	MaxQtyPerTrade      decimal.Decimal
	MinQtyPerTrade      decimal.Decimal
	MinTradeValue       decimal.Decimal
	MinProfitAbs        decimal.Decimal
	MinProfitThreshold  decimal.Decimal
	MinLiquidityDepth   decimal.Decimal
	ExecutionRiskWarn   decimal.Decimal
}

// MatcherConfig carries the thresholds and guard toggles consumed by
// internal/matcher.
type MatcherConfig struct {
	FuzzyThreshold        decimal.Decimal
	MinConfidenceThreshold decimal.Decimal
	RequireDateValidation bool
	RequireCategoryMatch  bool
	DateToleranceHours    int
	SynonymsPath          string
}

// FeeConfig carries the fee-model constants consumed by internal/detector.
type FeeConfig struct {
	V1TakerFeeRate   decimal.Decimal
	V2FeePct         decimal.Decimal
	V2FeeCap         decimal.Decimal
	V1GasAmortizedUSD decimal.Decimal
}

// LatencyConfig carries the timing ceilings §6/§5 names.
type LatencyConfig struct {
	EndToEndMaxMs       int
	OrderPlacementMaxMs int
	OrderbookFetchMaxMs int
	HeartbeatTimeout    time.Duration
}

// CircuitBreakerConfig carries the auto-pause thresholds.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures  int
	MaxAsymmetricExecutions int
}

// StateConfig carries StateStore durability settings.
type StateConfig struct {
	FilePath         string
	AutoSaveInterval time.Duration
	MaxStateAgeMin   int
	MaxIOFailures    int
}

// Config is the full, resolved configuration surface.
type Config struct {
	OperatingMode       Mode
	Debug               bool
	MaxSlippage         decimal.Decimal
	OpportunityTTL      time.Duration
	RequireManualReview bool

	Risk    RiskConfig
	Matcher MatcherConfig
	Fees    FeeConfig
	Latency LatencyConfig
	CB      CircuitBreakerConfig
	State   StateConfig

	TelegramToken  string
	TelegramChatID int64

	DatabaseDSN string

	V1APIURL string
	V1WSURL  string
	V2APIURL string
	V2WSURL  string

	V1APIKey     string
	V1APISecret  string
	V1Passphrase string
	V2APIKey     string
	V2APISecret  string

	WalletPrivateKey string
}

// Load reads .env (if present), then layers environment variables (prefix
// ARB_) and an optional config file on top of the defaults below.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	setDefaults(v)

	cfg := &Config{
		OperatingMode:       Mode(v.GetString("operating_mode")),
		Debug:               v.GetBool("debug"),
		MaxSlippage:         decFromViper(v, "max_slippage"),
		OpportunityTTL:      v.GetDuration("opportunity_ttl"),
		RequireManualReview: v.GetBool("require_manual_review"),

		Risk: RiskConfig{
			MaxTotalExposure:     decFromViper(v, "max_total_exposure"),
			MaxExposurePerEvent:  decFromViper(v, "max_exposure_per_event"),
			MaxPositionImbalance: decFromViper(v, "max_position_imbalance"),
			DailyLossLimit:       decFromViper(v, "daily_loss_limit"),
			MaxQtyPerTrade:       decFromViper(v, "max_qty_per_trade"),
			MinQtyPerTrade:       decFromViper(v, "min_qty_per_trade"),
			MinTradeValue:        decFromViper(v, "min_trade_value"),
			MinProfitAbs:         decFromViper(v, "min_profit_abs"),
			MinProfitThreshold:   decFromViper(v, "min_profit_threshold"),
			MinLiquidityDepth:    decFromViper(v, "min_liquidity_depth"),
			ExecutionRiskWarn:    decFromViper(v, "execution_risk_warn"),
		},
		Matcher: MatcherConfig{
			FuzzyThreshold:         decFromViper(v, "fuzzy_threshold"),
			MinConfidenceThreshold: decFromViper(v, "min_confidence_threshold"),
			RequireDateValidation:  v.GetBool("require_date_validation"),
			RequireCategoryMatch:   v.GetBool("require_category_match"),
			DateToleranceHours:     v.GetInt("date_tolerance_hours"),
			SynonymsPath:           v.GetString("synonyms_path"),
		},
		Fees: FeeConfig{
			V1TakerFeeRate:    decFromViper(v, "v1_taker_fee_rate"),
			V2FeePct:          decFromViper(v, "v2_fee_pct"),
			V2FeeCap:          decFromViper(v, "v2_fee_cap"),
			V1GasAmortizedUSD: decFromViper(v, "v1_gas_amortized_usd"),
		},
		Latency: LatencyConfig{
			EndToEndMaxMs:       v.GetInt("end_to_end_max_ms"),
			OrderPlacementMaxMs: v.GetInt("order_placement_max_ms"),
			OrderbookFetchMaxMs: v.GetInt("orderbook_fetch_max_ms"),
			HeartbeatTimeout:    v.GetDuration("heartbeat_timeout"),
		},
		CB: CircuitBreakerConfig{
			MaxConsecutiveFailures:  v.GetInt("max_consecutive_failures"),
			MaxAsymmetricExecutions: v.GetInt("max_asymmetric_executions"),
		},
		State: StateConfig{
			FilePath:         v.GetString("state_file_path"),
			AutoSaveInterval: v.GetDuration("auto_save_interval"),
			MaxStateAgeMin:   v.GetInt("max_state_age_minutes"),
			MaxIOFailures:    v.GetInt("max_state_io_failures"),
		},

		TelegramToken:  v.GetString("telegram_token"),
		TelegramChatID: v.GetInt64("telegram_chat_id"),
		DatabaseDSN:    v.GetString("database_dsn"),

		V1APIURL: v.GetString("v1_api_url"),
		V1WSURL:  v.GetString("v1_ws_url"),
		V2APIURL: v.GetString("v2_api_url"),
		V2WSURL:  v.GetString("v2_ws_url"),

		V1APIKey:     v.GetString("v1_api_key"),
		V1APISecret:  v.GetString("v1_api_secret"),
		V1Passphrase: v.GetString("v1_passphrase"),
		V2APIKey:     v.GetString("v2_api_key"),
		V2APISecret:  v.GetString("v2_api_secret"),

		WalletPrivateKey: v.GetString("wallet_private_key"),
	}

	if cfg.OperatingMode != ModeDryRun && cfg.OperatingMode != ModeLive {
		return nil, fmt.Errorf("invalid operating_mode %q", cfg.OperatingMode)
	}

	return cfg, nil
}

func decFromViper(v *viper.Viper, key string) decimal.Decimal {
	s := v.GetString(key)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("operating_mode", "dry_run")
	v.SetDefault("debug", false)
	v.SetDefault("max_slippage", "0.10")
	v.SetDefault("opportunity_ttl", "5s")
	v.SetDefault("require_manual_review", true)

	v.SetDefault("max_total_exposure", "1000")
	v.SetDefault("max_exposure_per_event", "200")
	v.SetDefault("max_position_imbalance", "25")
	v.SetDefault("daily_loss_limit", "100")
	v.SetDefault("max_qty_per_trade", "500")
	v.SetDefault("min_qty_per_trade", "1")
	v.SetDefault("min_trade_value", "5")
	v.SetDefault("min_profit_abs", "0.50")
	v.SetDefault("min_profit_threshold", "0.02")
	v.SetDefault("min_liquidity_depth", "50")
	v.SetDefault("execution_risk_warn", "0.5")

	v.SetDefault("fuzzy_threshold", "0.95")
	v.SetDefault("min_confidence_threshold", "0.95")
	v.SetDefault("require_date_validation", true)
	v.SetDefault("require_category_match", true)
	v.SetDefault("date_tolerance_hours", 24)
	v.SetDefault("synonyms_path", "configs/synonyms.json")

	v.SetDefault("v1_taker_fee_rate", "0.02")
	v.SetDefault("v2_fee_pct", "0.07")
	v.SetDefault("v2_fee_cap", "0.07")
	v.SetDefault("v1_gas_amortized_usd", "0.01")

	v.SetDefault("end_to_end_max_ms", 2000)
	v.SetDefault("order_placement_max_ms", 1000)
	v.SetDefault("orderbook_fetch_max_ms", 500)
	v.SetDefault("heartbeat_timeout", "15s")

	v.SetDefault("max_consecutive_failures", 3)
	v.SetDefault("max_asymmetric_executions", 1)

	v.SetDefault("state_file_path", "data/state.json")
	v.SetDefault("auto_save_interval", "30s")
	v.SetDefault("max_state_age_minutes", 30)
	v.SetDefault("max_state_io_failures", 3)

	v.SetDefault("database_dsn", "data/arbtrader.db")

	v.SetDefault("v1_api_url", "https://clob.v1.example.com")
	v.SetDefault("v1_ws_url", "wss://ws.v1.example.com")
	v.SetDefault("v2_api_url", "https://api.v2.example.com")
	v.SetDefault("v2_ws_url", "wss://ws.v2.example.com")
}
