package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig is the fatal startup error class: invalid thresholds, weights,
// or bands make every verdict meaningless, so the process must not start.
var ErrConfig = errors.New("config error")

// Config holds all mediator configuration.
type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Risk     RiskConfig
	Timeouts TimeoutConfig
	Patterns PatternConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Logging  LogConfig
}

// ServerConfig holds HTTP facade configuration.
type ServerConfig struct {
	Host              string `envconfig:"HOST" default:"0.0.0.0"`
	Port              string `envconfig:"PORT" default:"8900"`
	RequestsPerSecond int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateBurst         int    `envconfig:"RATE_LIMIT_BURST" default:"100"`
}

// GeminiConfig holds the LLM provider credential and endpoint. An empty
// APIKey disables the reasoner layer entirely (reports status=skipped).
type GeminiConfig struct {
	APIKey      string  `envconfig:"GEMINI_API_KEY"`
	Model       string  `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-lite"`
	Endpoint    string  `envconfig:"GEMINI_ENDPOINT" default:"https://generativelanguage.googleapis.com/v1beta"`
	Temperature float64 `envconfig:"GEMINI_TEMPERATURE" default:"0.1"`
}

// RiskConfig holds verdict thresholds, layer weights, the LLM gray band,
// and the escalator constants.
type RiskConfig struct {
	BlockAt   float64 `envconfig:"RISK_THRESHOLD_BLOCK" default:"0.80"`
	ConfirmAt float64 `envconfig:"RISK_THRESHOLD_CONFIRM" default:"0.50"`
	WarnAt    float64 `envconfig:"RISK_THRESHOLD_WARN" default:"0.30"`

	WeightDOM float64 `envconfig:"LAYER_WEIGHT_DOM" default:"0.30"`
	WeightNLP float64 `envconfig:"LAYER_WEIGHT_NLP" default:"0.30"`
	WeightLLM float64 `envconfig:"LAYER_WEIGHT_LLM" default:"0.40"`

	GrayLow  float64 `envconfig:"LLM_GRAY_LOW" default:"0.25"`
	GrayHigh float64 `envconfig:"LLM_GRAY_HIGH" default:"0.75"`

	HiddenOverrideBoost float64 `envconfig:"ESCALATOR_HIDDEN_OVERRIDE" default:"0.15"`
	FormCredentialBoost float64 `envconfig:"ESCALATOR_FORM_CREDENTIAL" default:"0.10"`
	DiversityBoost      float64 `envconfig:"ESCALATOR_DIVERSITY" default:"0.05"`

	// Fail-safe floors applied by the mediator.
	MandatoryErrorFloor float64 `envconfig:"FLOOR_MANDATORY_ERROR" default:"0.50"`
	LLMErrorFloor       float64 `envconfig:"FLOOR_LLM_ERROR" default:"0.70"`
}

// TimeoutConfig holds per-layer and total timeouts in milliseconds.
type TimeoutConfig struct {
	DOMMS   int `envconfig:"TIMEOUT_DOM_MS" default:"500"`
	NLPMS   int `envconfig:"TIMEOUT_NLP_MS" default:"200"`
	LLMMS   int `envconfig:"TIMEOUT_LLM_MS" default:"8000"`
	TotalMS int `envconfig:"TIMEOUT_TOTAL_MS" default:"10000"`
}

// PatternConfig locates the external NLP pattern table. Empty means the
// embedded default table is used.
type PatternConfig struct {
	File string `envconfig:"PATTERN_FILE"`
}

// CacheConfig controls the content-fingerprint assessment cache.
type CacheConfig struct {
	Enabled    bool `envconfig:"CACHE_ENABLED" default:"true"`
	MaxEntries int  `envconfig:"CACHE_MAX_ENTRIES" default:"1024"`
}

// AuditConfig controls the optional append-only JSONL record of verdicts.
type AuditConfig struct {
	Path     string `envconfig:"AUDIT_PATH"`
	Compress bool   `envconfig:"AUDIT_COMPRESS" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration built from the struct tag defaults.
// The prefix only renames the prefixed variables: envconfig still falls back
// to each field's unprefixed envconfig name, so variables such as
// RISK_THRESHOLD_BLOCK that are set in the environment override the defaults
// here as they do in Load.
func Default() *Config {
	var cfg Config
	_ = envconfig.Process("pagewarden_defaults", &cfg)
	return &cfg
}

// Validate enforces the startup invariants on thresholds, weights, and the
// gray band. A violation is fatal.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"RISK_THRESHOLD_BLOCK":   c.Risk.BlockAt,
		"RISK_THRESHOLD_CONFIRM": c.Risk.ConfirmAt,
		"RISK_THRESHOLD_WARN":    c.Risk.WarnAt,
		"LLM_GRAY_LOW":           c.Risk.GrayLow,
		"LLM_GRAY_HIGH":          c.Risk.GrayHigh,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrConfig, name, v)
		}
	}
	if !(c.Risk.WarnAt <= c.Risk.ConfirmAt && c.Risk.ConfirmAt <= c.Risk.BlockAt) {
		return fmt.Errorf("%w: thresholds must satisfy warn <= confirm <= block", ErrConfig)
	}
	if c.Risk.GrayLow >= c.Risk.GrayHigh {
		return fmt.Errorf("%w: gray band low %v >= high %v", ErrConfig, c.Risk.GrayLow, c.Risk.GrayHigh)
	}
	if c.Risk.WeightDOM <= 0 || c.Risk.WeightNLP <= 0 || c.Risk.WeightLLM <= 0 {
		return fmt.Errorf("%w: layer weights must be positive", ErrConfig)
	}
	if c.Timeouts.DOMMS <= 0 || c.Timeouts.NLPMS <= 0 || c.Timeouts.LLMMS <= 0 || c.Timeouts.TotalMS <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	return nil
}
