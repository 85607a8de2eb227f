// Package config loads the process configuration once at startup from
// a non-secret YAML defaults file plus environment-variable overrides,
// following the pattern in the teacher's distribution_service main.go.
// Every credential-shaped value is environment-only and is never read
// from the YAML file, per spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Scheduler  SchedulerConfig
	Marketplaces MarketplacesConfig
	LLM        LLMConfig
	Broadcast  BroadcastConfig
	Mirror     MirrorConfig
	Payment    PaymentConfig
	Database   DatabaseConfig
	Filtering  FilteringConfig
	Card       CardConfig
}

type SchedulerConfig struct {
	PostingTime string `yaml:"posting_time"` // HH:MM, 24h
	Timezone    string `yaml:"timezone"`     // IANA name
}

type MarketplacesConfig struct {
	RapidAPIKey        string // env only
	PrimaryBaseURL     string `yaml:"primary_base_url"`
	SecondaryBaseURL   string `yaml:"secondary_base_url"`
	PrimaryDailyLimit  int    `yaml:"primary_daily_limit"`
	SecondaryDailyLimit int   `yaml:"secondary_daily_limit"`
	SecondaryEnabled   bool   `yaml:"secondary_enabled"`
}

type LLMConfig struct {
	APIKey  string // env only
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type BroadcastConfig struct {
	BotToken     string // env only
	ChannelID    string // env only (may be @username or -100...)
	AdminChatIDs []string // env only, comma list
	BaseURL      string `yaml:"base_url"`
}

type MirrorConfig struct {
	Enabled     bool `yaml:"enabled"`
	AccessToken string // env only
	AccountID   string // env only
	BaseURL     string `yaml:"base_url"`
}

type PaymentConfig struct {
	APIURL        string // env only
	SID           string // env only
	Password      string // env only, HMAC key
	APIVersion    string // env only
	TestMode      bool   // env only
	WebhookStrict bool   `yaml:"webhook_strict"`
}

type DatabaseConfig struct {
	URL string // env only
}

type FilteringConfig struct {
	MinDiscount  int     `yaml:"min_discount"`
	MinRating    float64 `yaml:"min_rating"`
	TopLimit     int     `yaml:"top_limit"`
	MaxProducts  int     `yaml:"max_products"`
}

type CardConfig struct {
	DimensionPx int `yaml:"dimension_px"`
}

// defaults are the non-secret YAML-overridable defaults, matching the
// shape (if not the content) of the teacher's config.yaml.
func defaults() Config {
	return Config{
		Scheduler: SchedulerConfig{PostingTime: "09:00", Timezone: "Asia/Bishkek"},
		Marketplaces: MarketplacesConfig{
			PrimaryBaseURL:      "https://pdd-pinduoduo1.p.rapidapi.com",
			SecondaryBaseURL:    "https://taobao-advanced.p.rapidapi.com",
			PrimaryDailyLimit:   100,
			SecondaryDailyLimit: 100,
			SecondaryEnabled:    true,
		},
		LLM: LLMConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Broadcast: BroadcastConfig{BaseURL: "https://api.telegram.org"},
		Mirror:    MirrorConfig{BaseURL: "https://graph.facebook.com"},
		Payment:   PaymentConfig{APIVersion: "1.0", WebhookStrict: false},
		Filtering: FilteringConfig{MinDiscount: 40, MinRating: 4.5, TopLimit: 10, MaxProducts: 30},
		Card:      CardConfig{DimensionPx: 1080},
	}
}

// Load reads non-secret defaults from configFile (if present) and then
// overlays every secret and operational override from the environment.
func Load(configFile string) (*Config, error) {
	cfg := defaults()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err == nil {
			if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", uerr)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTING_TIME"); v != "" {
		cfg.Scheduler.PostingTime = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		cfg.Scheduler.Timezone = v
	}

	cfg.Marketplaces.RapidAPIKey = os.Getenv("RAPIDAPI_KEY")

	cfg.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.LLM.Timeout = time.Duration(secs) * time.Second
		}
	}

	cfg.Broadcast.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Broadcast.ChannelID = os.Getenv("CHANNEL_ID")
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		parts := strings.Split(v, ",")
		ids := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				ids = append(ids, p)
			}
		}
		cfg.Broadcast.AdminChatIDs = ids
	}

	cfg.Mirror.AccessToken = os.Getenv("INSTAGRAM_ACCESS_TOKEN")
	cfg.Mirror.AccountID = os.Getenv("INSTAGRAM_ACCOUNT_ID")
	cfg.Mirror.Enabled = cfg.Mirror.AccessToken != "" && cfg.Mirror.AccountID != ""

	cfg.Payment.APIURL = os.Getenv("DENGI_API_URL")
	cfg.Payment.SID = os.Getenv("DENGI_SID")
	cfg.Payment.Password = os.Getenv("DENGI_PASSWORD")
	if v := os.Getenv("DENGI_API_VERSION"); v != "" {
		cfg.Payment.APIVersion = v
	}
	if v := os.Getenv("DENGI_TEST_MODE"); v != "" {
		cfg.Payment.TestMode, _ = strconv.ParseBool(v)
	}

	cfg.Database.URL = os.Getenv("DATABASE_URL")

	if v := os.Getenv("MIN_DISCOUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Filtering.MinDiscount = n
		}
	}
	if v := os.Getenv("MIN_RATING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Filtering.MinRating = f
		}
	}
	if v := os.Getenv("TOP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Filtering.TopLimit = n
		}
	}
	if v := os.Getenv("MAX_PRODUCTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Filtering.MaxProducts = n
		}
	}
}
