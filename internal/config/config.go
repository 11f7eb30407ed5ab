package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is constructed once at process start and passed to everything that
// needs it. No component reads the environment after Load returns.
type Config struct {
	Port    string
	Env     string
	DBPath  string
	LogJSON bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JobToken guards the internal job endpoints (reconcile, dispatch).
	JobToken string

	// CardVaultKey is the hex-encoded AES-256 key used to encrypt stored
	// card numbers. Key management itself is outside this service.
	CardVaultKey string

	PayGate  PayGateConfig
	SwiftEFT SwiftEFTConfig
	ScanPay  ScanPayConfig
	Card     CardProviderConfig

	Recon ReconConfig

	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	PartnerEventURL    string
	PartnerEventSecret string
}

type PayGateConfig struct {
	MerchantID   string
	MerchantKey  string
	Passphrase   string
	ValidateURL  string
	AllowedCIDRs []string
}

type SwiftEFTConfig struct {
	APIBase  string
	APIKey   string
	PageSize int
}

type ScanPayConfig struct {
	APIBase       string
	APIKey        string
	WebhookSecret string
}

type CardProviderConfig struct {
	BaseURL string
	APIKey  string
}

type ReconConfig struct {
	PrimaryLookback  time.Duration
	LongTailLookback time.Duration
	// AlertThreshold is the mismatch count at which a sweep sends the
	// aggregated alert. Zero disables alerting.
	AlertThreshold int
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load builds the config from environment variables with development
// defaults. Call godotenv.Load before this in main.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		Env:     getEnv("ENVIRONMENT", "development"),
		DBPath:  getEnv("DB_PATH", "paycore.db"),
		LogJSON: getEnvBool("LOG_JSON", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JobToken:     getEnv("JOB_TOKEN", ""),
		CardVaultKey: getEnv("CARD_VAULT_KEY", ""),

		PayGate: PayGateConfig{
			MerchantID:   getEnv("PAYGATE_MERCHANT_ID", ""),
			MerchantKey:  getEnv("PAYGATE_MERCHANT_KEY", ""),
			Passphrase:   getEnv("PAYGATE_PASSPHRASE", ""),
			ValidateURL:  getEnv("PAYGATE_VALIDATE_URL", "https://api.paygate.example/validate"),
			AllowedCIDRs: splitList(getEnv("PAYGATE_SOURCE_CIDRS", "")),
		},
		SwiftEFT: SwiftEFTConfig{
			APIBase:  getEnv("SWIFTEFT_API_BASE", "https://api.swifteft.example"),
			APIKey:   getEnv("SWIFTEFT_API_KEY", ""),
			PageSize: getEnvInt("SWIFTEFT_PAGE_SIZE", 100),
		},
		ScanPay: ScanPayConfig{
			APIBase:       getEnv("SCANPAY_API_BASE", "https://api.scanpay.example"),
			APIKey:        getEnv("SCANPAY_API_KEY", ""),
			WebhookSecret: getEnv("SCANPAY_WEBHOOK_SECRET", ""),
		},
		Card: CardProviderConfig{
			BaseURL: getEnv("CARD_PROVIDER_URL", "https://api.cardprovider.example"),
			APIKey:  getEnv("CARD_PROVIDER_API_KEY", ""),
		},

		Recon: ReconConfig{
			PrimaryLookback:  getEnvDuration("RECON_PRIMARY_LOOKBACK", 48*time.Hour),
			LongTailLookback: getEnvDuration("RECON_LONGTAIL_LOOKBACK", 30*24*time.Hour),
			AlertThreshold:   getEnvInt("RECON_ALERT_THRESHOLD", 1),
		},

		WebhookRateLimit:  getEnvInt("WEBHOOK_RATE_LIMIT", 120),
		WebhookRateWindow: getEnvDuration("WEBHOOK_RATE_WINDOW", time.Minute),

		PartnerEventURL:    getEnv("PARTNER_EVENT_URL", ""),
		PartnerEventSecret: getEnv("PARTNER_EVENT_SECRET", ""),
	}

	if cfg.Production() {
		if cfg.JobToken == "" {
			return nil, fmt.Errorf("JOB_TOKEN is required in production")
		}
		if len(cfg.PayGate.AllowedCIDRs) == 0 {
			return nil, fmt.Errorf("PAYGATE_SOURCE_CIDRS is required in production")
		}
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
