package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the studio API and supporting services.
type Config struct {
	DBDriver   string
	MySQLDSN   string
	SQLitePath string

	HTTPListenAddr string
	AdminUsername  string
	AdminPassword  string
	GatewaySecret  string
	LogLevel       string

	PurchaseHintURL    string
	SignupBonusCredits int64
	PricingFile        string

	MonthlyResetSchedule string
	RefundRetrySchedule  string
	RefundMaxAttempts    int

	KIEAPIKey       string
	KIEBaseURL      string
	KIEApparelModel string
	KIEProductModel string
	KIEVideoModel   string
	RequestTimeout  time.Duration

	BotToken                     string
	TelegramPaymentProviderToken string
	PaymentCurrency              string
	PaymentPriceMinorUnits       int
	PaymentCreditsPerPackage     int64
	PaymentProvider              string
	YooKassaShopID               string
	YooKassaSecretKey            string
	YooKassaReturnURL            string
	PromoBonusCredits            int64

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		DBDriver:                     strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		SQLitePath:                   getEnv("SQLITE_PATH", "studio.db"),
		HTTPListenAddr:               getEnv("HTTP_LISTEN_ADDR", ":8080"),
		AdminUsername:                getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:                getEnv("ADMIN_PASSWORD", "change-me"),
		GatewaySecret:                os.Getenv("GATEWAY_SECRET"),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		PurchaseHintURL:              getEnv("PURCHASE_HINT_URL", "/billing/credits"),
		SignupBonusCredits:           getInt64("SIGNUP_BONUS_CREDITS", 10),
		PricingFile:                  os.Getenv("PRICING_FILE"),
		MonthlyResetSchedule:         getEnv("MONTHLY_RESET_SCHEDULE", "0 0 1 * *"),
		RefundRetrySchedule:          getEnv("REFUND_RETRY_SCHEDULE", "*/5 * * * *"),
		RefundMaxAttempts:            getInt("REFUND_MAX_ATTEMPTS", 10),
		KIEBaseURL:                   normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEApparelModel:              getEnv("KIE_APPAREL_MODEL", "flux-2/pro-text-to-image"),
		KIEProductModel:              getEnv("KIE_PRODUCT_MODEL", "nano-banana-pro"),
		KIEVideoModel:                getEnv("KIE_VIDEO_MODEL", "kling/v2-1-standard"),
		RequestTimeout:               time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		PaymentCurrency:              getEnv("PAYMENT_CURRENCY", "USD"),
		PaymentPriceMinorUnits:       getInt("PAYMENT_PRICE_MINOR_UNITS", 999),
		PaymentCreditsPerPackage:     getInt64("PAYMENT_CREDITS_PER_PACKAGE", 100),
		PaymentProvider:              strings.ToLower(getEnv("PAYMENT_PROVIDER", "telegram")),
		YooKassaShopID:               getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:            getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:            getEnv("YOOKASSA_RETURN_URL", ""),
		PromoBonusCredits:            getInt64("PROMO_BONUS_CREDITS", 20),
		S3Endpoint:                   getEnv("S3_ENDPOINT", ""),
		S3Region:                     os.Getenv("S3_REGION"),
		S3AccessKey:                  os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:                  os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                     os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:              os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:               getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                     getEnv("S3_PREFIX", "generations"),
		TelegramPaymentProviderToken: os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	var missing []string
	switch cfg.DBDriver {
	case "mysql":
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.PaymentProvider == "yookassa" {
		if cfg.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if cfg.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// ValidateServe checks the settings only the long-running server needs.
func (c Config) ValidateServe() error {
	var missing []string
	if c.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	if c.BotToken != "" && c.PaymentProvider == "telegram" && c.TelegramPaymentProviderToken == "" {
		missing = append(missing, "TELEGRAM_PAYMENT_PROVIDER_TOKEN")
	}
	if c.S3Enabled() {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// S3Enabled reports whether generation results should be mirrored into a bucket.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// DSN returns the data source name for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.MySQLDSN
}

// normalizeKIEBaseURL ensures we always hit the documented API host. The root kie.ai
// domain serves HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first .env candidate that exists. Running without one is fine;
// the process environment is then the only source.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
