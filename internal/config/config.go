package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env file loaded by the process runner).
// No business logic reads raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Mpesa     MpesaConfig
	Ledger    LedgerConfig
	Limits    LimitsConfig
	Requests  RequestsConfig
	Notify    NotifyConfig
	Catalog   CatalogConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// StoreConfig selects the backing store. "memory" is for local runs only.
type StoreConfig struct {
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing; zero keeps the driver-side defaults in pkg/utils.
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	// Host empty disables Redis (in-flight locks and pub/sub notifications).
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	PassKey        string
	ShortCode      string

	// CallbackBaseURL is the public origin Daraja posts STK results to.
	CallbackBaseURL string
	// CallbackToken is the unguessable path segment of the callback URL.
	CallbackToken   string
	Timeout         time.Duration
}

type LedgerConfig struct {
	Currency            string
	SupportedCurrencies []string
	TxMaxAttempts       int
}

// LimitsConfig bounds amounts in minor units. Zero means unbounded.
type LimitsConfig struct {
	TipMin        int64
	TipMax        int64
	WithdrawalMin int64
	WithdrawalMax int64
	TopupMin      int64
	TopupMax      int64
}

type RequestsConfig struct {
	DuplicateWindow time.Duration
	LockTTL         time.Duration
}

type NotifyConfig struct {
	Timeout       time.Duration
	ChannelPrefix string
}

type CatalogConfig struct {
	// URL empty serves requests without catalog enrichment.
	URL      string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = mustInt("APP_PORT", &parseErrs)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))

	if c.Store.Driver != "memory" {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		c.DB.Port = mustInt("DB_PORT", &parseErrs)
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
		c.DB.MaxOpenConns = optionalInt("DB_MAX_OPEN_CONNS", &parseErrs)
		c.DB.ConnMaxLifetime = mustDuration("DB_CONN_MAX_LIFETIME")
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		c.Redis.Port = mustInt("REDIS_PORT", &parseErrs)
		c.Redis.DB = optionalInt("REDIS_DB", &parseErrs)
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Mpesa.BaseURL = strings.TrimSpace(os.Getenv("MPESA_BASE_URL"))
	c.Mpesa.ConsumerKey = strings.TrimSpace(os.Getenv("MPESA_CONSUMER_KEY"))
	c.Mpesa.ConsumerSecret = os.Getenv("MPESA_CONSUMER_SECRET")
	c.Mpesa.PassKey = os.Getenv("MPESA_PASSKEY")
	c.Mpesa.ShortCode = strings.TrimSpace(os.Getenv("MPESA_SHORTCODE"))
	c.Mpesa.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("MPESA_CALLBACK_BASE_URL")), "/")
	c.Mpesa.CallbackToken = os.Getenv("MPESA_CALLBACK_TOKEN")
	c.Mpesa.Timeout = mustDuration("MPESA_TIMEOUT")

	c.Ledger.Currency = strings.ToUpper(strings.TrimSpace(os.Getenv("LEDGER_CURRENCY")))
	c.Ledger.SupportedCurrencies = splitList(os.Getenv("LEDGER_SUPPORTED_CURRENCIES"))
	c.Ledger.TxMaxAttempts = optionalInt("TX_MAX_ATTEMPTS", &parseErrs)

	c.Limits.TipMin = optionalInt64("LIMIT_TIP_MIN_MINOR", &parseErrs)
	c.Limits.TipMax = optionalInt64("LIMIT_TIP_MAX_MINOR", &parseErrs)
	c.Limits.WithdrawalMin = optionalInt64("LIMIT_WITHDRAWAL_MIN_MINOR", &parseErrs)
	c.Limits.WithdrawalMax = optionalInt64("LIMIT_WITHDRAWAL_MAX_MINOR", &parseErrs)
	c.Limits.TopupMin = optionalInt64("LIMIT_TOPUP_MIN_MINOR", &parseErrs)
	c.Limits.TopupMax = optionalInt64("LIMIT_TOPUP_MAX_MINOR", &parseErrs)

	c.Requests.DuplicateWindow = mustDuration("REQUEST_DUPLICATE_WINDOW")
	c.Requests.LockTTL = mustDuration("REQUEST_LOCK_TTL")

	c.Notify.Timeout = mustDuration("NOTIFY_TIMEOUT")
	c.Notify.ChannelPrefix = strings.TrimSpace(os.Getenv("NOTIFY_CHANNEL_PREFIX"))

	c.Catalog.URL = strings.TrimSpace(os.Getenv("CATALOG_URL"))
	c.Catalog.CacheTTL = mustDuration("CATALOG_CACHE_TTL")
	c.Catalog.Timeout = mustDuration("CATALOG_TIMEOUT")

	c.RateLimit.RPS = optionalFloat("RATE_LIMIT_RPS", &parseErrs)
	c.RateLimit.Burst = optionalInt("RATE_LIMIT_BURST", &parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills env-dependent defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Store.Driver {
	case "":
		c.Store.Driver = "postgres"
	case "postgres":
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" {
		errs = append(errs, c.validateDB()...)
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.Host == "" && c.IsProduction() {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateMpesa()...)

	if c.Ledger.Currency == "" {
		c.Ledger.Currency = "KES"
	}
	if len(c.Ledger.Currency) != 3 {
		errs = append(errs, fmt.Errorf("LEDGER_CURRENCY must be an ISO 4217 code, got %q", c.Ledger.Currency))
	}
	if c.Ledger.TxMaxAttempts <= 0 {
		c.Ledger.TxMaxAttempts = 3
	}

	if c.Limits.TipMin <= 0 {
		c.Limits.TipMin = 1000
	}
	if c.Limits.WithdrawalMin <= 0 {
		c.Limits.WithdrawalMin = 10000
	}
	if c.Limits.TopupMin <= 0 {
		c.Limits.TopupMin = 100
	}
	if c.Limits.TopupMax <= 0 {
		// single STK push ceiling
		c.Limits.TopupMax = 15000000
	}
	for _, p := range []struct {
		name     string
		min, max int64
	}{
		{"TIP", c.Limits.TipMin, c.Limits.TipMax},
		{"WITHDRAWAL", c.Limits.WithdrawalMin, c.Limits.WithdrawalMax},
		{"TOPUP", c.Limits.TopupMin, c.Limits.TopupMax},
	} {
		if p.max > 0 && p.max < p.min {
			errs = append(errs, fmt.Errorf("LIMIT_%s_MAX_MINOR must not be below LIMIT_%s_MIN_MINOR", p.name, p.name))
		}
	}

	if c.Requests.DuplicateWindow <= 0 {
		c.Requests.DuplicateWindow = 60 * time.Minute
	}
	if c.Requests.LockTTL <= 0 {
		c.Requests.LockTTL = 10 * time.Second
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	if c.Notify.ChannelPrefix == "" {
		c.Notify.ChannelPrefix = "djtips:notify"
	}
	if c.Catalog.CacheTTL <= 0 {
		c.Catalog.CacheTTL = 10 * time.Minute
	}
	if c.Catalog.Timeout <= 0 {
		c.Catalog.Timeout = 2 * time.Second
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

// validateMpesa requires the gateway credentials outside local runs. Locally,
// an empty MPESA_CONSUMER_KEY leaves top-ups disabled.
func (c *Config) validateMpesa() []error {
	var errs []error
	if c.Mpesa.ConsumerKey == "" && !c.IsProduction() {
		return nil
	}
	for _, f := range [][2]string{
		{"MPESA_CONSUMER_KEY", c.Mpesa.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", c.Mpesa.ConsumerSecret},
		{"MPESA_PASSKEY", c.Mpesa.PassKey},
		{"MPESA_SHORTCODE", c.Mpesa.ShortCode},
		{"MPESA_CALLBACK_BASE_URL", c.Mpesa.CallbackBaseURL},
	} {
		if f[1] == "" {
			errs = append(errs, fmt.Errorf("%s is required", f[0]))
		}
	}
	if len(c.Mpesa.CallbackToken) < 16 {
		errs = append(errs, errors.New("MPESA_CALLBACK_TOKEN must be at least 16 characters"))
	}
	if c.Mpesa.CallbackBaseURL != "" {
		u, err := url.Parse(c.Mpesa.CallbackBaseURL)
		if err != nil || u.Host == "" || (c.IsProduction() && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("MPESA_CALLBACK_BASE_URL must be an absolute https URL, got %q", c.Mpesa.CallbackBaseURL))
		}
	}
	if c.Mpesa.Timeout <= 0 {
		c.Mpesa.Timeout = 15 * time.Second
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) MpesaEnabled() bool {
	return c.Mpesa.ConsumerKey != ""
}

// MpesaCallbackURL is the STK callback URL handed to Daraja.
func (c Config) MpesaCallbackURL() string {
	return c.Mpesa.CallbackBaseURL + "/webhooks/mpesa/stk/" + url.PathEscape(c.Mpesa.CallbackToken)
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalInt(key string, errs *[]error) int {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0
	}
	return mustInt(key, errs)
}

func optionalInt64(key string, errs *[]error) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalFloat(key string, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a number, got %q", key, v))
		return 0
	}
	return f
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
