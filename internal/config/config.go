package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/straye-as/merchant-ledger/internal/secrets"
	"go.uber.org/zap"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	ApiKey        ApiKeyConfig
	Storage       StorageConfig
	Secrets       SecretsConfig
	Logging       LoggingConfig
	Server        ServerConfig
	CORS          CORSConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	Ledger        LedgerConfig
	Inventory     InventoryConfig
	Notifications NotificationsConfig
	Outbox        OutboxConfig
	PDF           PDFConfig
	Business      BusinessConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Port        int
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	AutoMigrate     bool
}

// RedisConfig configures the optional Redis connection used for distributed key locks.
// When disabled, locks are held in-process.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	// LockTTL is the lock expiry in seconds
	LockTTL int
}

// AuthConfig configures verification of merchant session tokens
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	// Leeway is the allowed clock skew in seconds
	Leeway int
}

type ApiKeyConfig struct {
	SecretName string
	Value      string // Loaded from secrets or environment
}

type StorageConfig struct {
	Mode                  string
	LocalBasePath         string
	CloudConnectionString string
	CloudContainer        string
	MaxUploadSizeMB       int64
}

type SecretsConfig struct {
	// Source determines where secrets are loaded from: "environment", "vault", or "auto"
	// "auto" uses environment in development, vault in staging/production
	Source       string
	KeyVaultName string
	CacheEnabled bool
	CacheTTL     int // seconds
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	ReadTimeout    int
	WriteTimeout   int
	RequestTimeout int
	EnableSwagger  bool
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins for CORS requests
	// Use "*" to allow all origins (not recommended for production)
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is the max age (in seconds) for preflight cache
	MaxAge int
}

// SecurityConfig holds security header configuration
type SecurityConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool
	ContentSecurityPolicy string
	// FrameOptions sets the X-Frame-Options header (DENY, SAMEORIGIN, or empty to disable)
	FrameOptions       string
	ContentTypeNosniff bool
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled bool
	// RequestsPerMinute is the default rate limit for unauthenticated requests (per IP)
	RequestsPerMinute int
	// RequestsPerMinuteAuth is the rate limit for authenticated requests (per merchant user)
	RequestsPerMinuteAuth int
	WhitelistIPs          []string
	WhitelistPaths        []string
}

// LedgerConfig holds order approval and invoicing rules
type LedgerConfig struct {
	// CreditPolicy is "warn" (approve and flag) or "block" (fail approval)
	CreditPolicy       string
	DefaultCreditLimit string
	// ApproveTimeout bounds a whole approval, lock waits included (seconds)
	ApproveTimeout int
	// PhoneRegion is the region used to parse phone numbers without a country code
	PhoneRegion    string
	InvoicePrefix  string
	DefaultGSTRate string
}

// InventoryConfig holds stock thresholds
type InventoryConfig struct {
	LowStockThresholdMeters string
	LowStockAlertEnabled    bool
	LowStockAlertCron       string
}

// NotificationsConfig configures outbound WhatsApp messages
type NotificationsConfig struct {
	// Provider is "log" or "whatsapp"
	Provider       string
	APIBaseURL     string
	PhoneNumberID  string
	AccessToken    string
	OwnerPhone     string
	RequestTimeout int
	ReminderCron   string
	RemindersOn    bool
	OverdueDays    int
}

// OutboxConfig configures the side-effect dispatcher
type OutboxConfig struct {
	Enabled      bool
	DispatchCron string
	BatchSize    int
	LockTTL      int
	MaxAttempts  int
	Timeout      int
}

// PDFConfig configures invoice rendering
type PDFConfig struct {
	Enabled bool
	Timeout int
}

// BusinessConfig is the merchant identity printed on invoices
type BusinessConfig struct {
	Name    string
	Address string
	Phone   string
	GSTIN   string
}

// ConnectionString builds PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// ReadTimeoutDuration returns read timeout as duration
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns write timeout as duration
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns request timeout as duration
func (s *ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// ConnMaxLifetimeDuration returns connection max lifetime as duration
func (d *DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Second
}

// LockTTLDuration returns the redis lock expiry as duration
func (r *RedisConfig) LockTTLDuration() time.Duration {
	return time.Duration(r.LockTTL) * time.Second
}

// LeewayDuration returns the allowed token clock skew
func (a *AuthConfig) LeewayDuration() time.Duration {
	return time.Duration(a.Leeway) * time.Second
}

// ApproveTimeoutDuration returns the approval deadline
func (l *LedgerConfig) ApproveTimeoutDuration() time.Duration {
	return time.Duration(l.ApproveTimeout) * time.Second
}

// RequestTimeoutDuration returns the outbound notification request timeout
func (n *NotificationsConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(n.RequestTimeout) * time.Second
}

// OverdueAfter returns the no-payment window after which a reminder is due
func (n *NotificationsConfig) OverdueAfter() time.Duration {
	return time.Duration(n.OverdueDays) * 24 * time.Hour
}

// LockTTLDuration returns how long a claimed outbox message stays locked
func (o *OutboxConfig) LockTTLDuration() time.Duration {
	return time.Duration(o.LockTTL) * time.Second
}

// TimeoutDuration returns the time budget of one dispatch run
func (o *OutboxConfig) TimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// TimeoutDuration returns the rendering budget for one invoice
func (p *PDFConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// Load loads configuration from file and environment variables
// This is a basic load that doesn't fetch secrets from vault
// Use LoadWithSecrets for full secret resolution
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override config file
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.ApiKey.Value == "" {
		cfg.ApiKey.Value = v.GetString("ADMIN_API_KEY")
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = v.GetString("JWT_SECRET")
	}
	if cfg.Notifications.AccessToken == "" {
		cfg.Notifications.AccessToken = v.GetString("WHATSAPP_TOKEN")
	}
	if cfg.Notifications.PhoneNumberID == "" {
		cfg.Notifications.PhoneNumberID = v.GetString("WHATSAPP_PHONE_NUMBER_ID")
	}
	if cfg.Notifications.OwnerPhone == "" {
		cfg.Notifications.OwnerPhone = v.GetString("OWNER_PHONE_NUMBER")
	}
	if cfg.Secrets.KeyVaultName == "" {
		cfg.Secrets.KeyVaultName = v.GetString("AZURE_KEY_VAULT_NAME")
	}

	return &cfg, nil
}

// LoadWithSecrets loads configuration and resolves secrets from the configured source.
// Key Vault is used only when USE_AZURE_KEY_VAULT=true and the environment is staging or
// production; otherwise environment variables are authoritative.
func LoadWithSecrets(ctx context.Context, logger *zap.Logger) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	useKeyVault := strings.ToLower(os.Getenv("USE_AZURE_KEY_VAULT")) == "true"
	isValidEnv := cfg.App.Environment == "staging" || cfg.App.Environment == "production"

	if !useKeyVault {
		logger.Info("USE_AZURE_KEY_VAULT not enabled, using environment variables for secrets",
			zap.String("environment", cfg.App.Environment),
		)
		return cfg, nil
	}

	if !isValidEnv {
		logger.Warn("USE_AZURE_KEY_VAULT is enabled but environment is not staging or production, using environment variables for secrets",
			zap.String("environment", cfg.App.Environment),
		)
		return cfg, nil
	}

	if cfg.Secrets.KeyVaultName == "" {
		return nil, fmt.Errorf("AZURE_KEY_VAULT_NAME is required when USE_AZURE_KEY_VAULT=true")
	}

	provider, err := secrets.NewProvider(&secrets.ProviderConfig{
		Source:       secrets.SourceVault,
		VaultName:    cfg.Secrets.KeyVaultName,
		Environment:  cfg.App.Environment,
		CacheEnabled: cfg.Secrets.CacheEnabled,
		CacheTTL:     time.Duration(cfg.Secrets.CacheTTL) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets provider: %w", err)
	}

	if err := applySecrets(ctx, cfg, provider); err != nil {
		return nil, err
	}

	logger.Info("Secrets loaded from vault successfully",
		zap.String("key_vault_name", cfg.Secrets.KeyVaultName),
	)
	return cfg, nil
}

// SecretGetter is the subset of secrets.Provider used to resolve configuration secrets
type SecretGetter interface {
	GetSecretOrEnv(ctx context.Context, secretName, envName string) (string, error)
}

func applySecrets(ctx context.Context, cfg *Config, provider SecretGetter) error {
	targets := []struct {
		secret string
		env    string
		dst    *string
	}{
		{"POSTGRES-MAIN-HOST", "DATABASE_HOST", &cfg.Database.Host},
		{"POSTGRES-MAIN-USER", "DATABASE_USER", &cfg.Database.User},
		{"POSTGRES-MAIN-PASSWORD", "DATABASE_PASSWORD", &cfg.Database.Password},
		{"admin-api-key", "ADMIN_API_KEY", &cfg.ApiKey.Value},
		{"merchant-jwt-secret", "JWT_SECRET", &cfg.Auth.JWTSecret},
		{"redis-password", "REDIS_PASSWORD", &cfg.Redis.Password},
		{"storage-connection-string", "STORAGE_CLOUDCONNECTIONSTRING", &cfg.Storage.CloudConnectionString},
		{"whatsapp-access-token", "WHATSAPP_TOKEN", &cfg.Notifications.AccessToken},
	}

	for _, t := range targets {
		value, err := provider.GetSecretOrEnv(ctx, t.secret, t.env)
		if err != nil || value == "" {
			continue
		}
		*t.dst = value
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("merchant JWT secret could not be resolved from vault or environment")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Merchant Ledger API")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.port", 8080)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.user", "ledger_user")
	v.SetDefault("database.password", "ledger_password")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.sqlitePath", "ledger.db")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 300)
	v.SetDefault("database.autoMigrate", false)

	// Redis defaults (optional, used for distributed locks)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", 30)

	// Auth defaults
	v.SetDefault("auth.issuer", "merchant-auth")
	v.SetDefault("auth.leeway", 30)

	// Secrets defaults
	v.SetDefault("secrets.source", "auto")
	v.SetDefault("secrets.cacheEnabled", true)
	v.SetDefault("secrets.cacheTTL", 300)

	// Storage defaults
	v.SetDefault("storage.mode", "local")
	v.SetDefault("storage.localBasePath", "./storage")
	v.SetDefault("storage.cloudContainer", "invoices")
	v.SetDefault("storage.maxUploadSizeMB", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Server defaults
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.requestTimeout", 60)
	v.SetDefault("server.enableSwagger", true)

	// CORS defaults - restrictive by default
	v.SetDefault("cors.allowedOrigins", []string{})
	v.SetDefault("cors.allowedMethods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowedHeaders", []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "Idempotency-Key"})
	v.SetDefault("cors.exposedHeaders", []string{"Location", "X-Request-ID"})
	v.SetDefault("cors.allowCredentials", true)
	v.SetDefault("cors.maxAge", 300)

	// Security header defaults
	v.SetDefault("security.enableHSTS", false)
	v.SetDefault("security.hstsMaxAge", 31536000)
	v.SetDefault("security.hstsIncludeSubdomains", true)
	v.SetDefault("security.hstsPreload", false)
	v.SetDefault("security.contentSecurityPolicy", "default-src 'self'")
	v.SetDefault("security.frameOptions", "DENY")
	v.SetDefault("security.contentTypeNosniff", true)
	v.SetDefault("security.xssProtection", "1; mode=block")
	v.SetDefault("security.referrerPolicy", "strict-origin-when-cross-origin")
	v.SetDefault("security.permissionsPolicy", "geolocation=(), microphone=(), camera=()")

	// Rate limiting defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.requestsPerMinuteAuth", 240)
	v.SetDefault("rateLimit.whitelistIPs", []string{"127.0.0.1", "::1"})
	v.SetDefault("rateLimit.whitelistPaths", []string{"/health", "/health/db", "/health/ready"})

	// Ledger defaults
	v.SetDefault("ledger.creditPolicy", "warn")
	v.SetDefault("ledger.defaultCreditLimit", "0")
	v.SetDefault("ledger.approveTimeout", 10)
	v.SetDefault("ledger.phoneRegion", "IN")
	v.SetDefault("ledger.invoicePrefix", "INV")
	v.SetDefault("ledger.defaultGSTRate", "0")

	// Inventory defaults
	v.SetDefault("inventory.lowStockThresholdMeters", "50")
	v.SetDefault("inventory.lowStockAlertEnabled", true)
	v.SetDefault("inventory.lowStockAlertCron", "0 0 9 * * *")

	// Notification defaults
	v.SetDefault("notifications.provider", "log")
	v.SetDefault("notifications.apiBaseURL", "https://graph.facebook.com/v18.0")
	v.SetDefault("notifications.requestTimeout", 15)
	v.SetDefault("notifications.reminderCron", "0 0 10 * * *")
	v.SetDefault("notifications.remindersOn", true)
	v.SetDefault("notifications.overdueDays", 7)

	// Outbox defaults
	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.dispatchCron", "@every 5s")
	v.SetDefault("outbox.batchSize", 25)
	v.SetDefault("outbox.lockTTL", 60)
	v.SetDefault("outbox.maxAttempts", 5)
	v.SetDefault("outbox.timeout", 120)

	// PDF defaults
	v.SetDefault("pdf.enabled", true)
	v.SetDefault("pdf.timeout", 30)
}
