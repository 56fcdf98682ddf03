package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Encryption   EncryptionConfig
	RateLimit    RateLimitConfig
	Storage      StorageConfig
	Mail         MailConfig
	Billing      BillingConfig
	Auth         AuthConfig
	Housekeeping HousekeepingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string
	SiteURL        string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// StorageConfig selects and configures the blob store backing avatars and logos.
type StorageConfig struct {
	Driver           string // s3, gcs, minio, memory
	Bucket           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	CredentialsFile  string
	// PublicBaseURL is where stored objects are served from, e.g. a CDN in
	// front of the bucket. Empty uses the bucket's own object URL.
	PublicBaseURL string
	// URLExpiryMinutes bounds how long an upload URL stays valid.
	URLExpiryMinutes int
}

type MailConfig struct {
	SMTPHost            string
	SMTPPort            int
	SMTPUser            string
	SMTPPassword        string
	From                string
	ResendWebhookSecret string
}

type BillingConfig struct {
	CreemAPIKey        string
	CreemBaseURL       string
	CreemWebhookSecret string
}

type AuthConfig struct {
	// OrganizationsEnabled wires the personal organization and cascade hooks.
	OrganizationsEnabled bool
	SendEmails           bool
	RequireVerifyEmail   bool
	MagicLink            bool
	EmailOTP             bool
	APIKeys              bool
	// DeviceClientID enables the device authorization grant for one client.
	DeviceClientID       string
	GithubClientID       string
	GithubClientSecret   string
	GoogleClientID       string
	GoogleClientSecret   string
}

type HousekeepingConfig struct {
	Cron string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (s *StorageConfig) URLExpiry() time.Duration {
	return time.Duration(s.URLExpiryMinutes) * time.Minute
}

// MailEnabled reports whether outgoing mail has somewhere to go.
func (m *MailConfig) MailEnabled() bool {
	return m.SMTPHost != ""
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("SITE_URL", "http://localhost:5173")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "goorgs")
	v.SetDefault("DATABASE_PASSWORD", "goorgs_secret")
	v.SetDefault("DATABASE_NAME", "goorgs")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24*7)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("STORAGE_DRIVER", "memory")
	v.SetDefault("STORAGE_BUCKET", "goorgs")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_URL_EXPIRY_MINUTES", 60)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "Go Orgs <noreply@localhost>")
	v.SetDefault("CREEM_BASE_URL", "https://test-api.creem.io")
	v.SetDefault("AUTH_ORGANIZATIONS", true)
	v.SetDefault("AUTH_SEND_EMAILS", false)
	v.SetDefault("AUTH_REQUIRE_EMAIL_VERIFICATION", false)
	v.SetDefault("AUTH_MAGIC_LINK", false)
	v.SetDefault("AUTH_EMAIL_OTP", false)
	v.SetDefault("AUTH_API_KEYS", false)
	v.SetDefault("HOUSEKEEPING_CRON", "*/15 * * * *")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			SiteURL:        strings.TrimRight(v.GetString("SITE_URL"), "/"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Storage: StorageConfig{
			Driver:           strings.ToLower(v.GetString("STORAGE_DRIVER")),
			Bucket:           v.GetString("STORAGE_BUCKET"),
			Region:           v.GetString("STORAGE_REGION"),
			Endpoint:         v.GetString("STORAGE_ENDPOINT"),
			AccessKeyID:      v.GetString("STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey:  v.GetString("STORAGE_SECRET_ACCESS_KEY"),
			UseSSL:           v.GetBool("STORAGE_USE_SSL"),
			CredentialsFile:  v.GetString("STORAGE_CREDENTIALS_FILE"),
			PublicBaseURL:    strings.TrimRight(v.GetString("STORAGE_PUBLIC_BASE_URL"), "/"),
			URLExpiryMinutes: v.GetInt("STORAGE_URL_EXPIRY_MINUTES"),
		},
		Mail: MailConfig{
			SMTPHost:            v.GetString("SMTP_HOST"),
			SMTPPort:            v.GetInt("SMTP_PORT"),
			SMTPUser:            v.GetString("SMTP_USER"),
			SMTPPassword:        v.GetString("SMTP_PASSWORD"),
			From:                v.GetString("MAIL_FROM"),
			ResendWebhookSecret: v.GetString("RESEND_WEBHOOK_SECRET"),
		},
		Billing: BillingConfig{
			CreemAPIKey:        v.GetString("CREEM_API_KEY"),
			CreemBaseURL:       strings.TrimRight(v.GetString("CREEM_BASE_URL"), "/"),
			CreemWebhookSecret: v.GetString("CREEM_WEBHOOK_SECRET"),
		},
		Auth: AuthConfig{
			OrganizationsEnabled: v.GetBool("AUTH_ORGANIZATIONS"),
			SendEmails:           v.GetBool("AUTH_SEND_EMAILS"),
			RequireVerifyEmail:   v.GetBool("AUTH_REQUIRE_EMAIL_VERIFICATION"),
			MagicLink:            v.GetBool("AUTH_MAGIC_LINK"),
			EmailOTP:             v.GetBool("AUTH_EMAIL_OTP"),
			APIKeys:              v.GetBool("AUTH_API_KEYS"),
			DeviceClientID:       v.GetString("DEVICE_AUTHORIZATION_CLIENT_ID"),
			GithubClientID:       v.GetString("GITHUB_CLIENT_ID"),
			GithubClientSecret:   v.GetString("GITHUB_CLIENT_SECRET"),
			GoogleClientID:       v.GetString("GOOGLE_CLIENT_ID"),
			GoogleClientSecret:   v.GetString("GOOGLE_CLIENT_SECRET"),
		},
		Housekeeping: HousekeepingConfig{
			Cron: v.GetString("HOUSEKEEPING_CRON"),
		},
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
