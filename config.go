package shopagent

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config is the loaded configuration of every runtime component.
type Config struct {
	Name   string       `koanf:"name" json:"name"`
	Debug  bool         `koanf:"debug" json:"debug"`
	Server ServerConfig `koanf:"server" json:"server"`
	Store  StoreConfig  `koanf:"store" json:"store"`
	Auth   AuthConfig   `koanf:"auth" json:"auth"`
	Google GoogleConfig `koanf:"google" json:"google"`
	Mail   MailConfig   `koanf:"mail" json:"mail"`
	Pages  PagesConfig  `koanf:"pages" json:"pages"`
}

// ServerConfig configures the HTTP exposure of the background context.
type ServerConfig struct {
	Addr        string `koanf:"addr" json:"addr"`
	BaseURL     string `koanf:"base_url" json:"base_url"`
	AccessToken string `koanf:"access_token" json:"-"`
}

// StoreConfig selects the session backend.
type StoreConfig struct {
	Driver    string `koanf:"driver" json:"driver"`
	DSN       string `koanf:"dsn" json:"dsn"`
	RedisURL  string `koanf:"redis_url" json:"redis_url"`
	Namespace string `koanf:"namespace" json:"namespace"`
}

// AuthConfig tunes the auth gateway and the local identity provider.
type AuthConfig struct {
	ProviderTimeout     string `koanf:"provider_timeout" json:"provider_timeout"`
	InteractiveTimeout  string `koanf:"interactive_timeout" json:"interactive_timeout"`
	MinPasswordLength   int    `koanf:"min_password_length" json:"min_password_length"`
	SigningKey          string `koanf:"signing_key" json:"signing_key"`
	VerificationBaseURL string `koanf:"verification_base_url" json:"verification_base_url"`
	KeyringService      string `koanf:"keyring_service" json:"keyring_service"`
}

// GoogleConfig configures the federated sign-in flow.
type GoogleConfig struct {
	ClientID    string `koanf:"client_id" json:"client_id"`
	RedirectURL string `koanf:"redirect_url" json:"redirect_url"`
	JWKSURL     string `koanf:"jwks_url" json:"jwks_url"`
}

// MailConfig configures the SMTP mailer for verification emails.
type MailConfig struct {
	Host     string `koanf:"host" json:"host"`
	Port     int    `koanf:"port" json:"port"`
	Username string `koanf:"username" json:"username"`
	Password string `koanf:"password" json:"-"`
	From     string `koanf:"from" json:"from"`
	FromName string `koanf:"from_name" json:"from_name"`
}

// PagesConfig lists the supported retailer domains and product paths.
type PagesConfig struct {
	Domains      []string `koanf:"domains" json:"domains"`
	ProductPaths []string `koanf:"product_paths" json:"product_paths"`
}

const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"

	DefaultProviderTimeout    = 30 * time.Second
	DefaultInteractiveTimeout = 5 * time.Minute
	DefaultMinPasswordLength  = 6
)

// DefaultConfig returns a config usable without any file.
func DefaultConfig() *Config {
	return &Config{
		Name: "shopagent",
		Server: ServerConfig{
			Addr:    "127.0.0.1:8572",
			BaseURL: "http://127.0.0.1:8572",
		},
		Store: StoreConfig{
			Driver:    StoreDriverSQLite,
			DSN:       "file:shopagent.db?cache=shared",
			Namespace: "default",
		},
		Auth: AuthConfig{
			ProviderTimeout:    DefaultProviderTimeout.String(),
			InteractiveTimeout: DefaultInteractiveTimeout.String(),
			MinPasswordLength:  DefaultMinPasswordLength,
			KeyringService:     "go-shopagent",
		},
		Google: GoogleConfig{
			JWKSURL: "https://www.googleapis.com/oauth2/v3/certs",
		},
		Mail: MailConfig{
			Port:     587,
			FromName: "Shop Agent",
		},
	}
}

// Validate implements the config container contract.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Store),
		validation.Field(&c.Auth),
		validation.Field(&c.Mail),
	)
}

// Validate checks the server section.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
		validation.Field(&s.BaseURL, is.URL),
	)
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required,
			validation.In(StoreDriverMemory, StoreDriverSQLite, StoreDriverRedis)),
		validation.Field(&s.DSN, validation.When(s.Driver == StoreDriverSQLite, validation.Required)),
		validation.Field(&s.RedisURL, validation.When(s.Driver == StoreDriverRedis, validation.Required)),
		validation.Field(&s.Namespace, validation.Required),
	)
}

// Validate checks the auth section.
func (a AuthConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ProviderTimeout, validation.By(durationRule)),
		validation.Field(&a.InteractiveTimeout, validation.By(durationRule)),
		validation.Field(&a.MinPasswordLength, validation.Min(1)),
	)
}

// Validate checks the mail section.
func (m MailConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.From, is.Email),
		validation.Field(&m.Port, validation.Min(0), validation.Max(65535)),
	)
}

// GetProviderTimeout parses ProviderTimeout, falling back to the default.
func (a AuthConfig) GetProviderTimeout() time.Duration {
	return parseDuration(a.ProviderTimeout, DefaultProviderTimeout)
}

// GetInteractiveTimeout parses InteractiveTimeout, falling back to the default.
func (a AuthConfig) GetInteractiveTimeout() time.Duration {
	return parseDuration(a.InteractiveTimeout, DefaultInteractiveTimeout)
}

// GetMinPasswordLength returns the configured minimum or the default.
func (a AuthConfig) GetMinPasswordLength() int {
	if a.MinPasswordLength <= 0 {
		return DefaultMinPasswordLength
	}
	return a.MinPasswordLength
}

// IsConfigured reports whether an SMTP host and sender are set.
func (m MailConfig) IsConfigured() bool {
	return m.Host != "" && m.From != ""
}

// Addr returns host:port for the SMTP server.
func (m MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

func durationRule(value any) error {
	expr, _ := value.(string)
	if expr == "" {
		return nil
	}
	if _, err := time.ParseDuration(expr); err != nil {
		return fmt.Errorf("invalid duration %q", expr)
	}
	return nil
}

func parseDuration(expr string, fallback time.Duration) time.Duration {
	if expr == "" {
		return fallback
	}
	d, err := time.ParseDuration(expr)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
