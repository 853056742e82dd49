package config

import (
	"fmt"
	"time"
)

type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Webhook       WebhookConfig           `mapstructure:"webhook"`
	Provisioning  ProvisioningConfig      `mapstructure:"provisioning"`
	Catalog       CatalogConfig           `mapstructure:"catalog"`
	Payments      PaymentsConfig          `mapstructure:"payments"`
	Tenants       map[string]TenantConfig `mapstructure:"tenants"`
	Reconcile     ReconcileConfig         `mapstructure:"reconcile"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Tracing       TracingConfig           `mapstructure:"tracing"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
	MessageTTL     int    `mapstructure:"message_ttl"`     // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// Webhook delivery modes.
const (
	WebhookModeInline = "inline"
	WebhookModeZeebe  = "zeebe"
)

type WebhookConfig struct {
	ListenAddress    string `mapstructure:"listen_address"`
	Path             string `mapstructure:"path"`
	SigningSecret    string `mapstructure:"signing_secret"`
	ToleranceSeconds int    `mapstructure:"tolerance_seconds"`
	Mode             string `mapstructure:"mode"`
	MaxBodyBytes     int64  `mapstructure:"max_body_bytes"`
}

func (w WebhookConfig) Tolerance() time.Duration {
	return time.Duration(w.ToleranceSeconds) * time.Second
}

type ProvisioningConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	AttemptTimeoutMs int `mapstructure:"attempt_timeout_ms"`
}

type CatalogConfig struct {
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
	CacheEnabled    bool `mapstructure:"cache_enabled"`
}

func (c CatalogConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type PaymentsConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
	PageSize int    `mapstructure:"page_size"`
}

// TenantConfig carries per-tenant payment processor credentials. Empty
// values fall back to the global webhook secret and payments API key.
type TenantConfig struct {
	PaymentAPIKey  string `mapstructure:"payment_api_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	PaymentAccount string `mapstructure:"payment_account"`
}

type ReconcileConfig struct {
	WindowHours int  `mapstructure:"window_hours"`
	Concurrency int  `mapstructure:"concurrency"`
	Heal        bool `mapstructure:"heal"`
}

func (r ReconcileConfig) Window() time.Duration {
	return time.Duration(r.WindowHours) * time.Hour
}

type AuditConfig struct {
	EnableElasticsearch bool   `mapstructure:"enable_elasticsearch"`
	ElasticsearchIndex  string `mapstructure:"elasticsearch_index"`
}

type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		Operators []string `mapstructure:"operators"`
	} `mapstructure:"ses"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
