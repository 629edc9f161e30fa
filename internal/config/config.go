// Package config loads the action service configuration: a YAML file, then
// environment overrides, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/venuesync/backend/internal/circuitbreaker"
	"github.com/venuesync/backend/internal/executor"
	"github.com/venuesync/backend/internal/gate"
	"github.com/venuesync/backend/internal/middleware"
	"github.com/venuesync/backend/internal/telemetry"
	"github.com/venuesync/backend/internal/webhooks"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Gate       GateConfig       `yaml:"gate"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Events     EventsConfig     `yaml:"events"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" env:"PORT"`
	Env          string        `yaml:"env" env:"APP_ENV"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// Development reports whether the server runs with development defaults
// such as text logs.
func (s ServerConfig) Development() bool { return s.Env == "development" }

// Store drivers.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver      string `yaml:"driver" env:"STORE_DRIVER"`
	DSN         string `yaml:"dsn" env:"DATABASE_URL"`
	SupabaseURL string `yaml:"supabase_url" env:"SUPABASE_URL"`
	SupabaseKey string `yaml:"supabase_key" env:"SUPABASE_SERVICE_KEY"`
	// AutoMigrate creates missing tables at startup. SQL drivers only.
	AutoMigrate bool `yaml:"auto_migrate" env:"STORE_AUTO_MIGRATE"`
}

type GateConfig struct {
	ExpiryWindow       time.Duration    `yaml:"expiry_window" env:"GATE_EXPIRY_WINDOW"`
	ExpiringSoonWindow time.Duration    `yaml:"expiring_soon_window" env:"GATE_EXPIRING_SOON_WINDOW"`
	EnforceExpiry      bool             `yaml:"enforce_expiry" env:"GATE_ENFORCE_EXPIRY"`
	Thresholds         ThresholdsConfig `yaml:"thresholds"`
	Rules              []RuleConfig     `yaml:"rules"`
}

// ThresholdsConfig mirrors gate.Thresholds. Unset fields keep the gate
// defaults; in a venue override they keep the global value.
type ThresholdsConfig struct {
	RevenueChange        float64 `yaml:"revenue_change" env:"GATE_REVENUE_CHANGE"`
	CustomerImpact       int     `yaml:"customer_impact" env:"GATE_CUSTOMER_IMPACT"`
	MinAIConfidence      float64 `yaml:"min_ai_confidence" env:"GATE_MIN_AI_CONFIDENCE"`
	HighRiskApproval     *bool   `yaml:"high_risk_approval"`
	HighPriorityApproval *bool   `yaml:"high_priority_approval"`
}

// RuleConfig is an extra approval rule written in CEL over `action` and
// `impact`.
type RuleConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

type ServiceConnector struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type ConnectorsConfig struct {
	POS        ServiceConnector `yaml:"pos" envPrefix:"POS_"`
	Eventbrite ServiceConnector `yaml:"eventbrite" envPrefix:"EVENTBRITE_"`
	OpenDate   ServiceConnector `yaml:"opendate" envPrefix:"OPENDATE_"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD"`
	Timeout          time.Duration `yaml:"timeout" env:"BREAKER_TIMEOUT"`
	Interval         time.Duration `yaml:"interval" env:"BREAKER_INTERVAL"`
}

type RateLimitConfig struct {
	middleware.RateLimitConfig `yaml:",inline"`
	Enabled                    bool   `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RedisAddr                  string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword              string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB                    int    `yaml:"redis_db" env:"REDIS_DB"`
}

type EventsConfig struct {
	PubSubProject string `yaml:"pubsub_project" env:"PUBSUB_PROJECT_ID"`
	PubSubTopic   string `yaml:"pubsub_topic" env:"PUBSUB_TOPIC"`
}

type WebhooksConfig struct {
	Workers       int                            `yaml:"workers" env:"WEBHOOK_WORKERS"`
	TasksProject  string                         `yaml:"tasks_project" env:"CLOUD_TASKS_PROJECT"`
	TasksLocation string                         `yaml:"tasks_location" env:"CLOUD_TASKS_LOCATION"`
	TasksQueue    string                         `yaml:"tasks_queue" env:"CLOUD_TASKS_QUEUE"`
	Subscriptions []webhooks.WebhookSubscription `yaml:"subscriptions"`
}

// CloudTasks reports whether durable delivery is configured.
func (w WebhooksConfig) CloudTasks() bool {
	return w.TasksProject != "" && w.TasksLocation != "" && w.TasksQueue != ""
}

// LoadConfig reads path, applies environment overrides and fills defaults.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Store.Driver == "" {
		if c.Store.SupabaseURL != "" {
			c.Store.Driver = StoreSupabase
		} else {
			c.Store.Driver = StoreSQLite
		}
	}
	if c.Store.Driver == StoreSQLite && c.Store.DSN == "" {
		c.Store.DSN = "file:venuesync.db?_pragma=busy_timeout(5000)"
	}

	gd := gate.DefaultConfig()
	if c.Gate.ExpiryWindow <= 0 {
		c.Gate.ExpiryWindow = gd.ExpiryWindow
	}
	if c.Gate.ExpiringSoonWindow <= 0 {
		c.Gate.ExpiringSoonWindow = gd.ExpiringSoonWindow
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = 60 * time.Second
	}

	if c.RateLimit.MaxCallsPerMinute <= 0 {
		c.RateLimit.MaxCallsPerMinute = 120
	}
	if c.RateLimit.BurstSize <= 0 {
		c.RateLimit.BurstSize = 20
	}

	if c.Webhooks.Workers <= 0 {
		c.Webhooks.Workers = 4
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreSupabase:
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			errs = append(errs, errors.New("store: supabase driver needs supabase_url and supabase_key"))
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: postgres driver needs a dsn"))
		}
	case StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	if c.Gate.ExpiringSoonWindow >= c.Gate.ExpiryWindow {
		errs = append(errs, errors.New("gate: expiring_soon_window must be shorter than expiry_window"))
	}
	for i, r := range c.Gate.Rules {
		if r.Name == "" || r.Expression == "" {
			errs = append(errs, fmt.Errorf("gate: rule %d needs a name and an expression", i))
		}
	}
	if (c.Events.PubSubProject == "") != (c.Events.PubSubTopic == "") {
		errs = append(errs, errors.New("events: pubsub_project and pubsub_topic go together"))
	}
	return errors.Join(errs...)
}

// GateSettings converts the expiry settings.
func (c *Config) GateSettings() gate.Config {
	return gate.Config{
		ExpiryWindow:       c.Gate.ExpiryWindow,
		ExpiringSoonWindow: c.Gate.ExpiringSoonWindow,
		EnforceExpiry:      c.Gate.EnforceExpiry,
	}
}

// Policy compiles the global thresholds and CEL rules.
func (c *Config) Policy() (*gate.Policy, error) {
	rules := make([]gate.Rule, 0, len(c.Gate.Rules))
	for _, r := range c.Gate.Rules {
		rules = append(rules, gate.Rule{Name: r.Name, Expression: r.Expression})
	}
	return gate.NewPolicy(c.Gate.Thresholds.Apply(gate.DefaultThresholds()), rules)
}

// Apply overlays the set fields of t onto base.
func (t ThresholdsConfig) Apply(base gate.Thresholds) gate.Thresholds {
	if t.RevenueChange > 0 {
		base.RevenueChange = t.RevenueChange
	}
	if t.CustomerImpact > 0 {
		base.CustomerImpact = t.CustomerImpact
	}
	if t.MinAIConfidence > 0 {
		base.MinAIConfidence = t.MinAIConfidence
	}
	if t.HighRiskApproval != nil {
		base.HighRiskApproval = *t.HighRiskApproval
	}
	if t.HighPriorityApproval != nil {
		base.HighPriorityApproval = *t.HighPriorityApproval
	}
	return base
}

// ConnectorSettings converts the per-service connector settings.
func (c *Config) ConnectorSettings() executor.Connectors {
	conv := func(s ServiceConnector) executor.ConnectorConfig {
		return executor.ConnectorConfig{BaseURL: s.BaseURL, Token: s.Token, Timeout: s.Timeout}
	}
	return executor.Connectors{
		POS:        conv(c.Connectors.POS),
		Eventbrite: conv(c.Connectors.Eventbrite),
		OpenDate:   conv(c.Connectors.OpenDate),
	}
}

// BreakerSettings returns the shared breaker configuration. The name is
// filled in per connector by the manager.
func (c *Config) BreakerSettings() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("")
	cfg.Timeout = c.Breaker.Timeout
	cfg.Interval = c.Breaker.Interval
	cfg.ReadyToTrip = circuitbreaker.ConsecutiveFailures(c.Breaker.FailureThreshold)
	return cfg
}
