package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/rules"
)

// Config holds all configuration for the fraud service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Locking   LockingConfig   `mapstructure:"locking"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Brokers          []string      `mapstructure:"brokers"`
	ConsumerGroup    string        `mapstructure:"consumer_group"`
	TransactionTopic string        `mapstructure:"transaction_topic"`
	AlertsTopic      string        `mapstructure:"alerts_topic"`
	AuditTopic       string        `mapstructure:"audit_topic"`
	ProduceTimeout   time.Duration `mapstructure:"produce_timeout"`

	// Circuit breaker around the audit publisher
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// RulesConfig holds the rule table. It is converted once into rules.Thresholds.
type RulesConfig struct {
	// Amount spike
	SpikeHistorySize   int     `mapstructure:"spike_history_size"`
	SpikeMediumRatio   float64 `mapstructure:"spike_medium_ratio"`
	SpikeHighRatio     float64 `mapstructure:"spike_high_ratio"`
	SpikeCriticalRatio float64 `mapstructure:"spike_critical_ratio"`

	// Velocity
	VelocityWindow        time.Duration `mapstructure:"velocity_window"`
	VelocityMediumCount   int           `mapstructure:"velocity_medium_count"`
	VelocityHighCount     int           `mapstructure:"velocity_high_count"`
	VelocityCriticalCount int           `mapstructure:"velocity_critical_count"`

	// Odd hours
	OddHourStart int    `mapstructure:"odd_hour_start"`
	OddHourEnd   int    `mapstructure:"odd_hour_end"`
	TimeZone     string `mapstructure:"time_zone"`

	// Merchant
	HighRiskCategories []string `mapstructure:"high_risk_categories"`

	// High value
	HighValueMedium   string `mapstructure:"high_value_medium"`
	HighValueHigh     string `mapstructure:"high_value_high"`
	HighValueCritical string `mapstructure:"high_value_critical"`

	// Status policy of the administrative analyze action
	AnalyzePolicy string `mapstructure:"analyze_policy"`

	// Passes slower than this are logged
	LatencyBudget time.Duration `mapstructure:"latency_budget"`
}

// LockingConfig selects the per-account serialization backend
type LockingConfig struct {
	Backend    string        `mapstructure:"backend"` // local, redis
	TTL        time.Duration `mapstructure:"ttl"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	Environment   string  `mapstructure:"environment"`
	OTLPEndpoint  string  `mapstructure:"otlp_endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("FRAUD_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/fraud-service")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults + env
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Locking.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown locking backend %q", c.Locking.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	if _, err := c.Rules.Policy(); err != nil {
		return err
	}
	if _, err := c.Rules.Thresholds(); err != nil {
		return err
	}
	return nil
}

// Policy returns the status policy of the analyze action
func (r RulesConfig) Policy() (domain.StatusPolicy, error) {
	p := domain.StatusPolicy(strings.ToLower(r.AnalyzePolicy))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown analyze policy %q", r.AnalyzePolicy)
	}
	return p, nil
}

// Thresholds builds the immutable rule table, keeping the canonical scores and severities
func (r RulesConfig) Thresholds() (rules.Thresholds, error) {
	t := rules.DefaultThresholds()

	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return t, fmt.Errorf("load time zone %q: %w", r.TimeZone, err)
	}
	t.Location = loc

	t.SpikeHistorySize = r.SpikeHistorySize
	t.SpikeTiers[0].Bound = decimal.NewFromFloat(r.SpikeCriticalRatio)
	t.SpikeTiers[1].Bound = decimal.NewFromFloat(r.SpikeHighRatio)
	t.SpikeTiers[2].Bound = decimal.NewFromFloat(r.SpikeMediumRatio)

	t.VelocityWindow = r.VelocityWindow
	t.VelocityTiers[0].Bound = r.VelocityCriticalCount
	t.VelocityTiers[1].Bound = r.VelocityHighCount
	t.VelocityTiers[2].Bound = r.VelocityMediumCount

	t.OddHourStart = r.OddHourStart
	t.OddHourEnd = r.OddHourEnd

	t.HighRiskCategories = make([]string, 0, len(r.HighRiskCategories))
	for _, c := range r.HighRiskCategories {
		t.HighRiskCategories = append(t.HighRiskCategories, strings.ToUpper(strings.TrimSpace(c)))
	}

	for i, s := range []string{r.HighValueCritical, r.HighValueHigh, r.HighValueMedium} {
		bound, err := decimal.NewFromString(s)
		if err != nil {
			return t, fmt.Errorf("parse high value bound %q: %w", s, err)
		}
		t.HighValueTiers[i].Bound = bound
	}

	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("invalid rules: %w", err)
	}
	return t, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "fraud_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("database.query_timeout", "5s")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "fraud-service-group")
	v.SetDefault("kafka.transaction_topic", "loyalty.transactions.created")
	v.SetDefault("kafka.alerts_topic", "loyalty.fraud.alerts")
	v.SetDefault("kafka.audit_topic", "loyalty.audit.logs")
	v.SetDefault("kafka.produce_timeout", "5s")
	v.SetDefault("kafka.breaker_max_failures", 5)
	v.SetDefault("kafka.breaker_open_timeout", "30s")

	// Rule defaults
	v.SetDefault("rules.spike_history_size", 10)
	v.SetDefault("rules.spike_medium_ratio", 1.5)
	v.SetDefault("rules.spike_high_ratio", 2.0)
	v.SetDefault("rules.spike_critical_ratio", 3.0)
	v.SetDefault("rules.velocity_window", "10m")
	v.SetDefault("rules.velocity_medium_count", 3)
	v.SetDefault("rules.velocity_high_count", 5)
	v.SetDefault("rules.velocity_critical_count", 10)
	v.SetDefault("rules.odd_hour_start", 23)
	v.SetDefault("rules.odd_hour_end", 6)
	v.SetDefault("rules.time_zone", "Local")
	v.SetDefault("rules.high_risk_categories", []string{
		"GAMBLING", "CRYPTOCURRENCY", "ADULT", "PHARMACEUTICALS",
		"MONEY_TRANSFER", "WIRE_TRANSFER", "GIFT_CARDS",
	})
	v.SetDefault("rules.high_value_medium", "20000")
	v.SetDefault("rules.high_value_high", "50000")
	v.SetDefault("rules.high_value_critical", "100000")
	v.SetDefault("rules.analyze_policy", string(domain.PolicyBlockOnCritical))
	v.SetDefault("rules.latency_budget", "250ms")

	// Locking defaults
	v.SetDefault("locking.backend", "local")
	v.SetDefault("locking.ttl", "30s")
	v.SetDefault("locking.retry_delay", "25ms")
	v.SetDefault("locking.key_prefix", "fraud:lock:account:")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "fraud-service")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 0.1)

	// Log defaults
	v.SetDefault("log.debug", false)
}
