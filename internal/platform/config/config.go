package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Tag runtimes.
const (
	RuntimeNone      = "none"
	RuntimeDataLayer = "datalayer"
	RuntimeKafka     = "kafka"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `yaml:"addr"`
	LogLevel          string        `yaml:"log_level"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	VisitorSigningKey string        `yaml:"visitor_signing_key"`
	SecureCookies     bool          `yaml:"secure_cookies"`
	Storage           string        `yaml:"storage"`
	TrustedProxies    []string      `yaml:"trusted_proxies"`

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	TagManager TagManagerConfig `yaml:"tag_manager"`
	Audit      AuditConfig      `yaml:"audit"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	PurgeInterval   time.Duration `yaml:"purge_interval"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL           string        `yaml:"url"`
	PoolSize      int           `yaml:"pool_size"`
	MinIdleConns  int           `yaml:"min_idle_conns"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// KafkaConfig holds broker settings for the server-side tag runtime.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	CreateTopic       bool     `yaml:"create_topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
	FailureThreshold  int      `yaml:"failure_threshold"`
}

// TagManagerConfig selects the runtime that receives consent updates.
type TagManagerConfig struct {
	Runtime       string        `yaml:"runtime"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// AuditConfig controls audit event publishing.
type AuditConfig struct {
	Async      bool `yaml:"async"`
	BufferSize int  `yaml:"buffer_size"`
}

// Default returns a development configuration.
func Default() Server {
	return Server{
		Addr:              ":8080",
		LogLevel:          "info",
		RequestTimeout:    10 * time.Second,
		VisitorSigningKey: "dev-visitor-key-change-in-production",
		Storage:           StorageMemory,
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			PurgeInterval:   time.Hour,
		},
		Redis: RedisConfig{
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			StatsInterval: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:             "consent-updates",
			Partitions:        3,
			ReplicationFactor: 1,
			FailureThreshold:  5,
		},
		TagManager: TagManagerConfig{
			Runtime:       RuntimeDataLayer,
			ProbeInterval: 2 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
	}
}

// FromEnv builds the configuration so main stays lean. Precedence, lowest to
// highest: defaults, the YAML file named by TAGCONSENT_CONFIG_FILE, process
// environment (including a .env file when present).
func FromEnv(envFiles ...string) (Server, error) {
	_ = godotenv.Load(envFiles...)

	cfg := Default()
	if path := os.Getenv("TAGCONSENT_CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Server{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Server) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage %q requires REDIS_URL", c.Storage)
		}
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("storage %q requires DATABASE_URL", c.Storage)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}

	switch c.TagManager.Runtime {
	case RuntimeNone, RuntimeDataLayer:
	case RuntimeKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("runtime %q requires KAFKA_BROKERS", c.TagManager.Runtime)
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("runtime %q requires a topic", c.TagManager.Runtime)
		}
	default:
		return fmt.Errorf("unknown tag runtime %q", c.TagManager.Runtime)
	}

	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
	}

	if c.VisitorSigningKey == "" {
		return fmt.Errorf("visitor signing key is required")
	}
	return nil
}

func loadYAML(path string, cfg *Server) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Server) error {
	setString(&cfg.Addr, "TAGCONSENT_ADDR")
	setString(&cfg.LogLevel, "TAGCONSENT_LOG_LEVEL")
	setString(&cfg.VisitorSigningKey, "VISITOR_SIGNING_KEY")
	setString(&cfg.Storage, "TAGCONSENT_STORAGE")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Kafka.Topic, "KAFKA_CONSENT_TOPIC")
	setString(&cfg.TagManager.Runtime, "TAGCONSENT_RUNTIME")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("TAGCONSENT_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if err := setBool(&cfg.SecureCookies, "COOKIE_SECURE"); err != nil {
		return err
	}
	if err := setBool(&cfg.Kafka.CreateTopic, "KAFKA_CREATE_TOPIC"); err != nil {
		return err
	}
	if err := setBool(&cfg.Audit.Async, "AUDIT_ASYNC"); err != nil {
		return err
	}
	if err := setDuration(&cfg.RequestTimeout, "TAGCONSENT_REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.TagManager.ProbeInterval, "TAGCONSENT_PROBE_INTERVAL"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TrustedProxyPrefixes parses TrustedProxies. Validate has already rejected
// malformed entries.
func (c Server) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			out = append(out, prefix)
		}
	}
	return out
}
