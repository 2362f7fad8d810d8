package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use a double
// underscore, e.g. TRELLIS_DB__HOST or TRELLIS_MATCH__WORKER_COUNT.
const EnvPrefix = "TRELLIS_"

type Config struct {
	AppName                       string `koanf:"app_name" validate:"required"`
	Port                          int    `koanf:"port" validate:"gt=0"`
	LogLevel                      string `koanf:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `koanf:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int    `koanf:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int    `koanf:"http_server_read_timeout_seconds"`
	StartupMaxAttempts            int    `koanf:"startup_max_attempts" validate:"gt=0"`

	Database DatabaseConfig `koanf:"db"`
	Redis    RedisConfig    `koanf:"redis"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Graph    GraphConfig    `koanf:"graph"`
	Otel     OtelConfig     `koanf:"otel"`
	Match    MatchConfig    `koanf:"match"`
	Rollup   RollupConfig   `koanf:"rollup"`
}

// DatabaseConfig is the Postgres connection used for accounts, cases, tickets and links.
type DatabaseConfig struct {
	Host                  string        `koanf:"host"`
	Port                  string        `koanf:"port"`
	UserName              string        `koanf:"user"`
	Password              string        `koanf:"password"`
	Name                  string        `koanf:"name" validate:"required"`
	SSLMode               string        `koanf:"ssl_mode"`
	MaxOpenConns          int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns          int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime       time.Duration `koanf:"conn_max_lifetime"`
	MigrationFolderPath   string        `koanf:"migration_folder_path"`
	MigrationVersion      int           `koanf:"migration_version"`
	MigrationAutoRollback bool          `koanf:"migration_auto_rollback"`
}

// DSN returns a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.UserName, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type KafkaConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Brokers        []string `koanf:"brokers"`
	OutputTopic    string   `koanf:"output_topic"`
	BatchSize      int      `koanf:"batch_size"`
	BatchTimeoutMs int      `koanf:"batch_timeout_ms"`
	RequiredAcks   int      `koanf:"required_acks"`
	Compression    string   `koanf:"compression" validate:"oneof=snappy gzip lz4 zstd none"`
}

// GraphConfig points at the Memgraph/Neo4j instance receiving the link projection.
type GraphConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type OtelConfig struct {
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol" validate:"oneof=grpc http"`
	Insecure bool   `koanf:"insecure"`
}

// MatchConfig drives extraction, matching, domain classification and link writes.
type MatchConfig struct {
	// CandidateFields are JMESPath expressions over {summary, description, customFields}.
	CandidateFields     []string          `koanf:"candidate_fields" validate:"min=1"`
	ClientField         string            `koanf:"client_field"`
	MaxAccountsPerTheme int               `koanf:"max_accounts_per_theme" validate:"gte=1"`
	WorkerCount         int               `koanf:"worker_count" validate:"gte=1"`
	LinkBatchSize       int               `koanf:"link_batch_size" validate:"gte=1"`
	BatchMaxAttempts    int               `koanf:"batch_max_attempts" validate:"gte=1"`
	BatchBackoff        time.Duration     `koanf:"batch_backoff"`
	RunLockTTL          time.Duration     `koanf:"run_lock_ttl"`
	RunLockTimeout      time.Duration     `koanf:"run_lock_timeout"`
	PrefixDomains       map[string]string `koanf:"prefix_domains"`
	ProductDomains      map[string]string `koanf:"product_domains"`
}

type RollupConfig struct {
	WindowDays int `koanf:"window_days" validate:"gte=1"`
}

func defaults() map[string]any {
	return map[string]any{
		"app_name":                          "trellis",
		"port":                              3004,
		"log_level":                         "info",
		"pretty_logs":                       false,
		"http_server_write_timeout_seconds": 10,
		"http_server_read_timeout_seconds":  10,
		"startup_max_attempts":              5,

		"db.host":                    "localhost",
		"db.port":                    "5432",
		"db.name":                    "trellis",
		"db.ssl_mode":                "disable",
		"db.max_open_conns":          25,
		"db.max_idle_conns":          10,
		"db.conn_max_lifetime":       "10s",
		"db.migration_folder_path":   "db/pg",
		"db.migration_auto_rollback": true,

		"redis.host": "localhost",
		"redis.port": 6379,

		"kafka.brokers":          []string{"localhost:9092"},
		"kafka.output_topic":     "trellis-link-events",
		"kafka.batch_size":       100,
		"kafka.batch_timeout_ms": 100,
		"kafka.required_acks":    1,
		"kafka.compression":      "snappy",

		"graph.host": "localhost",
		"graph.port": 7687,

		"otel.protocol": "grpc",
		"otel.insecure": true,

		"match.candidate_fields":       []string{"customFields.*", "summary", "description"},
		"match.client_field":           "customFields.customfield_10100",
		"match.max_accounts_per_theme": 5,
		"match.worker_count":           4,
		"match.link_batch_size":        100,
		"match.batch_max_attempts":     3,
		"match.batch_backoff":          "200ms",
		"match.run_lock_ttl":           "15m",
		"match.run_lock_timeout":       "30s",
		"match.prefix_domains": map[string]any{
			"MREQ":  "marine",
			"MAR":   "marine",
			"EDGE":  "storage",
			"STOR":  "storage",
			"TEL":   "telematics",
			"FLEET": "telematics",
			"PLAT":  "shared",
			"CORE":  "shared",
			"SUP":   "shared",
		},
		"match.product_domains": map[string]any{
			"marine":     "marine",
			"vessel":     "marine",
			"maritime":   "marine",
			"edge":       "storage",
			"storage":    "storage",
			"telematics": "telematics",
			"fleet":      "telematics",
		},

		"rollup.window_days": 30,
	}
}

// Load reads defaults, then the optional TOML file, then .env and TRELLIS_ env vars.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading config defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

var validate = validator.New()

// Validate checks struct constraints on the loaded configuration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
