package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultThreshold   = 0.05
	DefaultTablePrefix = "odds_data"
)

// Source kinds.
const (
	SourceFixture   = "fixture"
	SourceHTTP      = "http"
	SourceWebSocket = "websocket"
)

// Sink kinds.
const (
	SinkS3    = "s3"
	SinkLocal = "local"
	SinkKafka = "kafka"
	SinkRedis = "redis"
)

type Config struct {
	Oddsflow  OddsflowConfig  `yaml:"oddsflow"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Processor ProcessorConfig `yaml:"processor"`
	Source    SourceConfig    `yaml:"source"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type OddsflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// PipelineConfig holds the options recognised by the core pipeline.
type PipelineConfig struct {
	// Threshold is the minimum absolute price delta that flags an anomaly.
	Threshold float64 `yaml:"threshold"`
	// SinkIdentifier is the logical destination name handed to the sink
	// (bucket, directory, topic or key prefix). Opaque to the pipeline.
	SinkIdentifier string `yaml:"sink_identifier"`
	TablePrefix    string `yaml:"table_prefix"`
}

type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

type SourceConfig struct {
	Kind      string          `yaml:"kind"`
	Fixture   FixtureConfig   `yaml:"fixture"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type FixtureConfig struct {
	// Path to a JSON or YAML quote file. Empty uses the built-in sample feed.
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	URL       string          `yaml:"url"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type WebSocketConfig struct {
	URL              string        `yaml:"url"`
	SubscribeMessage string        `yaml:"subscribe_message"`
	MaxRecords       int           `yaml:"max_records"`
	Window           time.Duration `yaml:"window"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type WriterConfig struct {
	Compression  string             `yaml:"compression"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	MetadataDir  string             `yaml:"metadata_dir"`
}

type PartitioningConfig struct {
	TimeFormat string `yaml:"time_format"`
}

type StorageConfig struct {
	Sink  string      `yaml:"sink"`
	S3    S3Config    `yaml:"s3"`
	Local LocalConfig `yaml:"local"`
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch  CloudWatchConfig  `yaml:"cloudwatch"`
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type PushgatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

// Default returns a configuration that runs the built-in fixture feed into a
// local parquet directory.
func Default() Config {
	return Config{
		Oddsflow: OddsflowConfig{Name: "oddsflow", Version: "dev"},
		Pipeline: PipelineConfig{
			Threshold:   DefaultThreshold,
			TablePrefix: DefaultTablePrefix,
		},
		Processor: ProcessorConfig{MaxWorkers: 1},
		Source: SourceConfig{
			Kind: SourceFixture,
			HTTP: HTTPConfig{
				Timeout:   10 * time.Second,
				RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 1},
				Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
			},
			WebSocket: WebSocketConfig{
				MaxRecords:       100,
				Window:           10 * time.Second,
				HandshakeTimeout: 10 * time.Second,
			},
		},
		Writer: WriterConfig{
			Compression:  "snappy",
			Partitioning: PartitioningConfig{TimeFormat: "year={year}/month={month}/day={day}"},
		},
		Storage: StorageConfig{
			Sink:  SinkLocal,
			Local: LocalConfig{Dir: "data"},
			Kafka: KafkaConfig{Topic: "odds_table"},
			Redis: RedisConfig{KeyPrefix: "oddsflow:table", TTL: 24 * time.Hour},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{
			CloudWatch:  CloudWatchConfig{Namespace: "OddsFlow"},
			Pushgateway: PushgatewayConfig{Job: "oddsflow"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if config.Storage.Sink == SinkS3 {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("ODDSFLOW_SINK_IDENTIFIER"); v != "" {
		config.Pipeline.SinkIdentifier = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Pipeline.SinkIdentifier = strings.TrimSpace(config.Pipeline.SinkIdentifier)
}

// Destination resolves the sink identifier: the explicit pipeline setting
// wins, otherwise the sink specific field is used.
func (c *Config) Destination() string {
	if c.Pipeline.SinkIdentifier != "" {
		return c.Pipeline.SinkIdentifier
	}
	switch c.Storage.Sink {
	case SinkS3:
		return c.Storage.S3.Bucket
	case SinkLocal:
		return c.Storage.Local.Dir
	case SinkKafka:
		return c.Storage.Kafka.Topic
	case SinkRedis:
		return c.Storage.Redis.KeyPrefix
	}
	return ""
}

func validateConfig(cfg *Config) error {
	if cfg.Oddsflow.Name == "" {
		return fmt.Errorf("oddsflow.name is required")
	}

	if cfg.Pipeline.Threshold < 0 {
		return fmt.Errorf("pipeline.threshold must not be negative")
	}
	if cfg.Pipeline.TablePrefix == "" {
		return fmt.Errorf("pipeline.table_prefix is required")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}

	switch cfg.Source.Kind {
	case SourceFixture:
	case SourceHTTP:
		if cfg.Source.HTTP.URL == "" {
			return fmt.Errorf("source.http.url is required for the http source")
		}
		if cfg.Source.HTTP.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("source.http.rate_limit.requests_per_second must be greater than 0")
		}
	case SourceWebSocket:
		if cfg.Source.WebSocket.URL == "" {
			return fmt.Errorf("source.websocket.url is required for the websocket source")
		}
		if cfg.Source.WebSocket.MaxRecords <= 0 && cfg.Source.WebSocket.Window <= 0 {
			return fmt.Errorf("source.websocket needs max_records or window to bound a batch")
		}
	default:
		return fmt.Errorf("unknown source.kind '%s'", cfg.Source.Kind)
	}

	dest := cfg.Destination()
	switch cfg.Storage.Sink {
	case SinkS3:
		if dest == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 sink")
		}
		if !isValidS3Bucket(dest) {
			return fmt.Errorf("s3 bucket '%s' is invalid", dest)
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for the s3 sink")
		}
	case SinkLocal:
		if dest == "" {
			return fmt.Errorf("storage.local.dir is required for the local sink")
		}
	case SinkKafka:
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required for the kafka sink")
		}
		if dest == "" {
			return fmt.Errorf("storage.kafka.topic is required for the kafka sink")
		}
	case SinkRedis:
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis sink")
		}
	default:
		return fmt.Errorf("unknown storage.sink '%s'", cfg.Storage.Sink)
	}

	switch cfg.Writer.Compression {
	case "", "none", "snappy", "gzip":
	default:
		return fmt.Errorf("writer.compression '%s' is not supported", cfg.Writer.Compression)
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
