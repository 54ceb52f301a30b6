package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"AmberPull/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Logger      logger.Config `yaml:"logger"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Amber     AmberConfig     `yaml:"amber"`
	Websocket WebsocketConfig `yaml:"websocket"`
	Polling   PollingConfig   `yaml:"polling"`
	Storage   StorageConfig   `yaml:"storage"`
	Sink      SinkConfig      `yaml:"sink"`
}

type AmberConfig struct {
	APIURL            string        `yaml:"api_url" default:"https://api.amber.com.au/v1" validate:"url"`
	APIToken          string        `yaml:"api_token"`
	SiteID            string        `yaml:"site_id"`
	PricingMode       string        `yaml:"pricing_mode" default:"advanced_price_predicted" validate:"oneof=per_kwh advanced_price_predicted"`
	Resolution        int           `yaml:"resolution" default:"5" validate:"oneof=5 30"`
	ForecastIntervals int           `yaml:"forecast_intervals" default:"288" validate:"gte=0,lte=2048"`
	Timeout           time.Duration `yaml:"timeout" default:"10s"`
	WaitForConfirmed  bool          `yaml:"wait_for_confirmed"`
}

type WebsocketConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url" default:"wss://api-ws.amber.com.au"`
	MinReconnectDelay time.Duration `yaml:"min_reconnect_delay" default:"5s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"60s"`
	Heartbeat         time.Duration `yaml:"heartbeat" default:"30s"`
	StaleTimeout      time.Duration `yaml:"stale_timeout" default:"6m"`
}

type PollingConfig struct {
	Tick           time.Duration `yaml:"tick" default:"1s"`
	Interval       time.Duration `yaml:"interval" default:"5m"`
	SafetyBuffer   int           `yaml:"safety_buffer" default:"2" validate:"gte=0"`
	DefaultBudget  int           `yaml:"default_budget" default:"4" validate:"gte=0"`
	WindowSize     int           `yaml:"window_size" default:"100" validate:"gt=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"10s"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"300s"`
}

type StorageConfig struct {
	Backend     string        `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	TTL         time.Duration `yaml:"ttl"`
	SaveTimeout time.Duration `yaml:"save_timeout" default:"5s"`
	Redis       struct {
		Host        string `yaml:"host" default:"localhost"`
		Port        int    `yaml:"port" default:"6379"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		Prefix      string `yaml:"prefix" default:"amberpull"`
		PoolSize    int    `yaml:"pool_size" default:"10"`
		MemoryLayer int    `yaml:"memory_layer" default:"64"`
	} `yaml:"redis"`
}

type SinkConfig struct {
	Backend    string        `yaml:"backend" default:"none" validate:"oneof=none kafka clickhouse"`
	BufferSize int           `yaml:"buffer_size" default:"256" validate:"gt=0"`
	RetryMin   time.Duration `yaml:"retry_min" default:"50ms"`
	RetryMax   time.Duration `yaml:"retry_max" default:"2s"`
	Kafka      struct {
		Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
		Topic        string        `yaml:"topic" default:"amber.prices.confirmed"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		AutoCreate   bool          `yaml:"auto_create_topic"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"amberpull"`
		Table        string        `yaml:"table"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Missing keys take their
// defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// envOverrides are the environment variables that override YAML values.
type envOverrides struct {
	APIToken       string   `envconfig:"AMBER_API_TOKEN"`
	SiteID         string   `envconfig:"AMBER_SITE_ID"`
	StorageBackend string   `envconfig:"STORAGE_BACKEND"`
	RedisAddr      string   `envconfig:"REDIS_ADDR"`
	SinkBackend    string   `envconfig:"SINK_BACKEND"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables. A .env file in the working directory is read first if present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	var o envOverrides
	if err := envconfig.Process("", &o); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := c.apply(o); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) apply(o envOverrides) error {
	if o.APIToken != "" {
		c.Amber.APIToken = o.APIToken
	}
	if o.SiteID != "" {
		c.Amber.SiteID = o.SiteID
	}
	if o.StorageBackend != "" {
		c.Storage.Backend = o.StorageBackend
	}
	if o.RedisAddr != "" {
		host, port, err := net.SplitHostPort(o.RedisAddr)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Storage.Redis.Host, c.Storage.Redis.Port = host, p
	}
	if o.SinkBackend != "" {
		c.Sink.Backend = o.SinkBackend
	}
	if len(o.KafkaBrokers) > 0 {
		c.Sink.Kafka.Brokers = o.KafkaBrokers
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Amber.APIToken == "" {
		return fmt.Errorf("amber.api_token is required")
	}
	if c.Amber.SiteID == "" {
		return fmt.Errorf("amber.site_id is required")
	}
	if c.Polling.Tick <= 0 || c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.tick and polling.interval must be positive")
	}
	if c.Polling.Tick >= c.Polling.Interval {
		return fmt.Errorf("polling.tick %s must be shorter than polling.interval %s", c.Polling.Tick, c.Polling.Interval)
	}
	if c.Polling.MaxBackoff < c.Polling.InitialBackoff {
		return fmt.Errorf("polling.max_backoff must be at least polling.initial_backoff")
	}
	if c.Websocket.MaxReconnectDelay < c.Websocket.MinReconnectDelay {
		return fmt.Errorf("websocket.max_reconnect_delay must be at least websocket.min_reconnect_delay")
	}
	if c.Sink.Backend == "kafka" {
		if len(c.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("sink.kafka.brokers cannot be empty")
		}
		if c.Sink.Kafka.Topic == "" {
			return fmt.Errorf("sink.kafka.topic is required")
		}
	}
	return nil
}
