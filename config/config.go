package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	FeedbackBox FeedbackBoxConfig `yaml:"feedbackbox"`
	Offline     OfflineConfig     `yaml:"offline"`
	Admin       AdminConfig       `yaml:"admin"`
	Client      ClientConfig      `yaml:"client"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString собирает DSN для pgxpool, sslmode по умолчанию disable.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	FeedbackSubmittedTopicName string `yaml:"feedback_submitted_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type FeedbackBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	GRPCAddr           string `yaml:"grpc_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CourierCacheTTLSeconds int  `yaml:"courier_cache_ttl_seconds"`
	RateLimitPerMinute     int  `yaml:"rate_limit_per_minute"`
	PingIntervalSeconds    int  `yaml:"ping_interval_seconds"`
	PingTimeoutSeconds     int  `yaml:"ping_timeout_seconds"`
	SecureCookie           bool `yaml:"secure_cookie"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerRetryBackoffSeconds int    `yaml:"worker_retry_backoff_seconds"`

	// Курьер, который заводится при старте API, если его ещё нет.
	SeedCourier *SeedCourierConfig `yaml:"seed_courier"`
}

type SeedCourierConfig struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Phone       string `yaml:"phone"`
	ContactLink string `yaml:"contact_link"`
}

type OfflineConfig struct {
	// Enabled is a pointer so that an absent key keeps the default (on).
	Enabled                *bool `yaml:"enabled"`
	MaxQueueSize           int   `yaml:"max_queue_size"`
	DeliveryTimeoutSeconds int   `yaml:"delivery_timeout_seconds"`
}

func (o OfflineConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

type AdminConfig struct {
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	JWTSecret         string `yaml:"jwt_secret"`
	SessionTTLSeconds int    `yaml:"session_ttl_seconds"`
}

type ClientConfig struct {
	Mode                 string `yaml:"mode"`
	APIBaseURL           string `yaml:"api_base_url"`
	QueueFile            string `yaml:"queue_file"`
	ReplicaFile          string `yaml:"replica_file"`
	ProbeKind            string `yaml:"probe_kind"` // "http" | "grpc"
	ProbeURL             string `yaml:"probe_url"`
	ProbeGRPCAddr        string `yaml:"probe_grpc_addr"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// LoadDotEnv подгружает .env, если он есть. Уже выставленные переменные не перетираются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values with environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("APP_MODE"); v != "" {
		c.Client.Mode = v
	}
	if v := getenv("DEFAULT_ADMIN_USERNAME"); v != "" {
		c.Admin.Username = v
	}
	if v := getenv("DEFAULT_ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Admin.JWTSecret = v
	}
	if v := getenv("MAX_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid MAX_QUEUE_SIZE %q: %w", v, err)
		}
		c.Offline.MaxQueueSize = n
	}
	if v := getenv("ENABLE_OFFLINE_MODE"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid ENABLE_OFFLINE_MODE %q: %w", v, err)
		}
		c.Offline.Enabled = &b
	}
	return nil
}
