package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full configuration for the realtime/consistency layer.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	Mode           string        `yaml:"mode"` // "debug" or "release"
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestLogging bool          `yaml:"request_logging"`
}

type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     string        `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type CacheConfig struct {
	Namespace  string        `yaml:"namespace"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	ListTTL    time.Duration `yaml:"list_ttl"`
	OpTimeout  time.Duration `yaml:"op_timeout"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`    // cached credential records
	TrackingTTL    time.Duration `yaml:"tracking_ttl"` // per-user hash tracking sets
	ValidateURL    string        `yaml:"validate_url"` // authoritative credential endpoint
	ValidateAPIKey string        `yaml:"validate_api_key"`
}

type RealtimeConfig struct {
	Topic           string        `yaml:"topic"`
	SendQueueSize   int           `yaml:"send_queue_size"`
	EventBufferSize int           `yaml:"event_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	PresenceTTL     time.Duration `yaml:"presence_ttl"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8400"),
			Mode:           getEnv("SERVER_MODE", "release"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			EnableCORS:     getBoolEnv("SERVER_ENABLE_CORS", true),
			CORSOrigins:    getEnvSlice("SERVER_CORS_ORIGINS", []string{"*"}),
			RequestLogging: getBoolEnv("SERVER_REQUEST_LOGGING", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
			Timeout:  getDurationEnv("REDIS_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			Namespace:  getEnv("CACHE_NAMESPACE", "computor"),
			DefaultTTL: getDurationEnv("CACHE_DEFAULT_TTL", 5*time.Minute),
			ListTTL:    getDurationEnv("CACHE_LIST_TTL", time.Minute),
			OpTimeout:  getDurationEnv("CACHE_OP_TIMEOUT", 2*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
			TokenTTL:       getDurationEnv("AUTH_TOKEN_TTL", 120*time.Second),
			TrackingTTL:    getDurationEnv("AUTH_TRACKING_TTL", 150*time.Second),
			ValidateURL:    getEnv("AUTH_VALIDATE_URL", ""),
			ValidateAPIKey: getEnv("AUTH_VALIDATE_API_KEY", ""),
		},
		Realtime: RealtimeConfig{
			Topic:           getEnv("REALTIME_TOPIC", "computor:events"),
			SendQueueSize:   getIntEnv("REALTIME_SEND_QUEUE_SIZE", 256),
			EventBufferSize: getIntEnv("REALTIME_EVENT_BUFFER_SIZE", 1000),
			PingInterval:    getDurationEnv("REALTIME_PING_INTERVAL", 54*time.Second),
			PongWait:        getDurationEnv("REALTIME_PONG_WAIT", 60*time.Second),
			WriteWait:       getDurationEnv("REALTIME_WRITE_WAIT", 10*time.Second),
			IdleTimeout:     getDurationEnv("REALTIME_IDLE_TIMEOUT", 5*time.Minute),
			MaxMessageSize:  int64(getIntEnv("REALTIME_MAX_MESSAGE_SIZE", 64*1024)),
			PresenceTTL:     getDurationEnv("REALTIME_PRESENCE_TTL", 30*time.Second),
		},
	}
}

// LoadFile applies YAML overrides from path on top of the environment config.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate reports configuration combinations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" && c.Auth.ValidateURL == "" {
		return fmt.Errorf("config: at least one of AUTH_JWT_SECRET or AUTH_VALIDATE_URL must be set")
	}
	if c.Auth.TrackingTTL <= c.Auth.TokenTTL {
		return fmt.Errorf("config: AUTH_TRACKING_TTL must exceed AUTH_TOKEN_TTL")
	}
	if c.Realtime.PongWait <= c.Realtime.PingInterval {
		return fmt.Errorf("config: REALTIME_PONG_WAIT must exceed REALTIME_PING_INTERVAL")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
