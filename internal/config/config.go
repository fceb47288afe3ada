package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Env         string           `yaml:"env" env:"ENV" env-default:"local" json:"-"`
	DatabaseDSN string           `yaml:"database_dsn" env:"DATABASE_URL" json:"-"`
	Storage     string           `yaml:"storage" env:"STORAGE" env-default:"postgres" json:"-"`
	HTTPServer  HTTPServer       `yaml:"http_server" json:"-"`
	App         AppConfig        `yaml:"app" json:"app"`
	Messages    MessagesConfig   `yaml:"messages" json:"messages"`
	Uploads     UploadsConfig    `yaml:"uploads" json:"uploads"`
	ChatClient  ChatClientConfig `yaml:"chat_client" json:"chat_client"`
}

type AppConfig struct {
	BaseURL string `yaml:"base_url" env:"APP_BASE_URL" json:"base_url"`
}

type MessagesConfig struct {
	MaxAttachments int `yaml:"max_attachments" env-default:"10" json:"max_attachments"`
	MaxTextLength  int `yaml:"max_text_length" env-default:"4000" json:"max_text_length"`
}

type UploadsConfig struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET" json:"-"`
	Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1" json:"-"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT" json:"-"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY" json:"-"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY" json:"-"`

	MaxImageSize    int64         `yaml:"max_image_size" env-default:"10485760" json:"max_image_size"`
	MaxDocumentSize int64         `yaml:"max_document_size" env-default:"26214400" json:"max_document_size"`
	PresignTTL      time.Duration `yaml:"presign_ttl" env-default:"15m" json:"presign_ttl"`
}

// ChatClientConfig is what the messaging client needs to reach the backend.
type ChatClientConfig struct {
	BaseURL         string        `yaml:"base_url" env:"CHAT_BASE_URL" env-default:"http://localhost:8082" json:"base_url"`
	WebsocketURL    string        `yaml:"ws_url" env:"CHAT_WS_URL" env-default:"ws://localhost:8082/ws" json:"ws_url"`
	UserID          int64         `yaml:"user_id" env:"CHAT_USER_ID" json:"-"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env-default:"10s" json:"request_timeout"`
	ReconcileWindow time.Duration `yaml:"reconcile_window" env-default:"2m" json:"reconcile_window"`
	OutboundQueue   int           `yaml:"outbound_queue" env-default:"64" json:"outbound_queue"`
	Backoff         BackoffConfig `yaml:"backoff" json:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" env-default:"500ms" json:"initial"`
	Multiplier float64       `yaml:"multiplier" env-default:"2" json:"multiplier"`
	Max        time.Duration `yaml:"max" env-default:"30s" json:"max"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8082" json:"-"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s" json:"-"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s" json:"-"`
}

var ErrNoDatabaseDSN = errors.New("database_dsn is required for postgres storage")

// Load reads the YAML file at path with env overrides. An empty path reads
// the environment only.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient is Load for the chat client, which does not care about the
// server's storage settings.
func LoadClient(path string) (*ChatClientConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ChatClient.Validate(); err != nil {
		return nil, err
	}
	return &cfg.ChatClient, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseDSN == "" {
			return ErrNoDatabaseDSN
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	return c.ChatClient.Validate()
}

func (c ChatClientConfig) Validate() error {
	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("invalid backoff: initial %s, max %s", c.Backoff.Initial, c.Backoff.Max)
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("invalid backoff multiplier %v", c.Backoff.Multiplier)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout %s", c.RequestTimeout)
	}
	return nil
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}

	return cfg
}
