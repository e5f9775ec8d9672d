package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config captures the full runtime configuration for the MediaDrop intake service.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Upload   UploadConfig
	Intake   IntakeConfig
	Resolver ResolverConfig
	Session  SessionConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"mediadrop-intake"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// UploadConfig bounds the multipart requests that carry picker, drop and paste payloads.
// MultipartMemBytes caps each non-file form field.
type UploadConfig struct {
	MaxRequestBytes   int64 `env:"UPLOAD_MAX_REQUEST_BYTES" envDefault:"536870912"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"33554432"`
}

// IntakeConfig is the classification policy applied to every candidate file.
type IntakeConfig struct {
	ImageTypes    []string `env:"INTAKE_IMAGE_TYPES" envSeparator:"," envDefault:"image/jpeg,image/png,image/gif,image/webp" yaml:"image_types"`
	VideoTypes    []string `env:"INTAKE_VIDEO_TYPES" envSeparator:"," envDefault:"video/mp4,video/webm,video/ogg" yaml:"video_types"`
	MaxImageBytes int64    `env:"INTAKE_MAX_IMAGE_BYTES" envDefault:"5242880" yaml:"max_image_bytes"`
	MaxVideoBytes int64    `env:"INTAKE_MAX_VIDEO_BYTES" envDefault:"104857600" yaml:"max_video_bytes"`
	PolicyFile    string   `env:"INTAKE_POLICY_FILE" yaml:"-"`
}

type ResolverConfig struct {
	Timeout       time.Duration `env:"RESOLVER_TIMEOUT" envDefault:"15s"`
	RatePerSecond float64       `env:"RESOLVER_RATE_PER_SECOND" envDefault:"5"`
	Burst         int           `env:"RESOLVER_BURST" envDefault:"5"`
	Concurrency   int           `env:"RESOLVER_CONCURRENCY" envDefault:"4"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
}

type KafkaConfig struct {
	Enabled          bool          `env:"KAFKA_ENABLED" envDefault:"true"`
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	IntakeTopic      string        `env:"KAFKA_INTAKE_TOPIC" envDefault:"mediadrop.intake"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
	Async            bool          `env:"KAFKA_ASYNC" envDefault:"true"`
}

// StorageConfig points at the object store used to resolve s3:// references.
type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=mediadrop"`
}

type MetricsConfig struct {
	Addr      string `env:"METRICS_ADDR" envDefault:":9102"`
	Namespace string `env:"METRICS_NAMESPACE" envDefault:"mediadrop"`
}

// Load parses environment variables into Config and applies the policy file, if any.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Intake.PolicyFile != "" {
		if err := cfg.Intake.applyFile(cfg.Intake.PolicyFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile overlays the fields present in a YAML policy file onto the env-derived policy.
func (c *IntakeConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var overlay IntakeConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if len(overlay.ImageTypes) > 0 {
		c.ImageTypes = overlay.ImageTypes
	}
	if len(overlay.VideoTypes) > 0 {
		c.VideoTypes = overlay.VideoTypes
	}
	if overlay.MaxImageBytes > 0 {
		c.MaxImageBytes = overlay.MaxImageBytes
	}
	if overlay.MaxVideoBytes > 0 {
		c.MaxVideoBytes = overlay.MaxVideoBytes
	}
	return nil
}
