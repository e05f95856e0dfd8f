package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file; STOREOPS_CONFIG overrides it.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("STOREOPS_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML, then overridden by environment.
type FileConfig struct {
	Port     string `yaml:"port" env:"PORT"`
	LogLevel string `yaml:"logLevel" env:"LOG_LEVEL"`
	LogsDir  string `yaml:"logsDir" env:"LOGS_DIR"`
	Timezone string `yaml:"timezone" env:"STOREOPS_TIMEZONE"`

	DatabaseURL string `yaml:"databaseURL" env:"DATABASE_URL"`

	RedisAddr              string `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword          string `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	QueueName              string `yaml:"queueName" env:"STOREOPS_QUEUE_NAME"`
	QueueGroup             string `yaml:"queueGroup" env:"STOREOPS_QUEUE_GROUP"`
	QueueConcurrency       int    `yaml:"queueConcurrency" env:"STOREOPS_QUEUE_CONCURRENCY"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries" env:"STOREOPS_QUEUE_MAX_RETRIES"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds" env:"STOREOPS_QUEUE_RETRY_DELAY_SECONDS"`

	GenerationProvider    string  `yaml:"generationProvider" env:"STOREOPS_GENERATION_PROVIDER"`
	GenerationBaseURL     string  `yaml:"generationBaseURL" env:"STOREOPS_GENERATION_BASE_URL"`
	GenerationAPIKey      string  `yaml:"generationAPIKey" env:"STOREOPS_GENERATION_API_KEY"`
	GenerationModel       string  `yaml:"generationModel" env:"STOREOPS_GENERATION_MODEL"`
	GenerationTemperature float64 `yaml:"generationTemperature" env:"STOREOPS_GENERATION_TEMPERATURE"`
	ClassifierFallback    bool    `yaml:"classifierFallback" env:"STOREOPS_CLASSIFIER_FALLBACK"`
	SummaryInsights       bool    `yaml:"summaryInsights" env:"STOREOPS_SUMMARY_INSIGHTS"`

	OCRProvider       string   `yaml:"ocrProvider" env:"STOREOPS_OCR_PROVIDER"`
	OCRCommand        string   `yaml:"ocrCommand" env:"STOREOPS_OCR_COMMAND"`
	OCRArgs           []string `yaml:"ocrArgs" env:"STOREOPS_OCR_ARGS" envSeparator:" "`
	OCRTimeoutSeconds int      `yaml:"ocrTimeoutSeconds" env:"STOREOPS_OCR_TIMEOUT_SECONDS"`
	VisionAPIKey      string   `yaml:"visionAPIKey" env:"GOOGLE_VISION_API_KEY"`
	VisionBaseURL     string   `yaml:"visionBaseURL" env:"GOOGLE_VISION_BASE_URL"`

	MinioEndpoint      string `yaml:"minioEndpoint" env:"MINIO_ENDPOINT"`
	MinioAccessKey     string `yaml:"minioAccessKey" env:"MINIO_ACCESS_KEY"`
	MinioSecretKey     string `yaml:"minioSecretKey" env:"MINIO_SECRET_KEY"`
	MinioBucket        string `yaml:"minioBucket" env:"MINIO_BUCKET"`
	MinioUseSSL        bool   `yaml:"minioUseSSL" env:"MINIO_USE_SSL"`
	MediaPublicBaseURL string `yaml:"mediaPublicBaseURL" env:"MEDIA_PUBLIC_BASE_URL"`

	WhatsAppGraphURL          string  `yaml:"whatsappGraphURL" env:"WHATSAPP_GRAPH_URL"`
	WhatsAppAccessToken       string  `yaml:"whatsappAccessToken" env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID     string  `yaml:"whatsappPhoneNumberID" env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppSendRatePerSecond float64 `yaml:"whatsappSendRatePerSecond" env:"WHATSAPP_SEND_RATE_PER_SECOND"`

	SheetsCredentialsPath string `yaml:"sheetsCredentialsPath" env:"GOOGLE_SHEETS_CREDENTIALS_PATH"`
	SheetsBaseURL         string `yaml:"sheetsBaseURL" env:"GOOGLE_SHEETS_BASE_URL"`

	IngressJWTPublicKeyPath    string   `yaml:"ingressJwtPublicKeyPath" env:"STOREOPS_INGRESS_JWT_PUBLIC_KEY_PATH"`
	IngressJWTVerifyPublicKeys string   `yaml:"ingressJwtVerifyPublicKeys" env:"STOREOPS_INGRESS_JWT_VERIFY_PUBLIC_KEYS"`
	IngressJWTKeyID            string   `yaml:"ingressJwtKeyId" env:"STOREOPS_INGRESS_JWT_KEY_ID"`
	IngressAllowedIssuers      []string `yaml:"ingressAllowedIssuers" env:"STOREOPS_INGRESS_ALLOWED_ISSUERS"`

	SenderRateLimit         int `yaml:"senderRateLimit" env:"STOREOPS_SENDER_RATE_LIMIT"`
	SenderRateWindowSeconds int `yaml:"senderRateWindowSeconds" env:"STOREOPS_SENDER_RATE_WINDOW_SECONDS"`

	// ExpirySweepSchedule is a cron spec; empty disables the sweeper.
	ExpirySweepSchedule string `yaml:"expirySweepSchedule" env:"STOREOPS_EXPIRY_SWEEP_SCHEDULE"`
}

func defaults() FileConfig {
	return FileConfig{
		Port:                    "8090",
		LogLevel:                "info",
		Timezone:                "UTC",
		QueueName:               "storeops:inbound",
		QueueGroup:              "storeops-inbound",
		QueueConcurrency:        5,
		QueueMaxRetries:         3,
		QueueRetryDelaySeconds:  2,
		GenerationProvider:      "gemini",
		OCRProvider:             "none",
		OCRTimeoutSeconds:       120,
		SenderRateLimit:         30,
		SenderRateWindowSeconds: 60,
	}
}

// Load reads config from path (defaults to ConfigPath) and applies environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves Timezone for period summaries.
func (c FileConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.QueueConcurrency <= 0 {
		return errors.New("config: queueConcurrency must be > 0")
	}
	if cfg.QueueMaxRetries <= 0 {
		return errors.New("config: queueMaxRetries must be > 0")
	}
	if cfg.QueueRetryDelaySeconds < 0 {
		return errors.New("config: queueRetryDelaySeconds must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)) {
	case "gemini":
		if strings.TrimSpace(cfg.GenerationAPIKey) == "" {
			return errors.New("config: generationAPIKey is required for gemini (set in config.yaml or STOREOPS_GENERATION_API_KEY)")
		}
	case "ollama", "openai-compat":
	default:
		return fmt.Errorf("config: unknown generationProvider %q (gemini|ollama|openai-compat)", cfg.GenerationProvider)
	}
	if strings.TrimSpace(cfg.GenerationModel) == "" {
		return errors.New("config: generationModel is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.OCRProvider)) {
	case "", "none":
	case "vision":
		if strings.TrimSpace(cfg.VisionAPIKey) == "" {
			return errors.New("config: visionAPIKey is required when ocrProvider=vision")
		}
	case "command":
		if strings.TrimSpace(cfg.OCRCommand) == "" {
			return errors.New("config: ocrCommand is required when ocrProvider=command")
		}
	default:
		return fmt.Errorf("config: unknown ocrProvider %q (vision|command|none)", cfg.OCRProvider)
	}
	if cfg.OCRTimeoutSeconds < 0 {
		return errors.New("config: ocrTimeoutSeconds must be >= 0")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if strings.TrimSpace(cfg.WhatsAppPhoneNumberID) == "" || strings.TrimSpace(cfg.WhatsAppAccessToken) == "" {
		return errors.New("config: whatsappPhoneNumberID and whatsappAccessToken are required")
	}
	if cfg.WhatsAppSendRatePerSecond < 0 {
		return errors.New("config: whatsappSendRatePerSecond must be >= 0")
	}
	if strings.TrimSpace(cfg.SheetsCredentialsPath) == "" {
		return errors.New("config: sheetsCredentialsPath is required (set in config.yaml or GOOGLE_SHEETS_CREDENTIALS_PATH)")
	}
	if strings.TrimSpace(cfg.IngressJWTPublicKeyPath) == "" && strings.TrimSpace(cfg.IngressJWTVerifyPublicKeys) == "" {
		return errors.New("config: ingress auth requires STOREOPS_INGRESS_JWT_PUBLIC_KEY_PATH or STOREOPS_INGRESS_JWT_VERIFY_PUBLIC_KEYS")
	}
	if len(cfg.IngressAllowedIssuers) == 0 {
		return errors.New("config: ingressAllowedIssuers must list at least one issuer")
	}
	if cfg.SenderRateLimit < 0 || cfg.SenderRateWindowSeconds < 0 {
		return errors.New("config: senderRateLimit and senderRateWindowSeconds must be >= 0")
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("config: timezone: %w", err)
	}
	return nil
}
