package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type HTTPServerConfig struct {
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"15s"`
	TimeoutGraceful time.Duration `yaml:"timeout_graceful_shutdown" env-default:"15s"`
}

type MongoDBConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	User     string `yaml:"user" env:"MONGO_USER"`
	Password string `yaml:"password" env:"MONGO_PASSWORD"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"tgflats"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	Subject string `yaml:"subject" env:"NATS_LISTING_SUBJECT" env-default:"listings.created"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"post-media"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
}

type LoggerConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding   string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
	TimeFormat string `yaml:"time_format" env:"LOG_TIME_FORMAT" env-default:"2006-01-02T15:04:05.000Z07:00"`
}

type MetricsConfig struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:"9091"`
}

// AIProviderConfig describes one inference provider. A provider with an
// empty APIKey is treated as absent and skipped in the fallback chain.
type AIProviderConfig struct {
	Name    string        `yaml:"name" env-default:""`
	BaseURL string        `yaml:"base_url" env-default:""`
	APIKey  string        `yaml:"api_key" env-default:""`
	Model   string        `yaml:"model" env-default:""`
	Timeout time.Duration `yaml:"timeout" env-default:"30s"`
}

type AIConfig struct {
	Primary   AIProviderConfig `yaml:"primary"`
	Secondary AIProviderConfig `yaml:"secondary"`
	CacheTTL  time.Duration    `yaml:"cache_ttl" env:"EXTRACTION_CACHE_TTL" env-default:"720h"`
}

type CostGuardConfig struct {
	MonthlyLimitUSD float64 `yaml:"monthly_limit_usd" env:"AI_MONTHLY_LIMIT_USD" env-default:"100"`
	WarnRatio       float64 `yaml:"warn_ratio" env:"AI_WARN_RATIO" env-default:"0.8"`
}

// GeoProviderConfig describes one geocoding provider. Cooldown is the
// minimum interval between successive calls to that provider.
type GeoProviderConfig struct {
	Name     string        `yaml:"name" env-default:""`
	BaseURL  string        `yaml:"base_url" env-default:""`
	APIKey   string        `yaml:"api_key" env-default:""`
	Cooldown time.Duration `yaml:"cooldown" env-default:"100ms"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
}

type GeocodingConfig struct {
	Primary   GeoProviderConfig `yaml:"primary"`
	Secondary GeoProviderConfig `yaml:"secondary"`
	// City bounding box; defaults cover Tbilisi.
	MinLat float64 `yaml:"min_lat" env:"CITY_MIN_LAT" env-default:"41.60"`
	MinLng float64 `yaml:"min_lng" env:"CITY_MIN_LNG" env-default:"44.65"`
	MaxLat float64 `yaml:"max_lat" env:"CITY_MAX_LAT" env-default:"41.85"`
	MaxLng float64 `yaml:"max_lng" env:"CITY_MAX_LNG" env-default:"45.05"`
}

type StageRetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	Fixed     bool          `yaml:"fixed"`
}

type PipelineConfig struct {
	Workers          int              `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"4"`
	QueueSize        int              `yaml:"queue_size" env:"PIPELINE_QUEUE_SIZE" env-default:"256"`
	MinTextLength    int              `yaml:"min_text_length" env:"PIPELINE_MIN_TEXT_LENGTH" env-default:"30"`
	PublishThreshold float64          `yaml:"publish_threshold" env:"PIPELINE_PUBLISH_THRESHOLD" env-default:"0.6"`
	ScrapeRetry      StageRetryConfig `yaml:"scrape_retry"`
	ExtractRetry     StageRetryConfig `yaml:"extract_retry"`
	GeocodeRetry     StageRetryConfig `yaml:"geocode_retry"`
	PersistRetry     StageRetryConfig `yaml:"persist_retry"`
}

type ClusteringConfig struct {
	BaseGridSize    float64       `yaml:"base_grid_size" env:"CLUSTER_BASE_GRID_SIZE" env-default:"160"`
	MergeMultiplier float64       `yaml:"merge_multiplier" env:"CLUSTER_MERGE_MULTIPLIER" env-default:"1.5"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"CLUSTER_CACHE_TTL" env-default:"60s"`
	CacheSize       int           `yaml:"cache_size" env:"CLUSTER_CACHE_SIZE" env-default:"128"`
}

type SubscriptionConfig struct {
	MaxPerConnection int `yaml:"max_per_connection" env:"SUBSCRIPTION_CAP" env-default:"10"`
}

type Config struct {
	Env           string             `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer    HTTPServerConfig   `yaml:"http_server"`
	MongoDB       MongoDBConfig      `yaml:"mongo"`
	Redis         RedisConfig        `yaml:"redis"`
	NATS          NATSConfig         `yaml:"nats"`
	MinIO         MinIOConfig        `yaml:"minio"`
	Logger        LoggerConfig       `yaml:"logger"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	AI            AIConfig           `yaml:"ai"`
	CostGuard     CostGuardConfig    `yaml:"cost_guard"`
	Geocoding     GeocodingConfig    `yaml:"geocoding"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Clustering    ClusteringConfig   `yaml:"clustering"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
}

func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		applyRetryDefaults(&cfg)
		return &cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		if _, ok := err.(*os.PathError); ok {
			log.Printf("Warning: config file not found at %s, loading from environment only", path)
			if errEnv := cleanenv.ReadEnv(&cfg); errEnv != nil {
				return nil, errEnv
			}
			applyRetryDefaults(&cfg)
			return &cfg, nil
		}
		return nil, err
	}
	applyRetryDefaults(&cfg)
	return &cfg, nil
}

// applyRetryDefaults fills the per-stage retry policies when the config file
// leaves them out. The persist stage uses a fixed delay, the rest back off
// exponentially from the base.
func applyRetryDefaults(cfg *Config) {
	if cfg.Pipeline.ScrapeRetry.Attempts == 0 {
		cfg.Pipeline.ScrapeRetry = StageRetryConfig{Attempts: 3, BaseDelay: 2 * time.Second}
	}
	if cfg.Pipeline.ExtractRetry.Attempts == 0 {
		cfg.Pipeline.ExtractRetry = StageRetryConfig{Attempts: 2, BaseDelay: 1 * time.Second}
	}
	if cfg.Pipeline.GeocodeRetry.Attempts == 0 {
		cfg.Pipeline.GeocodeRetry = StageRetryConfig{Attempts: 3, BaseDelay: 1500 * time.Millisecond}
	}
	if cfg.Pipeline.PersistRetry.Attempts == 0 {
		cfg.Pipeline.PersistRetry = StageRetryConfig{Attempts: 2, BaseDelay: 500 * time.Millisecond, Fixed: true}
	}
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	return cfg
}
