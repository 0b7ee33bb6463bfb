package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	Migrate         bool
}

type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	DialTimeout     time.Duration
	Stream          string
	Group           string
	Consumer        string
	ProgressChannel string
}

type StorageConfig struct {
	Driver    string
	MediaRoot string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type SecurityConfig struct {
	JWTAccessSecret string
	StreamSecret    string
	StreamURLTTL    time.Duration
}

type ProcessingConfig struct {
	Steps               int
	BaseDuration        time.Duration
	SizeStep            time.Duration
	SizeUnit            int64
	MaxSizeFactor       float64
	FlaggedThreshold    float64
	AllowResubmitFailed bool
	Inline              bool
	StaleAfter          time.Duration
	SweepSchedule       string
}

type BroadcastConfig struct {
	SubscriberBuffer int
}

type UploadConfig struct {
	MaxBytes      int64
	RatePerSecond float64
	Burst         int
}

type QueueConfig struct {
	ClaimInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	Logging          LoggingConfig
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Processing       ProcessingConfig
	Broadcast        BroadcastConfig
	Upload           UploadConfig
	Queue            QueueConfig
	AllowCORSOrigins []string
}

const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("NODEVIDEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	switch c.Storage.Driver {
	case StorageDriverLocal:
		if c.Storage.MediaRoot == "" {
			errs = append(errs, errors.New("storage.mediaroot required for local driver"))
		}
	case StorageDriverS3:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.endpoint and storage.bucket required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Processing.Steps <= 0 {
		errs = append(errs, errors.New("processing.steps must be positive"))
	}
	if c.Processing.BaseDuration < 0 || c.Processing.SizeStep < 0 {
		errs = append(errs, errors.New("processing durations must not be negative"))
	}
	if c.Processing.SizeUnit <= 0 {
		errs = append(errs, errors.New("processing.sizeunit must be positive"))
	}
	if c.Processing.FlaggedThreshold <= 0 || c.Processing.FlaggedThreshold > 1 {
		errs = append(errs, fmt.Errorf("processing.flaggedthreshold must be in (0,1]: %v", c.Processing.FlaggedThreshold))
	}
	if c.Broadcast.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("broadcast.subscriberbuffer must be positive"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.maxbytes must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	// Streaming responses are long lived; the transport limit stays off unless configured.
	v.SetDefault("http.writetimeout", "0s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.connecttimeout", "10s")
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolsize", 20)
	v.SetDefault("redis.dialtimeout", "5s")
	v.SetDefault("redis.stream", "video:review")
	v.SetDefault("redis.group", "video-reviewers")
	v.SetDefault("redis.consumer", "worker-1")
	v.SetDefault("redis.progresschannel", "video:progress")

	v.SetDefault("storage.driver", StorageDriverLocal)
	v.SetDefault("storage.mediaroot", "./data/media")
	v.SetDefault("storage.bucket", "nodevideo-originals")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.streamurlttl", "6h")

	v.SetDefault("processing.steps", 20)
	v.SetDefault("processing.baseduration", "10s")
	v.SetDefault("processing.sizestep", "5s")
	v.SetDefault("processing.sizeunit", 100*1024*1024)
	v.SetDefault("processing.maxsizefactor", 2.0)
	v.SetDefault("processing.flaggedthreshold", 0.8)
	v.SetDefault("processing.allowresubmitfailed", true)
	v.SetDefault("processing.inline", true)
	v.SetDefault("processing.staleafter", "10m")
	v.SetDefault("processing.sweepschedule", "0 */5 * * * *")

	v.SetDefault("broadcast.subscriberbuffer", 64)

	v.SetDefault("upload.maxbytes", 2<<30) // 2 GiB
	v.SetDefault("upload.ratepersecond", 0.5)
	v.SetDefault("upload.burst", 5)

	v.SetDefault("queue.claiminterval", "30s")
}
