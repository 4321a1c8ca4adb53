// Package config loads aquawatch settings from an optional YAML file and
// AQUAWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// AQUAWATCH_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "AQUAWATCH"

// Config is the full process configuration.
type Config struct {
	Log      LogConfig     `mapstructure:"log"`
	Storage  StorageConfig `mapstructure:"storage"`
	Blob     BlobConfig    `mapstructure:"blob"`
	Source   SourceConfig  `mapstructure:"source"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Kafka    KafkaConfig   `mapstructure:"kafka"`
	Notify   NotifyConfig  `mapstructure:"notify"`
	Pulsar   PulsarConfig  `mapstructure:"pulsar"`
	Redis    RedisConfig   `mapstructure:"redis"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Timezone string        `mapstructure:"timezone"`
	Recheck  RecheckConfig `mapstructure:"recheck"`
	Buffer   BufferConfig  `mapstructure:"buffer"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver      string        `mapstructure:"driver"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// SourceConfig selects where readings come from: simulator, mqtt or kafka.
type SourceConfig struct {
	Driver   string        `mapstructure:"driver"`
	Interval time.Duration `mapstructure:"interval"`
	Seed     uint64        `mapstructure:"seed"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"group_id"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// NotifyConfig selects the alert sink: log or pulsar.
type NotifyConfig struct {
	Driver string `mapstructure:"driver"`
}

type PulsarConfig struct {
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

// RedisConfig enables the profile cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// RecheckConfig drives the background rechecker. An empty Owner makes every
// run a no-op; Every of zero runs once and exits.
type RecheckConfig struct {
	Owner   string        `mapstructure:"owner"`
	Archive bool          `mapstructure:"archive"`
	Every   time.Duration `mapstructure:"every"`
}

type BufferConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// MetricsConfig selects the metrics exporter: prometheus or expvar.
type MetricsConfig struct {
	Exporter string `mapstructure:"exporter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "./aquawatch.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.timeout", 5*time.Second)

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./archive")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")
	v.SetDefault("blob.s3.path_style", false)

	v.SetDefault("source.driver", "simulator")
	v.SetDefault("source.interval", 2*time.Second)
	v.SetDefault("source.seed", 0)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "aquawatch")
	v.SetDefault("mqtt.topic", "aquawatch/readings")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "aquawatch.readings")
	v.SetDefault("kafka.group_id", "aquawatch")
	v.SetDefault("kafka.poll_timeout", 5*time.Second)
	v.SetDefault("kafka.backoff", time.Second)

	v.SetDefault("notify.driver", "log")
	v.SetDefault("pulsar.url", "pulsar://localhost:6650")
	v.SetDefault("pulsar.topic", "persistent://public/default/aquawatch-alerts")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("timezone", "Local")

	v.SetDefault("recheck.owner", "")
	v.SetDefault("recheck.archive", false)
	v.SetDefault("recheck.every", time.Duration(0))

	v.SetDefault("buffer.capacity", 0)
	v.SetDefault("metrics.exporter", "prometheus")
}

// Load reads path when given, otherwise an aquawatch.yaml in the working
// directory if present, then applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aquawatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &missing) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"storage.driver", c.Storage.Driver, []string{"memory", "sqlite", "postgres"}},
		{"blob.driver", c.Blob.Driver, []string{"fs", "memory", "s3"}},
		{"source.driver", c.Source.Driver, []string{"simulator", "mqtt", "kafka"}},
		{"notify.driver", c.Notify.Driver, []string{"log", "pulsar"}},
		{"metrics.exporter", c.Metrics.Exporter, []string{"prometheus", "expvar"}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.allowed, ch.value) {
			return fmt.Errorf("%s: unsupported value %q (want one of %s)", ch.field, ch.value, strings.Join(ch.allowed, ", "))
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos: must be 0, 1 or 2")
	}
	if c.Buffer.Capacity < 0 {
		return fmt.Errorf("buffer.capacity: must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone; empty and "Local" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}
