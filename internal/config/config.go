package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process configuration
type Config struct {
	Port     string
	LogLevel string
	Seed     bool

	Bidding struct {
		ExtensionWindow time.Duration
		ExtensionGrace  time.Duration
		ExtensionCap    time.Duration
		AllowSelfOutbid bool
		SubmitTimeout   time.Duration
		CommandQueue    int
	}

	Broadcast struct {
		SubscriberBuffer int
		PoolSize         int
		SinkRetries      int
		SinkTimeout      time.Duration
		Format           string
	}

	AMQP struct {
		URL      string
		Exchange string
	}

	Redis struct {
		Addr          string
		ChannelPrefix string
	}

	StatsdAddr string

	Idempotency struct {
		CacheMB int
		TTL     time.Duration
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("seed", true)

	v.SetDefault("bidding.extension_window", 30*time.Second)
	v.SetDefault("bidding.extension_grace", 2*time.Minute)
	v.SetDefault("bidding.extension_cap", time.Duration(0))
	v.SetDefault("bidding.allow_self_outbid", false)
	v.SetDefault("bidding.submit_timeout", 5*time.Second)
	v.SetDefault("bidding.command_queue", 256)

	v.SetDefault("broadcast.subscriber_buffer", 64)
	v.SetDefault("broadcast.pool_size", 8)
	v.SetDefault("broadcast.sink_retries", 3)
	v.SetDefault("broadcast.sink_timeout", 3*time.Second)
	v.SetDefault("broadcast.format", "json")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "auction.events")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel_prefix", "auction:")
	v.SetDefault("metrics.statsd_addr", "")

	v.SetDefault("idempotency.cache_mb", 8)
	v.SetDefault("idempotency.ttl", 10*time.Minute)
}

// Load reads flags, then AUCTION_* environment variables, then the optional
// YAML file named by --config. Flags win over env, env wins over the file.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("auction-engine", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	fs.String("port", "8080", "HTTP listen port")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("seed", true, "create the demo auctions on startup")
	fs.String("amqp-url", "", "RabbitMQ URL; empty disables the AMQP sink")
	fs.String("redis-addr", "", "Redis address; empty disables the Redis sink")
	fs.String("statsd-addr", "", "DogStatsD address; empty disables metrics")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is honoured without the prefix, as most platforms set it that way
	if err := v.BindEnv("port", "AUCTION_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	for key, flag := range map[string]string{
		"port":                "port",
		"log.level":           "log-level",
		"seed":                "seed",
		"amqp.url":            "amqp-url",
		"redis.addr":          "redis-addr",
		"metrics.statsd_addr": "statsd-addr",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", flag, err)
		}
	}

	if *configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var c Config
	c.Port = v.GetString("port")
	c.LogLevel = v.GetString("log.level")
	c.Seed = v.GetBool("seed")

	c.Bidding.ExtensionWindow = v.GetDuration("bidding.extension_window")
	c.Bidding.ExtensionGrace = v.GetDuration("bidding.extension_grace")
	c.Bidding.ExtensionCap = v.GetDuration("bidding.extension_cap")
	c.Bidding.AllowSelfOutbid = v.GetBool("bidding.allow_self_outbid")
	c.Bidding.SubmitTimeout = v.GetDuration("bidding.submit_timeout")
	c.Bidding.CommandQueue = v.GetInt("bidding.command_queue")

	c.Broadcast.SubscriberBuffer = v.GetInt("broadcast.subscriber_buffer")
	c.Broadcast.PoolSize = v.GetInt("broadcast.pool_size")
	c.Broadcast.SinkRetries = v.GetInt("broadcast.sink_retries")
	c.Broadcast.SinkTimeout = v.GetDuration("broadcast.sink_timeout")
	c.Broadcast.Format = strings.ToLower(v.GetString("broadcast.format"))

	c.AMQP.URL = v.GetString("amqp.url")
	c.AMQP.Exchange = v.GetString("amqp.exchange")
	c.Redis.Addr = v.GetString("redis.addr")
	c.Redis.ChannelPrefix = v.GetString("redis.channel_prefix")
	c.StatsdAddr = v.GetString("metrics.statsd_addr")

	c.Idempotency.CacheMB = v.GetInt("idempotency.cache_mb")
	c.Idempotency.TTL = v.GetDuration("idempotency.ttl")

	return c, c.validate()
}

func (c Config) validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("config: port is empty")
	case c.Bidding.ExtensionWindow < 0 || c.Bidding.ExtensionGrace < 0 || c.Bidding.ExtensionCap < 0:
		return fmt.Errorf("config: extension durations must not be negative")
	case c.Bidding.CommandQueue <= 0:
		return fmt.Errorf("config: bidding.command_queue must be positive")
	case c.Broadcast.SubscriberBuffer <= 0:
		return fmt.Errorf("config: broadcast.subscriber_buffer must be positive")
	case c.Broadcast.PoolSize <= 0:
		return fmt.Errorf("config: broadcast.pool_size must be positive")
	case c.Broadcast.SinkRetries < 0:
		return fmt.Errorf("config: broadcast.sink_retries must not be negative")
	}
	return nil
}

// Addr returns the listen address for Port
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}
