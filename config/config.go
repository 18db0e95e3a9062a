package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/astrv/library-rental/internal/gateway"
	"github.com/astrv/library-rental/internal/handler"
	"github.com/astrv/library-rental/internal/notifier"
	"github.com/astrv/library-rental/internal/server"
	"github.com/astrv/library-rental/internal/service"
	"github.com/astrv/library-rental/internal/worker"
	"github.com/astrv/library-rental/pkg/kafka"
	"github.com/astrv/library-rental/pkg/logger"
	"github.com/astrv/library-rental/pkg/postgres"
)

type Config struct {
	Server   server.Config   `yaml:"server"`
	Database postgres.Config `yaml:"database"`
	Kafka    kafka.Config
	Gateway  gateway.Config
	Telegram notifier.Config
	Service  service.Config
	Webhook  handler.Config
	Worker   worker.Config
	Log      logger.Log `yaml:"log"`
}

type Option func(*Config)

func WithLogLevel(level zapcore.Level) Option {
	return func(c *Config) {
		c.Log.LogLevel = level
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = timeout
	}
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return &cfg
}

func printConfig(cfg Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
