package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBFile        string        `env:"HCHAT_DB" envDefault:"hchat.db"`
	APIAddr       string        `env:"HCHAT_ADDR" envDefault:":8080"`
	AdminAddr     string        `env:"HCHAT_ADMIN_ADDR" envDefault:"localhost:8081"`
	WriteTimeout  time.Duration `env:"HCHAT_WRITE_TIMEOUT" envDefault:"5s"`
	ChannelBuffer int           `env:"HCHAT_CHANNEL_BUFFER" envDefault:"256"`
	MaxPayloadKB  int           `env:"HCHAT_MAX_PAYLOAD_KB" envDefault:"1024"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("HCHAT_DB is required")
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("HCHAT_WRITE_TIMEOUT must be greater than 0")
	}

	if c.ChannelBuffer <= 0 {
		return fmt.Errorf("HCHAT_CHANNEL_BUFFER must be greater than 0")
	}

	if c.MaxPayloadKB <= 0 {
		return fmt.Errorf("HCHAT_MAX_PAYLOAD_KB must be greater than 0")
	}

	return nil
}

// MaxPayload is the broadcast payload limit in bytes.
func (c *Config) MaxPayload() int {
	return c.MaxPayloadKB << 10
}

// ClientConfig is read by the terminal client.
type ClientConfig struct {
	URL       string `env:"HCHAT_URL" envDefault:"ws://localhost:8080/realtime"`
	PrefsFile string `env:"HCHAT_PREFS" envDefault:"hchat-prefs.db"`
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("HCHAT_URL is required")
	}
	return cfg, nil
}
