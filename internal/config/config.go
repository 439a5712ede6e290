package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHATGW_GATEWAY_URL
const EnvPrefix = "CHATGW_"

type Gateway struct {
	URL                string `yaml:"url" env:"URL"`
	Capabilities       int    `yaml:"capabilities" env:"CAPABILITIES"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms" env:"BACKOFF_BASE_MS"`
	BackoffStepMs      int    `yaml:"backoff_step_ms" env:"BACKOFF_STEP_MS"`
	AttemptTimeoutMs   int    `yaml:"attempt_timeout_ms" env:"ATTEMPT_TIMEOUT_MS"`
	StrictHeartbeatAck bool   `yaml:"strict_heartbeat_ack" env:"STRICT_HEARTBEAT_ACK"` // close the socket when a beat goes unacknowledged
	SendRatePerMinute  int    `yaml:"send_rate_per_minute" env:"SEND_RATE_PER_MINUTE"`
	EventBuffer        int    `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

type API struct {
	Endpoint      string `yaml:"endpoint" env:"ENDPOINT"`
	TimeoutMs     int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	RatePerSecond int    `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
}

type State struct {
	MessageLimit int `yaml:"message_limit" env:"MESSAGE_LIMIT"`
}

type Persist struct {
	Path string `yaml:"path" env:"PATH"`
	Key  string `yaml:"key" env:"KEY"` // token is stored under "<key>_token"
}

type Identify struct {
	OS      string `yaml:"os" env:"OS"`
	Browser string `yaml:"browser" env:"BROWSER"`
	Device  string `yaml:"device" env:"DEVICE"`
}

type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type Root struct {
	Gateway  Gateway  `yaml:"gateway" envPrefix:"GATEWAY_"`
	API      API      `yaml:"api" envPrefix:"API_"`
	State    State    `yaml:"state" envPrefix:"STATE_"`
	Persist  Persist  `yaml:"persist" envPrefix:"PERSIST_"`
	Identify Identify `yaml:"identify" envPrefix:"IDENTIFY_"`
	Log      Log      `yaml:"log" envPrefix:"LOG_"`
	Isolated bool     `yaml:"isolated" env:"ISOLATED"` // host the gateway session behind the command/reply bridge
}

// Load reads a YAML file, applies CHATGW_* environment overrides and fills
// defaults. An empty path skips the file.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(&c)
	return c, nil
}

// LoadDefault is Load without a file
func LoadDefault() (Root, error) {
	return Load("")
}

func applyDefaults(c *Root) {
	// Gateway defaults
	if c.Gateway.URL == "" {
		c.Gateway.URL = "wss://gateway.discord.gg/?v=9&encoding=json"
	}
	if c.Gateway.Capabilities == 0 {
		c.Gateway.Capabilities = 253
	}
	if c.Gateway.BackoffBaseMs == 0 {
		c.Gateway.BackoffBaseMs = 4000
	}
	if c.Gateway.BackoffStepMs == 0 {
		c.Gateway.BackoffStepMs = 2000
	}
	if c.Gateway.AttemptTimeoutMs == 0 {
		c.Gateway.AttemptTimeoutMs = 60000
	}
	if c.Gateway.SendRatePerMinute == 0 {
		c.Gateway.SendRatePerMinute = 120
	}
	if c.Gateway.EventBuffer == 0 {
		c.Gateway.EventBuffer = 256
	}

	// REST defaults
	if c.API.Endpoint == "" {
		c.API.Endpoint = "https://discord.com/api/v9"
	}
	if c.API.TimeoutMs == 0 {
		c.API.TimeoutMs = 10000
	}
	if c.API.RatePerSecond == 0 {
		c.API.RatePerSecond = 50
	}

	if c.State.MessageLimit == 0 {
		c.State.MessageLimit = 100
	}

	if c.Persist.Path == "" {
		c.Persist.Path = "data/state.json"
	}
	if c.Persist.Key == "" {
		c.Persist.Key = "gw_state"
	}

	if c.Identify.OS == "" {
		c.Identify.OS = runtime.GOOS
	}
	if c.Identify.Browser == "" {
		c.Identify.Browser = "chatgw"
	}
	if c.Identify.Device == "" {
		c.Identify.Device = "chatgw"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (g Gateway) BackoffBase() time.Duration    { return ms(g.BackoffBaseMs) }
func (g Gateway) BackoffStep() time.Duration    { return ms(g.BackoffStepMs) }
func (g Gateway) AttemptTimeout() time.Duration { return ms(g.AttemptTimeoutMs) }
func (a API) Timeout() time.Duration            { return ms(a.TimeoutMs) }

// TokenKey is the persisted key holding the gateway token
func (p Persist) TokenKey() string { return p.Key + "_token" }
