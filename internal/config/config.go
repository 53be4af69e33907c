package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr   string `yaml:"http_addr" json:"http_addr"`
	SocketAddr string `yaml:"socket_addr" json:"socket_addr"`
	StaticDir  string `yaml:"static_dir" json:"static_dir"`

	DataDir        string `yaml:"data_dir" json:"data_dir"`
	DisableDB      bool   `yaml:"disable_db" json:"disable_db"`
	DisableJournal bool   `yaml:"disable_journal" json:"disable_journal"`

	TickMs              int `yaml:"tick_ms" json:"tick_ms"`
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
	ProbeTimeoutMs      int `yaml:"probe_timeout_ms" json:"probe_timeout_ms"`
	PollTimeoutMs       int `yaml:"poll_timeout_ms" json:"poll_timeout_ms"`
	EmitTimeoutMs       int `yaml:"emit_timeout_ms" json:"emit_timeout_ms"`
	ReplyTimeoutMs      int `yaml:"reply_timeout_ms" json:"reply_timeout_ms"`

	MailboxSize     int `yaml:"mailbox_size" json:"mailbox_size"`
	PollConcurrency int `yaml:"poll_concurrency" json:"poll_concurrency"`

	Spawn Spawn `yaml:"spawn" json:"spawn"`
	Brain Brain `yaml:"brain" json:"brain"`
}

type Spawn struct {
	MaxSpeed     float64 `yaml:"max_speed" json:"max_speed"`
	CommandCount int     `yaml:"command_count" json:"command_count"`
	CommandRate  float64 `yaml:"command_rate" json:"command_rate"`
	CommandBurst int     `yaml:"command_burst" json:"command_burst"`
}

type Brain struct {
	// ApplyIntent lets brain responses steer agents. Off by default: responses
	// are only logged.
	ApplyIntent bool `yaml:"apply_intent" json:"apply_intent"`
}

func Defaults() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads path from fsys, fills defaults, then applies environment
// overrides. A missing file is not an error.
func Load(fsys afero.Fs, path string) (Config, error) {
	var c Config
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if strings.TrimSpace(path) != "" {
		raw, err := afero.ReadFile(fsys, path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &c); err != nil {
				return c, fmt.Errorf("%s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return c, err
		}
	}
	c.applyDefaults()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8000"
	}
	if c.SocketAddr == "" {
		c.SocketAddr = ":3435"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.TickMs <= 0 {
		c.TickMs = 100
	}
	if c.HeartbeatIntervalMs <= 0 {
		c.HeartbeatIntervalMs = 5000
	}
	if c.ProbeTimeoutMs <= 0 {
		c.ProbeTimeoutMs = 1000
	}
	if c.PollTimeoutMs <= 0 {
		c.PollTimeoutMs = 500
	}
	if c.EmitTimeoutMs <= 0 {
		c.EmitTimeoutMs = 250
	}
	if c.ReplyTimeoutMs <= 0 {
		c.ReplyTimeoutMs = 5000
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 1024
	}
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = 16
	}
	if c.Spawn.MaxSpeed <= 0 {
		c.Spawn.MaxSpeed = 0.01
	}
	if c.Spawn.CommandCount <= 0 {
		c.Spawn.CommandCount = 1
	}
	if c.Spawn.CommandRate <= 0 {
		c.Spawn.CommandRate = 5
	}
	if c.Spawn.CommandBurst <= 0 {
		c.Spawn.CommandBurst = 10
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BOIDING_ADDRESS"); ok && strings.TrimSpace(v) != "" {
		c.HTTPAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup("BOIDING_SOCKET"); ok && strings.TrimSpace(v) != "" {
		c.SocketAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup("BOIDING_DATA_DIR"); ok && strings.TrimSpace(v) != "" {
		c.DataDir = strings.TrimSpace(v)
	}
	if v, ok := lookup("BOIDING_TICK_MS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BOIDING_TICK_MS: %w", err)
		}
		c.TickMs = n
	}
	if v, ok := lookup("BOIDING_HEARTBEAT_SECONDS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BOIDING_HEARTBEAT_SECONDS: %w", err)
		}
		c.HeartbeatIntervalMs = n * 1000
	}
	if v, ok := lookup("BOIDING_DISABLE_DB"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BOIDING_DISABLE_DB: %w", err)
		}
		c.DisableDB = b
	}
	return nil
}

func (c Config) Validate() error {
	if c.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be positive, got %d", c.TickMs)
	}
	if c.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("heartbeat_interval_ms must be positive, got %d", c.HeartbeatIntervalMs)
	}
	if c.HTTPAddr == c.SocketAddr {
		return fmt.Errorf("http_addr and socket_addr must differ (%s)", c.HTTPAddr)
	}
	return nil
}

func (c Config) Tick() time.Duration              { return ms(c.TickMs) }
func (c Config) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }
func (c Config) ProbeTimeout() time.Duration      { return ms(c.ProbeTimeoutMs) }
func (c Config) PollTimeout() time.Duration       { return ms(c.PollTimeoutMs) }
func (c Config) EmitTimeout() time.Duration       { return ms(c.EmitTimeoutMs) }
func (c Config) ReplyTimeout() time.Duration      { return ms(c.ReplyTimeoutMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
