// Package config loads daemon configuration from file, environment and
// defaults via viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/bill-acceptor/internal/logger"
	"github.com/sweeney/bill-acceptor/internal/pulse"
)

// Config is the top-level configuration for both daemons.
type Config struct {
	Channels ChannelsConfig `mapstructure:"channels"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Serial   SerialConfig   `mapstructure:"serial"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Log      LogConfig      `mapstructure:"log"`
	Session  SessionConfig  `mapstructure:"session"`
}

// ChannelsConfig assigns BCM pins and note values per channel. Keys are
// channel numbers; they stay strings here because viper lowercases and
// stringifies map keys, and are converted by the accessors below.
type ChannelsConfig struct {
	Pins   map[string]int `mapstructure:"pins"`
	Values map[string]int `mapstructure:"values"`
}

// PinAssignments returns the pin map keyed by channel number.
// Only meaningful after Validate has accepted the config.
func (c *Config) PinAssignments() map[int]int {
	return intKeys(c.Channels.Pins)
}

// ValueAssignments returns the value map keyed by channel number.
func (c *Config) ValueAssignments() map[int]int {
	return intKeys(c.Channels.Values)
}

func intKeys(in map[string]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		ch, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[ch] = v
	}
	return out
}

// PulseConfig holds decoding thresholds.
type PulseConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Min      time.Duration `mapstructure:"min"`
	Max      time.Duration `mapstructure:"max"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Poll     time.Duration `mapstructure:"poll"`
}

// SerialConfig configures the bridge variant's transport.
type SerialConfig struct {
	Port            string        `mapstructure:"port"` // empty = auto-discover
	BaudRate        int           `mapstructure:"baud_rate"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ReconnectLimit  int           `mapstructure:"reconnect_limit"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	RediscoveryWait time.Duration `mapstructure:"rediscovery_wait"`
	AwaitReady      bool          `mapstructure:"await_ready"`
}

// MQTTConfig configures event publishing.
type MQTTConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Broker  string `mapstructure:"broker"`
}

// LogConfig mirrors logger.Config for mapstructure decoding.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig controls ledger behavior.
type SessionConfig struct {
	HistoryCap    int           `mapstructure:"history_cap"` // 0 = unbounded
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// PulseSettings converts into the decoder's config struct.
func (c *Config) PulseSettings() pulse.Config {
	return pulse.Config{
		DebounceWindow: c.Pulse.Debounce,
		MinWidth:       c.Pulse.Min,
		MaxWidth:       c.Pulse.Max,
		Timeout:        c.Pulse.Timeout,
		PollInterval:   c.Pulse.Poll,
	}
}

// LoggerSettings converts into the logger's config struct.
func (c *Config) LoggerSettings() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Output:     c.Log.Output,
		Path:       c.Log.Path,
		Filename:   c.Log.Filename,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxAgeDays: c.Log.MaxAgeDays,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
	}
}

// Validate checks cross-field constraints beyond what decoding enforces.
func (c *Config) Validate() error {
	if len(c.Channels.Values) == 0 {
		return fmt.Errorf("no channel values configured")
	}
	for ch, v := range c.Channels.Values {
		if _, err := strconv.Atoi(ch); err != nil {
			return fmt.Errorf("channel key %q is not a number", ch)
		}
		if v <= 0 {
			return fmt.Errorf("channel %s value must be positive, got %d", ch, v)
		}
		if _, ok := c.Channels.Pins[ch]; !ok {
			return fmt.Errorf("channel %s has a value but no pin", ch)
		}
	}
	if err := c.PulseSettings().Validate(); err != nil {
		return fmt.Errorf("pulse config: %w", err)
	}
	if c.Serial.ReconnectLimit <= 0 {
		return fmt.Errorf("serial reconnect limit must be positive, got %d", c.Serial.ReconnectLimit)
	}
	return nil
}

// Load reads configuration from the given file (or the default search path
// when empty), applying defaults and BILL_ACCEPTOR_* env overrides.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bill-acceptor")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/bill-acceptor")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BILL_ACCEPTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine when no explicit path was given; defaults apply.
		if path != "" || !isNotFound(err) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

// Watch re-reads channel values when the config file changes on disk.
// Only the value map is hot-reloaded; threshold and pin changes need a
// restart because detectors and line claims are built once at startup.
func Watch(v *viper.Viper, log *zap.Logger, onValues func(map[int]int)) {
	v.OnConfigChange(func(fsnotify.Event) {
		reload(v, log, onValues)
	})
	v.WatchConfig()
}

// reload re-decodes the watched configuration. A file edit that no longer
// decodes is reported and skipped rather than silently ignored.
func reload(v *viper.Viper, log *zap.Logger, onValues func(map[int]int)) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Warn("config reload failed, keeping current values", zap.Error(err))
		return
	}
	if values := cfg.ValueAssignments(); len(values) > 0 {
		onValues(values)
	}
}

func setDefaults(v *viper.Viper) {
	// NV10 parallel-mode wiring and timings.
	v.SetDefault("channels.pins", map[string]int{"1": 17, "2": 27, "3": 22, "4": 23})
	v.SetDefault("channels.values", map[string]int{"1": 1, "2": 5, "3": 10, "4": 50})

	v.SetDefault("pulse.debounce", "100ms")
	v.SetDefault("pulse.min", "50ms")
	v.SetDefault("pulse.max", "500ms")
	v.SetDefault("pulse.timeout", "600ms")
	v.SetDefault("pulse.poll", "1ms")

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "1s")
	v.SetDefault("serial.settle_delay", "3s")
	v.SetDefault("serial.reconnect_limit", 3)
	v.SetDefault("serial.reconnect_delay", "2s")
	v.SetDefault("serial.rediscovery_wait", "10s")
	v.SetDefault("serial.await_ready", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://192.168.1.200:1883")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.path", "logs")
	v.SetDefault("log.filename", "bill-acceptor.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", false)

	v.SetDefault("session.history_cap", 0)
	v.SetDefault("session.stats_interval", "30s")
}
