// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/callmon/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `callmon:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Commands  CommandsConfig  `mapstructure:"commands" yaml:"commands"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname" yaml:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// ─── Call Monitor ───

// MonitorConfig controls discovery and polling of a call.
type MonitorConfig struct {
	PollInterval       time.Duration    `mapstructure:"poll_interval" yaml:"poll_interval"`
	DiscoveryTimeout   time.Duration    `mapstructure:"discovery_timeout" yaml:"discovery_timeout"`
	TerminateTimeout   time.Duration    `mapstructure:"terminate_timeout" yaml:"terminate_timeout"`
	ObservationRetries int              `mapstructure:"observation_retries" yaml:"observation_retries"` // 0 = first failed poll ends the call
	Attributes         AttributesConfig `mapstructure:"attributes" yaml:"attributes"`
}

// AttributesConfig names the participant attributes carrying call state.
type AttributesConfig struct {
	CallStatus        string `mapstructure:"call_status" yaml:"call_status"`
	OriginNumber      string `mapstructure:"origin_number" yaml:"origin_number"`
	DestinationNumber string `mapstructure:"destination_number" yaml:"destination_number"`
}

// ─── Room Directory ───

// DirectoryConfig selects the room directory backend.
// Options are decoded by the selected backend.
type DirectoryConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"` // livekit | memory
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Call History ───

// HistoryConfig controls persisted call records.
type HistoryConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	MaxRecords int    `mapstructure:"max_records" yaml:"max_records"` // 0 = keep everything
}

// ─── Call Events ───

// EventsConfig controls publishing of call lifecycle events.
type EventsConfig struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	Kafka   KafkaWriterConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaWriterConfig configures the Kafka producer for call events.
type KafkaWriterConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none / gzip / snappy / lz4 / zstd
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// ─── Command Channel ───

// CommandsConfig controls the remote command channel (operator terminate).
type CommandsConfig struct {
	Enabled    bool              `mapstructure:"enabled" yaml:"enabled"`
	CommandTTL time.Duration     `mapstructure:"command_ttl" yaml:"command_ttl"` // older commands are skipped
	Kafka      KafkaReaderConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaReaderConfig configures the Kafka consumer for commands.
type KafkaReaderConfig struct {
	Brokers         []string `mapstructure:"brokers" yaml:"brokers"`
	Topic           string   `mapstructure:"topic" yaml:"topic"`
	GroupID         string   `mapstructure:"group_id" yaml:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset" yaml:"auto_offset_reset"` // earliest / latest
}

// ─── Metrics ───

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // trace / debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `callmon: ...`.
type configRoot struct {
	Callmon GlobalConfig `mapstructure:"callmon"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
// Env vars map through the key replacer, e.g. "callmon.monitor.poll_interval" → CALLMON_MONITOR_POLL_INTERVAL.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Callmon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "callmon." prefix to match the YAML root wrapper.
// Every key must have a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("callmon.node.hostname", "")

	// Monitor defaults
	v.SetDefault("callmon.monitor.poll_interval", "500ms")
	v.SetDefault("callmon.monitor.discovery_timeout", "30s")
	v.SetDefault("callmon.monitor.terminate_timeout", "10s")
	v.SetDefault("callmon.monitor.observation_retries", 0)
	v.SetDefault("callmon.monitor.attributes.call_status", "sip.callStatus")
	v.SetDefault("callmon.monitor.attributes.origin_number", "sip.from")
	v.SetDefault("callmon.monitor.attributes.destination_number", "sip.to")

	// Directory defaults
	v.SetDefault("callmon.directory.type", "livekit")

	// History defaults
	v.SetDefault("callmon.history.enabled", false)
	v.SetDefault("callmon.history.dir", "/var/lib/callmon/calls")
	v.SetDefault("callmon.history.max_records", 200)

	// Events defaults
	v.SetDefault("callmon.events.enabled", false)
	v.SetDefault("callmon.events.kafka.brokers", []string{})
	v.SetDefault("callmon.events.kafka.topic", "callmon-call-events")
	v.SetDefault("callmon.events.kafka.batch_size", 100)
	v.SetDefault("callmon.events.kafka.batch_timeout", "100ms")
	v.SetDefault("callmon.events.kafka.compression", "snappy")
	v.SetDefault("callmon.events.kafka.max_attempts", 3)

	// Command channel defaults
	v.SetDefault("callmon.commands.enabled", false)
	v.SetDefault("callmon.commands.command_ttl", "5m")
	v.SetDefault("callmon.commands.kafka.brokers", []string{})
	v.SetDefault("callmon.commands.kafka.topic", "callmon-commands")
	v.SetDefault("callmon.commands.kafka.group_id", "")
	v.SetDefault("callmon.commands.kafka.auto_offset_reset", "latest")

	// Metrics defaults
	v.SetDefault("callmon.metrics.enabled", false)
	v.SetDefault("callmon.metrics.listen", ":9464")
	v.SetDefault("callmon.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("callmon.log.level", "info")
	v.SetDefault("callmon.log.format", "text")
	v.SetDefault("callmon.log.outputs.file.enabled", false)
	v.SetDefault("callmon.log.outputs.file.path", "/var/log/callmon/callmon.log")
	v.SetDefault("callmon.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("callmon.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("callmon.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("callmon.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Monitor timings ──
	m := &cfg.Monitor
	if m.PollInterval <= 0 {
		return fmt.Errorf("%w: monitor.poll_interval must be positive, got %s", core.ErrConfigInvalid, m.PollInterval)
	}
	if m.DiscoveryTimeout <= 0 {
		return fmt.Errorf("%w: monitor.discovery_timeout must be positive, got %s", core.ErrConfigInvalid, m.DiscoveryTimeout)
	}
	if m.PollInterval > m.DiscoveryTimeout {
		return fmt.Errorf("%w: monitor.poll_interval (%s) exceeds monitor.discovery_timeout (%s)",
			core.ErrConfigInvalid, m.PollInterval, m.DiscoveryTimeout)
	}
	if m.TerminateTimeout <= 0 {
		return fmt.Errorf("%w: monitor.terminate_timeout must be positive, got %s", core.ErrConfigInvalid, m.TerminateTimeout)
	}
	if m.ObservationRetries < 0 {
		return fmt.Errorf("%w: monitor.observation_retries must not be negative", core.ErrConfigInvalid)
	}
	if m.Attributes.CallStatus == "" || m.Attributes.OriginNumber == "" {
		return fmt.Errorf("%w: monitor.attributes.call_status and origin_number are required", core.ErrConfigInvalid)
	}

	// ── Directory ──
	cfg.Directory.Type = strings.ToLower(strings.TrimSpace(cfg.Directory.Type))
	if cfg.Directory.Type == "" {
		return fmt.Errorf("%w: directory.type is required", core.ErrConfigInvalid)
	}
	if cfg.Directory.Options == nil {
		cfg.Directory.Options = map[string]any{}
	}

	// ── History ──
	if cfg.History.Enabled && cfg.History.Dir == "" {
		return fmt.Errorf("%w: history.dir is required when history.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.History.MaxRecords < 0 {
		cfg.History.MaxRecords = 0
	}

	// ── Events ──
	if cfg.Events.Enabled {
		if len(cfg.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: events.kafka.brokers is required when events.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.Events.Kafka.Topic == "" {
			return fmt.Errorf("%w: events.kafka.topic is required when events.enabled=true", core.ErrConfigInvalid)
		}
	}
	switch cfg.Events.Kafka.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("%w: invalid events.kafka.compression: %s", core.ErrConfigInvalid, cfg.Events.Kafka.Compression)
	}

	// ── Command channel ──
	if cfg.Commands.Enabled {
		kc := cfg.Commands.Kafka
		if len(kc.Brokers) == 0 || kc.Topic == "" {
			return fmt.Errorf("%w: commands.kafka.brokers and topic are required when commands.enabled=true", core.ErrConfigInvalid)
		}
		if kc.GroupID == "" {
			// One consumer group per node so every node sees every command.
			cfg.Commands.Kafka.GroupID = "callmon-" + cfg.Node.Hostname
		}
		if kc.AutoOffsetReset != "earliest" && kc.AutoOffsetReset != "latest" {
			return fmt.Errorf("%w: commands.kafka.auto_offset_reset must be earliest/latest", core.ErrConfigInvalid)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}
