package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callmon/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
callmon:
  node:
    hostname: "edge-1"
  monitor:
    poll_interval: 250ms
    discovery_timeout: 10s
    terminate_timeout: 3s
    observation_retries: 2
    attributes:
      origin_number: "sip.phoneNumber"
  directory:
    type: LiveKit
    options:
      url: "wss://example.livekit.cloud"
      api_key: "key"
  history:
    enabled: true
    dir: "/tmp/callmon"
  log:
    level: debug
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.Node.Hostname)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Monitor.DiscoveryTimeout)
	assert.Equal(t, 3*time.Second, cfg.Monitor.TerminateTimeout)
	assert.Equal(t, 2, cfg.Monitor.ObservationRetries)
	assert.Equal(t, "sip.phoneNumber", cfg.Monitor.Attributes.OriginNumber)
	assert.Equal(t, "sip.callStatus", cfg.Monitor.Attributes.CallStatus)
	assert.Equal(t, "sip.to", cfg.Monitor.Attributes.DestinationNumber)
	assert.Equal(t, "livekit", cfg.Directory.Type)
	assert.Equal(t, "wss://example.livekit.cloud", cfg.Directory.Options["url"])
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/tmp/callmon", cfg.History.Dir)
	assert.Equal(t, 200, cfg.History.MaxRecords)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Monitor.DiscoveryTimeout)
	assert.Equal(t, 10*time.Second, cfg.Monitor.TerminateTimeout)
	assert.Equal(t, 0, cfg.Monitor.ObservationRetries)
	assert.Equal(t, "livekit", cfg.Directory.Type)
	assert.NotNil(t, cfg.Directory.Options)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.NotEmpty(t, cfg.Node.Hostname)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CALLMON_MONITOR_POLL_INTERVAL", "100ms")
	t.Setenv("CALLMON_DIRECTORY_TYPE", "memory")

	cfg, err := Load(writeConfig(t, "callmon:\n  log:\n    level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, "memory", cfg.Directory.Type)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, "callmon:\n  log:\n    level: verbose\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoadTraceLevel(t *testing.T) {
	cfg, err := Load(writeConfig(t, "callmon:\n  log:\n    level: trace\n"))
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Log.Level)

	t.Setenv("CALLMON_LOG_LEVEL", "trace")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Log.Level)
}

func TestValidateMonitorTimings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GlobalConfig)
		message string
	}{
		{"zero poll interval", func(c *GlobalConfig) { c.Monitor.PollInterval = 0 }, "poll_interval must be positive"},
		{"zero discovery timeout", func(c *GlobalConfig) { c.Monitor.DiscoveryTimeout = 0 }, "discovery_timeout must be positive"},
		{"poll longer than discovery", func(c *GlobalConfig) { c.Monitor.PollInterval = time.Minute }, "exceeds"},
		{"zero terminate timeout", func(c *GlobalConfig) { c.Monitor.TerminateTimeout = 0 }, "terminate_timeout"},
		{"negative retries", func(c *GlobalConfig) { c.Monitor.ObservationRetries = -1 }, "observation_retries"},
		{"missing status key", func(c *GlobalConfig) { c.Monitor.Attributes.CallStatus = "" }, "attributes"},
		{"missing directory type", func(c *GlobalConfig) { c.Directory.Type = " " }, "directory.type"},
		{"history without dir", func(c *GlobalConfig) { c.History.Enabled = true; c.History.Dir = "" }, "history.dir"},
		{"events without brokers", func(c *GlobalConfig) { c.Events.Enabled = true; c.Events.Kafka.Topic = "t" }, "events.kafka.brokers"},
		{"events without topic", func(c *GlobalConfig) {
			c.Events.Enabled = true
			c.Events.Kafka.Brokers = []string{"localhost:9092"}
		}, "events.kafka.topic"},
		{"unknown compression", func(c *GlobalConfig) { c.Events.Kafka.Compression = "brotli" }, "compression"},
		{"commands without topic", func(c *GlobalConfig) {
			c.Commands.Enabled = true
			c.Commands.Kafka.Brokers = []string{"localhost:9092"}
		}, "commands.kafka"},
		{"bad offset reset", func(c *GlobalConfig) {
			c.Commands.Enabled = true
			c.Commands.Kafka = KafkaReaderConfig{Brokers: []string{"localhost:9092"}, Topic: "cmd", AutoOffsetReset: "middle"}
		}, "auto_offset_reset"},
		{"metrics without listen", func(c *GlobalConfig) { c.Metrics.Enabled = true }, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.ValidateAndApplyDefaults()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func validConfig() GlobalConfig {
	return GlobalConfig{
		Node: NodeConfig{Hostname: "test"},
		Monitor: MonitorConfig{
			PollInterval:     500 * time.Millisecond,
			DiscoveryTimeout: 30 * time.Second,
			TerminateTimeout: 10 * time.Second,
			Attributes: AttributesConfig{
				CallStatus:        "sip.callStatus",
				OriginNumber:      "sip.from",
				DestinationNumber: "sip.to",
			},
		},
		Directory: DirectoryConfig{Type: "memory"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

func TestCommandsDefaultGroupPerNode(t *testing.T) {
	cfg := validConfig()
	cfg.Commands = CommandsConfig{
		Enabled: true,
		Kafka:   KafkaReaderConfig{Brokers: []string{"localhost:9092"}, Topic: "cmd", AutoOffsetReset: "latest"},
	}

	require.NoError(t, cfg.ValidateAndApplyDefaults())
	assert.Equal(t, "callmon-test", cfg.Commands.Kafka.GroupID)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEventsAndMetrics(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
callmon:
  events:
    enabled: true
    kafka:
      brokers: ["kafka-1:9092", "kafka-2:9092"]
      compression: gzip
  metrics:
    enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, "callmon-call-events", cfg.Events.Kafka.Topic)
	assert.Equal(t, 100*time.Millisecond, cfg.Events.Kafka.BatchTimeout)
	assert.Equal(t, "gzip", cfg.Events.Kafka.Compression)
	assert.Equal(t, ":9464", cfg.Metrics.Listen)
	assert.Equal(t, 5*time.Minute, cfg.Commands.CommandTTL)
}
