package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/safety"
	"github.com/arloliu/go-gse/sequence"
	"github.com/arloliu/go-gse/valve"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	require := require.New(t)

	cfg := Default()
	require.NoError(cfg.Validate())
	require.Equal(valve.DefaultRoster, cfg.Valves)
	require.Len(cfg.Operations, 21)
	require.Len(cfg.Sequences, 1)
	require.Equal(5*time.Second, cfg.Sequences[0].Steps[0].After)
	require.Equal(sequence.OpKillAndVent, cfg.Sequences[0].Steps[1].Apply)
	require.Equal(safety.DefaultThresholds(), cfg.Thresholds())

	lc, err := link.NewConfig(cfg.LinkOptions()...)
	require.NoError(err)
	require.Equal(100*time.Millisecond, lc.HeartbeatRxMissInterval())
	require.Equal(link.LocalPortSameAsRemote, lc.LocalPort())
}

func TestParse_Overlay(t *testing.T) {
	require := require.New(t)

	cfg, err := Parse([]byte(`
mcu:
  host: 10.0.0.5
  port: 9000
  auto_connect: true
link:
  heartbeat_rx_miss_interval: 250ms
safety:
  vent_valve: ""
  chamber_max: 650
  modes:
    high_p2: false
operations:
  - name: Safe
  - name: Pressurization
    open: [NCS1]
  - name: Fire
    open: [NCS1, GV-1]
sequences:
  - trigger: Pressurization
    steps:
      - after: 2s
        apply: Fire
      - after: 4s
        apply: Safe
ignition_countdown: 3s
mqtt:
  enabled: true
  topic_prefix: stand1
log:
  level: debug
`))
	require.NoError(err)

	require.Equal("10.0.0.5", cfg.MCU.Host)
	require.Equal(9000, cfg.MCU.Port)
	require.True(cfg.MCU.AutoConnect)
	require.Equal(250*time.Millisecond, cfg.Link.HeartbeatRxMissInterval)
	// untouched keys keep their defaults
	require.Equal(10*time.Millisecond, cfg.Link.HeartbeatTxCadence)
	require.Equal("tcp://localhost:1883", cfg.MQTT.Broker)
	require.Equal("NCS3", cfg.Safety.RegulationValve)

	require.Empty(cfg.Safety.VentValve)
	require.InDelta(650, cfg.Safety.ChamberMax, 0)
	require.Equal(map[string]bool{"high_p2": false}, cfg.Safety.Modes)
	require.Len(cfg.Operations, 3)
	require.Equal(2*time.Second, cfg.Sequences[0].Steps[0].After)
	require.Equal(3*time.Second, cfg.IgnitionCountdown)
	require.Equal("stand1", cfg.MQTT.TopicPrefix)

	require.Len(cfg.SafetyOptions(), 4)
	require.Len(cfg.SequenceOptions(), 2)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("mcu:\n  hostname: x\n"))
	require.ErrorContains(t, err, "hostname")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"port", func(c *Config) { c.MCU.Port = 0 }, "mcu.port out of range"},
		{"host", func(c *Config) { c.MCU.Host = "" }, "mcu.host is empty"},
		{
			"miss interval not above cadence",
			func(c *Config) { c.Link.HeartbeatRxMissInterval = 10 * time.Millisecond },
			"heartbeat rx miss interval must exceed tx cadence",
		},
		{"poll interval", func(c *Config) { c.Link.PollInterval = 0 }, "poll interval out of range"},
		{"empty roster", func(c *Config) { c.Valves = nil }, "valve roster is empty"},
		{"duplicate valve", func(c *Config) { c.Valves = append(c.Valves, "NCS1") }, `duplicate valve "NCS1"`},
		{"vent valve", func(c *Config) { c.Safety.VentValve = "NCS9" }, `safety.vent_valve: unknown valve: "NCS9"`},
		{"regulation valve", func(c *Config) { c.Safety.RegulationValve = "" }, "safety.regulation_valve"},
		{
			"operation with unknown valve",
			func(c *Config) { c.Operations[0].Open = []string{"NCS4"} },
			`opens unknown valve "NCS4"`,
		},
		{
			"step with unknown operation",
			func(c *Config) { c.Sequences[0].Steps[0].Apply = "Launch" },
			`unknown operation "Launch"`,
		},
		{
			"non-positive step delay",
			func(c *Config) { c.Sequences[0].Steps[0].After = 0 },
			"delay must be positive",
		},
		{
			"missing ignition operation",
			func(c *Config) {
				c.Operations = []OperationConfig{{Name: "Safe"}}
				c.Sequences = nil
			},
			`ignition operation "Pressurization" is missing`,
		},
		{"abort interval", func(c *Config) { c.Safety.AbortCheckInterval = 0 }, "abort_check_interval out of range"},
		{"thresholds", func(c *Config) { c.Safety.P2CloseBelow = 1400 }, "p2 close threshold"},
		{"mode", func(c *Config) { c.Safety.Modes = map[string]bool{"low_p2": true} }, `unknown abort mode: "low_p2"`},
		{"ignition countdown", func(c *Config) { c.IgnitionCountdown = 0 }, "ignition_countdown must be positive"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "mqtt.broker is empty"},
		{"mqtt buffer", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BufferSize = 0 }, "mqtt.buffer_size"},
		{"estop chip", func(c *Config) { c.EStop.Enabled = true; c.EStop.Chip = "" }, "estop.chip is empty"},
		{"metrics listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen is empty"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, `unknown log level "loud"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.MCU.Port = -1
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.ErrorContains(t, err, "mcu.port")
	require.ErrorContains(t, err, "log.level")
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "stand.yaml")
	require.NoError(os.WriteFile(path, []byte("mcu:\n  port: 7777\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal(7777, cfg.MCU.Port)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(err, os.ErrNotExist)

	cfg, err = Load("")
	require.NoError(err)
	require.Equal(8888, cfg.MCU.Port)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/gse/stand.yaml")
	require.Equal(t, "/etc/gse/stand.yaml", Path(""))
	require.Equal(t, "local.yaml", Path("local.yaml"))
}

func TestMarshal_RoundTrip(t *testing.T) {
	require := require.New(t)

	data, err := Default().Marshal()
	require.NoError(err)
	require.Contains(string(data), "heartbeat_tx_cadence: 10ms")

	cfg, err := Parse(data)
	require.NoError(err)
	require.Equal(Default(), cfg)
}
