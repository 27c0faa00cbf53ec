// Package config loads the stand configuration file.
//
// The file is selected by the --config flag or the GSE_CONFIG environment variable. It is YAML,
// decoded over the built-in defaults, so a file only needs the keys it changes. Unknown keys are
// rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-gse/sequence"
	"github.com/arloliu/go-gse/valve"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "GSE_CONFIG"

// Config is the stand configuration.
type Config struct {
	MCU    MCUConfig    `yaml:"mcu"`
	Link   LinkConfig   `yaml:"link"`
	Safety SafetyConfig `yaml:"safety"`

	// Valves is the valve roster in command order.
	Valves []string `yaml:"valves"`

	// Operations replaces the operation table when present.
	Operations []OperationConfig `yaml:"operations"`

	// Sequences replaces the timed sequences when present.
	Sequences []SequenceConfig `yaml:"sequences"`

	// IgnitionCountdown is the countdown before the ignition operation is applied.
	// Default: 10s
	IgnitionCountdown time.Duration `yaml:"ignition_countdown"`

	MQTT    MQTTConfig    `yaml:"mqtt"`
	EStop   EStopConfig   `yaml:"estop"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// MCUConfig locates the stand controller.
type MCUConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// LocalPort is the ground-side UDP port. -1 uses the MCU port, 0 an ephemeral port.
	// Default: -1
	LocalPort int `yaml:"local_port"`

	// AutoConnect connects at startup.
	AutoConnect bool `yaml:"auto_connect"`
}

// LinkConfig holds the link timings.
type LinkConfig struct {
	HeartbeatTxCadence      time.Duration `yaml:"heartbeat_tx_cadence"`
	HeartbeatRxMissInterval time.Duration `yaml:"heartbeat_rx_miss_interval"`
	PollInterval            time.Duration `yaml:"poll_interval"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	RecvTimeout             time.Duration `yaml:"recv_timeout"`
	CloseTimeout            time.Duration `yaml:"close_timeout"`
}

// SafetyConfig holds the abort limits.
type SafetyConfig struct {
	// AbortCheckInterval is the evaluation cadence. Default: 10ms
	AbortCheckInterval time.Duration `yaml:"abort_check_interval"`

	// VentValve is left open by an abort. Empty closes every valve.
	// Default: NCS3
	VentValve string `yaml:"vent_valve"`

	// RegulationValve is driven by P2 regulation. Default: NCS3
	RegulationValve string `yaml:"regulation_valve"`

	P2OpenAbove    float64       `yaml:"p2_open_above"`
	P2CloseBelow   float64       `yaml:"p2_close_below"`
	ChamberMax     float64       `yaml:"chamber_max"`
	UpstreamDelta  float64       `yaml:"upstream_delta"`
	UpstreamWindow time.Duration `yaml:"upstream_window"`

	// Modes sets the initial enabled flag of abort modes by id. Unlisted modes stay enabled.
	Modes map[string]bool `yaml:"modes,omitempty"`
}

// OperationConfig is one row of the operation table.
type OperationConfig struct {
	Name string   `yaml:"name"`
	Open []string `yaml:"open,omitempty"`
}

// SequenceConfig is a timed sequence started by its trigger operation.
type SequenceConfig struct {
	Trigger string       `yaml:"trigger"`
	Steps   []StepConfig `yaml:"steps"`
}

// StepConfig applies an operation After the trigger.
type StepConfig struct {
	After time.Duration `yaml:"after"`
	Apply string        `yaml:"apply"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`

	// BufferSize bounds the QoS 1 messages kept while the broker is unreachable.
	// Default: 256
	BufferSize int `yaml:"buffer_size"`
}

// EStopConfig configures the hardware E-stop button.
type EStopConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Chip      string        `yaml:"chip"`
	Line      int           `yaml:"line"`
	ActiveLow bool          `yaml:"active_low"`
	Debounce  time.Duration `yaml:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		MCU: MCUConfig{
			Host:      "192.168.1.174",
			Port:      8888,
			LocalPort: -1,
		},
		Link: LinkConfig{
			HeartbeatTxCadence:      10 * time.Millisecond,
			HeartbeatRxMissInterval: 100 * time.Millisecond,
			PollInterval:            time.Millisecond,
			ConnectTimeout:          time.Second,
			RecvTimeout:             250 * time.Millisecond,
			CloseTimeout:            time.Second,
		},
		Safety: SafetyConfig{
			AbortCheckInterval: 10 * time.Millisecond,
			VentValve:          "NCS3",
			RegulationValve:    "NCS3",
			P2OpenAbove:        1375,
			P2CloseBelow:       1250,
			ChamberMax:         700,
			UpstreamDelta:      5,
			UpstreamWindow:     150 * time.Millisecond,
		},
		Valves:            append([]string(nil), valve.DefaultRoster...),
		IgnitionCountdown: 10 * time.Second,
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "gse",
			TopicPrefix: "gse",
			BufferSize:  256,
		},
		EStop: EStopConfig{
			Chip:      "gpiochip0",
			Line:      17,
			ActiveLow: true,
			Debounce:  20 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	for _, op := range sequence.DefaultOperations() {
		cfg.Operations = append(cfg.Operations, OperationConfig{Name: op.Name, Open: op.Open})
	}
	for _, seq := range sequence.DefaultSequences() {
		sc := SequenceConfig{Trigger: seq.Trigger}
		for _, st := range seq.Steps {
			sc.Steps = append(sc.Steps, StepConfig{After: st.After, Apply: st.Operation})
		}
		cfg.Sequences = append(cfg.Sequences, sc)
	}

	return cfg
}

// Path returns flagValue if set, otherwise the GSE_CONFIG environment variable.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return os.Getenv(EnvConfig)
}

// Load reads the file at path over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
