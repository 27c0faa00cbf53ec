package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/safety"
	"github.com/arloliu/go-gse/sequence"
	"github.com/arloliu/go-gse/valve"
)

// Validate reports every problem of c, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.MCU.Host == "" {
		add("mcu.host is empty")
	}
	if c.MCU.Port < 1 || c.MCU.Port > 65535 {
		add("mcu.port out of range [1, 65535]: %d", c.MCU.Port)
	}

	if _, err := link.NewConfig(c.LinkOptions()...); err != nil {
		add("link: %w", err)
	}

	if _, err := valve.NewStore(c.Valves); err != nil {
		add("valves: %w", err)
	} else {
		roster := make(map[string]bool, len(c.Valves))
		for _, v := range c.Valves {
			roster[v] = true
		}
		if c.Safety.VentValve != "" && !roster[c.Safety.VentValve] {
			add("safety.vent_valve: %w: %q", valve.ErrUnknownValve, c.Safety.VentValve)
		}
		if !roster[c.Safety.RegulationValve] {
			add("safety.regulation_valve: %w: %q", valve.ErrUnknownValve, c.Safety.RegulationValve)
		}
		if err := sequence.ValidateTable(c.Valves, c.operations(), c.sequences()); err != nil {
			add("operations: %w", err)
		}
		if !c.hasOperation(sequence.OpPressurization) {
			add("operations: ignition operation %q is missing", sequence.OpPressurization)
		}
	}

	if c.Safety.AbortCheckInterval < time.Millisecond || c.Safety.AbortCheckInterval > time.Second {
		add("safety.abort_check_interval out of range [1ms, 1s]: %v", c.Safety.AbortCheckInterval)
	}
	if err := c.Thresholds().Validate(); err != nil {
		add("safety: %w", err)
	}
	known := make(map[string]bool)
	for _, m := range safety.ModeIDs() {
		known[m] = true
	}
	for id := range c.Safety.Modes {
		if !known[id] {
			add("safety.modes: %w: %q", safety.ErrUnknownMode, id)
		}
	}

	if c.IgnitionCountdown <= 0 {
		add("ignition_countdown must be positive: %v", c.IgnitionCountdown)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			add("mqtt.broker is empty")
		}
		if c.MQTT.TopicPrefix == "" {
			add("mqtt.topic_prefix is empty")
		}
		if c.MQTT.BufferSize < 1 {
			add("mqtt.buffer_size must be positive: %d", c.MQTT.BufferSize)
		}
	}

	if c.EStop.Enabled {
		if c.EStop.Chip == "" {
			add("estop.chip is empty")
		}
		if c.EStop.Line < 0 {
			add("estop.line must not be negative: %d", c.EStop.Line)
		}
		if c.EStop.Debounce < 0 {
			add("estop.debounce must not be negative: %v", c.EStop.Debounce)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		add("metrics.listen is empty")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}

	return errors.Join(errs...)
}

func (c *Config) hasOperation(name string) bool {
	for _, op := range c.Operations {
		if op.Name == name {
			return true
		}
	}

	return false
}
