// Package metrics exports link counters and core notifications as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/logger"
	"github.com/arloliu/go-gse/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace        = "gse"
	subscriptionSize = 1024
	shutdownTimeout  = 5 * time.Second
)

// Exporter owns a registry with the stand metrics.
type Exporter struct {
	reg    *prometheus.Registry
	logger logger.Logger

	connected *prometheus.GaugeVec
	aborts    *prometheus.CounterVec
	lockout   prometheus.Gauge
	valveOpen *prometheus.GaugeVec
	sensor    *prometheus.GaugeVec
	opChanges prometheus.Counter
	steps     *prometheus.CounterVec
}

// NewExporter creates an Exporter with the notification metrics registered.
func NewExporter(l logger.Logger) *Exporter {
	if l == nil {
		l = logger.GetLogger()
	}

	e := &Exporter{
		reg:    prometheus.NewRegistry(),
		logger: l.With("component", "metrics"),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "1 for the current link state, 0 otherwise.",
		}, []string{"state"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Aborts by type.",
		}, []string{"type"}),
		lockout: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lockout",
			Help:      "1 while the abort lockout is engaged.",
		}),
		valveOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valve_open",
			Help:      "1 when the valve was last commanded open.",
		}, []string{"valve"}),
		sensor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last reading per sensor.",
		}, []string{"sensor"}),
		opChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_changes_total",
			Help:      "Operations applied.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_steps_total",
			Help:      "Timed sequence steps by outcome.",
		}, []string{"outcome"}),
	}

	e.reg.MustRegister(e.connected, e.aborts, e.lockout, e.valveOpen, e.sensor, e.opChanges, e.steps)

	return e
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}

// RegisterLink exposes the link counters.
func (e *Exporter) RegisterLink(m *link.Metrics) error {
	if m == nil {
		return errors.New("metrics: link metrics is nil")
	}

	counters := []struct {
		name string
		help string
		fn   func() uint64
	}{
		{"link_connect_attempts_total", "Connection attempts.", m.ConnectAttemptCount.Load},
		{"link_connect_failures_total", "Failed connection attempts.", m.ConnectFailCount.Load},
		{"link_disconnects_total", "Sessions ended.", m.DisconnectCount.Load},
		{"link_heartbeats_sent_total", "Heartbeats sent.", m.HeartbeatSendCount.Load},
		{"link_heartbeats_received_total", "Heartbeats received.", m.HeartbeatRecvCount.Load},
		{"link_heartbeat_losses_total", "Sessions ended by heartbeat loss.", m.HeartbeatLossCount.Load},
		{"link_datagrams_received_total", "Datagrams received from the MCU.", m.DatagramRecvCount.Load},
		{"link_foreign_datagrams_total", "Datagrams from other peers, ignored.", m.ForeignDatagramCount.Load},
		{"link_lines_received_total", "Lines received.", m.LineRecvCount.Load},
		{"link_line_overflows_total", "Partial lines discarded for exceeding the buffer limit.", m.LineOverflowCount.Load},
		{"link_valve_commands_sent_total", "Valve commands sent.", m.ValveCmdSendCount.Load},
		{"link_valve_command_errors_total", "Valve commands that failed to send.", m.ValveCmdErrCount.Load},
	}

	for _, c := range counters {
		if err := e.RegisterCounterFunc(c.name, c.help, c.fn); err != nil {
			return err
		}
	}

	return nil
}

// RegisterCounterFunc exposes a monotonic counter read on every scrape.
func (e *Exporter) RegisterCounterFunc(name, help string, fn func() uint64) error {
	return e.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) }))
}

// Run updates the notification metrics from bus until ctx is done.
func (e *Exporter) Run(ctx context.Context, bus *notify.Bus) error {
	if bus == nil {
		return errors.New("metrics: bus is nil")
	}

	sub := bus.Subscribe(subscriptionSize)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			e.observe(ev)
		}
	}
}

func (e *Exporter) observe(ev notify.Event) {
	switch ev := ev.(type) {
	case notify.ConnectionChanged:
		e.connected.Reset()
		e.connected.WithLabelValues(ev.State).Set(1)
	case notify.AbortTriggered:
		e.aborts.WithLabelValues(ev.Type).Inc()
	case notify.LockoutChanged:
		e.lockout.Set(boolFloat(ev.Locked))
	case notify.ValveChanged:
		e.valveOpen.WithLabelValues(ev.Name).Set(boolFloat(ev.Open))
	case notify.SensorUpdated:
		e.sensor.WithLabelValues(ev.ID).Set(ev.Value)
	case notify.OperationChanged:
		e.opChanges.Inc()
	case notify.SequenceStep:
		outcome := "fired"
		if ev.Skipped {
			outcome = "skipped"
		}
		e.steps.WithLabelValues(outcome).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return e.serve(ctx, ln)
}

func (e *Exporter) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	e.logger.Info("metrics listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
