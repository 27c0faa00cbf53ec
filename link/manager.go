package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-gse/internal/pool"
	"github.com/arloliu/go-gse/logger"
)

const (
	// ReasonHeartbeatLost is the disconnect reason when the MCU falls silent.
	ReasonHeartbeatLost = "heartbeat lost"
	// ReasonManualReconnect is the disconnect reason when Connect is called while connected.
	ReasonManualReconnect = "manual reconnect"
	// ReasonShutdown is the disconnect reason used by Close.
	ReasonShutdown = "shutdown"
	// ReasonEmptyDatagram is the disconnect reason for a zero length datagram.
	ReasonEmptyDatagram = "empty datagram"

	recvBufferSize = 2048
)

// Manager owns the UDP link to the MCU.
//
// Connect, Disconnect, SendValveCommand and State are safe for concurrent use.
type Manager struct {
	cfg      *Config
	logger   logger.Logger
	stateMgr *StateMgr
	events   *eventPump
	metrics  Metrics

	mu      sync.Mutex // protects sess
	sess    *session
	nextID  atomic.Uint64
	closed  atomic.Bool
	pctx    context.Context
	pcancel context.CancelFunc
}

// session holds everything that lives for one connection lifetime.
type session struct {
	id      uint64
	taskMgr *TaskManager
	remote  *net.UDPAddr
	framer  *LineFramer
	ended   atomic.Bool
	lastRx  atomic.Int64 // unix nano
	lastTx  atomic.Int64 // unix nano

	connMu sync.Mutex
	conn   *net.UDPConn
}

// NewManager creates a link Manager in the Disconnected state.
//
// ctx bounds the lifetime of every session; canceling it has the same effect as Close.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	m := &Manager{
		cfg:    cfg,
		logger: cfg.logger.With("component", "link"),
		events: newEventPump(cfg.eventBufferSize),
	}
	m.pctx, m.pcancel = context.WithCancel(ctx)
	m.stateMgr = NewStateMgr(m.logger, m.stateChangeHandler)

	context.AfterFunc(m.pctx, func() {
		m.Disconnect(ReasonShutdown)
	})

	return m, nil
}

// Events returns the ordered stream of link events. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events.out
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	return m.stateMgr.State()
}

// IsConnected reports whether the link is in the Connected state.
func (m *Manager) IsConnected() bool {
	return m.stateMgr.IsConnected()
}

// WaitState blocks until the link reaches state or ctx is done.
func (m *Manager) WaitState(ctx context.Context, state ConnState) error {
	return m.stateMgr.WaitState(ctx, state)
}

// Metrics returns the link counters.
func (m *Manager) Metrics() *Metrics {
	return &m.metrics
}

// PendingEvents returns the number of events queued behind the Events channel.
func (m *Manager) PendingEvents() int {
	return m.events.pending()
}

// LocalAddr returns the bound local address of the current session, or nil.
func (m *Manager) LocalAddr() *net.UDPAddr {
	s := m.current()
	if s == nil {
		return nil
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)

	return addr
}

// Connect starts an asynchronous connection attempt to the MCU at host:port.
//
// It returns ErrAlreadyConnecting if an attempt is in flight. When already connected, the current
// session is disconnected with reason "manual reconnect" first. The outcome is reported by events:
// a StateChanged to Connected, or ConnectionFailed.
func (m *Manager) Connect(host string, port int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("mcu port out of range [1, 65535]: %d", port)
	}

	if m.stateMgr.State() == Connected {
		m.Disconnect(ReasonManualReconnect)
	}

	if err := m.stateMgr.ToConnecting(); err != nil {
		return ErrAlreadyConnecting
	}

	s := &session{
		id:      m.nextID.Add(1),
		taskMgr: NewTaskManager(m.pctx, m.logger),
		framer:  NewLineFramer(m.cfg.maxLineLength),
	}
	m.mu.Lock()
	m.sess = s
	m.mu.Unlock()

	m.metrics.incConnectAttemptCount()
	m.logger.Info("connecting to MCU", "method", "Connect", "host", host, "port", port, "session", s.id)

	err := s.taskMgr.Start("connect", func() bool {
		m.establish(s, host, port)
		return false
	})
	if err != nil {
		m.failConnect(s, err)
	}

	return nil
}

// Disconnect ends the current session with the given reason and waits, bounded by the close
// timeout, for its goroutines to exit. It is a no-op when already disconnected.
func (m *Manager) Disconnect(reason string) {
	s := m.current()
	if s == nil {
		return
	}

	if m.endSession(s, reason) {
		m.waitSession(s)
	}
}

// Close disconnects with reason "shutdown" and closes the Events channel.
// The Manager cannot be reused.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.Disconnect(ReasonShutdown)
	m.pcancel()
	m.events.close()

	return nil
}

// SendValveCommand transmits VALVE_SET:<name>:<0|1> to the MCU.
//
// Delivery is best effort: failures, including a missing connection, are logged at warn level and
// counted in Metrics.ValveCmdErrCount, never returned.
func (m *Manager) SendValveCommand(name string, open bool) {
	s := m.current()
	if s == nil || !m.stateMgr.IsConnected() {
		m.metrics.incValveCmdErrCount()
		m.logger.Warn("valve command dropped", "method", "SendValveCommand", "valve", name, "open", open, "error", ErrNotConnected)

		return
	}

	if err := s.write(FormatValveSet(name, open)); err != nil {
		m.metrics.incValveCmdErrCount()
		m.logger.Warn("valve command failed", "method", "SendValveCommand", "valve", name, "open", open, "error", err)

		return
	}

	m.metrics.incValveCmdSendCount()
	m.logger.Debug("valve command sent", "method", "SendValveCommand", "valve", name, "open", open)
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sess
}

func (m *Manager) stateChangeHandler(prevState ConnState, newState ConnState) {
	m.logger.Debug("link state changed", "prev_state", prevState, "state", newState)
	m.events.push(Event{Type: EventStateChanged, PrevState: prevState, State: newState, At: time.Now()})
}

// establish runs on the session's connect task: bind, wait for the first datagram,
// send START, then start the heartbeat and listener tasks.
func (m *Manager) establish(s *session, host string, port int) {
	remote, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		m.failConnect(s, fmt.Errorf("resolve mcu address: %w", err))
		return
	}
	localPort := m.cfg.localPort
	if localPort == LocalPortSameAsRemote {
		localPort = remote.Port
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		m.failConnect(s, fmt.Errorf("bind local port %d: %w", localPort, err))
		return
	}
	if !s.setConn(conn, remote) {
		return
	}

	buf := make([]byte, recvBufferSize)
	deadline := time.Now().Add(m.cfg.connectTimeout)
	var n int
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			m.failConnect(s, err)
			return
		}
		var from *net.UDPAddr
		n, from, err = conn.ReadFromUDP(buf)
		if err != nil {
			if s.ended.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = ErrConnectTimeout
			}
			m.failConnect(s, err)

			return
		}
		if from.IP.Equal(remote.IP) {
			break
		}
		m.metrics.incForeignDatagramCount()
		m.logger.Debug("drop datagram from foreign address", "method", "establish", "from", from)
	}

	now := time.Now()
	s.lastRx.Store(now.UnixNano())
	if err := s.write(startFrame); err != nil {
		m.failConnect(s, fmt.Errorf("send START: %w", err))
		return
	}
	s.lastTx.Store(now.UnixNano())

	if err := m.stateMgr.ToConnected(); err != nil {
		// a concurrent disconnect won the race
		return
	}
	m.logger.Info("link connected", "method", "establish", "remote", remote, "local", conn.LocalAddr(), "session", s.id)

	m.metrics.incDatagramRecvCount()
	m.handlePayload(s, buf[:n])

	if err := s.taskMgr.StartInterval("heartbeat", func() bool { return m.heartbeatTask(s) }, m.cfg.pollInterval); err != nil {
		m.endSession(s, err.Error())
		return
	}
	if err := s.taskMgr.StartReceiver("listener", recvBufferSize, func(buf []byte) bool { return m.listenTask(s, buf) }, nil); err != nil {
		m.endSession(s, err.Error())
		return
	}
}

// heartbeatTask transmits NOOP on cadence and ends the session when the MCU falls silent.
func (m *Manager) heartbeatTask(s *session) bool {
	if s.ended.Load() {
		return false
	}

	now := time.Now()
	if silence := now.Sub(time.Unix(0, s.lastRx.Load())); silence > m.cfg.heartbeatRxMissInterval {
		m.metrics.incHeartbeatLossCount()
		m.logger.Warn("heartbeat lost", "method", "heartbeatTask", "silence", silence, "session", s.id)
		m.endSession(s, ReasonHeartbeatLost)

		return false
	}

	if now.Sub(time.Unix(0, s.lastTx.Load())) >= m.cfg.heartbeatTxCadence {
		if err := s.write(noopFrame); err != nil {
			if !s.ended.Load() {
				m.endSession(s, err.Error())
			}
			return false
		}
		s.lastTx.Store(now.UnixNano())
		m.metrics.incHeartbeatSendCount()
	}

	return true
}

// listenTask receives one datagram.
func (m *Manager) listenTask(s *session, buf []byte) bool {
	if err := s.conn.SetReadDeadline(time.Now().Add(m.cfg.recvTimeout)); err != nil {
		if !s.ended.Load() {
			m.endSession(s, err.Error())
		}
		return false
	}

	n, from, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if s.ended.Load() {
			return false
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		m.logger.Warn("receive failed", "method", "listenTask", "error", err, "session", s.id)
		m.endSession(s, err.Error())

		return false
	}

	if !from.IP.Equal(s.remote.IP) {
		m.metrics.incForeignDatagramCount()
		return true
	}

	if n == 0 {
		m.endSession(s, ReasonEmptyDatagram)
		return false
	}

	s.lastRx.Store(time.Now().UnixNano())
	m.metrics.incDatagramRecvCount()
	m.handlePayload(s, buf[:n])

	return true
}

// handlePayload frames a datagram into lines; heartbeat tokens are consumed, every other
// line becomes a Telemetry event.
func (m *Manager) handlePayload(s *session, data []byte) {
	before := s.framer.Overflows()
	lines := s.framer.Push(data)
	if s.framer.Overflows() != before {
		m.metrics.incLineOverflowCount()
		m.logger.Warn("partial line exceeded length limit, discarded", "method", "handlePayload", "limit", m.cfg.maxLineLength)
	}

	now := time.Now()
	for _, line := range lines {
		if line == CmdNoop {
			m.metrics.incHeartbeatRecvCount()
			continue
		}
		if s.ended.Load() {
			return
		}
		m.metrics.incLineRecvCount()
		m.events.push(Event{Type: EventTelemetry, Session: s.id, Line: line, At: now})
	}
}

// failConnect ends a session that never reached Connected and reports ConnectionFailed.
func (m *Manager) failConnect(s *session, err error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}

	s.taskMgr.Stop()
	s.closeConn()
	m.metrics.incConnectFailCount()
	m.logger.Warn("connection attempt failed", "method", "failConnect", "error", err, "session", s.id)

	m.stateMgr.ToDisconnected()
	m.events.push(Event{Type: EventConnectionFailed, Session: s.id, Err: err, At: time.Now()})
}

// endSession tears the session down without waiting for its goroutines, so it may be called from them.
// It reports whether this call ended the session.
func (m *Manager) endSession(s *session, reason string) bool {
	if !s.ended.CompareAndSwap(false, true) {
		return false
	}

	s.taskMgr.Stop()
	s.closeConn()
	m.metrics.incDisconnectCount()
	m.logger.Info("link disconnected", "method", "endSession", "reason", reason, "session", s.id)

	m.stateMgr.ToDisconnected()
	m.events.push(Event{Type: EventDisconnected, Session: s.id, Reason: reason, At: time.Now()})

	return true
}

func (m *Manager) waitSession(s *session) {
	timer := pool.GetTimer(m.cfg.closeTimeout)
	defer pool.PutTimer(timer)

	done := make(chan struct{})
	go func() {
		s.taskMgr.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-timer.C:
		m.logger.Error("session close timeout", "method", "waitSession", "timeout", m.cfg.closeTimeout, "tasks", s.taskMgr.TaskCount())
	}
}

// setConn stores the bound socket and peer. It returns false, closing conn, if the session already ended.
func (s *session) setConn(conn *net.UDPConn, remote *net.UDPAddr) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.ended.Load() {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	s.remote = remote

	return true
}

func (s *session) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *session) write(frame []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil || s.remote == nil || s.ended.Load() {
		return ErrNotConnected
	}
	_, err := s.conn.WriteToUDP(frame, s.remote)

	return err
}
