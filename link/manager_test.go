package link

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-gse/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// fakeMCU is a loopback UDP peer that records every line it receives.
type fakeMCU struct {
	t     *testing.T
	conn  *net.UDPConn
	mu    sync.Mutex
	lines []string
}

func newFakeMCU(t *testing.T) *fakeMCU {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeMCU{t: t, conn: conn}
	go f.readLoop()
	t.Cleanup(func() { _ = conn.Close() })

	return f
}

func (f *fakeMCU) readLoop() {
	framer := NewLineFramer(0)
	buf := make([]byte, 2048)
	for {
		n, _, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		lines := framer.Push(buf[:n])
		f.mu.Lock()
		f.lines = append(f.lines, lines...)
		f.mu.Unlock()
	}
}

func (f *fakeMCU) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeMCU) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.lines...)
}

func (f *fakeMCU) count(line string) int {
	n := 0
	for _, l := range f.received() {
		if l == line {
			n++
		}
	}

	return n
}

func (f *fakeMCU) send(to *net.UDPAddr, payload string) {
	_, err := f.conn.WriteToUDP([]byte(payload), to)
	require.NoError(f.t, err)
}

func newTestManager(t *testing.T, opts ...ConnOption) *Manager {
	t.Helper()

	base := []ConnOption{
		WithLocalPort(0),
		WithHeartbeatRxMissInterval(100 * time.Millisecond),
		WithConnectTimeout(time.Second),
		WithRecvTimeout(20 * time.Millisecond),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m
}

// localTarget waits until the manager has bound its socket and returns a loopback address for it.
func localTarget(t *testing.T, m *Manager) *net.UDPAddr {
	t.Helper()

	var addr *net.UDPAddr
	require.Eventually(t, func() bool {
		addr = m.LocalAddr()
		return addr != nil
	}, time.Second, time.Millisecond)

	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port}
}

func waitEvent(t *testing.T, m *Manager, typ EventType, timeout time.Duration) Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-m.Events():
			require.True(t, ok, "events channel closed")
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			require.FailNow(t, "timeout waiting for event", typ.String())
		}
	}
}

// connectPair connects m to mcu and returns the address the MCU must send to.
func connectPair(t *testing.T, m *Manager, mcu *fakeMCU) *net.UDPAddr {
	t.Helper()

	require.NoError(t, m.Connect("127.0.0.1", mcu.port()))
	target := localTarget(t, m)
	mcu.send(target, "NOOP\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitState(ctx, Connected))

	return target
}

func TestManager_ConnectHandshake(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t)

	require.Equal(Disconnected, m.State())
	require.NoError(m.Connect("127.0.0.1", mcu.port()))
	require.ErrorIs(m.Connect("127.0.0.1", mcu.port()), ErrAlreadyConnecting)
	require.Equal(Connecting, m.State())

	target := localTarget(t, m)
	mcu.send(target, "NOOP\n")

	ev := waitEvent(t, m, EventStateChanged, time.Second)
	require.Equal(Connecting, ev.State)
	ev = waitEvent(t, m, EventStateChanged, time.Second)
	require.Equal(Connected, ev.State)

	require.Eventually(func() bool {
		lines := mcu.received()
		return len(lines) > 0 && lines[0] == CmdStart
	}, time.Second, time.Millisecond)
	require.EqualValues(1, m.Metrics().ConnectAttemptCount.Load())
}

func TestManager_HeartbeatTransmit(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t)
	target := connectPair(t, m, mcu)

	// keep the link alive for a while, the ground side must send NOOP every 10ms
	stop := time.After(200 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			mcu.send(target, "NOOP\n")
		}
	}

	require.True(m.IsConnected())
	require.GreaterOrEqual(mcu.count(CmdNoop), 10)
	require.GreaterOrEqual(m.Metrics().HeartbeatRecvCount.Load(), uint64(10))
}

func TestManager_HeartbeatLoss(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t, WithHeartbeatRxMissInterval(50*time.Millisecond))
	target := connectPair(t, m, mcu)

	lastRx := time.Now()
	mcu.send(target, "NOOP\n")

	ev := waitEvent(t, m, EventDisconnected, time.Second)
	require.Equal(ReasonHeartbeatLost, ev.Reason)
	elapsed := ev.At.Sub(lastRx)
	require.GreaterOrEqual(elapsed, 45*time.Millisecond)
	require.Less(elapsed, 200*time.Millisecond)
	require.Equal(Disconnected, m.State())
	require.EqualValues(1, m.Metrics().HeartbeatLossCount.Load())
}

func TestManager_TelemetryFraming(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t)

	require.NoError(m.Connect("127.0.0.1", mcu.port()))
	target := localTarget(t, m)
	// the first datagram is framed like any other
	mcu.send(target, "NOOP\n1000,P1:10")
	mcu.send(target, ",P2:20\nNOOP\nP8:750,P7:100\n")

	ev := waitEvent(t, m, EventTelemetry, time.Second)
	require.Equal("1000,P1:10,P2:20", ev.Line)
	ev = waitEvent(t, m, EventTelemetry, time.Second)
	require.Equal("P8:750,P7:100", ev.Line)
	require.EqualValues(2, m.Metrics().LineRecvCount.Load())
}

func TestManager_SendValveCommand(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)

	mockLogger := logger.NewMockLogger().Permissive()
	m := newTestManager(t, WithLogger(mockLogger))

	m.SendValveCommand("NCS1", true)
	require.EqualValues(1, m.Metrics().ValveCmdErrCount.Load())
	mockLogger.AssertCalled(t, "Warn", "valve command dropped", mock.Anything)

	target := connectPair(t, m, mcu)
	mcu.send(target, "NOOP\n")

	m.SendValveCommand("NCS1", true)
	m.SendValveCommand("GV-2", false)
	require.Eventually(func() bool {
		return mcu.count("VALVE_SET:NCS1:1") == 1 && mcu.count("VALVE_SET:GV-2:0") == 1
	}, time.Second, time.Millisecond)
	require.EqualValues(2, m.Metrics().ValveCmdSendCount.Load())
}

func TestManager_ConnectTimeout(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t, WithConnectTimeout(50*time.Millisecond))

	require.NoError(m.Connect("127.0.0.1", mcu.port()))
	ev := waitEvent(t, m, EventConnectionFailed, time.Second)
	require.ErrorIs(ev.Err, ErrConnectTimeout)
	require.Equal(Disconnected, m.State())
	require.EqualValues(1, m.Metrics().ConnectFailCount.Load())

	// a failed attempt does not block the next one
	require.NoError(m.Connect("127.0.0.1", mcu.port()))
}

func TestManager_EmptyDatagram(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t)
	target := connectPair(t, m, mcu)

	mcu.send(target, "")
	ev := waitEvent(t, m, EventDisconnected, time.Second)
	require.Equal(ReasonEmptyDatagram, ev.Reason)
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t)
	connectPair(t, m, mcu)

	m.Disconnect("operator")
	m.Disconnect("operator again")
	require.Equal(Disconnected, m.State())

	ev := waitEvent(t, m, EventDisconnected, time.Second)
	require.Equal("operator", ev.Reason)

	select {
	case ev := <-m.Events():
		require.NotEqual(EventDisconnected, ev.Type, "second disconnect must not emit")
	case <-time.After(50 * time.Millisecond):
	}
	require.EqualValues(1, m.Metrics().DisconnectCount.Load())
}

func TestManager_Reconnect(t *testing.T) {
	require := require.New(t)

	mcu := newFakeMCU(t)
	m := newTestManager(t)
	connectPair(t, m, mcu)

	require.NoError(m.Connect("127.0.0.1", mcu.port()))
	ev := waitEvent(t, m, EventDisconnected, time.Second)
	require.Equal(ReasonManualReconnect, ev.Reason)
	require.Equal(Connecting, m.State())

	target := localTarget(t, m)
	mcu.send(target, "NOOP\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(m.WaitState(ctx, Connected))
	require.Equal(2, mcu.count(CmdStart))
}

func TestManager_Close(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t)
	require.NoError(m.Close())
	require.NoError(m.Close())
	require.ErrorIs(m.Connect("127.0.0.1", 5000), ErrClosed)

	require.Eventually(func() bool {
		select {
		case _, ok := <-m.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestManager_InvalidPort(t *testing.T) {
	m := newTestManager(t)
	err := m.Connect("127.0.0.1", 0)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "port out of range"))
}
