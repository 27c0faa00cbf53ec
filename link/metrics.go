package link

import (
	"sync/atomic"
)

// Metrics contains atomic counters for the MCU link.
// Each field can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ConnectAttemptCount indicates the number of connection attempts started.
	ConnectAttemptCount atomic.Uint64
	// ConnectFailCount indicates the number of attempts that ended in ConnectionFailed.
	ConnectFailCount atomic.Uint64
	// DisconnectCount indicates the number of sessions that ended with a disconnect.
	DisconnectCount atomic.Uint64

	// HeartbeatSendCount indicates the number of NOOP datagrams sent.
	HeartbeatSendCount atomic.Uint64
	// HeartbeatRecvCount indicates the number of NOOP lines received.
	HeartbeatRecvCount atomic.Uint64
	// HeartbeatLossCount indicates the number of sessions ended by heartbeat loss.
	HeartbeatLossCount atomic.Uint64

	// DatagramRecvCount indicates the number of datagrams accepted from the MCU.
	DatagramRecvCount atomic.Uint64
	// ForeignDatagramCount indicates the number of datagrams dropped because of their source address.
	ForeignDatagramCount atomic.Uint64
	// LineRecvCount indicates the number of telemetry lines delivered.
	LineRecvCount atomic.Uint64
	// LineOverflowCount indicates the number of partial lines discarded for exceeding the length limit.
	LineOverflowCount atomic.Uint64

	// ValveCmdSendCount indicates the number of VALVE_SET commands sent.
	ValveCmdSendCount atomic.Uint64
	// ValveCmdErrCount indicates the number of VALVE_SET commands that could not be sent.
	ValveCmdErrCount atomic.Uint64
}

func (m *Metrics) incConnectAttemptCount()  { m.ConnectAttemptCount.Add(1) }
func (m *Metrics) incConnectFailCount()     { m.ConnectFailCount.Add(1) }
func (m *Metrics) incDisconnectCount()      { m.DisconnectCount.Add(1) }
func (m *Metrics) incHeartbeatSendCount()   { m.HeartbeatSendCount.Add(1) }
func (m *Metrics) incHeartbeatRecvCount()   { m.HeartbeatRecvCount.Add(1) }
func (m *Metrics) incHeartbeatLossCount()   { m.HeartbeatLossCount.Add(1) }
func (m *Metrics) incDatagramRecvCount()    { m.DatagramRecvCount.Add(1) }
func (m *Metrics) incForeignDatagramCount() { m.ForeignDatagramCount.Add(1) }
func (m *Metrics) incLineRecvCount()        { m.LineRecvCount.Add(1) }
func (m *Metrics) incLineOverflowCount()    { m.LineOverflowCount.Add(1) }
func (m *Metrics) incValveCmdSendCount()    { m.ValveCmdSendCount.Add(1) }
func (m *Metrics) incValveCmdErrCount()     { m.ValveCmdErrCount.Add(1) }
