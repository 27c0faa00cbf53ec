package controller

import (
	"context"
	"net"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-gse/link"
	"github.com/arloliu/go-gse/notify"
	"github.com/arloliu/go-gse/safety"
	"github.com/stretchr/testify/require"
)

func TestController_HeartbeatLossOverUDP(t *testing.T) {
	require := require.New(t)

	mcu, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(err)
	defer mcu.Close()

	cfg, err := link.NewConfig(
		link.WithLocalPort(0),
		link.WithHeartbeatRxMissInterval(60*time.Millisecond),
		link.WithRecvTimeout(20*time.Millisecond),
	)
	require.NoError(err)
	mgr, err := link.NewManager(context.Background(), cfg)
	require.NoError(err)
	defer mgr.Close()

	c, err := New(mgr)
	require.NoError(err)
	sub := c.Subscribe(256, notify.KindAbort, notify.KindValve)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-c.Done()
	}()
	go func() { _ = c.Run(ctx) }()

	cmdCtx, cmdCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cmdCancel()
	require.NoError(c.Connect(cmdCtx, "127.0.0.1", mcu.LocalAddr().(*net.UDPAddr).Port))

	var local *net.UDPAddr
	require.Eventually(func() bool {
		local = mgr.LocalAddr()
		return local != nil
	}, time.Second, time.Millisecond)
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: local.Port}

	_, err = mcu.WriteToUDP([]byte("NOOP\nP7:100,P8:10\n"), target)
	require.NoError(err)
	require.NoError(mgr.WaitState(cmdCtx, link.Connected))

	require.NoError(c.ApplyOperation(cmdCtx, "Open Pressure"))

	// the MCU receives START and the valve command
	buf := make([]byte, 256)
	got := ""
	for !containsLine(got, "VALVE_SET:LA-BV1:1") {
		require.NoError(mcu.SetReadDeadline(time.Now().Add(time.Second)))
		n, _, err := mcu.ReadFromUDP(buf)
		require.NoError(err)
		got += string(buf[:n])
	}
	require.True(containsLine(got, link.CmdStart))

	// the MCU stays silent from here on
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.C:
			ab, ok := ev.(notify.AbortTriggered)
			if !ok {
				continue
			}
			require.Equal(safety.AbortDisconnected, ab.Type)
			require.Equal(link.ReasonHeartbeatLost, ab.Reason)
			require.False(c.Valves().IsOpen("LA-BV1"))
			require.True(c.Valves().Locked())

			return
		case <-deadline:
			require.FailNow("no abort after heartbeat loss")
		}
	}
}

func containsLine(s, line string) bool {
	return slices.Contains(strings.Split(s, "\n"), line)
}
