package link

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-gse/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTaskManager_Start(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), logger.GetLogger())

	var runs atomic.Int32
	require.NoError(mgr.Start("counter", func() bool {
		return runs.Add(1) < 5
	}))
	mgr.Wait()
	require.EqualValues(5, runs.Load())
	require.Equal(0, mgr.TaskCount())
}

func TestTaskManager_StartInterval(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), logger.GetLogger())

	var ticks atomic.Int32
	require.NoError(mgr.StartInterval("tick", func() bool {
		ticks.Add(1)
		return true
	}, time.Millisecond))
	require.Error(mgr.StartInterval("bad", func() bool { return true }, 0))

	require.Eventually(func() bool { return ticks.Load() >= 5 }, time.Second, time.Millisecond)
	mgr.Stop()
	mgr.Wait()
	require.Equal(0, mgr.TaskCount())

	require.ErrorIs(mgr.Start("late", func() bool { return false }), errTaskMgrStopped)
}

func TestTaskManager_StartReceiver(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), logger.GetLogger())

	var cancelled atomic.Bool
	var bufLen atomic.Int32
	require.NoError(mgr.StartReceiver("recv", 16, func(buf []byte) bool {
		bufLen.Store(int32(len(buf)))
		return false
	}, func() { cancelled.Store(true) }))
	mgr.Wait()

	require.True(cancelled.Load())
	require.EqualValues(16, bufLen.Load())
	require.Error(mgr.StartReceiver("bad", 0, func([]byte) bool { return false }, nil))
}

func TestTaskManager_PanicRecovery(t *testing.T) {
	require := require.New(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", "panic in task", mock.Anything).Return().Once()

	mgr := NewTaskManager(context.Background(), mockLogger)
	require.NoError(mgr.Start("boom", func() bool {
		panic("boom")
	}))
	mgr.Wait()

	mockLogger.AssertExpectations(t)
}
