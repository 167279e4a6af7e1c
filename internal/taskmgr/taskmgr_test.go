package taskmgr

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefw/pulselink/logger"
)

func TestStartAndStop(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())

	var iterations atomic.Int32
	err := mgr.Start("counter", func() bool {
		iterations.Add(1)

		return iterations.Load() < 5
	})
	require.NoError(t, err)

	mgr.Wait()
	assert.Equal(t, int32(5), iterations.Load())
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestStopCancelsLoopTask(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())

	started := make(chan struct{})
	var once atomic.Bool
	err := mgr.Start("forever", func() bool {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		time.Sleep(time.Millisecond)

		return true
	})
	require.NoError(t, err)

	<-started
	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestStartInterval(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())

	var ticks atomic.Int32
	_, err := mgr.StartInterval("tick", func() bool {
		ticks.Add(1)

		return true
	}, 5*time.Millisecond, true)
	require.NoError(t, err)

	// runNow fires once immediately, then the ticker takes over.
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	mgr.Stop()
	mgr.Wait()
}

func TestStartIntervalDuplicateName(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	_, err := mgr.StartInterval("dup", func() bool { return true }, time.Millisecond, false)
	require.NoError(t, err)

	_, err = mgr.StartInterval("dup", func() bool { return true }, time.Millisecond, false)
	require.Error(t, err)
}

func TestStartIntervalInvalidInterval(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())

	_, err := mgr.StartInterval("bad", func() bool { return true }, 0, false)
	require.Error(t, err)
}

func TestStartAfterStop(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())
	mgr.Stop()

	err := mgr.Start("late", func() bool { return false })
	require.Error(t, err)

	// Wait re-arms the manager for reuse.
	mgr.Wait()
	require.NoError(t, mgr.Start("again", func() bool { return false }))
	mgr.Wait()
}

func TestStopInterval(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	_, err := mgr.StartInterval("tick", func() bool { return true }, time.Millisecond, false)
	require.NoError(t, err)

	require.NoError(t, mgr.StopInterval("tick"))
	require.Error(t, mgr.StopInterval("tick"))
}

func TestTaskPanicIsRecovered(t *testing.T) {
	mgr := New(context.Background(), logger.GetLogger())

	err := mgr.Start("panicky", func() bool {
		panic("boom")
	})
	require.NoError(t, err)

	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}
