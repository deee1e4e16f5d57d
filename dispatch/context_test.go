package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-db/api"
	"github.com/momentics/hioload-db/control"
)

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	opts = append([]Option{WithLogger(control.Discard())}, opts...)
	c := NewContext(opts...)
	t.Cleanup(c.Dispose)
	return c
}

func TestContext_InvokeRunsOnWorker(t *testing.T) {
	c := newTestContext(t)
	require.False(t, c.IsCurrent())

	var onWorker bool
	require.NoError(t, c.Invoke(func() { onWorker = c.IsCurrent() }))
	assert.True(t, onWorker)
}

func TestContext_FIFO(t *testing.T) {
	c := newTestContext(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		_, err := c.BeginInvoke(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}, false)
		require.NoError(t, err)
	}
	require.NoError(t, c.Sync())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestContext_QueueHint(t *testing.T) {
	c := newTestContext(t, WithQueueHint(16))

	var ran atomic.Int32
	for i := 0; i < 64; i++ {
		_, err := c.BeginInvoke(func() { ran.Add(1) }, false)
		require.NoError(t, err)
	}
	require.NoError(t, c.Sync())
	assert.EqualValues(t, 64, ran.Load())
}

func TestContext_InlineFromOwnThread(t *testing.T) {
	c := newTestContext(t)

	var order []string
	require.NoError(t, c.Invoke(func() {
		order = append(order, "outer-start")
		a, err := c.BeginInvoke(func() { order = append(order, "inline") }, false)
		require.NoError(t, err)
		assert.Equal(t, api.ActionCompleted, a.State(), "inline action completes before BeginInvoke returns")

		_, err = c.BeginInvoke(func() { order = append(order, "async") }, true)
		require.NoError(t, err)
		order = append(order, "outer-end")
	}))
	require.NoError(t, c.Sync())
	assert.Equal(t, []string{"outer-start", "inline", "outer-end", "async"}, order)
}

func TestContext_WaitOnOwnContextPanics(t *testing.T) {
	c := newTestContext(t)

	var recovered any
	require.NoError(t, c.Invoke(func() {
		a, err := c.BeginInvoke(func() {}, true)
		require.NoError(t, err)
		func() {
			defer func() { recovered = recover() }()
			a.Wait()
		}()
	}))
	require.NotNil(t, recovered)
	err, ok := recovered.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, api.ErrWaitOnOwnContext)
}

func TestContext_CancelOnDispose(t *testing.T) {
	c := NewContext(WithLogger(control.Discard()), WithSuspendable(true))

	a, err := c.BeginInvoke(func() { t.Error("must not run") }, false)
	require.NoError(t, err)

	result := make(chan bool, 1)
	go func() { result <- a.WaitTimeout(time.Second) }()

	c.Dispose()
	select {
	case ok := <-result:
		assert.False(t, ok, "wait reports cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Equal(t, api.ActionCancelled, a.State())
	assert.ErrorIs(t, a.Err(), api.ErrActionCancelled)
}

func TestContext_PostAfterDispose(t *testing.T) {
	c := NewContext(WithLogger(control.Discard()))
	c.Dispose()
	c.Dispose()

	_, err := c.BeginInvoke(func() {}, false)
	assert.ErrorIs(t, err, api.ErrContextDisposed)
	assert.Equal(t, api.ErrCodeDisposed, api.CodeOf(err))
	_, err = c.RegisterTimer(time.Millisecond, func() {}, 0)
	assert.ErrorIs(t, err, api.ErrContextDisposed)
	assert.Equal(t, api.ErrCodeDisposed, api.CodeOf(err))
}

func TestContext_DisposeFromWorker(t *testing.T) {
	c := NewContext(WithLogger(control.Discard()))

	var after atomic.Bool
	_, err := c.BeginInvoke(func() { c.Dispose() }, false)
	require.NoError(t, err)
	queued, err := c.BeginInvoke(func() { after.Store(true) }, false)
	if err == nil {
		queued.Wait()
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop itself")
	}
	assert.False(t, after.Load(), "work queued behind Dispose is cancelled")
}

func TestContext_WaitTimeout(t *testing.T) {
	c := newTestContext(t)
	release := make(chan struct{})
	_, err := c.BeginInvoke(func() { <-release }, false)
	require.NoError(t, err)

	a, err := c.BeginInvoke(func() {}, false)
	require.NoError(t, err)
	assert.False(t, a.WaitTimeout(10*time.Millisecond))
	close(release)
	assert.True(t, a.WaitTimeout(time.Second))
}

func TestContext_WaitContext(t *testing.T) {
	c := newTestContext(t)
	release := make(chan struct{})
	blocked, err := c.BeginInvoke(func() { <-release }, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, blocked.WaitContext(ctx), context.Canceled)

	ctx, cancel = context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, blocked.WaitContext(ctx), context.DeadlineExceeded)
	assert.False(t, blocked.State().Terminal(), "giving up does not cancel the action")

	close(release)
	assert.NoError(t, blocked.WaitContext(t.Context()))
	assert.Equal(t, api.ActionCompleted, blocked.State())
}

func TestContext_WaitContextCancelledAction(t *testing.T) {
	c := NewContext(WithLogger(control.Discard()), WithSuspendable(true))
	a, err := c.BeginInvoke(func() {}, false)
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() { waited <- a.WaitContext(context.Background()) }()
	c.Dispose()

	select {
	case err := <-waited:
		assert.ErrorIs(t, err, api.ErrActionCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Equal(t, api.ActionCancelled, a.State())
}

func TestContext_ExceptionHandler(t *testing.T) {
	errs := make(chan error, 1)
	c := newTestContext(t, WithExceptionHandler(func(err error) { errs <- err }))

	a, err := c.BeginInvoke(func() { panic("boom") }, false)
	require.NoError(t, err)
	assert.True(t, a.Wait())
	assert.Equal(t, api.ActionException, a.State())

	var pe *api.PanicError
	require.ErrorAs(t, a.Err(), &pe)
	assert.Equal(t, "boom", pe.Value)
	select {
	case got := <-errs:
		assert.Same(t, pe, got)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	// The worker keeps going.
	require.NoError(t, c.Sync())
}

func TestContext_UnhandledPanicKeepsRest(t *testing.T) {
	c := newTestContext(t, WithSuspendable(true))

	var ran atomic.Int32
	_, err := c.BeginInvoke(func() { panic(errors.New("first")) }, false)
	require.NoError(t, err)
	a, err := c.BeginInvoke(func() { ran.Add(1) }, false)
	require.NoError(t, err)
	require.NoError(t, c.Resume())

	require.True(t, a.WaitTimeout(time.Second))
	assert.EqualValues(t, 1, ran.Load(), "work after the panic runs in the next iteration")
}

func TestContext_ErrorFromResultAction(t *testing.T) {
	c := newTestContext(t)

	v, err := InvokeResult(c, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	failure := errors.New("nope")
	_, err = InvokeResult(c, func() (string, error) { return "", failure })
	assert.ErrorIs(t, err, failure)

	ra, err := BeginInvokeResult(c, func() (string, error) { return "x", nil }, true)
	require.NoError(t, err)
	require.True(t, ra.Wait())
	got, ok := ra.Value()
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestContext_SuspendResume(t *testing.T) {
	c := newTestContext(t, WithSuspendable(false))

	require.NoError(t, c.Suspend())
	assert.True(t, c.Suspended())

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := c.BeginInvoke(func() { ran.Add(1) }, false)
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, ran.Load(), "suspended context accumulates work")
	assert.Equal(t, 3, c.Pending())

	require.NoError(t, c.Resume())
	require.NoError(t, c.Sync())
	assert.EqualValues(t, 3, ran.Load())
}

func TestContext_SuspendFromActionHoldsQueuedWork(t *testing.T) {
	c := newTestContext(t, WithSuspendable(false))

	gate := make(chan struct{})
	_, err := c.BeginInvoke(func() {
		<-gate
		_ = c.Suspend()
	}, false)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 2; i++ {
		i := i
		_, err := c.BeginInvoke(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, false)
		require.NoError(t, err)
	}
	var fired atomic.Int32
	_, err = c.RegisterTimer(time.Millisecond, func() { fired.Add(1) }, 0)
	require.NoError(t, err)

	// Let the worker drain all three before the first one suspends.
	time.Sleep(10 * time.Millisecond)
	close(gate)
	require.Eventually(t, c.Suspended, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Empty(t, order, "work behind the suspending action must wait for Resume")
	mu.Unlock()
	assert.Equal(t, 2, c.Pending())
	before := fired.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, fired.Load(), "timers must not fire while suspended")

	_, err = c.BeginInvoke(func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}, false)
	require.NoError(t, err)

	require.NoError(t, c.Resume())
	require.NoError(t, c.Sync())
	mu.Lock()
	assert.Equal(t, []int{0, 1, 2}, order)
	mu.Unlock()
}

func TestContext_NotSuspendable(t *testing.T) {
	c := newTestContext(t)
	assert.ErrorIs(t, c.Suspend(), api.ErrNotSuspendable)
	assert.ErrorIs(t, c.Resume(), api.ErrNotSuspendable)
}

func TestContext_Metrics(t *testing.T) {
	m := control.NewMetrics()
	c := newTestContext(t, WithName("metered"), WithMetrics(m))
	require.NoError(t, c.Invoke(func() {}))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "hioload_db_context_actions_posted_total" {
			found = true
			require.NotEmpty(t, f.GetMetric())
			assert.GreaterOrEqual(t, f.GetMetric()[0].GetCounter().GetValue(), 1.0)
		}
	}
	assert.True(t, found)
}

func TestContext_NilArgumentsPanic(t *testing.T) {
	c := newTestContext(t)
	assert.Panics(t, func() { _, _ = c.BeginInvoke(nil, false) })
	assert.Panics(t, func() { _ = c.Post(nil, false) })
	assert.Panics(t, func() { _, _ = c.RegisterTimer(0, func() {}, 0) })
}
