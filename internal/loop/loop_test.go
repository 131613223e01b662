// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package loop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devmon/devmon/internal/loop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// start runs l in the background and stops it when the test ends.
func start(t *testing.T, l *loop.Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
}

func TestInvoke_RunsInOrder(t *testing.T) {
	l := loop.New()
	start(t, l)

	var got []int
	for i := range 100 {
		require.True(t, l.Invoke(func() { got = append(got, i) }))
	}
	require.NoError(t, l.InvokeSync(context.Background(), func() error { return nil }))

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestInvoke_ConcurrentProducers(t *testing.T) {
	l := loop.New()
	start(t, l)

	var wg sync.WaitGroup
	count := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l.Invoke(func() { count++ })
			}
		}()
	}
	wg.Wait()

	var got int
	require.NoError(t, l.InvokeSync(context.Background(), func() error {
		got = count
		return nil
	}))
	assert.Equal(t, 400, got)
}

func TestInvokeSync_ReturnsError(t *testing.T) {
	l := loop.New()
	start(t, l)

	want := errors.New("boom")
	err := l.InvokeSync(context.Background(), func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestInvokeSync_RecoversPanic(t *testing.T) {
	l := loop.New()
	start(t, l)

	err := l.InvokeSync(context.Background(), func() error { panic("bad hook") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad hook")

	// The loop survives.
	require.NoError(t, l.InvokeSync(context.Background(), func() error { return nil }))
}

func TestInvoke_RecoversPanic(t *testing.T) {
	l := loop.New()
	start(t, l)

	l.Invoke(func() { panic("bad callback") })
	require.NoError(t, l.InvokeSync(context.Background(), func() error { return nil }))
}

func TestInvokeSync_ContextCancelled(t *testing.T) {
	l := loop.New()

	// Not running: the function stays queued.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.InvokeSync(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_DrainsQueuedWork(t *testing.T) {
	l := loop.New()

	ran := 0
	for range 3 {
		l.Invoke(func() { ran++ })
	}
	l.Close()
	assert.False(t, l.Invoke(func() { ran++ }))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 3, ran)

	err := l.InvokeSync(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, loop.ErrClosed)
}

func TestRun_ContextCancelStops(t *testing.T) {
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, l.Invoke(func() {}))
}

func TestRun_Twice(t *testing.T) {
	l := loop.New()
	start(t, l)

	// Wait until the first Run owns the loop.
	require.NoError(t, l.InvokeSync(context.Background(), func() error { return nil }))
	assert.Error(t, l.Run(context.Background()))
}
