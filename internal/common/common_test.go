package common

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedDebouncer(t *testing.T) {
	d := NewKeyedDebouncer[string](5 * time.Second)
	now := time.Now()

	assert.True(t, d.Ready("a", now))
	d.Mark("a", now)
	assert.False(t, d.Ready("a", now.Add(time.Second)))
	assert.True(t, d.Ready("b", now.Add(time.Second)))
	assert.True(t, d.Ready("a", now.Add(5*time.Second)))

	d.ResetAll()
	assert.True(t, d.Ready("a", now.Add(time.Second)))

	off := NewKeyedDebouncer[string](0)
	off.Mark("a", now)
	assert.True(t, off.Ready("a", now))
}

func TestRunTicker_ImmediateAndWake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	var runs atomic.Int64
	done := make(chan struct{})
	go func() {
		RunTicker(ctx, time.Hour, true, wake, func(context.Context) { runs.Add(1) })
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	wake <- struct{}{}
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunTicker did not stop")
	}
}

func TestSleep(t *testing.T) {
	assert.True(t, Sleep(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
	assert.False(t, Sleep(ctx, 0))
}
