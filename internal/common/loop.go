package common

import (
	"context"
	"time"
)

// RunTicker runs fn every interval until ctx is done.
//
// - immediate: run fn once before the first tick
// - wake: optional channel; a receive runs fn right away (ticker is not reset)
//
// fn runs on the caller goroutine, so one loop never overlaps itself.
func RunTicker(ctx context.Context, interval time.Duration, immediate bool, wake <-chan struct{}, fn func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	if immediate && ctx.Err() == nil {
		fn(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}
}

// Sleep waits for d or ctx. Returns false when ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
