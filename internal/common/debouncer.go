package common

import (
	"sync"
	"time"
)

// Debouncer is a simple time-based gate:
// - Ready tells whether enough time has passed since last Mark.
// - Mark records a successful action time.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Ready reports whether the action should run now. It does NOT update state.
func (d *Debouncer) Ready(now time.Time) (ready bool, since time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.interval <= 0 || d.last.IsZero() {
		return true, d.interval
	}
	since = now.Sub(d.last)
	return since >= d.interval, since
}

// Mark records a successful action time.
func (d *Debouncer) Mark(now time.Time) {
	d.mu.Lock()
	d.last = now
	d.mu.Unlock()
}

// KeyedDebouncer 按 key 维护独立的 Debouncer（首次访问时创建）
type KeyedDebouncer[K comparable] struct {
	mu       sync.Mutex
	interval time.Duration
	m        map[K]*Debouncer
}

func NewKeyedDebouncer[K comparable](interval time.Duration) *KeyedDebouncer[K] {
	return &KeyedDebouncer[K]{interval: interval, m: make(map[K]*Debouncer)}
}

// Get returns the debouncer for key.
func (k *KeyedDebouncer[K]) Get(key K) *Debouncer {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, ok := k.m[key]
	if !ok {
		d = NewDebouncer(k.interval)
		k.m[key] = d
	}
	return d
}

// Ready is Get(key).Ready(now).
func (k *KeyedDebouncer[K]) Ready(key K, now time.Time) bool {
	ok, _ := k.Get(key).Ready(now)
	return ok
}

// Mark is Get(key).Mark(now).
func (k *KeyedDebouncer[K]) Mark(key K, now time.Time) {
	k.Get(key).Mark(now)
}

// ResetAll drops every key.
func (k *KeyedDebouncer[K]) ResetAll() {
	k.mu.Lock()
	k.m = make(map[K]*Debouncer)
	k.mu.Unlock()
}
