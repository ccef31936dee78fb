package timers

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by explicit Fire calls. Tests use it in
// place of wall-clock timers.
type Manual struct {
	mu    sync.Mutex
	tasks map[string]manualTask
}

type manualTask struct {
	d  time.Duration
	fn func()
}

// NewManual returns an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{tasks: make(map[string]manualTask)}
}

// Schedule implements Scheduler.
func (m *Manual) Schedule(key string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[key] = manualTask{d: d, fn: fn}
}

// Cancel implements Scheduler.
func (m *Manual) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	delete(m.tasks, key)
	return ok
}

// Pending implements Scheduler.
func (m *Manual) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

// Delay returns the delay a pending task was scheduled with.
func (m *Manual) Delay(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	return t.d, ok
}

// Keys lists pending task keys in sorted order.
func (m *Manual) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.tasks))
	for k := range m.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fire runs the pending task for key synchronously and reports whether one existed.
func (m *Manual) Fire(key string) bool {
	m.mu.Lock()
	t, ok := m.tasks[key]
	delete(m.tasks, key)
	m.mu.Unlock()
	if ok {
		t.fn()
	}
	return ok
}
