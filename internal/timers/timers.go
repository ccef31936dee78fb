// Package timers provides cancellable one-shot tasks keyed by name.
package timers

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Scheduler runs fn once after d. Scheduling a key that is already pending
// replaces the earlier task. Cancel reports whether a pending task was removed;
// a task that already started running is not affected.
type Scheduler interface {
	Schedule(key string, d time.Duration, fn func())
	Cancel(key string) bool
	Pending(key string) bool
}

type pendingJob struct {
	id  uuid.UUID
	gen uint64
}

// GocronScheduler implements Scheduler with gocron one-time jobs.
type GocronScheduler struct {
	mu   sync.Mutex
	s    gocron.Scheduler
	jobs map[string]pendingJob
	gen  uint64
}

// New creates and starts a scheduler.
func New() (*GocronScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.Start()
	return &GocronScheduler{s: s, jobs: make(map[string]pendingJob)}, nil
}

// Schedule implements Scheduler.
func (g *GocronScheduler) Schedule(key string, d time.Duration, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.jobs[key]; ok {
		_ = g.s.RemoveJob(prev.id)
		delete(g.jobs, key)
	}
	g.gen++
	gen := g.gen

	j, err := g.s.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(d))),
		gocron.NewTask(func() {
			// Only the most recent task for the key may run.
			g.mu.Lock()
			cur, ok := g.jobs[key]
			if !ok || cur.gen != gen {
				g.mu.Unlock()
				return
			}
			delete(g.jobs, key)
			g.mu.Unlock()
			fn()
		}),
		gocron.WithName(key),
	)
	if err != nil {
		log.Printf("Timers: failed to schedule %s: %v", key, err)
		return
	}
	g.jobs[key] = pendingJob{id: j.ID(), gen: gen}
}

// Cancel implements Scheduler.
func (g *GocronScheduler) Cancel(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.jobs[key]
	if !ok {
		return false
	}
	delete(g.jobs, key)
	_ = g.s.RemoveJob(prev.id)
	return true
}

// Pending implements Scheduler.
func (g *GocronScheduler) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.jobs[key]
	return ok
}

// Shutdown stops the underlying scheduler. Pending tasks never run.
func (g *GocronScheduler) Shutdown() error {
	g.mu.Lock()
	g.jobs = make(map[string]pendingJob)
	g.mu.Unlock()
	return g.s.Shutdown()
}

// Key joins parts into a task key, e.g. Key("grace", room, player).
func Key(parts ...any) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += fmt.Sprint(p)
	}
	return k
}
