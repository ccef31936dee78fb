// Package abuse accumulates suspicious-activity signals per user and blocks
// users who cross a threshold.
package abuse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/retry"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultThreshold = 5
	persistTimeout   = 10 * time.Second
)

// BlockStore is the durable block record store. Implementations append to
// the activity and history logs; they never overwrite them.
type BlockStore interface {
	RecordBlock(ctx context.Context, userID uuid.UUID, reason string, activities []models.SuspiciousActivity, at time.Time) error
	Unblock(ctx context.Context, userID uuid.UUID, operator, reason string, at time.Time) error
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
}

// BlockCache mirrors the active block set for fast checks.
type BlockCache interface {
	Add(ctx context.Context, userID uuid.UUID) error
	Remove(ctx context.Context, userID uuid.UUID) error
	Contains(ctx context.Context, userID uuid.UUID) (bool, error)
}

type userRecord struct {
	count      int
	blocked    bool
	activities []models.SuspiciousActivity
	persisted  int  // activities already written to the store
	writing    bool // a background block write owns this record
}

// Monitor is safe for concurrent use by any number of rooms.
type Monitor struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userRecord

	threshold int
	store     BlockStore
	cache     BlockCache // optional
	now       func() time.Time
	attempts  int
	backoff   time.Duration
	wg        sync.WaitGroup
}

// NewMonitor returns a Monitor. cache may be nil.
func NewMonitor(store BlockStore, cache BlockCache, threshold int) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{
		users:     make(map[uuid.UUID]*userRecord),
		threshold: threshold,
		store:     store,
		cache:     cache,
		now:       time.Now,
		attempts:  retry.DefaultAttempts,
		backoff:   retry.DefaultBackoff,
	}
}

// Report records one signal against userID. It returns true when the user
// is blocked after this report. Crossing the threshold, and every report
// after it, writes the block record in the background.
func (m *Monitor) Report(userID, roomID uuid.UUID, reason, detail string) bool {
	if userID == uuid.Nil {
		return false
	}
	now := m.now()

	m.mu.Lock()
	rec := m.users[userID]
	if rec == nil {
		rec = &userRecord{}
		m.users[userID] = rec
	}
	rec.count++
	rec.activities = append(rec.activities, models.SuspiciousActivity{
		Reason:     reason,
		Detail:     detail,
		RoomID:     roomID,
		OccurredAt: now,
	})
	crossed := rec.count >= m.threshold
	start := false
	if crossed {
		rec.blocked = true
		if !rec.writing {
			rec.writing = true
			start = true
		}
	}
	count := rec.count
	m.mu.Unlock()

	log.WithFields(log.Fields{"user": userID, "room": roomID, "reason": reason, "count": count}).Warn("suspicious activity")
	if start {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.persistBlock(userID, rec)
		}()
	}
	return crossed
}

// persistBlock writes rec's unwritten activities until none are left or a
// write fails. Activities of a failed write stay unwritten and go out with
// the user's next report.
func (m *Monitor) persistBlock(userID uuid.UUID, rec *userRecord) {
	for {
		m.mu.Lock()
		if m.users[userID] != rec || rec.persisted == len(rec.activities) {
			rec.writing = false
			m.mu.Unlock()
			return
		}
		batch := append([]models.SuspiciousActivity(nil), rec.activities[rec.persisted:]...)
		m.mu.Unlock()

		last := batch[len(batch)-1]
		if err := m.writeBlock(userID, last.Reason, batch, last.OccurredAt); err != nil {
			log.WithField("user", userID).Warnf("block record not saved: %v", err)
			m.mu.Lock()
			rec.writing = false
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		rec.persisted += len(batch)
		m.mu.Unlock()
		log.Printf("Abuse: user %s blocked (%s).", userID, last.Reason)
	}
}

func (m *Monitor) writeBlock(userID uuid.UUID, reason string, activities []models.SuspiciousActivity, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := retry.Do(ctx, "record block", m.attempts, m.backoff, func(ctx context.Context) error {
		return m.store.RecordBlock(ctx, userID, reason, activities, at)
	})
	if err != nil {
		return err
	}
	if m.cache != nil {
		if err := m.cache.Add(ctx, userID); err != nil {
			log.WithField("user", userID).Warnf("block cache not updated: %v", err)
		}
	}
	return nil
}

// Unblock lifts the block on userID and resets its counter. Block history is kept.
func (m *Monitor) Unblock(ctx context.Context, userID uuid.UUID, operator, reason string) error {
	at := m.now()
	err := retry.Do(ctx, "unblock", m.attempts, m.backoff, func(ctx context.Context) error {
		return m.store.Unblock(ctx, userID, operator, reason, at)
	})
	if err != nil {
		return fmt.Errorf("unblock %s: %w", userID, err)
	}
	if m.cache != nil {
		if err := m.cache.Remove(ctx, userID); err != nil {
			log.WithField("user", userID).Warnf("block cache not updated: %v", err)
		}
	}

	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
	log.Printf("Abuse: user %s unblocked by %s (%s).", userID, operator, reason)
	return nil
}

// IsBlocked checks the in-memory state, then the cache, then the store.
func (m *Monitor) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	rec := m.users[userID]
	blocked := rec != nil && rec.blocked
	m.mu.Unlock()
	if blocked {
		return true, nil
	}

	if m.cache != nil {
		ok, err := m.cache.Contains(ctx, userID)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			log.WithField("user", userID).Debugf("block cache lookup failed: %v", err)
		}
	}
	return m.store.IsBlocked(ctx, userID)
}

// Count returns the number of signals recorded for userID since the last unblock.
func (m *Monitor) Count(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.users[userID]; rec != nil {
		return rec.count
	}
	return 0
}

// Wait blocks until background block writes have finished.
func (m *Monitor) Wait() { m.wg.Wait() }
