package abuse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockRecord struct {
	reason     string
	activities []models.SuspiciousActivity
}

type mockStore struct {
	mu        sync.Mutex
	failures  int
	blocks    map[uuid.UUID][]blockRecord
	unblocks  map[uuid.UUID][]string
	persisted map[uuid.UUID]bool
}

func newMockStore() *mockStore {
	return &mockStore{
		blocks:    make(map[uuid.UUID][]blockRecord),
		unblocks:  make(map[uuid.UUID][]string),
		persisted: make(map[uuid.UUID]bool),
	}
}

func (s *mockStore) RecordBlock(_ context.Context, userID uuid.UUID, reason string, acts []models.SuspiciousActivity, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("timeout")
	}
	s.blocks[userID] = append(s.blocks[userID], blockRecord{reason: reason, activities: acts})
	s.persisted[userID] = true
	return nil
}

func (s *mockStore) Unblock(_ context.Context, userID uuid.UUID, operator, reason string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unblocks[userID] = append(s.unblocks[userID], operator+":"+reason)
	s.persisted[userID] = false
	return nil
}

func (s *mockStore) IsBlocked(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted[userID], nil
}

type mockCache struct {
	mu  sync.Mutex
	set map[uuid.UUID]bool
}

func (c *mockCache) Add(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set[id] = true
	return nil
}

func (c *mockCache) Remove(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.set, id)
	return nil
}

func (c *mockCache) Contains(_ context.Context, id uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set[id], nil
}

func newTestMonitor(store *mockStore, cache *mockCache) *Monitor {
	var bc BlockCache
	if cache != nil {
		bc = cache
	}
	m := NewMonitor(store, bc, 0)
	m.backoff = time.Millisecond
	return m
}

func TestBelowThresholdNotBlocked(t *testing.T) {
	store := newMockStore()
	m := newTestMonitor(store, nil)
	user, room := uuid.New(), uuid.New()

	for i := 0; i < DefaultThreshold-1; i++ {
		assert.False(t, m.Report(user, room, "implausible_flip_rate", ""))
	}
	m.Wait()
	assert.Equal(t, DefaultThreshold-1, m.Count(user))
	blocked, err := m.IsBlocked(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Empty(t, store.blocks)
}

func TestCrossingThresholdBlocks(t *testing.T) {
	store := newMockStore()
	cache := &mockCache{set: make(map[uuid.UUID]bool)}
	m := newTestMonitor(store, cache)
	user, room := uuid.New(), uuid.New()

	var blocked bool
	for i := 0; i < DefaultThreshold; i++ {
		blocked = m.Report(user, room, "rapid_reconnect", "cycling")
	}
	assert.True(t, blocked)
	m.Wait()

	require.Len(t, store.blocks[user], 1)
	rec := store.blocks[user][0]
	assert.Equal(t, "rapid_reconnect", rec.reason)
	assert.Len(t, rec.activities, DefaultThreshold)
	assert.Equal(t, room, rec.activities[0].RoomID)
	assert.True(t, cache.set[user])

	// Further reports refresh the record with only the new activity.
	assert.True(t, m.Report(user, room, "implausible_score_delta", ""))
	m.Wait()
	require.Len(t, store.blocks[user], 2)
	assert.Len(t, store.blocks[user][1].activities, 1)
}

func TestBlockWriteRetried(t *testing.T) {
	store := newMockStore()
	store.failures = 2
	m := newTestMonitor(store, nil)
	user := uuid.New()
	for i := 0; i < DefaultThreshold; i++ {
		m.Report(user, uuid.Nil, "implausible_flip_rate", "")
	}
	m.Wait()
	assert.Len(t, store.blocks[user], 1)
}

func TestFailedBlockWriteResent(t *testing.T) {
	store := newMockStore()
	store.failures = 100
	m := newTestMonitor(store, nil)
	user := uuid.New()
	for i := 0; i < DefaultThreshold; i++ {
		m.Report(user, uuid.Nil, "rapid_reconnect", "")
	}
	m.Wait()
	assert.Empty(t, store.blocks[user])

	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()
	assert.True(t, m.Report(user, uuid.Nil, "implausible_flip_rate", ""))
	m.Wait()

	require.Len(t, store.blocks[user], 1)
	rec := store.blocks[user][0]
	assert.Equal(t, "implausible_flip_rate", rec.reason)
	assert.Len(t, rec.activities, DefaultThreshold+1, "the failed batch goes out with the next report")
}

func TestUnblockResetsCounterKeepsHistory(t *testing.T) {
	store := newMockStore()
	cache := &mockCache{set: make(map[uuid.UUID]bool)}
	m := newTestMonitor(store, cache)
	user := uuid.New()
	for i := 0; i < DefaultThreshold; i++ {
		m.Report(user, uuid.Nil, "rapid_reconnect", "")
	}
	m.Wait()

	require.NoError(t, m.Unblock(context.Background(), user, "admin", "appeal"))
	assert.Zero(t, m.Count(user))
	assert.False(t, cache.set[user])
	assert.Equal(t, []string{"admin:appeal"}, store.unblocks[user])
	assert.Len(t, store.blocks[user], 1, "block history is retained")

	blocked, err := m.IsBlocked(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestIsBlockedFallsBackToStore(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.persisted[user] = true

	m := newTestMonitor(store, &mockCache{set: make(map[uuid.UUID]bool)})
	blocked, err := m.IsBlocked(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestConcurrentReports(t *testing.T) {
	store := newMockStore()
	m := newTestMonitor(store, nil)
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Report(user, uuid.New(), "implausible_flip_rate", "")
		}()
	}
	wg.Wait()
	m.Wait()
	assert.Equal(t, 50, m.Count(user))

	total := 0
	for _, b := range store.blocks[user] {
		total += len(b.activities)
	}
	assert.Equal(t, 50, total, "every activity is written exactly once")
}
