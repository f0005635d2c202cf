package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

// Entry is one waiting player. An entry leaves the queue exactly one way:
// grouped, expired into bot-fill, or cancelled.
type Entry struct {
	ID         string
	ConnKey    string
	Identity   models.Identity
	Mode       models.RaceMode
	EnqueuedAt time.Time

	expiry clockwork.Timer
}

// Queue holds players waiting for a race. All mutation is serialized behind
// one mutex so a grouping pass and an expiry timer can never both claim the
// same entry; removal always stops the entry's expiry timer.
type Queue struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries []*Entry
	byConn  map[string]*Entry

	// handed entries no longer belong to the queue when these run
	onGroup  func(entries []*Entry)
	onExpire func(entry *Entry)
}

func NewQueue(clock clockwork.Clock, onGroup func([]*Entry), onExpire func(*Entry)) *Queue {
	return &Queue{
		clock:    clock,
		byConn:   make(map[string]*Entry),
		onGroup:  onGroup,
		onExpire: onExpire,
	}
}

// Enqueue registers a waiting player and arms its bot-fill expiry. A grouping
// attempt is scheduled shortly after rather than immediately, giving a second
// player a window to show up. The same connection cannot queue twice.
func (q *Queue) Enqueue(connKey string, id models.Identity, mode models.RaceMode) error {
	q.mu.Lock()
	if _, ok := q.byConn[connKey]; ok {
		q.mu.Unlock()
		return race.ErrAlreadyQueued
	}

	e := &Entry{
		ID:         uuid.New().String(),
		ConnKey:    connKey,
		Identity:   id,
		Mode:       mode,
		EnqueuedAt: q.clock.Now(),
	}
	e.expiry = q.clock.AfterFunc(constants.QueueTimeout, func() { q.expire(e) })
	q.entries = append(q.entries, e)
	q.byConn[connKey] = e
	q.mu.Unlock()

	log.Debug().Str("user", id.UserID).Str("mode", string(mode)).Msg("queued for matchmaking")

	q.clock.AfterFunc(constants.GroupingDelay, func() { q.TryGroup(mode) })
	return nil
}

// TryGroup removes up to the max group size of the oldest same-mode entries
// and hands them to room creation, but only when at least two are waiting.
func (q *Queue) TryGroup(mode models.RaceMode) {
	q.mu.Lock()
	var group []*Entry
	for _, e := range q.entries {
		if e.Mode == mode {
			group = append(group, e)
			if len(group) == constants.MaxGroupSize {
				break
			}
		}
	}
	if len(group) < constants.MinGroupSize {
		q.mu.Unlock()
		return
	}
	for _, e := range group {
		q.removeLocked(e)
	}
	q.mu.Unlock()

	log.Info().Int("players", len(group)).Str("mode", string(mode)).Msg("matchmaking group formed")
	q.onGroup(group)
}

// Cancel drops the connection's entry if it still has one. No-op otherwise.
func (q *Queue) Cancel(connKey string) bool {
	q.mu.Lock()
	e, ok := q.byConn[connKey]
	if ok {
		q.removeLocked(e)
	}
	q.mu.Unlock()
	return ok
}

// Len reports the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run periodically retries grouping for every mode until the context ends,
// catching entries whose post-enqueue attempt found no partner.
func (q *Queue) Run(ctx context.Context) {
	ticker := q.clock.NewTicker(constants.GroupingDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			q.TryGroup(models.ModeNormal)
			q.TryGroup(models.ModeCode)
		}
	}
}

// expire fires from the entry's timer. The presence check makes a timer that
// raced with grouping or cancellation a no-op.
func (q *Queue) expire(e *Entry) {
	q.mu.Lock()
	if current, ok := q.byConn[e.ConnKey]; !ok || current != e {
		q.mu.Unlock()
		return
	}
	q.removeLocked(e)
	q.mu.Unlock()

	log.Info().Str("user", e.Identity.UserID).Str("mode", string(e.Mode)).
		Msg("matchmaking wait expired, falling back to bot-fill")
	q.onExpire(e)
}

func (q *Queue) removeLocked(e *Entry) {
	e.expiry.Stop()
	delete(q.byConn, e.ConnKey)
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}
