package matchmaking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

type queueHarness struct {
	clock   *clockwork.FakeClock
	queue   *Queue
	grouped chan []*Entry
	expired chan *Entry
}

func newHarness() *queueHarness {
	h := &queueHarness{
		clock:   clockwork.NewFakeClock(),
		grouped: make(chan []*Entry, 4),
		expired: make(chan *Entry, 4),
	}
	h.queue = NewQueue(h.clock,
		func(entries []*Entry) { h.grouped <- entries },
		func(e *Entry) { h.expired <- e },
	)
	return h
}

func (h *queueHarness) enqueue(t *testing.T, n int, mode models.RaceMode) {
	t.Helper()
	for i := 1; i <= n; i++ {
		id := models.Identity{UserID: fmt.Sprintf("u%d", i), Username: fmt.Sprintf("user%d", i)}
		if err := h.queue.Enqueue(fmt.Sprintf("conn%d", i), id, mode); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
}

func expectGroup(t *testing.T, ch chan []*Entry) []*Entry {
	t.Helper()
	select {
	case g := <-ch:
		return g
	case <-time.After(2 * time.Second):
		t.Fatal("expected a matchmaking group")
		return nil
	}
}

func expectExpired(t *testing.T, ch chan *Entry) *Entry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("expected an expired entry")
		return nil
	}
}

func expectQuiet(t *testing.T, h *queueHarness) {
	t.Helper()
	select {
	case g := <-h.grouped:
		t.Fatalf("unexpected group: %d entries", len(g))
	case e := <-h.expired:
		t.Fatalf("unexpected expiry for %s", e.Identity.UserID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnqueueRejectsDuplicateConnection(t *testing.T) {
	h := newHarness()
	h.enqueue(t, 1, models.ModeNormal)

	err := h.queue.Enqueue("conn1", models.Identity{UserID: "u1"}, models.ModeNormal)
	if !errors.Is(err, race.ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}
	if h.queue.Len() != 1 {
		t.Errorf("duplicate enqueue must not add an entry, len=%d", h.queue.Len())
	}
}

func TestTwoPlayersGroupWithinDelay(t *testing.T) {
	h := newHarness()
	h.enqueue(t, 2, models.ModeNormal)

	h.clock.Advance(constants.GroupingDelay)
	group := expectGroup(t, h.grouped)

	if len(group) != 2 {
		t.Fatalf("expected group of 2, got %d", len(group))
	}
	if group[0].ConnKey != "conn1" || group[1].ConnKey != "conn2" {
		t.Errorf("grouping must be FIFO, got %s, %s", group[0].ConnKey, group[1].ConnKey)
	}
	if h.queue.Len() != 0 {
		t.Errorf("grouped entries must leave the queue, len=%d", h.queue.Len())
	}

	// the grouped entries' expiry timers must be dead
	h.clock.Advance(constants.QueueTimeout)
	expectQuiet(t, h)
}

func TestLonePlayerExpiresOnlyAfterFullTimeout(t *testing.T) {
	h := newHarness()
	h.enqueue(t, 1, models.ModeNormal)

	h.clock.Advance(constants.QueueTimeout - time.Second)
	expectQuiet(t, h)

	h.clock.Advance(time.Second)
	e := expectExpired(t, h.expired)
	if e.Identity.UserID != "u1" {
		t.Errorf("expected u1 to expire, got %s", e.Identity.UserID)
	}
	if h.queue.Len() != 0 {
		t.Errorf("expired entry must leave the queue, len=%d", h.queue.Len())
	}
}

func TestGroupTakesOldestUpToMax(t *testing.T) {
	h := newHarness()
	h.enqueue(t, constants.MaxGroupSize+1, models.ModeNormal)

	h.queue.TryGroup(models.ModeNormal)
	group := expectGroup(t, h.grouped)

	if len(group) != constants.MaxGroupSize {
		t.Fatalf("expected group of %d, got %d", constants.MaxGroupSize, len(group))
	}
	for i, e := range group {
		want := fmt.Sprintf("conn%d", i+1)
		if e.ConnKey != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, e.ConnKey)
		}
	}
	if h.queue.Len() != 1 {
		t.Errorf("the newest entry should remain queued, len=%d", h.queue.Len())
	}
}

func TestModesNeverMix(t *testing.T) {
	h := newHarness()
	if err := h.queue.Enqueue("connA", models.Identity{UserID: "a"}, models.ModeNormal); err != nil {
		t.Fatal(err)
	}
	if err := h.queue.Enqueue("connB", models.Identity{UserID: "b"}, models.ModeCode); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(constants.GroupingDelay)
	expectQuiet(t, h)

	h.clock.Advance(constants.QueueTimeout)
	first := expectExpired(t, h.expired)
	second := expectExpired(t, h.expired)
	if first.Mode == second.Mode {
		t.Error("both modes should have expired separately")
	}
}

func TestCancelRemovesEntryAndTimer(t *testing.T) {
	h := newHarness()
	h.enqueue(t, 1, models.ModeNormal)

	if !h.queue.Cancel("conn1") {
		t.Fatal("cancel should report removal")
	}
	if h.queue.Cancel("conn1") {
		t.Error("second cancel must be a no-op")
	}

	h.clock.Advance(constants.QueueTimeout)
	expectQuiet(t, h)
}
