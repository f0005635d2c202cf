package race

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/velocitype/go-socket-velocitype/internal/models"
)

func testRoom(clock clockwork.Clock, capacity int) *Room {
	host := models.Identity{UserID: "u1", Username: "alice"}
	return NewRoom(clock, "ABC123", host, models.ModeNormal, "english", "the quick brown fox jumps", capacity)
}

func TestRoomAdmission(t *testing.T) {
	t.Run("host is sole participant on creation", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		doc := room.Snapshot()
		if len(doc.Participants) != 1 || doc.Participants[0].UserID != "u1" {
			t.Fatalf("expected host as sole participant, got %+v", doc.Participants)
		}
		if doc.Status != models.StatusWaiting {
			t.Errorf("expected waiting status, got %s", doc.Status)
		}
		if doc.HostID != "u1" {
			t.Errorf("expected host u1, got %s", doc.HostID)
		}
	})

	t.Run("duplicate participant rejected", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		err := room.AddParticipant(models.Identity{UserID: "u1", Username: "alice"})
		if !errors.Is(err, ErrDuplicateParticipant) {
			t.Errorf("expected ErrDuplicateParticipant, got %v", err)
		}
	})

	t.Run("capacity bound enforced", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 3)
		for i := 2; i <= 3; i++ {
			id := models.Identity{UserID: fmt.Sprintf("u%d", i), Username: fmt.Sprintf("user%d", i)}
			if err := room.AddParticipant(id); err != nil {
				t.Fatalf("join %d should succeed: %v", i, err)
			}
		}
		err := room.AddParticipant(models.Identity{UserID: "u4", Username: "user4"})
		if !errors.Is(err, ErrRoomFull) {
			t.Errorf("expected ErrRoomFull for join beyond capacity, got %v", err)
		}
	})

	t.Run("no admission once countdown begins", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		if err := room.BeginCountdown(); err != nil {
			t.Fatalf("begin countdown: %v", err)
		}
		err := room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})
		if !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("expected ErrAlreadyStarted, got %v", err)
		}
	})

	t.Run("bots admitted with flag set", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		bot := models.Participant{UserID: "bot_1", Username: "SpeedyBot", BotDifficulty: models.BotMedium}
		if err := room.AddBot(bot); err != nil {
			t.Fatalf("add bot: %v", err)
		}
		doc := room.Snapshot()
		if !doc.Participants[1].IsBot {
			t.Error("bot participant should carry isBot")
		}
	})
}

func TestRoomStateTransitions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := testRoom(clock, 5)

	if err := room.BeginCountdown(); err != nil {
		t.Fatalf("waiting -> countdown: %v", err)
	}
	if got := room.Status(); got != models.StatusCountdown {
		t.Fatalf("expected countdown, got %s", got)
	}
	if err := room.BeginCountdown(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second countdown should fail, got %v", err)
	}

	room.Start()
	if got := room.Status(); got != models.StatusStarted {
		t.Fatalf("expected started, got %s", got)
	}
	if room.Snapshot().StartedAt == nil {
		t.Error("startedAt should be stamped on start")
	}

	// starting again is a no-op, not a regression
	room.Start()
	if got := room.Status(); got != models.StatusStarted {
		t.Errorf("status regressed to %s", got)
	}
}

func TestRoomRecordProgress(t *testing.T) {
	newStarted := func() (*Room, *clockwork.FakeClock) {
		clock := clockwork.NewFakeClock()
		room := testRoom(clock, 5)
		room.BeginCountdown()
		room.Start()
		return room, clock
	}

	t.Run("ignored before start", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		if _, ok := room.RecordProgress("u1", 50, 60, 95); ok {
			t.Error("progress should be dropped while waiting")
		}
	})

	t.Run("unknown participant ignored", func(t *testing.T) {
		room, _ := newStarted()
		if _, ok := room.RecordProgress("ghost", 50, 60, 95); ok {
			t.Error("progress from unknown participant should be dropped")
		}
	})

	t.Run("progress never decreases", func(t *testing.T) {
		room, _ := newStarted()
		if _, ok := room.RecordProgress("u1", 50, 60, 95); !ok {
			t.Fatal("first update should be accepted")
		}
		if _, ok := room.RecordProgress("u1", 40, 55, 95); ok {
			t.Error("decreasing progress should be rejected")
		}
		if doc := room.Snapshot(); doc.Participants[0].Progress != 50 {
			t.Errorf("progress changed to %d", doc.Participants[0].Progress)
		}
	})

	t.Run("progress clamps to 100 and finishes once", func(t *testing.T) {
		room, clock := newStarted()
		doc, ok := room.RecordProgress("u1", 120, 80, 97)
		if !ok {
			t.Fatal("update should be accepted")
		}
		p := doc.Participants[0]
		if p.Progress != 100 {
			t.Errorf("expected clamp to 100, got %d", p.Progress)
		}
		if p.FinishedAt == nil {
			t.Fatal("finishedAt should be set at 100")
		}
		first := *p.FinishedAt

		clock.Advance(3 * time.Second)
		doc, _ = room.RecordProgress("u1", 100, 80, 97)
		if got := doc.Participants[0].FinishedAt; got == nil || !got.Equal(first) {
			t.Error("finishedAt must be set at most once")
		}
	})
}

func TestRoomFinalize(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := testRoom(clock, 5)
	room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})
	room.AddParticipant(models.Identity{UserID: "u3", Username: "carol"})
	room.BeginCountdown()
	room.Start()

	if _, ok := room.TryFinalize(); ok {
		t.Fatal("finalize must fail while participants are unfinished")
	}

	// u2 finishes first, u3 second, u1 last
	room.RecordProgress("u2", 100, 80, 96)
	clock.Advance(time.Second)
	room.RecordProgress("u3", 100, 70, 94)
	if _, ok := room.TryFinalize(); ok {
		t.Fatal("finalize must wait for the last participant")
	}
	clock.Advance(time.Second)
	room.RecordProgress("u1", 100, 60, 92)

	final, ok := room.TryFinalize()
	if !ok {
		t.Fatal("finalize should succeed once everyone finished")
	}
	if final.Status != models.StatusFinished {
		t.Errorf("expected finished, got %s", final.Status)
	}
	if final.EndedAt == nil {
		t.Error("endedAt should be stamped")
	}

	wantOrder := []string{"u2", "u3", "u1"}
	for i, p := range final.Participants {
		if p.UserID != wantOrder[i] {
			t.Errorf("slot %d: expected %s, got %s", i, wantOrder[i], p.UserID)
		}
		if p.Position != i+1 {
			t.Errorf("%s: expected position %d, got %d", p.UserID, i+1, p.Position)
		}
	}

	if _, ok := room.TryFinalize(); ok {
		t.Error("finalize must be idempotent")
	}
}

func TestRoomFinalizeTieIsStable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := testRoom(clock, 5)
	room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})

	room.BeginCountdown()
	room.Start()

	// both finish at the same instant; prior order must hold
	room.RecordProgress("u1", 100, 60, 95)
	room.RecordProgress("u2", 100, 60, 95)

	final, ok := room.TryFinalize()
	if !ok {
		t.Fatal("finalize should succeed")
	}
	if final.Participants[0].UserID != "u1" || final.Participants[1].UserID != "u2" {
		t.Errorf("tie broke join order: %s, %s", final.Participants[0].UserID, final.Participants[1].UserID)
	}
}

func TestRoomForceFinish(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := testRoom(clock, 5)
	room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})
	room.BeginCountdown()
	room.Start()

	room.RecordProgress("u2", 40, 50, 90)
	if !room.ForceFinish("u2") {
		t.Fatal("force finish should take an unfinished participant")
	}
	doc := room.Snapshot()
	if doc.Participants[1].FinishedAt == nil {
		t.Fatal("force finish must stamp finishedAt")
	}
	if doc.Participants[1].Progress != 40 {
		t.Errorf("force finish must keep current progress, got %d", doc.Participants[1].Progress)
	}
	if room.ForceFinish("u2") {
		t.Error("force finish must not restamp a finished participant")
	}
}

func TestRoomRemoveParticipant(t *testing.T) {
	room := testRoom(clockwork.NewFakeClock(), 5)
	room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})

	if !room.RemoveParticipant("u2") {
		t.Fatal("removal from a waiting room should succeed")
	}
	if n := room.ParticipantCount(); n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}

	room.BeginCountdown()
	if room.RemoveParticipant("u1") {
		t.Error("records must stay in place once countdown begins")
	}
}

func TestRoomHostHandover(t *testing.T) {
	t.Run("departing host hands the room to the oldest remaining", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})
		room.AddParticipant(models.Identity{UserID: "u3", Username: "carol"})

		if !room.RemoveParticipant("u1") {
			t.Fatal("host removal from a waiting room should succeed")
		}
		if !room.IsHost("u2") {
			t.Error("oldest remaining participant should inherit the room")
		}
		if got := room.Snapshot().HostID; got != "u2" {
			t.Errorf("snapshot host should follow the handover, got %s", got)
		}
	})

	t.Run("non-host leave keeps the host", func(t *testing.T) {
		room := testRoom(clockwork.NewFakeClock(), 5)
		room.AddParticipant(models.Identity{UserID: "u2", Username: "bob"})

		room.RemoveParticipant("u2")
		if !room.IsHost("u1") {
			t.Error("host must be unchanged when a guest leaves")
		}
	})
}

func TestRoomSnapshotIsIsolated(t *testing.T) {
	room := testRoom(clockwork.NewFakeClock(), 5)
	doc := room.Snapshot()
	doc.Participants[0].Progress = 99

	if got := room.Snapshot().Participants[0].Progress; got != 0 {
		t.Errorf("snapshot mutation leaked into the room: %d", got)
	}
}
