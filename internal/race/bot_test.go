package race

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/models"
)

// maxStep comfortably exceeds the slowest possible jittered word delay
// (easy tier, 30 wpm, +10% jitter = 2.2s).
const maxStep = 3 * time.Second

func botParticipant(difficulty models.BotDifficulty) models.Participant {
	return models.Participant{
		UserID:        "bot_test1",
		Username:      "SpeedyBot",
		IsBot:         true,
		BotDifficulty: difficulty,
	}
}

func TestBotTypesThroughText(t *testing.T) {
	clock := clockwork.NewFakeClock()
	const totalWords = 5
	bot := NewBot(clock, botParticipant(models.BotMedium), totalWords)

	updates := make(chan BotUpdate, totalWords)
	done := make(chan struct{})
	go func() {
		bot.Run(func(u BotUpdate) { updates <- u })
		close(done)
	}()

	var got []BotUpdate
	for i := 0; i < totalWords; i++ {
		clock.BlockUntil(1)
		clock.Advance(maxStep)
		select {
		case u := <-updates:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("no update for step %d", i+1)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop after typing the whole text")
	}

	last := 0
	for i, u := range got {
		if u.Progress < last {
			t.Errorf("step %d: progress decreased %d -> %d", i+1, last, u.Progress)
		}
		last = u.Progress
		if u.Accuracy < constants.BotMinAccuracy || u.Accuracy > constants.BotMaxAccuracy {
			t.Errorf("step %d: accuracy %d outside [%d,%d]", i+1, u.Accuracy, constants.BotMinAccuracy, constants.BotMaxAccuracy)
		}
		if u.WPM < 1 {
			t.Errorf("step %d: wpm %f below floor", i+1, u.WPM)
		}
	}
	if got[len(got)-1].Progress != 100 {
		t.Errorf("final progress should be 100, got %d", got[len(got)-1].Progress)
	}
	if !got[len(got)-1].Persist {
		t.Error("finishing step must be marked for persistence")
	}
}

func TestBotStopIsSynchronous(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bot := NewBot(clock, botParticipant(models.BotHard), 100)

	updates := make(chan BotUpdate, 8)
	go bot.Run(func(u BotUpdate) { updates <- u })

	clock.BlockUntil(1)
	clock.Advance(maxStep)
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a first step")
	}

	bot.Stop()
	clock.Advance(10 * maxStep)

	select {
	case u := <-updates:
		t.Fatalf("update emitted after Stop: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSpeedBands(t *testing.T) {
	cases := []struct {
		difficulty models.BotDifficulty
		minWPM     int
		maxWPM     int
	}{
		{models.BotEasy, 30, 45},
		{models.BotMedium, 45, 60},
		{models.BotHard, 60, 80},
	}
	for _, tc := range cases {
		t.Run(string(tc.difficulty), func(t *testing.T) {
			for i := 0; i < 50; i++ {
				bot := NewBot(clockwork.NewFakeClock(), botParticipant(tc.difficulty), 10)
				if bot.baseWPM < tc.minWPM || bot.baseWPM > tc.maxWPM {
					t.Fatalf("base wpm %d outside band [%d,%d]", bot.baseWPM, tc.minWPM, tc.maxWPM)
				}
			}
		})
	}
}

func TestNewBotParticipant(t *testing.T) {
	t.Run("synthetic identity", func(t *testing.T) {
		p := NewBotParticipant(nil)
		if !strings.HasPrefix(p.UserID, "bot_") {
			t.Errorf("bot user id should carry the bot_ prefix, got %s", p.UserID)
		}
		if !p.IsBot {
			t.Error("participant should be flagged as bot")
		}
		switch p.BotDifficulty {
		case models.BotEasy, models.BotMedium, models.BotHard:
		default:
			t.Errorf("unexpected difficulty %q", p.BotDifficulty)
		}
	})

	t.Run("names stay unique within a room", func(t *testing.T) {
		taken := make(map[string]bool)
		for _, name := range constants.BotNames {
			taken[name] = true
		}
		p := NewBotParticipant(taken)
		if taken[p.Username] {
			t.Errorf("bot name %s collides with the roster", p.Username)
		}
	})
}
