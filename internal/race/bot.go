package race

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/models"
)

// BotUpdate is one simulated progress step, pushed through the same
// recordProgress contract a human update takes. Persist marks the steps the
// coordinator should also mirror to the store.
type BotUpdate struct {
	UserID   string
	Progress int
	WPM      float64
	Accuracy int
	Persist  bool
}

// Bot simulates one typist working through the room text word by word. Steps
// are timer-driven on the injected clock; Stop is synchronous with respect to
// the next step, so no update is emitted after Stop returns.
type Bot struct {
	participant models.Participant
	totalWords  int
	baseWPM     int
	clock       clockwork.Clock

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewBot(clock clockwork.Clock, p models.Participant, totalWords int) *Bot {
	minWPM, maxWPM := speedBand(p.BotDifficulty)
	return &Bot{
		participant: p,
		totalWords:  totalWords,
		baseWPM:     minWPM + rand.IntN(maxWPM-minWPM+1),
		clock:       clock,
		stopCh:      make(chan struct{}),
	}
}

func (b *Bot) UserID() string { return b.participant.UserID }

// Run steps the bot until it types the whole text or is stopped. Blocking;
// callers run it in its own goroutine.
func (b *Bot) Run(sink func(BotUpdate)) {
	log.Debug().Str("bot", b.participant.Username).
		Str("difficulty", string(b.participant.BotDifficulty)).
		Int("baseWpm", b.baseWPM).Int("totalWords", b.totalWords).Msg("bot typist started")

	wordsTyped := 0
	for {
		timer := b.clock.NewTimer(b.stepDelay())
		select {
		case <-timer.Chan():
		case <-b.stopCh:
			timer.Stop()
			return
		}

		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}

		wordsTyped++
		progress := int(math.Round(float64(wordsTyped) / float64(b.totalWords) * 100))
		if progress > 100 {
			progress = 100
		}
		done := wordsTyped >= b.totalWords
		if done {
			progress = 100
		}

		sink(BotUpdate{
			UserID:   b.participant.UserID,
			Progress: progress,
			WPM:      b.instantWPM(),
			Accuracy: randBetween(constants.BotMinAccuracy, constants.BotMaxAccuracy),
			Persist:  wordsTyped%constants.BotPersistEveryWords == 0 || done,
		})
		b.mu.Unlock()

		if done {
			log.Debug().Str("bot", b.participant.Username).Msg("bot typist finished")
			return
		}
	}
}

// Stop cancels the bot. An in-flight step completes first; once Stop returns
// the bot emits nothing further.
func (b *Bot) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// stepDelay is the average per-word delay for the base speed, jittered so the
// rhythm feels human.
func (b *Bot) stepDelay() time.Duration {
	perWord := float64(time.Minute) / float64(b.baseWPM)
	return time.Duration(perWord * jitterFactor())
}

// instantWPM perturbs the announced speed around the base, never below 1.
func (b *Bot) instantWPM() float64 {
	wpm := float64(b.baseWPM) * jitterFactor()
	if wpm < 1 {
		wpm = 1
	}
	return wpm
}

func jitterFactor() float64 {
	return 1 + (rand.Float64()*2-1)*constants.BotSpeedJitter
}

func speedBand(d models.BotDifficulty) (int, int) {
	switch d {
	case models.BotEasy:
		return 30, 45
	case models.BotHard:
		return 60, 80
	default:
		return 45, 60
	}
}

func randBetween(minVal, maxVal int) int {
	return minVal + rand.IntN(maxVal-minVal+1)
}

// RandomBotDifficulty draws a tier weighted toward medium opponents.
func RandomBotDifficulty() models.BotDifficulty {
	roll := rand.Float64()
	switch {
	case roll < 0.3:
		return models.BotEasy
	case roll < 0.8:
		return models.BotMedium
	default:
		return models.BotHard
	}
}

// NewBotParticipant builds a synthetic identity for a bot-fill slot. Names
// already used in the room get a numeric suffix so rosters stay readable.
func NewBotParticipant(taken map[string]bool) models.Participant {
	name := constants.BotNames[rand.IntN(len(constants.BotNames))]
	if taken[name] {
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s%d", name, i)
			if !taken[candidate] {
				name = candidate
				break
			}
		}
	}
	return models.Participant{
		UserID:        "bot_" + uuid.New().String()[:8],
		Username:      name,
		IsBot:         true,
		BotDifficulty: RandomBotDifficulty(),
	}
}
