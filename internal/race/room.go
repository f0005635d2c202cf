package race

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/models"
)

// Room is the state machine and data holder for one race. All mutation goes
// through its mutex; the coordinator fans out the snapshots it returns, so a
// broadcast never sees a torn view of the participant list.
//
// Status only moves forward: waiting -> countdown -> started -> finished.
type Room struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	code       string
	hostID     string
	mode       models.RaceMode
	language   string
	text       string
	totalWords int
	capacity   int

	status       models.RaceStatus
	participants []models.Participant
	startedAt    *time.Time
	endedAt      *time.Time
	createdAt    time.Time
}

// NewRoom creates a waiting room with the host as sole participant. The text
// is immutable from here on; its word count is the denominator every bot
// progress percentage is computed against.
func NewRoom(clock clockwork.Clock, code string, host models.Identity, mode models.RaceMode, language, text string, capacity int) *Room {
	if capacity <= 0 {
		capacity = constants.MaxRoomCapacity
	}
	r := &Room{
		clock:      clock,
		code:       strings.ToUpper(code),
		hostID:     host.UserID,
		mode:       mode,
		language:   language,
		text:       text,
		totalWords: len(strings.Fields(text)),
		capacity:   capacity,
		status:     models.StatusWaiting,
		createdAt:  clock.Now(),
	}
	r.participants = append(r.participants, models.Participant{
		UserID:   host.UserID,
		Username: host.Username,
	})
	return r
}

func (r *Room) Code() string    { return r.code }
func (r *Room) TotalWords() int { return r.totalWords }

func (r *Room) IsHost(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return userID == r.hostID
}

func (r *Room) Status() models.RaceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// AddParticipant admits a human in join order. Joining twice is reported as
// ErrDuplicateParticipant; the join-by-code path treats that as success.
func (r *Room) AddParticipant(id models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(models.Participant{
		UserID:   id.UserID,
		Username: id.Username,
	})
}

// AddBot admits a simulated participant. Same admission rules as humans.
func (r *Room) AddBot(p models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.IsBot = true
	return r.addLocked(p)
}

func (r *Room) addLocked(p models.Participant) error {
	if r.status != models.StatusWaiting {
		return ErrAlreadyStarted
	}
	for _, existing := range r.participants {
		if existing.UserID == p.UserID {
			return ErrDuplicateParticipant
		}
	}
	if len(r.participants) >= r.capacity {
		return ErrRoomFull
	}
	r.participants = append(r.participants, p)
	return nil
}

// RemoveParticipant drops a participant from a still-waiting room. Once the
// countdown begins the record stays in place so final positions never shift.
// A departing host hands the room to the oldest remaining participant.
func (r *Room) RemoveParticipant(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != models.StatusWaiting {
		return false
	}
	for i, p := range r.participants {
		if p.UserID == userID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			if userID == r.hostID && len(r.participants) > 0 {
				r.hostID = r.participants[0].UserID
				log.Info().Str("room", r.code).Str("host", r.hostID).Msg("host left, room handed over")
			}
			return true
		}
	}
	return false
}

// BeginCountdown moves waiting -> countdown. After this no participant is
// admitted.
func (r *Room) BeginCountdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != models.StatusWaiting {
		return ErrAlreadyStarted
	}
	r.status = models.StatusCountdown
	return nil
}

// Start moves countdown -> started and stamps startedAt.
func (r *Room) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != models.StatusCountdown {
		return
	}
	now := r.clock.Now()
	r.startedAt = &now
	r.status = models.StatusStarted
}

// RecordProgress applies one progress update. Updates against a room that is
// not running, for an unknown participant, or that would move progress
// backwards are dropped (logged, never surfaced). The returned snapshot is
// only valid when accepted.
func (r *Room) RecordProgress(userID string, progress int, wpm float64, accuracy int) (models.Race, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != models.StatusStarted {
		log.Debug().Str("room", r.code).Str("user", userID).
			Str("status", string(r.status)).Msg("progress update ignored, race not running")
		return models.Race{}, false
	}

	p := r.findLocked(userID)
	if p == nil {
		log.Debug().Str("room", r.code).Str("user", userID).Msg("progress update from unknown participant")
		return models.Race{}, false
	}

	if progress > 100 {
		progress = 100
	}
	if progress < p.Progress {
		log.Debug().Str("room", r.code).Str("user", userID).
			Int("have", p.Progress).Int("got", progress).Msg("rejected decreasing progress")
		return models.Race{}, false
	}

	p.Progress = progress
	if wpm >= 0 {
		p.WPM = wpm
	}
	if accuracy >= 0 && accuracy <= 100 {
		p.Accuracy = accuracy
	}
	if progress >= 100 && p.FinishedAt == nil {
		now := r.clock.Now()
		p.FinishedAt = &now
	}

	return r.snapshotLocked(), true
}

// MarkFinished stamps a finish time for a participant that has none yet,
// forcing progress to 100. Used by the explicit finish-race event.
func (r *Room) MarkFinished(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != models.StatusStarted {
		return false
	}
	p := r.findLocked(userID)
	if p == nil || p.FinishedAt != nil {
		return false
	}
	p.Progress = 100
	now := r.clock.Now()
	p.FinishedAt = &now
	return true
}

// ForceFinish stamps a finish time at the participant's current progress.
// Used when the disconnect grace period for a vacated slot runs out.
func (r *Room) ForceFinish(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != models.StatusStarted {
		return false
	}
	p := r.findLocked(userID)
	if p == nil || p.FinishedAt != nil {
		return false
	}
	now := r.clock.Now()
	p.FinishedAt = &now
	log.Info().Str("room", r.code).Str("user", userID).
		Int("progress", p.Progress).Msg("participant force-finished after disconnect grace")
	return true
}

// TryFinalize completes the race once every participant holds a finish time:
// participants are stable-sorted by finish time, positions become 1..N, the
// room turns finished. Returns the terminal snapshot on success. Idempotent;
// a finished room reports false.
func (r *Room) TryFinalize() (models.Race, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != models.StatusStarted {
		return models.Race{}, false
	}
	for i := range r.participants {
		if r.participants[i].FinishedAt == nil {
			return models.Race{}, false
		}
	}

	sort.SliceStable(r.participants, func(i, j int) bool {
		return r.participants[i].FinishedAt.Before(*r.participants[j].FinishedAt)
	})
	for i := range r.participants {
		r.participants[i].Position = i + 1
	}

	now := r.clock.Now()
	r.endedAt = &now
	r.status = models.StatusFinished

	log.Info().Str("room", r.code).Int("participants", len(r.participants)).Msg("race finalized")
	return r.snapshotLocked(), true
}

// Snapshot returns a consistent deep copy of the room document.
func (r *Room) Snapshot() models.Race {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() models.Race {
	doc := models.Race{
		RoomCode:    r.code,
		HostID:      r.hostID,
		Mode:        r.mode,
		Language:    r.language,
		Status:      r.status,
		TextContent: r.text,
		CreatedAt:   r.createdAt,
	}
	doc.Participants = make([]models.Participant, len(r.participants))
	copy(doc.Participants, r.participants)
	for i := range doc.Participants {
		if t := r.participants[i].FinishedAt; t != nil {
			finished := *t
			doc.Participants[i].FinishedAt = &finished
		}
	}
	if r.startedAt != nil {
		t := *r.startedAt
		doc.StartedAt = &t
	}
	if r.endedAt != nil {
		t := *r.endedAt
		doc.EndedAt = &t
	}
	return doc
}

func (r *Room) findLocked(userID string) *models.Participant {
	for i := range r.participants {
		if r.participants[i].UserID == userID {
			return &r.participants[i]
		}
	}
	return nil
}
