package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

// CreateRoom builds a waiting room with the creator as host and sole
// participant, persists it, and returns the room document. The REST surface
// calls this; the host later starts the race over the websocket.
func (c *Coordinator) CreateRoom(ctx context.Context, id models.Identity, mode models.RaceMode, language, text string) (models.Race, error) {
	if id.UserID == "" || text == "" {
		return models.Race{}, race.ErrValidation
	}
	if mode != models.ModeCode {
		mode = models.ModeNormal
	}
	if language == "" {
		language = defaultLanguage
	}

	code, err := c.generateRoomCode(ctx)
	if err != nil {
		return models.Race{}, err
	}

	room := race.NewRoom(c.clock, code, id, mode, language, text, constants.MaxRoomCapacity)
	doc := room.Snapshot()
	if err := c.store.InsertRace(ctx, doc); err != nil {
		return models.Race{}, fmt.Errorf("persisting race room: %w", err)
	}
	c.registerRoom(room)

	log.Info().Str("room", code).Str("host", id.UserID).Str("mode", string(mode)).Msg("race room created")
	return doc, nil
}

// JoinRoom admits a player into a waiting room by code. Joining a room the
// player is already in returns the current document without error.
func (c *Coordinator) JoinRoom(ctx context.Context, id models.Identity, code string) (models.Race, error) {
	if id.UserID == "" || code == "" {
		return models.Race{}, race.ErrValidation
	}

	room := c.room(code)
	if room == nil {
		// A room absent from the live set is either unknown or already over.
		doc, err := c.store.GetRaceByCode(ctx, code)
		if err != nil {
			return models.Race{}, race.ErrRoomNotFound
		}
		if doc.Status != models.StatusWaiting {
			return models.Race{}, race.ErrAlreadyStarted
		}
		return models.Race{}, race.ErrRoomNotFound
	}

	err := room.AddParticipant(id)
	if err != nil && !errors.Is(err, race.ErrDuplicateParticipant) {
		return models.Race{}, err
	}

	doc := room.Snapshot()
	c.persistAsync(doc)
	c.broadcast(room.Code(), models.EventParticipantJoined, models.ParticipantJoinedData{
		Participants: doc.Participants,
		Race:         doc,
	})
	return doc, nil
}

// JoinRace is the websocket join: same admission as JoinRoom plus the
// connection enters the room's broadcast group.
func (c *Coordinator) JoinRace(ctx context.Context, conn Conn, id models.Identity, code string) {
	doc, err := c.JoinRoom(ctx, id, code)
	if err != nil {
		c.sendError(conn, errorMessage(err))
		return
	}
	c.subscribe(conn, doc.RoomCode)
	// the join broadcast predates this subscription; echo it to the joiner
	conn.Send(models.Message{
		Type:     models.EventParticipantJoined,
		RoomCode: doc.RoomCode,
		Data:     models.ParticipantJoinedData{Participants: doc.Participants, Race: doc},
		Time:     c.clock.Now(),
	})
}

// StartRace begins the countdown of a manually created room. Host only.
func (c *Coordinator) StartRace(conn Conn, code string) {
	room := c.room(code)
	if room == nil {
		c.sendError(conn, errorMessage(race.ErrRoomNotFound))
		return
	}
	if !room.IsHost(conn.Identity().UserID) {
		c.sendError(conn, errorMessage(race.ErrNotHost))
		return
	}
	c.startCountdown(room)
}

// startCountdown drives waiting -> countdown -> started. Ticks go out once
// per second, 5 down to 0; after the 0 tick the room starts and bots launch.
// No participant is admitted once the first tick is broadcast.
func (c *Coordinator) startCountdown(room *race.Room) {
	if err := room.BeginCountdown(); err != nil {
		log.Debug().Str("room", room.Code()).Msg("countdown already begun")
		return
	}
	c.persistAsync(room.Snapshot())

	go func() {
		for i := constants.CountdownStart; i >= 0; i-- {
			c.broadcast(room.Code(), models.EventRaceCountdown, models.CountdownData{Countdown: i})
			if i == 0 {
				break
			}
			timer := c.clock.NewTimer(constants.CountdownTick)
			<-timer.Chan()
		}
		c.startRace(room)
	}()
}

func (c *Coordinator) startRace(room *race.Room) {
	room.Start()
	doc := room.Snapshot()
	c.persistAsync(doc)
	c.broadcast(room.Code(), models.EventRaceStarted, models.RaceStartedData{Race: doc})
	log.Info().Str("room", room.Code()).Msg("race started")

	for _, p := range doc.Participants {
		if !p.IsBot {
			continue
		}
		bot := race.NewBot(c.clock, p, room.TotalWords())
		c.mu.Lock()
		if c.bots[room.Code()] == nil {
			c.bots[room.Code()] = make(map[string]*race.Bot)
		}
		c.bots[room.Code()][p.UserID] = bot
		c.mu.Unlock()

		go bot.Run(func(update race.BotUpdate) {
			c.applyBotUpdate(room, update)
		})
	}
}

// applyBotUpdate feeds a simulator step through the same progress contract a
// human update takes.
func (c *Coordinator) applyBotUpdate(room *race.Room, update race.BotUpdate) {
	doc, ok := room.RecordProgress(update.UserID, update.Progress, update.WPM, update.Accuracy)
	if !ok {
		return
	}
	c.broadcast(room.Code(), models.EventProgressUpdated, models.ProgressUpdatedData{Participants: doc.Participants})
	if update.Progress >= 100 {
		c.mu.Lock()
		delete(c.bots[room.Code()], update.UserID)
		c.mu.Unlock()
		c.finalizeIfDone(room)
		return
	}
	if update.Persist {
		c.persistAsync(doc)
	}
}

// SubmitProgress applies a client progress report. Invalid reports are
// dropped silently per the room's contract; accepted ones fan out and are
// mirrored to the store off the hot path. A report that finishes the
// participant is not mirrored: the finish mark reaches the store through
// later mirrors or the standings write, which must stay the last write.
func (c *Coordinator) SubmitProgress(code, userID string, progress int, wpm float64, accuracy int) {
	room := c.room(code)
	if room == nil {
		log.Debug().Str("room", strings.ToUpper(code)).Msg("progress for unknown room")
		return
	}
	doc, ok := room.RecordProgress(userID, progress, wpm, accuracy)
	if !ok {
		return
	}
	c.broadcast(room.Code(), models.EventProgressUpdated, models.ProgressUpdatedData{Participants: doc.Participants})
	if progress >= 100 {
		c.finalizeIfDone(room)
		return
	}
	c.persistAsync(doc)
}

// FinishRace stamps the participant finished and finalizes when everyone is.
func (c *Coordinator) FinishRace(code, userID string) {
	room := c.room(code)
	if room == nil {
		return
	}
	if room.MarkFinished(userID) {
		doc := room.Snapshot()
		c.broadcast(room.Code(), models.EventProgressUpdated, models.ProgressUpdatedData{Participants: doc.Participants})
	}
	c.finalizeIfDone(room)
}

// LeaveRace removes the connection from the broadcast group. In a waiting
// room the participant record goes too; once the countdown has begun the
// slot stays so positions never renumber, and a grace timer force-finishes
// the vacated participant if the race would otherwise stall.
func (c *Coordinator) LeaveRace(conn Conn, code string) {
	room := c.room(code)
	if room == nil {
		return
	}
	code = room.Code()
	c.unsubscribe(conn.Key(), code)

	userID := conn.Identity().UserID
	if room.Status() == models.StatusWaiting {
		if room.RemoveParticipant(userID) {
			doc := room.Snapshot()
			c.persistAsync(doc)
			c.broadcast(code, models.EventParticipantJoined, models.ParticipantJoinedData{
				Participants: doc.Participants,
				Race:         doc,
			})
			if len(doc.Participants) == 0 {
				c.removeRoom(code)
			}
		}
		return
	}

	c.armGraceTimer(room, userID)
}

// Disconnect handles a dropped connection: its matchmaking entry dies with
// it, and any room it was in sees a LeaveRace.
func (c *Coordinator) Disconnect(conn Conn) {
	c.queue.Cancel(conn.Key())
	c.mu.Lock()
	delete(c.searchers, conn.Key())
	code, inRoom := c.connRoom[conn.Key()]
	c.mu.Unlock()

	if inRoom {
		c.LeaveRace(conn, code)
	}
}

// armGraceTimer schedules the disconnect grace: if the vacated participant
// still has no finish time when it fires, they are finished at their current
// progress so the race can resolve.
func (c *Coordinator) armGraceTimer(room *race.Room, userID string) {
	code := room.Code()
	timer := c.clock.AfterFunc(constants.DisconnectGrace, func() {
		c.mu.Lock()
		if timers, ok := c.grace[code]; ok {
			delete(timers, userID)
		}
		c.mu.Unlock()

		if room.ForceFinish(userID) {
			doc := room.Snapshot()
			c.broadcast(code, models.EventProgressUpdated, models.ProgressUpdatedData{Participants: doc.Participants})
			c.finalizeIfDone(room)
		}
	})

	c.mu.Lock()
	if c.grace[code] == nil {
		c.grace[code] = make(map[string]clockwork.Timer)
	}
	if old, ok := c.grace[code][userID]; ok {
		old.Stop()
	}
	c.grace[code][userID] = timer
	c.mu.Unlock()
}

// finalizeIfDone completes the race once every participant has finished:
// final standings are persisted (one retry; losing them is user-visible),
// player statistics are updated, the terminal event goes out, and the room
// is torn down. Callers never mirror a finishing report themselves, so the
// standings document is the last write the store sees for the room.
func (c *Coordinator) finalizeIfDone(room *race.Room) {
	final, ok := room.TryFinalize()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.store.UpdateRace(ctx, final); err != nil {
		log.Warn().Err(err).Str("room", final.RoomCode).Msg("final standings write failed, retrying")
		if err := c.store.UpdateRace(ctx, final); err != nil {
			log.Error().Err(err).Str("room", final.RoomCode).Msg("final standings write failed twice, giving up")
		}
	}

	for _, p := range final.Participants {
		if p.IsBot {
			continue
		}
		if err := c.store.IncrementUserStats(ctx, p.UserID, p.Position == 1); err != nil {
			log.Warn().Err(err).Str("user", p.UserID).Msg("stats update failed")
		}
	}

	c.broadcast(final.RoomCode, models.EventRaceFinished, models.RaceFinishedData{Race: final})
	c.removeRoom(final.RoomCode)
}

// removeRoom tears down a room: remaining bot simulators stop, grace timers
// cancel, subscribers and the room itself leave the live maps. Teardown is
// synchronous so no stray timer fires against a finalized room.
func (c *Coordinator) removeRoom(code string) {
	c.mu.Lock()
	bots := c.bots[code]
	timers := c.grace[code]
	subs := c.subs[code]
	delete(c.bots, code)
	delete(c.grace, code)
	delete(c.subs, code)
	delete(c.rooms, code)
	for key := range subs {
		if c.connRoom[key] == code {
			delete(c.connRoom, key)
		}
	}
	c.mu.Unlock()

	for _, bot := range bots {
		bot.Stop()
	}
	for _, timer := range timers {
		timer.Stop()
	}
	log.Info().Str("room", code).Msg("race room removed")
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, race.ErrRoomNotFound):
		return "Race room not found"
	case errors.Is(err, race.ErrAlreadyStarted):
		return "Race has already started"
	case errors.Is(err, race.ErrRoomFull):
		return "Race room is full"
	case errors.Is(err, race.ErrNotHost):
		return "Only host can start the race"
	case errors.Is(err, race.ErrAlreadyQueued):
		return "Already searching for a race"
	case errors.Is(err, race.ErrValidation):
		return "Missing required fields"
	default:
		return err.Error()
	}
}
