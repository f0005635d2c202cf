package coordinator

import (
	"context"
	"math/rand/v2"

	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/matchmaking"
	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

const defaultLanguage = "english"

// FindRace enrolls the player in matchmaking. Grouping is attempted right
// away and again on the queue's delay; if nothing forms before the queue
// timeout, the expiry path builds the player a bot-filled room instead.
func (c *Coordinator) FindRace(conn Conn, id models.Identity, mode models.RaceMode) {
	if mode != models.ModeCode {
		mode = models.ModeNormal
	}

	c.mu.Lock()
	c.searchers[conn.Key()] = conn
	c.mu.Unlock()

	if err := c.queue.Enqueue(conn.Key(), id, mode); err != nil {
		c.sendError(conn, err.Error())
		return
	}

	conn.Send(models.Message{
		Type: models.EventMatchmakingStatus,
		Data: models.MatchmakingStatusData{Status: "searching"},
		Time: c.clock.Now(),
	})

	c.queue.TryGroup(mode)
}

// CancelMatchmaking withdraws the connection's queue entry, if any.
func (c *Coordinator) CancelMatchmaking(conn Conn) {
	c.queue.Cancel(conn.Key())
	c.mu.Lock()
	delete(c.searchers, conn.Key())
	c.mu.Unlock()

	conn.Send(models.Message{
		Type: models.EventMatchmakingStatus,
		Data: models.MatchmakingStatusData{Status: "cancelled"},
		Time: c.clock.Now(),
	})
}

// handleGroup turns a batch of queue entries into a running race room. The
// first grouped player becomes host; the countdown starts immediately.
func (c *Coordinator) handleGroup(entries []*matchmaking.Entry) {
	room, conns, ok := c.buildMatchmadeRoom(entries, 0)
	if !ok {
		return
	}
	c.announceAndCount(room, conns)
}

// handleExpire builds a bot-filled room for a player nobody grouped with.
func (c *Coordinator) handleExpire(entry *matchmaking.Entry) {
	botCount := constants.MinBotFill + rand.IntN(constants.MaxBotFill-constants.MinBotFill+1)
	room, conns, ok := c.buildMatchmadeRoom([]*matchmaking.Entry{entry}, botCount)
	if !ok {
		return
	}
	c.announceAndCount(room, conns)
}

func (c *Coordinator) buildMatchmadeRoom(entries []*matchmaking.Entry, botCount int) (*race.Room, []Conn, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	mode := entries[0].Mode
	entries, conns := c.takeSearchers(entries)
	if len(entries) == 0 {
		log.Warn().Str("mode", string(mode)).Msg("no queued players left by room creation")
		return nil, nil, false
	}
	// a group whittled down to one player races bots, same as an expired wait
	if len(entries) == 1 && botCount == 0 {
		botCount = constants.MinBotFill + rand.IntN(constants.MaxBotFill-constants.MinBotFill+1)
	}

	text, err := c.store.RandomText(ctx, mode, defaultLanguage)
	if err != nil {
		log.Error().Err(err).Str("mode", string(mode)).Msg("no typing text available for matchmade race")
		c.failSearchers(conns, "No race text available, try again")
		return nil, nil, false
	}

	code, err := c.generateRoomCode(ctx)
	if err != nil {
		log.Error().Err(err).Msg("room code generation failed for matchmade race")
		c.failSearchers(conns, "Could not create a race room, try again")
		return nil, nil, false
	}

	room := race.NewRoom(c.clock, code, entries[0].Identity, mode, defaultLanguage, text, constants.MaxRoomCapacity)
	for _, e := range entries[1:] {
		if err := room.AddParticipant(e.Identity); err != nil {
			log.Warn().Err(err).Str("user", e.Identity.UserID).Str("room", code).Msg("grouped player not admitted")
		}
	}

	taken := make(map[string]bool)
	for _, p := range room.Snapshot().Participants {
		taken[p.Username] = true
	}
	for i := 0; i < botCount; i++ {
		bot := race.NewBotParticipant(taken)
		taken[bot.Username] = true
		if err := room.AddBot(bot); err != nil {
			log.Warn().Err(err).Str("room", code).Msg("bot not admitted")
		}
	}

	c.registerRoom(room)
	for _, conn := range conns {
		c.subscribe(conn, code)
	}

	if err := c.store.InsertRace(ctx, room.Snapshot()); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("matchmade race insert failed")
	}

	log.Info().Str("room", code).Int("players", len(entries)).Int("bots", botCount).Msg("matchmade race room created")
	return room, conns, true
}

func (c *Coordinator) announceAndCount(room *race.Room, conns []Conn) {
	snapshot := room.Snapshot()
	for _, conn := range conns {
		conn.Send(models.Message{
			Type:     models.EventRaceFound,
			RoomCode: room.Code(),
			Data:     models.RaceFoundData{Race: snapshot},
			Time:     c.clock.Now(),
		})
	}
	c.startCountdown(room)
}

// takeSearchers claims the searching connections belonging to the entries.
// An entry whose connection dropped between leaving the queue and arriving
// here is discarded, so a room never holds a participant nobody is behind.
func (c *Coordinator) takeSearchers(entries []*matchmaking.Entry) ([]*matchmaking.Entry, []Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var live []*matchmaking.Entry
	var conns []Conn
	for _, e := range entries {
		conn, ok := c.searchers[e.ConnKey]
		if !ok {
			log.Warn().Str("user", e.Identity.UserID).Msg("queued player gone before room creation")
			continue
		}
		delete(c.searchers, e.ConnKey)
		live = append(live, e)
		conns = append(conns, conn)
	}
	return live, conns
}

func (c *Coordinator) failSearchers(conns []Conn, message string) {
	for _, conn := range conns {
		c.sendError(conn, message)
	}
}
