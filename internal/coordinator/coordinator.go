package coordinator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/constants"
	"github.com/velocitype/go-socket-velocitype/internal/matchmaking"
	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

// persistTimeout bounds every store write issued off the gameplay path.
const persistTimeout = 5 * time.Second

// Store is the persistence collaborator the coordinator writes race
// documents and user statistics through, and reads typing texts from.
type Store interface {
	InsertRace(ctx context.Context, doc models.Race) error
	UpdateRace(ctx context.Context, doc models.Race) error
	GetRaceByCode(ctx context.Context, code string) (models.Race, error)
	RaceCodeExists(ctx context.Context, code string) (bool, error)
	ListUserRaces(ctx context.Context, userID string, limit int64) ([]models.Race, error)
	IncrementUserStats(ctx context.Context, userID string, won bool) error
	RandomText(ctx context.Context, mode models.RaceMode, language string) (string, error)
}

// Conn is one connected client as the coordinator sees it. Send must not
// block; the websocket layer buffers per connection.
type Conn interface {
	Key() string
	Identity() models.Identity
	Send(msg models.Message)
}

// Coordinator owns the live race rooms and the matchmaking queue for the
// process lifetime. Connection handlers hold a reference and feed it events;
// nothing else touches room or queue state.
type Coordinator struct {
	clock clockwork.Clock
	store Store
	queue *matchmaking.Queue

	mu        sync.RWMutex
	rooms     map[string]*race.Room
	subs      map[string]map[string]Conn
	bots      map[string]map[string]*race.Bot
	grace     map[string]map[string]clockwork.Timer
	connRoom  map[string]string
	searchers map[string]Conn
}

func New(clock clockwork.Clock, store Store) *Coordinator {
	c := &Coordinator{
		clock:     clock,
		store:     store,
		rooms:     make(map[string]*race.Room),
		subs:      make(map[string]map[string]Conn),
		bots:      make(map[string]map[string]*race.Bot),
		grace:     make(map[string]map[string]clockwork.Timer),
		connRoom:  make(map[string]string),
		searchers: make(map[string]Conn),
	}
	c.queue = matchmaking.NewQueue(clock, c.handleGroup, c.handleExpire)
	return c
}

// Run drives the periodic matchmaking pass until the context ends.
func (c *Coordinator) Run(ctx context.Context) {
	c.queue.Run(ctx)
}

// GetRace returns the live snapshot when the room is still in memory and
// falls back to the store for finished races.
func (c *Coordinator) GetRace(ctx context.Context, code string) (models.Race, error) {
	if room := c.room(code); room != nil {
		return room.Snapshot(), nil
	}
	return c.store.GetRaceByCode(ctx, code)
}

// History lists a user's finished races, newest first.
func (c *Coordinator) History(ctx context.Context, userID string) ([]models.Race, error) {
	return c.store.ListUserRaces(ctx, userID, 20)
}

func (c *Coordinator) room(code string) *race.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[strings.ToUpper(code)]
}

func (c *Coordinator) registerRoom(room *race.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room.Code()] = room
}

func (c *Coordinator) subscribe(conn Conn, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[code] == nil {
		c.subs[code] = make(map[string]Conn)
	}
	c.subs[code][conn.Key()] = conn
	c.connRoom[conn.Key()] = code
}

func (c *Coordinator) unsubscribe(connKey, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if group, ok := c.subs[code]; ok {
		delete(group, connKey)
	}
	if c.connRoom[connKey] == code {
		delete(c.connRoom, connKey)
	}
}

// broadcast fans a message out to every subscriber of the room. The data is
// always a snapshot taken under the room lock, so members never see a torn
// participant list.
func (c *Coordinator) broadcast(code, event string, data interface{}) {
	c.mu.RLock()
	conns := make([]Conn, 0, len(c.subs[code]))
	for _, conn := range c.subs[code] {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()

	msg := models.Message{
		Type:     event,
		RoomCode: code,
		Data:     data,
		Time:     c.clock.Now(),
	}
	for _, conn := range conns {
		conn.Send(msg)
	}
}

func (c *Coordinator) sendError(conn Conn, message string) {
	conn.Send(models.Message{
		Type: models.EventRaceError,
		Data: models.RaceErrorData{Message: message},
		Time: c.clock.Now(),
	})
}

// persistAsync mirrors a snapshot to the store without blocking gameplay.
// Failures are logged and swallowed; the in-memory room stays authoritative.
func (c *Coordinator) persistAsync(doc models.Race) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := c.store.UpdateRace(ctx, doc); err != nil {
			log.Warn().Err(err).Str("room", doc.RoomCode).Msg("race mirror write failed")
		}
	}()
}

// generateRoomCode draws fixed-length codes until one is free in the store.
func (c *Coordinator) generateRoomCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := randomCode(constants.RoomCodeLength)
		exists, err := c.store.RaceCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("checking room code: %w", err)
		}
		c.mu.RLock()
		_, live := c.rooms[code]
		c.mu.RUnlock()
		if !exists && !live {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique room code")
}

func randomCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = constants.RoomCodeCharset[rand.IntN(len(constants.RoomCodeCharset))]
	}
	return string(b)
}
