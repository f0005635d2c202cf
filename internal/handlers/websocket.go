package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/coordinator"
	"github.com/velocitype/go-socket-velocitype/internal/models"
)

const eventTimeout = 5 * time.Second

// WS is the websocket endpoint. It upgrades the connection, runs the read
// loop, and dispatches each inbound event to the coordinator.
type WS struct {
	coord    *coordinator.Coordinator
	upgrader websocket.Upgrader
}

func NewWS(coord *coordinator.Coordinator, allowedOrigin string) *WS {
	return &WS{
		coord: coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

func (ws *WS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := models.Identity{
		UserID:   r.URL.Query().Get("userId"),
		Username: r.URL.Query().Get("username"),
	}
	if identity.UserID == "" {
		http.Error(w, "Missing userId", http.StatusBadRequest)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, identity)
	log.Info().Str("user", identity.UserID).Str("username", identity.Username).Msg("client connected")

	go client.writePump()
	ws.readLoop(client)
}

func (ws *WS) readLoop(client *Client) {
	defer func() {
		ws.coord.Disconnect(client)
		client.Close()
		log.Info().Str("user", client.identity.UserID).Msg("client disconnected")
	}()

	for {
		var msg models.ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user", client.identity.UserID).Msg("websocket read error")
			}
			return
		}
		ws.dispatch(client, msg)
	}
}

// dispatch matches an inbound event against its typed payload and forwards
// it. Malformed payloads come back to the sender as race-error events; they
// never take the connection down.
func (ws *WS) dispatch(client *Client, msg models.ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch msg.Type {
	case models.EventFindRace:
		var p models.FindRacePayload
		if !decode(client, msg.Payload, &p) {
			return
		}
		ws.coord.FindRace(client, identityOr(client, p.UserID, p.Username), p.Mode)

	case models.EventCancelMatchmaking:
		ws.coord.CancelMatchmaking(client)

	case models.EventJoinRace:
		var p models.JoinRacePayload
		if !decode(client, msg.Payload, &p) {
			return
		}
		ws.coord.JoinRace(ctx, client, identityOr(client, p.UserID, p.Username), p.RoomCode)

	case models.EventStartRace:
		var p models.StartRacePayload
		if !decode(client, msg.Payload, &p) {
			return
		}
		ws.coord.StartRace(client, p.RoomCode)

	case models.EventUpdateProgress:
		var p models.UpdateProgressPayload
		if !decode(client, msg.Payload, &p) {
			return
		}
		userID := p.UserID
		if userID == "" {
			userID = client.identity.UserID
		}
		ws.coord.SubmitProgress(p.RoomCode, userID, p.Progress, p.WPM, p.Accuracy)

	case models.EventFinishRace:
		var p models.FinishRacePayload
		if !decode(client, msg.Payload, &p) {
			return
		}
		userID := p.UserID
		if userID == "" {
			userID = client.identity.UserID
		}
		ws.coord.FinishRace(p.RoomCode, userID)

	case models.EventLeaveRace:
		var p models.LeaveRacePayload
		if !decode(client, msg.Payload, &p) {
			return
		}
		ws.coord.LeaveRace(client, p.RoomCode)

	default:
		log.Debug().Str("type", msg.Type).Str("user", client.identity.UserID).Msg("unknown event type")
	}
}

func decode(client *Client, raw json.RawMessage, dst interface{}) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Debug().Err(err).Str("user", client.identity.UserID).Msg("malformed event payload")
		client.Send(models.Message{
			Type: models.EventRaceError,
			Data: models.RaceErrorData{Message: "Malformed event payload"},
			Time: time.Now(),
		})
		return false
	}
	return true
}

// identityOr prefers the payload identity and falls back to the identity the
// connection authenticated with.
func identityOr(client *Client, userID, username string) models.Identity {
	if userID == "" {
		return client.identity
	}
	return models.Identity{UserID: userID, Username: username}
}
