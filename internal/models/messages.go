package models

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> coordinator).
const (
	EventFindRace          = "find-race"
	EventCancelMatchmaking = "cancel-matchmaking"
	EventJoinRace          = "join-race"
	EventStartRace         = "start-race"
	EventUpdateProgress    = "update-progress"
	EventFinishRace        = "finish-race"
	EventLeaveRace         = "leave-race"
)

// Outbound event names (coordinator -> clients).
const (
	EventMatchmakingStatus = "matchmaking-status"
	EventRaceFound         = "race-found"
	EventRaceError         = "race-error"
	EventParticipantJoined = "participant-joined"
	EventRaceCountdown     = "race-countdown"
	EventRaceStarted       = "race-started"
	EventProgressUpdated   = "progress-updated"
	EventRaceFinished      = "race-finished"
)

// ClientMessage is the inbound envelope. The payload stays raw until the
// dispatch table knows which typed struct to decode it into.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message is the outbound envelope broadcast over the websocket.
type Message struct {
	Type     string      `json:"type"`
	RoomCode string      `json:"roomCode,omitempty"`
	Data     interface{} `json:"data"`
	Time     time.Time   `json:"timestamp"`
}

type FindRacePayload struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Mode     RaceMode `json:"mode"`
}

type JoinRacePayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type StartRacePayload struct {
	RoomCode string `json:"roomCode"`
}

type UpdateProgressPayload struct {
	RoomCode string  `json:"roomCode"`
	UserID   string  `json:"userId"`
	Progress int     `json:"progress"`
	WPM      float64 `json:"wpm"`
	Accuracy int     `json:"accuracy"`
}

type FinishRacePayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
}

type LeaveRacePayload struct {
	RoomCode string `json:"roomCode"`
}

type MatchmakingStatusData struct {
	Status string `json:"status"`
}

type RaceFoundData struct {
	Race Race `json:"room"`
}

type RaceErrorData struct {
	Message string `json:"message"`
}

type ParticipantJoinedData struct {
	Participants []Participant `json:"participants"`
	Race         Race          `json:"room"`
}

type CountdownData struct {
	Countdown int `json:"countdown"`
}

type RaceStartedData struct {
	Race Race `json:"room"`
}

type ProgressUpdatedData struct {
	Participants []Participant `json:"participants"`
}

type RaceFinishedData struct {
	Race Race `json:"room"`
}
