package models

import "time"

type RaceStatus string

const (
	StatusWaiting   RaceStatus = "waiting"
	StatusCountdown RaceStatus = "countdown"
	StatusStarted   RaceStatus = "started"
	StatusFinished  RaceStatus = "finished"
)

type RaceMode string

const (
	ModeNormal RaceMode = "normal"
	ModeCode   RaceMode = "code"
)

type BotDifficulty string

const (
	BotEasy   BotDifficulty = "easy"
	BotMedium BotDifficulty = "medium"
	BotHard   BotDifficulty = "hard"
)

// Identity is the authenticated user identity handed to us by the identity
// provider. Bots get synthetic identities.
type Identity struct {
	UserID   string `bson:"userId" json:"userId"`
	Username string `bson:"username" json:"username"`
}

// Participant is one entrant in a race room, human or bot.
type Participant struct {
	UserID        string        `bson:"userId" json:"userId"`
	Username      string        `bson:"username" json:"username"`
	IsBot         bool          `bson:"isBot" json:"isBot"`
	BotDifficulty BotDifficulty `bson:"botDifficulty,omitempty" json:"botDifficulty,omitempty"`
	WPM           float64       `bson:"wpm" json:"wpm"`
	Accuracy      int           `bson:"accuracy" json:"accuracy"`
	Progress      int           `bson:"progress" json:"progress"`
	Position      int           `bson:"position" json:"position"`
	FinishedAt    *time.Time    `bson:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}

// Race is the room document mirrored to the persistence store. The in-memory
// room is authoritative while the race is live.
type Race struct {
	RoomCode     string        `bson:"roomCode" json:"roomCode"`
	HostID       string        `bson:"hostId" json:"hostId"`
	Mode         RaceMode      `bson:"mode" json:"mode"`
	Language     string        `bson:"language" json:"language"`
	Participants []Participant `bson:"participants" json:"participants"`
	Status       RaceStatus    `bson:"status" json:"status"`
	TextContent  string        `bson:"textContent" json:"textContent"`
	StartedAt    *time.Time    `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	EndedAt      *time.Time    `bson:"endedAt,omitempty" json:"endedAt,omitempty"`
	CreatedAt    time.Time     `bson:"createdAt" json:"createdAt"`
}

// UserStats is the slice of the user document this engine updates on
// finalize. Rating systems are out of scope; only counters move.
type UserStats struct {
	TotalRaces int `bson:"totalRaces" json:"totalRaces"`
	RacesWon   int `bson:"racesWon" json:"racesWon"`
}

// TypingText is a content-source document: the text typed in a race.
type TypingText struct {
	Content  string   `bson:"content" json:"content"`
	Mode     RaceMode `bson:"mode" json:"mode"`
	Language string   `bson:"language" json:"language"`
}
