package constants

import "time"

// Race room configuration constants
const (
	MaxRoomCapacity = 5
	RoomCodeLength  = 6
	RoomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	CountdownStart = 5
	CountdownTick  = time.Second
)

// Matchmaking windows
const (
	MinGroupSize    = 2
	MaxGroupSize    = 5
	GroupingDelay   = time.Second
	QueueTimeout    = 10 * time.Second
	DisconnectGrace = 30 * time.Second

	MinBotFill = 1
	MaxBotFill = 3
)

// Bot simulator tuning. Speeds are words per minute; accuracy bounds the
// uniform draw a bot reports each step.
const (
	BotMinAccuracy = 90
	BotMaxAccuracy = 98

	// jitter applied to both the step schedule and the announced speed
	BotSpeedJitter = 0.1

	// mirror bot progress to the store only every Nth word
	BotPersistEveryWords = 3
)

var BotNames = []string{
	"SpeedyBot",
	"TypeMaster",
	"CodeNinja",
	"FastFingers",
	"KeyboardKing",
	"SwiftTyper",
	"RapidWriter",
	"QuickKeys",
	"TurboTypist",
	"FlashTyper",
	"LightningKeys",
	"ThunderType",
	"RocketFingers",
	"BlazeTyper",
	"NitroWriter",
	"HyperType",
	"VelocityBot",
	"AceTyper",
	"ProKeys",
	"EliteWriter",
}
