package race

import "errors"

var (
	ErrRoomNotFound         = errors.New("race room not found")
	ErrRoomFull             = errors.New("race room is full")
	ErrAlreadyStarted       = errors.New("race has already started")
	ErrNotHost              = errors.New("only host can start the race")
	ErrAlreadyQueued        = errors.New("already searching for a race")
	ErrDuplicateParticipant = errors.New("participant already in room")
	ErrValidation           = errors.New("missing required fields")
)
