package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/coordinator"
	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

// API is the thin REST surface over the coordinator: create a race room,
// join by code, fetch by code, list a user's history.
type API struct {
	coord *coordinator.Coordinator
}

func NewAPI(coord *coordinator.Coordinator) *API {
	return &API{coord: coord}
}

// Register mounts the API routes on the mux.
func (a *API) Register(mux *http.ServeMux, origin string) {
	mux.HandleFunc("POST /api/races", cors(origin, a.handleCreateRace))
	mux.HandleFunc("POST /api/races/join", cors(origin, a.handleJoinRace))
	mux.HandleFunc("GET /api/races/history", cors(origin, a.handleHistory))
	mux.HandleFunc("GET /api/races/{roomCode}", cors(origin, a.handleGetRace))
	mux.HandleFunc("OPTIONS /api/", cors(origin, func(w http.ResponseWriter, r *http.Request) {}))
}

func (a *API) handleCreateRace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string          `json:"userId"`
		Username    string          `json:"username"`
		Mode        models.RaceMode `json:"mode"`
		Language    string          `json:"language"`
		TextContent string          `json:"textContent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.TextContent == "" {
		writeError(w, http.StatusBadRequest, "Text content is required")
		return
	}

	identity := models.Identity{UserID: body.UserID, Username: body.Username}
	doc, err := a.coord.CreateRoom(r.Context(), identity, body.Mode, body.Language, body.TextContent)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) handleJoinRace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomCode string `json:"roomCode"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.RoomCode == "" {
		writeError(w, http.StatusBadRequest, "Room code is required")
		return
	}

	identity := models.Identity{UserID: body.UserID, Username: body.Username}
	doc, err := a.coord.JoinRoom(r.Context(), identity, body.RoomCode)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleGetRace(w http.ResponseWriter, r *http.Request) {
	doc, err := a.coord.GetRace(r.Context(), r.PathValue("roomCode"))
	if err != nil {
		writeCoordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Missing userId")
		return
	}
	docs, err := a.coord.History(r.Context(), userID)
	if err != nil {
		writeCoordError(w, err)
		return
	}
	if docs == nil {
		docs = []models.Race{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func writeCoordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, race.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "Race room not found")
	case errors.Is(err, race.ErrAlreadyStarted):
		writeError(w, http.StatusBadRequest, "Race has already started")
	case errors.Is(err, race.ErrRoomFull):
		writeError(w, http.StatusBadRequest, "Race room is full")
	case errors.Is(err, race.ErrValidation):
		writeError(w, http.StatusBadRequest, "Missing required fields")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}

// cors applies the single-origin policy to the REST surface.
func cors(origin string, handler http.HandlerFunc) http.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler(w, r)
	}
}
