package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/velocitype/go-socket-velocitype/internal/models"
	"github.com/velocitype/go-socket-velocitype/internal/race"
)

const defaultDatabase = "velocitype"

// Connect dials MongoDB with a bounded handshake.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

// MongoStore is the persistence collaborator: race documents mirrored from
// memory, user stat counters, and the typing-text content source.
type MongoStore struct {
	races *mongo.Collection
	users *mongo.Collection
	texts *mongo.Collection
}

func NewMongoStore(client *mongo.Client) *MongoStore {
	database := client.Database(defaultDatabase)
	return &MongoStore{
		races: database.Collection("races"),
		users: database.Collection("users"),
		texts: database.Collection("typingtexts"),
	}
}

func (s *MongoStore) InsertRace(ctx context.Context, doc models.Race) error {
	if _, err := s.races.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting race %s: %w", doc.RoomCode, err)
	}
	return nil
}

// UpdateRace replaces the stored document with the in-memory snapshot. The
// in-memory copy is authoritative while the race is live, so a full replace
// is always correct.
func (s *MongoStore) UpdateRace(ctx context.Context, doc models.Race) error {
	filter := bson.M{"roomCode": doc.RoomCode}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.races.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("updating race %s: %w", doc.RoomCode, err)
	}
	return nil
}

func (s *MongoStore) GetRaceByCode(ctx context.Context, code string) (models.Race, error) {
	var doc models.Race
	err := s.races.FindOne(ctx, bson.M{"roomCode": strings.ToUpper(code)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Race{}, race.ErrRoomNotFound
	}
	if err != nil {
		return models.Race{}, fmt.Errorf("fetching race %s: %w", code, err)
	}
	return doc, nil
}

func (s *MongoStore) RaceCodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.races.CountDocuments(ctx, bson.M{"roomCode": strings.ToUpper(code)})
	if err != nil {
		return false, fmt.Errorf("checking race code %s: %w", code, err)
	}
	return n > 0, nil
}

// ListUserRaces returns a user's finished races, newest first.
func (s *MongoStore) ListUserRaces(ctx context.Context, userID string, limit int64) ([]models.Race, error) {
	filter := bson.M{
		"participants.userId": userID,
		"status":              models.StatusFinished,
	}
	opts := options.Find().SetSort(bson.D{{Key: "endedAt", Value: -1}}).SetLimit(limit)
	cursor, err := s.races.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing races for %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var docs []models.Race
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding races for %s: %w", userID, err)
	}
	return docs, nil
}

// IncrementUserStats bumps the races-played counter, and races-won for the
// winner. Bots never reach this path.
func (s *MongoStore) IncrementUserStats(ctx context.Context, userID string, won bool) error {
	inc := bson.M{"stats.totalRaces": 1}
	if won {
		inc["stats.racesWon"] = 1
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$inc": inc})
	if err != nil {
		return fmt.Errorf("updating stats for %s: %w", userID, err)
	}
	return nil
}

// RandomText samples one typing text for the mode, preferring a language
// match and falling back to any text of the mode.
func (s *MongoStore) RandomText(ctx context.Context, mode models.RaceMode, language string) (string, error) {
	text, err := s.sampleText(ctx, bson.M{"mode": mode, "language": language})
	if err == nil {
		return text, nil
	}
	return s.sampleText(ctx, bson.M{"mode": mode})
}

func (s *MongoStore) sampleText(ctx context.Context, match bson.M) (string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: 1}}}},
	}
	cursor, err := s.texts.Aggregate(ctx, pipeline)
	if err != nil {
		return "", fmt.Errorf("sampling typing text: %w", err)
	}
	defer cursor.Close(ctx)

	if cursor.Next(ctx) {
		var doc models.TypingText
		if err := cursor.Decode(&doc); err != nil {
			return "", fmt.Errorf("decoding typing text: %w", err)
		}
		return doc.Content, nil
	}
	return "", mongo.ErrNoDocuments
}
