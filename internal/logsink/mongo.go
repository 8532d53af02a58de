package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prana-labs/wellness-backend/internal/config"
	"github.com/prana-labs/wellness-backend/internal/model"
)

// MongoStore persists interaction logs and safety incidents in two
// append-capable collections.
type MongoStore struct {
	client   *mongo.Client
	logs     *mongo.Collection
	safety   *mongo.Collection
	database string
}

// NewMongoStore connects and pings MongoDB. Callers treat a nil store as
// "logging disabled".
func NewMongoStore(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		return nil, fmt.Errorf("logsink.NewMongoStore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("logsink.NewMongoStore: ping: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	slog.Info("connected to MongoDB", "database", cfg.MongoDatabase)

	return &MongoStore{
		client:   client,
		logs:     db.Collection(cfg.MongoCollectionLogs),
		safety:   db.Collection(cfg.MongoCollectionSafety),
		database: cfg.MongoDatabase,
	}, nil
}

// InsertInteraction appends one interaction log record.
func (m *MongoStore) InsertInteraction(ctx context.Context, rec model.InteractionLog) error {
	if _, err := m.logs.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("logsink.InsertInteraction: %w", err)
	}
	return nil
}

// InsertIncident appends one safety incident record.
func (m *MongoStore) InsertIncident(ctx context.Context, rec model.SafetyIncident) error {
	if _, err := m.safety.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("logsink.InsertIncident: %w", err)
	}
	return nil
}

// UpdateFeedback attaches user feedback to a previously logged interaction.
// Records are otherwise never mutated.
func (m *MongoStore) UpdateFeedback(ctx context.Context, queryID, feedback string) error {
	_, err := m.logs.UpdateOne(ctx,
		bson.M{"query_id": queryID},
		bson.M{"$set": bson.M{"feedback": feedback}},
	)
	if err != nil {
		return fmt.Errorf("logsink.UpdateFeedback: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Logger pairs the two async sinks with their backing store. A nil store
// turns both sinks into counted no-ops, matching a deployment without
// MongoDB configured.
type Logger struct {
	interactions *Sink[model.InteractionLog]
	incidents    *Sink[model.SafetyIncident]
	store        *MongoStore
}

// NewLogger creates the sinks. queueCapacity bounds each sink's in-flight
// work.
func NewLogger(store *MongoStore, queueCapacity int) *Logger {
	persistInteraction := func(ctx context.Context, rec model.InteractionLog) error {
		if store == nil {
			return nil
		}
		return store.InsertInteraction(ctx, rec)
	}
	persistIncident := func(ctx context.Context, rec model.SafetyIncident) error {
		if store == nil {
			return nil
		}
		return store.InsertIncident(ctx, rec)
	}

	return &Logger{
		interactions: NewSink("interaction_logs", queueCapacity, persistInteraction),
		incidents:    NewSink("safety_incidents", queueCapacity, persistIncident),
		store:        store,
	}
}

// LogInteraction enqueues an interaction record off the request path.
func (l *Logger) LogInteraction(rec model.InteractionLog) {
	l.interactions.Enqueue(rec)
}

// LogIncident enqueues a safety incident record off the request path.
func (l *Logger) LogIncident(rec model.SafetyIncident) {
	l.incidents.Enqueue(rec)
}

// RecordFeedback updates a logged interaction synchronously; the feedback
// endpoint is not latency sensitive.
func (l *Logger) RecordFeedback(ctx context.Context, queryID, feedback string) error {
	if l.store == nil {
		slog.Info("feedback received (no log store configured)", "query_id", queryID, "feedback", feedback)
		return nil
	}
	return l.store.UpdateFeedback(ctx, queryID, feedback)
}

// DroppedCounts reports how many records each sink has discarded.
func (l *Logger) DroppedCounts() (interactions, incidents uint64) {
	return l.interactions.Dropped(), l.incidents.Dropped()
}

// Close drains both sinks and disconnects the store.
func (l *Logger) Close(ctx context.Context) error {
	errInt := l.interactions.Close(ctx)
	errInc := l.incidents.Close(ctx)
	if l.store != nil {
		if err := l.store.Close(ctx); err != nil {
			return err
		}
	}
	if errInt != nil {
		return errInt
	}
	return errInc
}
