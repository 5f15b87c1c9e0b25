package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore keeps one document per path in a single collection, keyed by
// the path itself. Subscribe needs a replica set for change streams.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
	logger *zap.Logger
}

type mongoDocument struct {
	Path      string    `bson:"_id"`
	Value     bson.Raw  `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoChangeEvent struct {
	OperationType string         `bson:"operationType"`
	FullDocument  *mongoDocument `bson:"fullDocument"`
}

func NewMongoStore(ctx context.Context, mongoURI, dbName string, logger *zap.Logger) (*MongoStore, error) {
	if mongoURI == "" || dbName == "" {
		return nil, errors.New("mongo: uri and database are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := options.Client().ApplyURI(mongoURI)
	if strings.HasPrefix(mongoURI, "mongodb+srv://") {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS12,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("MongoDB connected", zap.String("db", dbName))
	return &MongoStore{
		client: client,
		col:    client.Database(dbName).Collection("documents"),
		logger: logger.Named("mongo"),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Read(ctx context.Context, path string) (Snapshot, error) {
	var doc mongoDocument
	err := s.col.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return bsonSnapshot(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: read %s: %w", path, err)
	}
	return bsonSnapshot(doc.Value), nil
}

func (s *MongoStore) Write(ctx context.Context, path string, v interface{}) error {
	value, err := bson.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}

	if bsonSnapshot(value).Exists() {
		_, err = s.col.ReplaceOne(ctx,
			bson.M{"_id": path},
			mongoDocument{Path: path, Value: value, UpdatedAt: time.Now().UTC()},
			options.Replace().SetUpsert(true),
		)
	} else {
		_, err = s.col.DeleteOne(ctx, bson.M{"_id": path})
	}
	if err != nil {
		return fmt.Errorf("mongo: write %s: %w", path, err)
	}
	return nil
}

func (s *MongoStore) Subscribe(ctx context.Context, path string, onChange func(Snapshot)) (func(), error) {
	// Open the stream before the initial read so nothing between the two is lost.
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: path}}}}}
	stream, err := s.col.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("mongo: watch %s: %w", path, err)
	}

	snap, err := s.Read(ctx, path)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}
	onChange(snap)

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go s.watch(watchCtx, stream, path, onChange)

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func (s *MongoStore) watch(ctx context.Context, stream *mongo.ChangeStream, path string, onChange func(Snapshot)) {
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var ev mongoChangeEvent
		if err := stream.Decode(&ev); err != nil {
			s.logger.Warn("decode change event", zap.String("path", path), zap.Error(err))
			continue
		}
		switch ev.OperationType {
		case "delete":
			onChange(bsonSnapshot(nil))
		case "insert", "replace", "update":
			if ev.FullDocument == nil {
				continue
			}
			onChange(bsonSnapshot(ev.FullDocument.Value))
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("change stream ended", zap.String("path", path), zap.Error(err))
	}
}

type bsonSnapshot bson.Raw

func (s bsonSnapshot) Exists() bool {
	// An empty BSON document is five bytes: the length prefix and a terminator.
	return len(s) > 5
}

func (s bsonSnapshot) Decode(v interface{}) error {
	if !s.Exists() {
		return nil
	}
	return bson.Unmarshal(s, v)
}
