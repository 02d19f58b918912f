package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "querygenie"
	mongoCollection      = "settings"
)

// MongoStore keeps one document per slot: {_id: slot, value: text}.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type slotDoc struct {
	Slot  string `bson:"_id"`
	Value string `bson:"value"`
}

// OpenMongoStore connects to rawURL. The database name is taken from the URL
// path and defaults to "querygenie".
func OpenMongoStore(ctx context.Context, rawURL string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(rawURL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(mongoDatabase(rawURL)).Collection(mongoCollection),
	}, nil
}

func mongoDatabase(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func (s *MongoStore) Get(ctx context.Context, slot string) (string, error) {
	var doc slotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": slot}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", slot, err)
	}
	return doc.Value, nil
}

func (s *MongoStore) Set(ctx context.Context, slot, value string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": slot},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", slot, err)
	}
	return nil
}

func (s *MongoStore) Remove(ctx context.Context, slot string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": slot}); err != nil {
		return fmt.Errorf("remove %s: %w", slot, err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
