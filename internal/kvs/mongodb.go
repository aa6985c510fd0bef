package kvs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const collectionName = "gateway_kvs"

// MongoStore is a MongoDB-backed Store so multiple gateway instances share
// replay and rate-limit state. Document expiry is enforced both by a TTL
// index and by expiresAt filters, since the TTL reaper runs on a ~60s cycle.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type kvDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value,omitempty"`
	Counter   int64     `bson:"counter,omitempty"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// NewMongoStore connects to MongoDB and ensures the TTL index exists.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("kvs: connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("kvs: ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collectionName)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("kvs: create ttl index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

// Incr atomically increments the counter at key, setting ttl on first write.
// An expired-but-unreaped document is removed first; the window between the
// delete and the upsert can lose a count, which is acceptable for rate
// limiting (best-effort counting, never for replay protection).
func (s *MongoStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	_, _ = s.coll.DeleteOne(ctx, bson.M{"_id": key, "expiresAt": bson.M{"$lte": now}})

	var doc kvDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{
			"$inc":         bson.M{"counter": 1},
			"$setOnInsert": bson.M{"expiresAt": now.Add(ttl)},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("kvs: incr %q: %w", key, err)
	}
	return doc.Counter, nil
}

// SetNX inserts key=value iff absent. The unique _id index makes the insert
// conditional; a duplicate that has already expired is replaced in place.
func (s *MongoStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := time.Now()

	_, err := s.coll.InsertOne(ctx, kvDocument{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
	})
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("kvs: setnx %q: %w", key, err)
	}

	// Key exists. Claim it only if the existing document has expired.
	res, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": key, "expiresAt": bson.M{"$lte": now}},
		kvDocument{Key: key, Value: value, ExpiresAt: now.Add(ttl)},
	)
	if err != nil {
		return false, fmt.Errorf("kvs: setnx replace %q: %w", key, err)
	}
	return res.ModifiedCount == 1, nil
}

// Get returns the value at key and whether it exists.
func (s *MongoStore) Get(ctx context.Context, key string) (string, bool, error) {
	var doc kvDocument
	err := s.coll.FindOne(ctx, bson.M{
		"_id":       key,
		"expiresAt": bson.M{"$gt": time.Now()},
	}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvs: get %q: %w", key, err)
	}
	if doc.Value != "" {
		return doc.Value, true, nil
	}
	return strconv.FormatInt(doc.Counter, 10), true, nil
}

// Ping reports whether MongoDB is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
