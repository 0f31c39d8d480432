package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrAlreadyFinished = errors.New("record already has a result")
)

// MongoStore keeps Records in a MongoDB collection keyed by record id.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// EnsureCollection creates the collection with change stream pre-images
// enabled, so delete events still carry the deleted record's storagePath.
func EnsureCollection(ctx context.Context, db *mongo.Database, name string) (*mongo.Collection, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	preImages := bson.M{"enabled": true}
	if len(names) == 0 {
		opts := options.CreateCollection().SetChangeStreamPreAndPostImages(preImages)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return nil, fmt.Errorf("create collection %s: %w", name, err)
		}
	} else {
		cmd := bson.D{{Key: "collMod", Value: name}, {Key: "changeStreamPreAndPostImages", Value: preImages}}
		if err := db.RunCommand(ctx, cmd).Err(); err != nil {
			return nil, fmt.Errorf("enable pre-images on %s: %w", name, err)
		}
	}

	coll := db.Collection(name)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "timeCreated", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create owner index: %w", err)
	}
	return coll, nil
}

func (s *MongoStore) Insert(ctx context.Context, rec Record) error {
	if rec.TimeCreated.IsZero() {
		rec.TimeCreated = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.IsTerminal() {
		return ErrAlreadyFinished
	}

	if _, err := s.collection.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (Record, error) {
	raw, err := s.collection.FindOne(ctx, bson.M{"_id": id}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return DecodeRecord(raw)
}

// FindLatestByOwner returns the most recently created record of ownerID
// created at or after since.
func (s *MongoStore) FindLatestByOwner(ctx context.Context, ownerID string, since time.Time) (Record, error) {
	filter := bson.M{"ownerId": ownerID, "timeCreated": bson.M{"$gte": since}}
	opts := options.FindOne().SetSort(bson.D{{Key: "timeCreated", Value: -1}})

	raw, err := s.collection.FindOne(ctx, filter, opts).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return DecodeRecord(raw)
}

func (s *MongoStore) SetTranslations(ctx context.Context, id string, translations map[string]string) error {
	if translations == nil {
		translations = map[string]string{}
	}
	return s.finish(ctx, id, bson.M{"translations": translations})
}

func (s *MongoStore) SetError(ctx context.Context, id string, marker string) error {
	return s.finish(ctx, id, bson.M{"error": marker})
}

// finish applies the single terminal update. The filter only matches a
// record that has neither result field, so concurrent redeliveries of the
// same event cannot both write.
func (s *MongoStore) finish(ctx context.Context, id string, set bson.M) error {
	filter := bson.M{
		"_id":          id,
		"translations": bson.M{"$exists": false},
		"error":        bson.M{"$exists": false},
	}
	res, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrAlreadyFinished
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
