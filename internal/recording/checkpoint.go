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

// DefaultCheckpointCollection holds one document per change stream consumer.
const DefaultCheckpointCollection = "stream_checkpoints"

type checkpoint struct {
	Name      string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoCheckpoints persists change stream resume tokens so a restarted
// process continues where the previous one stopped.
type MongoCheckpoints struct {
	collection *mongo.Collection
}

func NewMongoCheckpoints(collection *mongo.Collection) *MongoCheckpoints {
	return &MongoCheckpoints{collection: collection}
}

// LoadResumeToken returns nil when the stream has no checkpoint yet.
func (c *MongoCheckpoints) LoadResumeToken(ctx context.Context, stream string) (bson.Raw, error) {
	var cp checkpoint
	err := c.collection.FindOne(ctx, bson.M{"_id": stream}).Decode(&cp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", stream, err)
	}
	return cp.Token, nil
}

func (c *MongoCheckpoints) SaveResumeToken(ctx context.Context, stream string, token bson.Raw) error {
	update := bson.M{"$set": bson.M{"token": token, "updatedAt": time.Now().UTC()}}
	_, err := c.collection.UpdateOne(ctx, bson.M{"_id": stream}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", stream, err)
	}
	return nil
}
