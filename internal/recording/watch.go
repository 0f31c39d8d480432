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

const streamRetryDelay = time.Second

// Snapshot is one observed state of the latest record of an owner.
// Found is false while the owner has no matching record.
type Snapshot struct {
	Record Record
	Found  bool
}

// Subscription delivers snapshots until Close is called or its context ends.
type Subscription struct {
	snapshots chan Snapshot
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Close stops the subscription and waits for its change stream to be released.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Err returns the error that ended the subscription, if any. Only valid
// after the snapshot channel is closed.
func (s *Subscription) Err() error {
	return s.err
}

// SubscribeLatest follows the most recently created record of ownerID
// (created at or after since). A snapshot is emitted on start and whenever
// a record of the collection changes; the change stream is resumed from its
// last token after transient failures.
func (s *MongoStore) SubscribeLatest(ctx context.Context, ownerID string, since time.Time) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.ownerId": ownerID},
			bson.M{"operationType": "delete"},
		}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := s.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		snapshots: make(chan Snapshot, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.snapshots)

		if !s.emitLatest(ctx, sub, ownerID, since) {
			_ = stream.Close(context.Background())
			return
		}

		for {
			for stream.Next(ctx) {
				if !s.emitLatest(ctx, sub, ownerID, since) {
					break
				}
			}
			token := stream.ResumeToken()
			streamErr := stream.Err()
			_ = stream.Close(context.Background())

			if ctx.Err() != nil {
				return
			}
			if sub.err != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(streamRetryDelay):
			}

			resume := options.ChangeStream().SetFullDocument(options.UpdateLookup)
			if token != nil {
				resume.SetResumeAfter(token)
			}
			stream, err = s.collection.Watch(ctx, pipeline, resume)
			if err != nil {
				sub.err = errors.Join(streamErr, err)
				return
			}
		}
	}()

	return sub, nil
}

func (s *MongoStore) emitLatest(ctx context.Context, sub *Subscription, ownerID string, since time.Time) bool {
	rec, err := s.FindLatestByOwner(ctx, ownerID, since)
	snap := Snapshot{Record: rec, Found: err == nil}
	if err != nil && !errors.Is(err, ErrNotFound) {
		if ctx.Err() == nil {
			sub.err = err
		}
		return false
	}

	select {
	case sub.snapshots <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

// ErrResumeTokenExpired means the stream cannot resume from the requested
// point because it has left the oplog.
var ErrResumeTokenExpired = errors.New("change stream resume point no longer available")

// DeleteEvent describes a record removed from the collection. Record is
// nil when the change event carried no pre-image or it failed to decode.
// ResumeToken resumes a later stream right after this event.
type DeleteEvent struct {
	ID          string
	Record      *Record
	DecodeErr   error
	ResumeToken bson.Raw
}

type changeEvent struct {
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocumentBeforeChange bson.Raw `bson:"fullDocumentBeforeChange"`
}

// WatchDeletes blocks, calling fn for every deleted record until ctx ends or
// the change stream fails. A non-empty resumeAfter starts the stream right
// after the event that token came from.
func (s *MongoStore) WatchDeletes(ctx context.Context, resumeAfter bson.Raw, fn func(context.Context, DeleteEvent) error) error {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"operationType": "delete"}}},
	}
	opts := options.ChangeStream().SetFullDocumentBeforeChange(options.WhenAvailable)
	if len(resumeAfter) > 0 {
		opts.SetResumeAfter(resumeAfter)
	}

	stream, err := s.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		if isHistoryLost(err) {
			return fmt.Errorf("%w: %w", ErrResumeTokenExpired, err)
		}
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var change changeEvent
		if err := stream.Decode(&change); err != nil {
			return err
		}

		event := DeleteEvent{ID: change.DocumentKey.ID, ResumeToken: stream.ResumeToken()}
		if len(change.FullDocumentBeforeChange) > 0 {
			rec, err := DecodeRecord(change.FullDocumentBeforeChange)
			if err != nil {
				event.DecodeErr = err
			} else {
				event.Record = &rec
			}
		}

		if err := fn(ctx, event); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := stream.Err(); isHistoryLost(err) {
		return fmt.Errorf("%w: %w", ErrResumeTokenExpired, err)
	}
	return stream.Err()
}

// ChangeStreamHistoryLost and ChangeStreamFatalError.
var historyLostCodes = []int{286, 280}

func isHistoryLost(err error) bool {
	var serverErr mongo.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}
	for _, code := range historyLostCodes {
		if serverErr.HasErrorCode(code) {
			return true
		}
	}
	return false
}
