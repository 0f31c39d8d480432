package events

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/CodingDoug/universal-translator/internal/recording"
)

const deleteStreamName = "record_deletes"

type DeleteSource interface {
	WatchDeletes(ctx context.Context, resumeAfter bson.Raw, fn func(context.Context, recording.DeleteEvent) error) error
}

type RecordHandler interface {
	OnRecordDelete(ctx context.Context, rec recording.Record) error
}

// CheckpointStore keeps the resume point of a change stream across restarts.
type CheckpointStore interface {
	LoadResumeToken(ctx context.Context, stream string) (bson.Raw, error)
	SaveResumeToken(ctx context.Context, stream string, token bson.Raw) error
}

type WatcherOption func(*RecordDeleteWatcher)

func WithCheckpoints(store CheckpointStore) WatcherOption {
	return func(w *RecordDeleteWatcher) { w.checkpoints = store }
}

// RecordDeleteWatcher forwards metadata record deletions to a RecordHandler.
type RecordDeleteWatcher struct {
	source      DeleteSource
	handler     RecordHandler
	checkpoints CheckpointStore
	timeout     time.Duration
	logger      *zap.Logger
	retryDelay  time.Duration

	// only touched by the Start goroutine
	token bson.Raw
}

func NewRecordDeleteWatcher(source DeleteSource, handler RecordHandler, timeout time.Duration, logger *zap.Logger, opts ...WatcherOption) *RecordDeleteWatcher {
	w := &RecordDeleteWatcher{
		source:     source,
		handler:    handler,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "record_delete_watcher")),
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches until ctx is cancelled. After a failure the change stream is
// reopened from the last handled event, so deletes made while it was down
// are still seen.
func (w *RecordDeleteWatcher) Start(ctx context.Context) error {
	if w.checkpoints != nil {
		token, err := w.checkpoints.LoadResumeToken(ctx, deleteStreamName)
		if err != nil {
			w.logger.Warn("cannot load resume point, starting from now", zap.Error(err))
		}
		w.token = token
	}
	w.logger.Info("record delete watcher started", zap.Bool("resuming", len(w.token) > 0))

	for {
		err := w.source.WatchDeletes(ctx, w.token, w.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, recording.ErrResumeTokenExpired) {
			w.logger.Error("resume point expired, deletes in the gap are lost", zap.Error(err))
			w.token = nil
		} else {
			w.logger.Error("change stream stopped", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryDelay):
		}
	}
}

func (w *RecordDeleteWatcher) handle(ctx context.Context, ev recording.DeleteEvent) error {
	log := w.logger.With(zap.String("record_id", ev.ID))

	switch {
	case ev.DecodeErr != nil:
		log.Error("cannot decode deleted record", zap.Error(ev.DecodeErr))
	case ev.Record == nil:
		log.Warn("delete event has no pre-image, blob left in place")
	default:
		handlerCtx := ctx
		if w.timeout > 0 {
			var cancel context.CancelFunc
			handlerCtx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}
		// errors are already logged by the handler
		_ = w.handler.OnRecordDelete(handlerCtx, *ev.Record)
	}

	if err := ctx.Err(); err != nil {
		// not advanced, the event is seen again after a restart
		return err
	}
	w.advance(ctx, ev.ResumeToken)
	return nil
}

func (w *RecordDeleteWatcher) advance(ctx context.Context, token bson.Raw) {
	if len(token) == 0 {
		return
	}
	w.token = token
	if w.checkpoints == nil {
		return
	}
	if err := w.checkpoints.SaveResumeToken(ctx, deleteStreamName, token); err != nil {
		w.logger.Warn("cannot save resume point", zap.Error(err))
	}
}
