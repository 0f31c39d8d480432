package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/CodingDoug/universal-translator/internal/metrics"
	"github.com/CodingDoug/universal-translator/internal/recording"
)

const (
	handlerFinalize     = "blob_finalize"
	handlerBlobDelete   = "blob_delete"
	handlerRecordDelete = "record_delete"

	resultWriteTimeout = 10 * time.Second
)

var ErrRecordNotFound = errors.New("metadata record not found")

// BlobAccessError is a blob store failure other than the object being absent.
type BlobAccessError struct {
	Op  string
	Key string
	Err error
}

func (e *BlobAccessError) Error() string {
	return fmt.Sprintf("blob %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *BlobAccessError) Unwrap() error { return e.Err }

// ObjectMeta is the part of a blob store event the handlers read.
type ObjectMeta struct {
	Bucket string
	Name   string
}

type RecordStore interface {
	FindByID(ctx context.Context, id string) (recording.Record, error)
	SetTranslations(ctx context.Context, id string, translations map[string]string) error
	SetError(ctx context.Context, id string, marker string) error
	Delete(ctx context.Context, id string) error
}

type BlobStore interface {
	URI(key string) string
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type Recognizer interface {
	Recognize(ctx context.Context, audioURI, encoding string, sampleRateHz int, languageCode string) (string, error)
}

type Translator interface {
	TranslateAll(ctx context.Context, transcript, source string) (map[string]string, error)
}

// StatusEvent announces that a record reached a terminal state.
type StatusEvent struct {
	RecordID  string          `json:"recordId"`
	OwnerID   string          `json:"ownerId"`
	State     recording.State `json:"state"`
	Error     string          `json:"error,omitempty"`
	Languages []string        `json:"languages,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, event StatusEvent) error
}

// Pipeline holds the event handlers. Handlers share nothing but the injected
// stores and engines, so any number of events may be handled concurrently.
type Pipeline struct {
	records    RecordStore
	blobs      BlobStore
	recognizer Recognizer
	translator Translator
	status     StatusPublisher
	metrics    *metrics.Pipeline
	logger     *zap.Logger
}

type Option func(*Pipeline)

func WithStatusPublisher(publisher StatusPublisher) Option {
	return func(p *Pipeline) { p.status = publisher }
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func New(records RecordStore, blobs BlobStore, recognizer Recognizer, translator Translator, opts ...Option) *Pipeline {
	p := &Pipeline{
		records:    records,
		blobs:      blobs,
		recognizer: recognizer,
		translator: translator,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	return p
}

// OnBlobFinalize processes a newly written blob: it recognizes the speech,
// translates the transcript and stores either the translations or the error
// marker on the record.
func (p *Pipeline) OnBlobFinalize(ctx context.Context, obj ObjectMeta) error {
	log := p.logger.With(zap.String("handler", handlerFinalize), zap.String("object", obj.Name))

	ref, err := recording.ResolvePath(obj.Name)
	if err != nil {
		log.Info("skipping object", zap.Error(err))
		p.metrics.Event(handlerFinalize, "skipped")
		return nil
	}
	log = log.With(zap.String("record_id", ref.RecordID), zap.String("owner_id", ref.OwnerID))

	rec, err := p.records.FindByID(ctx, ref.RecordID)
	if err != nil {
		if errors.Is(err, recording.ErrNotFound) {
			log.Error("metadata record not found, dropping event")
			p.metrics.Event(handlerFinalize, "missing_record")
			return fmt.Errorf("%w: %s", ErrRecordNotFound, ref.RecordID)
		}
		log.Error("failed to load metadata record", zap.Error(err))
		p.metrics.Event(handlerFinalize, "error")
		return fmt.Errorf("load record %s: %w", ref.RecordID, err)
	}

	if rec.OwnerID != ref.OwnerID {
		log.Warn("object owner does not match record, dropping event", zap.String("record_owner_id", rec.OwnerID))
		p.metrics.Event(handlerFinalize, "owner_mismatch")
		return nil
	}
	if rec.IsTerminal() {
		log.Info("record already finished, ignoring redelivery", zap.String("state", string(rec.State())))
		p.metrics.Event(handlerFinalize, "duplicate")
		return nil
	}

	log.Info("recognizing speech",
		zap.String("state", string(recording.StateRecognizing)),
		zap.String("encoding", rec.Encoding),
		zap.Int("sample_rate", rec.SampleRate),
		zap.String("language", rec.Language),
	)
	start := time.Now()
	transcript, err := p.recognizer.Recognize(ctx, p.blobs.URI(rec.ObjectKey()), rec.Encoding, rec.SampleRate, rec.Language)
	p.metrics.Stage("recognize", time.Since(start))
	if err != nil {
		return p.fail(ctx, log, rec, "recognize", err)
	}

	log.Info("translating transcript",
		zap.String("state", string(recording.StateTranslating)),
		zap.Int("transcript_length", len(transcript)),
	)
	start = time.Now()
	translations, err := p.translator.TranslateAll(ctx, transcript, rec.Language)
	p.metrics.Stage("translate", time.Since(start))
	if err != nil {
		return p.fail(ctx, log, rec, "translate", err)
	}

	writeCtx, cancel := resultContext(ctx)
	defer cancel()
	if err := p.records.SetTranslations(writeCtx, rec.ID, translations); err != nil {
		return p.finishFailed(log, rec, err)
	}

	log.Info("record completed", zap.String("state", string(recording.StateCompleted)), zap.Int("languages", len(translations)))
	p.metrics.Event(handlerFinalize, "completed")
	p.publish(writeCtx, log, StatusEvent{
		RecordID:  rec.ID,
		OwnerID:   rec.OwnerID,
		State:     recording.StateCompleted,
		Languages: sortedKeys(translations),
	})
	return nil
}

// fail records the error marker for an engine failure. A handler that ran
// out of time still records the marker; only a cancelled handler writes
// nothing, leaving the event to a redelivery.
func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, rec recording.Record, stage string, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn("handler cancelled", zap.String("stage", stage), zap.Error(cause))
		p.metrics.Event(handlerFinalize, "cancelled")
		return ctx.Err()
	}

	msg := "pipeline stage failed"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "pipeline stage timed out"
	}
	log.Error(msg,
		zap.String("stage", stage),
		zap.String("state", string(recording.StateFailed)),
		zap.Error(cause),
	)

	writeCtx, cancel := resultContext(ctx)
	defer cancel()
	if err := p.records.SetError(writeCtx, rec.ID, recording.ErrorMarkerNoTranslation); err != nil {
		return p.finishFailed(log, rec, err)
	}

	p.metrics.Event(handlerFinalize, "failed")
	p.publish(writeCtx, log, StatusEvent{
		RecordID: rec.ID,
		OwnerID:  rec.OwnerID,
		State:    recording.StateFailed,
		Error:    recording.ErrorMarkerNoTranslation,
	})
	return nil
}

// resultContext bounds the terminal write independently of the handler
// deadline, which may already have passed.
func resultContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
}

func (p *Pipeline) finishFailed(log *zap.Logger, rec recording.Record, err error) error {
	switch {
	case errors.Is(err, recording.ErrAlreadyFinished):
		log.Info("another delivery finished the record first")
		p.metrics.Event(handlerFinalize, "duplicate")
		return nil
	case errors.Is(err, recording.ErrNotFound):
		log.Warn("record deleted while processing")
		p.metrics.Event(handlerFinalize, "deleted")
		return nil
	default:
		log.Error("failed to write result", zap.Error(err))
		p.metrics.Event(handlerFinalize, "error")
		return fmt.Errorf("update record %s: %w", rec.ID, err)
	}
}

func (p *Pipeline) publish(ctx context.Context, log *zap.Logger, event StatusEvent) {
	if p.status == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := p.status.PublishStatus(ctx, event); err != nil {
		log.Warn("failed to publish status event", zap.Error(err))
	}
}

// OnBlobDelete removes the metadata record of a deleted blob.
func (p *Pipeline) OnBlobDelete(ctx context.Context, obj ObjectMeta) error {
	log := p.logger.With(zap.String("handler", handlerBlobDelete), zap.String("object", obj.Name))

	ref, err := recording.ResolvePath(obj.Name)
	if err != nil {
		log.Info("skipping object", zap.Error(err))
		p.metrics.Event(handlerBlobDelete, "skipped")
		return nil
	}
	log = log.With(zap.String("record_id", ref.RecordID))

	if err := p.records.Delete(ctx, ref.RecordID); err != nil {
		if errors.Is(err, recording.ErrNotFound) {
			log.Info("metadata record already absent")
			p.metrics.Event(handlerBlobDelete, "absent")
			return nil
		}
		log.Error("failed to delete metadata record", zap.Error(err))
		p.metrics.Event(handlerBlobDelete, "error")
		return fmt.Errorf("delete record %s: %w", ref.RecordID, err)
	}

	log.Info("metadata record deleted")
	p.metrics.Event(handlerBlobDelete, "deleted")
	return nil
}

// OnRecordDelete removes the blob of a deleted metadata record.
func (p *Pipeline) OnRecordDelete(ctx context.Context, rec recording.Record) error {
	key := rec.ObjectKey()
	log := p.logger.With(zap.String("handler", handlerRecordDelete), zap.String("record_id", rec.ID), zap.String("object", key))

	if key == "" {
		log.Warn("deleted record has no storage path")
		p.metrics.Event(handlerRecordDelete, "skipped")
		return nil
	}

	exists, err := p.blobs.Exists(ctx, key)
	if err != nil {
		return p.blobFailed(log, &BlobAccessError{Op: "exists", Key: key, Err: err})
	}
	if !exists {
		log.Info("blob already absent")
		p.metrics.Event(handlerRecordDelete, "absent")
		return nil
	}

	if err := p.blobs.Delete(ctx, key); err != nil {
		return p.blobFailed(log, &BlobAccessError{Op: "delete", Key: key, Err: err})
	}

	log.Info("blob deleted")
	p.metrics.Event(handlerRecordDelete, "deleted")
	return nil
}

func (p *Pipeline) blobFailed(log *zap.Logger, err *BlobAccessError) error {
	log.Error("blob store call failed", zap.String("op", err.Op), zap.Error(err.Err))
	p.metrics.Event(handlerRecordDelete, "error")
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
