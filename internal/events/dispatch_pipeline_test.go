package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingDoug/universal-translator/internal/pipeline"
	"github.com/CodingDoug/universal-translator/internal/recording"
)

type recordTable struct {
	mu      sync.Mutex
	records map[string]recording.Record
}

func (r *recordTable) FindByID(ctx context.Context, id string) (recording.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return recording.Record{}, err
	}
	rec, ok := r.records[id]
	if !ok {
		return recording.Record{}, recording.ErrNotFound
	}
	return rec, nil
}

func (r *recordTable) finish(ctx context.Context, id string, apply func(*recording.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, ok := r.records[id]
	if !ok {
		return recording.ErrNotFound
	}
	if rec.IsTerminal() {
		return recording.ErrAlreadyFinished
	}
	apply(&rec)
	r.records[id] = rec
	return nil
}

func (r *recordTable) SetTranslations(ctx context.Context, id string, translations map[string]string) error {
	return r.finish(ctx, id, func(rec *recording.Record) { rec.Translations = translations })
}

func (r *recordTable) SetError(ctx context.Context, id string, marker string) error {
	return r.finish(ctx, id, func(rec *recording.Record) { rec.Error = marker })
}

func (r *recordTable) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *recordTable) get(id string) recording.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

type noBlobs struct{}

func (noBlobs) URI(key string) string { return "s3://recordings/" + key }
func (noBlobs) Exists(context.Context, string) (bool, error) { return false, nil }
func (noBlobs) Delete(context.Context, string) error { return nil }

type blockingRecognizer struct{}

func (blockingRecognizer) Recognize(ctx context.Context, _, _ string, _ int, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type unusedTranslator struct{}

func (unusedTranslator) TranslateAll(context.Context, string, string) (map[string]string, error) {
	return map[string]string{"en": "unused"}, nil
}

func pendingTable() *recordTable {
	return &recordTable{records: map[string]recording.Record{
		"r1": {
			ID:          "r1",
			OwnerID:     "u1",
			StoragePath: "/uploads/u1/r1",
			ContentType: "audio/amr",
			Encoding:    "AMR",
			SampleRate:  8000,
			Language:    "en",
		},
	}}
}

func TestDispatch_HandlerTimeoutFinishesRecord(t *testing.T) {
	records := pendingTable()
	p := pipeline.New(records, noBlobs{}, blockingRecognizer{}, unusedTranslator{})
	d := NewDispatcher(p, 50*time.Millisecond, nil)

	err := d.Dispatch(context.Background(), event(t, "s3:ObjectCreated:Put", "uploads%2Fu1%2Fr1"))
	require.NoError(t, err, "a timed out event is handled and can be committed")

	rec := records.get("r1")
	assert.True(t, rec.IsTerminal())
	assert.Equal(t, recording.ErrorMarkerNoTranslation, rec.Error)
	assert.Nil(t, rec.Translations)
}

func TestDispatch_ShutdownLeavesRecordForRedelivery(t *testing.T) {
	records := pendingTable()
	p := pipeline.New(records, noBlobs{}, blockingRecognizer{}, unusedTranslator{})
	d := NewDispatcher(p, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := d.Dispatch(ctx, event(t, "s3:ObjectCreated:Put", "uploads%2Fu1%2Fr1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, records.get("r1").IsTerminal())
}
