package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingDoug/universal-translator/internal/recording"
)

type memStore struct {
	mu        sync.Mutex
	records   map[string]recording.Record
	insertErr error
	findErr   error
}

func newMemStore(recs ...recording.Record) *memStore {
	s := &memStore{records: map[string]recording.Record{}}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *memStore) Insert(_ context.Context, rec recording.Record) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return recording.ErrAlreadyExists
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *memStore) FindByID(_ context.Context, id string) (recording.Record, error) {
	if s.findErr != nil {
		return recording.Record{}, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return recording.Record{}, recording.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return recording.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

type fakeSigner struct {
	key    string
	expiry time.Duration
	err    error
}

func (f *fakeSigner) PresignedPut(_ context.Context, key string, expiry time.Duration) (string, error) {
	f.key, f.expiry = key, expiry
	if f.err != nil {
		return "", f.err
	}
	return "https://minio.local/recordings/" + key + "?X-Amz-Signature=abc", nil
}

func completedRecord() recording.Record {
	return recording.Record{
		ID:           "r1",
		OwnerID:      "u1",
		StoragePath:  "/uploads/u1/r1",
		ContentType:  "audio/amr",
		Encoding:     "AMR",
		SampleRate:   8000,
		Language:     "en",
		TimeCreated:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Translations: map[string]string{"en": "hello", "es": "hola"},
	}
}

func newTestHandler(store RecordStore, signer UploadSigner, subscribe SubscribeFunc) *Handler {
	h := NewHandler(store, signer, subscribe, nil)
	h.newRecordID = func() string { return "r-new" }
	return h
}

func TestCreateRecording(t *testing.T) {
	store := newMemStore()
	signer := &fakeSigner{}
	routes := newTestHandler(store, signer, nil).Routes(RouterConfig{})

	body := `{"owner_id":"u1","content_type":"audio/amr","encoding":"AMR","sample_rate":8000,"language":"en"}`
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/recordings", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp createRecordingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "uploads/u1/r-new", resp.ObjectKey)
	assert.Contains(t, resp.UploadURL, "uploads/u1/r-new")
	assert.Equal(t, "r-new", resp.Record.ID)
	assert.Equal(t, "/uploads/u1/r-new", resp.Record.StoragePath)
	assert.Equal(t, "uploads/u1/r-new", signer.key)
	assert.Equal(t, defaultUploadURLExpiry, signer.expiry)

	stored, err := store.FindByID(context.Background(), "r-new")
	require.NoError(t, err)
	assert.Equal(t, recording.StateUploaded, stored.State())
	assert.False(t, stored.TimeCreated.IsZero())
}

func TestCreateRecording_Errors(t *testing.T) {
	valid := `{"owner_id":"u1","content_type":"audio/amr","encoding":"AMR","sample_rate":8000,"language":"en"}`

	tests := []struct {
		name   string
		body   string
		store  *memStore
		signer *fakeSigner
		want   int
	}{
		{name: "bad json", body: `{`, store: newMemStore(), signer: &fakeSigner{}, want: http.StatusBadRequest},
		{name: "missing owner", body: `{"encoding":"AMR"}`, store: newMemStore(), signer: &fakeSigner{}, want: http.StatusBadRequest},
		{name: "invalid record", body: `{"owner_id":"u1","content_type":"audio/amr","encoding":"AMR","sample_rate":0,"language":"en"}`, store: newMemStore(), signer: &fakeSigner{}, want: http.StatusBadRequest},
		{name: "not audio", body: `{"owner_id":"u1","content_type":"application/pdf","encoding":"AMR","sample_rate":8000,"language":"en"}`, store: newMemStore(), signer: &fakeSigner{}, want: http.StatusUnsupportedMediaType},
		{name: "missing content type", body: `{"owner_id":"u1","encoding":"AMR","sample_rate":8000,"language":"en"}`, store: newMemStore(), signer: &fakeSigner{}, want: http.StatusUnsupportedMediaType},
		{name: "owner with slash", body: `{"owner_id":"u1/x","content_type":"audio/amr","encoding":"AMR","sample_rate":8000,"language":"en"}`, store: newMemStore(), signer: &fakeSigner{}, want: http.StatusBadRequest},
		{name: "duplicate id", body: valid, store: newMemStore(recording.Record{ID: "r-new"}), signer: &fakeSigner{}, want: http.StatusConflict},
		{name: "store down", body: valid, store: &memStore{records: map[string]recording.Record{}, insertErr: errors.New("no primary")}, signer: &fakeSigner{}, want: http.StatusInternalServerError},
		{name: "presign fails", body: valid, store: newMemStore(), signer: &fakeSigner{err: errors.New("bad credentials")}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := newTestHandler(tt.store, tt.signer, nil).Routes(RouterConfig{})
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/recordings", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestGetRecording(t *testing.T) {
	routes := newTestHandler(newMemStore(completedRecord()), &fakeSigner{}, nil).Routes(RouterConfig{})

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/r1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "r1", got["id"])
	assert.Equal(t, "COMPLETED", got["state"])
	assert.Equal(t, map[string]interface{}{"en": "hello", "es": "hola"}, got["translations"])
	assert.NotContains(t, got, "error")

	w = httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRecording_StoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid stored document", err: &recording.DecodeError{ID: "r1", Err: recording.ErrTranslationsAndError}, want: http.StatusUnprocessableEntity},
		{name: "store down", err: errors.New("timeout"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.findErr = tt.err
			w := httptest.NewRecorder()
			newTestHandler(store, &fakeSigner{}, nil).Routes(RouterConfig{}).
				ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/r1", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestDeleteRecording(t *testing.T) {
	store := newMemStore(completedRecord())
	routes := newTestHandler(store, &fakeSigner{}, nil).Routes(RouterConfig{})

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/recordings/r1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/recordings/r1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	routes := newTestHandler(newMemStore(), &fakeSigner{}, nil).Routes(RouterConfig{})
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/recordings/r1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	routes := newTestHandler(newMemStore(), &fakeSigner{}, nil).Routes(RouterConfig{AllowedOrigins: []string{"https://babelfire.web.app"}})

	req := httptest.NewRequest(http.MethodOptions, "/recordings", nil)
	req.Header.Set("Origin", "https://babelfire.web.app")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://babelfire.web.app", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	req = httptest.NewRequest(http.MethodOptions, "/recordings", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthzAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	healthy := true
	routes := newTestHandler(newMemStore(), &fakeSigner{}, nil).Routes(RouterConfig{
		Gatherer: reg,
		Health: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("mongo unreachable")
		},
	})

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	healthy = false
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "mongo unreachable")

	w = httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_total 1")
}
