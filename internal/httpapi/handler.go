package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodingDoug/universal-translator/internal/recording"
)

const defaultUploadURLExpiry = 15 * time.Minute

type RecordStore interface {
	Insert(ctx context.Context, rec recording.Record) error
	FindByID(ctx context.Context, id string) (recording.Record, error)
	Delete(ctx context.Context, id string) error
}

type UploadSigner interface {
	PresignedPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// LatestFeed is a live view of an owner's most recent record.
type LatestFeed interface {
	Snapshots() <-chan recording.Snapshot
	Close()
	Err() error
}

type SubscribeFunc func(ctx context.Context, ownerID string, since time.Time) (LatestFeed, error)

type Handler struct {
	store       RecordStore
	signer      UploadSigner
	subscribe   SubscribeFunc
	logger      *zap.Logger
	urlExpiry   time.Duration
	heartbeat   time.Duration
	newRecordID func() string
}

func NewHandler(store RecordStore, signer UploadSigner, subscribe SubscribeFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:       store,
		signer:      signer,
		subscribe:   subscribe,
		logger:      logger.With(zap.String("component", "httpapi")),
		urlExpiry:   defaultUploadURLExpiry,
		heartbeat:   15 * time.Second,
		newRecordID: uuid.NewString,
	}
}

type createRecordingRequest struct {
	OwnerID     string `json:"owner_id"`
	ContentType string `json:"content_type"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
	Language    string `json:"language"`
}

type createRecordingResponse struct {
	Record    recording.Record `json:"record"`
	ObjectKey string           `json:"object_key"`
	UploadURL string           `json:"upload_url"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// CreateRecording allocates a record id, stores the metadata record and
// returns a presigned URL the client uploads the audio to. The upload then
// triggers processing.
func (h *Handler) CreateRecording(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	if err := recording.ValidateContentType(req.ContentType); err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	id := h.newRecordID()
	key := recording.ObjectPath(req.OwnerID, id)
	rec := recording.Record{
		ID:          id,
		OwnerID:     req.OwnerID,
		StoragePath: "/" + key,
		ContentType: req.ContentType,
		Encoding:    req.Encoding,
		SampleRate:  req.SampleRate,
		Language:    req.Language,
		TimeCreated: time.Now().UTC(),
	}

	if err := h.store.Insert(r.Context(), rec); err != nil {
		switch {
		case errors.Is(err, recording.ErrInvalidRecord):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, recording.ErrAlreadyExists):
			http.Error(w, "record already exists", http.StatusConflict)
		default:
			h.logger.Error("insert record", zap.String("record_id", id), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	uploadURL, err := h.signer.PresignedPut(r.Context(), key, h.urlExpiry)
	if err != nil {
		h.logger.Error("presign upload", zap.String("record_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createRecordingResponse{
		Record:    rec,
		ObjectKey: key,
		UploadURL: uploadURL,
		ExpiresAt: rec.TimeCreated.Add(h.urlExpiry),
	})
}

type recordingResponse struct {
	recording.Record
	State recording.State `json:"state"`
}

func (h *Handler) GetRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "recording id required", http.StatusBadRequest)
		return
	}

	rec, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, recordingResponse{Record: rec, State: rec.State()})
}

// DeleteRecording removes the metadata record. The blob is removed by the
// record delete watcher.
func (h *Handler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "recording id required", http.StatusBadRequest)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, id string, err error) {
	var decodeErr *recording.DecodeError
	switch {
	case errors.Is(err, recording.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &decodeErr):
		h.logger.Warn("stored record is invalid", zap.String("record_id", id), zap.Error(err))
		http.Error(w, "stored record is invalid", http.StatusUnprocessableEntity)
	default:
		h.logger.Error("record store call failed", zap.String("record_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
