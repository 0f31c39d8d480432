package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrorMarkerNoTranslation is written to a record whenever recognition or
// translation fails. Clients only rely on the presence of the field.
const ErrorMarkerNoTranslation = "NO_TRANSLATION"

type State string

const (
	StateUploaded    State = "UPLOADED"
	StateRecognizing State = "RECOGNIZING"
	StateTranslating State = "TRANSLATING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

// Record is the metadata document kept for one recording in the uploads collection.
type Record struct {
	ID           string            `bson:"_id" json:"id" validate:"required"`
	OwnerID      string            `bson:"ownerId" json:"owner_id" validate:"required"`
	StoragePath  string            `bson:"storagePath" json:"storage_path" validate:"required"`
	ContentType  string            `bson:"contentType" json:"content_type" validate:"required"`
	Encoding     string            `bson:"encoding" json:"encoding" validate:"required"`
	SampleRate   int               `bson:"sampleRate" json:"sample_rate" validate:"gt=0"`
	Language     string            `bson:"language" json:"language" validate:"required"`
	TimeCreated  time.Time         `bson:"timeCreated" json:"time_created"`
	Translations map[string]string `bson:"translations,omitempty" json:"translations,omitempty"`
	Error        string            `bson:"error,omitempty" json:"error,omitempty"`
}

// State reports the persisted lifecycle state. Recognizing and Translating
// only exist while a handler is running and are never stored.
func (r Record) State() State {
	switch {
	case r.Error != "":
		return StateFailed
	case r.Translations != nil:
		return StateCompleted
	default:
		return StateUploaded
	}
}

func (r Record) IsTerminal() bool {
	s := r.State()
	return s == StateCompleted || s == StateFailed
}

// ObjectKey is the blob key of the record's audio, without any leading slash.
func (r Record) ObjectKey() string {
	return NormalizeKey(r.StoragePath)
}

var (
	ErrInvalidRecord        = errors.New("invalid record")
	ErrTranslationsAndError = errors.New("record has both translations and error")
	ErrStoragePathMismatch  = errors.New("storage path does not reference the record")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields a pipeline run depends on. Every failure
// matches ErrInvalidRecord.
func (r Record) Validate() error {
	if err := r.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

func (r Record) validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Error != "" && r.Translations != nil {
		return ErrTranslationsAndError
	}
	ref, err := ResolvePath(r.ObjectKey())
	if err != nil {
		return err
	}
	if ref.RecordID != r.ID || ref.OwnerID != r.OwnerID {
		return ErrStoragePathMismatch
	}
	return nil
}

// DecodeError is returned when a stored document cannot be turned into a valid Record.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return "decode record " + e.ID + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeRecord is the only way stored data becomes a Record.
func DecodeRecord(raw bson.Raw) (Record, error) {
	var rec Record
	if err := bson.Unmarshal(raw, &rec); err != nil {
		id, _ := raw.Lookup("_id").StringValueOK()
		return Record{}, &DecodeError{ID: id, Err: err}
	}
	if err := rec.Validate(); err != nil {
		return Record{}, &DecodeError{ID: rec.ID, Err: err}
	}
	return rec, nil
}
