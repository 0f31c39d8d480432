package speech

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoTranscript         = errors.New("no speech recognized")
	ErrRecognitionTransport = errors.New("recognition call failed")
)

// TransportError wraps a failed engine call (network, quota, auth).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", ErrRecognitionTransport, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrRecognitionTransport
}

func (e *TransportError) Unwrap() error { return e.Err }

type Request struct {
	LanguageCode    string
	SampleRateHertz int
	Encoding        string
	AudioURI        string
}

type Alternative struct {
	Transcript string
	Confidence float32
}

type Result struct {
	Alternatives []Alternative
}

type Response struct {
	Results []Result
}

// Engine is a speech recognition backend.
type Engine interface {
	Recognize(ctx context.Context, req Request) (*Response, error)
}

// Recognizer turns an engine response into a single transcript.
type Recognizer struct {
	engine Engine
}

func NewRecognizer(engine Engine) *Recognizer {
	return &Recognizer{engine: engine}
}

// Recognize performs exactly one engine call and returns the top alternative
// of the first result. Lower ranked alternatives are dropped.
func (r *Recognizer) Recognize(ctx context.Context, audioURI, encoding string, sampleRateHz int, languageCode string) (string, error) {
	resp, err := r.engine.Recognize(ctx, Request{
		LanguageCode:    languageCode,
		SampleRateHertz: sampleRateHz,
		Encoding:        encoding,
		AudioURI:        audioURI,
	})
	if err != nil {
		return "", &TransportError{Err: err}
	}

	if resp == nil || len(resp.Results) == 0 || len(resp.Results[0].Alternatives) == 0 {
		return "", ErrNoTranscript
	}
	return resp.Results[0].Alternatives[0].Transcript, nil
}
