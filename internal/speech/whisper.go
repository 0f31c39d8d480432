package speech

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// AudioSource opens the audio behind a location URI.
type AudioSource interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

var encodingExtensions = map[string]string{
	"AMR":       ".amr",
	"AMR_WB":    ".amr",
	"LINEAR16":  ".wav",
	"FLAC":      ".flac",
	"MP3":       ".mp3",
	"OGG_OPUS":  ".ogg",
	"WEBM_OPUS": ".webm",
	"MULAW":     ".wav",
}

// WhisperEngine recognizes speech with the OpenAI transcription API.
type WhisperEngine struct {
	client *openai.Client
	audio  AudioSource
	model  string
	logger *zap.Logger
}

func NewWhisperEngine(client *openai.Client, audio AudioSource, model string, logger *zap.Logger) *WhisperEngine {
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhisperEngine{
		client: client,
		audio:  audio,
		model:  model,
		logger: logger.With(zap.String("component", "speech.whisper")),
	}
}

func (e *WhisperEngine) Recognize(ctx context.Context, req Request) (*Response, error) {
	body, err := e.audio.Open(ctx, req.AudioURI)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer body.Close()

	// The API infers the container from the file name; sample rate is read from the audio itself.
	e.logger.Debug("recognize request",
		zap.String("audio_uri", req.AudioURI),
		zap.String("encoding", req.Encoding),
		zap.Int("sample_rate_hertz", req.SampleRateHertz),
		zap.String("language_code", req.LanguageCode),
	)

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: audioFileName(req.AudioURI, req.Encoding),
		Reader:   body,
		Language: baseLanguage(req.LanguageCode),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("createTranscription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return &Response{}, nil
	}
	return &Response{Results: []Result{{Alternatives: []Alternative{{Transcript: text}}}}}, nil
}

func audioFileName(uri, encoding string) string {
	name := path.Base(uri)
	if path.Ext(name) != "" {
		return name
	}
	if ext, ok := encodingExtensions[strings.ToUpper(encoding)]; ok {
		return name + ext
	}
	return name
}

// baseLanguage reduces a BCP-47 tag such as en-US to its ISO-639-1 part.
func baseLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		return code[:i]
	}
	return code
}
