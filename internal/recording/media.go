package recording

import (
	"errors"
	"mime"
	"strings"
)

var allowedAudioTypes = map[string]bool{
	"audio/amr":    true,
	"audio/amr-wb": true,
	"audio/flac":   true,
	"audio/x-flac": true,
	"audio/mpeg":   true,
	"audio/mp4":    true,
	"audio/m4a":    true,
	"audio/x-m4a":  true,
	"audio/ogg":    true,
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/webm":   true,
}

var ErrUnsupportedContentType = errors.New("unsupported audio content type")

// ValidateContentType accepts the audio MIME types the recognizer can read.
// Parameters such as codecs are ignored.
func ValidateContentType(contentType string) error {
	if contentType == "" {
		return ErrUnsupportedContentType
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ErrUnsupportedContentType
	}
	if !allowedAudioTypes[strings.ToLower(mediaType)] {
		return ErrUnsupportedContentType
	}
	return nil
}
