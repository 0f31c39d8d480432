package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		ok          bool
	}{
		{"audio/amr", true},
		{"audio/AMR", true},
		{"audio/webm; codecs=opus", true},
		{"audio/x-wav", true},
		{"", false},
		{"application/pdf", false},
		{"audio/", false},
		{"not a mime type;;", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			err := ValidateContentType(tt.contentType)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsupportedContentType)
			}
		})
	}
}
