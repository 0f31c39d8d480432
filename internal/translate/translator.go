package translate

import (
	"context"
	"fmt"
	"time"
)

const FormatText = "text"

type Request struct {
	From   string
	To     string
	Format string
	Text   string
}

// Translator is a translation engine. One call translates one text into one language.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// TranslationError reports the target language whose request failed.
type TranslationError struct {
	Language string
	Err      error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate to %s: %v", e.Language, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// ObserveFunc receives the outcome of every engine call.
type ObserveFunc func(to string, err error, elapsed time.Duration)

type observed struct {
	next    Translator
	observe ObserveFunc
}

// Observed reports each call of next to observe.
func Observed(next Translator, observe ObserveFunc) Translator {
	if observe == nil {
		return next
	}
	return &observed{next: next, observe: observe}
}

func (o *observed) Translate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	text, err := o.next.Translate(ctx, req)
	o.observe(req.To, err, time.Since(start))
	return text, err
}
