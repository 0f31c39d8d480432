package translate

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var ErrNoTargets = errors.New("no target languages configured")

// FanOut translates a transcript into every configured target language.
type FanOut struct {
	translator Translator
	targets    []string
}

func NewFanOut(translator Translator, targets []string) (*FanOut, error) {
	targets = lo.Uniq(lo.Compact(targets))
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return &FanOut{translator: translator, targets: targets}, nil
}

func (f *FanOut) Targets() []string {
	return append([]string(nil), f.targets...)
}

// TranslateAll issues one request per target language concurrently and waits
// for all of them. The source language maps to the transcript itself without
// a request. If any request fails the whole call fails and no partial map is
// returned; the first failure is reported once every request has settled.
func (f *FanOut) TranslateAll(ctx context.Context, transcript, source string) (map[string]string, error) {
	var (
		mu           sync.Mutex
		translations = make(map[string]string, len(f.targets))
	)

	if lo.Contains(f.targets, source) {
		translations[source] = transcript
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range f.targets {
		if target == source {
			continue
		}

		g.Go(func() error {
			text, err := f.translator.Translate(gctx, Request{
				From:   source,
				To:     target,
				Format: FormatText,
				Text:   transcript,
			})
			if err != nil {
				return &TranslationError{Language: target, Err: err}
			}

			mu.Lock()
			translations[target] = text
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return translations, nil
}
