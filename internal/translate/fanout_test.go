package translate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTranslator struct {
	mock.Mock
}

func (m *MockTranslator) Translate(ctx context.Context, req Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type funcTranslator func(ctx context.Context, req Request) (string, error)

func (f funcTranslator) Translate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func TestNewFanOut(t *testing.T) {
	_, err := NewFanOut(&MockTranslator{}, nil)
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = NewFanOut(&MockTranslator{}, []string{""})
	assert.ErrorIs(t, err, ErrNoTargets)

	f, err := NewFanOut(&MockTranslator{}, []string{"en", "es", "en", "", "de"})
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "es", "de"}, f.Targets())
}

func TestFanOut_SourcePassThrough(t *testing.T) {
	translator := new(MockTranslator)
	translator.On("Translate", mock.Anything, Request{From: "en", To: "es", Format: FormatText, Text: "hello world"}).
		Return("hola mundo", nil).Once()

	f, err := NewFanOut(translator, []string{"en", "es"})
	require.NoError(t, err)

	got, err := f.TranslateAll(context.Background(), "hello world", "en")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "hello world", "es": "hola mundo"}, got)
	translator.AssertExpectations(t)
	translator.AssertNotCalled(t, "Translate", mock.Anything, mock.MatchedBy(func(r Request) bool { return r.To == "en" }))
}

func TestFanOut_SourceNotATarget(t *testing.T) {
	f, err := NewFanOut(funcTranslator(func(_ context.Context, req Request) (string, error) {
		return req.To + ":" + req.Text, nil
	}), []string{"es", "de"})
	require.NoError(t, err)

	got, err := f.TranslateAll(context.Background(), "hi", "en")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"es": "es:hi", "de": "de:hi"}, got)
}

func TestFanOut_RequestsRunConcurrently(t *testing.T) {
	targets := []string{"es", "pt", "de", "ja", "fr"}
	var arrived sync.WaitGroup
	arrived.Add(len(targets))
	allArrived := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allArrived)
	}()

	f, err := NewFanOut(funcTranslator(func(ctx context.Context, req Request) (string, error) {
		arrived.Done()
		select {
		case <-allArrived:
			return req.To, nil
		case <-time.After(2 * time.Second):
			return "", errors.New("requests were not issued concurrently")
		}
	}), append([]string{"en"}, targets...))
	require.NoError(t, err)

	got, err := f.TranslateAll(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Len(t, got, len(targets)+1)
}

func TestFanOut_SingleFailureFailsWhole(t *testing.T) {
	var calls atomic.Int32
	cause := errors.New("quota exceeded")

	f, err := NewFanOut(funcTranslator(func(_ context.Context, req Request) (string, error) {
		calls.Add(1)
		if req.To == "ja" {
			return "", cause
		}
		return "ok", nil
	}), []string{"en", "es", "ja", "de"})
	require.NoError(t, err)

	got, err := f.TranslateAll(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, cause)

	var trErr *TranslationError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, "ja", trErr.Language)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFanOut_WaitsForAllToSettle(t *testing.T) {
	var slowSettled atomic.Bool

	f, err := NewFanOut(funcTranslator(func(ctx context.Context, req Request) (string, error) {
		switch req.To {
		case "es":
			return "", errors.New("boom")
		default:
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			slowSettled.Store(true)
			return "", ctx.Err()
		}
	}), []string{"es", "de"})
	require.NoError(t, err)

	_, err = f.TranslateAll(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.True(t, slowSettled.Load(), "TranslateAll returned before every request settled")

	var trErr *TranslationError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, "es", trErr.Language)
}

func TestFanOut_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := NewFanOut(funcTranslator(func(ctx context.Context, _ Request) (string, error) {
		return "", ctx.Err()
	}), []string{"es"})
	require.NoError(t, err)

	_, err = f.TranslateAll(ctx, "hello", "en")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserved(t *testing.T) {
	var gotTo string
	var gotErr error
	inner := funcTranslator(func(context.Context, Request) (string, error) { return "", errors.New("down") })

	tr := Observed(inner, func(to string, err error, _ time.Duration) {
		gotTo, gotErr = to, err
	})
	_, err := tr.Translate(context.Background(), Request{To: "fr"})
	require.Error(t, err)
	assert.Equal(t, "fr", gotTo)
	assert.EqualError(t, gotErr, "down")
}
