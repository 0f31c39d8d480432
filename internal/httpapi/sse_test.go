package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingDoug/universal-translator/internal/recording"
)

type fakeFeed struct {
	ch     chan recording.Snapshot
	err    error
	closed bool
}

func (f *fakeFeed) Snapshots() <-chan recording.Snapshot { return f.ch }
func (f *fakeFeed) Close()                               { f.closed = true }
func (f *fakeFeed) Err() error                           { return f.err }

func feedOf(err error, snaps ...recording.Snapshot) *fakeFeed {
	ch := make(chan recording.Snapshot, len(snaps))
	for _, s := range snaps {
		ch <- s
	}
	close(ch)
	return &fakeFeed{ch: ch, err: err}
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

func TestStreamLatest(t *testing.T) {
	pending := completedRecord()
	pending.Translations = nil

	feed := feedOf(nil,
		recording.Snapshot{},
		recording.Snapshot{Record: pending, Found: true},
		recording.Snapshot{Record: completedRecord(), Found: true},
	)

	var gotOwner string
	var gotSince time.Time
	subscribe := func(_ context.Context, owner string, since time.Time) (LatestFeed, error) {
		gotOwner, gotSince = owner, since
		return feed, nil
	}

	routes := newTestHandler(newMemStore(), &fakeSigner{}, subscribe).Routes(RouterConfig{})
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/latest?owner=u1&since=1735786800000", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "u1", gotOwner)
	assert.Equal(t, time.UnixMilli(1735786800000).UTC(), gotSince)
	assert.True(t, feed.closed)

	events := parseEvents(w.Body.String())
	require.Len(t, events, 3)

	var first, second, third snapshotEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &first))
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &second))
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &third))

	assert.False(t, first.Found)
	assert.Equal(t, recording.StateUploaded, second.State)
	assert.Equal(t, recording.StateCompleted, third.State)
	require.NotNil(t, third.Record)
	assert.Equal(t, "hola", third.Record.Translations["es"])
}

func TestStreamLatest_FeedError(t *testing.T) {
	subscribe := func(context.Context, string, time.Time) (LatestFeed, error) {
		return feedOf(errors.New("change stream lost")), nil
	}
	routes := newTestHandler(newMemStore(), &fakeSigner{}, subscribe).Routes(RouterConfig{})

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/latest?owner=u1", nil))

	events := parseEvents(w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)
}

func TestStreamLatest_BadRequests(t *testing.T) {
	subscribe := func(context.Context, string, time.Time) (LatestFeed, error) {
		return nil, errors.New("cannot open change stream")
	}
	routes := newTestHandler(newMemStore(), &fakeSigner{}, subscribe).Routes(RouterConfig{})

	tests := map[string]int{
		"/recordings/latest":                        http.StatusBadRequest,
		"/recordings/latest?owner=u1&since=tuesday": http.StatusBadRequest,
		"/recordings/latest?owner=u1":               http.StatusInternalServerError,
	}
	for url, want := range tests {
		t.Run(url, func(t *testing.T) {
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
			assert.Equal(t, want, w.Code)
		})
	}
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2025-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, err = parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
