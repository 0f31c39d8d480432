package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/CodingDoug/universal-translator/internal/recording"
)

type snapshotEvent struct {
	Found  bool              `json:"found"`
	State  recording.State   `json:"state,omitempty"`
	Record *recording.Record `json:"record,omitempty"`
}

// StreamLatest serves the owner's most recent record as Server-Sent Events,
// sending a snapshot on connect and after every change.
func (h *Handler) StreamLatest(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, "since must be RFC 3339 or unix milliseconds", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	feed, err := h.subscribe(r.Context(), owner, since)
	if err != nil {
		h.logger.Error("subscribe latest", zap.String("owner_id", owner), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer feed.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-feed.Snapshots():
			if !ok {
				if err := feed.Err(); err != nil {
					h.logger.Warn("latest feed ended", zap.String("owner_id", owner), zap.Error(err))
					writeEvent(w, "error", map[string]string{"error": "subscription ended"})
					flusher.Flush()
				}
				return
			}
			writeEvent(w, "snapshot", toSnapshotEvent(snap))
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func toSnapshotEvent(snap recording.Snapshot) snapshotEvent {
	if !snap.Found {
		return snapshotEvent{}
	}
	rec := snap.Record
	return snapshotEvent{Found: true, State: rec.State(), Record: &rec}
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
