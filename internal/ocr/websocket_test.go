package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// streamServer simulates the capture agent: the first connection delivers two
// events plus a duplicate of the first, then drops; later connections honor
// the since cursor over the full event list.
type streamServer struct {
	upgrader websocket.Upgrader
	events   []Event

	mu    sync.Mutex
	since []int64
}

func (s *streamServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	s.mu.Lock()
	s.since = append(s.since, since)
	first := len(s.since) == 1
	s.mu.Unlock()

	if first {
		_ = conn.WriteJSON(s.events[0])
		_ = conn.WriteJSON(s.events[1])
		// A frame the client has already applied; it must not be delivered.
		_ = conn.WriteJSON(s.events[0])
		return
	}

	for _, evt := range s.events {
		if evt.Timestamp <= since {
			continue
		}
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
	// Hold the connection open until the client goes away.
	_, _, _ = conn.ReadMessage()
}

func (s *streamServer) sinceParams() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.since))
	copy(out, s.since)
	return out
}

func TestStreamResumesWithoutReplayAfterDisconnect(t *testing.T) {
	server := &streamServer{
		events: []Event{
			{Text: "one", Confidence: 0.9, Timestamp: 100},
			{Text: "two", Confidence: 0.9, Timestamp: 200},
			{Text: "three", Confidence: 0.9, Timestamp: 300},
			{Text: "four", Confidence: 0.9, Timestamp: 400},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(server.handler))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	provider := NewWSProvider(wsURL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, events, err := provider.StartStream(ctx, "win-1")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	var got []int64
	deadline := time.After(5 * time.Second)
	for len(got) < len(server.events) {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("stream closed after %d events, want %d", len(got), len(server.events))
			}
			got = append(got, evt.Timestamp)
		case <-deadline:
			t.Fatalf("timed out after %d events: %v", len(got), got)
		}
	}

	want := []int64{100, 200, 300, 400}
	for i, ts := range want {
		if got[i] != ts {
			t.Fatalf("event timestamps = %v, want %v (no replays, no gaps)", got, want)
		}
	}

	params := server.sinceParams()
	if len(params) < 2 {
		t.Fatalf("connections = %d, want at least 2 (reconnect after drop)", len(params))
	}
	if params[0] != 0 {
		t.Fatalf("first since param = %d, want 0", params[0])
	}
	if params[1] != 200 {
		t.Fatalf("resume since param = %d, want 200 (last delivered timestamp)", params[1])
	}
}

func TestStreamDropsMalformedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteJSON(Event{Text: "fine", Confidence: 0.9, Timestamp: 50})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	provider := NewWSProvider("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, events, err := provider.StartStream(ctx, "win-1")
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	select {
	case evt := <-events:
		if evt.Text != "fine" {
			t.Fatalf("event text = %q, want %q", evt.Text, "fine")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("valid event not delivered after malformed frame")
	}
}
