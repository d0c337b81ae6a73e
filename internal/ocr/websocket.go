package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minseo-lab/gamedub/internal/reliability"
)

const (
	reconnectBase = 500 * time.Millisecond
	reconnectCap  = 10 * time.Second
)

// WSProvider streams OCR events from the capture agent over a websocket.
// The connection is re-established on failure; each reconnect passes the
// timestamp of the last delivered event as a resume cursor so detections are
// neither replayed nor silently skipped.
type WSProvider struct {
	streamURL string
	client    *http.Client
}

func NewWSProvider(streamURL string) *WSProvider {
	return &WSProvider{
		streamURL: streamURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WSProvider) ListWindows(ctx context.Context) ([]Window, error) {
	listURL, err := httpEndpoint(p.streamURL, "/windows")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list windows: HTTP %d", resp.StatusCode)
	}
	var out []Window
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return out, nil
}

func (p *WSProvider) StartStream(ctx context.Context, windowID string) (Stream, <-chan Event, error) {
	events := make(chan Event, 64)
	streamCtx, cancel := context.WithCancel(ctx)
	s := &wsStream{cancel: cancel}

	go p.run(streamCtx, windowID, events)
	return s, events, nil
}

type wsStream struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *wsStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (p *WSProvider) run(ctx context.Context, windowID string, events chan<- Event) {
	defer close(events)

	var cursor int64
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := p.dial(ctx, windowID, cursor)
		if err != nil {
			if !reliability.IsRetryableStreamError(err) {
				return
			}
			attempt++
			wait := reliability.ExponentialBackoff(attempt, reconnectBase, reconnectCap)
			log.Printf("ocr: dial failed (attempt %d, retrying in %v): %v", attempt, wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		err = p.read(ctx, conn, events, &cursor)
		conn.Close()
		if !reliability.IsRetryableStreamError(err) {
			return
		}
		log.Printf("ocr: stream interrupted, reconnecting from cursor %d: %v", cursor, err)
	}
}

func (p *WSProvider) dial(ctx context.Context, windowID string, cursor int64) (*websocket.Conn, error) {
	u, err := url.Parse(p.streamURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("window_id", windowID)
	if cursor > 0 {
		q.Set("since", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

func (p *WSProvider) read(ctx context.Context, conn *websocket.Conn, events chan<- Event, cursor *int64) error {
	// Unblock ReadMessage when the stream is closed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var evt Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			log.Printf("ocr: dropping malformed frame: %v", err)
			continue
		}
		// The resume cursor only ever moves forward.
		if evt.Timestamp <= *cursor && *cursor > 0 {
			continue
		}
		select {
		case events <- evt:
			if evt.Timestamp > *cursor {
				*cursor = evt.Timestamp
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// httpEndpoint rewrites the ws:// stream URL into the agent's HTTP base and
// appends path.
func httpEndpoint(streamURL, path string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = path
	u.RawQuery = ""
	return u.String(), nil
}
