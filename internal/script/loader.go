package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var ErrEpisodeNotFound = errors.New("episode not found")

// Loader fetches episode scripts from the script collaborator.
type Loader interface {
	LoadEpisode(ctx context.Context, episodeID string) (Episode, error)
}

// HTTPLoader loads episode scripts from the companion script service.
type HTTPLoader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLoader(baseURL string) *HTTPLoader {
	return &HTTPLoader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (l *HTTPLoader) LoadEpisode(ctx context.Context, episodeID string) (Episode, error) {
	u := l.baseURL + "/episodes/" + url.PathEscape(episodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Episode{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Episode{}, fmt.Errorf("load episode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Episode{}, ErrEpisodeNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Episode{}, fmt.Errorf("load episode: unexpected status %d", resp.StatusCode)
	}

	var ep Episode
	if err := json.NewDecoder(resp.Body).Decode(&ep); err != nil {
		return Episode{}, fmt.Errorf("decode episode: %w", err)
	}
	if ep.ID == "" {
		ep.ID = episodeID
	}
	return ep, nil
}

// StaticLoader serves a fixed set of episodes, for tests and mock mode.
type StaticLoader struct {
	mu       sync.RWMutex
	episodes map[string]Episode
}

func NewStaticLoader(episodes ...Episode) *StaticLoader {
	l := &StaticLoader{episodes: make(map[string]Episode, len(episodes))}
	for _, ep := range episodes {
		l.episodes[ep.ID] = ep
	}
	return l
}

func (l *StaticLoader) Add(ep Episode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.episodes[ep.ID] = ep
}

func (l *StaticLoader) LoadEpisode(_ context.Context, episodeID string) (Episode, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ep, ok := l.episodes[episodeID]
	if !ok {
		return Episode{}, ErrEpisodeNotFound
	}
	return ep, nil
}
