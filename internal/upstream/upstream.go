// Package upstream is the stale-while-revalidate coordinator (spec.md §4.4):
// at most one inflight HTTP request per URL, conditional GET with
// If-None-Match, and a barrier any caller can use to wait for all currently
// registered requests to settle. Grounded on golang.org/x/sync/singleflight
// as used in other_examples' letsencrypt-ctile main.go (request collapsing
// keyed by URL), composed with the teacher's sync.Map/atomic-counter
// in-flight tracking idiom from internal/datasource/fetch_queue.go.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ResponseType selects how the body is decoded before being handed back.
type ResponseType int

const (
	ResponseBuffer ResponseType = iota
	ResponseText
	ResponseJSON
)

// ErrNotModified is returned when the upstream responds 304. It is an
// internal sentinel: callers that issue conditional GETs treat it as "the
// cached copy is fresh" and never surface it as a failure (spec.md §9 Open
// Question (a)).
var ErrNotModified = errors.New("upstream: not modified")

// StatusError carries a non-2xx, non-304 response so callers can
// distinguish 404 from other statuses (spec.md §4.4).
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s responded %d", e.URL, e.StatusCode)
}

// OfflineError wraps a transport-level failure (DNS, connection refused,
// timeout) — the "network unreachable" category spec.md §4.4 names.
type OfflineError struct {
	URL string
	Err error
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("upstream: %s unreachable: %v", e.URL, e.Err)
}

func (e *OfflineError) Unwrap() error { return e.Err }

// Result is the successful outcome of GetUpstream.
type Result struct {
	Data []byte
	ETag string
}

// Manager is the SWR coordinator. The zero value is not usable; construct
// with New.
type Manager struct {
	client *http.Client
	group  singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// New constructs a Manager. A nil client defaults to http.DefaultClient.
func New(client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{client: client, pending: make(map[string]struct{})}
}

// GetUpstream issues (or joins) a request for url. Requests are keyed by URL
// alone — etag does not participate in the key, so the first caller's
// conditional header wins for any concurrent joiners (spec.md §4.4 step 1).
func (m *Manager) GetUpstream(ctx context.Context, url string, responseType ResponseType, etag string) (Result, error) {
	m.register(url)
	defer m.unregister(url)

	v, err, _ := m.group.Do(url, func() (any, error) {
		return m.fetch(ctx, url, responseType, etag)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (m *Manager) fetch(ctx context.Context, url string, responseType ResponseType, etag string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("upstream: build request for %s: %w", url, err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}, &OfflineError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Result{}, ErrNotModified
	}
	if resp.StatusCode == http.StatusNotFound {
		return Result{}, &StatusError{URL: url, StatusCode: http.StatusNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("upstream: read body of %s: %w", url, err)
	}

	_ = responseType // content is always returned raw; callers decode text/json themselves

	return Result{Data: data, ETag: resp.Header.Get("ETag")}, nil
}

func (m *Manager) register(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[url]; !ok {
		m.pending[url] = struct{}{}
		m.wg.Add(1)
	}
}

func (m *Manager) unregister(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[url]; ok {
		delete(m.pending, url)
		m.wg.Done()
	}
}

// AllSettled blocks until every request registered since the Manager was
// created (or since the last AllSettled call drained the counter) has
// settled. Cancellation of an inflight request is not required by spec.md
// §4.4, so this is a plain Wait.
func (m *Manager) AllSettled() {
	m.wg.Wait()
}

// FireAndForget launches fn in its own goroutine, swallowing any error it
// returns (the "errors in the background fetch are swallowed" behaviour
// spec.md §4.6 step 3 and §4.5 get specify).
func FireAndForget(fn func() error) {
	go func() {
		_ = fn()
	}()
}
