package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUpstream_SuccessCapturesETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	m := New(nil)
	res, err := m.GetUpstream(context.Background(), srv.URL, ResponseBuffer, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), res.Data)
	assert.Equal(t, `"abc"`, res.ETag)
}

func TestGetUpstream_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"fresh"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(nil)
	_, err := m.GetUpstream(context.Background(), srv.URL, ResponseBuffer, `"fresh"`)
	assert.ErrorIs(t, err, ErrNotModified)
}

func TestGetUpstream_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := New(nil)
	_, err := m.GetUpstream(context.Background(), srv.URL, ResponseBuffer, "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestGetUpstream_OtherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := New(nil)
	_, err := m.GetUpstream(context.Background(), srv.URL, ResponseBuffer, "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestGetUpstream_Offline(t *testing.T) {
	m := New(nil)
	_, err := m.GetUpstream(context.Background(), "http://127.0.0.1:1/unreachable", ResponseBuffer, "")
	var offlineErr *OfflineError
	assert.True(t, errors.As(err, &offlineErr))
}

func TestGetUpstream_CoalescesConcurrentRequests(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	m := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetUpstream(context.Background(), srv.URL, ResponseBuffer, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "concurrent requests for the same URL must collapse to one")
}

func TestAllSettled_WaitsForRegisteredRequests(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	m := New(nil)
	done := make(chan struct{})
	FireAndForget(func() error {
		_, err := m.GetUpstream(context.Background(), srv.URL, ResponseBuffer, "")
		close(done)
		return err
	})

	settled := make(chan struct{})
	go func() {
		m.AllSettled()
		close(settled)
	}()

	select {
	case <-settled:
		t.Fatal("AllSettled returned before the inflight request finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	<-settled
}
