package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

type replayFixture struct {
	*ingestFixture
	replayer *Replayer
}

func newReplayFixture(t *testing.T, opts ReplayOptions) *replayFixture {
	t.Helper()
	f := newIngestFixture(t)
	return &replayFixture{
		ingestFixture: f,
		replayer:      NewReplayer(f.store.Events(), opts, f.metrics, zerolog.Nop()),
	}
}

func (f *replayFixture) capture(t *testing.T, in InboundRequest) *model.Event {
	t.Helper()
	e, err := f.ingester.Ingest(context.Background(), f.binID, in)
	require.NoError(t, err)
	return e
}

func TestReplay_ForwardsRequest(t *testing.T) {
	type seen struct {
		method, host, path, sig, upgrade, ctype string
		contentLength                           int64
		body                                    string
	}
	got := make(chan seen, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{
			method:        r.Method,
			host:          r.Host,
			path:          r.URL.RequestURI(),
			sig:           r.Header.Get("X-Signature"),
			upgrade:       r.Header.Get("Upgrade"),
			ctype:         r.Header.Get("Content-Type"),
			contentLength: r.ContentLength,
			body:          string(b),
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "thanks")
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{
		Method: "PATCH",
		Path:   "/i/" + f.binID,
		Header: http.Header{
			"Host":           {"hooks.example.com"},
			"Content-Length": {"999"},
			"Connection":     {"keep-alive"},
			"Upgrade":        {"websocket"},
			"X-Signature":    {"sha256=abc"},
			"Content-Type":   {"application/json"},
		},
		Body: []byte(`{"n":1}`),
	})

	res, err := f.replayer.Replay(context.Background(), e.ID, target.URL+"/hook?x=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, "thanks", res.Text)

	s := <-got
	assert.Equal(t, "PATCH", s.method)
	assert.Equal(t, strings.TrimPrefix(target.URL, "http://"), s.host)
	assert.Equal(t, "/hook?x=1", s.path)
	assert.Equal(t, "sha256=abc", s.sig)
	assert.Equal(t, "application/json", s.ctype)
	assert.Empty(t, s.upgrade)
	assert.Equal(t, int64(len(`{"n":1}`)), s.contentLength)
	assert.Equal(t, `{"n":1}`, s.body)

	stored, err := f.store.Events().Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastReplayStatus)
	assert.Equal(t, http.StatusAccepted, *stored.LastReplayStatus)
	require.NotNil(t, stored.LastReplayAt)
	assert.WithinDuration(t, time.Now(), *stored.LastReplayAt, time.Minute)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Replays.WithLabelValues(metrics.ReplayDelivered)))
}

func TestReplay_ErrorStatusIsSuccess(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{Method: "POST"})

	res, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Equal(t, "boom\n", res.Text)

	stored, err := f.store.Events().Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastReplayStatus)
	assert.Equal(t, http.StatusInternalServerError, *stored.LastReplayStatus)
}

func TestReplay_LatestResultWins(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{Method: "POST"})

	_, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	status.Store(http.StatusNotFound)
	_, err = f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)

	stored, err := f.store.Events().Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, *stored.LastReplayStatus)
}

func TestReplay_TransportFailureLeavesEventUntouched(t *testing.T) {
	target := httptest.NewServer(http.NotFoundHandler())
	url := target.URL
	target.Close()

	f := newReplayFixture(t, ReplayOptions{Timeout: 2 * time.Second})
	e := f.capture(t, InboundRequest{Method: "POST", Body: []byte("x")})

	res, err := f.replayer.Replay(context.Background(), e.ID, url)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTransport)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, url, terr.Target)

	stored, err := f.store.Events().Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastReplayStatus)
	assert.Nil(t, stored.LastReplayAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Replays.WithLabelValues(metrics.ReplayTransport)))
}

func TestReplay_Timeout(t *testing.T) {
	release := make(chan struct{})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer target.Close()
	defer close(release)

	f := newReplayFixture(t, ReplayOptions{Timeout: 100 * time.Millisecond})
	e := f.capture(t, InboundRequest{Method: "GET"})

	_, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestReplay_TruncatesText(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("é", 5000))
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{Method: "POST"})

	res, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", ReplayTextLimit), res.Text)
}

func TestReplay_DecodesCompressedResponse(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, "compressed reply")
		_ = gz.Close()
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{
		Method: "POST",
		Header: http.Header{"Accept-Encoding": {"gzip"}},
	})

	res, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, "compressed reply", res.Text)
}

func TestReplay_DoesNotFollowRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{Method: "POST"})

	res, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, res.Status)
}

func TestReplay_EmptyMethodDefaultsToPost(t *testing.T) {
	methods := make(chan string, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{})

	_, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, <-methods)
}

func TestReplay_SendsStoredMethodUnchanged(t *testing.T) {
	methods := make(chan string, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
	}))
	defer target.Close()

	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{Method: "post"})

	_, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, "post", <-methods)
}

func TestReplay_InvalidTarget(t *testing.T) {
	f := newReplayFixture(t, ReplayOptions{})
	e := f.capture(t, InboundRequest{Method: "POST"})

	for _, target := range []string{"", "not a url", "/relative/path", "ftp://example.com/x", "http://"} {
		_, err := f.replayer.Replay(context.Background(), e.ID, target)
		assert.ErrorIs(t, err, ErrInvalidTarget, "target %q", target)
	}
}

func TestReplay_UnknownEvent(t *testing.T) {
	f := newReplayFixture(t, ReplayOptions{})
	_, err := f.replayer.Replay(context.Background(), 9999, "http://example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReplay_EventDeletedInFlight(t *testing.T) {
	f := newReplayFixture(t, ReplayOptions{})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = f.store.Bins().Delete(context.Background(), f.binID)
		_, _ = io.WriteString(w, "ok")
	}))
	defer target.Close()

	e := f.capture(t, InboundRequest{Method: "POST"})

	res, err := f.replayer.Replay(context.Background(), e.ID, target.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)

	_, err = f.store.Events().Get(context.Background(), e.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestForwardableHeaders(t *testing.T) {
	in := map[string]string{
		"Host":                "a",
		"content-length":      "1",
		"CONNECTION":          "close",
		"Keep-Alive":          "5",
		"Proxy-Authenticate":  "x",
		"Proxy-Authorization": "x",
		"Te":                  "trailers",
		"Trailers":            "x",
		"Transfer-Encoding":   "chunked",
		"Upgrade":             "h2c",
		"X-Custom":            "kept",
		"authorization":       "Bearer t",
	}
	assert.Equal(t, map[string]string{
		"X-Custom":      "kept",
		"authorization": "Bearer t",
	}, ForwardableHeaders(in))
}
