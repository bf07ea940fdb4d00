package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

// ReplayTextLimit is the number of response-body characters returned to the
// caller of a replay.
const ReplayTextLimit = 1000

// blockedReplayHeaders describe the original connection and are never
// copied onto the outbound request. Keys are lower-case.
var blockedReplayHeaders = map[string]struct{}{
	"host":                {},
	"content-length":      {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// ReplayOptions tune the replay engine.
type ReplayOptions struct {
	// Timeout bounds one outbound call end to end. Non-positive values use
	// 20 seconds.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous outbound calls.
	MaxConcurrent int
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Replayer re-sends stored events to arbitrary targets.
type Replayer struct {
	events  EventStore
	client  *http.Client
	timeout time.Duration
	slots   *semaphore.Weighted
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewReplayer constructs a Replayer with its own HTTP transport so slow
// replay targets cannot exhaust connections used elsewhere.
func NewReplayer(events EventStore, opts ReplayOptions, m *metrics.Metrics, log zerolog.Logger) *Replayer {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = 4
		t.ResponseHeaderTimeout = opts.Timeout
		transport = t
	}
	return &Replayer{
		events: events,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			// A redirect is the target's answer; record it rather than follow it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: opts.Timeout,
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Replay sends event eventID to targetURL and records the response status
// on the event. Any HTTP response, whatever its status, is a successful
// replay. When no response is obtained the error is a *TransportError and
// the event is left untouched.
func (p *Replayer) Replay(ctx context.Context, eventID int64, targetURL string) (*model.ReplayResult, error) {
	e, err := p.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	target, err := parseTarget(targetURL)
	if err != nil {
		return nil, err
	}

	req, err := buildReplayRequest(ctx, e, target)
	if err != nil {
		return nil, err
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for replay slot: %w", err)
	}
	defer p.slots.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	p.metrics.ReplaysInFlight.Inc()
	start := time.Now()
	resp, err := p.client.Do(req)
	p.metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	p.metrics.ReplaysInFlight.Dec()
	if err != nil {
		p.metrics.Replays.WithLabelValues(metrics.ReplayTransport).Inc()
		p.log.Warn().Err(err).Int64("event_id", e.ID).Str("target", target.Redacted()).Msg("replay failed")
		return nil, &TransportError{Target: target.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	text, readErr := readResponseText(resp, ReplayTextLimit)
	if readErr != nil {
		p.log.Warn().Err(readErr).Int64("event_id", e.ID).Msg("replay response body truncated by read error")
	}

	p.metrics.Replays.WithLabelValues(metrics.ReplayDelivered).Inc()
	p.recordResult(ctx, e.ID, resp.StatusCode)

	p.log.Info().
		Int64("event_id", e.ID).
		Str("target", target.Redacted()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("event replayed")

	return &model.ReplayResult{Status: resp.StatusCode, Text: text}, nil
}

// recordResult persists the replay outcome. It runs detached from caller
// cancellation: a response was obtained, so the result must be kept.
func (p *Replayer) recordResult(ctx context.Context, eventID int64, status int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := p.events.UpdateReplayResult(ctx, eventID, status, p.now())
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		// Bin deleted while the replay was in flight.
		p.log.Debug().Int64("event_id", eventID).Msg("replayed event no longer exists")
	default:
		p.log.Error().Err(err).Int64("event_id", eventID).Msg("record replay result")
	}
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidTarget
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, nil
	default:
		return nil, ErrInvalidTarget
	}
}

func buildReplayRequest(ctx context.Context, e *model.Event, target *url.URL) (*http.Request, error) {
	method := e.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader = http.NoBody
	if e.Body != "" {
		body = bytes.NewReader([]byte(e.Body))
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build replay request: %w", err)
	}
	for k, v := range ForwardableHeaders(e.Headers) {
		req.Header[k] = []string{v}
	}
	return req, nil
}

// ForwardableHeaders returns the headers of h that may be copied onto a new
// connection, dropping hop-by-hop and framing headers case-insensitively.
// Header names keep the case they were stored with.
func ForwardableHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, blocked := blockedReplayHeaders[strings.ToLower(k)]; blocked {
			continue
		}
		out[k] = v
	}
	return out
}

// readResponseText returns at most limit characters of the decoded
// response body. Content encodings the transport left in place (because the
// forwarded request carried its own Accept-Encoding) are undone first.
func readResponseText(resp *http.Response, limit int) (string, error) {
	body, err := decodeContent(resp)
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if c, ok := body.(io.Closer); ok && body != resp.Body {
		defer c.Close()
	}

	// A UTF-8 character is at most four bytes, so this many bytes always
	// hold the first limit characters.
	raw, err := io.ReadAll(io.LimitReader(body, int64(limit)*utf8.UTFMax))
	text := DecodeBody(raw)
	if utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return text, err
}

func decodeContent(resp *http.Response) (io.Reader, error) {
	if resp.Uncompressed {
		return resp.Body, nil
	}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return zlib.NewReader(resp.Body)
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return resp.Body, nil
	}
}
