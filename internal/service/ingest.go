package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"

	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

// InboundRequest is the raw material of an Event, as observed by the server.
type InboundRequest struct {
	Method     string
	Path       string
	RemoteAddr string
	Header     http.Header
	Query      url.Values
	Body       []byte
}

// Ingester turns inbound requests into stored events.
type Ingester struct {
	bins    BinStore
	events  EventStore
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewIngester constructs an Ingester.
func NewIngester(bins BinStore, events EventStore, m *metrics.Metrics, log zerolog.Logger) *Ingester {
	return &Ingester{
		bins:    bins,
		events:  events,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores exactly one new event for binID. An unknown bin yields
// repository.ErrNotFound and stores nothing. Payload bytes never cause a
// failure: invalid UTF-8 is replaced, not rejected.
func (g *Ingester) Ingest(ctx context.Context, binID string, in InboundRequest) (*model.Event, error) {
	if !IsBinID(binID) {
		g.metrics.IngestRejected.WithLabelValues("unknown_bin").Inc()
		return nil, repository.ErrNotFound
	}
	if _, err := g.bins.Get(ctx, binID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			g.metrics.IngestRejected.WithLabelValues("unknown_bin").Inc()
		}
		return nil, err
	}

	e := &model.Event{
		BinID:     binID,
		CreatedAt: g.now(),
		Method:    truncate(in.Method, model.MaxMethodLen),
		Path:      truncate(SanitizeText(in.Path), model.MaxPathLen),
		IP:        peerIP(in.RemoteAddr),
		Headers:   flattenHeader(in.Header),
		Query:     flattenValues(in.Query),
		Body:      DecodeBody(in.Body),
	}

	// The bin can vanish between the lookup and the insert; the foreign
	// key turns that into ErrNotFound as well.
	if err := g.events.Append(ctx, e); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("append event: %w", err)
	}

	g.metrics.EventsIngested.WithLabelValues(e.Method).Inc()
	g.log.Debug().
		Str("bin_id", binID).
		Int64("event_id", e.ID).
		Str("method", e.Method).
		Int("body_bytes", len(in.Body)).
		Msg("event captured")
	return e, nil
}

// DecodeBody decodes raw as UTF-8, replacing invalid sequences and NUL
// bytes with U+FFFD. It never fails.
func DecodeBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		decoded = []byte(strings.ToValidUTF8(string(raw), string(utf8.RuneError)))
	}
	return strings.ReplaceAll(string(decoded), "\x00", string(utf8.RuneError))
}

// SanitizeText applies DecodeBody's rules to a string from the request line
// or headers, so it can be stored in TEXT and JSONB columns.
func SanitizeText(s string) string {
	if utf8.ValidString(s) && !strings.Contains(s, "\x00") {
		return s
	}
	return DecodeBody([]byte(s))
}

// flattenHeader keeps the last value of each header, matching a
// single-valued header mapping.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		out[SanitizeText(k)] = SanitizeText(vs[len(vs)-1])
	}
	return out
}

func flattenValues(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k, vs := range v {
		if len(vs) == 0 {
			continue
		}
		out[SanitizeText(k)] = SanitizeText(vs[len(vs)-1])
	}
	return out
}

// peerIP returns the host part of a RemoteAddr, or nil when there is none.
func peerIP(remoteAddr string) *string {
	if remoteAddr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		// chi's RealIP middleware stores a bare address without a port.
		host = remoteAddr
	}
	if net.ParseIP(host) == nil {
		return nil
	}
	return &host
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
