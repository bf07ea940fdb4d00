// Package model defines the core domain types for the request bin service.
package model

import "time"

// Field bounds enforced at ingestion and by the schema.
const (
	MaxMethodLen = 8
	MaxPathLen   = 2048
)

// Bin is a capture endpoint. Its ID doubles as the capability that lets a
// sender post to /i/{id}, so it must never be guessable.
type Bin struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BinSummary is a bin together with the number of events it owns, as
// produced by the aggregate listing query.
type BinSummary struct {
	Bin
	EventCount int64 `json:"event_count"`
}

// Event is one captured inbound HTTP request.
// Everything except the LastReplay* fields is immutable once stored.
type Event struct {
	ID               int64             `json:"id"`
	BinID            string            `json:"bin_id"`
	CreatedAt        time.Time         `json:"created_at"`
	Method           string            `json:"method"`
	Path             string            `json:"path"`
	IP               *string           `json:"ip"`
	Headers          map[string]string `json:"headers"`
	Query            map[string]string `json:"query"`
	Body             string            `json:"body"`
	LastReplayStatus *int              `json:"last_replay_status"`
	LastReplayAt     *time.Time        `json:"last_replay_at"`
}

// EventSummary is the list projection of an Event.
type EventSummary struct {
	ID               int64      `json:"id"`
	CreatedAt        time.Time  `json:"created_at"`
	Method           string     `json:"method"`
	Path             string     `json:"path"`
	IP               *string    `json:"ip"`
	LastReplayStatus *int       `json:"last_replay_status"`
	LastReplayAt     *time.Time `json:"last_replay_at"`
}

// Summary returns the list projection of e.
func (e *Event) Summary() EventSummary {
	return EventSummary{
		ID:               e.ID,
		CreatedAt:        e.CreatedAt,
		Method:           e.Method,
		Path:             e.Path,
		IP:               e.IP,
		LastReplayStatus: e.LastReplayStatus,
		LastReplayAt:     e.LastReplayAt,
	}
}

// EventFilter narrows an event listing. Query is a case-insensitive
// substring matched against the body and the serialized headers.
type EventFilter struct {
	Query string
	Limit int
}

// CreateBinRequest is the payload for creating a new bin.
type CreateBinRequest struct {
	Name *string `json:"name"`
}

// CreateBinResponse is returned after a bin is created.
type CreateBinResponse struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	IngestURL string    `json:"ingest_url"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestResponse acknowledges a captured request.
type IngestResponse struct {
	Status  string `json:"status"`
	EventID int64  `json:"event_id"`
}

// ReplayRequest is the payload for replaying an event.
type ReplayRequest struct {
	TargetURL string `json:"target_url"`
}

// ReplayResult is the outcome of a replay that obtained an HTTP response.
// Text holds at most the first 1000 characters of the response body.
type ReplayResult struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

// ArchiveResponse describes an uploaded bin export.
type ArchiveResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Events int    `json:"events"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
