// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the storage layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/hookdock/internal/model"
)

// BinStore persists bins. Create must return repository.ErrConflict for a
// duplicate id; Get and Delete return repository.ErrNotFound.
type BinStore interface {
	Create(ctx context.Context, b *model.Bin) error
	Get(ctx context.Context, id string) (*model.Bin, error)
	Delete(ctx context.Context, id string) error
	ListWithCounts(ctx context.Context) ([]model.BinSummary, error)
}

// EventStore persists captured events.
type EventStore interface {
	Append(ctx context.Context, e *model.Event) error
	Get(ctx context.Context, id int64) (*model.Event, error)
	ListForBin(ctx context.Context, binID string, f model.EventFilter) ([]model.Event, error)
	Walk(ctx context.Context, binID string, fn func(*model.Event) error) error
	UpdateReplayResult(ctx context.Context, id int64, status int, at time.Time) error
}

// ErrValidation marks caller input the service refuses.
var ErrValidation = errors.New("invalid input")

// ErrIDCollision is returned when every generated bin id was already taken.
var ErrIDCollision = errors.New("could not generate a unique bin id")

// ErrInvalidTarget is returned when a replay target is not an absolute
// http(s) URL.
var ErrInvalidTarget = errors.New("target_url must be an absolute http(s) URL")

// ErrTransport marks replays that obtained no HTTP response at all.
var ErrTransport = errors.New("replay transport failure")

// TransportError carries the cause of a failed outbound replay. It matches
// both ErrTransport and the underlying error under errors.Is.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("replay to %s: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
