package service

import (
	"context"
	"io"

	"github.com/Shivanand-hulikatti/hookdock/internal/archive"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

// EventService serves read access to captured events.
type EventService struct {
	bins   BinStore
	events EventStore
}

// NewEventService constructs an EventService.
func NewEventService(bins BinStore, events EventStore) *EventService {
	return &EventService{bins: bins, events: events}
}

// Get returns a single event or repository.ErrNotFound.
func (s *EventService) Get(ctx context.Context, id int64) (*model.Event, error) {
	if id <= 0 {
		return nil, repository.ErrNotFound
	}
	return s.events.Get(ctx, id)
}

// ListForBin returns a bin's events, newest first. An unknown bin yields
// repository.ErrNotFound rather than an empty list.
func (s *EventService) ListForBin(ctx context.Context, binID string, f model.EventFilter) ([]model.Event, error) {
	if !IsBinID(binID) {
		return nil, repository.ErrNotFound
	}
	if _, err := s.bins.Get(ctx, binID); err != nil {
		return nil, err
	}
	return s.events.ListForBin(ctx, binID, f)
}

// Export writes every event of an existing bin to w as gzip JSON Lines.
// The caller checks that the bin exists before committing to a response.
func (s *EventService) Export(ctx context.Context, binID string, w io.Writer) (int, error) {
	return archive.WriteJSONLGZ(ctx, s.events, binID, w)
}
