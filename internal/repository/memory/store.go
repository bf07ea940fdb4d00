// Package memory is an in-process implementation of the bin and event
// stores. It backs STORE_DRIVER=memory and the service and handler tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

// Store keeps bins and events in maps guarded by a single RWMutex.
// Returned values are copies; callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	bins   map[string]model.Bin
	events map[int64]*model.Event
	nextID int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		bins:   make(map[string]model.Bin),
		events: make(map[int64]*model.Event),
	}
}

// Bins exposes the store through the bin-store method set.
func (s *Store) Bins() *BinStore { return &BinStore{s} }

// Events exposes the store through the event-store method set.
func (s *Store) Events() *EventStore { return &EventStore{s} }

// BinStore is the bin half of Store.
type BinStore struct{ s *Store }

// Create inserts b, or returns repository.ErrConflict if the id is taken.
func (b *BinStore) Create(_ context.Context, bin *model.Bin) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bins[bin.ID]; ok {
		return repository.ErrConflict
	}
	s.bins[bin.ID] = copyBin(*bin)
	return nil
}

// Get returns a bin or repository.ErrNotFound.
func (b *BinStore) Get(_ context.Context, id string) (*model.Bin, error) {
	s := b.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	bin, ok := s.bins[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyBin(bin)
	return &out, nil
}

// Delete removes a bin and all of its events.
func (b *BinStore) Delete(_ context.Context, id string) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bins[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.bins, id)
	for eid, e := range s.events {
		if e.BinID == id {
			delete(s.events, eid)
		}
	}
	return nil
}

// ListWithCounts returns bins newest first with their event counts.
func (b *BinStore) ListWithCounts(_ context.Context) ([]model.BinSummary, error) {
	s := b.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64, len(s.bins))
	for _, e := range s.events {
		counts[e.BinID]++
	}
	out := make([]model.BinSummary, 0, len(s.bins))
	for _, bin := range s.bins {
		out = append(out, model.BinSummary{Bin: copyBin(bin), EventCount: counts[bin.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// EventStore is the event half of Store.
type EventStore struct{ s *Store }

// Append stores a copy of e and assigns its id. The owning bin must exist.
func (es *EventStore) Append(_ context.Context, e *model.Event) error {
	s := es.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bins[e.BinID]; !ok {
		return repository.ErrNotFound
	}
	s.nextID++
	e.ID = s.nextID
	stored := copyEvent(e)
	s.events[e.ID] = &stored
	return nil
}

// Get returns an event or repository.ErrNotFound.
func (es *EventStore) Get(_ context.Context, id int64) (*model.Event, error) {
	s := es.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyEvent(e)
	return &out, nil
}

// ListForBin mirrors the SQL listing: newest first, optional substring
// filter over body and headers, capped at repository.DefaultListLimit.
func (es *EventStore) ListForBin(_ context.Context, binID string, f model.EventFilter) ([]model.Event, error) {
	s := es.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > repository.DefaultListLimit {
		limit = repository.DefaultListLimit
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))

	var out []model.Event
	for _, e := range s.events {
		if e.BinID != binID {
			continue
		}
		if q != "" && !matches(e, q) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Walk calls fn for every event of a bin, oldest first.
func (es *EventStore) Walk(_ context.Context, binID string, fn func(*model.Event) error) error {
	s := es.s
	s.mu.RLock()
	var events []model.Event
	for _, e := range s.events {
		if e.BinID == binID {
			events = append(events, copyEvent(e))
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(events)
	for i := len(events) - 1; i >= 0; i-- {
		if err := fn(&events[i]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateReplayResult overwrites the replay fields of an event.
func (es *EventStore) UpdateReplayResult(_ context.Context, id int64, status int, at time.Time) error {
	s := es.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.LastReplayStatus = &status
	e.LastReplayAt = &at
	return nil
}

func matches(e *model.Event, q string) bool {
	if strings.Contains(strings.ToLower(e.Body), q) {
		return true
	}
	for k, v := range e.Headers {
		if strings.Contains(strings.ToLower(k), q) || strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func sortNewestFirst(events []model.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID > events[j].ID
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}

func copyBin(b model.Bin) model.Bin {
	if b.Name != nil {
		name := *b.Name
		b.Name = &name
	}
	return b
}

func copyEvent(e *model.Event) model.Event {
	out := *e
	out.Headers = copyMap(e.Headers)
	out.Query = copyMap(e.Query)
	if e.IP != nil {
		ip := *e.IP
		out.IP = &ip
	}
	if e.LastReplayStatus != nil {
		st := *e.LastReplayStatus
		out.LastReplayStatus = &st
	}
	if e.LastReplayAt != nil {
		at := *e.LastReplayAt
		out.LastReplayAt = &at
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
