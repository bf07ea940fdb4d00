package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

// Bin id shape: 36^8 ≈ 2.8e12 possible ids.
const (
	BinIDLength   = 8
	BinIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxBinNameLen    = 200
	maxIDGenAttempts = 5
)

var alphabetSize = big.NewInt(int64(len(BinIDAlphabet)))

// NewBinID draws BinIDLength symbols uniformly from BinIDAlphabet using
// random. Pass crypto/rand.Reader in production.
func NewBinID(random io.Reader) (string, error) {
	b := make([]byte, BinIDLength)
	for i := range b {
		n, err := rand.Int(random, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = BinIDAlphabet[n.Int64()]
	}
	return string(b), nil
}

// IsBinID reports whether s has the shape of a generated bin id.
func IsBinID(s string) bool {
	if len(s) != BinIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(BinIDAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// BinService is the bin registry.
type BinService struct {
	bins    BinStore
	metrics *metrics.Metrics
	log     zerolog.Logger
	newID   func() (string, error)
	now     func() time.Time
}

// NewBinService constructs a BinService with a crypto/rand id source.
func NewBinService(bins BinStore, m *metrics.Metrics, log zerolog.Logger) *BinService {
	return &BinService{
		bins:    bins,
		metrics: m,
		log:     log,
		newID:   func() (string, error) { return NewBinID(rand.Reader) },
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the name and stores a bin under a fresh id, drawing a
// new id whenever the store reports a collision.
func (s *BinService) Create(ctx context.Context, req model.CreateBinRequest) (*model.Bin, error) {
	var name *string
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if utf8.RuneCountInString(trimmed) > maxBinNameLen {
			return nil, validationError("name cannot exceed %d characters", maxBinNameLen)
		}
		if trimmed != "" {
			name = &trimmed
		}
	}

	for attempt := 1; attempt <= maxIDGenAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generate bin id: %w", err)
		}
		bin := &model.Bin{ID: id, Name: name, CreatedAt: s.now()}
		err = s.bins.Create(ctx, bin)
		if err == nil {
			s.metrics.BinsCreated.Inc()
			s.log.Info().Str("bin_id", id).Msg("bin created")
			return bin, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("create bin: %w", err)
		}
		s.log.Warn().Str("bin_id", id).Int("attempt", attempt).Msg("bin id collision, regenerating")
	}
	return nil, ErrIDCollision
}

// Get returns a bin or repository.ErrNotFound.
func (s *BinService) Get(ctx context.Context, id string) (*model.Bin, error) {
	if !IsBinID(id) {
		return nil, repository.ErrNotFound
	}
	return s.bins.Get(ctx, id)
}

// Delete removes a bin and, by cascade, all of its events.
func (s *BinService) Delete(ctx context.Context, id string) error {
	if !IsBinID(id) {
		return repository.ErrNotFound
	}
	if err := s.bins.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("bin_id", id).Msg("bin deleted")
	return nil
}

// List returns every bin with its event count, newest first.
func (s *BinService) List(ctx context.Context) ([]model.BinSummary, error) {
	return s.bins.ListWithCounts(ctx)
}
