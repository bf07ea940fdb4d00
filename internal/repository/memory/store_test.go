package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/hookdock/internal/model"
	"github.com/Shivanand-hulikatti/hookdock/internal/repository"
)

func TestBinStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	name := "orders"

	require.NoError(t, s.Bins().Create(ctx, &model.Bin{ID: "AAAAAAAA", Name: &name, CreatedAt: time.Unix(100, 0)}))
	require.NoError(t, s.Bins().Create(ctx, &model.Bin{ID: "BBBBBBBB", CreatedAt: time.Unix(200, 0)}))
	assert.ErrorIs(t, s.Bins().Create(ctx, &model.Bin{ID: "AAAAAAAA"}), repository.ErrConflict)

	got, err := s.Bins().Get(ctx, "AAAAAAAA")
	require.NoError(t, err)
	require.NotNil(t, got.Name)
	*got.Name = "mutated"

	again, err := s.Bins().Get(ctx, "AAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "orders", *again.Name)

	list, err := s.Bins().ListWithCounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "BBBBBBBB", list[0].ID)
	assert.Equal(t, "AAAAAAAA", list[1].ID)

	_, err = s.Bins().Get(ctx, "CCCCCCCC")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, s.Bins().Delete(ctx, "CCCCCCCC"), repository.ErrNotFound)
}

func TestEventStore_AppendRequiresBin(t *testing.T) {
	s := NewStore()
	err := s.Events().Append(context.Background(), &model.Event{BinID: "NOPE0000"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEventStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Bins().Create(ctx, &model.Bin{ID: "AAAAAAAA"}))
	require.NoError(t, s.Bins().Create(ctx, &model.Bin{ID: "BBBBBBBB"}))

	var doomed []int64
	for i := 0; i < 3; i++ {
		e := &model.Event{BinID: "AAAAAAAA", CreatedAt: time.Now()}
		require.NoError(t, s.Events().Append(ctx, e))
		doomed = append(doomed, e.ID)
	}
	kept := &model.Event{BinID: "BBBBBBBB", CreatedAt: time.Now()}
	require.NoError(t, s.Events().Append(ctx, kept))

	require.NoError(t, s.Bins().Delete(ctx, "AAAAAAAA"))

	for _, id := range doomed {
		_, err := s.Events().Get(ctx, id)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
	_, err := s.Events().Get(ctx, kept.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, s.Events().UpdateReplayResult(ctx, doomed[0], 200, time.Now()), repository.ErrNotFound)
}

func TestEventStore_ListAndWalkOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Bins().Create(ctx, &model.Bin{ID: "AAAAAAAA"}))

	base := time.Unix(1_700_000_000, 0)
	var ids []int64
	for i := 0; i < 5; i++ {
		e := &model.Event{
			BinID:     "AAAAAAAA",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Headers:   map[string]string{"X-Index": string(rune('a' + i))},
			Body:      "payload",
		}
		require.NoError(t, s.Events().Append(ctx, e))
		ids = append(ids, e.ID)
	}

	list, err := s.Events().ListForBin(ctx, "AAAAAAAA", model.EventFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{ids[4], ids[3], ids[2]}, []int64{list[0].ID, list[1].ID, list[2].ID})

	filtered, err := s.Events().ListForBin(ctx, "AAAAAAAA", model.EventFilter{Query: "x-index"})
	require.NoError(t, err)
	assert.Len(t, filtered, 5)

	filtered, err = s.Events().ListForBin(ctx, "AAAAAAAA", model.EventFilter{Query: "nothing-matches"})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	var walked []int64
	require.NoError(t, s.Events().Walk(ctx, "AAAAAAAA", func(e *model.Event) error {
		walked = append(walked, e.ID)
		return nil
	}))
	assert.Equal(t, ids, walked)

	stop := errors.New("stop")
	err = s.Events().Walk(ctx, "AAAAAAAA", func(*model.Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestEventStore_UpdateReplayResult(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Bins().Create(ctx, &model.Bin{ID: "AAAAAAAA"}))
	e := &model.Event{BinID: "AAAAAAAA", Headers: map[string]string{"A": "1"}}
	require.NoError(t, s.Events().Append(ctx, e))

	at := time.Now().UTC()
	require.NoError(t, s.Events().UpdateReplayResult(ctx, e.ID, 418, at))

	got, err := s.Events().Get(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastReplayStatus)
	assert.Equal(t, 418, *got.LastReplayStatus)
	assert.True(t, at.Equal(*got.LastReplayAt))

	got.Headers["A"] = "changed"
	again, err := s.Events().Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Headers["A"])
}
