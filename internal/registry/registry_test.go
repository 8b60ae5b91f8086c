package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/snapshot"
	"github.com/roach88/tabula/internal/testutil"
)

func fetchShows(_ context.Context, args []any) ([]row.Record, error) {
	return []row.Record{{"Show": "Expo", "Tab": args[0]}}, nil
}

func fetchInventory(context.Context, []any) ([]row.Record, error) {
	return []row.Record{{"Item": "Chair"}}, nil
}

func saveNothing(context.Context, []row.Record, []any) error {
	return nil
}

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)...)
	t.Cleanup(r.Clear)
	return r
}

func TestGetStore_SharesInstances(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	a, err := r.GetStore(ctx, fetchShows, saveNothing, []any{"Schedule"}, false)
	require.NoError(t, err)
	b, err := r.GetStore(ctx, fetchShows, saveNothing, []any{"Schedule"}, false)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := r.GetStore(ctx, fetchShows, saveNothing, []any{"Packlists"}, false)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	assert.Equal(t, 2, r.Len())
}

func TestGetStore_FunctionsAreIdentity(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	args := []any{"Schedule"}

	withSave, err := r.GetStore(ctx, fetchShows, saveNothing, args, false)
	require.NoError(t, err)
	readOnly, err := r.GetStore(ctx, fetchShows, nil, args, false)
	require.NoError(t, err)
	other, err := r.GetStore(ctx, fetchInventory, saveNothing, args, false)
	require.NoError(t, err)

	assert.NotSame(t, withSave, readOnly)
	assert.NotSame(t, withSave, other)
	assert.Equal(t, 3, r.Len())
}

func TestKey(t *testing.T) {
	k1, err := Key(fetchShows, nil, []any{"Schedule", 2, map[string]any{"b": true, "a": nil}})
	require.NoError(t, err)
	k2, err := Key(fetchShows, nil, []any{"Schedule", 2, map[string]any{"a": nil, "b": true}})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "map order does not matter")
	assert.Len(t, k1, 64)

	k3, err := Key(fetchShows, nil, nil)
	require.NoError(t, err)
	k4, err := Key(fetchShows, nil, []any{})
	require.NoError(t, err)
	assert.Equal(t, k3, k4)

	_, err = Key(fetchShows, nil, []any{1.5})
	assert.Error(t, err)
}

func TestGetStore_RejectsBadInput(t *testing.T) {
	r := newRegistry(t)

	_, err := r.GetStore(context.Background(), fetchShows, nil, []any{struct{}{}}, false)
	assert.Error(t, err)

	_, err = r.GetStore(context.Background(), nil, nil, nil, false)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.GetStore(ctx, fetchShows, nil, nil, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestGetStore_AutoLoad(t *testing.T) {
	r := newRegistry(t)

	s, err := r.GetStore(context.Background(), fetchShows, nil, []any{"Schedule"}, true)
	require.NoError(t, err)
	s.Wait()

	require.Equal(t, 1, s.Data().Len())
	assert.Equal(t, "Schedule", s.Data().At(0).Text("Tab"))

	again, err := r.GetStore(context.Background(), fetchShows, nil, []any{"Schedule"}, true)
	require.NoError(t, err)
	again.Wait()
	assert.Equal(t, 1, again.Data().Len(), "existing stores are not reloaded")
}

func TestGetStore_AppliesOptions(t *testing.T) {
	r := newRegistry(t,
		WithStoreOptions(snapshot.WithRequiredFields("Show")),
		WithAutoSave(time.Hour),
	)

	s, err := r.GetStore(context.Background(), fetchShows, saveNothing, []any{"Schedule"}, false,
		snapshot.WithKeyFields("Item"))
	require.NoError(t, err)

	added, err := s.AddRow(row.Record{"Item": "Chair"})
	require.NoError(t, err)
	assert.Equal(t, "", added.Text("Show"))
	assert.Equal(t, []string{"Item"}, s.KeyFields())
	assert.False(t, s.StartAutoSave(time.Hour), "autosave already running")
}

func TestClear_ClosesStores(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithAutoSave(time.Millisecond))
	s, err := r.GetStore(context.Background(), fetchShows, saveNothing, []any{"Schedule"}, true)
	require.NoError(t, err)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.True(t, snapshot.IsCode(s.Load(context.Background(), ""), snapshot.ErrCodeClosed))

	fresh, err := r.GetStore(context.Background(), fetchShows, saveNothing, []any{"Schedule"}, false)
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	r.Clear()
}

func TestGetSourceStore_KeysBySource(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	shows := testutil.NewMemorySource(row.Record{"Show": "Expo"})
	inventory := testutil.NewMemorySource(row.Record{"Item": "Chair"})

	a, err := r.GetSourceStore(ctx, shows, nil, false)
	require.NoError(t, err)
	b, err := r.GetSourceStore(ctx, inventory, nil, false)
	require.NoError(t, err)
	require.NotSame(t, a, b, "same methods, different sources")

	again, err := r.GetSourceStore(ctx, shows, nil, false)
	require.NoError(t, err)
	assert.Same(t, a, again)

	require.NoError(t, a.Load(ctx, ""))
	require.NoError(t, b.Load(ctx, ""))
	assert.Equal(t, "Expo", a.Data().At(0).Text("Show"))
	assert.Equal(t, "Chair", b.Data().At(0).Text("Item"))

	_, err = r.GetSourceStore(ctx, &testutil.MemorySource{}, nil, false)
	assert.Error(t, err, "a source without an id")
	_, err = r.GetSourceStore(ctx, nil, nil, false)
	assert.Error(t, err)
}

func TestGetStore_RejectsUnstableIdentity(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	src := testutil.NewMemorySource()

	_, err := r.GetStore(ctx, src.Fetch, src.Save, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GetSourceStore")

	closure := func(context.Context, []any) ([]row.Record, error) { return nil, nil }
	_, err = r.GetStore(ctx, closure, nil, nil, false)
	assert.Error(t, err)

	_, err = r.GetStore(ctx, fetchShows, src.Save, nil, false)
	assert.Error(t, err, "save identity is checked too")
	assert.Equal(t, 0, r.Len())
}

func TestSourceKey(t *testing.T) {
	k1, err := SourceKey("memory:a", []any{"Schedule"})
	require.NoError(t, err)
	k2, err := SourceKey("memory:b", []any{"Schedule"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	k3, err := Key(fetchShows, nil, []any{"Schedule"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = SourceKey("", nil)
	assert.Error(t, err)
}
