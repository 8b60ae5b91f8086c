package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/testutil"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func newStore(t *testing.T, src *testutil.MemorySource, opts ...Option) *Store {
	t.Helper()
	s := New(src.Fetch, src.Save, []any{"Schedule"}, append([]Option{quiet}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func packlist() row.Record {
	return row.Record{
		"Show":   "Expo",
		"Client": "Acme",
		"Items": []row.Record{
			{"Item": "Chair", "Qty": int64(4)},
			{"Item": "Table", "Qty": int64(1)},
		},
	}
}

func TestLoad_RoundTripIndependence(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(packlist()))
	require.NoError(t, s.Load(context.Background(), "Loading..."))

	assert.Equal(t, s.Data().Records(), s.Original().Records())
	assert.NotSame(t, s.Data().At(0), s.Original().At(0))

	items, _ := s.Data().At(0).Nested("Items")
	items.At(0).Set("Item", row.String("Sofa"))
	s.Data().At(0).Set("Show", row.String("Changed"))

	origItems, _ := s.Original().At(0).Nested("Items")
	assert.Equal(t, "Chair", origItems.At(0).Text("Item"))
	assert.Equal(t, "Expo", s.Original().At(0).Text("Show"))
	assert.True(t, s.IsDirty())
}

func TestLoad_AttachesEmptyAppData(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(packlist()))
	require.NoError(t, s.Load(context.Background(), ""))

	app, err := s.AppData(0)
	require.NoError(t, err)
	assert.Equal(t, row.AppData{}, app)

	nested, err := s.NestedAppData(0, "Items", 1)
	require.NoError(t, err)
	assert.Equal(t, row.AppData{}, nested)

	st := s.State()
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.LoadingMessage)
	assert.Equal(t, 1, st.Rows)
	assert.False(t, st.Dirty)
}

func TestLoad_NilResultIsEmpty(t *testing.T) {
	s := New(func(context.Context, []any) ([]row.Record, error) { return nil, nil }, nil, nil, quiet)
	defer s.Close()

	require.NoError(t, s.Load(context.Background(), ""))
	assert.NotNil(t, s.Data())
	assert.Equal(t, 0, s.Data().Len())
	assert.Equal(t, 0, s.Original().Len())
}

func TestLoad_FailureEmptiesTables(t *testing.T) {
	src := testutil.NewMemorySource(packlist())
	s := newStore(t, src)
	require.NoError(t, s.Load(context.Background(), ""))
	require.Equal(t, 1, s.Data().Len())

	src.SetFetchErr(errors.New("sheet offline"))
	err := s.Load(context.Background(), "Reloading...")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeFetchFailed))

	st := s.State()
	assert.Equal(t, "sheet offline", st.Error)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.LoadingMessage)
	assert.Equal(t, 0, s.Data().Len())
	assert.Equal(t, 0, s.Original().Len())
}

func TestLoad_KeepsTableIdentity(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(packlist()))
	data, original := s.Data(), s.Original()

	require.NoError(t, s.Load(context.Background(), ""))
	require.NoError(t, s.Load(context.Background(), ""))

	assert.Same(t, data, s.Data())
	assert.Same(t, original, s.Original())
}

func TestLoad_StaleCompletionIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int
	var mu sync.Mutex
	fetch := func(ctx context.Context, _ []any) ([]row.Record, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
			return []row.Record{{"Show": "stale"}}, nil
		}
		return []row.Record{{"Show": "fresh"}}, nil
	}
	s := New(fetch, nil, nil, quiet)
	defer s.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Load(context.Background(), "") }()
	<-started

	require.NoError(t, s.Load(context.Background(), ""))
	close(release)

	err := <-errc
	assert.True(t, IsSuperseded(err))
	require.Equal(t, 1, s.Data().Len())
	assert.Equal(t, "fresh", s.Data().At(0).Text("Show"))
}

func TestReset_SupersedesInFlightLoad(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetch := func(ctx context.Context, _ []any) ([]row.Record, error) {
		close(started)
		<-release
		return []row.Record{{"Show": "late"}}, nil
	}
	s := New(fetch, nil, nil, quiet)
	defer s.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Load(context.Background(), "") }()
	<-started
	s.Reset()
	close(release)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, 0, s.Data().Len())
	assert.Equal(t, State{Generation: s.State().Generation}, s.State())
}

func TestMarkRowForDeletion(t *testing.T) {
	tests := []struct {
		name      string
		rec       row.Record
		wantRows  int
		wantFlag  bool
		keyFields []string
	}{
		{"placeholder removed", row.Record{"Show": "", "Notes": "  "}, 0, false, nil},
		{"content flagged", row.Record{"Show": "Expo", "Notes": ""}, 1, true, nil},
		{"key fields without WithKeyFields flagged", row.Record{"Show": "Expo", "Client": "Acme"}, 1, true, nil},
		{"only key fields removed", row.Record{"Show": "Expo", "Client": "Acme"}, 0, false, []string{"Show", "Client"}},
		{"non-key content flagged", row.Record{"Show": "Expo", "Notes": "call"}, 1, true, []string{"Show", "Client"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, testutil.NewMemorySource(tt.rec), WithKeyFields(tt.keyFields...))
			require.NoError(t, s.Load(context.Background(), ""))

			require.NoError(t, s.MarkRowForDeletion(0, true))
			require.Equal(t, tt.wantRows, s.Data().Len())
			if tt.wantRows > 0 {
				app, err := s.AppData(0)
				require.NoError(t, err)
				assert.Equal(t, tt.wantFlag, app.MarkedForDeletion)
				assert.Empty(t, s.Payload(), "marked rows are excluded from the payload")
			}
		})
	}
}

func TestMarkRowForDeletion_Unmark(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(row.Record{"Show": "Expo"}))
	require.NoError(t, s.Load(context.Background(), ""))

	require.NoError(t, s.MarkRowForDeletion(0, true))
	require.NoError(t, s.MarkRowForDeletion(0, false))
	app, err := s.AppData(0)
	require.NoError(t, err)
	assert.False(t, app.MarkedForDeletion)
	assert.Len(t, s.Payload(), 1)
}

func TestMarkRowForDeletion_OutOfRange(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource())
	err := s.MarkRowForDeletion(3, true)
	assert.True(t, IsCode(err, ErrCodeRowNotFound))
}

func TestSave_StripsAppDataAtEveryDepth(t *testing.T) {
	src := testutil.NewMemorySource(packlist())
	s := newStore(t, src)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, ""))

	require.NoError(t, s.UpdateAppData(0, func(a *row.AppData) { a.Analyzed = true }))
	require.NoError(t, s.UpdateNestedAppData(0, "Items", 1, func(a *row.AppData) { a.Err = "low stock" }))
	s.Data().At(0).SetDerived("stock", row.Int(3))

	require.NoError(t, s.Save(ctx, "Saving..."))

	saved := src.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, []row.Record{packlist()}, saved[0])
	assertNoAppData(t, saved[0])
}

func assertNoAppData(t *testing.T, recs []row.Record) {
	t.Helper()
	for _, rec := range recs {
		for k, v := range rec {
			assert.NotEqual(t, "AppData", k)
			if nested, ok := v.([]row.Record); ok {
				assertNoAppData(t, nested)
			}
		}
	}
}

func TestSave_NoSaveFunc(t *testing.T) {
	src := testutil.NewMemorySource(packlist())
	s := New(src.Fetch, nil, nil, quiet)
	defer s.Close()
	require.NoError(t, s.Load(context.Background(), ""))

	err := s.Save(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNoSaveFunc))
	assert.Equal(t, "no save function configured", s.State().Error)
	assert.Equal(t, 1, src.Fetches(), "no refetch without a save")
}

func TestSave_RemovesMarkedRowsAndRefreshesOriginal(t *testing.T) {
	src := testutil.NewMemorySource(
		row.Record{"Show": "Expo", "Client": "acme"},
		row.Record{"Show": "Fair", "Client": "globex"},
	)
	src.Normalize = func(r row.Record) row.Record {
		r["Client"] = strings.ToUpper(r["Client"].(string))
		return r
	}
	s := newStore(t, src)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, ""))

	require.NoError(t, s.MarkRowForDeletion(1, true))
	require.NoError(t, s.Save(ctx, ""))

	require.Equal(t, 1, s.Data().Len())
	assert.Equal(t, "Expo", s.Data().At(0).Text("Show"))
	assert.Equal(t, "acme", s.Data().At(0).Text("Client"), "live edits are kept")
	assert.Equal(t, []row.Record{{"Show": "Expo", "Client": "ACME"}}, s.Original().Records(),
		"original reflects what the source stored")
	assert.Empty(t, s.State().Error)
}

func TestSave_ReloadFailureKeepsSave(t *testing.T) {
	src := testutil.NewMemorySource(row.Record{"Show": "Expo"}, row.Record{"Show": "Fair"})
	s := newStore(t, src)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, ""))

	require.NoError(t, s.MarkRowForDeletion(1, true))
	src.SetFetchErr(errors.New("timeout"))
	err := s.Save(ctx, "")

	assert.True(t, IsCode(err, ErrCodeReloadFailed))
	assert.Equal(t, []row.Record{{"Show": "Expo"}}, src.Rows())
	assert.Equal(t, 1, s.Data().Len())
	assert.Equal(t, s.Data().Records(), s.Original().Records())
	assert.Contains(t, s.State().Error, "timeout")
	assert.False(t, s.IsDirty())
}

func TestSave_FailureSetsError(t *testing.T) {
	src := testutil.NewMemorySource(row.Record{"Show": "Expo"})
	src.SaveErr = errors.New("quota exceeded")
	s := newStore(t, src)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, ""))
	require.NoError(t, s.MarkRowForDeletion(0, true))

	err := s.Save(ctx, "")
	assert.True(t, IsCode(err, ErrCodeSaveFailed))
	assert.Equal(t, "quota exceeded", s.State().Error)
	assert.Equal(t, 1, s.Data().Len(), "marked rows stay until a save succeeds")
}

func TestScenario_DeleteReaddSave(t *testing.T) {
	src := testutil.NewMemorySource(row.Record{"Show": "Expo", "Client": "Acme"})
	s := newStore(t, src, WithKeyFields("Show", "Client"))
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, ""))
	app, err := s.AppData(0)
	require.NoError(t, err)
	assert.Equal(t, row.AppData{}, app)

	require.NoError(t, s.MarkRowForDeletion(0, true))
	assert.Equal(t, 0, s.Data().Len())

	_, err = s.AddRow(row.Record{"Show": "Expo2", "Client": "Acme2"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Data().Len())

	require.NoError(t, s.Save(ctx, ""))
	saved := src.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, []row.Record{{"Show": "Expo2", "Client": "Acme2"}}, saved[0])
}

func TestAddRow_RequiredFieldsRecurse(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(), WithRequiredFields("Show"))

	r, err := s.AddRow(row.Record{"Items": []any{map[string]any{"Item": "Chair"}}}, "Qty")
	require.NoError(t, err)

	assert.Equal(t, row.Record{
		"Show": "",
		"Qty":  "",
		"Items": []row.Record{
			{"Item": "Chair", "Show": "", "Qty": ""},
		},
	}, r.Record())
	assert.Equal(t, row.AppData{}, r.App())
	assert.True(t, s.IsDirty())
}

func TestAddRow_InvalidRecord(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource())
	_, err := s.AddRow(row.Record{"Tags": []any{"a"}})
	assert.True(t, IsCode(err, ErrCodeInvalidRow))
	assert.Equal(t, 0, s.Data().Len())
}

func TestNestedAppData_Errors(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(packlist()))
	require.NoError(t, s.Load(context.Background(), ""))

	_, err := s.NestedAppData(0, "Missing", 0)
	assert.True(t, IsCode(err, ErrCodeRowNotFound))
	_, err = s.NestedAppData(0, "Items", 9)
	assert.True(t, IsCode(err, ErrCodeRowNotFound))
	_, err = s.NestedAppData(4, "Items", 0)
	assert.True(t, IsCode(err, ErrCodeRowNotFound))
}

func TestSubscribe_DeliversLatestState(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(packlist()))
	ch, unsubscribe := s.Subscribe()

	initial := <-ch
	assert.Equal(t, 0, initial.Rows)

	require.NoError(t, s.Load(context.Background(), "Loading..."))
	_, err := s.AddRow(row.Record{"Show": "Fair"})
	require.NoError(t, err)

	// Intermediate states were coalesced; only the latest is buffered.
	latest := <-ch
	assert.Equal(t, 2, latest.Rows)
	assert.True(t, latest.Dirty)
	select {
	case st := <-ch:
		t.Fatalf("unexpected extra state %+v", st)
	default:
	}

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	unsubscribe()
}

func TestClose_ClosesSubscriptionsAndRejectsWork(t *testing.T) {
	s := New(testutil.NewMemorySource().Fetch, nil, nil, quiet)
	ch, _ := s.Subscribe()
	<-ch

	s.Close()
	s.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.True(t, IsCode(s.Load(context.Background(), ""), ErrCodeClosed))
	assert.False(t, s.LoadInBackground(""))
}

func TestLoadInBackground(t *testing.T) {
	s := newStore(t, testutil.NewMemorySource(packlist()))
	require.True(t, s.LoadInBackground("Loading..."))
	s.Wait()
	assert.Equal(t, 1, s.Data().Len())
}

func TestAutoSave_SavesWhenDirtyAndStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := testutil.NewMemorySource(row.Record{"Show": "Expo"})
	s := New(src.Fetch, src.Save, nil, quiet)
	require.NoError(t, s.Load(context.Background(), ""))
	require.True(t, s.StartAutoSave(5*time.Millisecond))
	assert.False(t, s.StartAutoSave(5*time.Millisecond), "only one autosave loop")

	s.Data().At(0).Set("Show", row.String("Fair"))
	assert.Eventually(t, func() bool {
		return len(src.Saved()) == 1 && !s.IsDirty()
	}, time.Second, 5*time.Millisecond)

	s.Close()
	assert.Equal(t, []row.Record{{"Show": "Fair"}}, src.Rows())
}

func TestClose_CancelsInFlightFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	fetch := func(ctx context.Context, _ []any) ([]row.Record, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := New(fetch, nil, nil, quiet)
	require.True(t, s.LoadInBackground(""))
	<-started

	s.Close()
	assert.Equal(t, 0, s.Data().Len())
}
