package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/testutil"
)

func loadedStore(t *testing.T, n int, opts ...Option) *Store {
	t.Helper()
	recs := make([]row.Record, n)
	for i := range recs {
		recs[i] = row.Record{"Show": fmt.Sprintf("show-%02d", i)}
	}
	s := newStore(t, testutil.NewMemorySource(recs...), opts...)
	require.NoError(t, s.Load(context.Background(), ""))
	return s
}

func fastOptions() AnalysisOptions {
	opts := DefaultAnalysisOptions()
	opts.Delay = 0
	return opts
}

func TestDefaultAnalysisOptions(t *testing.T) {
	opts := DefaultAnalysisOptions()
	assert.Equal(t, 10, opts.BatchSize)
	assert.Equal(t, 50*time.Millisecond, opts.Delay)
	assert.True(t, opts.SkipIfAnalyzed)
}

func TestRunAnalysis_MarksRowsAnalyzed(t *testing.T) {
	s := loadedStore(t, 25)
	var calls atomic.Int32
	step := Step{Message: "Counting...", Fn: func(_ context.Context, r *row.Row, _ *Store) error {
		calls.Add(1)
		assert.True(t, r.App().Analyzing)
		r.SetDerived("len", row.Int(len(r.Text("Show"))))
		return nil
	}}

	ran, err := s.RunAnalysis(context.Background(), []Step{step, step}, fastOptions())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(50), calls.Load())

	for _, r := range s.Data().Rows() {
		app := r.App()
		assert.True(t, app.Analyzed)
		assert.False(t, app.Analyzing)
		assert.Equal(t, row.Int(7), app.Derived["len"])
	}
	st := s.State()
	assert.False(t, st.IsAnalyzing)
	assert.Equal(t, 100, st.AnalysisProgress)
	assert.False(t, st.Dirty, "derived values never make the store dirty")
}

func TestRunAnalysis_SkipsAnalyzedRows(t *testing.T) {
	s := loadedStore(t, 5)
	var calls atomic.Int32
	step := Step{Fn: func(context.Context, *row.Row, *Store) error {
		calls.Add(1)
		return nil
	}}

	_, err := s.RunAnalysis(context.Background(), []Step{step}, fastOptions())
	require.NoError(t, err)
	require.Equal(t, int32(5), calls.Load())

	_, err = s.AddRow(row.Record{"Show": "new"})
	require.NoError(t, err)
	_, err = s.RunAnalysis(context.Background(), []Step{step}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls.Load(), "only the new row is analyzed")

	opts := fastOptions()
	opts.SkipIfAnalyzed = false
	_, err = s.RunAnalysis(context.Background(), []Step{step}, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(12), calls.Load())
}

func TestRunAnalysis_FaultIsolation(t *testing.T) {
	s := loadedStore(t, 6)
	failing := s.Data().At(2)
	panicking := s.Data().At(4)

	step := Step{Fn: func(_ context.Context, r *row.Row, _ *Store) error {
		switch r {
		case failing:
			return errors.New("lookup failed")
		case panicking:
			panic("bad cell")
		}
		r.SetDerived("ok", row.Bool(true))
		return nil
	}}

	ran, err := s.RunAnalysis(context.Background(), []Step{step}, fastOptions())
	require.NoError(t, err)
	require.True(t, ran)

	for i, r := range s.Data().Rows() {
		app := r.App()
		assert.True(t, app.Analyzed, "row %d", i)
		switch r {
		case failing:
			assert.Equal(t, "lookup failed", app.Err)
		case panicking:
			assert.Equal(t, "panic: bad cell", app.Err)
		default:
			assert.Empty(t, app.Err, "row %d", i)
			assert.Equal(t, row.Bool(true), app.Derived["ok"], "row %d", i)
		}
	}
}

func TestRunAnalysis_ClearsPreviousErrors(t *testing.T) {
	s := loadedStore(t, 1)
	fail := true
	step := Step{Fn: func(context.Context, *row.Row, *Store) error {
		if fail {
			return errors.New("first run")
		}
		return nil
	}}
	opts := fastOptions()
	opts.SkipIfAnalyzed = false

	_, err := s.RunAnalysis(context.Background(), []Step{step}, opts)
	require.NoError(t, err)
	require.Equal(t, "first run", s.Data().At(0).App().Err)

	fail = false
	_, err = s.RunAnalysis(context.Background(), []Step{step}, opts)
	require.NoError(t, err)
	assert.Empty(t, s.Data().At(0).App().Err)
}

func TestRunAnalysis_AlreadyRunningIsNoop(t *testing.T) {
	s := loadedStore(t, 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	step := Step{Fn: func(context.Context, *row.Row, *Store) error {
		close(entered)
		<-release
		return nil
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := s.RunAnalysis(context.Background(), []Step{step}, fastOptions())
		assert.True(t, ran)
		assert.NoError(t, err)
	}()
	<-entered

	assert.True(t, s.State().IsAnalyzing)
	ran, err := s.RunAnalysis(context.Background(), []Step{step}, fastOptions())
	assert.False(t, ran)
	assert.NoError(t, err)

	// Rows stay editable during a run.
	s.Data().At(0).Set("Notes", row.String("edited mid-run"))

	close(release)
	wg.Wait()
	assert.Equal(t, "edited mid-run", s.Data().At(0).Text("Notes"))
}

func TestRunAnalysis_CancellationLeavesRowsUnanalyzed(t *testing.T) {
	s := loadedStore(t, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	step := Step{Fn: func(context.Context, *row.Row, *Store) error {
		if calls.Add(1) == 10 {
			cancel()
		}
		return nil
	}}

	ran, err := s.RunAnalysis(ctx, []Step{step}, fastOptions())
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(10), calls.Load(), "stops before the next batch")

	for _, r := range s.Data().Rows() {
		app := r.App()
		assert.False(t, app.Analyzed)
		assert.False(t, app.Analyzing)
	}
	st := s.State()
	assert.False(t, st.IsAnalyzing)
	assert.Equal(t, 0, st.AnalysisProgress)
}

func TestRunAnalysis_DelayIsContextAware(t *testing.T) {
	s := loadedStore(t, 20)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	opts := DefaultAnalysisOptions()
	opts.Delay = time.Hour

	start := time.Now()
	_, err := s.RunAnalysis(ctx, []Step{{Fn: func(context.Context, *row.Row, *Store) error { return nil }}}, opts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestRunAnalysis_ProgressResetsAfterDelay(t *testing.T) {
	s := loadedStore(t, 3, WithResetDelay(10*time.Millisecond))
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	var seen []int
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range ch {
			mu.Lock()
			seen = append(seen, st.AnalysisProgress)
			mu.Unlock()
		}
	}()

	step := Step{Message: "Step", Fn: func(context.Context, *row.Row, *Store) error { return nil }}
	opts := fastOptions()
	opts.BatchSize = 1
	_, err := s.RunAnalysis(context.Background(), []Step{step, step}, opts)
	require.NoError(t, err)
	assert.Equal(t, 100, s.State().AnalysisProgress)

	assert.Eventually(t, func() bool {
		st := s.State()
		return st.AnalysisProgress == 0 && st.AnalysisMessage == ""
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	<-done
	mu.Lock()
	defer mu.Unlock()
	// Within the run (before the final reset) progress never decreases.
	peak := 0
	for _, p := range seen {
		if p == 0 && peak == 100 {
			break
		}
		assert.GreaterOrEqual(t, p, peak)
		peak = p
	}
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, progress(0, 0, 4))
	assert.Equal(t, 12, progress(0, 0.5, 4))
	assert.Equal(t, 75, progress(2, 1, 4))
	assert.Equal(t, 100, progress(3, 1, 4))
	assert.Equal(t, 100, progress(0, 0, 0))
}

func TestBuiltinSteps(t *testing.T) {
	src := testutil.NewMemorySource(
		row.Record{"Show": "Expo", "Client": "Acme"},
		row.Record{"Show": "Expo", "Client": ""},
		row.Record{"Show": "Expo", "Client": "Acme"},
		row.Record{"Show": "", "Client": ""},
	)
	s := newStore(t, src)
	require.NoError(t, s.Load(context.Background(), ""))

	inventory := newStore(t, testutil.NewMemorySource(
		row.Record{"Show": "Expo", "Item": "Chair"},
		row.Record{"Show": "Expo", "Item": "Table"},
	))
	require.NoError(t, inventory.Load(context.Background(), ""))

	steps := []Step{
		RequiredFieldsStep("Show", "Client"),
		DuplicateStep("Show", "Client"),
		CrossReferenceStep(inventory, "Show", "inventory"),
	}
	_, err := s.RunAnalysis(context.Background(), steps, fastOptions())
	require.NoError(t, err)

	derived := func(i int, key string) row.Value {
		v, _ := s.Data().At(i).Derived(key)
		return v
	}
	assert.Equal(t, row.String(""), derived(0, DerivedMissing))
	assert.Equal(t, row.String("Client"), derived(1, DerivedMissing))
	assert.Equal(t, row.String("Show, Client"), derived(3, DerivedMissing))

	assert.Equal(t, row.Int(1), derived(0, DerivedDuplicates))
	assert.Equal(t, row.Int(0), derived(1, DerivedDuplicates))
	assert.Equal(t, row.Int(1), derived(2, DerivedDuplicates))
	assert.Equal(t, row.Int(0), derived(3, DerivedDuplicates))

	assert.Equal(t, row.Int(2), derived(0, "inventory"))
	assert.Equal(t, row.Int(0), derived(3, "inventory"))
}
