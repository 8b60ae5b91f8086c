package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tabula/internal/row"
)

// FetchFunc retrieves the rows of a dataset from its source.
// A nil slice is treated as an empty dataset.
type FetchFunc func(ctx context.Context, args []any) ([]row.Record, error)

// SaveFunc persists a payload to the source. The payload never contains
// AppData or rows marked for deletion.
type SaveFunc func(ctx context.Context, payload []row.Record, args []any) error

// DefaultResetDelay is how long a finished analysis keeps reporting 100%
// before its progress and message are cleared.
const DefaultResetDelay = 500 * time.Millisecond

// State is a read-only view of a store's lifecycle flags.
type State struct {
	IsLoading      bool
	LoadingMessage string

	// Error is the message of the most recent failure ("" when none).
	Error string

	IsAnalyzing      bool
	AnalysisProgress int // 0-100
	AnalysisMessage  string

	Rows       int
	Dirty      bool
	Generation int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequiredFields sets fields that AddRow always initializes.
func WithRequiredFields(fields ...string) Option {
	return func(s *Store) {
		s.required = append([]string(nil), fields...)
	}
}

// WithKeyFields sets the identity fields of the dataset. A row whose only
// non-empty fields are key fields is a placeholder: marking it for deletion
// removes it outright.
func WithKeyFields(fields ...string) Option {
	return func(s *Store) {
		s.keyFields = append([]string(nil), fields...)
	}
}

// WithResetDelay overrides DefaultResetDelay.
func WithResetDelay(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.resetDelay = d
		}
	}
}

// Store is the working copy and original copy of one dataset.
//
// Thread-safety: all methods are safe for concurrent use. Data and Original
// return live tables whose identity never changes for the life of the store;
// Load, Save, and Reset replace their contents in place.
type Store struct {
	fetch FetchFunc
	save  SaveFunc
	args  []any

	logger     *slog.Logger
	required   []string
	keyFields  []string
	resetDelay time.Duration

	data     *row.Table
	original *row.Table
	gen      generation

	// ctx is cancelled by Close and bounds every fetch, save, and
	// background goroutine the store runs.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	closed      bool
	autosave    bool
	analysisRun int64
	resetTimer  *time.Timer
	subs        map[int]chan State
	nextSub     int
}

// New creates a store for fetch and save (save may be nil for read-only
// datasets). args are passed unchanged to both functions.
//
// Panics if fetch is nil.
func New(fetch FetchFunc, save SaveFunc, args []any, opts ...Option) *Store {
	if fetch == nil {
		panic("snapshot: nil fetch function")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		fetch:      fetch,
		save:       save,
		args:       append([]any(nil), args...),
		logger:     slog.Default(),
		resetDelay: DefaultResetDelay,
		data:       row.NewTable(),
		original:   row.NewTable(),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Data returns the live working table.
func (s *Store) Data() *row.Table {
	return s.data
}

// Original returns the table holding the last state confirmed by the source.
func (s *Store) Original() *row.Table {
	return s.original
}

// Args returns a copy of the arguments passed to fetch and save.
func (s *Store) Args() []any {
	return append([]any(nil), s.args...)
}

// KeyFields returns the configured identity fields.
func (s *Store) KeyFields() []string {
	return append([]string(nil), s.keyFields...)
}

// State returns the current lifecycle flags.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Load fetches the dataset and replaces both tables with independent copies.
//
// The previous rows stay visible until the fetch completes. On failure both
// tables are emptied and State().Error holds the failure message.
func (s *Store) Load(ctx context.Context, message string) (err error) {
	start := time.Now()
	defer func() { observe("load", start, err) }()

	gen, err := s.begin("load", message)
	if err != nil {
		return err
	}

	ctx, done := s.opContext(ctx)
	defer done()

	rows, fetchErr := s.fetchRows(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.current() != gen {
		return ErrSuperseded
	}
	s.state.IsLoading = false
	s.state.LoadingMessage = ""

	if fetchErr != nil {
		s.data.Replace(nil)
		s.original.Replace(nil)
		s.state.Error = causeMessage(fetchErr)
		s.notifyLocked()
		s.logger.Warn("load failed", "error", fetchErr)
		return fetchErr
	}

	s.data.Replace(rows)
	s.original.Replace(cloneRows(rows))
	s.notifyLocked()
	s.logger.Debug("load complete", "rows", len(rows), "generation", gen)
	return nil
}

// Save sends every row not marked for deletion, stripped of AppData, to the
// save function. On success the marked rows are removed from Data and
// Original is refreshed by refetching, both in one state update.
//
// If the refetch fails the save still stands: Original becomes a copy of
// the remaining Data and State().Error reports the reload failure.
func (s *Store) Save(ctx context.Context, message string) (err error) {
	start := time.Now()
	defer func() { observe("save", start, err) }()

	if s.save == nil {
		s.mu.Lock()
		s.state.Error = "no save function configured"
		s.notifyLocked()
		s.mu.Unlock()
		return &Error{Op: "save", Code: ErrCodeNoSaveFunc, Message: "no save function configured"}
	}

	gen, err := s.begin("save", message)
	if err != nil {
		return err
	}

	ctx, done := s.opContext(ctx)
	defer done()

	payload, marked := s.payload()
	if saveErr := s.save(ctx, payload, s.Args()); saveErr != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen.current() != gen {
			return ErrSuperseded
		}
		s.state.IsLoading = false
		s.state.LoadingMessage = ""
		s.state.Error = saveErr.Error()
		s.notifyLocked()
		s.logger.Warn("save failed", "error", saveErr)
		return &Error{Op: "save", Code: ErrCodeSaveFailed, Message: "save function failed", Err: saveErr}
	}

	fresh, fetchErr := s.fetchRows(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.current() != gen {
		return ErrSuperseded
	}
	removed := s.data.RemoveFunc(func(r *row.Row) bool { return marked[r.ID()] })
	s.state.IsLoading = false
	s.state.LoadingMessage = ""

	if fetchErr != nil {
		s.original.Replace(cloneRows(s.data.Rows()))
		s.state.Error = "reload after save failed: " + causeMessage(fetchErr)
		s.notifyLocked()
		s.logger.Warn("reload after save failed", "error", fetchErr)
		return &Error{Op: "save", Code: ErrCodeReloadFailed, Message: "reload after save failed", Err: fetchErr}
	}

	s.original.Replace(fresh)
	s.notifyLocked()
	s.logger.Debug("save complete", "rows", len(payload), "removed", removed, "generation", gen)
	return nil
}

// Payload returns what Save would send right now.
func (s *Store) Payload() []row.Record {
	payload, _ := s.payload()
	return payload
}

func (s *Store) payload() ([]row.Record, map[string]bool) {
	rows := s.data.Rows()
	payload := make([]row.Record, 0, len(rows))
	marked := make(map[string]bool)
	for _, r := range rows {
		if r.App().MarkedForDeletion {
			marked[r.ID()] = true
			continue
		}
		payload = append(payload, r.Record())
	}
	return payload, marked
}

// MarkRowForDeletion flags the row at index for deletion on the next Save.
// A placeholder row is removed at once instead: one whose fields are all
// empty, or whose only non-empty fields are the key fields set with
// WithKeyFields. Without key fields, a row such as {Show: "Expo",
// Client: "Acme"} has content and is only flagged.
func (s *Store) MarkRowForDeletion(index int, value bool) error {
	r := s.data.At(index)
	if r == nil {
		return rowNotFound("mark_for_deletion", index, s.data.Len())
	}

	if value && !r.HasContentExcept(s.keyFields...) {
		s.data.RemoveFunc(func(x *row.Row) bool { return x == r })
	} else {
		r.UpdateApp(func(a *row.AppData) { a.MarkedForDeletion = value })
	}
	s.changed()
	return nil
}

// AddRow appends a row built from rec. The store's required fields and any
// extra required fields default to "" at every depth.
func (s *Store) AddRow(rec row.Record, required ...string) (*row.Row, error) {
	r, err := row.FromRecord(rec)
	if err != nil {
		return nil, &Error{Op: "add_row", Code: ErrCodeInvalidRow, Message: "invalid record", Err: err}
	}
	r.EnsureFields(append(append([]string(nil), s.required...), required...)...)
	s.data.Append(r)
	s.changed()
	return r, nil
}

// AppData returns a copy of the AppData of the row at index.
func (s *Store) AppData(index int) (row.AppData, error) {
	r := s.data.At(index)
	if r == nil {
		return row.AppData{}, rowNotFound("app_data", index, s.data.Len())
	}
	return r.App(), nil
}

// UpdateAppData mutates the AppData of the row at index.
func (s *Store) UpdateAppData(index int, fn func(*row.AppData)) error {
	r := s.data.At(index)
	if r == nil {
		return rowNotFound("update_app_data", index, s.data.Len())
	}
	r.UpdateApp(fn)
	s.changed()
	return nil
}

// NestedAppData returns a copy of the AppData of item within the nested
// list stored under key on the row at parent.
func (s *Store) NestedAppData(parent int, key string, item int) (row.AppData, error) {
	r, err := s.nestedRow("nested_app_data", parent, key, item)
	if err != nil {
		return row.AppData{}, err
	}
	return r.App(), nil
}

// UpdateNestedAppData mutates the AppData of a nested row.
func (s *Store) UpdateNestedAppData(parent int, key string, item int, fn func(*row.AppData)) error {
	r, err := s.nestedRow("update_nested_app_data", parent, key, item)
	if err != nil {
		return err
	}
	r.UpdateApp(fn)
	s.changed()
	return nil
}

func (s *Store) nestedRow(op string, parent int, key string, item int) (*row.Row, error) {
	p := s.data.At(parent)
	if p == nil {
		return nil, rowNotFound(op, parent, s.data.Len())
	}
	t, ok := p.Nested(key)
	if !ok {
		return nil, &Error{Op: op, Code: ErrCodeRowNotFound, Message: "row has no nested list " + key}
	}
	r := t.At(item)
	if r == nil {
		return nil, rowNotFound(op, item, t.Len())
	}
	return r, nil
}

// Reset empties both tables, clears the error and loading flags, and
// supersedes any in-flight load or save.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.next()
	s.data.Replace(nil)
	s.original.Replace(nil)
	s.state = State{IsAnalyzing: s.state.IsAnalyzing}
	s.notifyLocked()
}

// IsDirty reports whether the payload differs from Original.
func (s *Store) IsDirty() bool {
	payload, _ := s.payload()
	h, err := row.Hash(row.DomainContent, payload)
	if err != nil {
		return true
	}
	return h != row.ContentHash(s.original)
}

// Subscribe returns a channel that receives the latest State after every
// change. The channel holds at most one State; a slow reader only misses
// intermediate states. The returned function unsubscribes and closes the
// channel. Close also closes every subscription.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.stateLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// LoadInBackground starts Load on a store-owned goroutine. Use Wait to
// join it. Returns false if the store is closed.
func (s *Store) LoadInBackground(message string) bool {
	return s.goBackground(func(ctx context.Context) {
		if err := s.Load(ctx, message); err != nil && !IsSuperseded(err) {
			s.logger.Debug("background load failed", "error", err)
		}
	})
}

// StartAutoSave saves the store every interval while it is dirty and not
// loading. Returns false if autosave is already running, the store has no
// save function, the interval is not positive, or the store is closed.
func (s *Store) StartAutoSave(interval time.Duration) bool {
	s.mu.Lock()
	if s.closed || s.autosave || s.save == nil || interval <= 0 {
		s.mu.Unlock()
		return false
	}
	s.autosave = true
	s.mu.Unlock()

	return s.goBackground(func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.autoSave(ctx)
			}
		}
	})
}

func (s *Store) autoSave(ctx context.Context) {
	st := s.State()
	if st.IsLoading || !st.Dirty {
		return
	}
	if err := s.Save(ctx, "Autosaving..."); err != nil && !IsSuperseded(err) {
		s.logger.Warn("autosave failed", "error", err)
	}
}

// Wait blocks until background work started by the store has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight fetches and saves, stops autosave, waits for
// background goroutines, and closes subscriptions. Completions that arrive
// after Close are discarded. Close is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen.next()
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// begin marks the store as loading and returns the operation's generation.
func (s *Store) begin(op, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &Error{Op: op, Code: ErrCodeClosed, Message: "store is closed"}
	}
	gen := s.gen.next()
	s.state.IsLoading = true
	s.state.LoadingMessage = message
	s.state.Error = ""
	s.notifyLocked()
	return gen, nil
}

func (s *Store) fetchRows(ctx context.Context) ([]*row.Row, error) {
	recs, err := s.fetch(ctx, s.Args())
	if err != nil {
		return nil, &Error{Op: "fetch", Code: ErrCodeFetchFailed, Message: "fetch function failed", Err: err}
	}
	rows, err := row.FromRecords(recs)
	if err != nil {
		return nil, &Error{Op: "fetch", Code: ErrCodeInvalidRow, Message: "fetched record is not a valid row", Err: err}
	}
	return rows, nil
}

// opContext derives a context that is also cancelled when the store closes.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Store) goBackground(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

func (s *Store) changed() {
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Store) stateLocked() State {
	st := s.state
	st.Rows = s.data.Len()
	st.Dirty = s.IsDirty()
	st.Generation = s.gen.current()
	return st
}

// notifyLocked publishes the current state to every subscriber.
// The caller must hold s.mu, which makes it the only sender.
func (s *Store) notifyLocked() {
	if len(s.subs) == 0 {
		return
	}
	st := s.stateLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// causeMessage returns the message of the underlying failure, without the
// store's own op and code prefix.
func causeMessage(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

func cloneRows(rows []*row.Row) []*row.Row {
	out := make([]*row.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
