package undo

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/roach88/tabula/internal/row"
)

// Defaults for a new Registry.
const (
	DefaultMaxStack          = 50
	DefaultMaxRoutes         = 10
	DefaultSelectionCooldown = time.Second
)

// ActionType labels what a capture is about to undo.
type ActionType string

const (
	ActionCellEdit        ActionType = "cell-edit"
	ActionRowAdd          ActionType = "row-add"
	ActionRowDelete       ActionType = "row-delete"
	ActionRowMove         ActionType = "row-move"
	ActionSelectionToggle ActionType = "selection-toggle"
	ActionBulkEdit        ActionType = "bulk-edit"
)

// CellInfo locates the edited cell of a cell-edit capture.
type CellInfo struct {
	RowIndex int
	ColIndex int
}

// CaptureOptions describes one capture.
type CaptureOptions struct {
	Type ActionType
	Cell *CellInfo

	// PreventDuplicates drops the capture when it repeats the previous one
	// (same route, tables, and cell).
	PreventDuplicates bool

	// Selections to record with the snapshot. When nil and the registry has
	// a SelectionTracker, the tracker's current selection is recorded.
	Selections []Selection
}

// Clock is the time source for the selection cooldown.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats describes one route's history.
type Stats struct {
	UndoDepth     int
	RedoDepth     int
	TrackedTables int
}

// history is the undo and redo stacks of one route.
type history struct {
	undo    []*entry
	redo    []*entry
	tracked map[string]weak.Pointer[row.Table]
}

func newHistory() *history {
	return &history{tracked: make(map[string]weak.Pointer[row.Table])}
}

// push appends e to stack, dropping the oldest entries beyond limit.
func push(stack []*entry, e *entry, limit int) []*entry {
	stack = append(stack, e)
	if over := len(stack) - limit; over > 0 {
		clear(stack[:over])
		stack = stack[over:]
	}
	return stack
}

func pop(stack []*entry) ([]*entry, *entry) {
	n := len(stack)
	e := stack[n-1]
	stack[n-1] = nil
	return stack[:n-1], e
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxStack bounds each undo and redo stack.
func WithMaxStack(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxStack = n
		}
	}
}

// WithMaxRoutes bounds how many route histories are kept.
func WithMaxRoutes(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxRoutes = n
		}
	}
}

// WithSelectionCooldown sets the window within which consecutive
// selection-toggle captures on one route merge into a single entry.
// Zero disables merging.
func WithSelectionCooldown(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

// WithClock overrides the wall clock used for the selection cooldown.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEditorFlush sets a hook called before every undo and redo so a
// pending inline edit is committed (and captured) first. The hook may call
// Capture.
func WithEditorFlush(fn func()) Option {
	return func(r *Registry) {
		r.flush = fn
	}
}

// WithSelectionTracker connects the host's selection.
func WithSelectionTracker(t SelectionTracker) Option {
	return func(r *Registry) {
		r.selection = t
	}
}

// Registry holds per-route undo and redo histories.
//
// Construct one per session and pass it to every editor that mutates
// tables. Reset discards all history.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	maxStack  int
	maxRoutes int
	cooldown  time.Duration
	clock     Clock
	logger    *slog.Logger
	flush     func()
	selection SelectionTracker

	mu     sync.Mutex
	routes *simplelru.LRU[string, *history]
	active string

	// lastSig is the signature of the previous recorded capture, used for
	// duplicate suppression. Empty after undo, redo, and route changes.
	lastSig string

	// Selection cooldown window: route and time of the last selection-toggle
	// entry. Zero time means no window is open.
	lastSelRoute string
	lastSelAt    time.Time
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		maxStack:  DefaultMaxStack,
		maxRoutes: DefaultMaxRoutes,
		cooldown:  DefaultSelectionCooldown,
		clock:     systemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.routes = r.newRoutes()
	return r
}

func (r *Registry) newRoutes() *simplelru.LRU[string, *history] {
	routes, err := simplelru.NewLRU[string, *history](r.maxRoutes, func(key string, _ *history) {
		r.logger.Debug("route history evicted", "route", key)
	})
	if err != nil {
		// Only returned for a non-positive size, which the options prevent.
		panic(fmt.Sprintf("undo: %v", err))
	}
	return routes
}

// SetActiveRoute makes key the route Undo and Redo operate on. It also
// closes any duplicate-suppression or selection-cooldown window.
func (r *Registry) SetActiveRoute(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = key
	r.lastSig = ""
	r.lastSelAt = time.Time{}
}

// ActiveRoute returns the current route key.
func (r *Registry) ActiveRoute() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Capture records the current content of tables under routeKey (the active
// route when empty) before a mutation. Recording clears the route's redo
// stack.
//
// Returns false when nothing new was pushed: the capture had no tables or
// no route, it duplicated the previous cell capture, or it was merged into
// the previous selection-toggle entry. Duplicates are only detected for
// captures carrying both PreventDuplicates and a Cell.
func (r *Registry) Capture(tables []*row.Table, routeKey string, opts CaptureOptions) bool {
	tables = nonNil(tables)
	if len(tables) == 0 {
		capturesTotal.WithLabelValues("empty").Inc()
		return false
	}

	var selections []Selection
	if opts.Selections != nil {
		selections = cloneSelections(opts.Selections)
	} else if r.selection != nil {
		selections = r.selection.Selections()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if routeKey == "" {
		routeKey = r.active
	}
	if routeKey == "" {
		capturesTotal.WithLabelValues("no_route").Inc()
		r.logger.Debug("capture without a route ignored")
		return false
	}
	now := r.clock.Now()
	sig := signature(routeKey, tables, opts.Cell)

	if opts.PreventDuplicates && opts.Cell != nil && sig == r.lastSig {
		capturesTotal.WithLabelValues("duplicate").Inc()
		r.logger.Debug("duplicate capture suppressed", "route", routeKey)
		return false
	}

	h := r.historyLocked(routeKey)

	if opts.Type == ActionSelectionToggle && r.inCooldownLocked(routeKey, now) && len(h.undo) > 0 {
		top := h.undo[len(h.undo)-1]
		for _, t := range tables {
			if !top.has(t.ID()) {
				top.tables = append(top.tables, snapshotTable(t))
			}
		}
		trackLocked(h, tables)
		r.lastSelAt = now
		r.lastSig = sig
		capturesTotal.WithLabelValues("coalesced").Inc()
		return false
	}

	h.undo = push(h.undo, newEntry(opts.Type, opts.Cell, tables, selections, now), r.maxStack)
	clear(h.redo)
	h.redo = h.redo[:0]
	trackLocked(h, tables)

	if opts.Type == ActionSelectionToggle {
		r.lastSelRoute = routeKey
		r.lastSelAt = now
	} else {
		r.lastSelAt = time.Time{}
	}
	r.lastSig = sig
	capturesTotal.WithLabelValues("recorded").Inc()
	return true
}

// Undo restores the most recent snapshot of the active route. The current
// content of the same tables moves to the redo stack. Returns false when
// there is no active route or nothing to undo.
func (r *Registry) Undo() bool {
	return r.step(true)
}

// Redo reapplies the most recently undone snapshot of the active route.
func (r *Registry) Redo() bool {
	return r.step(false)
}

func (r *Registry) step(undo bool) bool {
	if r.ActiveRoute() == "" {
		return false
	}
	if r.flush != nil {
		r.flush()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.routes.Peek(r.active)
	if !ok {
		return false
	}

	from, to := &h.undo, &h.redo
	direction := "undo"
	if !undo {
		from, to = &h.redo, &h.undo
		direction = "redo"
	}

	for len(*from) > 0 {
		var e *entry
		*from, e = pop(*from)

		live := e.live()
		if len(live) == 0 {
			// Every table of this entry was collected.
			continue
		}

		var selections []Selection
		if e.selections != nil && r.selection != nil {
			selections = r.selection.Selections()
		}
		*to = push(*to, newEntry(e.typ, e.cell, live, selections, r.clock.Now()), r.maxStack)

		restored := e.restore()
		if e.selections != nil && r.selection != nil {
			r.restoreSelection(restored, e.selections)
		}

		r.lastSig = ""
		r.lastSelAt = time.Time{}
		restoresTotal.WithLabelValues(direction).Inc()
		r.logger.Debug(direction+" applied", "route", r.active, "type", e.typ, "tables", len(restored))
		return true
	}
	return false
}

// restoreSelection reselects rows by identity, then by index when the row
// at that index still carries the recorded identity values, then by a scan
// for those values.
func (r *Registry) restoreSelection(tables []*row.Table, sels []Selection) {
	byID := make(map[string]*row.Table, len(tables))
	for _, t := range tables {
		byID[t.ID()] = t
		r.selection.ClearTable(t.ID())
	}

	for _, sel := range sels {
		t, ok := byID[sel.TableID]
		if !ok {
			continue
		}
		idx := t.IndexOf(sel.RowID)
		if idx < 0 && matchesIdentity(t.At(sel.Index), sel.Identity) {
			idx = sel.Index
		}
		if idx < 0 {
			for i, candidate := range t.Rows() {
				if matchesIdentity(candidate, sel.Identity) {
					idx = i
					break
				}
			}
		}
		if idx >= 0 {
			r.selection.AddRow(t, t.At(idx), idx)
		}
	}
}

// CanUndo reports whether the active route has an undo entry.
func (r *Registry) CanUndo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.routes.Peek(r.active)
	return ok && len(h.undo) > 0
}

// CanRedo reports whether the active route has a redo entry.
func (r *Registry) CanRedo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.routes.Peek(r.active)
	return ok && len(h.redo) > 0
}

// Stats returns the history sizes of a route. Unknown routes report zeros.
func (r *Registry) Stats(routeKey string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.routes.Peek(routeKey)
	if !ok {
		return Stats{}
	}
	live := 0
	for _, ref := range h.tracked {
		if ref.Value() != nil {
			live++
		}
	}
	return Stats{UndoDepth: len(h.undo), RedoDepth: len(h.redo), TrackedTables: live}
}

// Routes returns the keys of the routes with history, oldest first.
func (r *Registry) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routes.Keys()
}

// ClearRouteHistory discards one route's history.
func (r *Registry) ClearRouteHistory(routeKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes.Remove(routeKey)
	if routeKey == r.active {
		r.lastSig = ""
		r.lastSelAt = time.Time{}
	}
}

// Reset discards every history and forgets the active route.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes.Purge()
	r.active = ""
	r.lastSig = ""
	r.lastSelRoute = ""
	r.lastSelAt = time.Time{}
}

// historyLocked returns the route's history, creating it when missing.
// Lookups use Peek so eviction follows creation order.
func (r *Registry) historyLocked(routeKey string) *history {
	if h, ok := r.routes.Peek(routeKey); ok {
		return h
	}
	h := newHistory()
	r.routes.Add(routeKey, h)
	return h
}

func (r *Registry) inCooldownLocked(routeKey string, now time.Time) bool {
	if r.cooldown <= 0 || r.lastSelAt.IsZero() || r.lastSelRoute != routeKey {
		return false
	}
	return now.Sub(r.lastSelAt) < r.cooldown
}

func trackLocked(h *history, tables []*row.Table) {
	for _, t := range tables {
		if _, ok := h.tracked[t.ID()]; !ok {
			h.tracked[t.ID()] = weak.Make(t)
		}
	}
}

func signature(routeKey string, tables []*row.Table, cell *CellInfo) string {
	var b strings.Builder
	b.WriteString(routeKey)
	for _, t := range tables {
		b.WriteByte('|')
		b.WriteString(t.ID())
	}
	if cell != nil {
		fmt.Fprintf(&b, "@%d:%d", cell.RowIndex, cell.ColIndex)
	}
	return b.String()
}

func nonNil(tables []*row.Table) []*row.Table {
	out := make([]*row.Table, 0, len(tables))
	for _, t := range tables {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func cloneSelections(sels []Selection) []Selection {
	out := make([]Selection, len(sels))
	for i, sel := range sels {
		out[i] = cloneSelection(sel)
	}
	return out
}
