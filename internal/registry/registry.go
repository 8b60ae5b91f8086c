// Package registry shares snapshot stores between consumers that ask for
// the same dataset.
//
// A store is identified by its fetch function, its save function, and its
// arguments. Two GetStore calls with the same triple return the same
// *snapshot.Store, so every consumer sees the same rows and flags.
//
// Method values and closures cannot be told apart by their code alone, so
// collaborators with state implement Source and are keyed by SourceID
// through GetSourceStore.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/snapshot"
)

var storesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tabula_registry_stores",
	Help: "Snapshot stores currently held by registries.",
})

// Source is a stateful fetch/save collaborator. SourceID must differ
// between instances that hold different data and stay stable for one
// instance.
type Source interface {
	SourceID() string
	Fetch(ctx context.Context, args []any) ([]row.Record, error)
	Save(ctx context.Context, payload []row.Record, args []any) error
}

// Registry maps store keys to live stores.
//
// Construct one per process or session and pass it to consumers. Clear
// closes every store, which makes the registry reusable in tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	logger    *slog.Logger
	storeOpts []snapshot.Option
	autoSave  time.Duration

	mu     sync.Mutex
	stores map[string]*snapshot.Store
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and passed to new stores.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStoreOptions appends options applied to every store the registry
// creates.
func WithStoreOptions(opts ...snapshot.Option) Option {
	return func(r *Registry) {
		r.storeOpts = append(r.storeOpts, opts...)
	}
}

// WithAutoSave starts autosave on every new store that has a save function.
func WithAutoSave(interval time.Duration) Option {
	return func(r *Registry) {
		r.autoSave = interval
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
		stores: make(map[string]*snapshot.Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetStore returns the store for (fetch, save, args), creating it on first
// use. extra options apply only when the store is created.
//
// A newly created store with autoLoad set starts loading in the background
// immediately; call Wait on the store to join the load. An existing store is
// returned as is.
//
// Arguments must be canonical JSON values (strings, integers, booleans,
// nil, and maps or slices of those). Anything else is an error, and so are
// method values and closures: use GetSourceStore for those.
func (r *Registry) GetStore(ctx context.Context, fetch snapshot.FetchFunc, save snapshot.SaveFunc, args []any, autoLoad bool, extra ...snapshot.Option) (*snapshot.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetch == nil {
		return nil, fmt.Errorf("get store: nil fetch function")
	}
	key, err := Key(fetch, save, args)
	if err != nil {
		return nil, err
	}
	return r.getStore(ctx, key, fetch, save, args, autoLoad, extra), nil
}

// GetSourceStore is GetStore for a Source. The key is built from
// src.SourceID() and args, so two sources never share a store.
func (r *Registry) GetSourceStore(ctx context.Context, src Source, args []any, autoLoad bool, extra ...snapshot.Option) (*snapshot.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("get store: nil source")
	}
	key, err := SourceKey(src.SourceID(), args)
	if err != nil {
		return nil, err
	}
	return r.getStore(ctx, key, src.Fetch, src.Save, args, autoLoad, extra), nil
}

func (r *Registry) getStore(ctx context.Context, key string, fetch snapshot.FetchFunc, save snapshot.SaveFunc, args []any, autoLoad bool, extra []snapshot.Option) *snapshot.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[key]; ok {
		r.logger.DebugContext(ctx, "store reused", "key", short(key))
		return s
	}

	opts := make([]snapshot.Option, 0, len(r.storeOpts)+len(extra)+1)
	opts = append(opts, snapshot.WithLogger(r.logger.With("store", short(key))))
	opts = append(opts, r.storeOpts...)
	opts = append(opts, extra...)

	s := snapshot.New(fetch, save, args, opts...)
	r.stores[key] = s
	storesGauge.Inc()
	r.logger.DebugContext(ctx, "store created", "key", short(key), "auto_load", autoLoad)

	if r.autoSave > 0 && save != nil {
		s.StartAutoSave(r.autoSave)
	}
	if autoLoad {
		s.LoadInBackground("Loading...")
	}
	return s
}

// Len returns the number of stores held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Clear closes every store and empties the registry. Closing cancels
// in-flight loads and saves and stops autosave.
func (r *Registry) Clear() {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*snapshot.Store)
	r.mu.Unlock()

	for _, s := range stores {
		s.Close()
		storesGauge.Dec()
	}
	r.logger.Debug("registry cleared", "stores", len(stores))
}

// Key computes the registry key for (fetch, save, args): a domain-separated
// SHA-256 over the canonical JSON of the function identities and args.
//
// Function identity is the runtime symbol name, which only names top-level
// functions uniquely. Method values and closures are rejected.
func Key(fetch snapshot.FetchFunc, save snapshot.SaveFunc, args []any) (string, error) {
	fetchID, err := funcIdentity(fetch)
	if err != nil {
		return "", fmt.Errorf("store key: fetch: %w", err)
	}
	saveID, err := funcIdentity(save)
	if err != nil {
		return "", fmt.Errorf("store key: save: %w", err)
	}
	return hashKey(map[string]any{"fetch": fetchID, "save": saveID, "args": nonNilArgs(args)})
}

// SourceKey computes the registry key of a Source's store.
func SourceKey(sourceID string, args []any) (string, error) {
	if sourceID == "" {
		return "", fmt.Errorf("store key: empty source id")
	}
	return hashKey(map[string]any{"source": sourceID, "args": nonNilArgs(args)})
}

func hashKey(id map[string]any) (string, error) {
	key, err := row.Hash(row.DomainStoreKey, id)
	if err != nil {
		return "", fmt.Errorf("store key: %w", err)
	}
	return key, nil
}

func nonNilArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

// boundFunc matches symbols of method values ("-fm") and closures
// ("Outer.func1", "Outer.func1.2").
var boundFunc = regexp.MustCompile(`(-fm|\.func\d+(\.\d+)*)$`)

func funcIdentity(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.IsNil() {
		return "nil", nil
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "", fmt.Errorf("unnamed function")
	}
	name := f.Name()
	if boundFunc.MatchString(name) {
		return "", fmt.Errorf("%s has no stable identity; use GetSourceStore", name)
	}
	return name, nil
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
