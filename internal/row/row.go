package row

import (
	"slices"
	"sync"
)

// Row is one record of a dataset: persisted fields plus AppData.
//
// Thread-safety: all methods are safe for concurrent use. Analysis steps
// write AppData from worker goroutines while consumers read fields.
type Row struct {
	id string

	mu     sync.RWMutex
	fields map[string]Value
	app    AppData
}

// New creates an empty row with a fresh identity.
func New() *Row {
	return &Row{
		id:     NewID(),
		fields: make(map[string]Value),
	}
}

// ID returns the row identity. Clone preserves it.
func (r *Row) ID() string {
	return r.id
}

// Get returns the field value for key.
func (r *Row) Get(key string) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.fields[key]
	return v, ok
}

// Text returns the display text of a field ("" when absent).
func (r *Row) Text(key string) string {
	v, _ := r.Get(key)
	return Text(v)
}

// Set assigns a field value. A nil value is stored as Null.
func (r *Row) Set(key string, v Value) {
	if v == nil {
		v = Null{}
	}
	r.mu.Lock()
	r.fields[key] = v
	r.mu.Unlock()
}

// Delete removes a field.
func (r *Row) Delete(key string) {
	r.mu.Lock()
	delete(r.fields, key)
	r.mu.Unlock()
}

// Keys returns the field names in sorted order.
func (r *Row) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Nested returns the nested table stored under key, if any.
func (r *Row) Nested(key string) (*Table, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	list, ok := v.(List)
	if !ok || list.Table == nil {
		return nil, false
	}
	return list.Table, true
}

// HasContent reports whether any field holds a non-empty value.
func (r *Row) HasContent() bool {
	return r.HasContentExcept()
}

// HasContentExcept reports whether any field other than the ignored keys
// holds a non-empty value.
func (r *Row) HasContentExcept(ignored ...string) bool {
	r.mu.RLock()
	values := make([]Value, 0, len(r.fields))
	for k, v := range r.fields {
		if slices.Contains(ignored, k) {
			continue
		}
		values = append(values, v)
	}
	r.mu.RUnlock()

	for _, v := range values {
		if !IsEmpty(v) {
			return true
		}
	}
	return false
}

// App returns a copy of the row's AppData.
func (r *Row) App() AppData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.app.Clone()
}

// SetApp replaces the row's AppData.
func (r *Row) SetApp(a AppData) {
	r.mu.Lock()
	r.app = a.Clone()
	r.mu.Unlock()
}

// UpdateApp mutates the row's AppData in place under the row lock.
// fn must not call back into r.
func (r *Row) UpdateApp(fn func(*AppData)) {
	r.mu.Lock()
	fn(&r.app)
	r.mu.Unlock()
}

// SetDerived stores an analysis-derived value in AppData.
func (r *Row) SetDerived(key string, v Value) {
	r.UpdateApp(func(a *AppData) {
		if a.Derived == nil {
			a.Derived = make(map[string]Value)
		}
		a.Derived[key] = v
	})
}

// Derived returns an analysis-derived value from AppData.
func (r *Row) Derived(key string) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.app.Derived[key]
	return v, ok
}

// Clone returns a deep copy of r with the same identity and AppData.
func (r *Row) Clone() *Row {
	return r.clone(false)
}

// Stripped returns a deep copy of r with the same identity and zero
// AppData at every depth.
func (r *Row) Stripped() *Row {
	return r.clone(true)
}

func (r *Row) clone(strip bool) *Row {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Row{
		id:     r.id,
		fields: make(map[string]Value, len(r.fields)),
	}
	for k, v := range r.fields {
		out.fields[k] = cloneValue(v, strip)
	}
	if !strip {
		out.app = r.app.Clone()
	}
	return out
}

// EnsureFields sets every missing key to an empty string, recursing into
// nested lists.
func (r *Row) EnsureFields(keys ...string) {
	r.mu.Lock()
	for _, k := range keys {
		if _, ok := r.fields[k]; !ok {
			r.fields[k] = String("")
		}
	}
	var nested []*Table
	for _, v := range r.fields {
		if list, ok := v.(List); ok && list.Table != nil {
			nested = append(nested, list.Table)
		}
	}
	r.mu.Unlock()

	for _, t := range nested {
		for _, child := range t.Rows() {
			child.EnsureFields(keys...)
		}
	}
}

// CarryApp copies AppData from src onto dst, then recurses into nested
// lists that exist on both sides, pairing child rows by index.
// Fields are left untouched.
func CarryApp(dst, src *Row) {
	if dst == nil || src == nil || dst == src {
		return
	}
	dst.SetApp(src.App())

	for _, key := range dst.Keys() {
		dt, ok := dst.Nested(key)
		if !ok {
			continue
		}
		st, ok := src.Nested(key)
		if !ok {
			continue
		}
		srcRows := st.Rows()
		for i, child := range dt.Rows() {
			if i >= len(srcRows) {
				break
			}
			CarryApp(child, srcRows[i])
		}
	}
}
