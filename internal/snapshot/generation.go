package snapshot

import "sync/atomic"

// generation is a monotonic counter stamped on every Load, Save, and Reset.
//
// An operation captures the value returned by next when it starts and
// compares it with current when it completes. Any mismatch means a newer
// operation started in between.
type generation struct {
	seq atomic.Int64
}

// next advances the counter and returns the new value.
func (g *generation) next() int64 {
	return g.seq.Add(1)
}

// current returns the counter without advancing it.
func (g *generation) current() int64 {
	return g.seq.Load()
}
