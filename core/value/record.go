package value

import "sync/atomic"

// recordData is the shared, reference-counted backing store for a Record.
// Clone is O(1): it bumps refs and shares the pointer. The first mutation
// after a clone forks a private copy (copy-on-write), matching the
// container-level COW guidance for large interior stores.
type recordData struct {
	keys []string
	vals []Value
	refs int32
}

// Record is an insertion-order-preserving string-keyed mapping. Inserting a
// key already present overwrites its value and keeps its original position
// — last-write-wins on value, first-write-wins on position.
type Record struct {
	data *recordData
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{data: &recordData{refs: 1}}
}

// Clone returns a Record sharing the same backing store until the next
// mutation, which will fork a private copy.
func (r Record) Clone() Record {
	if r.data == nil {
		return NewRecord()
	}
	atomic.AddInt32(&r.data.refs, 1)
	return Record{data: r.data}
}

// unshare forks a private backing store if this Record's store is shared
// with another clone, so the following mutation does not corrupt sibling
// records. Called at the top of every mutating method.
func (r *Record) unshare() {
	if r.data == nil {
		r.data = &recordData{refs: 1}
		return
	}
	if atomic.LoadInt32(&r.data.refs) <= 1 {
		return
	}
	keys := append([]string(nil), r.data.keys...)
	vals := append([]Value(nil), r.data.vals...)
	atomic.AddInt32(&r.data.refs, -1)
	r.data = &recordData{keys: keys, vals: vals, refs: 1}
}

// Len returns the number of fields.
func (r Record) Len() int {
	if r.data == nil {
		return 0
	}
	return len(r.data.keys)
}

// Get returns the value for key and whether it was present.
func (r Record) Get(key string) (Value, bool) {
	if r.data == nil {
		return Value{}, false
	}
	for i, k := range r.data.keys {
		if k == key {
			return r.data.vals[i], true
		}
	}
	return Value{}, false
}

// Keys returns the fields in insertion order. The returned slice must not
// be mutated by the caller.
func (r Record) Keys() []string {
	if r.data == nil {
		return nil
	}
	return r.data.keys
}

// Values returns the values in the same order as Keys.
func (r Record) Values() []Value {
	if r.data == nil {
		return nil
	}
	return r.data.vals
}

// Insert sets key to val, overwriting any existing value for key while
// preserving its original insertion position (RecordInsert's documented
// last-write-wins-on-value, first-write-wins-on-position policy).
func (r *Record) Insert(key string, val Value) {
	r.unshare()
	for i, k := range r.data.keys {
		if k == key {
			r.data.vals[i] = val
			return
		}
	}
	r.data.keys = append(r.data.keys, key)
	r.data.vals = append(r.data.vals, val)
}

// Range calls fn for each field in insertion order; stops early if fn
// returns false.
func (r Record) Range(fn func(key string, val Value) bool) {
	if r.data == nil {
		return
	}
	for i, k := range r.data.keys {
		if !fn(k, r.data.vals[i]) {
			return
		}
	}
}

// Spread merges other's fields into r using Insert semantics (used by
// RecordSpread).
func (r *Record) Spread(other Record) {
	other.Range(func(k string, v Value) bool {
		r.Insert(k, v)
		return true
	})
}
