// Package stream implements the plugin interface's multiplexed stream
// transport: per-stream-id reading and writing tables, ack-based flow
// control, and drop/end cooperative teardown. It is deliberately
// transport-agnostic — runtime/plugin drives it from both the host and
// child sides of the wire, feeding it decoded Data/Ack/End/Drop messages and
// asking it to block a writer goroutine on backpressure.
package stream

import (
	"sync"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

// ID identifies one independent stream within a plugin call.
type ID uint64

// Data is one chunk of stream content: exactly one of Bytes (external
// stdout/stderr) or Values (a ListStream body) is populated.
type Data struct {
	Bytes  []byte
	Values []value.Value
}

type readResult struct {
	data *Data
	err  error
}

type readerEntry struct {
	ch     chan readResult
	closed bool
}

type writerEntry struct {
	cond          *sync.Cond
	unacked       int
	highWaterMark int
	dropped       bool
	ended         bool
}

// Manager owns the reading and writing tables for every stream_id active on
// one transport connection, guarded by a single mutex; each writer blocks on
// its own condition variable built from that mutex so unrelated streams
// never contend with each other's backpressure waits.
type Manager struct {
	mu      sync.Mutex
	reading map[ID]*readerEntry
	writing map[ID]*writerEntry
}

// NewManager returns an empty stream manager for one transport connection.
func NewManager() *Manager {
	return &Manager{
		reading: make(map[ID]*readerEntry),
		writing: make(map[ID]*writerEntry),
	}
}

// Reader pulls Data chunks delivered for one stream_id until End or Drop.
type Reader struct {
	id ID
	m  *Manager
	ch chan readResult
}

// RegisterReader creates the single permitted consumer for id. Registering a
// second reader for the same id is a distinct, non-corrupting error — the
// first reader's channel and buffered messages are untouched.
func (m *Manager) RegisterReader(id ID) (*Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reading[id]; exists {
		return nil, shellerr.New(shellerr.KindStreamError, "a reader is already registered for this stream")
	}
	entry := &readerEntry{ch: make(chan readResult, 8)}
	m.reading[id] = entry
	return &Reader{id: id, m: m, ch: entry.ch}, nil
}

// Next blocks until the next chunk, end-of-stream (ok=false, err=nil), or an
// error arrives.
func (r *Reader) Next() (*Data, bool, error) {
	res, ok := <-r.ch
	if !ok {
		return nil, false, nil
	}
	if res.err != nil {
		return nil, false, res.err
	}
	if res.data == nil {
		return nil, false, nil
	}
	return res.data, true, nil
}

// Drop tells the manager the reader has lost interest; any writer blocked on
// flow control for this stream wakes and observes IsDropped() == true on its
// next send attempt.
func (r *Reader) Drop() {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if w, ok := r.m.writing[r.id]; ok {
		w.dropped = true
		w.cond.Broadcast()
	}
	delete(r.m.reading, r.id)
}

// deliver pushes a chunk to the reader registered for id, dropping it
// silently if nothing is registered (the reader already left).
func (m *Manager) deliver(id ID, res readResult) {
	m.mu.Lock()
	entry, ok := m.reading[id]
	m.mu.Unlock()
	if !ok || entry.closed {
		return
	}
	entry.ch <- res
}

// HandleData routes a received Data message to its reader.
func (m *Manager) HandleData(id ID, d Data) {
	m.deliver(id, readResult{data: &d})
}

// HandleEnd routes a received End message, closing the reader's channel.
func (m *Manager) HandleEnd(id ID) {
	m.mu.Lock()
	entry, ok := m.reading[id]
	if ok {
		entry.closed = true
	}
	m.mu.Unlock()
	if ok {
		entry.ch <- readResult{}
		close(entry.ch)
	}
}

// HandleStreamError routes a transport-level error to the reader.
func (m *Manager) HandleStreamError(id ID, err error) {
	m.deliver(id, readResult{err: err})
}

// Writer produces Data chunks for one stream_id, blocking when the number of
// unacknowledged sends reaches the configured high-water mark.
type Writer struct {
	id ID
	m  *Manager
	w  *writerEntry
}

// RegisterWriter creates a writer for id with the given high-water mark: the
// maximum number of Data sends allowed to be outstanding (unacknowledged)
// before Send blocks.
func (m *Manager) RegisterWriter(id ID, highWaterMark int) *Writer {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &writerEntry{highWaterMark: highWaterMark}
	w.cond = sync.NewCond(&m.mu)
	m.writing[id] = w
	return &Writer{id: id, m: m, w: w}
}

// Send blocks while the high-water mark is reached, counts the chunk as
// unacknowledged, then releases the manager lock and hands the chunk to
// the supplied emit callback (typically: encode and write to the wire), so
// no I/O runs while the lock is held. emit is called at most once per Send
// and must not itself call back into the Manager for this id.
func (w *Writer) Send(d Data, emit func(Data) error) error {
	w.m.mu.Lock()
	for w.w.unacked >= w.w.highWaterMark && !w.w.dropped {
		w.w.cond.Wait()
	}
	if w.w.dropped {
		w.m.mu.Unlock()
		return shellerr.New(shellerr.KindStreamError, "stream reader dropped; writer stopped")
	}
	w.w.unacked++
	w.m.mu.Unlock()

	return emit(d)
}

// End marks the stream finished and releases its writer bookkeeping.
func (w *Writer) End(emit func() error) error {
	if err := emit(); err != nil {
		return err
	}
	w.m.mu.Lock()
	w.w.ended = true
	delete(w.m.writing, w.id)
	w.m.mu.Unlock()
	return nil
}

// IsDropped reports whether the reader has signaled disinterest.
func (w *Writer) IsDropped() bool {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	return w.w.dropped
}

// HandleAck decrements the outstanding-send counter for id and wakes one
// blocked writer, if any.
func (m *Manager) HandleAck(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writing[id]; ok {
		if w.unacked > 0 {
			w.unacked--
		}
		w.cond.Signal()
	}
}

// HandleDrop marks the writer for id as dropped and wakes it if blocked.
func (m *Manager) HandleDrop(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writing[id]; ok {
		w.dropped = true
		w.cond.Broadcast()
	}
}
