package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleConsumerEnforced(t *testing.T) {
	m := NewManager()
	first, err := m.RegisterReader(ID(1))
	require.NoError(t, err)

	_, err = m.RegisterReader(ID(1))
	require.Error(t, err, "a second reader for the same stream_id must be rejected")

	// first reader is untouched by the rejected second registration
	m.HandleData(ID(1), Data{Bytes: []byte("ok")})
	chunk, ok, err := first.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ok"), chunk.Bytes)
}

func TestReaderSeesEndAsExhaustion(t *testing.T) {
	m := NewManager()
	r, err := m.RegisterReader(ID(1))
	require.NoError(t, err)

	m.HandleData(ID(1), Data{Bytes: []byte("a")})
	m.HandleEnd(ID(1))

	_, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlowControlBlocksAtHighWaterMark(t *testing.T) {
	const hwm = 3
	m := NewManager()
	w := m.RegisterWriter(ID(1), hwm)

	var sent int
	var mu sync.Mutex
	emit := func(Data) error {
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < hwm; i++ {
			require.NoError(t, w.Send(Data{Bytes: []byte{byte(i)}}, emit))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer should not block sending up to the high-water mark")
	}

	blocked := make(chan struct{})
	go func() {
		require.NoError(t, w.Send(Data{Bytes: []byte{9}}, emit))
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("writer must block once unacked sends reach the high-water mark")
	case <-time.After(50 * time.Millisecond):
	}

	m.HandleAck(ID(1))

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("writer should unblock after an Ack arrives")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, hwm+1, sent)
}

func TestFlowControlledStreamCompletesAfterAllAcks(t *testing.T) {
	const hwm = 3
	const total = 5
	m := NewManager()
	w := m.RegisterWriter(ID(1), hwm)

	var sentCount int
	var mu sync.Mutex
	emit := func(Data) error {
		mu.Lock()
		sentCount++
		mu.Unlock()
		return nil
	}

	writerDone := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			require.NoError(t, w.Send(Data{Bytes: []byte{byte(i)}}, emit))
		}
		close(writerDone)
	}()

	// reader acks one send at a time with a small delay, regardless of what
	// it has received — by the time all 5 are acked the writer must be done.
	for i := 0; i < total; i++ {
		time.Sleep(5 * time.Millisecond)
		m.HandleAck(ID(1))
	}

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer must complete once all sends are acked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, total, sentCount)
}

func TestDropWakesBlockedWriterAndIsObservedWithinOneIteration(t *testing.T) {
	const hwm = 1
	m := NewManager()
	w := m.RegisterWriter(ID(1), hwm)

	emit := func(Data) error { return nil }
	require.NoError(t, w.Send(Data{Bytes: []byte{1}}, emit))

	result := make(chan error, 1)
	go func() {
		result <- w.Send(Data{Bytes: []byte{2}}, emit)
	}()

	time.Sleep(20 * time.Millisecond)
	m.HandleDrop(ID(1))

	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("dropped writer must unblock")
	}

	assert.True(t, w.IsDropped())
}

func TestReaderDropWakesWriter(t *testing.T) {
	m := NewManager()
	r, err := m.RegisterReader(ID(1))
	require.NoError(t, err)
	w := m.RegisterWriter(ID(1), 1)

	emit := func(Data) error { return nil }
	require.NoError(t, w.Send(Data{}, emit))

	result := make(chan error, 1)
	go func() {
		result <- w.Send(Data{}, emit)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Drop()

	select {
	case err := <-result:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("writer must unblock after the reader drops")
	}
}
