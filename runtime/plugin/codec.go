package plugin

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	shellerr "github.com/opal-lang/shellcore/core/errors"
)

// maxFrameLen bounds a single frame to guard against a misbehaving plugin
// sending a corrupt length prefix that would otherwise exhaust memory.
const maxFrameLen = 64 << 20

// Encoder writes length-prefixed cbor frames to one side of the plugin
// transport. Writes are serialized with a mutex because both the message
// manager's response path and its stream-writer callbacks write frames
// concurrently from different goroutines.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
	em cbor.EncMode
}

// NewEncoder wraps w, using the canonical cbor encoding mode so identical
// messages always serialize to identical bytes.
func NewEncoder(w io.Writer) (*Encoder, error) {
	opts := cbor.CanonicalEncOptions()
	em, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return &Encoder{w: w, em: em}, nil
}

// Encode writes one framed Message: a 4-byte big-endian length prefix
// followed by that many bytes of cbor payload.
func (e *Encoder) Encode(msg Message) error {
	buf, err := e.em.Marshal(msg)
	if err != nil {
		return shellerr.Wrap(shellerr.KindStreamError, "encode plugin message", err)
	}
	if len(buf) > maxFrameLen {
		return shellerr.New(shellerr.KindStreamError, "outgoing plugin message exceeds frame limit")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := e.w.Write(lenPrefix[:]); err != nil {
		return shellerr.Wrap(shellerr.KindStreamError, "write frame length", err)
	}
	if _, err := e.w.Write(buf); err != nil {
		return shellerr.Wrap(shellerr.KindStreamError, "write frame body", err)
	}
	return nil
}

// Decoder reads length-prefixed cbor frames from one side of the plugin
// transport. Unlike Encoder it needs no mutex: each connection has exactly
// one reader goroutine pumping frames into the message manager.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the next framed Message, blocking until one arrives or the
// underlying reader returns an error (including io.EOF on clean plugin
// shutdown).
func (d *Decoder) Decode() (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(d.r, lenPrefix[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameLen {
		return Message{}, shellerr.New(shellerr.KindStreamError, fmt.Sprintf("incoming plugin frame of %d bytes exceeds limit", n))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return Message{}, shellerr.Wrap(shellerr.KindStreamError, "read frame body", err)
	}
	var msg Message
	if err := cbor.Unmarshal(buf, &msg); err != nil {
		return Message{}, shellerr.Wrap(shellerr.KindStreamError, "decode plugin message", err)
	}
	return msg, nil
}
