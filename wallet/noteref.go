package wallet

import (
	"sync"

	"github.com/umbra-network/umbrad/wire"
)

// NoteRef wraps a serialized note behind reference-counted lazy
// deserialization. The plaintext note is constructed on the first
// TakeReference and dropped once every taker has returned it. Callers must
// pair TakeReference and ReturnReference within a scope.
type NoteRef struct {
	mtx        sync.Mutex
	serialized []byte
	note       *wire.Note
	refs       int
}

// NewNoteRef wraps a serialized note.
func NewNoteRef(serialized []byte) *NoteRef {
	return &NoteRef{serialized: serialized}
}

// TakeReference deserializes the note on first use and bumps the reference
// count.
func (r *NoteRef) TakeReference() (*wire.Note, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.note == nil {
		note, err := wire.NoteFromBytes(r.serialized)
		if err != nil {
			return nil, err
		}
		r.note = note
	}
	r.refs++
	return r.note, nil
}

// ReturnReference drops one reference, freeing the deserialized note when
// the count reaches zero.
func (r *NoteRef) ReturnReference() {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.refs == 0 {
		panic("note reference returned more times than taken")
	}
	r.refs--
	if r.refs == 0 {
		r.note = nil
	}
}
