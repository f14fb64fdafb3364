package streams

import "errors"

// Stream is an append-only, id-ordered log of entries plus a notification
// handle used by blocked XREAD waiters (spec.md §3 "Stream value").
//
// Not safe for concurrent use: callers are expected to serialize access
// through the owning keyspace's single engine goroutine, per spec.md §5.
type Stream struct {
	root rxNode
	last ID
	sig  chan struct{}
}

// New returns a ready-to-use, empty stream. The zero value of Stream is
// also usable directly; New just pre-arms the notification channel.
func New() *Stream {
	return &Stream{sig: make(chan struct{})}
}

func (s *Stream) LastID() ID { return s.last }

// Signal returns the current edge-triggered notification channel. It is
// closed exactly once per successful Put and then replaced, so a waiter
// that captured this channel before checking the stream's state is
// guaranteed to observe the very next append (spec.md §3, §5 "Ordering
// guarantee" #4 and §9 "Stream notifications").
func (s *Stream) Signal() <-chan struct{} {
	if s.sig == nil {
		s.sig = make(chan struct{})
	}
	return s.sig
}

// Put appends an entry with the given id, which must be strictly greater
// than the stream's current last id. Signals and re-arms the notification
// handle on success.
func (s *Stream) Put(id ID, fields [][]byte) error {
	if !id.Greater(s.last) {
		return errors.New("stream entry id is not strictly increasing")
	}
	node := s.root.create(id.internalRepr())
	node.entry = &Entry{ID: id, Fields: fields}
	s.last = id

	if s.sig == nil {
		s.sig = make(chan struct{})
	}
	close(s.sig)
	s.sig = make(chan struct{})
	return nil
}

// Range returns entries with from <= id <= to, in id order, per spec.md
// §4.4 XRANGE.
func (s *Stream) Range(from, to ID) []Entry {
	return s.root.rangeEntries(from.internalRepr(), to.internalRepr())
}

// After returns entries with id strictly greater than after, in id order,
// per spec.md §4.4 XREAD.
func (s *Stream) After(after ID) []Entry {
	entries := s.root.atLeast(after.internalRepr())
	if len(entries) > 0 && entries[0].ID.Equal(after) {
		entries = entries[1:]
	}
	return entries
}
