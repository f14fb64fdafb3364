package redisd

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mvandenbrink/respkv/app/redisd/streams"
)

// Keyspace is the type-checked dispatch surface over the three value kinds,
// with TTL scheduling and blocking/notification wiring, per spec.md §4.6.
// All mutation and lookup happens on the single engine goroutine; exported
// methods are the only entry points and are safe to call concurrently from
// many connection goroutines.
type Keyspace struct {
	eng      *engine
	data     map[string]value
	blocking *blockingDispatcher
	clk      clock
}

// NewKeyspace returns an empty, ready-to-use keyspace backed by its own
// engine goroutine.
func NewKeyspace() *Keyspace {
	return &Keyspace{
		eng:      newEngine(),
		data:     make(map[string]value),
		blocking: newBlockingDispatcher(),
		clk:      realClock{},
	}
}

// Close stops the keyspace's engine goroutine. Pending scheduled expiries
// and blocked waiters are abandoned.
func (ks *Keyspace) Close() { ks.eng.stop() }

// Set writes a String value, scheduling expiry at now+ttl if hasTTL, per
// spec.md §4.2.
func (ks *Keyspace) Set(key string, val []byte, ttl time.Duration, hasTTL bool) {
	ks.eng.do(func() {
		var expiry time.Time
		if hasTTL {
			expiry = ks.clk.now().Add(ttl)
		}
		ks.data[key] = newStringValue(val, expiry)
		if hasTTL {
			ks.eng.schedule(expiry, func() { ks.expireIfCurrent(key, expiry) })
		}
	})
}

// expireIfCurrent deletes key only if it still holds the same String value
// with the same expiry instant, per spec.md §4.2's "epoch-compare by value"
// guard against deleting a replacement value written in the interim.
func (ks *Keyspace) expireIfCurrent(key string, expiry time.Time) {
	v, ok := ks.data[key]
	if !ok {
		return
	}
	sv, ok := v.(*stringValue)
	if !ok || !sv.expiry.Equal(expiry) {
		return
	}
	delete(ks.data, key)
}

// Get returns a String's payload. Missing or expired reports ok=false with
// no error; a key holding a non-String value reports err.
func (ks *Keyspace) Get(key string) (val []byte, ok bool, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			return
		}
		sv, isStr := v.(*stringValue)
		if !isStr {
			err = wrongTypeError("GET", v.typeName())
			return
		}
		if sv.expired(ks.clk.now()) {
			delete(ks.data, key)
			return
		}
		val, ok = sv.data, true
	})
	return
}

// Push implements RPUSH (left=false) and LPUSH (left=true): creates the
// list if absent, appends/prepends xs, notifies any blocked waiter on key,
// and returns the new length. Per spec.md §4.6 and §4.5.
func (ks *Keyspace) Push(key string, xs [][]byte, left bool) (n int, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		var lv *listValue
		if exists {
			var ok bool
			lv, ok = v.(*listValue)
			if !ok {
				err = wrongTypeError("PUSH", v.typeName())
				return
			}
		} else {
			lv = newListValue()
			ks.data[key] = lv
		}
		if left {
			n = lv.lpush(xs)
		} else {
			n = lv.rpush(xs)
		}
		ks.blocking.notify(key, lv)
	})
	return
}

// LRange returns items[lo:hi] inclusive. A missing key returns an empty
// slice rather than an error, per spec.md §4.6 and §9's documented
// asymmetry with XRANGE.
func (ks *Keyspace) LRange(key string, lo, hi int) (out [][]byte, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			out = [][]byte{}
			return
		}
		lv, ok := v.(*listValue)
		if !ok {
			err = wrongTypeError("LRANGE", v.typeName())
			return
		}
		out = lv.lrange(lo, hi)
	})
	return
}

// LLen returns a list's length, or 0 for a missing key.
func (ks *Keyspace) LLen(key string) (n int, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			return
		}
		lv, ok := v.(*listValue)
		if !ok {
			err = wrongTypeError("LLEN", v.typeName())
			return
		}
		n = lv.llen()
	})
	return
}

// LPop pops the head element. ok=false with no error on a missing or empty
// list, meaning the caller encodes a null bulk.
func (ks *Keyspace) LPop(key string) (x []byte, ok bool, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			return
		}
		lv, isList := v.(*listValue)
		if !isList {
			err = wrongTypeError("LPOP", v.typeName())
			return
		}
		x, ok = lv.lpop()
	})
	return
}

// LPopMany pops up to n head elements. A nil return (as opposed to a
// non-nil empty slice) means the caller encodes a null bulk rather than an
// empty array, per spec.md §4.3.
func (ks *Keyspace) LPopMany(key string, n int) (popped [][]byte, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			return
		}
		lv, isList := v.(*listValue)
		if !isList {
			err = wrongTypeError("LPOP", v.typeName())
			return
		}
		popped = lv.lpopMany(n)
	})
	return
}

// Type returns "none", "string", "list", or "stream" per spec.md §4.6.
func (ks *Keyspace) Type(key string) string {
	var t typeName
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			t = typeNone
			return
		}
		if sv, isStr := v.(*stringValue); isStr && sv.expired(ks.clk.now()) {
			delete(ks.data, key)
			t = typeNone
			return
		}
		t = v.typeName()
	})
	return string(t)
}

// BLPop implements BLPOP k timeout, per spec.md §4.6 and §5's
// cancellation/timeout semantics. timeout == 0 means wait forever. Returns
// ok=false (encoded as a null array) only after a real timeout with no
// waiter match.
func (ks *Keyspace) BLPop(key string, timeout time.Duration) (x []byte, ok bool, err error) {
	var req *blockingRequest
	var immediate bool

	ks.eng.do(func() {
		v, exists := ks.data[key]
		if exists {
			lv, isList := v.(*listValue)
			if !isList {
				err = wrongTypeError("BLPOP", v.typeName())
				return
			}
			if !lv.empty() {
				x, _ = lv.lpop()
				immediate = true
				return
			}
		}
		req = newBlockingRequest(func(v *listValue) bool {
			if v.empty() {
				return false
			}
			popped, _ := v.lpop()
			x = popped
			return true
		})
		ks.blocking.register(key, req)
	})

	if err != nil || immediate {
		return x, immediate, err
	}

	if timeout == 0 {
		<-req.done
		return x, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-req.done:
		return x, true, nil
	case <-timer.C:
		ks.eng.do(func() { ks.blocking.cancel(key, req) })
		select {
		case <-req.done:
			// Completion and timeout raced; completion wins (spec.md §5).
			return x, true, nil
		default:
			return nil, false, nil
		}
	}
}

// XAdd appends an entry to the stream at key (creating it if absent),
// resolving id per spec.md §4.4 "ID generation" and validating
// monotonicity, returning the assigned id encoded as "<time>-<seq>".
func (ks *Keyspace) XAdd(key, idTemplate string, fields [][]byte) (id string, err error) {
	if len(fields)%2 != 0 {
		return "", errors.New("wrong number of arguments for 'xadd' command")
	}
	ks.eng.do(func() {
		v, exists := ks.data[key]
		var sv *streamValue
		if exists {
			var ok bool
			sv, ok = v.(*streamValue)
			if !ok {
				err = wrongTypeError("XADD", v.typeName())
				return
			}
		} else {
			sv = &streamValue{s: streams.New()}
			ks.data[key] = sv
		}

		last := sv.s.LastID()
		proposed, perr := streams.GenerateID(idTemplate, last, ks.clk.wallMillis())
		if perr != nil {
			err = perr
			return
		}
		if !proposed.Greater(streams.ID{}) {
			err = errors.New("The ID specified in XADD must be greater than 0-0")
			return
		}
		if !proposed.Greater(last) {
			err = errors.New("The ID specified in XADD is equal or smaller than the target stream top item")
			return
		}
		if perr := sv.s.Put(proposed, fields); perr != nil {
			err = perr
			return
		}
		id = proposed.String()
	})
	return id, err
}

// XRange implements XRANGE k start end per spec.md §4.4's bisect rules. A
// missing or non-stream key is an error — see SPEC_FULL.md §5.
func (ks *Keyspace) XRange(key, startArg, endArg string) (entries []streams.Entry, err error) {
	ks.eng.do(func() {
		v, exists := ks.data[key]
		if !exists {
			err = missingStreamError("XRANGE")
			return
		}
		sv, isStream := v.(*streamValue)
		if !isStream {
			err = wrongTypeError("XRANGE", v.typeName())
			return
		}
		from, perr := parseRangeStart(startArg)
		if perr != nil {
			err = perr
			return
		}
		to, perr := parseRangeEnd(endArg)
		if perr != nil {
			err = perr
			return
		}
		entries = sv.s.Range(from, to)
	})
	return
}

func parseRangeStart(s string) (streams.ID, error) {
	if s == "-" {
		return streams.MinID, nil
	}
	return parseBoundID(s, 0)
}

func parseRangeEnd(s string) (streams.ID, error) {
	if s == "+" {
		return streams.MaxID, nil
	}
	return parseBoundID(s, ^uint64(0))
}

// parseBoundID parses an XRANGE boundary argument: either a full "t-s" id,
// or a bare millisecond time, in which case seq defaults to defaultSeq
// (0 for a lower bound, max-uint64 for an upper bound — spec.md §4.4's
// "whole ms window" inclusion rule).
func parseBoundID(s string, defaultSeq uint64) (streams.ID, error) {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		t, err := strconv.ParseUint(s[:i], 10, 64)
		if err != nil {
			return streams.ID{}, errors.New("invalid stream entry id")
		}
		seq, err := strconv.ParseUint(s[i+1:], 10, 64)
		if err != nil {
			return streams.ID{}, errors.New("invalid stream entry id")
		}
		return streams.ID{Time: t, Seq: seq}, nil
	}
	t, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return streams.ID{}, errors.New("invalid stream entry id")
	}
	return streams.ID{Time: t, Seq: defaultSeq}, nil
}

// xreadResult is one stream's contribution to an XREAD reply.
type xreadResult struct {
	key     string
	entries []streams.Entry
}

// XRead implements XREAD STREAMS k... id... [BLOCK ms] per spec.md §4.4 and
// §4.6. ok=false means the caller encodes a null array (block timeout); a
// non-blocking call with nothing to report returns ok=true with an empty
// results slice (spec.md §4.6's "Missing block argument ... returns an
// empty array").
func (ks *Keyspace) XRead(keys []string, idArgs []string, block time.Duration, hasBlock bool) (results []xreadResult, ok bool, err error) {
	resolved := make([]streams.ID, len(keys))

	// The read and the signal capture happen in the same do() so nothing
	// can append to a listed stream between "found nothing" and "start
	// watching for the next append" (spec.md §5 Ordering guarantee #4).
	sigs := make([]<-chan struct{}, len(keys))
	ks.eng.do(func() {
		for i, k := range keys {
			v, exists := ks.data[k]
			if !exists {
				err = missingStreamError("XREAD")
				return
			}
			sv, isStream := v.(*streamValue)
			if !isStream {
				err = wrongTypeError("XREAD", v.typeName())
				return
			}
			after := sv.s.LastID()
			if idArgs[i] != "$" {
				id, perr := parseFullID(idArgs[i])
				if perr != nil {
					err = perr
					return
				}
				after = id
			}
			resolved[i] = after

			if entries := sv.s.After(after); len(entries) > 0 {
				results = append(results, xreadResult{key: k, entries: entries})
			}
			sigs[i] = sv.s.Signal()
		}
	})
	if err != nil {
		return nil, false, err
	}
	if len(results) > 0 {
		return results, true, nil
	}
	if !hasBlock {
		return []xreadResult{}, true, nil
	}

	var deadline time.Time
	if block > 0 {
		deadline = ks.clk.now().Add(block)
	}

	for {
		woken, cancel := awaitAny(sigs)

		var timer *time.Timer
		if block > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				cancel()
				return nil, false, nil
			}
			timer = time.NewTimer(remaining)
		}

		select {
		case <-woken:
		case <-timerC(timer):
			cancel()
			return nil, false, nil
		}
		if timer != nil {
			timer.Stop()
		}
		cancel()

		// Re-check and re-capture atomically, for the same reason as the
		// first pass above: the wakeup only means "something changed",
		// not "the key we're interested in changed", so the retry must
		// not trust a channel captured outside this do().
		var fresh []xreadResult
		ks.eng.do(func() {
			for i, k := range keys {
				sv := ks.data[k].(*streamValue)
				if entries := sv.s.After(resolved[i]); len(entries) > 0 {
					fresh = append(fresh, xreadResult{key: k, entries: entries})
				}
				sigs[i] = sv.s.Signal()
			}
		})
		if len(fresh) > 0 {
			return fresh, true, nil
		}
	}
}

// awaitAny returns a channel that closes the first time any of sigs
// fires, and a cancel func that stops the watcher goroutines for the
// ones that never fired. Callers must call cancel once they're done
// waiting (data found, timeout, or about to recapture sigs for another
// round) or the watchers for untouched streams leak until that stream's
// next append (spec.md §9 "Stream notifications").
func awaitAny(sigs []<-chan struct{}) (woken <-chan struct{}, cancel func()) {
	done := make(chan struct{})
	w := make(chan struct{})
	var once sync.Once
	var closeOnce sync.Once

	for _, ch := range sigs {
		go func(ch <-chan struct{}) {
			select {
			case <-ch:
				once.Do(func() { close(w) })
			case <-done:
			}
		}(ch)
	}

	return w, func() { closeOnce.Do(func() { close(done) }) }
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func parseFullID(s string) (streams.ID, error) {
	i := strings.IndexByte(s, '-')
	if i < 0 {
		return streams.ID{}, errors.New("invalid stream entry id")
	}
	t, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return streams.ID{}, errors.New("invalid stream entry id")
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return streams.ID{}, errors.New("invalid stream entry id")
	}
	return streams.ID{Time: t, Seq: seq}, nil
}
