package redisd

// newListValue returns an empty list, ready for rpush/lpush, per spec.md
// §4.3.
func newListValue() *listValue {
	return &listValue{}
}

// rpush appends xs in order and returns the new length.
func (l *listValue) rpush(xs [][]byte) int {
	l.items = append(l.items, xs...)
	return len(l.items)
}

// lpush prepends xs in reverse of the given order, so LPUSH k a b c yields
// head c, b, a, per spec.md §4.3.
func (l *listValue) lpush(xs [][]byte) int {
	head := make([][]byte, len(xs))
	for i, x := range xs {
		head[len(xs)-1-i] = x
	}
	l.items = append(head, l.items...)
	return len(l.items)
}

// lrange returns items[lo:hi] inclusive on both ends, with -1 meaning the
// last index. Out-of-range bounds are clamped silently to the list rather
// than reported as an error; the result is an empty slice when lo > hi
// after clamping, per spec.md §4.3.
func (l *listValue) lrange(lo, hi int) [][]byte {
	n := len(l.items)
	lo = clampIndex(lo, n)
	hi = clampIndex(hi, n)
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	if lo > hi || n == 0 {
		return [][]byte{}
	}
	return l.items[lo : hi+1]
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	return i
}

func (l *listValue) llen() int { return len(l.items) }

// lpop returns the head element and ok=true, or ok=false on an empty list.
func (l *listValue) lpop() (x []byte, ok bool) {
	if len(l.items) == 0 {
		return nil, false
	}
	x = l.items[0]
	l.items = l.items[1:]
	return x, true
}

// lpopMany pops up to n head elements. A nil return (as distinct from a
// non-nil empty slice) means the list was already empty, which callers must
// encode as a null bulk rather than an empty array, per spec.md §4.3.
func (l *listValue) lpopMany(n int) [][]byte {
	if len(l.items) == 0 {
		return nil
	}
	if n > len(l.items) {
		n = len(l.items)
	}
	popped := l.items[:n]
	l.items = l.items[n:]
	return popped
}

func (l *listValue) empty() bool { return len(l.items) == 0 }
