package redisd

import "time"

// newStringValue returns a String holding data, with expiry the zero Time
// if no TTL applies, per spec.md §4.2.
func newStringValue(data []byte, expiry time.Time) *stringValue {
	return &stringValue{data: data, expiry: expiry}
}

// expired reports whether now is past the value's expiry. A zero expiry
// means no TTL was set.
func (s *stringValue) expired(now time.Time) bool {
	return !s.expiry.IsZero() && now.After(s.expiry)
}
