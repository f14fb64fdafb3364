package resp

import (
	"io"
	"testing"
)

func BenchmarkWriteBulkString(b *testing.B) {
	w := NewWriter(io.Discard)
	payload := []byte("a test string")
	for range b.N {
		w.WriteBulkString(payload)
	}
}

func BenchmarkWriteArray(b *testing.B) {
	w := NewWriter(io.Discard)
	items := Array{
		BulkString("this"), BulkString("that"), BulkString("and the other"),
		BulkString("more"), BulkString("even more"), BulkString("even more items"),
	}
	for range b.N {
		items.WriteTo(w)
	}
}
