package redisd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBLPopLiveness is spec.md §8 Testable Properties #7: a BLPOP on an
// empty key, followed by an RPUSH, completes with [k, v] and leaves the
// list empty.
func TestBLPopLiveness(t *testing.T) {
	ks := newTestKeyspace(t)

	type result struct {
		x  []byte
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		x, ok, err := ks.BLPop("q", 0)
		require.NoError(t, err)
		done <- result{x, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	n, err := ks.Push("q", [][]byte{[]byte("hello")}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case r := <-done:
		assert.True(t, r.ok)
		assert.Equal(t, "hello", string(r.x))
	case <-time.After(time.Second):
		t.Fatal("BLPOP did not wake on RPUSH")
	}

	llen, err := ks.LLen("q")
	require.NoError(t, err)
	assert.Equal(t, 0, llen)
}

// TestBLPopFairness is spec.md §8 Testable Properties #8: given waiters W1
// then W2 on k, a single RPUSH wakes W1 only.
func TestBLPopFairness(t *testing.T) {
	ks := newTestKeyspace(t)

	w1Started := make(chan struct{})
	w1Done := make(chan bool, 1)
	go func() {
		close(w1Started)
		_, ok, err := ks.BLPop("q", 0)
		require.NoError(t, err)
		w1Done <- ok
	}()
	<-w1Started
	time.Sleep(10 * time.Millisecond) // ensure W1 registers before W2

	w2Started := make(chan struct{})
	w2Done := make(chan bool, 1)
	go func() {
		close(w2Started)
		_, ok, err := ks.BLPop("q", 0)
		require.NoError(t, err)
		w2Done <- ok
	}()
	<-w2Started
	time.Sleep(10 * time.Millisecond) // ensure W2 registers before the push

	_, err := ks.Push("q", [][]byte{[]byte("v")}, false)
	require.NoError(t, err)

	select {
	case <-w1Done:
	case <-time.After(time.Second):
		t.Fatal("W1 did not wake")
	}

	select {
	case <-w2Done:
		t.Fatal("W2 should not have woken from a single push")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = ks.Push("q", [][]byte{[]byte("v2")}, false)
	require.NoError(t, err)
	select {
	case ok := <-w2Done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("W2 did not wake on the second push")
	}
}

func TestBLPopImmediateWhenNonEmpty(t *testing.T) {
	ks := newTestKeyspace(t)
	_, err := ks.Push("q", [][]byte{[]byte("a")}, false)
	require.NoError(t, err)

	x, ok, err := ks.BLPop("q", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(x))
}

func TestBLPopTimesOut(t *testing.T) {
	ks := newTestKeyspace(t)
	_, ok, err := ks.BLPop("q", 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBLPopWrongType(t *testing.T) {
	ks := newTestKeyspace(t)
	ks.Set("q", []byte("v"), 0, false)

	_, _, err := ks.BLPop("q", 20*time.Millisecond)
	assert.Error(t, err)
}
