package streams

import (
	"math/rand"
	"sort"
	"testing"

	radix "github.com/armon/go-radix"
	anothertrie "github.com/dghubble/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIDs []ID

func TestMain(m *testing.M) {
	testIDs = genRandIDs(1, 10000)
	m.Run()
}

func genRandIDs(seed int64, count int) []ID {
	r := rand.New(rand.NewSource(seed))
	ids := make([]ID, count)
	for i := range ids {
		ids[i] = ID{r.Uint64(), r.Uint64()}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

func TestGenerateIDWildcard(t *testing.T) {
	last := ID{5, 5}

	id, err := GenerateID("5-*", last, 0)
	require.NoError(t, err)
	assert.Equal(t, ID{5, 6}, id)

	id, err = GenerateID("6-*", last, 0)
	require.NoError(t, err)
	assert.Equal(t, ID{6, 0}, id)

	// A proposed time at or below last.Time is clamped to last.Time with
	// the next sequence, per spec.md §4.4.
	id, err = GenerateID("3-*", last, 0)
	require.NoError(t, err)
	assert.Equal(t, ID{5, 6}, id)

	id, err = GenerateID("*", ID{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, ID{1000, 0}, id)

	id, err = GenerateID("*", ID{1000, 0}, 1000)
	require.NoError(t, err)
	assert.Equal(t, ID{1000, 1}, id)
}

func TestGenerateIDFullySpecified(t *testing.T) {
	id, err := GenerateID("123-456", ID{}, 0)
	require.NoError(t, err)
	assert.Equal(t, ID{123, 456}, id)

	_, err = GenerateID("nope", ID{}, 0)
	assert.Error(t, err)

	_, err = GenerateID("123-nope", ID{}, 0)
	assert.Error(t, err)
}

func TestInternalReprBase64Digits(t *testing.T) {
	cases := []struct {
		val  uint64
		want []uint8
	}{
		{0, []uint8{10: 0}},
		{63, []uint8{10: 63}},
		{64, []uint8{9: 1, 10: 0}},
		{127, []uint8{9: 1, 10: 63}},
		{128, []uint8{9: 2, 10: 0}},
	}
	for _, c := range cases {
		buf := make([]uint8, 11)
		toBase64(buf, c.val)
		assert.Equal(t, c.want, buf, "val=%d", c.val)
	}
}

func TestInternalReprOrderingMatchesIDOrdering(t *testing.T) {
	for i := 1; i < len(testIDs); i++ {
		a, b := testIDs[i-1].internalRepr(), testIDs[i].internalRepr()
		if !testIDs[i-1].Less(testIDs[i]) {
			continue
		}
		cmp := 0
		for j := range a {
			if a[j] != b[j] {
				if a[j] < b[j] {
					cmp = -1
				} else {
					cmp = 1
				}
				break
			}
		}
		assert.Equal(t, -1, cmp, "internalRepr order must match ID order at index %d", i)
	}
}

func TestPutRejectsNonMonotonicID(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(ID{5, 5}, nil))
	assert.Error(t, s.Put(ID{5, 5}, nil))
	assert.Error(t, s.Put(ID{5, 4}, nil))
	require.NoError(t, s.Put(ID{5, 6}, nil))
}

func TestPutAndRangeRoundTrip(t *testing.T) {
	s := New()
	for i, id := range testIDs {
		require.NoError(t, s.Put(id, [][]byte{[]byte("v"), intBytes(i)}))
	}

	got := s.Range(MinID, MaxID)
	require.Len(t, got, len(testIDs))
	for i, entry := range got {
		assert.Equal(t, testIDs[i], entry.ID)
	}
}

func TestRangeBounds(t *testing.T) {
	s := New()
	ids := []ID{
		{1, 1}, {1, 2}, {1, 999999999}, {22, 22}, {69, 420},
		{9999, 9}, {9999, 10}, {10000, 0}, {10000, 99999999},
		{9999999, 9999999}, {9999999, 99999999},
	}
	for _, id := range ids {
		require.NoError(t, s.Put(id, nil))
	}

	all := s.Range(MinID, MaxID)
	require.Len(t, all, len(ids))

	for i := range ids {
		got := s.Range(ids[i], MaxID)
		require.Len(t, got, len(ids)-i)
		assert.Equal(t, ids[i], got[0].ID)
	}

	got := s.Range(ID{1, 3}, MaxID)
	require.Len(t, got, len(ids)-2)
	assert.Equal(t, ids[2], got[0].ID)

	got = s.Range(ID{10000000, 0}, MaxID)
	assert.Empty(t, got)
}

func TestAfterIsStrictlyGreater(t *testing.T) {
	s := New()
	ids := []ID{{1, 0}, {2, 0}, {2, 1}, {3, 0}}
	for _, id := range ids {
		require.NoError(t, s.Put(id, nil))
	}

	got := s.After(ID{2, 0})
	require.Len(t, got, 2)
	assert.Equal(t, ID{2, 1}, got[0].ID)
	assert.Equal(t, ID{3, 0}, got[1].ID)

	// After an id that was never inserted still excludes everything <=.
	got = s.After(ID{1, 5})
	require.Len(t, got, 3)
	assert.Equal(t, ID{2, 0}, got[0].ID)
}

func TestRangeAgainstRandomIDs(t *testing.T) {
	s := New()
	for i, id := range testIDs {
		require.NoError(t, s.Put(id, intBytes(i)))
	}

	r := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		from := ID{r.Uint64(), r.Uint64()}
		to := ID{r.Uint64(), r.Uint64()}
		if to.Less(from) {
			from, to = to, from
		}
		for _, entry := range s.Range(from, to) {
			if entry.ID.Less(from) || entry.ID.Greater(to) {
				t.Fatalf("entry %s outside [%s, %s]", entry.ID, from, to)
			}
		}
	}
}

func intBytes(i int) [][]byte { return [][]byte{[]byte{byte(i)}} }

func BenchmarkStreamPut(b *testing.B) {
	s := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Put(testIDs[i%len(testIDs)], nil)
	}
}

func BenchmarkArmonRadixInsert(b *testing.B) {
	rx := radix.New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rx.Insert(testIDs[i%len(testIDs)].String(), "v")
	}
}

func BenchmarkDghubbleTrieInsert(b *testing.B) {
	tr := anothertrie.NewRuneTrie()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Put(testIDs[i%len(testIDs)].String(), "v")
	}
}
