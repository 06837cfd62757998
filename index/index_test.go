package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type intKey int

func (k intKey) Less(other any) bool  { return k < other.(intKey) }
func (k intKey) Equal(other any) bool { return k == other.(intKey) }

func TestInsertGetDelete(t *testing.T) {
	idx := New[intKey, string]()

	inserted, _, had := idx.Insert(intKey(1), "a", func(existing string, found bool) bool { return !found })
	require.True(t, inserted)
	require.False(t, had)

	v, ok := idx.Get(intKey(1))
	require.True(t, ok)
	require.Equal(t, "a", v)

	// predicate false refuses the insert (spec.md §4.7 "predicated on no
	// visible row").
	inserted, prev, had := idx.Insert(intKey(1), "b", func(existing string, found bool) bool { return !found })
	require.False(t, inserted)
	require.True(t, had)
	require.Equal(t, "a", prev)

	v, ok = idx.Delete(intKey(1))
	require.True(t, ok)
	require.Equal(t, "a", v)

	_, ok = idx.Get(intKey(1))
	require.False(t, ok)
}

func TestLookupForUpdateInsertsWhenMissing(t *testing.T) {
	idx := New[intKey, string]()

	_, found, set, release := idx.LookupForUpdate(intKey(5))
	require.False(t, found)
	set("fresh")
	release()

	v, ok := idx.Get(intKey(5))
	require.True(t, ok)
	require.Equal(t, "fresh", v)
}

func TestLookupForUpdateReplacesExisting(t *testing.T) {
	idx := New[intKey, string]()
	idx.Insert(intKey(2), "old", func(string, bool) bool { return true })

	existing, found, set, release := idx.LookupForUpdate(intKey(2))
	require.True(t, found)
	require.Equal(t, "old", existing)
	set("new")
	release()

	v, _ := idx.Get(intKey(2))
	require.Equal(t, "new", v)
}

func TestRangeScanOrderedAndBounded(t *testing.T) {
	idx := New[intKey, int]()
	for _, k := range []int{5, 1, 3, 9, 7} {
		idx.Insert(intKey(k), k, func(int, bool) bool { return true })
	}

	var seen []int
	idx.RangeScan(intKey(3), intKey(8), true, func(key intKey, value int) bool {
		seen = append(seen, value)
		return true
	})
	require.Equal(t, []int{3, 5, 7}, seen)
}

func TestScanAllVisitsEveryEntryInOrder(t *testing.T) {
	idx := New[intKey, int]()
	for _, k := range []int{4, 2, 6} {
		idx.Insert(intKey(k), k, func(int, bool) bool { return true })
	}

	var seen []int
	idx.ScanAll(func(key intKey, value int) bool {
		seen = append(seen, value)
		return true
	})
	require.Equal(t, []int{2, 4, 6}, seen)
	require.Equal(t, 3, idx.Len())
}

func TestRangeScanEarlyStop(t *testing.T) {
	idx := New[intKey, int]()
	for _, k := range []int{1, 2, 3, 4} {
		idx.Insert(intKey(k), k, func(int, bool) bool { return true })
	}

	var seen []int
	idx.RangeScan(intKey(1), intKey(0), false, func(key intKey, value int) bool {
		seen = append(seen, value)
		return len(seen) < 2
	})
	require.Equal(t, []int{1, 2}, seen)
}
