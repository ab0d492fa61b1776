package hiddenmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/freelist"
	"github.com/sandeepkiranp/pd-linux/hiddenmap"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

func TestInsertSequenceIncrements(t *testing.T) {
	m := hiddenmap.New()
	e1 := m.Insert(100, 200, nil, true, nil)
	require.Equal(t, uint16(1), e1.Sequence)

	e2 := m.Insert(100, 200, nil, true, nil)
	require.Equal(t, uint16(2), e2.Sequence)
}

func TestInsertReuseRemovesFromFreeList(t *testing.T) {
	fl := freelist.New()
	fl.AddRange(200, ivslot.N)
	require.True(t, fl.Contains(200, ivslot.N))

	m := hiddenmap.New()
	m.Insert(7, 200, nil, true, fl)
	require.False(t, fl.Contains(200, ivslot.N))
}

func TestFindAbsentKey(t *testing.T) {
	m := hiddenmap.New()
	_, ok := m.Find(999)
	require.False(t, ok)
}

func TestRollbackRestoresPrevious(t *testing.T) {
	m := hiddenmap.New()
	m.Insert(5, 10, nil, true, nil)
	prev, _ := m.Find(5)

	m.Insert(5, 999, nil, true, nil)
	m.Rollback(5, prev, true)

	got, ok := m.Find(5)
	require.True(t, ok)
	require.Equal(t, prev, got)
}

func TestRollbackDeletesWhenNoPrevious(t *testing.T) {
	m := hiddenmap.New()
	m.Insert(5, 10, nil, true, nil)
	m.Rollback(5, hiddenmap.Entry{}, false)
	_, ok := m.Find(5)
	require.False(t, ok)
}

func TestUpsertMaxSequenceKeepsHighest(t *testing.T) {
	m := hiddenmap.New()
	require.True(t, m.UpsertMaxSequence(1, 100, 5))
	require.False(t, m.UpsertMaxSequence(1, 200, 3))
	require.True(t, m.UpsertMaxSequence(1, 300, 9))

	e, ok := m.Find(1)
	require.True(t, ok)
	require.Equal(t, uint64(300), e.Physical)
	require.Equal(t, uint16(9), e.Sequence)
}
