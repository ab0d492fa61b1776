package bptree_test

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/bptree"
	"github.com/sandeepkiranp/pd-linux/carrierio"
	"github.com/sandeepkiranp/pd-linux/cipher"
	"github.com/sandeepkiranp/pd-linux/device"
	"github.com/sandeepkiranp/pd-linux/freelist"
	"github.com/sandeepkiranp/pd-linux/ivgen"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

func newTestTree(t *testing.T, order int) *bptree.Tree {
	t.Helper()
	tr, err := bptree.New(newMemStore(), order, 0, false)
	require.NoError(t, err)
	return tr
}

func TestInsertFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t, 4)

	for i := uint32(0); i < 30; i++ {
		require.NoError(t, tr.Insert(ctx, i, uint32(i)*10))
	}
	for i := uint32(0); i < 30; i++ {
		v, ok, err := tr.Find(ctx, i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(i)*10, v)
	}
	_, ok, err := tr.Find(ctx, 999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertUpdatesExistingKey(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t, 4)
	require.NoError(t, tr.Insert(ctx, 5, 100))
	require.NoError(t, tr.Insert(ctx, 5, 200))

	v, ok, err := tr.Find(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(200), v)
}

func TestRangeQuerySortedAcrossLeaves(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t, 3)

	keys := []uint32{30, 10, 20, 5, 15, 25, 1}
	for _, k := range keys {
		require.NoError(t, tr.Insert(ctx, k, uint32(k)))
	}

	got, err := tr.Range(ctx, 10, 25)
	require.NoError(t, err)
	var gotKeys []uint32
	for _, p := range got {
		gotKeys = append(gotKeys, p.Key)
	}
	require.Equal(t, []uint32{10, 15, 20, 25}, gotKeys)
}

func TestOrderBoundaryMinimum(t *testing.T) {
	exerciseOrder(t, bptree.MinOrder)
}

func TestOrderBoundaryMaximum(t *testing.T) {
	exerciseOrder(t, bptree.MaxOrder)
}

func exerciseOrder(t *testing.T, order int) {
	ctx := context.Background()
	tr := newTestTree(t, order)

	r := rand.New(rand.NewSource(int64(order)))
	keys := r.Perm(200)

	for _, k := range keys {
		require.NoError(t, tr.Insert(ctx, uint32(k), uint32(k)*2))
	}
	for _, k := range keys {
		v, ok, err := tr.Find(ctx, uint32(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(k)*2, v)
	}

	got, err := tr.Range(ctx, 0, 199)
	require.NoError(t, err)
	require.Len(t, got, 200)
	for i, p := range got {
		require.Equal(t, uint32(i), p.Key)
	}
}

func TestDeleteRemovesKeyAndRebalances(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t, 3)

	for i := uint32(0); i < 20; i++ {
		require.NoError(t, tr.Insert(ctx, i, uint32(i)))
	}
	for i := uint32(0); i < 20; i += 2 {
		require.NoError(t, tr.Delete(ctx, i))
	}

	for i := uint32(0); i < 20; i++ {
		_, ok, err := tr.Find(ctx, i)
		require.NoError(t, err)
		if i%2 == 0 {
			require.False(t, ok, "key %d should have been deleted", i)
		} else {
			require.True(t, ok, "key %d should still be present", i)
		}
	}

	got, err := tr.Range(ctx, 0, 19)
	require.NoError(t, err)
	for _, p := range got {
		require.True(t, p.Key%2 == 1)
	}
}

func TestDeleteDownToEmptyCollapsesRoot(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t, 4)

	for i := uint32(0); i < 40; i++ {
		require.NoError(t, tr.Insert(ctx, i, uint32(i)))
	}
	for i := uint32(0); i < 40; i++ {
		require.NoError(t, tr.Delete(ctx, i))
	}
	for i := uint32(0); i < 40; i++ {
		_, ok, err := tr.Find(ctx, i)
		require.NoError(t, err)
		require.False(t, ok)
	}
	got, err := tr.Range(ctx, 0, 39)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t, 4)
	require.NoError(t, tr.Insert(ctx, 1, 1))
	require.NoError(t, tr.Delete(ctx, 999))

	v, ok, err := tr.Find(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), v)
}

func TestDeviceBackedRoundTrip(t *testing.T) {
	ctx := context.Background()
	dev := device.NewFake(5000)
	gen, err := ivgen.New(ivgen.Plain, 0)
	require.NoError(t, err)
	codec := &carrierio.Codec{
		Dev:  dev,
		Key:  bytes.Repeat([]byte{0x11}, 32),
		Slot: cipher.AESCTRSlotCipher{},
		Gen:  gen,
	}
	fl := freelist.New()
	fl.AddRange(0, 5000)
	// reserve the first run for the root so no node allocation can claim it.
	fl.Remove(0, ivslot.N)
	store := bptree.NewDeviceNodeStore(codec, fl)

	tr, err := bptree.New(store, 4, 0, false)
	require.NoError(t, err)

	for i := uint32(0); i < 25; i++ {
		require.NoError(t, tr.Insert(ctx, i, uint32(i)*3))
	}
	for i := uint32(0); i < 25; i++ {
		v, ok, err := tr.Find(ctx, i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(i)*3, v)
	}

	root, ok := tr.RootSector()
	require.True(t, ok)
	require.False(t, fl.Contains(root, ivslot.N), "root's carriers must not still be free")
}
