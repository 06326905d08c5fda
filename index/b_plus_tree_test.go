package index

import (
	"testing"

	"github.com/dsnet/golib/memfile"
	"github.com/jobala/basalt/buffer"
	"github.com/jobala/basalt/storage/disk"
	"github.com/stretchr/testify/assert"
)

func TestBPlusTree(t *testing.T) {
	t.Run("stored values can be retrieved", func(t *testing.T) {
		bpm := createBpm(5)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 0, 0)
		assert.NoError(t, err)

		register := map[int64]int64{
			100: 25,
			200: 45,
			300: 40,
		}

		for k, v := range register {
			inserted, err := bplus.Insert(k, v)
			assert.NoError(t, err)
			assert.True(t, inserted)
		}

		for k, v := range register {
			val, found, err := bplus.GetValue(k)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, v, val)
		}

		_, found, err := bplus.GetValue(999)
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("rejects key types without a fixed size", func(t *testing.T) {
		bpm := createBpm(5)

		_, err := NewBplusTree[string, int64]("bad-key", bpm, 0, 0)
		assert.Error(t, err)
	})

	t.Run("duplicate keys are rejected", func(t *testing.T) {
		bpm := createBpm(5)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 0, 0)
		assert.NoError(t, err)

		inserted, err := bplus.Insert(5, 1)
		assert.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = bplus.Insert(5, 2)
		assert.NoError(t, err)
		assert.False(t, inserted)

		val, found, err := bplus.GetValue(5)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(1), val)
	})

	t.Run("a full leaf splits and grows a new root", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for k := int64(1); k <= 4; k++ {
			inserted, err := bplus.Insert(k, k*10)
			assert.NoError(t, err)
			assert.True(t, inserted)
		}

		root := fetchInternalForTest(t, bpm, bplus.RootPageId())
		assert.Equal(t, 2, root.getSize())
		assert.Equal(t, int64(3), root.keyAt(1))

		left := fetchLeafForTest(t, bpm, root.valueAt(0))
		right := fetchLeafForTest(t, bpm, root.valueAt(1))

		assert.Equal(t, []int64{1, 2}, left.Keys)
		assert.Equal(t, []int64{3, 4}, right.Keys)
		assert.Equal(t, right.PageId, left.Next)
		assert.Equal(t, disk.INVALID_PAGE_ID, right.Next)

		assert.Equal(t, []int64{1, 2, 3, 4}, collectKeys(t, bplus))
	})

	t.Run("an underflowed leaf borrows from its right sibling", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for k := int64(1); k <= 4; k++ {
			_, err := bplus.Insert(k, k*10)
			assert.NoError(t, err)
		}

		assert.NoError(t, bplus.Remove(1))

		root := fetchInternalForTest(t, bpm, bplus.RootPageId())
		assert.Equal(t, int64(4), root.keyAt(1))

		left := fetchLeafForTest(t, bpm, root.valueAt(0))
		right := fetchLeafForTest(t, bpm, root.valueAt(1))
		assert.Equal(t, []int64{2, 3}, left.Keys)
		assert.Equal(t, []int64{4}, right.Keys)
	})

	t.Run("leaves merge and a single-child root collapses", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for k := int64(1); k <= 4; k++ {
			_, err := bplus.Insert(k, k*10)
			assert.NoError(t, err)
		}
		assert.NoError(t, bplus.Remove(1))
		assert.NoError(t, bplus.Remove(2))

		// the merged leaf is now the root
		rootPage, err := bpm.FetchPage(bplus.RootPageId())
		assert.NoError(t, err)
		assert.Equal(t, LEAF_PAGE, pageTypeOf(rootPage.Data()))
		assert.True(t, bpm.UnpinPage(bplus.RootPageId(), false))

		merged := fetchLeafForTest(t, bpm, bplus.RootPageId())
		assert.Equal(t, []int64{3, 4}, merged.Keys)
		assert.Equal(t, disk.INVALID_PAGE_ID, merged.Parent)

		assert.Equal(t, []int64{3, 4}, collectKeys(t, bplus))
	})

	t.Run("can store more items than a page's max size", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for i := int64(100); i >= 0; i-- {
			inserted, err := bplus.Insert(i, i)
			assert.NoError(t, err)
			assert.True(t, inserted)
		}

		for i := int64(0); i <= 100; i++ {
			val, found, err := bplus.GetValue(i)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, i, val)
		}
	})

	t.Run("can iterate through stored values", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for i := int64(100); i >= 0; i-- {
			_, err := bplus.Insert(i, i)
			assert.NoError(t, err)
		}

		expected := []int64{}
		for i := int64(0); i <= 100; i++ {
			expected = append(expected, i)
		}

		assert.Equal(t, expected, collectKeys(t, bplus))
	})

	t.Run("removing every key empties the tree", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for i := int64(0); i <= 30; i++ {
			_, err := bplus.Insert(i, i)
			assert.NoError(t, err)
		}

		for i := int64(0); i <= 30; i++ {
			assert.NoError(t, bplus.Remove(i))

			_, found, err := bplus.GetValue(i)
			assert.NoError(t, err)
			assert.False(t, found)
		}

		assert.True(t, bplus.IsEmpty())

		indexIter, err := bplus.Iterator()
		assert.NoError(t, err)
		assert.True(t, indexIter.IsEnd())

		// an emptied tree accepts new entries
		inserted, err := bplus.Insert(7, 70)
		assert.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("removing an absent key is a no-op", func(t *testing.T) {
		bpm := createBpm(5)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		assert.NoError(t, bplus.Remove(4))

		_, err = bplus.Insert(1, 10)
		assert.NoError(t, err)
		assert.NoError(t, bplus.Remove(4))

		val, found, err := bplus.GetValue(1)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(10), val)
	})

	t.Run("iterator can start at the smallest key >= target", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for i := int64(0); i <= 20; i += 2 {
			_, err := bplus.Insert(i, i)
			assert.NoError(t, err)
		}

		indexIter, err := bplus.IteratorAt(5)
		assert.NoError(t, err)

		key, _, err := indexIter.Next()
		assert.NoError(t, err)
		assert.Equal(t, int64(6), key)

		indexIter, err = bplus.IteratorAt(99)
		assert.NoError(t, err)
		assert.True(t, indexIter.IsEnd())
	})

	t.Run("get key range returns values between bounds", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		for i := int64(0); i <= 10; i++ {
			_, err := bplus.Insert(i, i*10)
			assert.NoError(t, err)
		}

		res, err := bplus.GetKeyRange(3, 7)
		assert.NoError(t, err)
		assert.Equal(t, []int64{30, 40, 50, 60, 70}, res)
	})

	t.Run("batch insert stores every item", func(t *testing.T) {
		bpm := createBpm(10)
		bplus, err := NewBplusTree[int64, int64]("test", bpm, 3, 3)
		assert.NoError(t, err)

		items := map[int64]int64{1: 10, 2: 20, 3: 30, 4: 40, 5: 50}
		assert.NoError(t, bplus.BatchInsert(items))

		for k, v := range items {
			val, found, err := bplus.GetValue(k)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, v, val)
		}
	})

	t.Run("an index reopened by name resumes from its persisted root", func(t *testing.T) {
		bpm := createBpm(10)

		first, err := NewBplusTree[int64, int64]("accounts", bpm, 3, 3)
		assert.NoError(t, err)
		for i := int64(0); i <= 10; i++ {
			_, err := first.Insert(i, i*2)
			assert.NoError(t, err)
		}

		second, err := NewBplusTree[int64, int64]("accounts", bpm, 3, 3)
		assert.NoError(t, err)
		assert.Equal(t, first.RootPageId(), second.RootPageId())

		val, found, err := second.GetValue(8)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(16), val)
	})

	t.Run("indexes with different names keep separate roots", func(t *testing.T) {
		bpm := createBpm(10)

		accounts, err := NewBplusTree[int64, int64]("accounts", bpm, 3, 3)
		assert.NoError(t, err)
		orders, err := NewBplusTree[int64, int64]("orders", bpm, 3, 3)
		assert.NoError(t, err)

		_, err = accounts.Insert(1, 100)
		assert.NoError(t, err)

		assert.True(t, orders.IsEmpty())

		_, found, err := orders.GetValue(1)
		assert.NoError(t, err)
		assert.False(t, found)
	})
}

func TestHeaderPage(t *testing.T) {
	t.Run("update record upserts", func(t *testing.T) {
		header := headerPage{}

		_, found := header.rootOf("accounts")
		assert.False(t, found)

		header.insertRecord("accounts", 3)
		root, found := header.rootOf("accounts")
		assert.True(t, found)
		assert.Equal(t, disk.PageID(3), root)

		header.updateRecord("accounts", 9)
		root, _ = header.rootOf("accounts")
		assert.Equal(t, disk.PageID(9), root)

		header.updateRecord("orders", 4)
		root, found = header.rootOf("orders")
		assert.True(t, found)
		assert.Equal(t, disk.PageID(4), root)
	})
}

func createBpm(size int) *buffer.BufferpoolManager {
	replacer := buffer.NewLrukReplacer(size, 2)
	diskMgr := disk.NewManager(memfile.New(make([]byte, 0)))
	diskScheduler := disk.NewScheduler(diskMgr)

	return buffer.NewBufferpoolManager(size, replacer, diskScheduler)
}

func collectKeys(t *testing.T, bplus *bplusTree[int64, int64]) []int64 {
	t.Helper()

	indexIter, err := bplus.Iterator()
	assert.NoError(t, err)

	res := []int64{}
	for !indexIter.IsEnd() {
		key, _, err := indexIter.Next()
		assert.NoError(t, err)
		res = append(res, key)
	}

	return res
}

func fetchLeafForTest(t *testing.T, bpm *buffer.BufferpoolManager, pageId disk.PageID) *bplusLeafPage[int64, int64] {
	t.Helper()

	page, err := bpm.FetchPage(pageId)
	assert.NoError(t, err)

	leaf := &bplusLeafPage[int64, int64]{}
	assert.NoError(t, leaf.unmarshal(page.Data()))
	assert.True(t, bpm.UnpinPage(pageId, false))

	return leaf
}

func fetchInternalForTest(t *testing.T, bpm *buffer.BufferpoolManager, pageId disk.PageID) *bplusInternalPage[int64] {
	t.Helper()

	page, err := bpm.FetchPage(pageId)
	assert.NoError(t, err)

	internal := &bplusInternalPage[int64]{}
	assert.NoError(t, internal.unmarshal(page.Data()))
	assert.True(t, bpm.UnpinPage(pageId, false))

	return internal
}
