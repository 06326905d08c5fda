package buffer

import (
	"bytes"
	"testing"

	"github.com/dsnet/golib/memfile"
	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
	"github.com/stretchr/testify/assert"
)

func TestBufferPoolManager(t *testing.T) {
	t.Run("new pages get monotonically increasing ids", func(t *testing.T) {
		bufferMgr, _ := createBpm(5)

		first, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		second, err := bufferMgr.NewPage()
		assert.NoError(t, err)

		assert.Equal(t, disk.PageID(1), first.PageId())
		assert.Equal(t, disk.PageID(2), second.PageId())
		assert.Equal(t, 1, first.PinCount())
	})

	t.Run("reads a page from disk", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(5)

		data := make([]byte, disk.PAGE_SIZE)
		copy(data, []byte("hello, world!"))
		syncWrite(1, data, diskScheduler)

		page, err := bufferMgr.FetchPage(1)
		assert.NoError(t, err)

		assert.Equal(t, data, page.Data())
		assert.True(t, bufferMgr.UnpinPage(1, false))
	})

	t.Run("returns an error when every frame is pinned", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(1)

		page, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		firstId := page.PageId()

		_, err = bufferMgr.NewPage()
		var exhausted *util.BufferpoolExhaustedError
		assert.ErrorAs(t, err, &exhausted)

		// unpinning the page frees its frame for eviction
		copy(page.Data(), []byte("dirty"))
		assert.True(t, bufferMgr.UnpinPage(firstId, true))

		second, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		assert.NotEqual(t, firstId, second.PageId())

		// the evicted dirty page reached disk
		res := syncRead(firstId, diskScheduler)
		assert.Equal(t, "dirty", string(bytes.Trim(res, "\x00")))
	})

	t.Run("evicts a page with fewer than k accesses before a hot page", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(2)

		content := []string{"1", "2", "3"}
		for pageId, d := range content {
			data := make([]byte, disk.PAGE_SIZE)
			copy(data, []byte(d))
			syncWrite(disk.PageID(pageId+1), data, diskScheduler)
		}

		// access page 2 many times
		for i := 0; i < 5; i++ {
			_, err := bufferMgr.FetchPage(2)
			assert.NoError(t, err)
			assert.True(t, bufferMgr.UnpinPage(2, false))
		}

		// access page 1 so eviction has a cold candidate
		_, err := bufferMgr.FetchPage(1)
		assert.NoError(t, err)
		assert.True(t, bufferMgr.UnpinPage(1, false))

		// page 3 misses, evicting page 1 rather than the hot page 2
		page, err := bufferMgr.FetchPage(3)
		assert.NoError(t, err)
		assert.Equal(t, "3", string(bytes.Trim(page.Data(), "\x00")))
		assert.True(t, bufferMgr.UnpinPage(3, false))

		_, found := bufferMgr.pageTable.Find(1)
		assert.False(t, found)
		_, found = bufferMgr.pageTable.Find(2)
		assert.True(t, found)
	})

	t.Run("unpin reports failure for absent or unpinned pages", func(t *testing.T) {
		bufferMgr, _ := createBpm(2)

		assert.False(t, bufferMgr.UnpinPage(42, false))

		page, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		assert.True(t, bufferMgr.UnpinPage(page.PageId(), false))
		assert.False(t, bufferMgr.UnpinPage(page.PageId(), false))
	})

	t.Run("dirty evicted pages are flushed to disk", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(2)

		content := []string{"1", "2", "3"}
		pageIds := []disk.PageID{}
		for _, d := range content {
			page, err := bufferMgr.NewPage()
			assert.NoError(t, err)

			copy(page.Data(), []byte(d))
			pageIds = append(pageIds, page.PageId())
			assert.True(t, bufferMgr.UnpinPage(page.PageId(), true))
		}

		// the first page was evicted to make room and flushed on the way out
		res := syncRead(pageIds[0], diskScheduler)
		assert.Equal(t, content[0], string(bytes.Trim(res, "\x00")))
	})

	t.Run("flush page writes resident pages unconditionally", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(5)

		page, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		copy(page.Data(), []byte("flushed"))

		assert.True(t, bufferMgr.FlushPage(page.PageId()))
		assert.False(t, bufferMgr.FlushPage(disk.INVALID_PAGE_ID))
		assert.False(t, bufferMgr.FlushPage(99))

		res := syncRead(page.PageId(), diskScheduler)
		assert.Equal(t, "flushed", string(bytes.Trim(res, "\x00")))
		assert.True(t, bufferMgr.UnpinPage(page.PageId(), false))
	})

	t.Run("flush all writes every resident page", func(t *testing.T) {
		bufferMgr, diskScheduler := createBpm(5)

		pageIds := []disk.PageID{}
		for _, d := range []string{"a", "b", "c"} {
			page, err := bufferMgr.NewPage()
			assert.NoError(t, err)
			copy(page.Data(), []byte(d))
			pageIds = append(pageIds, page.PageId())
			assert.True(t, bufferMgr.UnpinPage(page.PageId(), true))
		}

		bufferMgr.FlushAll()

		for i, d := range []string{"a", "b", "c"} {
			res := syncRead(pageIds[i], diskScheduler)
			assert.Equal(t, d, string(bytes.Trim(res, "\x00")))
		}
	})

	t.Run("delete refuses pinned pages", func(t *testing.T) {
		bufferMgr, _ := createBpm(2)

		page, err := bufferMgr.NewPage()
		assert.NoError(t, err)

		assert.False(t, bufferMgr.DeletePage(page.PageId()))

		assert.True(t, bufferMgr.UnpinPage(page.PageId(), false))
		assert.True(t, bufferMgr.DeletePage(page.PageId()))

		// deleting a non-resident page succeeds trivially
		assert.True(t, bufferMgr.DeletePage(77))
	})

	t.Run("a deleted page's frame is reusable", func(t *testing.T) {
		bufferMgr, _ := createBpm(1)

		page, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		assert.True(t, bufferMgr.UnpinPage(page.PageId(), false))
		assert.True(t, bufferMgr.DeletePage(page.PageId()))

		next, err := bufferMgr.NewPage()
		assert.NoError(t, err)
		assert.Equal(t, 1, next.PinCount())
	})

	t.Run("can read and write through the pool", func(t *testing.T) {
		bufferMgr, _ := createBpm(2)

		content := []string{"1", "2", "3"}
		pageIds := []disk.PageID{}
		for _, d := range content {
			page, err := bufferMgr.NewPage()
			assert.NoError(t, err)
			copy(page.Data(), []byte(d))
			pageIds = append(pageIds, page.PageId())
			assert.True(t, bufferMgr.UnpinPage(page.PageId(), true))
		}

		for i, d := range content {
			page, err := bufferMgr.FetchPage(pageIds[i])
			assert.NoError(t, err)
			assert.Equal(t, d, string(bytes.Trim(page.Data(), "\x00")))
			assert.True(t, bufferMgr.UnpinPage(pageIds[i], false))
		}
	})
}

func createBpm(size int) (*BufferpoolManager, *disk.DiskScheduler) {
	replacer := NewLrukReplacer(size, 2)
	diskMgr := disk.NewManager(memfile.New(make([]byte, 0)))
	diskScheduler := disk.NewScheduler(diskMgr)

	return NewBufferpoolManager(size, replacer, diskScheduler), diskScheduler
}

func syncWrite(pageId disk.PageID, data []byte, diskScheduler *disk.DiskScheduler) {
	writeReq := disk.NewRequest(pageId, data, true)
	<-diskScheduler.Schedule(writeReq)
}

func syncRead(pageId disk.PageID, diskScheduler *disk.DiskScheduler) []byte {
	readReq := disk.NewRequest(pageId, nil, false)
	resp := <-diskScheduler.Schedule(readReq)

	return resp.Data
}
