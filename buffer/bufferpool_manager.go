package buffer

import (
	"sync"

	"github.com/jobala/basalt/container/hash"
	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
	"github.com/pkg/errors"
)

// page 0 is reserved for the index header page, allocation starts above it
const firstAllocatablePageId = disk.PageID(1)

const pageTableBucketSize = 4

func NewBufferpoolManager(size int, replacer *lrukReplacer, diskScheduler *disk.DiskScheduler) *BufferpoolManager {
	frames := make([]*Page, size)
	freeFrames := make([]int, size)

	for i := 0; i < size; i++ {
		frames[i] = &Page{
			frameId: i,
			pageId:  disk.INVALID_PAGE_ID,
			data:    make([]byte, disk.PAGE_SIZE),
		}
		freeFrames[i] = i
	}

	return &BufferpoolManager{
		frames:        frames,
		pageTable:     hash.NewExtendibleHashTable[disk.PageID, int](pageTableBucketSize),
		replacer:      replacer,
		diskScheduler: diskScheduler,
		freeFrames:    freeFrames,
		nextPageId:    firstAllocatablePageId,
	}
}

// NewPage allocates a fresh page id and pins a zeroed frame for it.
func (b *BufferpoolManager) NewPage() (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameId, ok := b.acquireFrame()
	if !ok {
		return nil, util.NewBufferpoolExhaustedError()
	}

	pageId := b.nextPageId
	b.nextPageId += 1

	frame := b.frames[frameId]
	frame.reset()
	frame.pageId = pageId
	frame.pins = 1

	b.replacer.recordAccess(frameId)
	b.replacer.setEvictable(frameId, false)
	b.pageTable.Insert(pageId, frameId)

	return frame, nil
}

// FetchPage pins the page, reading it from disk when it is not resident.
func (b *BufferpoolManager) FetchPage(pageId disk.PageID) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frameId, ok := b.pageTable.Find(pageId); ok {
		frame := b.frames[frameId]
		frame.pins += 1

		b.replacer.recordAccess(frameId)
		b.replacer.setEvictable(frameId, false)

		return frame, nil
	}

	frameId, ok := b.acquireFrame()
	if !ok {
		return nil, util.NewBufferpoolExhaustedError()
	}

	frame := b.frames[frameId]
	frame.reset()

	resp := <-b.diskScheduler.Schedule(disk.NewRequest(pageId, nil, false))
	if !resp.Success {
		b.freeFrames = append(b.freeFrames, frameId)
		return nil, errors.Wrapf(resp.Err, "fetching page %d", pageId)
	}
	copy(frame.data, resp.Data)

	frame.pageId = pageId
	frame.pins = 1

	b.replacer.recordAccess(frameId)
	b.replacer.setEvictable(frameId, false)
	b.pageTable.Insert(pageId, frameId)

	return frame, nil
}

// UnpinPage releases one pin. Reports false when the page is not resident or
// was not pinned. A true dirty argument is sticky for the frame's residency.
func (b *BufferpoolManager) UnpinPage(pageId disk.PageID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameId, ok := b.pageTable.Find(pageId)
	if !ok {
		return false
	}

	frame := b.frames[frameId]
	if frame.pins == 0 {
		return false
	}

	frame.pins -= 1
	if frame.pins == 0 {
		b.replacer.setEvictable(frameId, true)
	}

	if isDirty {
		frame.dirty = true
	}

	return true
}

// FlushPage writes the page out unconditionally and clears its dirty flag.
func (b *BufferpoolManager) FlushPage(pageId disk.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pageId == disk.INVALID_PAGE_ID {
		return false
	}

	frameId, ok := b.pageTable.Find(pageId)
	if !ok {
		return false
	}

	frame := b.frames[frameId]
	b.writeFrame(frame)
	frame.dirty = false

	return true
}

func (b *BufferpoolManager) FlushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, frame := range b.frames {
		if frame.pageId == disk.INVALID_PAGE_ID {
			continue
		}

		b.writeFrame(frame)
		frame.dirty = false
	}
}

// DeletePage drops a page from the pool and frees its slot on disk. Refuses
// pinned pages; deleting a non-resident page succeeds trivially.
func (b *BufferpoolManager) DeletePage(pageId disk.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameId, ok := b.pageTable.Find(pageId)
	if !ok {
		return true
	}

	frame := b.frames[frameId]
	if frame.pins > 0 {
		return false
	}

	b.pageTable.Remove(pageId)
	_ = b.replacer.remove(frameId)
	b.freeFrames = append(b.freeFrames, frameId)
	frame.reset()

	<-b.diskScheduler.Schedule(disk.NewDeleteRequest(pageId))

	return true
}

// acquireFrame pops the free list, falling back to eviction. The victim is
// flushed if dirty and its mapping removed. Callers hold the latch.
func (b *BufferpoolManager) acquireFrame() (int, bool) {
	if len(b.freeFrames) > 0 {
		frameId := b.freeFrames[0]
		b.freeFrames = b.freeFrames[1:]
		return frameId, true
	}

	victimId, _ := b.replacer.evict()
	if victimId == INVALID_FRAME_ID {
		return 0, false
	}

	victim := b.frames[victimId]
	if victim.dirty {
		b.writeFrame(victim)
	}
	b.pageTable.Remove(victim.pageId)

	return victimId, true
}

func (b *BufferpoolManager) writeFrame(frame *Page) {
	writeReq := disk.NewRequest(frame.pageId, frame.data, true)

	// block until data is written to disk
	<-b.diskScheduler.Schedule(writeReq)
}

type BufferpoolManager struct {
	mu            sync.Mutex
	frames        []*Page
	pageTable     *hash.ExtendibleHashTable[disk.PageID, int]
	nextPageId    disk.PageID
	diskScheduler *disk.DiskScheduler
	replacer      *lrukReplacer
	freeFrames    []int
}
