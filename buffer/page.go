package buffer

import (
	"github.com/jobala/basalt/storage/disk"
)

// Page is the caller's handle to a pinned frame. Data is only valid while the
// caller holds a pin; all bookkeeping fields are guarded by the pool latch.
type Page struct {
	frameId int
	pageId  disk.PageID
	pins    int
	dirty   bool
	data    []byte
}

func (p *Page) PageId() disk.PageID {
	return p.pageId
}

func (p *Page) PinCount() int {
	return p.pins
}

func (p *Page) Data() []byte {
	return p.data
}

func (p *Page) reset() {
	p.pageId = disk.INVALID_PAGE_ID
	p.pins = 0
	p.dirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}
