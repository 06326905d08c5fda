package disk

import (
	"sync"
)

func NewScheduler(diskManager *diskManager) *DiskScheduler {
	ds := &DiskScheduler{
		reqCh:       make(chan DiskReq, 100),
		pageQueue:   make(map[PageID]chan DiskReq),
		diskManager: diskManager,
	}

	go ds.handleDiskReq()
	return ds
}

func NewRequest(pageId PageID, data []byte, isWrite bool) DiskReq {
	respCh := make(chan DiskResp)
	return DiskReq{
		PageId: pageId,
		Data:   data,
		Write:  isWrite,
		RespCh: respCh,
	}
}

func NewDeleteRequest(pageId PageID) DiskReq {
	respCh := make(chan DiskResp)
	return DiskReq{
		PageId: pageId,
		Delete: true,
		RespCh: respCh,
	}
}

func (ds *DiskScheduler) Schedule(req DiskReq) <-chan DiskResp {
	ds.reqCh <- req
	return req.RespCh
}

// handleDiskReq fans requests out to one worker per page so requests against
// the same page stay ordered. The queue map entry and its worker live and die
// together under pageQueueMu.
func (ds *DiskScheduler) handleDiskReq() {
	for req := range ds.reqCh {
		ds.pageQueueMu.Lock()
		queue, ok := ds.pageQueue[req.PageId]
		if !ok {
			queue = make(chan DiskReq, 10)
			ds.pageQueue[req.PageId] = queue
		}
		queue <- req
		ds.pageQueueMu.Unlock()

		if !ok {
			go ds.pageWorker(req.PageId, queue)
		}
	}
}

func (ds *DiskScheduler) pageWorker(pageId PageID, reqQueue chan DiskReq) {
	for {
		select {
		case req := <-reqQueue:
			ds.handleRequest(req)

		default:
			// no request in flight; retire the queue unless the dispatcher
			// slipped one in while we were deciding
			ds.pageQueueMu.Lock()
			select {
			case req := <-reqQueue:
				ds.pageQueueMu.Unlock()
				ds.handleRequest(req)
			default:
				delete(ds.pageQueue, pageId)
				ds.pageQueueMu.Unlock()
				return
			}
		}
	}
}

func (ds *DiskScheduler) handleRequest(req DiskReq) {
	switch {
	case req.Delete:
		ds.diskManager.deletePage(req.PageId)
		req.RespCh <- DiskResp{Success: true}
	case req.Write:
		if err := ds.diskManager.writePage(req.PageId, req.Data); err != nil {
			req.RespCh <- DiskResp{Success: false, Err: err}
		} else {
			req.RespCh <- DiskResp{Success: true}
		}
	default:
		if data, err := ds.diskManager.readPage(req.PageId); err != nil {
			req.RespCh <- DiskResp{Success: false, Err: err}
		} else {
			req.RespCh <- DiskResp{Success: true, Data: data}
		}
	}
}

type DiskScheduler struct {
	reqCh       chan DiskReq
	diskManager *diskManager

	pageQueue   map[PageID]chan DiskReq
	pageQueueMu sync.Mutex
}

type DiskReq struct {
	PageId PageID
	Data   []byte
	Write  bool
	Delete bool
	RespCh chan DiskResp
}

type DiskResp struct {
	Success bool
	Data    []byte
	Err     error
}
