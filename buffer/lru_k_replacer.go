package buffer

import (
	"fmt"
	"sync"
)

// NewLrukReplacer tracks up to capacity frames. Frames with fewer than k
// recorded accesses queue in temp (FIFO by first access); frames that reach k
// accesses move to cached (LRU, back is hottest). Eviction drains temp first.
func NewLrukReplacer(capacity, k int) *lrukReplacer {
	return &lrukReplacer{
		k:            k,
		nodeStore:    map[int]*lrukNode{},
		temp:         newNodeQueue(),
		cached:       newNodeQueue(),
		replacerSize: capacity,
	}
}

func (lru *lrukReplacer) recordAccess(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.currTimestamp += 1

	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{frameId: frameId, k: lru.k, isEvictable: true}
		node.addTimestamp(lru.currTimestamp)

		if node.hasKAccess() {
			node.cached = true
			lru.cached.pushBack(node)
		} else {
			lru.temp.pushBack(node)
		}

		lru.nodeStore[frameId] = node
		return
	}

	node.addTimestamp(lru.currTimestamp)

	if node.cached {
		detach(node)
		lru.cached.pushBack(node)
		return
	}

	if node.hasKAccess() {
		detach(node)
		node.cached = true
		lru.cached.pushBack(node)
	}
}

func (lru *lrukReplacer) evict() (int, error) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	for _, queue := range []*nodeQueue{lru.temp, lru.cached} {
		for node := queue.front(); node != queue.tail; node = node.next {
			if !node.isEvictable {
				continue
			}

			detach(node)
			delete(lru.nodeStore, node.frameId)
			return node.frameId, nil
		}
	}

	return INVALID_FRAME_ID, nil
}

func (lru *lrukReplacer) setEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if node, ok := lru.nodeStore[frameId]; ok {
		node.isEvictable = evictable
	}
}

func (lru *lrukReplacer) remove(frameId int) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return nil
	}

	if !node.isEvictable {
		return fmt.Errorf("removing a non-evictable frame %d", frameId)
	}

	detach(node)
	delete(lru.nodeStore, frameId)

	return nil
}

func (lru *lrukReplacer) size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	count := 0
	for _, node := range lru.nodeStore {
		if node.isEvictable {
			count += 1
		}
	}

	return count
}

func newNodeQueue() *nodeQueue {
	head := &lrukNode{frameId: INVALID_FRAME_ID}
	tail := &lrukNode{frameId: INVALID_FRAME_ID}

	head.next = tail
	tail.prev = head

	return &nodeQueue{head: head, tail: tail}
}

func (q *nodeQueue) pushBack(node *lrukNode) {
	back := q.tail.prev

	back.next = node
	node.prev = back
	node.next = q.tail
	q.tail.prev = node
}

func (q *nodeQueue) front() *lrukNode {
	return q.head.next
}

func detach(node *lrukNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.prev = nil
	node.next = nil
}

type lrukReplacer struct {
	mu            sync.Mutex
	nodeStore     map[int]*lrukNode
	replacerSize  int
	currTimestamp int
	k             int
	temp          *nodeQueue
	cached        *nodeQueue
}

type nodeQueue struct {
	head *lrukNode
	tail *lrukNode
}
