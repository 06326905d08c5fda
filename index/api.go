package index

import (
	"github.com/jobala/basalt/storage/disk"
)

// Iterator positions at the smallest key in the index.
func (b *bplusTree[K, V]) Iterator() (*indexIterator[K, V], error) {
	if b.IsEmpty() {
		return NewIndexIterator[K, V](disk.INVALID_PAGE_ID, 0, b.bpm)
	}

	leafId, err := b.leftmostLeafPageId()
	if err != nil {
		return nil, err
	}

	return NewIndexIterator[K, V](leafId, 0, b.bpm)
}

// IteratorAt positions at the smallest entry whose key is >= key.
func (b *bplusTree[K, V]) IteratorAt(key K) (*indexIterator[K, V], error) {
	if b.IsEmpty() {
		return NewIndexIterator[K, V](disk.INVALID_PAGE_ID, 0, b.bpm)
	}

	leafId, err := b.findLeafPageId(key)
	if err != nil {
		return nil, err
	}

	_, leaf, err := b.fetchLeaf(leafId)
	if err != nil {
		return nil, err
	}

	pos := leaf.getInsertIdx(key)
	b.bpm.UnpinPage(leafId, false)

	return NewIndexIterator[K, V](leafId, pos, b.bpm)
}

func (b *bplusTree[K, V]) GetKeyRange(start, stop K) ([]V, error) {
	indexIter, err := b.IteratorAt(start)
	if err != nil {
		return nil, err
	}

	res := []V{}
	for !indexIter.IsEnd() {
		key, val, err := indexIter.Next()
		if err != nil {
			return res, err
		}

		if key > stop {
			break
		}
		res = append(res, val)
	}

	return res, nil
}

func (b *bplusTree[K, V]) BatchInsert(items map[K]V) error {
	for k, v := range items {
		if _, err := b.Insert(k, v); err != nil {
			return err
		}
	}

	return nil
}
