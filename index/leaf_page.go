package index

import (
	"bytes"
	"cmp"
	"encoding/binary"

	"github.com/jobala/basalt/storage/disk"
)

type bplusLeafPage[K cmp.Ordered, V any] struct {
	bplusPage[K, V]
	Next disk.PageID
}

func (p *bplusLeafPage[K, V]) init(pageId, parentPageId disk.PageID, maxSize int) {
	p.PageType = LEAF_PAGE
	p.Size = 0
	p.MaxSize = int32(maxSize)
	p.PageId = pageId
	p.Parent = parentPageId
	p.Next = disk.INVALID_PAGE_ID
}

func (p *bplusLeafPage[K, V]) lookup(key K) (V, bool) {
	idx := p.getInsertIdx(key)
	if idx < p.getSize() && p.keyAt(idx) == key {
		return p.valueAt(idx), true
	}

	var zero V
	return zero, false
}

// insert places the cell in sorted position, reporting false on a duplicate
// key. The page may overflow maxSize by one; the caller splits.
func (p *bplusLeafPage[K, V]) insert(key K, value V) bool {
	idx := p.getInsertIdx(key)
	if idx < p.getSize() && p.keyAt(idx) == key {
		return false
	}

	p.insertAt(idx, key, value)
	return true
}

func (p *bplusLeafPage[K, V]) remove(key K) bool {
	idx := p.getInsertIdx(key)
	if idx >= p.getSize() || p.keyAt(idx) != key {
		return false
	}

	p.removeAt(idx)
	return true
}

func (p *bplusLeafPage[K, V]) marshal() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, disk.PAGE_SIZE))

	if err := binary.Write(buf, binary.LittleEndian, p.treePageHeader); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Next); err != nil {
		return nil, err
	}
	if err := p.marshalCells(buf); err != nil {
		return nil, err
	}

	res := make([]byte, disk.PAGE_SIZE)
	copy(res, buf.Bytes())

	return res, nil
}

func (p *bplusLeafPage[K, V]) unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	if err := binary.Read(r, binary.LittleEndian, &p.treePageHeader); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Next); err != nil {
		return err
	}

	return p.unmarshalCells(r)
}
