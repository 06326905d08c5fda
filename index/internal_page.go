package index

import (
	"bytes"
	"cmp"
	"encoding/binary"

	"github.com/jobala/basalt/storage/disk"
)

// bplusInternalPage routes keys to child page ids. The key in slot 0 is
// unused and stands for negative infinity; for every slot i >= 1 the key is
// <= every key reachable through the child at i and > every key through the
// child at i-1. A split or redistribution sets it to the least key of the
// child at i; removing that key from the subtree later leaves it unchanged.
type bplusInternalPage[K cmp.Ordered] struct {
	bplusPage[K, disk.PageID]
}

func (p *bplusInternalPage[K]) init(pageId, parentPageId disk.PageID, maxSize int) {
	p.PageType = INTERNAL_PAGE
	p.Size = 0
	p.MaxSize = int32(maxSize)
	p.PageId = pageId
	p.Parent = parentPageId
}

// lookup returns the child covering key: the largest slot i whose key is
// <= key, with slot 0 acting as negative infinity.
func (p *bplusInternalPage[K]) lookup(key K) disk.PageID {
	childIdx := 0
	for i := 1; i < p.getSize(); i++ {
		if key >= p.keyAt(i) {
			childIdx = i
		} else {
			break
		}
	}

	return p.valueAt(childIdx)
}

func (p *bplusInternalPage[K]) valueIndex(child disk.PageID) int {
	for i, v := range p.Values {
		if v == child {
			return i
		}
	}

	return -1
}

// insertNodeAfter places (key, newChild) immediately after oldChild's slot.
// The page may overflow maxSize by one; the caller splits.
func (p *bplusInternalPage[K]) insertNodeAfter(oldChild disk.PageID, key K, newChild disk.PageID) {
	p.insertAt(p.valueIndex(oldChild)+1, key, newChild)
}

func (p *bplusInternalPage[K]) marshal() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, disk.PAGE_SIZE))

	if err := binary.Write(buf, binary.LittleEndian, p.treePageHeader); err != nil {
		return nil, err
	}
	if err := p.marshalCells(buf); err != nil {
		return nil, err
	}

	res := make([]byte, disk.PAGE_SIZE)
	copy(res, buf.Bytes())

	return res, nil
}

func (p *bplusInternalPage[K]) unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	if err := binary.Read(r, binary.LittleEndian, &p.treePageHeader); err != nil {
		return err
	}

	return p.unmarshalCells(r)
}
