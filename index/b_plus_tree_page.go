package index

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/jobala/basalt/storage/disk"
)

type PAGE_TYPE = int32

const (
	INVALID_PAGE PAGE_TYPE = iota
	INTERNAL_PAGE
	LEAF_PAGE
)

// packed little-endian header shared by both node variants
const (
	pageHeaderSize     = 20
	leafPageHeaderSize = 24

	parentFieldOffset = 16
)

type treePageHeader struct {
	PageType PAGE_TYPE
	Size     int32
	MaxSize  int32
	PageId   disk.PageID
	Parent   disk.PageID
}

// bplusPage carries the header and the sorted cell arrays both node variants
// share. Cells are fixed width; the layout is the header followed by
// (key, value) pairs in ascending key order.
type bplusPage[K cmp.Ordered, V any] struct {
	treePageHeader
	Keys   []K
	Values []V
}

func (p *bplusPage[K, V]) isLeafPage() bool {
	return p.PageType == LEAF_PAGE
}

func (p *bplusPage[K, V]) keyAt(idx int) K {
	return p.Keys[idx]
}

func (p *bplusPage[K, V]) valueAt(idx int) V {
	return p.Values[idx]
}

func (p *bplusPage[K, V]) getSize() int {
	return int(p.Size)
}

func (p *bplusPage[K, V]) setKeyAt(idx int, key K) {
	p.Keys[idx] = key
}

func (p *bplusPage[K, V]) setValAt(idx int, value V) {
	p.Values[idx] = value
}

func (p *bplusPage[K, V]) minSize() int {
	return (int(p.MaxSize) + 1) / 2
}

// canSpare reports whether the node can donate a cell during redistribution.
// A donor may end one below the underflow mark; merging is reserved for
// siblings that cannot give anything up.
func (p *bplusPage[K, V]) canSpare() bool {
	return p.getSize() > int(p.MaxSize)/2
}

// getInsertIdx is the first slot whose key is >= key
func (p *bplusPage[K, V]) getInsertIdx(key K) int {
	left := 0
	right := p.getSize() - 1

	for left <= right {
		mid := left + (right-left)/2
		if p.keyAt(mid) < key {
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	return left
}

func (p *bplusPage[K, V]) insertAt(idx int, key K, value V) {
	p.Keys = slices.Insert(p.Keys, idx, key)
	p.Values = slices.Insert(p.Values, idx, value)
	p.Size += 1
}

func (p *bplusPage[K, V]) removeAt(idx int) {
	p.Keys = slices.Delete(p.Keys, idx, idx+1)
	p.Values = slices.Delete(p.Values, idx, idx+1)
	p.Size -= 1
}

// moveHalfTo shifts the cells from minSize onward into dst, which is expected
// to be freshly initialized.
func (p *bplusPage[K, V]) moveHalfTo(dst *bplusPage[K, V]) {
	splitAt := p.minSize()

	dst.Keys = append(dst.Keys, p.Keys[splitAt:]...)
	dst.Values = append(dst.Values, p.Values[splitAt:]...)
	dst.Size = int32(len(dst.Keys))

	p.Keys = slices.Clone(p.Keys[:splitAt])
	p.Values = slices.Clone(p.Values[:splitAt])
	p.Size = int32(splitAt)
}

// appendAll moves every cell of src onto the tail of p
func (p *bplusPage[K, V]) appendAll(src *bplusPage[K, V]) {
	p.Keys = append(p.Keys, src.Keys...)
	p.Values = append(p.Values, src.Values...)
	p.Size += src.Size
}

func (p *bplusPage[K, V]) marshalCells(buf *bytes.Buffer) error {
	for i := 0; i < p.getSize(); i++ {
		if err := binary.Write(buf, binary.LittleEndian, p.Keys[i]); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.LittleEndian, p.Values[i]); err != nil {
			return err
		}
	}

	return nil
}

func (p *bplusPage[K, V]) unmarshalCells(r *bytes.Reader) error {
	p.Keys = make([]K, p.Size)
	p.Values = make([]V, p.Size)

	for i := 0; i < p.getSize(); i++ {
		if err := binary.Read(r, binary.LittleEndian, &p.Keys[i]); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &p.Values[i]); err != nil {
			return err
		}
	}

	return nil
}

// pageTypeOf sniffs the discriminant without decoding the whole page
func pageTypeOf(data []byte) PAGE_TYPE {
	return PAGE_TYPE(binary.LittleEndian.Uint32(data[:4]))
}

// setParentId patches the parent pointer in a raw page image
func setParentId(data []byte, parent disk.PageID) {
	binary.LittleEndian.PutUint32(data[parentFieldOffset:parentFieldOffset+4], uint32(parent))
}
