package index

import (
	"cmp"
	"encoding/binary"
	"fmt"

	"github.com/jobala/basalt/buffer"
	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
	"github.com/pkg/errors"
)

// NewBplusTree opens the index called name, resuming from the root recorded
// in the header page when one exists. Zero max sizes are computed from the
// page size and the cell width. Key and value types must have a fixed binary
// size; strings and platform-sized ints are rejected.
func NewBplusTree[K cmp.Ordered, V any](name string, bpm *buffer.BufferpoolManager, leafMaxSize, internalMaxSize int) (*bplusTree[K, V], error) {
	var zeroKey K
	var zeroVal V

	keySize := binary.Size(zeroKey)
	valSize := binary.Size(zeroVal)
	if keySize <= 0 {
		return nil, fmt.Errorf("key type %T does not have a fixed binary size", zeroKey)
	}
	if valSize <= 0 {
		return nil, fmt.Errorf("value type %T does not have a fixed binary size", zeroVal)
	}

	childSize := binary.Size(disk.INVALID_PAGE_ID)
	if leafMaxSize == 0 {
		leafMaxSize = (disk.PAGE_SIZE - leafPageHeaderSize) / (keySize + valSize)
	}
	if internalMaxSize == 0 {
		internalMaxSize = (disk.PAGE_SIZE - pageHeaderSize) / (keySize + childSize)
	}
	if leafPageHeaderSize+leafMaxSize*(keySize+valSize) > disk.PAGE_SIZE {
		return nil, fmt.Errorf("leaf max size %d does not fit in a page", leafMaxSize)
	}
	if pageHeaderSize+internalMaxSize*(keySize+childSize) > disk.PAGE_SIZE {
		return nil, fmt.Errorf("internal max size %d does not fit in a page", internalMaxSize)
	}

	b := &bplusTree[K, V]{
		bpm:             bpm,
		indexName:       name,
		rootPageId:      disk.INVALID_PAGE_ID,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	page, err := bpm.FetchPage(HEADER_PAGE_ID)
	if err != nil {
		return nil, errors.Wrap(err, "reading header page")
	}

	header, err := util.ToStruct[headerPage](page.Data())
	if err != nil {
		// a fresh database file has a zeroed header page
		header = headerPage{}
	}

	if root, ok := header.rootOf(name); ok {
		b.rootPageId = root
		bpm.UnpinPage(HEADER_PAGE_ID, false)
		return b, nil
	}

	header.insertRecord(name, disk.INVALID_PAGE_ID)
	data, err := util.ToByteSlice(header)
	if err != nil {
		bpm.UnpinPage(HEADER_PAGE_ID, false)
		return nil, errors.Wrap(err, "encoding header page")
	}
	copy(page.Data(), data)
	bpm.UnpinPage(HEADER_PAGE_ID, true)

	return b, nil
}

func (b *bplusTree[K, V]) IsEmpty() bool {
	return b.rootPageId == disk.INVALID_PAGE_ID
}

func (b *bplusTree[K, V]) RootPageId() disk.PageID {
	return b.rootPageId
}

func (b *bplusTree[K, V]) GetValue(key K) (V, bool, error) {
	var zero V
	if b.IsEmpty() {
		return zero, false, nil
	}

	leafId, err := b.findLeafPageId(key)
	if err != nil {
		return zero, false, err
	}

	_, leaf, err := b.fetchLeaf(leafId)
	if err != nil {
		return zero, false, err
	}

	val, ok := leaf.lookup(key)
	b.bpm.UnpinPage(leafId, false)

	return val, ok, nil
}

// Insert adds the entry, reporting false when the key already exists.
func (b *bplusTree[K, V]) Insert(key K, value V) (bool, error) {
	if b.IsEmpty() {
		if err := b.startNewTree(key, value); err != nil {
			return false, err
		}
		return true, nil
	}

	leafId, err := b.findLeafPageId(key)
	if err != nil {
		return false, err
	}

	page, leaf, err := b.fetchLeaf(leafId)
	if err != nil {
		return false, err
	}

	if !leaf.insert(key, value) {
		b.bpm.UnpinPage(leafId, false)
		return false, nil
	}

	if leaf.getSize() <= b.leafMaxSize {
		return true, b.writeBack(page, leaf)
	}

	if err := b.splitLeaf(page, leaf); err != nil {
		return false, err
	}

	return true, nil
}

// Remove deletes the entry if present, rebalancing underflowed nodes.
func (b *bplusTree[K, V]) Remove(key K) error {
	if b.IsEmpty() {
		return nil
	}

	leafId, err := b.findLeafPageId(key)
	if err != nil {
		return err
	}

	page, leaf, err := b.fetchLeaf(leafId)
	if err != nil {
		return err
	}

	if !leaf.remove(key) {
		b.bpm.UnpinPage(leafId, false)
		return nil
	}

	if leafId == b.rootPageId {
		if leaf.getSize() == 0 {
			b.bpm.UnpinPage(leafId, false)
			if err := b.setRootPageId(disk.INVALID_PAGE_ID); err != nil {
				return err
			}
			b.bpm.DeletePage(leafId)
			return nil
		}
		return b.writeBack(page, leaf)
	}

	if err := b.writeBack(page, leaf); err != nil {
		return err
	}

	if leaf.getSize() >= leaf.minSize() {
		return nil
	}

	return b.rebalanceLeaf(leafId, leaf.Parent)
}

func (b *bplusTree[K, V]) startNewTree(key K, value V) error {
	page, err := b.bpm.NewPage()
	if err != nil {
		return errors.Wrap(err, "allocating root leaf")
	}

	leaf := &bplusLeafPage[K, V]{}
	leaf.init(page.PageId(), disk.INVALID_PAGE_ID, b.leafMaxSize)
	leaf.insert(key, value)

	if err := b.writeBack(page, leaf); err != nil {
		return err
	}

	return b.setRootPageId(page.PageId())
}

// splitLeaf moves the upper half of an overflowed leaf into a fresh page,
// threads the sibling chain, and pushes the split key to the parent. Owns
// unpinning the overflowed page.
func (b *bplusTree[K, V]) splitLeaf(page *buffer.Page, leaf *bplusLeafPage[K, V]) error {
	newPage, err := b.bpm.NewPage()
	if err != nil {
		b.bpm.UnpinPage(leaf.PageId, false)
		return errors.Wrap(err, "allocating leaf for split")
	}

	newLeaf := &bplusLeafPage[K, V]{}
	newLeaf.init(newPage.PageId(), leaf.Parent, b.leafMaxSize)
	leaf.moveHalfTo(&newLeaf.bplusPage)

	newLeaf.Next = leaf.Next
	leaf.Next = newLeaf.PageId

	if err := b.writeBack(page, leaf); err != nil {
		b.bpm.UnpinPage(newLeaf.PageId, false)
		return err
	}
	if err := b.writeBack(newPage, newLeaf); err != nil {
		return err
	}

	return b.insertToParent(leaf.PageId, newLeaf.PageId, leaf.Parent, newLeaf.keyAt(0))
}

// insertToParent links a freshly split-off page into the tree above oldId.
// A full parent overflows by one, splits at the same midpoint policy as
// leaves, and recurses.
func (b *bplusTree[K, V]) insertToParent(oldId, newId, parentId disk.PageID, key K) error {
	if parentId == disk.INVALID_PAGE_ID {
		rootPage, err := b.bpm.NewPage()
		if err != nil {
			return errors.Wrap(err, "allocating new root")
		}

		var negInf K
		root := &bplusInternalPage[K]{}
		root.init(rootPage.PageId(), disk.INVALID_PAGE_ID, b.internalMaxSize)
		root.Keys = []K{negInf, key}
		root.Values = []disk.PageID{oldId, newId}
		root.Size = 2

		if err := b.writeBack(rootPage, root); err != nil {
			return err
		}
		if err := b.setParent(oldId, root.PageId); err != nil {
			return err
		}
		if err := b.setParent(newId, root.PageId); err != nil {
			return err
		}

		return b.setRootPageId(root.PageId)
	}

	parentPage, parent, err := b.fetchInternal(parentId)
	if err != nil {
		return err
	}

	parent.insertNodeAfter(oldId, key, newId)
	if parent.getSize() <= b.internalMaxSize {
		return b.writeBack(parentPage, parent)
	}

	newParentPage, err := b.bpm.NewPage()
	if err != nil {
		b.bpm.UnpinPage(parentId, false)
		return errors.Wrap(err, "allocating internal page for split")
	}

	newParent := &bplusInternalPage[K]{}
	newParent.init(newParentPage.PageId(), parent.Parent, b.internalMaxSize)
	parent.moveHalfTo(&newParent.bplusPage)

	if err := b.writeBack(parentPage, parent); err != nil {
		b.bpm.UnpinPage(newParent.PageId, false)
		return err
	}
	if err := b.writeBack(newParentPage, newParent); err != nil {
		return err
	}

	// the moved children now live under the new page
	for _, child := range newParent.Values {
		if err := b.setParent(child, newParent.PageId); err != nil {
			return err
		}
	}

	return b.insertToParent(parentId, newParent.PageId, parent.Parent, newParent.keyAt(0))
}

// rebalanceLeaf restores an underflowed leaf: borrow from the left sibling,
// else borrow from the right, else merge.
func (b *bplusTree[K, V]) rebalanceLeaf(leafId, parentId disk.PageID) error {
	parentPage, parent, err := b.fetchInternal(parentId)
	if err != nil {
		return err
	}
	idx := parent.valueIndex(leafId)

	page, leaf, err := b.fetchLeaf(leafId)
	if err != nil {
		b.bpm.UnpinPage(parentId, false)
		return err
	}

	if idx > 0 {
		leftId := parent.valueAt(idx - 1)
		leftPage, left, err := b.fetchLeaf(leftId)
		if err != nil {
			b.bpm.UnpinPage(leafId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		if left.canSpare() {
			last := left.getSize() - 1
			movedKey, movedVal := left.keyAt(last), left.valueAt(last)
			left.removeAt(last)
			leaf.insertAt(0, movedKey, movedVal)
			parent.setKeyAt(idx, movedKey)

			if err := b.writeBack(leftPage, left); err != nil {
				b.bpm.UnpinPage(leafId, false)
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			if err := b.writeBack(page, leaf); err != nil {
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			return b.writeBack(parentPage, parent)
		}

		b.bpm.UnpinPage(leftId, false)
	}

	if idx+1 < parent.getSize() {
		rightId := parent.valueAt(idx + 1)
		rightPage, right, err := b.fetchLeaf(rightId)
		if err != nil {
			b.bpm.UnpinPage(leafId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		if right.canSpare() {
			movedKey, movedVal := right.keyAt(0), right.valueAt(0)
			right.removeAt(0)
			leaf.insertAt(leaf.getSize(), movedKey, movedVal)
			parent.setKeyAt(idx+1, right.keyAt(0))

			if err := b.writeBack(rightPage, right); err != nil {
				b.bpm.UnpinPage(leafId, false)
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			if err := b.writeBack(page, leaf); err != nil {
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			return b.writeBack(parentPage, parent)
		}

		b.bpm.UnpinPage(rightId, false)
	}

	if idx > 0 {
		// merge the leaf into its left sibling
		leftId := parent.valueAt(idx - 1)
		leftPage, left, err := b.fetchLeaf(leftId)
		if err != nil {
			b.bpm.UnpinPage(leafId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		left.appendAll(&leaf.bplusPage)
		left.Next = leaf.Next
		parent.removeAt(idx)

		b.bpm.UnpinPage(leafId, false)
		if err := b.writeBack(leftPage, left); err != nil {
			b.bpm.UnpinPage(parentId, false)
			return err
		}
		if err := b.writeBack(parentPage, parent); err != nil {
			return err
		}
		b.bpm.DeletePage(leafId)
	} else {
		// no left sibling, absorb the right one
		rightId := parent.valueAt(idx + 1)
		_, right, err := b.fetchLeaf(rightId)
		if err != nil {
			b.bpm.UnpinPage(leafId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		leaf.appendAll(&right.bplusPage)
		leaf.Next = right.Next
		parent.removeAt(idx + 1)

		b.bpm.UnpinPage(rightId, false)
		if err := b.writeBack(page, leaf); err != nil {
			b.bpm.UnpinPage(parentId, false)
			return err
		}
		if err := b.writeBack(parentPage, parent); err != nil {
			return err
		}
		b.bpm.DeletePage(rightId)
	}

	return b.fixParentAfterRemove(parentId, parent)
}

// rebalanceInternal is the internal-node counterpart of rebalanceLeaf. Moved
// children get reparented and separators travel with their subtrees: the
// vacated slot-0 key takes the old parent separator so sibling key order
// stays monotone, and merges pull the separator down into the absorbed
// node's slot 0.
func (b *bplusTree[K, V]) rebalanceInternal(nodeId, parentId disk.PageID) error {
	parentPage, parent, err := b.fetchInternal(parentId)
	if err != nil {
		return err
	}
	idx := parent.valueIndex(nodeId)

	nodePage, node, err := b.fetchInternal(nodeId)
	if err != nil {
		b.bpm.UnpinPage(parentId, false)
		return err
	}

	if idx > 0 {
		leftId := parent.valueAt(idx - 1)
		leftPage, left, err := b.fetchInternal(leftId)
		if err != nil {
			b.bpm.UnpinPage(nodeId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		if left.canSpare() {
			last := left.getSize() - 1
			movedKey, movedChild := left.keyAt(last), left.valueAt(last)
			left.removeAt(last)
			node.setKeyAt(0, parent.keyAt(idx))
			node.insertAt(0, movedKey, movedChild)
			parent.setKeyAt(idx, movedKey)

			if err := b.writeBack(leftPage, left); err != nil {
				b.bpm.UnpinPage(nodeId, false)
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			if err := b.writeBack(nodePage, node); err != nil {
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			if err := b.writeBack(parentPage, parent); err != nil {
				return err
			}
			return b.setParent(movedChild, nodeId)
		}

		b.bpm.UnpinPage(leftId, false)
	}

	if idx+1 < parent.getSize() {
		rightId := parent.valueAt(idx + 1)
		rightPage, right, err := b.fetchInternal(rightId)
		if err != nil {
			b.bpm.UnpinPage(nodeId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		if right.canSpare() {
			movedChild := right.valueAt(0)
			separator := parent.keyAt(idx + 1)
			newSeparator := right.keyAt(1)
			right.removeAt(0)
			node.insertAt(node.getSize(), separator, movedChild)
			parent.setKeyAt(idx+1, newSeparator)

			if err := b.writeBack(rightPage, right); err != nil {
				b.bpm.UnpinPage(nodeId, false)
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			if err := b.writeBack(nodePage, node); err != nil {
				b.bpm.UnpinPage(parentId, false)
				return err
			}
			if err := b.writeBack(parentPage, parent); err != nil {
				return err
			}
			return b.setParent(movedChild, nodeId)
		}

		b.bpm.UnpinPage(rightId, false)
	}

	if idx > 0 {
		leftId := parent.valueAt(idx - 1)
		leftPage, left, err := b.fetchInternal(leftId)
		if err != nil {
			b.bpm.UnpinPage(nodeId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		node.setKeyAt(0, parent.keyAt(idx))
		movedChildren := node.Values
		left.appendAll(&node.bplusPage)
		parent.removeAt(idx)

		b.bpm.UnpinPage(nodeId, false)
		if err := b.writeBack(leftPage, left); err != nil {
			b.bpm.UnpinPage(parentId, false)
			return err
		}
		if err := b.writeBack(parentPage, parent); err != nil {
			return err
		}
		b.bpm.DeletePage(nodeId)

		for _, child := range movedChildren {
			if err := b.setParent(child, leftId); err != nil {
				return err
			}
		}
	} else {
		rightId := parent.valueAt(idx + 1)
		_, right, err := b.fetchInternal(rightId)
		if err != nil {
			b.bpm.UnpinPage(nodeId, false)
			b.bpm.UnpinPage(parentId, false)
			return err
		}

		right.setKeyAt(0, parent.keyAt(idx+1))
		movedChildren := right.Values
		node.appendAll(&right.bplusPage)
		parent.removeAt(idx + 1)

		b.bpm.UnpinPage(rightId, false)
		if err := b.writeBack(nodePage, node); err != nil {
			b.bpm.UnpinPage(parentId, false)
			return err
		}
		if err := b.writeBack(parentPage, parent); err != nil {
			return err
		}
		b.bpm.DeletePage(rightId)

		for _, child := range movedChildren {
			if err := b.setParent(child, nodeId); err != nil {
				return err
			}
		}
	}

	return b.fixParentAfterRemove(parentId, parent)
}

// fixParentAfterRemove handles the parent after a merge removed one of its
// slots. A root down to a single child is collapsed into that child; a
// non-root below min recurses. Expects the parent page already unpinned.
func (b *bplusTree[K, V]) fixParentAfterRemove(parentId disk.PageID, parent *bplusInternalPage[K]) error {
	if parentId == b.rootPageId {
		if parent.getSize() > 1 {
			return nil
		}

		childId := parent.valueAt(0)
		if err := b.setParent(childId, disk.INVALID_PAGE_ID); err != nil {
			return err
		}
		if err := b.setRootPageId(childId); err != nil {
			return err
		}
		b.bpm.DeletePage(parentId)

		return nil
	}

	if parent.getSize() < parent.minSize() {
		return b.rebalanceInternal(parentId, parent.Parent)
	}

	return nil
}

func (b *bplusTree[K, V]) findLeafPageId(key K) (disk.PageID, error) {
	currPageId := b.rootPageId

	for {
		page, err := b.bpm.FetchPage(currPageId)
		if err != nil {
			return disk.INVALID_PAGE_ID, errors.Wrapf(err, "fetching page %d", currPageId)
		}

		if pageTypeOf(page.Data()) == LEAF_PAGE {
			b.bpm.UnpinPage(currPageId, false)
			return currPageId, nil
		}

		internal := &bplusInternalPage[K]{}
		if err := internal.unmarshal(page.Data()); err != nil {
			b.bpm.UnpinPage(currPageId, false)
			return disk.INVALID_PAGE_ID, err
		}

		next := internal.lookup(key)
		b.bpm.UnpinPage(currPageId, false)
		currPageId = next
	}
}

func (b *bplusTree[K, V]) leftmostLeafPageId() (disk.PageID, error) {
	currPageId := b.rootPageId

	for {
		page, err := b.bpm.FetchPage(currPageId)
		if err != nil {
			return disk.INVALID_PAGE_ID, errors.Wrapf(err, "fetching page %d", currPageId)
		}

		if pageTypeOf(page.Data()) == LEAF_PAGE {
			b.bpm.UnpinPage(currPageId, false)
			return currPageId, nil
		}

		internal := &bplusInternalPage[K]{}
		if err := internal.unmarshal(page.Data()); err != nil {
			b.bpm.UnpinPage(currPageId, false)
			return disk.INVALID_PAGE_ID, err
		}

		next := internal.valueAt(0)
		b.bpm.UnpinPage(currPageId, false)
		currPageId = next
	}
}

func (b *bplusTree[K, V]) fetchLeaf(pageId disk.PageID) (*buffer.Page, *bplusLeafPage[K, V], error) {
	page, err := b.bpm.FetchPage(pageId)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching leaf page %d", pageId)
	}

	leaf := &bplusLeafPage[K, V]{}
	if err := leaf.unmarshal(page.Data()); err != nil {
		b.bpm.UnpinPage(pageId, false)
		return nil, nil, err
	}

	return page, leaf, nil
}

func (b *bplusTree[K, V]) fetchInternal(pageId disk.PageID) (*buffer.Page, *bplusInternalPage[K], error) {
	page, err := b.bpm.FetchPage(pageId)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching internal page %d", pageId)
	}

	internal := &bplusInternalPage[K]{}
	if err := internal.unmarshal(page.Data()); err != nil {
		b.bpm.UnpinPage(pageId, false)
		return nil, nil, err
	}

	return page, internal, nil
}

// writeBack serializes the node into its frame and unpins it dirty
func (b *bplusTree[K, V]) writeBack(page *buffer.Page, node nodeMarshaler) error {
	data, err := node.marshal()
	if err != nil {
		b.bpm.UnpinPage(page.PageId(), false)
		return err
	}

	copy(page.Data(), data)
	b.bpm.UnpinPage(page.PageId(), true)

	return nil
}

func (b *bplusTree[K, V]) setParent(pageId, parent disk.PageID) error {
	page, err := b.bpm.FetchPage(pageId)
	if err != nil {
		return errors.Wrapf(err, "updating parent of page %d", pageId)
	}

	setParentId(page.Data(), parent)
	b.bpm.UnpinPage(pageId, true)

	return nil
}

func (b *bplusTree[K, V]) setRootPageId(pageId disk.PageID) error {
	b.rootPageId = pageId

	page, err := b.bpm.FetchPage(HEADER_PAGE_ID)
	if err != nil {
		return errors.Wrap(err, "reading header page")
	}

	header, err := util.ToStruct[headerPage](page.Data())
	if err != nil {
		header = headerPage{}
	}
	header.updateRecord(b.indexName, pageId)

	data, err := util.ToByteSlice(header)
	if err != nil {
		b.bpm.UnpinPage(HEADER_PAGE_ID, false)
		return errors.Wrap(err, "encoding header page")
	}
	copy(page.Data(), data)
	b.bpm.UnpinPage(HEADER_PAGE_ID, true)

	return nil
}

type nodeMarshaler interface {
	marshal() ([]byte, error)
}

type bplusTree[K cmp.Ordered, V any] struct {
	bpm             *buffer.BufferpoolManager
	indexName       string
	rootPageId      disk.PageID
	leafMaxSize     int
	internalMaxSize int
}
