package index

import (
	"cmp"
	"fmt"

	"github.com/jobala/basalt/buffer"
	"github.com/jobala/basalt/storage/disk"
	"github.com/pkg/errors"
)

// NewIndexIterator starts at pos within the leaf at pageId. Each leaf is
// decoded into a snapshot and unpinned immediately, so an abandoned iterator
// never leaks a pin. The invalid page id yields an exhausted iterator.
func NewIndexIterator[K cmp.Ordered, V any](pageId disk.PageID, pos int, bpm *buffer.BufferpoolManager) (*indexIterator[K, V], error) {
	it := &indexIterator[K, V]{bpm: bpm, pos: pos}

	if pageId == disk.INVALID_PAGE_ID {
		return it, nil
	}

	if err := it.loadPage(pageId); err != nil {
		return nil, err
	}
	if err := it.skipExhausted(); err != nil {
		return nil, err
	}

	return it, nil
}

func (it *indexIterator[K, V]) IsEnd() bool {
	if it.currPage == nil {
		return true
	}

	return it.pos >= it.currPage.getSize() && it.currPage.Next == disk.INVALID_PAGE_ID
}

func (it *indexIterator[K, V]) Next() (K, V, error) {
	var zeroKey K
	var zeroVal V

	if err := it.skipExhausted(); err != nil {
		return zeroKey, zeroVal, err
	}
	if it.IsEnd() {
		return zeroKey, zeroVal, fmt.Errorf("iterator is exhausted")
	}

	key, val := it.currPage.keyAt(it.pos), it.currPage.valueAt(it.pos)
	it.pos += 1

	return key, val, nil
}

// skipExhausted follows the sibling chain until the position lands on an
// entry or the chain runs out
func (it *indexIterator[K, V]) skipExhausted() error {
	for it.currPage != nil && it.pos >= it.currPage.getSize() {
		if it.currPage.Next == disk.INVALID_PAGE_ID {
			return nil
		}

		next := it.currPage.Next
		it.pos = 0
		if err := it.loadPage(next); err != nil {
			return err
		}
	}

	return nil
}

func (it *indexIterator[K, V]) loadPage(pageId disk.PageID) error {
	page, err := it.bpm.FetchPage(pageId)
	if err != nil {
		return errors.Wrapf(err, "fetching leaf page %d", pageId)
	}

	leaf := &bplusLeafPage[K, V]{}
	err = leaf.unmarshal(page.Data())
	it.bpm.UnpinPage(pageId, false)
	if err != nil {
		return err
	}

	it.currPage = leaf
	return nil
}

type indexIterator[K cmp.Ordered, V any] struct {
	pos      int
	currPage *bplusLeafPage[K, V]
	bpm      *buffer.BufferpoolManager
}
