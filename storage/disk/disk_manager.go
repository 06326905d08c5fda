package disk

import (
	"io"

	"github.com/pkg/errors"
)

// File is the backend a manager writes pages to. *os.File satisfies it in
// production, memfile.File in tests.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
}

func NewManager(file File) *diskManager {
	return &diskManager{
		dbFile:       file,
		pageCapacity: DEFAULT_PAGE_CAPACITY,
		freeSlots:    []int64{},
		pages:        map[PageID]int64{},
	}
}

func (dm *diskManager) writePage(pageId PageID, data []byte) error {
	offset, pageFound := dm.pages[pageId]

	if !pageFound {
		newOffset, err := dm.allocatePage()
		if err != nil {
			return err
		}

		dm.pages[pageId] = newOffset
		offset = newOffset
	}

	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "writing page %d at offset %d", pageId, offset)
	}

	return nil
}

func (dm *diskManager) readPage(pageId PageID) ([]byte, error) {
	buf := make([]byte, PAGE_SIZE)

	// a page that was never written reads back zeroed
	offset, pageFound := dm.pages[pageId]
	if !pageFound {
		return buf, nil
	}

	if _, err := dm.dbFile.ReadAt(buf, offset); err != nil {
		return nil, errors.Wrapf(err, "reading page %d from offset %d", pageId, offset)
	}

	return buf, nil
}

func (dm *diskManager) deletePage(pageId PageID) {
	if offset, ok := dm.pages[pageId]; ok {
		dm.freeSlots = append(dm.freeSlots, offset)
		delete(dm.pages, pageId)
	}
}

func (dm *diskManager) allocatePage() (int64, error) {
	if len(dm.freeSlots) > 0 {
		offset := dm.freeSlots[0]
		dm.freeSlots = dm.freeSlots[1:]

		return offset, nil
	}

	if dm.nextSlot+1 > dm.pageCapacity {
		dm.pageCapacity *= 2
		if err := dm.dbFile.Truncate(int64(dm.pageCapacity) * PAGE_SIZE); err != nil {
			return -1, errors.Wrap(err, "resizing db file")
		}
	}

	offset := dm.nextSlot * PAGE_SIZE
	dm.nextSlot += 1

	return offset, nil
}

type diskManager struct {
	dbFile       File
	pages        map[PageID]int64
	freeSlots    []int64
	nextSlot     int64
	pageCapacity int64
}
