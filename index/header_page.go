package index

import (
	"github.com/jobala/basalt/storage/disk"
)

// The header page lives at page 0 and maps index names to their root page
// ids. It is msgpack encoded; a fresh database file decodes to no records.
const HEADER_PAGE_ID = disk.PageID(0)

type headerPage struct {
	Records []headerRecord
}

type headerRecord struct {
	IndexName  string
	RootPageId disk.PageID
}

func (h *headerPage) rootOf(name string) (disk.PageID, bool) {
	for _, record := range h.Records {
		if record.IndexName == name {
			return record.RootPageId, true
		}
	}

	return disk.INVALID_PAGE_ID, false
}

func (h *headerPage) insertRecord(name string, rootPageId disk.PageID) {
	h.Records = append(h.Records, headerRecord{IndexName: name, RootPageId: rootPageId})
}

// updateRecord upserts the root page id for name
func (h *headerPage) updateRecord(name string, rootPageId disk.PageID) {
	for i, record := range h.Records {
		if record.IndexName == name {
			h.Records[i].RootPageId = rootPageId
			return
		}
	}

	h.insertRecord(name, rootPageId)
}
