package cache

import (
	"time"
)

// Record is a single resource record of a cached answer set.
// Data holds the rdata in presentation form.
type Record struct {
	Name string
	Type uint16
	Data string
	TTL  uint32
}

// Item is a read-only copy of a cache entry.
type Item struct {
	Key      Key
	Records  []Record
	ExpireAt time.Time
	Size     int
}

// TTL returns the remaining lifetime of the item at now.
func (i Item) TTL(now time.Time) time.Duration {
	return i.ExpireAt.Sub(now)
}

type entry struct {
	key      Key
	records  []Record
	expireAt time.Time
	size     int

	prev, next *entry
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expireAt)
}

func (e *entry) item() Item {
	return Item{
		Key:      e.key,
		Records:  copyRecords(e.records),
		ExpireAt: e.expireAt,
		Size:     e.size,
	}
}

// EntrySize returns the estimated cost in bytes of storing records under
// key: a fixed per entry overhead, the length of the "<domain>|<TYPE>" key
// and, per record, a fixed overhead plus the length of its name and data.
// The estimate depends only on its input.
func EntrySize(key Key, records []Record) int {
	size := entryOverhead + len(key.String())

	for _, r := range records {
		size += recordOverhead + len(r.Name) + len(r.Data)
	}

	return size
}

func copyRecords(records []Record) []Record {
	if records == nil {
		return nil
	}

	out := make([]Record, len(records))
	copy(out, records)

	return out
}

const (
	entryOverhead  = 64
	recordOverhead = 16
)
