// Package xref models the cross-reference information of a document and
// resolves the revision chain that produced it.
package xref

import (
	"fmt"

	"pdfcore/ir/raw"
)

type EntryType int

const (
	EntryFree EntryType = iota
	EntryInUse
	EntryCompressed
)

func (t EntryType) String() string {
	switch t {
	case EntryFree:
		return "free"
	case EntryInUse:
		return "in-use"
	case EntryCompressed:
		return "compressed"
	}
	return fmt.Sprintf("EntryType(%d)", int(t))
}

// Entry is one slot of the merged cross-reference table.
//
//	Free:       NextFree holds the number of the next free object.
//	InUse:      Offset holds the absolute byte offset of the object header.
//	Compressed: Container and IndexInContainer locate the object inside
//	            an object stream. Generation is implicitly zero.
//
// Parsed distinguishes slots filled by a revision from untouched holes
// in the dense table.
type Entry struct {
	Type             EntryType
	Offset           int64
	Generation       int
	NextFree         int
	Container        int
	IndexInContainer int
	Parsed           bool
}

// Table is the dense merged view of every revision. Slot i describes
// object number i. Revisions are applied newest first and the first
// revision to describe a number wins.
type Table struct {
	entries []Entry
	trailer *raw.DictObj
}

func NewTable() *Table { return &Table{trailer: raw.Dict()} }

// Grow extends the dense table so that object numbers below size are
// addressable. Existing slots are untouched.
func (t *Table) Grow(size int) {
	if size > len(t.entries) {
		grown := make([]Entry, size)
		copy(grown, t.entries)
		t.entries = grown
	}
}

func (t *Table) Size() int { return len(t.entries) }

// Get returns the entry for num. Numbers outside the table and slots no
// revision described report ok=false.
func (t *Table) Get(num int) (Entry, bool) {
	if num < 0 || num >= len(t.entries) || !t.entries[num].Parsed {
		return Entry{}, false
	}
	return t.entries[num], true
}

// Set unconditionally stores the entry for num, growing the table.
func (t *Table) Set(num int, e Entry) {
	t.Grow(num + 1)
	e.Parsed = true
	t.entries[num] = e
}

// Merge stores the entry only if no earlier (newer) revision has
// described the same object number.
func (t *Table) Merge(num int, e Entry) {
	t.Grow(num + 1)
	if t.entries[num].Parsed {
		return
	}
	e.Parsed = true
	t.entries[num] = e
}

// Trailer returns the merged trailer dictionary.
func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// MergeTrailer copies keys from a revision trailer, keeping values from
// newer revisions. Prev, XRefStm and Size are chain bookkeeping and are
// always taken from the newest revision only, which first-seen-wins
// already guarantees.
func (t *Table) MergeTrailer(d raw.Dictionary) {
	if d == nil {
		return
	}
	for _, key := range d.Keys() {
		if _, exists := t.trailer.Get(key); exists {
			continue
		}
		if v, ok := d.Get(key); ok {
			t.trailer.Set(key, v)
		}
	}
}

// InUse lists the numbers of all in-use and compressed entries.
func (t *Table) InUse() []int {
	var nums []int
	for i, e := range t.entries {
		if e.Parsed && e.Type != EntryFree {
			nums = append(nums, i)
		}
	}
	return nums
}

// FreeList walks the free chain starting at object 0 and returns the
// visited numbers in chain order, excluding the head sentinel. A
// malformed chain terminates at the first out-of-range or repeated hop.
func (t *Table) FreeList() []int {
	var out []int
	seen := map[int]bool{0: true}
	cur := 0
	for {
		e, ok := t.Get(cur)
		if !ok || e.Type != EntryFree {
			break
		}
		next := e.NextFree
		if next == 0 || next >= len(t.entries) || seen[next] {
			break
		}
		seen[next] = true
		out = append(out, next)
		cur = next
	}
	return out
}
