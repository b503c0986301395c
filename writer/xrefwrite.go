package writer

import (
	"io"
	"sort"

	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/xref"
)

// TableBuilder accumulates the cross-reference records of one written
// revision and emits them as a classic table or a stream, with
// contiguous numbers merged into shared subsection blocks.
type TableBuilder struct {
	recs map[int]xref.Entry
}

func NewTableBuilder() *TableBuilder {
	return &TableBuilder{recs: make(map[int]xref.Entry)}
}

func (b *TableBuilder) AddInUse(num, gen int, offset int64) {
	b.recs[num] = xref.Entry{Type: xref.EntryInUse, Offset: offset, Generation: gen}
}

func (b *TableBuilder) AddFree(num, gen, next int) {
	b.recs[num] = xref.Entry{Type: xref.EntryFree, Generation: gen, NextFree: next}
}

func (b *TableBuilder) MaxNum() int {
	max := 0
	for num := range b.recs {
		if num > max {
			max = num
		}
	}
	return max
}

type block struct {
	start int
	nums  []int
}

// blocks returns the records grouped into runs of consecutive numbers.
func (b *TableBuilder) blocks() []block {
	nums := make([]int, 0, len(b.recs))
	for num := range b.recs {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	var out []block
	for _, num := range nums {
		if n := len(out); n > 0 && out[n-1].start+len(out[n-1].nums) == num {
			out[n-1].nums = append(out[n-1].nums, num)
			continue
		}
		out = append(out, block{start: num, nums: []int{num}})
	}
	return out
}

// WriteClassicTo emits the section to a plain writer, for callers that
// track offsets themselves. Returns the bytes written.
func (b *TableBuilder) WriteClassicTo(w io.Writer, trailer raw.Dictionary) (int64, error) {
	c := &countingWriter{w: w}
	b.writeClassic(c, trailer)
	return c.n, c.err
}

// writeClassic emits the xref keyword, the subsections, and the trailer.
// Records are the fixed 20-byte form with a space before the newline.
func (b *TableBuilder) writeClassic(c *countingWriter, trailer raw.Dictionary) int64 {
	start := c.offset()
	c.str("xref\n")
	for _, blk := range b.blocks() {
		c.printf("%d %d\n", blk.start, len(blk.nums))
		for _, num := range blk.nums {
			rec := b.recs[num]
			if rec.Type == xref.EntryFree {
				c.printf("%010d %05d f \n", rec.NextFree, rec.Generation)
			} else {
				c.printf("%010d %05d n \n", rec.Offset, rec.Generation)
			}
		}
	}
	c.str("trailer\n")
	serializeDict(c, trailer)
	c.str("\n")
	return start
}

// BuildStream packs the records into a cross-reference stream object.
// The offset field is sized to the largest value it has to carry, so
// sources past 4 GiB widen the rows instead of truncating. The payload
// is deflated.
func (b *TableBuilder) BuildStream(trailer raw.Dictionary, size int) (*raw.StreamObj, error) {
	offWidth := 4
	for _, rec := range b.recs {
		if rec.Type == xref.EntryInUse && rec.Offset >= 1<<32 {
			offWidth = 5
		}
	}

	blks := b.blocks()
	var rows []byte
	index := raw.NewArray()
	for _, blk := range blks {
		index.Items = append(index.Items,
			raw.NumberInt(int64(blk.start)), raw.NumberInt(int64(len(blk.nums))))
		for _, num := range blk.nums {
			rec := b.recs[num]
			var typ byte
			var f2 int64
			var f3 int
			switch rec.Type {
			case xref.EntryFree:
				typ, f2, f3 = 0, int64(rec.NextFree), rec.Generation
			case xref.EntryInUse:
				typ, f2, f3 = 1, rec.Offset, rec.Generation
			case xref.EntryCompressed:
				typ, f2, f3 = 2, int64(rec.Container), rec.IndexInContainer
			}
			rows = append(rows, typ)
			for shift := 8 * (offWidth - 1); shift >= 0; shift -= 8 {
				rows = append(rows, byte(f2>>shift))
			}
			rows = append(rows, byte(f3>>8), byte(f3))
		}
	}
	packed, err := filters.Encode(rows)
	if err != nil {
		return nil, err
	}

	dict := raw.Dict()
	for _, key := range trailer.Keys() {
		if v, ok := trailer.Get(key); ok {
			dict.Set(key, v)
		}
	}
	dict.Set(raw.NameObj{Val: "Type"}, raw.NameLiteral("XRef"))
	dict.Set(raw.NameObj{Val: "W"}, raw.NewArray(raw.NumberInt(1), raw.NumberInt(int64(offWidth)), raw.NumberInt(2)))
	dict.Set(raw.NameObj{Val: "Index"}, index)
	dict.Set(raw.NameObj{Val: "Size"}, raw.NumberInt(int64(size)))
	dict.Set(raw.NameObj{Val: "Filter"}, raw.NameLiteral("FlateDecode"))
	dict.Set(raw.NameObj{Val: "Length"}, raw.NumberInt(int64(len(packed))))
	return &raw.StreamObj{Dict: dict, Data: packed}, nil
}
