package xref

import (
	"bytes"
	"strconv"

	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/pdferr"
	"pdfcore/recovery"
	"pdfcore/scanner"
)

const (
	// DefaultMaxRevisions bounds the /Prev chain length.
	DefaultMaxRevisions = 500
	// DefaultMaxSubsections bounds subsection headers per classic section.
	DefaultMaxSubsections = 512

	headerScanWindow  = 1024
	trailerScanWindow = 2048
)

// Result is the outcome of resolving the revision chain.
type Result struct {
	Table         *Table
	Version       string
	MagicSkew     int64
	StartXRef     int64
	RevisionCount int
	// NewestIsStream records whether the newest revision used a
	// cross-reference stream, so a faithful incremental update can
	// emit the same flavor.
	NewestIsStream bool
	Rebuilt        bool
}

// Resolver walks the cross-reference chain of a document.
type Resolver struct {
	sc       *scanner.Scanner
	pipeline *filters.Pipeline
	rec      recovery.Strategy
	log      observability.Logger

	maxRevisions   int
	maxSubsections int

	visited map[int64]bool
	table   *Table
	skew    int64
	newest  bool
	streams bool
	count   int
}

func NewResolver(sc *scanner.Scanner, pipeline *filters.Pipeline, rec recovery.Strategy, log observability.Logger) *Resolver {
	if rec == nil {
		rec = recovery.NewStrictStrategy()
	}
	if log == nil {
		log = observability.NopLogger{}
	}
	if pipeline == nil {
		pipeline = filters.Default(filters.Limits{})
	}
	return &Resolver{
		sc:             sc,
		pipeline:       pipeline,
		rec:            rec,
		log:            log,
		maxRevisions:   DefaultMaxRevisions,
		maxSubsections: DefaultMaxSubsections,
		visited:        make(map[int64]bool),
		table:          NewTable(),
	}
}

// Resolve locates the newest cross-reference section and follows the
// chain of previous revisions, merging entries newest first.
func (r *Resolver) Resolve() (*Result, error) {
	version, skew, err := r.findHeader()
	if err != nil {
		return nil, err
	}
	r.skew = skew

	start, err := r.findStartXRef()
	if err != nil {
		if r.onError(err, -1, "resolver") {
			return r.rebuild(version)
		}
		return nil, err
	}

	r.newest = true
	if err := r.readSection(start+skew, 0); err != nil {
		if k, ok := pdferr.KindOf(err); ok && (k == pdferr.KindCycle || k == pdferr.KindRecursionLimit) {
			return nil, err
		}
		if r.onError(err, start, "resolver") {
			return r.rebuild(version)
		}
		return nil, err
	}

	r.checkSize()
	return &Result{
		Table:          r.table,
		Version:        version,
		MagicSkew:      skew,
		StartXRef:      start + skew,
		RevisionCount:  r.count,
		NewestIsStream: r.streams,
	}, nil
}

// findHeader locates the %PDF- magic. Junk before the magic skews every
// stored offset by the magic's position.
func (r *Resolver) findHeader() (string, int64, error) {
	if err := r.sc.Seek(0); err != nil {
		return "", 0, err
	}
	head, err := r.sc.ReadRaw(min64(headerScanWindow, r.sc.Length()))
	if err != nil {
		return "", 0, pdferr.New(pdferr.KindFormat, "document too short").Wrap(err)
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		err := pdferr.New(pdferr.KindFormat, "missing %PDF header")
		if r.onError(err, 0, "header") {
			return "", 0, nil
		}
		return "", 0, err
	}
	version := ""
	rest := head[idx+5:]
	if end := bytes.IndexFunc(rest, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	}); end > 0 {
		version = string(rest[:end])
	} else if len(rest) > 0 {
		version = string(rest)
	}
	if idx > 0 {
		r.log.Warn("junk before document header", observability.Int64("skew", int64(idx)))
	}
	return version, int64(idx), nil
}

// findStartXRef scans the tail of the document for the startxref marker
// and returns the offset recorded after it. The %%EOF marker must close
// the document; under lenient policy trailing bytes after it are
// tolerated with a warning.
func (r *Resolver) findStartXRef() (int64, error) {
	total := r.sc.Length()
	windowStart := total - trailerScanWindow
	if windowStart < 0 {
		windowStart = 0
	}
	if err := r.sc.Seek(windowStart); err != nil {
		return 0, err
	}
	tail, err := r.sc.ReadRaw(total - windowStart)
	if err != nil {
		return 0, err
	}
	if err := r.checkEOFMarker(tail, windowStart); err != nil {
		return 0, err
	}
	marker := "startxref"
	idx := bytes.LastIndex(tail, []byte(marker))
	if idx < 0 {
		// A few broken producers write a shortened marker.
		marker = "startref"
		idx = bytes.LastIndex(tail, []byte(marker))
		if idx < 0 {
			return 0, pdferr.New(pdferr.KindFormat, "startxref marker not found")
		}
		err := pdferr.New(pdferr.KindFormat, "non-standard startref marker")
		if !r.onError(err, windowStart+int64(idx), "resolver") {
			return 0, err
		}
	}
	if err := r.sc.Seek(windowStart + int64(idx) + int64(len(marker))); err != nil {
		return 0, err
	}
	tok, err := r.sc.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
		return 0, pdferr.New(pdferr.KindFormat, "startxref is not a byte offset")
	}
	return tok.Int, nil
}

// checkEOFMarker verifies that %%EOF terminates the document tail. A
// missing marker is always an error; bytes after the last marker are
// degraded to a warning under lenient policy.
func (r *Resolver) checkEOFMarker(tail []byte, windowStart int64) error {
	idx := bytes.LastIndex(tail, []byte("%%EOF"))
	if idx < 0 {
		err := pdferr.New(pdferr.KindFormat, "end-of-file marker not found").At(windowStart + int64(len(tail)))
		if !r.onError(err, windowStart+int64(len(tail)), "resolver") {
			return err
		}
		return nil
	}
	for _, c := range tail[idx+len("%%EOF"):] {
		if scanner.IsWhitespace(c) {
			continue
		}
		pos := windowStart + int64(idx)
		err := pdferr.New(pdferr.KindFormat, "data after end-of-file marker").At(pos)
		if !r.onError(err, pos, "resolver") {
			return err
		}
		r.log.Warn("trailing bytes after end-of-file marker", observability.Int64("offset", pos))
		break
	}
	return nil
}

// readSection dispatches one revision at offset: a classic table or a
// cross-reference stream. depth counts chain hops for the recursion
// guard; offsets already visited mean the chain loops.
func (r *Resolver) readSection(offset int64, depth int) error {
	if depth >= r.maxRevisions {
		return pdferr.New(pdferr.KindRecursionLimit, "revision chain too deep").At(offset)
	}
	if r.visited[offset] {
		return pdferr.New(pdferr.KindCycle, "revision chain loops back on itself").At(offset)
	}
	r.visited[offset] = true
	r.count++

	if err := r.sc.Seek(offset); err != nil {
		return pdferr.New(pdferr.KindRecoverableOffset, "revision offset out of range").At(offset).Wrap(err)
	}
	tok, err := r.sc.Next()
	if err != nil {
		return pdferr.New(pdferr.KindRecoverableOffset, "no token at revision offset").At(offset).Wrap(err)
	}
	switch {
	case tok.Type == scanner.TokenKeyword && tok.Str == "xref":
		if r.newest {
			r.newest = false
		}
		return r.readClassicSection(offset, depth)
	case tok.Type == scanner.TokenNumber:
		if r.newest {
			r.streams = true
			r.newest = false
		}
		return r.readStreamSection(offset, depth)
	}
	// The offset may predate the junk skew. Retry once shifted.
	if r.skew > 0 && !r.visited[offset+r.skew] {
		r.log.Warn("revision offset misses table, retrying with header skew",
			observability.Int64("offset", offset))
		delete(r.visited, offset)
		r.count--
		return r.readSection(offset+r.skew, depth)
	}
	return pdferr.New(pdferr.KindRecoverableOffset, "offset does not address a cross-reference section").At(offset)
}

// readClassicSection parses subsections of 20-byte records followed by
// a trailer dictionary. The scanner is positioned after the xref keyword.
func (r *Resolver) readClassicSection(offset int64, depth int) error {
	tr := raw.NewTokenReader(r.sc)
	sections := 0
	for {
		tok, err := tr.Next()
		if err != nil {
			return pdferr.New(pdferr.KindFormat, "cross-reference section ends without trailer").At(offset).Wrap(err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			return r.readClassicTrailer(tr, offset, depth)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return pdferr.New(pdferr.KindFormat, "expected subsection header").At(tok.Pos)
		}
		sections++
		if sections > r.maxSubsections {
			return pdferr.New(pdferr.KindFormat, "too many cross-reference subsections").At(offset)
		}
		start := int(tok.Int)
		countTok, err := tr.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt || countTok.Int < 0 {
			return pdferr.New(pdferr.KindFormat, "subsection header missing entry count").At(tok.Pos)
		}
		if err := r.readSubsection(tr, start, int(countTok.Int)); err != nil {
			return err
		}
	}
}

// readSubsection consumes count records of the fixed 20-byte layout:
// ten offset digits, space, five generation digits, space, the n/f
// flag, and a two-character end-of-line. Lenient policy re-reads a
// record that breaks the layout as free-form tokens.
func (r *Resolver) readSubsection(tr *raw.TokenReader, start, count int) error {
	for i := 0; i < count; i++ {
		num := start + i
		if err := r.sc.SkipWhitespace(); err != nil {
			return pdferr.New(pdferr.KindFormat, "cross-reference subsection truncated").ForObject(num, 0).Wrap(err)
		}
		recPos := r.sc.Position()
		rec, err := r.sc.ReadRaw(classicRecordLen)
		var off int64
		var gen int
		var flag byte
		if err == nil {
			off, gen, flag, err = parseClassicRecord(rec)
		}
		if err != nil {
			ferr := pdferr.New(pdferr.KindFormat, "malformed cross-reference record").
				ForObject(num, 0).At(recPos).Wrap(err)
			if !r.onError(ferr, recPos, "xref") {
				return ferr
			}
			if serr := r.sc.Seek(recPos); serr != nil {
				return ferr
			}
			off, gen, flag, err = readLooseRecord(tr)
			if err != nil {
				return pdferr.New(pdferr.KindFormat, "malformed cross-reference record").
					ForObject(num, 0).At(recPos).Wrap(err)
			}
		}
		if gen > raw.MaxGeneration {
			if !r.onError(pdferr.New(pdferr.KindValueOutOfRange, "generation above maximum").ForObject(num, gen), recPos, "xref") {
				return pdferr.New(pdferr.KindValueOutOfRange, "generation above maximum").ForObject(num, gen)
			}
			gen = raw.MaxGeneration
		}
		if flag == 'f' {
			r.table.Merge(num, Entry{Type: EntryFree, NextFree: int(off), Generation: gen})
			continue
		}
		if off == 0 && gen == 0 && num != 0 {
			// Some producers emit zeroed in-use records for holes.
			err := pdferr.New(pdferr.KindFormat, "in-use record with offset 0").ForObject(num, 0)
			if !r.onError(err, recPos, "xref") {
				return err
			}
			r.table.Merge(num, Entry{Type: EntryFree, Generation: gen})
			continue
		}
		r.table.Merge(num, Entry{Type: EntryInUse, Offset: off + r.skew, Generation: gen})
	}
	return nil
}

const classicRecordLen = 20

// parseClassicRecord validates one fixed-layout record. The terminator
// must be one of the three legal two-character forms: space-CR,
// space-LF, or CR-LF.
func parseClassicRecord(rec []byte) (off int64, gen int, flag byte, err error) {
	for i := 0; i < 10; i++ {
		if rec[i] < '0' || rec[i] > '9' {
			return 0, 0, 0, errRecordLayout
		}
		off = off*10 + int64(rec[i]-'0')
	}
	if rec[10] != ' ' {
		return 0, 0, 0, errRecordLayout
	}
	for i := 11; i < 16; i++ {
		if rec[i] < '0' || rec[i] > '9' {
			return 0, 0, 0, errRecordLayout
		}
		gen = gen*10 + int(rec[i]-'0')
	}
	if rec[16] != ' ' {
		return 0, 0, 0, errRecordLayout
	}
	flag = rec[17]
	if flag != 'n' && flag != 'f' {
		return 0, 0, 0, errRecordLayout
	}
	eol := [2]byte{rec[18], rec[19]}
	switch eol {
	case [2]byte{' ', '\r'}, [2]byte{' ', '\n'}, [2]byte{'\r', '\n'}:
		return off, gen, flag, nil
	}
	return 0, 0, 0, errRecordLayout
}

var errRecordLayout = pdferr.New(pdferr.KindFormat, "record does not match the fixed 20-byte layout")

// readLooseRecord parses one record as whitespace-separated tokens, the
// fallback for producers that pad or trim the fixed layout.
func readLooseRecord(tr *raw.TokenReader) (off int64, gen int, flag byte, err error) {
	f1, err := tr.Next()
	if err != nil || f1.Type != scanner.TokenNumber || !f1.IsInt {
		return 0, 0, 0, errRecordLayout
	}
	f2, err := tr.Next()
	if err != nil || f2.Type != scanner.TokenNumber || !f2.IsInt {
		return 0, 0, 0, errRecordLayout
	}
	kind, err := tr.Next()
	if err != nil || kind.Type != scanner.TokenKeyword || (kind.Str != "n" && kind.Str != "f") {
		return 0, 0, 0, errRecordLayout
	}
	return f1.Int, int(f2.Int), kind.Str[0], nil
}

func (r *Resolver) readClassicTrailer(tr *raw.TokenReader, offset int64, depth int) error {
	obj, err := raw.ParseValue(tr, r.rec, 0, 0)
	if err != nil {
		return pdferr.New(pdferr.KindFormat, "malformed trailer dictionary").At(offset).Wrap(err)
	}
	trailer, ok := obj.(raw.Dictionary)
	if !ok {
		return pdferr.New(pdferr.KindFormat, "trailer is not a dictionary").At(offset)
	}
	if size, ok := dictInt64(trailer, "Size"); ok {
		r.table.Grow(int(size))
	}
	r.table.MergeTrailer(trailer)

	// A hybrid file names a cross-reference stream that supersedes the
	// classic records of this same revision. Read it before Prev.
	if stm, ok := dictInt64(trailer, "XRefStm"); ok {
		if err := r.readSection(stm+r.skew, depth+1); err != nil {
			if k, ok := pdferr.KindOf(err); ok && (k == pdferr.KindCycle || k == pdferr.KindRecursionLimit) {
				return err
			}
			if !r.onError(err, stm, "xref") {
				return err
			}
		}
	}
	if prev, ok := dictInt64(trailer, "Prev"); ok {
		return r.readSection(prev+r.skew, depth+1)
	}
	return nil
}

// readStreamSection parses a cross-reference stream revision. The
// scanner is positioned at the object header.
func (r *Resolver) readStreamSection(offset int64, depth int) error {
	if err := r.sc.Seek(offset); err != nil {
		return err
	}
	tr := raw.NewTokenReader(r.sc)
	numTok, err := tr.Next()
	if err != nil || numTok.Type != scanner.TokenNumber {
		return pdferr.New(pdferr.KindFormat, "expected object header").At(offset)
	}
	genTok, err := tr.Next()
	if err != nil || genTok.Type != scanner.TokenNumber {
		return pdferr.New(pdferr.KindFormat, "expected object header").At(offset)
	}
	objTok, err := tr.Next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return pdferr.New(pdferr.KindFormat, "expected obj keyword").At(offset)
	}

	dictVal, err := raw.ParseValue(tr, r.rec, int(numTok.Int), int(genTok.Int))
	if err != nil {
		return pdferr.New(pdferr.KindFormat, "malformed cross-reference stream dictionary").At(offset).Wrap(err)
	}
	dict, ok := dictVal.(raw.Dictionary)
	if !ok {
		return pdferr.New(pdferr.KindFormat, "cross-reference stream has no dictionary").At(offset)
	}
	if length, ok := dictInt64(dict, "Length"); ok {
		r.sc.SetNextStreamLength(length)
	} else {
		r.sc.SetNextStreamLength(-1)
	}
	stmTok, err := tr.Next()
	if err != nil || stmTok.Type != scanner.TokenStream {
		return pdferr.New(pdferr.KindFormat, "cross-reference stream has no payload").At(offset)
	}
	names, params := filters.ExtractFilters(dict)
	data, err := r.pipeline.Decode(stmTok.Bytes, names, params)
	if err != nil {
		return pdferr.New(pdferr.KindFormat, "cannot decode cross-reference stream").At(offset).Wrap(err)
	}

	if err := r.applyStreamEntries(dict, data, offset); err != nil {
		return err
	}
	r.table.MergeTrailer(dict)
	if prev, ok := dictInt64(dict, "Prev"); ok {
		return r.readSection(prev+r.skew, depth+1)
	}
	return nil
}

func (r *Resolver) applyStreamEntries(dict raw.Dictionary, data []byte, offset int64) error {
	size, ok := dictInt64(dict, "Size")
	if !ok {
		return pdferr.New(pdferr.KindFormat, "cross-reference stream missing Size").At(offset)
	}
	widths, err := intArray(dict, "W")
	if err != nil || len(widths) < 3 {
		return pdferr.New(pdferr.KindFormat, "cross-reference stream missing W widths").At(offset)
	}
	index, err := intArray(dict, "Index")
	if err != nil {
		return pdferr.New(pdferr.KindFormat, "malformed Index array").At(offset)
	}
	if len(index) == 0 {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return pdferr.New(pdferr.KindFormat, "Index array length is odd").At(offset)
	}
	r.table.Grow(int(size))

	rowLen := int(widths[0] + widths[1] + widths[2])
	if rowLen <= 0 {
		return pdferr.New(pdferr.KindFormat, "zero-width cross-reference rows").At(offset)
	}
	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for k := 0; k < count; k++ {
			if pos+rowLen > len(data) {
				err := pdferr.New(pdferr.KindFormat, "cross-reference stream shorter than Index claims").At(offset)
				if r.onError(err, offset, "xrefstream") {
					return nil
				}
				return err
			}
			row := data[pos : pos+rowLen]
			pos += rowLen

			typ := int64(1)
			if widths[0] > 0 {
				typ = beInt(row[:widths[0]])
			}
			f2 := beInt(row[widths[0] : widths[0]+widths[1]])
			f3 := beInt(row[widths[0]+widths[1]:])
			num := start + k
			switch typ {
			case 0:
				r.table.Merge(num, Entry{Type: EntryFree, NextFree: int(f2), Generation: int(f3)})
			case 1:
				r.table.Merge(num, Entry{Type: EntryInUse, Offset: f2 + r.skew, Generation: int(f3)})
			case 2:
				r.table.Merge(num, Entry{Type: EntryCompressed, Container: int(f2), IndexInContainer: int(f3)})
			default:
				// Unknown types are reserved; readers treat them as null.
				r.log.Warn("unknown cross-reference entry type",
					observability.Int("type", int(typ)), observability.Int("object", num))
			}
		}
	}
	return nil
}

// rebuild scans the whole document for object headers when the chain is
// unusable. Offsets found this way are exact, so no skew applies.
func (r *Resolver) rebuild(version string) (*Result, error) {
	r.log.Warn("cross-reference chain unusable, rebuilding from object headers")
	if err := r.sc.Seek(0); err != nil {
		return nil, err
	}
	data, err := r.sc.ReadRaw(r.sc.Length())
	if err != nil {
		return nil, err
	}

	table := NewTable()
	for i := 0; i+3 < len(data); i++ {
		if !bytes.HasPrefix(data[i:], []byte("obj")) {
			continue
		}
		if i+3 < len(data) && !scanner.IsWhitespace(data[i+3]) && !scanner.IsDelimiter(data[i+3]) {
			continue
		}
		num, gen, hdr, ok := headerBefore(data, i)
		if !ok {
			continue
		}
		table.Set(num, Entry{Type: EntryInUse, Offset: int64(hdr), Generation: gen})
	}
	table.Set(0, Entry{Type: EntryFree, Generation: raw.MaxGeneration})

	r.rebuildTrailer(data, table)
	r.table = table
	return &Result{
		Table:         table,
		Version:       version,
		RevisionCount: 1,
		Rebuilt:       true,
	}, nil
}

// rebuildTrailer recovers trailer keys from trailer dictionaries, or by
// locating the document catalog when no trailer survives.
func (r *Resolver) rebuildTrailer(data []byte, table *Table) {
	search := data
	base := 0
	var offsets []int
	for {
		idx := bytes.Index(search, []byte("trailer"))
		if idx < 0 {
			break
		}
		offsets = append(offsets, base+idx)
		search = search[idx+len("trailer"):]
		base += idx + len("trailer")
	}
	for i := len(offsets) - 1; i >= 0; i-- {
		if err := r.sc.Seek(int64(offsets[i] + len("trailer"))); err != nil {
			continue
		}
		tr := raw.NewTokenReader(r.sc)
		obj, err := raw.ParseValue(tr, r.rec, 0, 0)
		if err != nil {
			continue
		}
		if d, ok := obj.(raw.Dictionary); ok {
			table.MergeTrailer(d)
		}
	}
	if _, ok := table.Trailer().Get(raw.NameObj{Val: "Root"}); ok {
		return
	}
	// No trailer survived. Find the catalog among recovered objects.
	for _, num := range table.InUse() {
		e, _ := table.Get(num)
		if err := r.sc.Seek(e.Offset); err != nil {
			continue
		}
		tr := raw.NewTokenReader(r.sc)
		if _, err := tr.Next(); err != nil { // num
			continue
		}
		if _, err := tr.Next(); err != nil { // gen
			continue
		}
		if _, err := tr.Next(); err != nil { // obj
			continue
		}
		obj, err := raw.ParseValue(tr, r.rec, num, e.Generation)
		if err != nil {
			continue
		}
		d, ok := obj.(raw.Dictionary)
		if !ok {
			continue
		}
		if t, ok := d.Get(raw.NameObj{Val: "Type"}); ok {
			if n, ok := t.(raw.Name); ok && n.Value() == "Catalog" {
				table.Trailer().Set(raw.NameObj{Val: "Root"}, raw.Ref(num, e.Generation))
				break
			}
		}
	}
}

// headerBefore walks backwards from the obj keyword at idx and extracts
// the "num gen" prefix. Returns the offset of the number token.
func headerBefore(data []byte, idx int) (num, gen, hdrOffset int, ok bool) {
	j := idx - 1
	for j >= 0 && scanner.IsWhitespace(data[j]) {
		j--
	}
	genEnd := j + 1
	for j >= 0 && data[j] >= '0' && data[j] <= '9' {
		j--
	}
	genStart := j + 1
	if genStart == genEnd {
		return 0, 0, 0, false
	}
	for j >= 0 && scanner.IsWhitespace(data[j]) {
		j--
	}
	numEnd := j + 1
	for j >= 0 && data[j] >= '0' && data[j] <= '9' {
		j--
	}
	numStart := j + 1
	if numStart == numEnd || numEnd == genStart {
		return 0, 0, 0, false
	}
	if j >= 0 && !scanner.IsWhitespace(data[j]) && !scanner.IsDelimiter(data[j]) {
		return 0, 0, 0, false
	}
	n, err1 := strconv.Atoi(string(data[numStart:numEnd]))
	g, err2 := strconv.Atoi(string(data[genStart:genEnd]))
	if err1 != nil || err2 != nil || g > raw.MaxGeneration {
		return 0, 0, 0, false
	}
	return n, g, numStart, true
}

func (r *Resolver) checkSize() {
	if size, ok := dictInt64(r.table.Trailer(), "Size"); ok {
		if int(size) != r.table.Size() {
			r.log.Warn("trailer Size disagrees with merged table",
				observability.Int64("declared", size),
				observability.Int("actual", r.table.Size()))
		}
	}
}

func (r *Resolver) onError(err error, offset int64, component string) bool {
	action := r.rec.OnError(err, recovery.Location{ByteOffset: offset, Component: component})
	return action == recovery.ActionFix || action == recovery.ActionSkip || action == recovery.ActionWarn
}

func dictInt64(d raw.Dictionary, key string) (int64, bool) {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if n, ok := v.(raw.Number); ok && n.IsInteger() {
			return n.Int(), true
		}
	}
	return 0, false
}

func intArray(d raw.Dictionary, key string) ([]int64, error) {
	v, ok := d.Get(raw.NameObj{Val: key})
	if !ok {
		return nil, nil
	}
	arr, ok := v.(raw.Array)
	if !ok {
		return nil, pdferr.Newf(pdferr.KindFormat, "%s is not an array", key)
	}
	out := make([]int64, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		item, _ := arr.Get(i)
		n, ok := item.(raw.Number)
		if !ok {
			return nil, pdferr.Newf(pdferr.KindFormat, "%s holds a non-number", key)
		}
		out = append(out, n.Int())
	}
	return out, nil
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
