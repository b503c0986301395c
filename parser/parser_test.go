package parser

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/pdferr"
)

// buildSimpleDoc assembles a classic single-revision document with a
// catalog, a page tree stub, a stream, and a string object.
func buildSimpleDoc() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 5)
	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Length 11 >>\nstream\nhello world\nendstream\nendobj\n")
	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n(a string)\nendobj\n")
	xr := b.Len()
	b.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i < 5; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	b.WriteString("trailer\n<< /Size 5 /Root 1 0 R >>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xr)
	return b.Bytes()
}

func TestParseSimpleDocument(t *testing.T) {
	res, err := Parse(bytes.NewReader(buildSimpleDoc()), Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != "1.4" {
		t.Errorf("version = %q", res.Version)
	}
	if res.Revisions != 1 {
		t.Errorf("revisions = %d", res.Revisions)
	}

	cat, err := res.Objects.Get(raw.ObjectRef{Num: 1, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := cat.(*raw.DictObj)
	if !ok {
		t.Fatalf("catalog is %T", cat)
	}
	typ, _ := d.Get(raw.NameObj{Val: "Type"})
	if !raw.Equal(typ, raw.NameLiteral("Catalog")) {
		t.Fatalf("Type = %#v", typ)
	}

	stm, err := res.Objects.Get(raw.ObjectRef{Num: 3, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	s, ok := stm.(raw.Stream)
	if !ok || string(s.RawData()) != "hello world" {
		t.Fatalf("stream = %#v", stm)
	}

	str, err := res.Objects.Get(raw.ObjectRef{Num: 4, Gen: 0})
	if err != nil || !raw.Equal(str, raw.StringObj{Bytes: []byte("a string")}) {
		t.Fatalf("string = %#v, %v", str, err)
	}
}

func TestStreamPayloadReadOnDemand(t *testing.T) {
	res, err := Parse(bytes.NewReader(buildSimpleDoc()), Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := res.Objects.Get(raw.ObjectRef{Num: 3, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	ls, ok := obj.(*lazyStream)
	if !ok {
		t.Fatalf("stream object is %T", obj)
	}
	if ls.loaded {
		t.Fatal("payload consumed while the value was parsed")
	}
	if got := ls.Length(); got != 11 {
		t.Fatalf("Length = %d", got)
	}
	if ls.loaded {
		t.Fatal("declared length must come from the dictionary, not the payload")
	}
	data, err := ls.Payload()
	if err != nil || string(data) != "hello world" {
		t.Fatalf("payload = %q, %v", data, err)
	}
	if !ls.loaded {
		t.Fatal("first read did not cache the payload")
	}

	eager, err := Parse(bytes.NewReader(buildSimpleDoc()), Options{Strict: true, EagerStreams: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	eobj, err := eager.Objects.Get(raw.ObjectRef{Num: 3, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	if els, ok := eobj.(*lazyStream); !ok || !els.loaded {
		t.Fatal("eager load must force the payload")
	}
}

func TestLazyMatchesEagerLoading(t *testing.T) {
	doc := buildSimpleDoc()
	lazyRes, err := Parse(bytes.NewReader(doc), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	eagerRes, err := Parse(bytes.NewReader(doc), Options{EagerStreams: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for num := 1; num <= 4; num++ {
		ref := raw.ObjectRef{Num: num, Gen: 0}
		a, errA := lazyRes.Objects.Get(ref)
		b, errB := eagerRes.Objects.Get(ref)
		if errA != nil || errB != nil {
			t.Fatalf("object %d: %v / %v", num, errA, errB)
		}
		if !raw.Equal(a, b) {
			t.Fatalf("object %d differs between lazy and eager load", num)
		}
	}
}

func TestIndirectStreamLength(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	payload := "AB endstream CD"
	off1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	off2 := b.Len()
	fmt.Fprintf(&b, "2 0 obj\n<< /Length 3 0 R >>\nstream\n%s\nendstream\nendobj\n", payload)
	off3 := b.Len()
	fmt.Fprintf(&b, "3 0 obj\n%d\nendobj\n", len(payload))
	xr := b.Len()
	fmt.Fprintf(&b, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", off1, off2, off3)
	b.WriteString("trailer\n<< /Size 4 /Root 1 0 R >>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xr)

	res, err := Parse(bytes.NewReader(b.Bytes()), Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := res.Objects.Get(raw.ObjectRef{Num: 2, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	stm, ok := obj.(raw.Stream)
	if !ok {
		t.Fatalf("got %T", obj)
	}
	if got := stm.RawData(); string(got) != payload {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

// buildObjStreamDoc stores two objects inside an object stream and
// addresses everything through a cross-reference stream.
func buildObjStreamDoc(t *testing.T) []byte {
	t.Helper()
	inner := "<< /A (hi) >>"
	second := "42"
	pairs := fmt.Sprintf("5 0 6 %d ", len(inner)+1)
	payload := pairs + inner + " " + second

	var b bytes.Buffer
	b.WriteString("%PDF-1.5\n")
	off1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Extra 5 0 R >>\nendobj\n")
	off4 := b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(pairs), len(payload), payload)

	// Index [0 2 4 4] covers objects 0, 1 and 4 through 7.
	var rows []byte
	addRow := func(typ byte, f2 int64, f3 int) {
		rows = append(rows, typ,
			byte(f2>>24), byte(f2>>16), byte(f2>>8), byte(f2), byte(f3>>8), byte(f3))
	}
	addRow(0, 0, 0xFFFF)      // 0: free
	addRow(1, int64(off1), 0) // 1: catalog
	addRow(1, int64(off4), 0) // 4: the container
	addRow(2, 4, 0)           // 5: compressed, index 0
	addRow(2, 4, 1)           // 6: compressed, index 1
	xrOff := b.Len()
	addRow(1, int64(xrOff), 0) // 7: the cross-reference stream itself

	flated, err := filters.Encode(rows)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintf(&b, "7 0 obj\n<< /Type /XRef /Size 8 /W [1 4 2] /Index [0 2 4 4] /Filter /FlateDecode /Root 1 0 R /Length %d >>\nstream\n", len(flated))
	b.Write(flated)
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrOff)
	return b.Bytes()
}

func TestObjectStreamExtraction(t *testing.T) {
	res, err := Parse(bytes.NewReader(buildObjStreamDoc(t)), Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	five, err := res.Objects.Get(raw.ObjectRef{Num: 5, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := five.(*raw.DictObj)
	if !ok {
		t.Fatalf("object 5 is %T", five)
	}
	a, _ := d.Get(raw.NameObj{Val: "A"})
	if !raw.Equal(a, raw.StringObj{Bytes: []byte("hi")}) {
		t.Fatalf("A = %#v", a)
	}
	six, err := res.Objects.Get(raw.ObjectRef{Num: 6, Gen: 0})
	if err != nil || !raw.Equal(six, raw.NumberInt(42)) {
		t.Fatalf("object 6 = %#v, %v", six, err)
	}
}

func TestContainerParsedOnce(t *testing.T) {
	res, err := Parse(bytes.NewReader(buildObjStreamDoc(t)), Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	cr := NewContainerResolver(res.Source)
	first, err := cr.Object(4, 5)
	if err != nil {
		t.Fatal(err)
	}
	again, err := cr.Object(4, 5)
	if err != nil {
		t.Fatal(err)
	}
	if first.(*raw.DictObj) != again.(*raw.DictObj) {
		t.Fatal("second access re-parsed the container")
	}
	if _, err := cr.Object(4, 99); err == nil {
		t.Fatal("object absent from the container must fail")
	}
}

func TestBrokenObjectLenientBecomesFree(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xr := b.Len()
	// Object 2 points into the middle of nowhere.
	fmt.Fprintf(&b, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, xr)
	b.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xr)

	res, err := Parse(bytes.NewReader(b.Bytes()), Options{EagerStreams: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := res.Objects.Get(raw.ObjectRef{Num: 2, Gen: 0}); !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatalf("broken object must become free, got %v", err)
	}
	if _, err := res.Objects.Get(raw.ObjectRef{Num: 1, Gen: 0}); err != nil {
		t.Fatalf("healthy object lost: %v", err)
	}

	if _, err := Parse(bytes.NewReader(b.Bytes()), Options{Strict: true, EagerStreams: true}, nil); err == nil {
		t.Fatal("strict policy must abort on the broken object")
	}
}

func TestWrongPasswordSurfacesAuthError(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	off2 := b.Len()
	b.WriteString("2 0 obj\n<< /Filter /Standard /V 1 /R 2 /Length 40 /P -1 " +
		"/O <0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F20> " +
		"/U <0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F20> >>\nendobj\n")
	xr := b.Len()
	fmt.Fprintf(&b, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	b.WriteString("trailer\n<< /Size 3 /Root 1 0 R /Encrypt 2 0 R /ID [<AABB> <AABB>] >>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xr)

	_, err := Parse(bytes.NewReader(b.Bytes()), Options{Password: "nope"}, nil)
	if !errors.Is(err, pdferr.ErrAuthentication) {
		t.Fatalf("want authentication error, got %v", err)
	}
}

func TestHeaderMismatchTolerated(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	off1 := b.Len()
	// The header says 9 0 but the table says 1 0; the table wins.
	b.WriteString("9 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xr := b.Len()
	fmt.Fprintf(&b, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	b.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xr)

	res, err := Parse(bytes.NewReader(b.Bytes()), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := res.Objects.Get(raw.ObjectRef{Num: 1, Gen: 0})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := obj.(*raw.DictObj); !ok {
		t.Fatalf("got %T", obj)
	}
}

func TestEvictionReloadsFromSource(t *testing.T) {
	doc := buildSimpleDoc()
	res, err := Parse(bytes.NewReader(doc), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ref := raw.ObjectRef{Num: 4, Gen: 0}
	before, err := res.Objects.Get(ref)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Objects.FreeMemory(ref, false) {
		t.Fatal("clean lazy object not evicted")
	}
	after, err := res.Objects.Get(ref)
	if err != nil || !raw.Equal(before, after) {
		t.Fatalf("reload mismatch: %#v vs %#v (%v)", before, after, err)
	}
}
