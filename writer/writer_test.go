package writer

import (
	"bytes"
	"strings"
	"testing"

	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/parser"
	"pdfcore/repo"
	"pdfcore/xref"
)

func serialize(t *testing.T, obj raw.Object) string {
	t.Helper()
	var b bytes.Buffer
	if _, err := SerializeTo(&b, obj); err != nil {
		t.Fatal(err)
	}
	return b.String()
}

func TestSerializePrimitives(t *testing.T) {
	sorted := raw.Dict()
	sorted.Set(raw.NameObj{Val: "B"}, raw.NumberInt(2))
	sorted.Set(raw.NameObj{Val: "A"}, raw.NumberInt(1))

	cases := []struct {
		obj  raw.Object
		want string
	}{
		{raw.NullObj{}, "null"},
		{raw.Bool(true), "true"},
		{raw.Bool(false), "false"},
		{raw.NumberInt(42), "42"},
		{raw.NumberInt(-7), "-7"},
		{raw.NumberFloat(3.5), "3.5"},
		{raw.NameLiteral("Name"), "/Name"},
		{raw.NameLiteral("A B"), "/A#20B"},
		{raw.NameLiteral("x#y"), "/x#23y"},
		{raw.Ref(12, 0), "12 0 R"},
		{raw.Str([]byte("a(b)")), `(a\(b\))`},
		{raw.Str([]byte("line\nbreak")), `(line\nbreak)`},
		{raw.StringObj{Bytes: []byte{0xDE, 0xAD}, Hex: true}, "<DEAD>"},
		{raw.NewArray(raw.NumberInt(1), raw.NumberInt(2), raw.NameLiteral("X")), "[1 2 /X]"},
		{sorted, "<< /A 1 /B 2 >>"},
	}
	for _, tc := range cases {
		if got := serialize(t, tc.obj); got != tc.want {
			t.Errorf("serialize(%#v) = %q, want %q", tc.obj, got, tc.want)
		}
	}
}

func TestSerializeStream(t *testing.T) {
	stm := raw.NewStream(raw.Dict(), []byte("data"))
	want := "<< /Length 4 >>\nstream\ndata\nendstream"
	if got := serialize(t, stm); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestClassicTableMergesBlocks(t *testing.T) {
	b := NewTableBuilder()
	b.AddFree(0, raw.MaxGeneration, 0)
	b.AddInUse(1, 0, 15)
	b.AddInUse(2, 0, 99)
	b.AddInUse(3, 1, 120)
	b.AddInUse(7, 0, 500)

	trailer := raw.Dict()
	trailer.Set(raw.NameObj{Val: "Size"}, raw.NumberInt(8))
	var out bytes.Buffer
	if _, err := b.WriteClassicTo(&out, trailer); err != nil {
		t.Fatal(err)
	}
	want := "xref\n" +
		"0 4\n" +
		"0000000000 65535 f \n" +
		"0000000015 00000 n \n" +
		"0000000099 00000 n \n" +
		"0000000120 00001 n \n" +
		"7 1\n" +
		"0000000500 00000 n \n" +
		"trailer\n<< /Size 8 >>\n"
	if out.String() != want {
		t.Fatalf("section:\n%q\nwant:\n%q", out.String(), want)
	}
}

func TestStreamTableWidensLargeOffsets(t *testing.T) {
	b := NewTableBuilder()
	b.AddFree(0, raw.MaxGeneration, 0)
	b.AddInUse(1, 0, 15)
	wide := int64(5) << 30 // past the 32-bit field
	b.AddInUse(2, 0, wide)

	stm, err := b.BuildStream(raw.Dict(), 3)
	if err != nil {
		t.Fatal(err)
	}
	w, _ := stm.Dict.Get(raw.NameObj{Val: "W"})
	if !raw.Equal(w, raw.NewArray(raw.NumberInt(1), raw.NumberInt(5), raw.NumberInt(2))) {
		t.Fatalf("W = %s", serialize(t, w))
	}
	rows, err := filters.Default(filters.Limits{}).DecodeStream(stm)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3*8 {
		t.Fatalf("row bytes = %d, want %d", len(rows), 3*8)
	}
	var got int64
	for _, c := range rows[2*8+1 : 2*8+6] {
		got = got<<8 | int64(c)
	}
	if got != wide {
		t.Fatalf("offset field = %d, want %d", got, wide)
	}
}

// buildRepo assembles a small document: a catalog, a string object, and
// a content stream.
func buildRepo(t *testing.T) (*repo.Repository, *raw.DictObj, raw.ObjectRef) {
	t.Helper()
	r := repo.New(nil)
	cat := raw.Dict()
	cat.Set(raw.NameObj{Val: "Type"}, raw.NameLiteral("Catalog"))
	catRef := r.Create(cat)
	strRef := r.Create(raw.Str([]byte("annotation text")))
	r.Create(raw.NewStream(raw.Dict(), []byte("BT /F1 12 Tf ET")))
	cat.Set(raw.NameObj{Val: "Note"}, raw.RefObj{R: strRef})

	trailer := raw.Dict()
	trailer.Set(raw.NameObj{Val: "Root"}, raw.RefObj{R: catRef})
	return r, trailer, catRef
}

func TestRewriteRoundTrip(t *testing.T) {
	objects, trailer, catRef := buildRepo(t)
	var out bytes.Buffer
	if err := New(Config{Version: "1.6"}, nil).Rewrite(&out, objects, trailer); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "%PDF-1.6\n") {
		t.Fatalf("header: %q", out.String()[:16])
	}

	res, err := parser.Parse(bytes.NewReader(out.Bytes()), parser.Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Revisions != 1 {
		t.Fatalf("revisions = %d", res.Revisions)
	}
	for num := 1; num <= 3; num++ {
		ref := raw.ObjectRef{Num: num, Gen: 0}
		want, _ := objects.Get(ref)
		got, err := res.Objects.Get(ref)
		if err != nil || !raw.Equal(got, want) {
			t.Fatalf("object %d did not survive the round trip: %v", num, err)
		}
	}
	root, ok := res.Trailer.Get(raw.NameObj{Val: "Root"})
	if !ok || !raw.Equal(root, raw.RefObj{R: catRef}) {
		t.Fatalf("Root = %#v", root)
	}
	id, ok := res.Trailer.Get(raw.NameObj{Val: "ID"})
	if !ok || id.(raw.Array).Len() != 2 {
		t.Fatal("trailer must carry a two-element ID")
	}
}

func TestRewriteXRefStreamFlavor(t *testing.T) {
	objects, trailer, _ := buildRepo(t)
	var out bytes.Buffer
	if err := New(Config{UseXRefStream: true}, nil).Rewrite(&out, objects, trailer); err != nil {
		t.Fatal(err)
	}
	res, err := parser.Parse(bytes.NewReader(out.Bytes()), parser.Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NewestIsStream {
		t.Fatal("newest revision must be a cross-reference stream")
	}
	if _, err := res.Objects.Get(raw.ObjectRef{Num: 1, Gen: 0}); err != nil {
		t.Fatal(err)
	}
}

func TestRewriteFreeChain(t *testing.T) {
	objects, trailer, _ := buildRepo(t)
	dead := objects.Create(raw.NullObj{})
	if _, err := objects.Remove(dead, true); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := New(Config{}, nil).Rewrite(&out, objects, trailer); err != nil {
		t.Fatal(err)
	}
	res, err := parser.Parse(bytes.NewReader(out.Bytes()), parser.Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := res.Table.Get(dead.Num)
	if !ok || entry.Type != xref.EntryFree {
		t.Fatalf("freed object record = %+v", entry)
	}
	if entry.Generation != dead.Gen+1 {
		t.Fatalf("freed generation = %d, want %d", entry.Generation, dead.Gen+1)
	}
}

func TestIncrementalAppendsRevision(t *testing.T) {
	objects, trailer, catRef := buildRepo(t)
	var base bytes.Buffer
	if err := New(Config{}, nil).Rewrite(&base, objects, trailer); err != nil {
		t.Fatal(err)
	}

	res, err := parser.Parse(bytes.NewReader(base.Bytes()), parser.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := res.Objects.Get(catRef)
	if err != nil {
		t.Fatal(err)
	}
	obj.(*raw.DictObj).Set(raw.NameObj{Val: "PageMode"}, raw.NameLiteral("UseOutlines"))
	if !res.Objects.IsDirty(catRef) {
		t.Fatal("mutation did not mark the catalog dirty")
	}

	var updated bytes.Buffer
	err = New(Config{}, nil).Incremental(&updated, bytes.NewReader(base.Bytes()),
		res.StartXRef, res.Objects, res.Trailer)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Len() <= base.Len() || !bytes.HasPrefix(updated.Bytes(), base.Bytes()) {
		t.Fatal("incremental output must extend the original bytes")
	}

	reres, err := parser.Parse(bytes.NewReader(updated.Bytes()), parser.Options{Strict: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reres.Revisions != 2 {
		t.Fatalf("revisions = %d", reres.Revisions)
	}
	cat, err := reres.Objects.Get(catRef)
	if err != nil {
		t.Fatal(err)
	}
	mode, _ := cat.(*raw.DictObj).Get(raw.NameObj{Val: "PageMode"})
	if !raw.Equal(mode, raw.NameLiteral("UseOutlines")) {
		t.Fatalf("updated catalog not picked up: %#v", mode)
	}
	// Untouched objects resolve through the previous revision.
	if _, err := reres.Objects.Get(raw.ObjectRef{Num: 2, Gen: 0}); err != nil {
		t.Fatal(err)
	}
}

func TestDeterministicOutput(t *testing.T) {
	write := func() []byte {
		objects, trailer, _ := buildRepo(t)
		var out bytes.Buffer
		if err := New(Config{Deterministic: true}, nil).Rewrite(&out, objects, trailer); err != nil {
			t.Fatal(err)
		}
		return out.Bytes()
	}
	if !bytes.Equal(write(), write()) {
		t.Fatal("deterministic rewrites differ")
	}
}

func TestIncrementalPreservesFirstID(t *testing.T) {
	objects, trailer, catRef := buildRepo(t)
	var base bytes.Buffer
	if err := New(Config{}, nil).Rewrite(&base, objects, trailer); err != nil {
		t.Fatal(err)
	}
	res, err := parser.Parse(bytes.NewReader(base.Bytes()), parser.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	firstID := func(trailer *raw.DictObj) []byte {
		idObj, ok := trailer.Get(raw.NameObj{Val: "ID"})
		if !ok {
			t.Fatal("ID missing")
		}
		v, _ := idObj.(raw.Array).Get(0)
		return v.(raw.String).Value()
	}
	origFirst := firstID(res.Trailer)

	obj, _ := res.Objects.Get(catRef)
	obj.(*raw.DictObj).Set(raw.NameObj{Val: "Lang"}, raw.Str([]byte("en")))
	var updated bytes.Buffer
	err = New(Config{}, nil).Incremental(&updated, bytes.NewReader(base.Bytes()),
		res.StartXRef, res.Objects, res.Trailer)
	if err != nil {
		t.Fatal(err)
	}
	reres, err := parser.Parse(bytes.NewReader(updated.Bytes()), parser.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstID(reres.Trailer), origFirst) {
		t.Fatal("first ID element must survive incremental updates")
	}
}
