package raw

import (
	"bytes"
	"testing"

	"pdfcore/recovery"
	"pdfcore/scanner"
)

type fixStrategy struct{}

func (fixStrategy) OnError(error, recovery.Location) recovery.Action { return recovery.ActionFix }

func parseOne(t *testing.T, src string) Object {
	t.Helper()
	sc := scanner.New(bytes.NewReader([]byte(src)), scanner.DefaultConfig())
	obj, err := ParseValue(NewTokenReader(sc), nil, 0, 0)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return obj
}

func TestParseValueScalars(t *testing.T) {
	cases := []struct {
		src  string
		want Object
	}{
		{"null", NullObj{}},
		{"true", BoolObj{V: true}},
		{"false", BoolObj{V: false}},
		{"42", NumberInt(42)},
		{"-17", NumberInt(-17)},
		{"3.5", NumberFloat(3.5)},
		{"/Name", NameObj{Val: "Name"}},
		{"/A#20B", NameObj{Val: "A B"}},
		{"(hello)", StringObj{Bytes: []byte("hello")}},
		{"<48656C6C6F>", StringObj{Bytes: []byte("Hello"), Hex: true}},
		{"12 0 R", Ref(12, 0)},
	}
	for _, tc := range cases {
		got := parseOne(t, tc.src)
		if !Equal(got, tc.want) {
			t.Errorf("parse %q = %#v, want %#v", tc.src, got, tc.want)
		}
	}
}

func TestParseValueContainers(t *testing.T) {
	obj := parseOne(t, "<< /Kids [1 0 R 2 0 R] /Count 2 /Name (x) >>")
	d, ok := obj.(*DictObj)
	if !ok {
		t.Fatalf("want dictionary, got %T", obj)
	}
	if d.Len() != 3 {
		t.Fatalf("want 3 keys, got %d", d.Len())
	}
	kids, _ := d.Get(NameObj{Val: "Kids"})
	arr, ok := kids.(*ArrayObj)
	if !ok || arr.Len() != 2 {
		t.Fatalf("Kids not a 2-array: %#v", kids)
	}
	if !Equal(arr.Items[0], Ref(1, 0)) {
		t.Errorf("Kids[0] = %#v", arr.Items[0])
	}
}

func TestParseValueNestedArray(t *testing.T) {
	obj := parseOne(t, "[[1 2] [3] <</A [4]>>]")
	arr, ok := obj.(*ArrayObj)
	if !ok || arr.Len() != 3 {
		t.Fatalf("bad outer array: %#v", obj)
	}
}

func TestEqualNumbers(t *testing.T) {
	if !Equal(NumberInt(2), NumberFloat(2.0)) {
		t.Error("integer 2 and real 2.0 should compare equal")
	}
	if Equal(NumberInt(2), NumberInt(3)) {
		t.Error("2 and 3 compared equal")
	}
}

func TestBindPropagatesThroughContainers(t *testing.T) {
	d := Dict()
	inner := NewArray(NumberInt(1))
	d.Set(NameObj{Val: "A"}, inner)

	changed := 0
	Bind(d, func() { changed++ })

	inner.Append(NumberInt(2))
	if changed == 0 {
		t.Fatal("mutating a nested array did not fire the change hook")
	}

	// Values set after binding are hooked too.
	changed = 0
	late := Dict()
	d.Set(NameObj{Val: "B"}, late)
	changed = 0
	late.Set(NameObj{Val: "X"}, NullObj{})
	if changed == 0 {
		t.Fatal("mutating a late-added dictionary did not fire the change hook")
	}
}

func TestWalkRefs(t *testing.T) {
	d := Dict()
	d.Set(NameObj{Val: "A"}, Ref(1, 0))
	d.Set(NameObj{Val: "B"}, NewArray(Ref(2, 0), NewArray(Ref(3, 1))))
	stm := NewStream(Dict(), nil)
	stm.Dict.Set(NameObj{Val: "P"}, Ref(4, 0))
	d.Set(NameObj{Val: "C"}, stm)

	seen := map[ObjectRef]bool{}
	WalkRefs(d, func(r ObjectRef) { seen[r] = true })
	for _, want := range []ObjectRef{{1, 0}, {2, 0}, {3, 1}, {4, 0}} {
		if !seen[want] {
			t.Errorf("reference %v not visited", want)
		}
	}
	if len(seen) != 4 {
		t.Errorf("visited %d references, want 4", len(seen))
	}
}

func TestDictMissingCloseRecovered(t *testing.T) {
	sc := scanner.New(bytes.NewReader([]byte("<< /A 1 endobj")), scanner.DefaultConfig())
	obj, err := ParseValue(NewTokenReader(sc), fixStrategy{}, 7, 0)
	if err != nil {
		t.Fatalf("lenient parse failed: %v", err)
	}
	d, ok := obj.(*DictObj)
	if !ok || d.Len() != 1 {
		t.Fatalf("recovered dictionary wrong: %#v", obj)
	}
}

func TestNewStreamSetsLength(t *testing.T) {
	stm := NewStream(nil, []byte("abcde"))
	v, ok := stm.Dict.Get(NameObj{Val: "Length"})
	if !ok || !Equal(v, NumberInt(5)) {
		t.Fatalf("Length = %#v", v)
	}
}

func TestObjectRefOrdering(t *testing.T) {
	a, b := ObjectRef{Num: 1, Gen: 2}, ObjectRef{Num: 2, Gen: 0}
	if !a.Less(b) || b.Less(a) {
		t.Error("number ordering broken")
	}
	c := ObjectRef{Num: 1, Gen: 3}
	if !a.Less(c) {
		t.Error("generation ordering broken")
	}
	if (ObjectRef{}).IsIndirect() {
		t.Error("zero handle must not be indirect")
	}
	if got := a.String(); got != "1 2 R" {
		t.Errorf("String() = %q", got)
	}
}
