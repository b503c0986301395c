package raw

// Concrete implementations for raw objects.

// Name object
type NameObj struct{ Val string }

func (n NameObj) Type() string     { return "name" }
func (n NameObj) IsIndirect() bool { return false }
func (n NameObj) Value() string    { return n.Val }

// Number object
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
}

func (n NumberObj) Type() string     { return "number" }
func (n NumberObj) IsIndirect() bool { return false }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}
func (n NumberObj) IsInteger() bool { return n.IsInt }

// Boolean object
type BoolObj struct{ V bool }

func (b BoolObj) Type() string     { return "boolean" }
func (b BoolObj) IsIndirect() bool { return false }
func (b BoolObj) Value() bool      { return b.V }

// Null object
type NullObj struct{}

func (n NullObj) Type() string     { return "null" }
func (n NullObj) IsIndirect() bool { return false }

// String object
type StringObj struct {
	Bytes []byte
	Hex   bool
}

func (s StringObj) Type() string     { return "string" }
func (s StringObj) IsIndirect() bool { return false }
func (s StringObj) Value() []byte    { return s.Bytes }
func (s StringObj) IsHex() bool      { return s.Hex }

// Array object. Mutations notify the bound change hook so that a
// repository can mark the enclosing indirect object dirty.
type ArrayObj struct {
	Items    []Object
	onChange func()
}

func (a *ArrayObj) Type() string     { return "array" }
func (a *ArrayObj) IsIndirect() bool { return false }
func (a *ArrayObj) Get(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Len() int { return len(a.Items) }
func (a *ArrayObj) Append(o Object) {
	a.Items = append(a.Items, o)
	bindChange(o, a.onChange)
	a.notify()
}
func (a *ArrayObj) Set(i int, o Object) {
	if i < 0 || i >= len(a.Items) {
		return
	}
	a.Items[i] = o
	bindChange(o, a.onChange)
	a.notify()
}
func (a *ArrayObj) notify() {
	if a.onChange != nil {
		a.onChange()
	}
}

// Dictionary object
type DictObj struct {
	KV       map[string]Object
	onChange func()
}

func (d *DictObj) Type() string                { return "dict" }
func (d *DictObj) IsIndirect() bool            { return false }
func (d *DictObj) Get(key Name) (Object, bool) { o, ok := d.KV[key.Value()]; return o, ok }
func (d *DictObj) Set(key Name, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key.Value()] = value
	bindChange(value, d.onChange)
	d.notify()
}
func (d *DictObj) Delete(key Name) {
	if _, ok := d.KV[key.Value()]; ok {
		delete(d.KV, key.Value())
		d.notify()
	}
}
func (d *DictObj) Keys() []Name {
	keys := make([]Name, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, NameObj{Val: k})
	}
	return keys
}
func (d *DictObj) Len() int { return len(d.KV) }
func (d *DictObj) notify() {
	if d.onChange != nil {
		d.onChange()
	}
}

// Stream object
type StreamObj struct {
	Dict *DictObj
	Data []byte
}

func (s *StreamObj) Type() string           { return "stream" }
func (s *StreamObj) IsIndirect() bool       { return false }
func (s *StreamObj) Dictionary() Dictionary { return s.Dict }
func (s *StreamObj) RawData() []byte        { return s.Data }
func (s *StreamObj) Length() int64          { return int64(len(s.Data)) }

// Reference object
type RefObj struct{ R ObjectRef }

func (r RefObj) Type() string     { return "ref" }
func (r RefObj) IsIndirect() bool { return true }
func (r RefObj) Ref() ObjectRef   { return r.R }

// RawDataObj holds pre-serialized bytes.
type RawDataObj struct{ Raw []byte }

func (r RawDataObj) Type() string     { return "rawdata" }
func (r RawDataObj) IsIndirect() bool { return false }
func (r RawDataObj) Bytes() []byte    { return r.Raw }

// Helpers
func NameLiteral(v string) NameObj    { return NameObj{Val: v} }
func NumberInt(i int64) NumberObj     { return NumberObj{I: i, IsInt: true} }
func NumberFloat(f float64) NumberObj { return NumberObj{F: f, IsInt: false} }
func Bool(v bool) BoolObj             { return BoolObj{V: v} }
func Str(bytes []byte) StringObj      { return StringObj{Bytes: bytes} }
func NewArray(items ...Object) *ArrayObj {
	return &ArrayObj{Items: items}
}
func Dict() *DictObj { return &DictObj{KV: make(map[string]Object)} }
func NewStream(dict *DictObj, data []byte) *StreamObj {
	if dict == nil {
		dict = Dict()
	}
	dict.Set(NameLiteral("Length"), NumberInt(int64(len(data))))
	return &StreamObj{Dict: dict, Data: data}
}
func Ref(num, gen int) RefObj { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }

// Bind installs fn as the change hook of obj and every container nested
// inside it. A repository binds the hook of a top-level object so that
// mutating a nested array or dictionary marks the indirect object dirty.
func Bind(obj Object, fn func()) {
	bindChange(obj, fn)
}

func bindChange(obj Object, fn func()) {
	switch v := obj.(type) {
	case *DictObj:
		v.onChange = fn
		for _, item := range v.KV {
			bindChange(item, fn)
		}
	case *ArrayObj:
		v.onChange = fn
		for _, item := range v.Items {
			bindChange(item, fn)
		}
	case Stream:
		if d, ok := v.Dictionary().(*DictObj); ok && d != nil {
			bindChange(d, fn)
		}
	}
}

// Equal reports deep semantic equality of two objects. Integer and real
// numbers compare by numeric value; dictionaries compare by key set.
func Equal(a, b Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case NullObj:
		_, ok := b.(NullObj)
		return ok
	case BoolObj:
		bv, ok := b.(BoolObj)
		return ok && av.V == bv.V
	case NumberObj:
		bv, ok := b.(NumberObj)
		return ok && av.Float() == bv.Float()
	case NameObj:
		bv, ok := b.(NameObj)
		return ok && av.Val == bv.Val
	case StringObj:
		bv, ok := b.(StringObj)
		return ok && string(av.Bytes) == string(bv.Bytes)
	case RefObj:
		bv, ok := b.(RefObj)
		return ok && av.R == bv.R
	case RawDataObj:
		bv, ok := b.(RawDataObj)
		return ok && string(av.Raw) == string(bv.Raw)
	case *ArrayObj:
		bv, ok := b.(*ArrayObj)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case *DictObj:
		bv, ok := b.(*DictObj)
		if !ok || len(av.KV) != len(bv.KV) {
			return false
		}
		for k, item := range av.KV {
			other, ok := bv.KV[k]
			if !ok || !Equal(item, other) {
				return false
			}
		}
		return true
	case Stream:
		bv, ok := b.(Stream)
		if !ok || string(av.RawData()) != string(bv.RawData()) {
			return false
		}
		return Equal(av.Dictionary(), bv.Dictionary())
	}
	return false
}

// WalkRefs calls fn for every indirect reference reachable inside obj
// without resolving them. Used by garbage collection and writers.
func WalkRefs(obj Object, fn func(ObjectRef)) {
	switch v := obj.(type) {
	case RefObj:
		fn(v.R)
	case *ArrayObj:
		for _, item := range v.Items {
			WalkRefs(item, fn)
		}
	case *DictObj:
		for _, item := range v.KV {
			WalkRefs(item, fn)
		}
	case Stream:
		if d, ok := v.Dictionary().(*DictObj); ok && d != nil {
			WalkRefs(d, fn)
		}
	}
}
