package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
// The zero value (0,0) is not a valid indirect reference.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// IsIndirect reports whether the reference addresses a real object.
func (r ObjectRef) IsIndirect() bool { return r != ObjectRef{} }

// Less orders references by number, then generation.
func (r ObjectRef) Less(other ObjectRef) bool {
	if r.Num != other.Num {
		return r.Num < other.Num
	}
	return r.Gen < other.Gen
}

// MaxGeneration is the largest valid generation number. A freed object
// number whose generation would exceed it is retired instead of reused.
const MaxGeneration = 65535

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Delete(key Name)
	Keys() []Name
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Set(index int, obj Object)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (undecoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a PDF boolean.
type Boolean interface {
	Object
	Value() bool
}

// Null represents the PDF null object.
type Null interface{ Object }

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// RawData represents pre-serialized bytes emitted verbatim by a writer.
type RawData interface {
	Object
	Bytes() []byte
}
