// Package writer serializes a repository back into document bytes,
// either as a full rewrite or as an incremental update appended to the
// original revision chain.
package writer

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"pdfcore/ir/raw"
	"pdfcore/security"
)

// countingWriter tracks the absolute offset of everything written and
// latches the first error so call sites stay linear.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countingWriter) str(s string)                   { c.Write([]byte(s)) }
func (c *countingWriter) printf(format string, a ...any) { c.str(fmt.Sprintf(format, a...)) }
func (c *countingWriter) offset() int64                  { return c.n }

// SerializeTo writes the token form of obj to w and reports the bytes
// written.
func SerializeTo(w io.Writer, obj raw.Object) (int64, error) {
	c := &countingWriter{w: w}
	serializeValue(c, obj)
	return c.n, c.err
}

// serializeValue writes the token form of obj. Dictionaries emit keys
// in sorted order so output is reproducible.
func serializeValue(c *countingWriter, obj raw.Object) {
	switch v := obj.(type) {
	case nil:
		c.str("null")
	case raw.Boolean:
		if v.Value() {
			c.str("true")
		} else {
			c.str("false")
		}
	case raw.Number:
		if v.IsInteger() {
			c.str(strconv.FormatInt(v.Int(), 10))
		} else {
			c.str(strconv.FormatFloat(v.Float(), 'f', -1, 64))
		}
	case raw.Name:
		serializeName(c, v.Value())
	case raw.Reference:
		r := v.Ref()
		c.printf("%d %d R", r.Num, r.Gen)
	case raw.String:
		serializeString(c, v)
	case raw.RawData:
		c.Write(v.Bytes())
	case raw.Array:
		c.str("[")
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				c.str(" ")
			}
			item, _ := v.Get(i)
			serializeValue(c, item)
		}
		c.str("]")
	case raw.Stream:
		data := v.RawData()
		if deferred, ok := obj.(interface{ Payload() ([]byte, error) }); ok {
			d, err := deferred.Payload()
			if err != nil {
				c.err = err
				return
			}
			data = d
		}
		serializeDict(c, v.Dictionary())
		c.str("\nstream\n")
		c.Write(data)
		c.str("\nendstream")
	case raw.Dictionary:
		serializeDict(c, v)
	case raw.Null:
		c.str("null")
	default:
		c.err = fmt.Errorf("writer: cannot serialize %T", obj)
	}
}

func serializeDict(c *countingWriter, d raw.Dictionary) {
	keys := d.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Value())
	}
	sort.Strings(names)
	c.str("<<")
	for _, name := range names {
		c.str(" ")
		serializeName(c, name)
		c.str(" ")
		v, _ := d.Get(raw.NameObj{Val: name})
		serializeValue(c, v)
	}
	c.str(" >>")
}

func serializeName(c *countingWriter, name string) {
	c.str("/")
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b <= 0x20 || b >= 0x7F || b == '#' || isDelimiterByte(b) {
			c.printf("#%02X", b)
			continue
		}
		c.Write([]byte{b})
	}
}

func serializeString(c *countingWriter, s raw.String) {
	if s.IsHex() {
		c.str("<")
		for _, b := range s.Value() {
			c.printf("%02X", b)
		}
		c.str(">")
		return
	}
	c.str("(")
	for _, b := range s.Value() {
		switch b {
		case '(', ')', '\\':
			c.Write([]byte{'\\', b})
		case '\n':
			c.str("\\n")
		case '\r':
			c.str("\\r")
		case '\t':
			c.str("\\t")
		case '\b':
			c.str("\\b")
		case '\f':
			c.str("\\f")
		default:
			c.Write([]byte{b})
		}
	}
	c.str(")")
}

func isDelimiterByte(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// encryptForWrite returns a copy of obj with strings and stream
// payloads encrypted for the given handle. The source tree is never
// mutated. Objects exempt from encryption pass through unchanged.
func encryptForWrite(obj raw.Object, ref raw.ObjectRef, sec security.Handler) (raw.Object, error) {
	if sec == nil || !sec.IsEncrypted() {
		return obj, nil
	}
	switch v := obj.(type) {
	case raw.String:
		enc, err := sec.Encrypt(ref.Num, ref.Gen, v.Value(), security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: enc, Hex: v.IsHex()}, nil
	case *raw.ArrayObj:
		out := raw.NewArray()
		for _, item := range v.Items {
			enc, err := encryptForWrite(item, ref, sec)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, enc)
		}
		return out, nil
	case *raw.DictObj:
		out := raw.Dict()
		for k, item := range v.KV {
			enc, err := encryptForWrite(item, ref, sec)
			if err != nil {
				return nil, err
			}
			out.KV[k] = enc
		}
		return out, nil
	case raw.Stream:
		class := security.DataClassStream
		if t, ok := v.Dictionary().Get(raw.NameObj{Val: "Type"}); ok {
			if n, ok := t.(raw.Name); ok && n.Value() == "Metadata" && !sec.EncryptMetadata() {
				class = security.DataClassMetadataStream
			}
		}
		plain := v.RawData()
		if deferred, ok := obj.(interface{ Payload() ([]byte, error) }); ok {
			p, err := deferred.Payload()
			if err != nil {
				return nil, err
			}
			plain = p
		}
		data, err := sec.Encrypt(ref.Num, ref.Gen, plain, class)
		if err != nil {
			return nil, err
		}
		dictCopy, err := encryptForWrite(v.Dictionary(), ref, sec)
		if err != nil {
			return nil, err
		}
		d := dictCopy.(*raw.DictObj)
		d.Set(raw.NameObj{Val: "Length"}, raw.NumberInt(int64(len(data))))
		return &raw.StreamObj{Dict: d, Data: data}, nil
	}
	return obj, nil
}
