// Package parser materializes the object set of a document: it reads
// indirect objects at the offsets the cross-reference table names,
// unpacks object streams, and drives decryption.
package parser

import (
	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/pdferr"
	"pdfcore/recovery"
	"pdfcore/repo"
	"pdfcore/scanner"
	"pdfcore/security"
)

// Source bundles everything a deferred load needs: the shared scanner
// over the document bytes, the decode pipeline, the security handler,
// and the repository used to resolve indirect /Length values.
type Source struct {
	sc       *scanner.Scanner
	pipeline *filters.Pipeline
	rec      recovery.Strategy
	log      observability.Logger
	sec      security.Handler
	repo     *repo.Repository

	// encryptNum is the object number of the encryption dictionary.
	// Its strings are stored in the clear and must never be decrypted.
	encryptNum int
}

func NewSource(sc *scanner.Scanner, pipeline *filters.Pipeline, rec recovery.Strategy, log observability.Logger) *Source {
	if rec == nil {
		rec = recovery.NewStrictStrategy()
	}
	if log == nil {
		log = observability.NopLogger{}
	}
	if pipeline == nil {
		pipeline = filters.Default(filters.Limits{})
	}
	return &Source{sc: sc, pipeline: pipeline, rec: rec, log: log, sec: security.NoopHandler()}
}

func (s *Source) SetRepository(r *repo.Repository) { s.repo = r }
func (s *Source) SetSecurity(h security.Handler)   { s.sec = h }
func (s *Source) SetEncryptObjectNumber(num int)   { s.encryptNum = num }
func (s *Source) Pipeline() *filters.Pipeline      { return s.pipeline }

// loadAt parses the indirect object at offset. The header is checked
// against the expected handle; a mismatch is logged and the table's
// handle wins, since the table is what located the object.
func (s *Source) loadAt(ref raw.ObjectRef, offset int64) (raw.Object, error) {
	if err := s.sc.Seek(offset); err != nil {
		return nil, pdferr.New(pdferr.KindRecoverableOffset, "object offset out of range").
			ForObject(ref.Num, ref.Gen).At(offset).Wrap(err)
	}
	tr := raw.NewTokenReader(s.sc)

	numTok, err := tr.Next()
	if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
		return nil, pdferr.New(pdferr.KindBrokenObject, "no object header at offset").
			ForObject(ref.Num, ref.Gen).At(offset)
	}
	genTok, err := tr.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return nil, pdferr.New(pdferr.KindBrokenObject, "object header missing generation").
			ForObject(ref.Num, ref.Gen).At(offset)
	}
	kwTok, err := tr.Next()
	if err != nil || kwTok.Type != scanner.TokenKeyword || kwTok.Str != "obj" {
		return nil, pdferr.New(pdferr.KindBrokenObject, "object header missing obj keyword").
			ForObject(ref.Num, ref.Gen).At(offset)
	}
	if int(numTok.Int) != ref.Num || int(genTok.Int) != ref.Gen {
		s.log.Warn("object header disagrees with cross-reference entry",
			observability.Int("expected", ref.Num),
			observability.Int("found", int(numTok.Int)),
			observability.Int64("offset", offset))
	}

	value, err := raw.ParseValue(tr, s.rec, ref.Num, ref.Gen)
	if err != nil {
		return nil, pdferr.New(pdferr.KindBrokenObject, "malformed object body").
			ForObject(ref.Num, ref.Gen).At(offset).Wrap(err)
	}

	if dict, ok := value.(*raw.DictObj); ok {
		obj, err := s.maybeReadStream(tr, dict, ref)
		if err != nil {
			return nil, err
		}
		value = obj
	}
	if err := s.decrypt(value, ref); err != nil {
		return nil, err
	}
	return value, nil
}

// maybeReadStream checks whether a stream payload follows the
// dictionary. The payload is never consumed here: the keyword offset is
// recorded and the bytes stay on the source until first requested.
func (s *Source) maybeReadStream(tr *raw.TokenReader, dict *raw.DictObj, ref raw.ObjectRef) (raw.Object, error) {
	if tr.Buffered() {
		// A pushed-back token sits between the dictionary and the
		// source position, so no stream keyword can follow directly.
		return dict, nil
	}
	if err := s.sc.SkipWhitespace(); err != nil {
		return dict, nil
	}
	kwPos := s.sc.Position()
	kw, err := s.sc.ReadRaw(int64(len("stream")))
	if err != nil || string(kw) != "stream" {
		s.sc.Seek(kwPos)
		return dict, nil
	}
	if b, ok := s.sc.Peek(); ok && !scanner.IsWhitespace(b) {
		s.sc.Seek(kwPos)
		return dict, nil
	}
	if err := s.sc.Seek(kwPos); err != nil {
		return nil, err
	}
	return &lazyStream{src: s, ref: ref, dict: dict, kwPos: kwPos}, nil
}

// readStreamPayload reads the payload whose stream keyword sits at
// kwPos. The declared /Length is authoritative; an indirect length is
// resolved through the repository with the scanner position saved
// around the excursion. A source shorter than the declared length is a
// hard error under strict policy; lenient policy falls back to
// searching for the endstream keyword.
func (s *Source) readStreamPayload(dict *raw.DictObj, ref raw.ObjectRef, kwPos int64) ([]byte, error) {
	length, haveLen := s.resolveLength(dict)
	if err := s.sc.Seek(kwPos); err != nil {
		return nil, pdferr.New(pdferr.KindRecoverableOffset, "stream payload offset out of range").
			ForObject(ref.Num, ref.Gen).At(kwPos).Wrap(err)
	}
	if haveLen {
		s.sc.SetNextStreamLength(length)
	} else {
		s.sc.SetNextStreamLength(-1)
	}
	tok, err := s.sc.Next()
	if err == nil && tok.Type == scanner.TokenStream {
		return s.decryptStreamPayload(dict, tok.Bytes, ref)
	}
	s.sc.SetNextStreamLength(-1)
	ferr := pdferr.New(pdferr.KindBrokenObject, "stream shorter than declared length").
		ForObject(ref.Num, ref.Gen).At(kwPos)
	if err != nil {
		ferr = ferr.Wrap(err)
	}
	if s.rec.OnError(ferr, recovery.Location{
		ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser:stream",
	}) == recovery.ActionFail {
		return nil, ferr
	}
	// Retry without the length hint so the scanner searches for the
	// closing keyword instead.
	if serr := s.sc.Seek(kwPos); serr != nil {
		return nil, ferr
	}
	tok, err = s.sc.Next()
	if err != nil || tok.Type != scanner.TokenStream {
		return nil, ferr
	}
	return s.decryptStreamPayload(dict, tok.Bytes, ref)
}

// decryptStreamPayload applies the security handler to raw stream
// bytes, honoring the metadata class and an explicit /Crypt Identity
// filter, which marks a payload stored in the clear.
func (s *Source) decryptStreamPayload(dict *raw.DictObj, data []byte, ref raw.ObjectRef) ([]byte, error) {
	if s.sec == nil || !s.sec.IsEncrypted() || ref.Num == s.encryptNum {
		return data, nil
	}
	if usesCryptFilter(dict) {
		return data, nil
	}
	class := security.DataClassStream
	if isMetadataStream(dict) {
		class = security.DataClassMetadataStream
	}
	return s.sec.Decrypt(ref.Num, ref.Gen, data, class)
}

func (s *Source) resolveLength(dict *raw.DictObj) (int64, bool) {
	v, ok := dict.Get(raw.NameObj{Val: "Length"})
	if !ok {
		return 0, false
	}
	if n, isNum := v.(raw.Number); isNum && n.IsInteger() {
		return n.Int(), true
	}
	lref, isRef := v.(raw.Reference)
	if !isRef || s.repo == nil {
		return 0, false
	}
	saved := s.sc.Position()
	defer s.sc.Seek(saved)
	obj, err := s.repo.Get(lref.Ref())
	if err != nil {
		return 0, false
	}
	if n, isNum := obj.(raw.Number); isNum && n.IsInteger() {
		return n.Int(), true
	}
	return 0, false
}

// decrypt walks the object and decrypts strings and stream payloads in
// place. The encryption dictionary itself is exempt.
func (s *Source) decrypt(obj raw.Object, ref raw.ObjectRef) error {
	if s.sec == nil || !s.sec.IsEncrypted() || ref.Num == s.encryptNum {
		return nil
	}
	return s.decryptValue(obj, ref)
}

func (s *Source) decryptValue(obj raw.Object, ref raw.ObjectRef) error {
	switch v := obj.(type) {
	case *raw.StreamObj:
		plain, err := s.decryptStreamPayload(v.Dict, v.Data, ref)
		if err != nil {
			return err
		}
		v.Data = plain
		return s.decryptValue(v.Dict, ref)
	case *lazyStream:
		// The payload is decrypted when it is read; only the
		// dictionary's strings need the pass here.
		return s.decryptValue(v.dict, ref)
	case *raw.DictObj:
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			if str, ok := item.(raw.String); ok {
				plain, err := s.sec.Decrypt(ref.Num, ref.Gen, str.Value(), security.DataClassString)
				if err != nil {
					return err
				}
				v.Set(key, raw.StringObj{Bytes: plain, Hex: str.IsHex()})
				continue
			}
			if err := s.decryptValue(item, ref); err != nil {
				return err
			}
		}
	case *raw.ArrayObj:
		for i, item := range v.Items {
			if str, ok := item.(raw.String); ok {
				plain, err := s.sec.Decrypt(ref.Num, ref.Gen, str.Value(), security.DataClassString)
				if err != nil {
					return err
				}
				v.Items[i] = raw.StringObj{Bytes: plain, Hex: str.IsHex()}
				continue
			}
			if err := s.decryptValue(item, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func isMetadataStream(dict *raw.DictObj) bool {
	if t, ok := dict.Get(raw.NameObj{Val: "Type"}); ok {
		if n, ok := t.(raw.Name); ok {
			return n.Value() == "Metadata"
		}
	}
	return false
}

func usesCryptFilter(dict *raw.DictObj) bool {
	names, _ := filters.ExtractFilters(dict)
	for _, n := range names {
		if n == "Crypt" {
			return true
		}
	}
	return false
}

// lazyStream is a stream whose payload stays on the source until first
// requested. The dictionary is fully materialized when the object is
// parsed; reading the bytes is a second deferred step keyed on the
// recorded stream keyword offset.
type lazyStream struct {
	src    *Source
	ref    raw.ObjectRef
	dict   *raw.DictObj
	kwPos  int64
	loaded bool
	data   []byte
	err    error
}

func (l *lazyStream) Type() string               { return "stream" }
func (l *lazyStream) IsIndirect() bool           { return false }
func (l *lazyStream) Dictionary() raw.Dictionary { return l.dict }

// RawData loads the payload on first use. Callers that need the load
// error ask Payload instead.
func (l *lazyStream) RawData() []byte {
	data, _ := l.Payload()
	return data
}

func (l *lazyStream) Length() int64 {
	if l.loaded {
		return int64(len(l.data))
	}
	if n, ok := l.src.resolveLength(l.dict); ok {
		return n
	}
	data, _ := l.Payload()
	return int64(len(data))
}

// Payload reads, decrypts, and caches the stream bytes. The outcome is
// latched: a failed read replays its error without touching the source
// again.
func (l *lazyStream) Payload() ([]byte, error) {
	if l.loaded {
		return l.data, l.err
	}
	l.loaded = true
	l.data, l.err = l.src.readStreamPayload(l.dict, l.ref, l.kwPos)
	return l.data, l.err
}

// lazyObject defers parsing of an uncompressed indirect object until
// first access.
type lazyObject struct {
	src    *Source
	ref    raw.ObjectRef
	offset int64
	value  raw.Object
	dirty  bool
}

// NewLazyObject returns a placeholder that loads the object at offset
// when resolved.
func NewLazyObject(src *Source, ref raw.ObjectRef, offset int64) repo.LazyObject {
	return &lazyObject{src: src, ref: ref, offset: offset}
}

func (l *lazyObject) Type() string     { return "deferred" }
func (l *lazyObject) IsIndirect() bool { return true }

func (l *lazyObject) Resolve() (raw.Object, error) {
	if l.value != nil {
		return l.value, nil
	}
	obj, err := l.src.loadAt(l.ref, l.offset)
	if err != nil {
		return nil, err
	}
	raw.Bind(obj, func() { l.dirty = true })
	l.value = obj
	return obj, nil
}

func (l *lazyObject) Dirty() bool { return l.dirty }

func (l *lazyObject) Evict(force bool) bool {
	if l.value == nil {
		return false
	}
	if l.dirty && !force {
		return false
	}
	l.value = nil
	l.dirty = false
	return true
}

// compressedObject defers extraction from an object stream.
type compressedObject struct {
	cr        *ContainerResolver
	container int
	num       int
	value     raw.Object
	dirty     bool
}

// NewCompressedObject returns a placeholder for object num stored in
// the object stream with number container.
func NewCompressedObject(cr *ContainerResolver, container, num int) repo.LazyObject {
	return &compressedObject{cr: cr, container: container, num: num}
}

func (c *compressedObject) Type() string     { return "deferred" }
func (c *compressedObject) IsIndirect() bool { return true }

func (c *compressedObject) Resolve() (raw.Object, error) {
	if c.value != nil {
		return c.value, nil
	}
	obj, err := c.cr.Object(c.container, c.num)
	if err != nil {
		return nil, err
	}
	raw.Bind(obj, func() { c.dirty = true })
	c.value = obj
	return obj, nil
}

func (c *compressedObject) Dirty() bool { return c.dirty }

func (c *compressedObject) Evict(force bool) bool {
	if c.value == nil {
		return false
	}
	if c.dirty && !force {
		return false
	}
	c.value = nil
	c.dirty = false
	return true
}
