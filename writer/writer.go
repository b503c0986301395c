package writer

import (
	"crypto/md5"
	"io"

	"github.com/google/uuid"

	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/repo"
	"pdfcore/security"
)

// Config steers serialization.
type Config struct {
	// Security encrypts strings and streams on the way out. Nil or a
	// noop handler writes everything in the clear.
	Security security.Handler
	// EncryptRef is the handle of the encryption dictionary, which is
	// always written unencrypted.
	EncryptRef raw.ObjectRef
	// UseXRefStream emits a cross-reference stream instead of the
	// classic table, matching documents whose newest revision did.
	UseXRefStream bool
	// Deterministic derives the file identifier from a fixed namespace
	// instead of randomness, for reproducible output.
	Deterministic bool
	// Version is the header version, e.g. "1.7".
	Version string
}

type Writer struct {
	cfg Config
	log observability.Logger
}

func New(cfg Config, log observability.Logger) *Writer {
	if log == nil {
		log = observability.NopLogger{}
	}
	if cfg.Version == "" {
		cfg.Version = "1.7"
	}
	return &Writer{cfg: cfg, log: log}
}

// Rewrite serializes the whole repository as a fresh single-revision
// document: header, every object in number order, one cross-reference
// section, trailer, and the end-of-file markers.
func (w *Writer) Rewrite(out io.Writer, objects *repo.Repository, trailer *raw.DictObj) error {
	c := &countingWriter{w: out}
	c.printf("%%PDF-%s\n", w.cfg.Version)
	// Binary marker comment keeps transfer tools honest.
	c.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	builder := NewTableBuilder()
	w.addFreeChain(builder, objects)

	var werr error
	objects.Iterate(func(ref raw.ObjectRef, _ raw.Object) bool {
		obj, err := objects.Get(ref)
		if err != nil {
			werr = err
			return false
		}
		offset, err := w.writeIndirect(c, ref, obj)
		if err != nil {
			werr = err
			return false
		}
		builder.AddInUse(ref.Num, ref.Gen, offset)
		objects.NotifyObjectWritten(ref, offset)
		return true
	})
	if werr != nil {
		return werr
	}

	finalTrailer := cloneTrailer(trailer)
	finalTrailer.Delete(raw.NameObj{Val: "Prev"})
	finalTrailer.Delete(raw.NameObj{Val: "XRefStm"})
	w.stampID(finalTrailer, true)

	size := maxOf(objects.MaxNumber(), builder.MaxNum()) + 1
	if err := w.writeSection(c, builder, finalTrailer, size); err != nil {
		return err
	}
	objects.NotifyFinish()
	w.log.Debug("document rewritten", observability.Int64(observability.MetricWriteTime, c.offset()))
	return c.err
}

// Incremental copies the original bytes and appends a revision holding
// only the modified objects, linked to the previous chain head.
func (w *Writer) Incremental(out io.Writer, original io.Reader, prevStart int64, objects *repo.Repository, trailer *raw.DictObj) error {
	c := &countingWriter{w: out}
	if _, err := io.Copy(c, original); err != nil {
		return err
	}
	c.str("\n")

	builder := NewTableBuilder()
	w.addFreeChain(builder, objects)

	var werr error
	objects.Iterate(func(ref raw.ObjectRef, _ raw.Object) bool {
		if !objects.IsDirty(ref) {
			return true
		}
		obj, err := objects.Get(ref)
		if err != nil {
			werr = err
			return false
		}
		offset, err := w.writeIndirect(c, ref, obj)
		if err != nil {
			werr = err
			return false
		}
		builder.AddInUse(ref.Num, ref.Gen, offset)
		objects.NotifyObjectWritten(ref, offset)
		return true
	})
	if werr != nil {
		return werr
	}

	finalTrailer := cloneTrailer(trailer)
	finalTrailer.Delete(raw.NameObj{Val: "XRefStm"})
	finalTrailer.Set(raw.NameObj{Val: "Prev"}, raw.NumberInt(prevStart))
	w.stampID(finalTrailer, false)

	size := maxOf(objects.MaxNumber(), builder.MaxNum()) + 1
	if err := w.writeSection(c, builder, finalTrailer, size); err != nil {
		return err
	}
	objects.NotifyFinish()
	return c.err
}

// writeSection emits the cross-reference section in the configured
// flavor plus the startxref and EOF markers.
func (w *Writer) writeSection(c *countingWriter, builder *TableBuilder, trailer *raw.DictObj, size int) error {
	var start int64
	if w.cfg.UseXRefStream {
		trailer.Set(raw.NameObj{Val: "Size"}, raw.NumberInt(int64(size+1)))
		ref := raw.ObjectRef{Num: size, Gen: 0}
		start = c.offset()
		// The stream's own record carries its header offset.
		builder.AddInUse(ref.Num, 0, start)
		stm, err := builder.BuildStream(trailer, size+1)
		if err != nil {
			return err
		}
		c.printf("%d 0 obj\n", ref.Num)
		serializeValue(c, stm)
		c.str("\nendobj\n")
	} else {
		trailer.Set(raw.NameObj{Val: "Size"}, raw.NumberInt(int64(size)))
		start = builder.writeClassic(c, trailer)
	}
	c.printf("startxref\n%d\n%%%%EOF\n", start)
	return c.err
}

// writeIndirect emits one "N G obj ... endobj" body and returns the
// offset of its header.
func (w *Writer) writeIndirect(c *countingWriter, ref raw.ObjectRef, obj raw.Object) (int64, error) {
	toWrite := obj
	if ref != w.cfg.EncryptRef {
		enc, err := encryptForWrite(obj, ref, w.cfg.Security)
		if err != nil {
			return 0, err
		}
		toWrite = enc
	}
	offset := c.offset()
	c.printf("%d %d obj\n", ref.Num, ref.Gen)
	serializeValue(c, toWrite)
	c.str("\nendobj\n")
	return offset, c.err
}

// addFreeChain threads the free handles into the linked list the table
// format requires: the head at object 0 points to the lowest free
// number, each free slot points to the next, the last back to zero.
func (w *Writer) addFreeChain(builder *TableBuilder, objects *repo.Repository) {
	frees := objects.FreeList()
	next := 0
	if len(frees) > 0 {
		next = frees[0].Num
	}
	builder.AddFree(0, raw.MaxGeneration, next)
	for i, f := range frees {
		next := 0
		if i+1 < len(frees) {
			next = frees[i+1].Num
		}
		builder.AddFree(f.Num, f.Gen, next)
	}
}

// stampID refreshes the trailer /ID pair. The first element identifies
// the document and survives updates; the second changes per revision.
func (w *Writer) stampID(trailer *raw.DictObj, fresh bool) {
	second := w.newID()
	first := second
	if idObj, ok := trailer.Get(raw.NameObj{Val: "ID"}); ok && !fresh {
		if arr, ok := idObj.(raw.Array); ok && arr.Len() > 0 {
			if s, ok := mustGet(arr, 0).(raw.String); ok {
				first = raw.StringObj{Bytes: s.Value(), Hex: true}
			}
		}
	}
	trailer.Set(raw.NameObj{Val: "ID"}, raw.NewArray(first, second))
}

func (w *Writer) newID() raw.StringObj {
	var u uuid.UUID
	if w.cfg.Deterministic {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte("pdfcore"))
	} else {
		u = uuid.New()
	}
	sum := md5.Sum(u[:])
	return raw.StringObj{Bytes: sum[:], Hex: true}
}

func cloneTrailer(trailer *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if trailer == nil {
		return out
	}
	for k, v := range trailer.KV {
		out.KV[k] = v
	}
	return out
}

func mustGet(arr raw.Array, i int) raw.Object {
	v, _ := arr.Get(i)
	return v
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
