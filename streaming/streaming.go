// Package streaming serializes objects the moment they are handed over
// instead of buffering the whole repository, so a document can be
// produced while it is being built. It implements the repository's
// observer contract and emits the closing cross-reference section on
// Finish.
package streaming

import (
	"io"
	"strconv"

	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/pdferr"
	"pdfcore/writer"
)

// Writer emits objects immediately to a seekable sink. Every object is
// closed with endobj when written; when stream data follows after the
// fact, the endobj keyword is patched to the stream keyword in place,
// which works because both are the same length.
type Writer struct {
	out io.WriteSeeker
	pos int64
	log observability.Logger

	builder *writer.TableBuilder
	maxNum  int

	// patchAt is the sink offset of the endobj of the last object,
	// -1 when no object is open for patching.
	patchAt   int64
	lastRef   raw.ObjectRef
	inStream  bool
	streamPos int64
	err       error
}

const objClose = "\nendobj\n"

func New(out io.WriteSeeker, version string, log observability.Logger) (*Writer, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	if version == "" {
		version = "1.7"
	}
	w := &Writer{out: out, log: log, builder: writer.NewTableBuilder(), patchAt: -1}
	w.writeString("%PDF-" + version + "\n")
	w.write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})
	return w, w.err
}

// Position reports the bytes emitted so far.
func (w *Writer) Position() int64 { return w.pos }

// WriteObject serializes one indirect object immediately and records
// its offset. The object stays patchable until the next write.
func (w *Writer) WriteObject(ref raw.ObjectRef, obj raw.Object) error {
	if w.err != nil {
		return w.err
	}
	if w.inStream {
		return pdferr.New(pdferr.KindFormat, "object written while a stream append is open").
			ForObject(ref.Num, ref.Gen)
	}
	offset := w.pos
	w.writeString(strconv.Itoa(ref.Num) + " " + strconv.Itoa(ref.Gen) + " obj\n")
	n, err := writer.SerializeTo(w.out, obj)
	w.pos += n
	if err != nil {
		w.err = err
		return err
	}
	w.patchAt = w.pos
	w.lastRef = ref
	w.writeString(objClose)
	w.builder.AddInUse(ref.Num, ref.Gen, offset)
	if ref.Num > w.maxNum {
		w.maxNum = ref.Num
	}
	return w.err
}

// StreamAppendBegin reopens the last written object for stream data.
// Its closing keyword is overwritten in place: "\nendobj\n" becomes
// "\nstream\n" and the payload continues at the former end of the
// object.
func (w *Writer) StreamAppendBegin(ref raw.ObjectRef) {
	if w.err != nil {
		return
	}
	if w.patchAt < 0 || ref != w.lastRef {
		w.err = pdferr.New(pdferr.KindFormat, "stream append does not follow its object").
			ForObject(ref.Num, ref.Gen)
		return
	}
	if _, err := w.out.Seek(w.patchAt, io.SeekStart); err != nil {
		w.err = err
		return
	}
	if _, err := w.out.Write([]byte("\nstream\n")); err != nil {
		w.err = err
		return
	}
	if _, err := w.out.Seek(w.pos, io.SeekStart); err != nil {
		w.err = err
		return
	}
	w.inStream = true
	w.streamPos = w.pos
}

// AppendStreamData writes payload bytes between begin and end.
func (w *Writer) AppendStreamData(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if !w.inStream {
		return pdferr.New(pdferr.KindFormat, "stream data outside an append")
	}
	w.write(p)
	return w.err
}

// StreamAppendEnd closes the reopened object. Reports the payload
// length so the caller can fix up an indirect /Length object.
func (w *Writer) StreamAppendEnd(ref raw.ObjectRef) {
	if w.err != nil || !w.inStream {
		return
	}
	w.inStream = false
	w.patchAt = -1
	length := w.pos - w.streamPos
	w.writeString("\nendstream\nendobj\n")
	w.log.Debug("stream appended",
		observability.Int("object", ref.Num), observability.Int64("bytes", length))
}

// StreamLength reports the payload size of the currently open append.
func (w *Writer) StreamLength() int64 {
	if !w.inStream {
		return 0
	}
	return w.pos - w.streamPos
}

// ObjectWritten satisfies the observer contract for repositories that
// serialize through a buffered writer; offsets are recorded so Finish
// can fold them into the table.
func (w *Writer) ObjectWritten(ref raw.ObjectRef, offset int64) {
	w.builder.AddInUse(ref.Num, ref.Gen, offset)
	if ref.Num > w.maxNum {
		w.maxNum = ref.Num
	}
}

// Finish satisfies the observer contract; the sink is closed with
// Close, which needs the trailer.
func (w *Writer) Finish() {}

// Close emits the cross-reference table, the trailer, and the EOF
// markers. No objects may follow.
func (w *Writer) Close(trailer *raw.DictObj) error {
	if w.err != nil {
		return w.err
	}
	if w.inStream {
		return pdferr.New(pdferr.KindFormat, "finish with an open stream append")
	}
	w.patchAt = -1
	w.builder.AddFree(0, raw.MaxGeneration, 0)

	final := raw.Dict()
	if trailer != nil {
		for k, v := range trailer.KV {
			final.KV[k] = v
		}
	}
	final.Set(raw.NameObj{Val: "Size"}, raw.NumberInt(int64(w.maxNum+1)))

	start := w.pos
	n, err := w.builder.WriteClassicTo(w.out, final)
	w.pos += n
	if err != nil {
		w.err = err
		return err
	}
	w.writeString("startxref\n" + strconv.FormatInt(start, 10) + "\n%%EOF\n")
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.out.Write(p)
	w.pos += int64(n)
	w.err = err
}

func (w *Writer) writeString(s string) { w.write([]byte(s)) }
