// Package document is the user-facing facade: load a document, work
// with its objects, save it back as a rewrite or an incremental update.
package document

import (
	"io"
	"strconv"
	"strings"

	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/parser"
	"pdfcore/pdferr"
	"pdfcore/repo"
	"pdfcore/security"
	"pdfcore/streaming"
	"pdfcore/writer"
)

type SaveMode int

const (
	// SaveRewrite serializes the whole document as one fresh revision.
	SaveRewrite SaveMode = iota
	// SaveIncremental appends modified objects after the original
	// bytes, preserving the existing revisions.
	SaveIncremental
)

// Document is a loaded or newly built document.
type Document struct {
	objects *repo.Repository
	trailer *raw.DictObj
	sec     security.Handler
	log     observability.Logger

	version string

	src            io.ReaderAt
	srcSize        int64
	startXRef      int64
	newestIsStream bool

	encryptDict raw.Dictionary
	encryptRef  raw.ObjectRef
}

// Options steer loading and saving.
type Options struct {
	Password      string
	Strict        bool
	EagerStreams  bool
	Deterministic bool
	Limits        filters.Limits
	Logger        observability.Logger
}

// New returns an empty document with a catalog already in place.
func New(log observability.Logger) *Document {
	if log == nil {
		log = observability.NopLogger{}
	}
	objects := repo.New(log)
	objects.SetCanReuseObjectNumbers(true)
	catalog := raw.Dict()
	catalog.Set(raw.NameObj{Val: "Type"}, raw.NameLiteral("Catalog"))
	rootRef := objects.Create(catalog)
	trailer := raw.Dict()
	trailer.Set(raw.NameObj{Val: "Root"}, raw.RefObj{R: rootRef})
	return &Document{
		objects: objects,
		trailer: trailer,
		sec:     security.NoopHandler(),
		log:     log,
		version: "1.7",
	}
}

// Load parses the document in r.
func Load(r io.ReaderAt, opts Options) (*Document, error) {
	log := opts.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	res, err := parser.Parse(r, parser.Options{
		Password:     opts.Password,
		Strict:       opts.Strict,
		EagerStreams: opts.EagerStreams,
		Limits:       opts.Limits,
	}, log)
	if err != nil {
		return nil, err
	}
	d := &Document{
		objects:        res.Objects,
		trailer:        res.Trailer,
		sec:            res.Security,
		log:            log,
		version:        res.Version,
		src:            r,
		srcSize:        res.SourceSize,
		startXRef:      res.StartXRef,
		newestIsStream: res.NewestIsStream,
		encryptDict:    res.EncryptDict,
	}
	d.objects.SetCanReuseObjectNumbers(true)
	d.upgradeVersion()
	return d, nil
}

// upgradeVersion honors a catalog /Version newer than the header.
func (d *Document) upgradeVersion() {
	catalog, err := d.Catalog()
	if err != nil {
		return
	}
	v, ok := catalog.Get(raw.NameObj{Val: "Version"})
	if !ok {
		return
	}
	name, ok := v.(raw.Name)
	if !ok {
		return
	}
	if versionLess(d.version, name.Value()) {
		d.log.Info("catalog upgrades document version",
			observability.String("from", d.version), observability.String("to", name.Value()))
		d.version = name.Value()
	}
}

func versionLess(a, b string) bool {
	pa, pb := versionParts(a), versionParts(b)
	if pa[0] != pb[0] {
		return pa[0] < pb[0]
	}
	return pa[1] < pb[1]
}

func versionParts(v string) [2]int {
	var out [2]int
	for i, part := range strings.SplitN(v, ".", 2) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

func (d *Document) Version() string           { return d.version }
func (d *Document) SetVersion(v string)       { d.version = v }
func (d *Document) Trailer() *raw.DictObj     { return d.trailer }
func (d *Document) Objects() *repo.Repository { return d.objects }

// IsEncrypted reports whether the source document was encrypted.
func (d *Document) IsEncrypted() bool { return d.sec.IsEncrypted() }

// Permissions reports the access flags granted by the password used.
func (d *Document) Permissions() security.Permissions { return d.sec.Permissions() }

// Catalog resolves the trailer /Root dictionary.
func (d *Document) Catalog() (raw.Dictionary, error) {
	rootObj, ok := d.trailer.Get(raw.NameObj{Val: "Root"})
	if !ok {
		return nil, pdferr.New(pdferr.KindNotFound, "trailer has no Root")
	}
	resolved, err := d.objects.Resolve(rootObj)
	if err != nil {
		return nil, err
	}
	catalog, ok := resolved.(raw.Dictionary)
	if !ok {
		return nil, pdferr.New(pdferr.KindFormat, "Root is not a dictionary")
	}
	return catalog, nil
}

// CreateObject registers obj as a new indirect object.
func (d *Document) CreateObject(obj raw.Object) raw.ObjectRef {
	return d.objects.Create(obj)
}

// GetObject resolves a handle.
func (d *Document) GetObject(ref raw.ObjectRef) (raw.Object, error) {
	return d.objects.Get(ref)
}

// RemoveObject deletes the object and frees its number for reuse.
func (d *Document) RemoveObject(ref raw.ObjectRef) error {
	_, err := d.objects.Remove(ref, true)
	return err
}

// DecodedStream returns the filtered payload of a stream object.
func (d *Document) DecodedStream(ref raw.ObjectRef) ([]byte, error) {
	obj, err := d.objects.Get(ref)
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(raw.Stream)
	if !ok {
		return nil, pdferr.New(pdferr.KindFormat, "object is not a stream").ForObject(ref.Num, ref.Gen)
	}
	return filters.Default(filters.Limits{}).DecodeStream(stm)
}

// CollectGarbage drops objects unreachable from the trailer.
func (d *Document) CollectGarbage() (int, error) {
	var roots []raw.ObjectRef
	raw.WalkRefs(d.trailer, func(ref raw.ObjectRef) { roots = append(roots, ref) })
	return d.objects.CollectGarbage(roots)
}

// FreeMemory evicts every clean lazily loaded object.
func (d *Document) FreeMemory() int { return d.objects.FreeAllMemory() }

// Save serializes the document. SaveIncremental needs the document to
// have been loaded from a source; reuse of freed numbers is suspended
// so the appended revision stays consistent with the old chain.
func (d *Document) Save(out io.Writer, mode SaveMode) error {
	cfg := writer.Config{
		Security:      d.sec,
		UseXRefStream: d.newestIsStream,
		Version:       d.version,
	}
	trailer := d.trailer
	if d.sec.IsEncrypted() && d.encryptDict != nil {
		cfg.EncryptRef = d.ensureEncryptObject()
	}
	w := writer.New(cfg, d.log)

	switch mode {
	case SaveRewrite:
		return w.Rewrite(out, d.objects, trailer)
	case SaveIncremental:
		if d.src == nil {
			return pdferr.New(pdferr.KindFormat, "incremental save needs a loaded source")
		}
		reuse := d.objects.CanReuseObjectNumbers()
		d.objects.SetCanReuseObjectNumbers(false)
		defer d.objects.SetCanReuseObjectNumbers(reuse)
		original := io.NewSectionReader(d.src, 0, d.srcSize)
		return w.Incremental(out, original, d.startXRef, d.objects, trailer)
	}
	return pdferr.New(pdferr.KindValueOutOfRange, "unknown save mode")
}

// SaveStreaming writes the document through the immediate writer,
// emitting each object as it is visited.
func (d *Document) SaveStreaming(out io.WriteSeeker) error {
	if d.sec.IsEncrypted() && d.encryptDict != nil {
		d.ensureEncryptObject()
	}
	sw, err := streaming.New(out, d.version, d.log)
	if err != nil {
		return err
	}
	var werr error
	d.objects.Iterate(func(ref raw.ObjectRef, _ raw.Object) bool {
		obj, err := d.objects.Get(ref)
		if err != nil {
			werr = err
			return false
		}
		if werr = sw.WriteObject(ref, obj); werr != nil {
			return false
		}
		return true
	})
	if werr != nil {
		return werr
	}
	return sw.Close(d.trailer)
}

// ensureEncryptObject puts the encryption dictionary back into the
// object set for writing and points the trailer at it.
func (d *Document) ensureEncryptObject() raw.ObjectRef {
	if d.encryptRef.IsIndirect() {
		return d.encryptRef
	}
	d.encryptRef = d.objects.Create(d.encryptDict)
	d.trailer.Set(raw.NameObj{Val: "Encrypt"}, raw.RefObj{R: d.encryptRef})
	return d.encryptRef
}
