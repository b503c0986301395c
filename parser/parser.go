package parser

import (
	"io"

	"pdfcore/filters"
	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/pdferr"
	"pdfcore/recovery"
	"pdfcore/repo"
	"pdfcore/scanner"
	"pdfcore/security"
	"pdfcore/xref"
)

// Options steer a document load.
type Options struct {
	// Password authenticates against the document's security handler.
	// Empty tries the empty user password, which opens most encrypted
	// documents meant for unrestricted reading.
	Password string
	// Strict aborts on the first malformed element instead of
	// repairing. The default policy tolerates the common breakages.
	Strict bool
	// EagerStreams materializes every object during Parse, so the
	// source reader is not needed afterwards.
	EagerStreams bool
	// Limits bounds decode work.
	Limits filters.Limits
}

// Result is a fully resolved document: the object set, the merged
// trailer, and the collaborators later stages need.
type Result struct {
	Objects  *repo.Repository
	Trailer  *raw.DictObj
	Security security.Handler
	Source   *Source
	Table    *xref.Table

	// EncryptDict is the parsed encryption dictionary, kept outside
	// the object set so writers can re-emit it.
	EncryptDict raw.Dictionary
	// SourceSize is the byte length of the original document.
	SourceSize int64

	Version        string
	Revisions      int
	NewestIsStream bool
	Rebuilt        bool
	StartXRef      int64
}

// Parse loads the document in r: resolve the revision chain, set up
// decryption, and register every object the merged table names. With
// lenient policy individual broken objects become free slots; in strict
// mode any failure clears the repository and aborts.
func Parse(r io.ReaderAt, opts Options, log observability.Logger) (*Result, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	var rec recovery.Strategy
	if opts.Strict {
		rec = recovery.NewStrictStrategy()
	} else {
		rec = recovery.NewLenientStrategy(log)
	}

	cfg := scanner.DefaultConfig()
	cfg.Recovery = rec
	sc := scanner.New(r, cfg)
	pipeline := filters.Default(opts.Limits)

	resolver := xref.NewResolver(sc, pipeline, rec, log)
	resolved, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}
	table := resolved.Table
	trailer := table.Trailer()

	src := NewSource(sc, pipeline, rec, log)
	objects := repo.New(log)
	src.SetRepository(objects)

	sec, encDict, err := setupSecurity(src, table, trailer, opts.Password)
	if err != nil {
		return nil, err
	}

	containers := NewContainerResolver(src)
	materialize(objects, src, containers, table)

	result := &Result{
		Objects:        objects,
		Trailer:        trailer,
		Security:       sec,
		Source:         src,
		Table:          table,
		EncryptDict:    encDict,
		SourceSize:     sc.Length(),
		Version:        resolved.Version,
		Revisions:      resolved.RevisionCount,
		NewestIsStream: resolved.NewestIsStream,
		Rebuilt:        resolved.Rebuilt,
		StartXRef:      resolved.StartXRef,
	}

	if opts.EagerStreams {
		if err := loadAll(objects, rec, log); err != nil {
			objects.Clear()
			return nil, err
		}
	}
	log.Info("document loaded",
		observability.Int(observability.MetricObjectCount, objects.Count()),
		observability.Int(observability.MetricRevisionCount, resolved.RevisionCount))
	return result, nil
}

// setupSecurity reads the encryption dictionary named by the trailer,
// builds the handler, and authenticates. The dictionary object is
// parsed before decryption is armed and never joins the object set.
func setupSecurity(src *Source, table *xref.Table, trailer *raw.DictObj, password string) (security.Handler, raw.Dictionary, error) {
	encObj, ok := trailer.Get(raw.NameObj{Val: "Encrypt"})
	if !ok {
		return security.NoopHandler(), nil, nil
	}
	var encDict raw.Dictionary
	switch v := encObj.(type) {
	case raw.Reference:
		ref := v.Ref()
		src.SetEncryptObjectNumber(ref.Num)
		entry, found := table.Get(ref.Num)
		if !found || entry.Type != xref.EntryInUse {
			return nil, nil, pdferr.New(pdferr.KindFormat, "encryption dictionary is not addressable").
				ForObject(ref.Num, ref.Gen)
		}
		obj, err := src.loadAt(raw.ObjectRef{Num: ref.Num, Gen: entry.Generation}, entry.Offset)
		if err != nil {
			return nil, nil, err
		}
		d, isDict := obj.(raw.Dictionary)
		if !isDict {
			return nil, nil, pdferr.New(pdferr.KindFormat, "encryption object is not a dictionary").
				ForObject(ref.Num, ref.Gen)
		}
		encDict = d
	case raw.Dictionary:
		encDict = v
	default:
		return nil, nil, pdferr.New(pdferr.KindFormat, "trailer Encrypt entry is not a dictionary")
	}

	handler, err := security.NewStandardHandler(encDict, fileID(trailer))
	if err != nil {
		return nil, nil, pdferr.New(pdferr.KindFormat, "unsupported encryption").Wrap(err)
	}
	if err := handler.Authenticate(password); err != nil {
		return nil, nil, err
	}
	src.SetSecurity(handler)
	return handler, encDict, nil
}

// fileID extracts the first element of the trailer /ID array, which
// seeds the key derivation.
func fileID(trailer *raw.DictObj) []byte {
	idObj, ok := trailer.Get(raw.NameObj{Val: "ID"})
	if !ok {
		return nil
	}
	arr, ok := idObj.(raw.Array)
	if !ok || arr.Len() == 0 {
		return nil
	}
	first, _ := arr.Get(0)
	if s, ok := first.(raw.String); ok {
		return s.Value()
	}
	return nil
}

// materialize registers a placeholder for every table entry. Free
// records join the free list at their recorded generation; compressed
// entries are wired to the container resolver in a second pass so their
// containers are addressable first.
func materialize(objects *repo.Repository, src *Source, containers *ContainerResolver, table *xref.Table) {
	encryptNum := src.encryptNum
	for num := 1; num < table.Size(); num++ {
		entry, ok := table.Get(num)
		if !ok {
			continue
		}
		switch entry.Type {
		case xref.EntryFree:
			// Duplicate or out-of-range free records are dropped.
			_ = objects.TryAddFree(raw.ObjectRef{Num: num, Gen: entry.Generation})
		case xref.EntryInUse:
			if num == encryptNum {
				continue
			}
			ref := raw.ObjectRef{Num: num, Gen: entry.Generation}
			objects.Insert(ref, NewLazyObject(src, ref, entry.Offset))
		}
	}
	for num := 1; num < table.Size(); num++ {
		entry, ok := table.Get(num)
		if !ok || entry.Type != xref.EntryCompressed {
			continue
		}
		ref := raw.ObjectRef{Num: num, Gen: 0}
		objects.Insert(ref, NewCompressedObject(containers, entry.Container, num))
	}
}

// loadAll forces every placeholder to materialize, stream payloads
// included. Lenient policy turns objects that fail to load into free
// slots.
func loadAll(objects *repo.Repository, rec recovery.Strategy, log observability.Logger) error {
	var refs []raw.ObjectRef
	objects.Iterate(func(ref raw.ObjectRef, _ raw.Object) bool {
		refs = append(refs, ref)
		return true
	})
	for _, ref := range refs {
		obj, err := objects.Get(ref)
		if err == nil {
			if ls, ok := obj.(*lazyStream); ok {
				_, err = ls.Payload()
			}
		}
		if err != nil {
			action := rec.OnError(err, recovery.Location{
				ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser:load",
			})
			if action == recovery.ActionFail {
				return err
			}
			log.Warn("dropping object that failed to load",
				observability.Int("object", ref.Num), observability.Error("err", err))
			objects.Remove(ref, true)
		}
	}
	return nil
}
