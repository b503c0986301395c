package parser

import (
	"bytes"

	"pdfcore/ir/raw"
	"pdfcore/pdferr"
	"pdfcore/scanner"
)

// ContainerResolver extracts objects from object streams. Each stream
// is decoded and parsed exactly once; every object it holds is cached
// on that first visit regardless of which one was asked for.
type ContainerResolver struct {
	src    *Source
	cache  map[int]map[int]raw.Object
	active map[int]bool
}

func NewContainerResolver(src *Source) *ContainerResolver {
	return &ContainerResolver{
		src:    src,
		cache:  make(map[int]map[int]raw.Object),
		active: make(map[int]bool),
	}
}

// Object returns object num from the object stream with number
// container. Objects in streams always have generation zero.
func (cr *ContainerResolver) Object(container, num int) (raw.Object, error) {
	objs, ok := cr.cache[container]
	if !ok {
		var err error
		objs, err = cr.parse(container)
		if err != nil {
			return nil, err
		}
		cr.cache[container] = objs
	}
	obj, ok := objs[num]
	if !ok {
		return nil, pdferr.Newf(pdferr.KindBrokenObject, "object stream %d does not hold this object", container).
			ForObject(num, 0)
	}
	return obj, nil
}

func (cr *ContainerResolver) parse(container int) (map[int]raw.Object, error) {
	if cr.active[container] {
		return nil, pdferr.New(pdferr.KindCycle, "object stream resolution loops").ForObject(container, 0)
	}
	cr.active[container] = true
	defer delete(cr.active, container)

	containerObj, err := cr.src.repo.Get(raw.ObjectRef{Num: container, Gen: 0})
	if err != nil {
		return nil, pdferr.Newf(pdferr.KindBrokenObject, "object stream %d cannot be loaded", container).Wrap(err)
	}
	stm, ok := containerObj.(raw.Stream)
	if !ok {
		return nil, pdferr.Newf(pdferr.KindBrokenObject, "object %d is not an object stream", container)
	}
	count, ok := streamInt(stm.Dictionary(), "N")
	if !ok || count < 0 {
		return nil, pdferr.Newf(pdferr.KindFormat, "object stream %d missing N", container)
	}
	first, ok := streamInt(stm.Dictionary(), "First")
	if !ok || first < 0 {
		return nil, pdferr.Newf(pdferr.KindFormat, "object stream %d missing First", container)
	}

	if ls, isLazy := containerObj.(*lazyStream); isLazy {
		if _, err := ls.Payload(); err != nil {
			return nil, pdferr.Newf(pdferr.KindBrokenObject, "object stream %d payload cannot be read", container).Wrap(err)
		}
	}
	data, err := cr.src.pipeline.DecodeStream(stm)
	if err != nil {
		return nil, pdferr.Newf(pdferr.KindBrokenObject, "object stream %d cannot be decoded", container).Wrap(err)
	}

	sc := scanner.New(bytes.NewReader(data), scanner.DefaultConfig())
	tr := raw.NewTokenReader(sc)

	type slot struct{ num, offset int }
	pairs := make([]slot, 0, count)
	for i := int64(0); i < count; i++ {
		numTok, err := tr.Next()
		if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
			return nil, pdferr.Newf(pdferr.KindFormat, "object stream %d pair table truncated", container)
		}
		offTok, err := tr.Next()
		if err != nil || offTok.Type != scanner.TokenNumber || !offTok.IsInt {
			return nil, pdferr.Newf(pdferr.KindFormat, "object stream %d pair table truncated", container)
		}
		pairs = append(pairs, slot{num: int(numTok.Int), offset: int(offTok.Int)})
	}

	objs := make(map[int]raw.Object, len(pairs))
	for _, p := range pairs {
		pos := first + int64(p.offset)
		if pos < 0 || pos > int64(len(data)) {
			return nil, pdferr.Newf(pdferr.KindFormat, "object stream %d offset outside payload", container).
				ForObject(p.num, 0)
		}
		if err := sc.Seek(pos); err != nil {
			return nil, err
		}
		value, err := raw.ParseValue(raw.NewTokenReader(sc), cr.src.rec, p.num, 0)
		if err != nil {
			return nil, pdferr.Newf(pdferr.KindBrokenObject, "object stream %d holds a malformed object", container).
				ForObject(p.num, 0).Wrap(err)
		}
		objs[p.num] = value
	}
	return objs, nil
}

func streamInt(dict raw.Dictionary, key string) (int64, bool) {
	v, ok := dict.Get(raw.NameObj{Val: key})
	if !ok {
		return 0, false
	}
	n, ok := v.(raw.Number)
	if !ok || !n.IsInteger() {
		return 0, false
	}
	return n.Int(), true
}
