// Package repo holds the indirect object set of a document: the mapping
// from (number, generation) handles to object values, the free list that
// recycles numbers, and the lifecycle hooks writers observe.
package repo

import (
	"fmt"
	"sort"

	"pdfcore/ir/raw"
	"pdfcore/observability"
	"pdfcore/pdferr"
)

// LazyObject is a placeholder whose value is materialized on first
// access. The repository resolves it transparently during Get and can
// drop the materialized value again to reclaim memory.
type LazyObject interface {
	raw.Object
	Resolve() (raw.Object, error)
	// Dirty reports whether the materialized value was mutated since
	// loading. Dirty objects survive eviction unless forced.
	Dirty() bool
	// Evict drops the materialized value. Reports whether anything
	// was dropped.
	Evict(force bool) bool
}

// Observer is notified of object lifecycle events during serialization.
type Observer interface {
	ObjectWritten(ref raw.ObjectRef, offset int64)
	StreamAppendBegin(ref raw.ObjectRef)
	StreamAppendEnd(ref raw.ObjectRef)
	Finish()
}

// StreamFactory lets a caller substitute the stream representation
// created for new objects, e.g. one that spools to disk.
type StreamFactory interface {
	CreateStream(dict *raw.DictObj) raw.Object
}

type entry struct {
	gen   int
	obj   raw.Object
	lazy  LazyObject
	dirty bool
	// failed latches the first resolution error so repeated lookups
	// fail fast instead of re-parsing a broken object.
	failed error
}

// Repository is the indirect object set. It is not safe for concurrent
// mutation; callers serialize access the same way they would around any
// document model.
type Repository struct {
	objects     map[int]*entry
	maxNum      int
	freeList    []raw.ObjectRef // sorted by object number
	unavailable map[int]bool    // numbers retired at max generation
	reuse       bool
	observers   []Observer
	factory     StreamFactory
	log         observability.Logger
}

func New(log observability.Logger) *Repository {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Repository{
		objects:     make(map[int]*entry),
		unavailable: make(map[int]bool),
		log:         log,
	}
}

// SetCanReuseObjectNumbers controls whether Create draws numbers from
// the free list. Incremental updates disable reuse so freed slots stay
// free in the appended revision.
func (r *Repository) SetCanReuseObjectNumbers(v bool) { r.reuse = v }
func (r *Repository) CanReuseObjectNumbers() bool     { return r.reuse }

func (r *Repository) SetStreamFactory(f StreamFactory) { r.factory = f }

func (r *Repository) AttachObserver(o Observer) { r.observers = append(r.observers, o) }

func (r *Repository) DetachObserver(o Observer) {
	for i, cur := range r.observers {
		if cur == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// Count reports the number of live (non-free) objects.
func (r *Repository) Count() int { return len(r.objects) }

// MaxNumber reports the highest object number ever assigned or inserted.
func (r *Repository) MaxNumber() int { return r.maxNum }

// Create registers obj as a new indirect object and returns its handle.
// Numbers come from the free list when reuse is enabled, with the freed
// generation already incremented; otherwise a fresh number is taken.
func (r *Repository) Create(obj raw.Object) raw.ObjectRef {
	ref := r.nextHandle()
	e := &entry{gen: ref.Gen, obj: obj, dirty: true}
	r.objects[ref.Num] = e
	r.bindDirty(e, obj)
	return ref
}

// CreateDictionary registers an empty dictionary object.
func (r *Repository) CreateDictionary() (raw.ObjectRef, *raw.DictObj) {
	d := raw.Dict()
	return r.Create(d), d
}

// CreateArray registers an empty array object.
func (r *Repository) CreateArray() (raw.ObjectRef, *raw.ArrayObj) {
	a := raw.NewArray()
	return r.Create(a), a
}

// CreateStream registers a stream object, consulting the factory when
// one is installed.
func (r *Repository) CreateStream(dict *raw.DictObj, data []byte) (raw.ObjectRef, raw.Object) {
	var obj raw.Object
	if r.factory != nil {
		obj = r.factory.CreateStream(dict)
	} else {
		obj = raw.NewStream(dict, data)
	}
	return r.Create(obj), obj
}

func (r *Repository) nextHandle() raw.ObjectRef {
	if r.reuse {
		for len(r.freeList) > 0 {
			ref := r.freeList[0]
			r.freeList = r.freeList[1:]
			if ref.Num == 0 || r.unavailable[ref.Num] {
				continue
			}
			if _, taken := r.objects[ref.Num]; taken {
				continue
			}
			if ref.Num > r.maxNum {
				r.maxNum = ref.Num
			}
			return ref
		}
	}
	r.maxNum++
	return raw.ObjectRef{Num: r.maxNum, Gen: 0}
}

// Insert registers an object under an explicit handle, as the document
// parser does while materializing a revision. An existing object under
// the same number is replaced.
func (r *Repository) Insert(ref raw.ObjectRef, obj raw.Object) {
	e := &entry{gen: ref.Gen, obj: obj}
	if lazy, ok := obj.(LazyObject); ok {
		e.lazy = lazy
		e.obj = nil
	}
	r.objects[ref.Num] = e
	if ref.Num > r.maxNum {
		r.maxNum = ref.Num
	}
	if e.obj != nil {
		r.bindDirty(e, e.obj)
	}
	r.removeFree(ref.Num)
}

// Get resolves a handle to its object value, materializing lazy
// placeholders. A free, unknown, or stale-generation handle reports a
// not-found error. A placeholder that fails to resolve retires its
// number: the error is replayed on later lookups and the number is
// never handed out again.
func (r *Repository) Get(ref raw.ObjectRef) (raw.Object, error) {
	e, ok := r.objects[ref.Num]
	if !ok {
		return nil, pdferr.New(pdferr.KindNotFound, "no object under this handle").ForObject(ref.Num, ref.Gen)
	}
	if e.gen != ref.Gen {
		return nil, pdferr.Newf(pdferr.KindNotFound, "handle generation is stale (current %d)", e.gen).ForObject(ref.Num, ref.Gen)
	}
	if e.failed != nil {
		return nil, e.failed
	}
	if e.obj == nil && e.lazy != nil {
		obj, err := e.lazy.Resolve()
		if err != nil {
			e.failed = err
			r.unavailable[ref.Num] = true
			r.removeFree(ref.Num)
			return nil, err
		}
		e.obj = obj
		r.bindDirty(e, obj)
	}
	return e.obj, nil
}

// MustGet is Get for callers that already validated the handle.
func (r *Repository) MustGet(ref raw.ObjectRef) raw.Object {
	obj, err := r.Get(ref)
	if err != nil {
		panic(fmt.Sprintf("repo: %v", err))
	}
	return obj
}

// Has reports whether a live object exists under the handle.
func (r *Repository) Has(ref raw.ObjectRef) bool {
	e, ok := r.objects[ref.Num]
	return ok && e.gen == ref.Gen
}

// Generation reports the current generation of an object number.
func (r *Repository) Generation(num int) (int, bool) {
	e, ok := r.objects[num]
	if !ok {
		return 0, false
	}
	return e.gen, true
}

// Remove deletes the object under ref. With markFree the number joins
// the free list at generation+1 so a later Create can recycle it.
func (r *Repository) Remove(ref raw.ObjectRef, markFree bool) (raw.Object, error) {
	e, ok := r.objects[ref.Num]
	if !ok || e.gen != ref.Gen {
		return nil, pdferr.New(pdferr.KindNotFound, "no object under this handle").ForObject(ref.Num, ref.Gen)
	}
	delete(r.objects, ref.Num)
	if markFree {
		r.SafeAddFree(ref)
	}
	return e.obj, nil
}

// SafeAddFree frees a handle for later reuse, bumping the generation.
// A number that would exceed the maximum generation is retired instead
// and never handed out again.
func (r *Repository) SafeAddFree(ref raw.ObjectRef) {
	next := ref.Gen + 1
	if next > raw.MaxGeneration {
		r.unavailable[ref.Num] = true
		r.removeFree(ref.Num)
		return
	}
	r.addFree(raw.ObjectRef{Num: ref.Num, Gen: next})
}

// TryAddFree inserts a free slot at the exact generation given, as the
// parser does when loading free records from a revision.
func (r *Repository) TryAddFree(ref raw.ObjectRef) error {
	if ref.Gen > raw.MaxGeneration {
		return pdferr.New(pdferr.KindValueOutOfRange, "free record generation above maximum").ForObject(ref.Num, ref.Gen)
	}
	r.addFree(ref)
	return nil
}

// addFree inserts sorted by number; a number already on the list is
// left untouched.
func (r *Repository) addFree(ref raw.ObjectRef) {
	if ref.Num == 0 || r.unavailable[ref.Num] {
		return
	}
	i := sort.Search(len(r.freeList), func(i int) bool { return r.freeList[i].Num >= ref.Num })
	if i < len(r.freeList) && r.freeList[i].Num == ref.Num {
		return
	}
	r.freeList = append(r.freeList, raw.ObjectRef{})
	copy(r.freeList[i+1:], r.freeList[i:])
	r.freeList[i] = ref
}

func (r *Repository) removeFree(num int) {
	i := sort.Search(len(r.freeList), func(i int) bool { return r.freeList[i].Num >= num })
	if i < len(r.freeList) && r.freeList[i].Num == num {
		r.freeList = append(r.freeList[:i], r.freeList[i+1:]...)
	}
}

// FreeList returns the free handles in number order.
func (r *Repository) FreeList() []raw.ObjectRef {
	return append([]raw.ObjectRef(nil), r.freeList...)
}

// Retired reports whether a number was taken out of circulation.
func (r *Repository) Retired(num int) bool { return r.unavailable[num] }

// MarkDirty flags the object under ref as modified.
func (r *Repository) MarkDirty(ref raw.ObjectRef) {
	if e, ok := r.objects[ref.Num]; ok && e.gen == ref.Gen {
		e.dirty = true
	}
}

// IsDirty reports whether the object was modified since load.
func (r *Repository) IsDirty(ref raw.ObjectRef) bool {
	e, ok := r.objects[ref.Num]
	if !ok || e.gen != ref.Gen {
		return false
	}
	if e.dirty {
		return true
	}
	if e.lazy != nil && e.obj != nil {
		return e.lazy.Dirty()
	}
	return false
}

// FreeMemory drops the materialized value of a lazily loaded object so
// a later Get re-reads it from the source. Dirty objects are kept
// unless force is set. Reports whether memory was reclaimed.
func (r *Repository) FreeMemory(ref raw.ObjectRef, force bool) bool {
	e, ok := r.objects[ref.Num]
	if !ok || e.gen != ref.Gen || e.lazy == nil || e.obj == nil {
		return false
	}
	if (e.dirty || e.lazy.Dirty()) && !force {
		return false
	}
	if !e.lazy.Evict(force) {
		return false
	}
	e.obj = nil
	e.dirty = false
	return true
}

// FreeAllMemory evicts every clean lazily loaded object and reports how
// many were dropped.
func (r *Repository) FreeAllMemory() int {
	n := 0
	for num, e := range r.objects {
		if r.FreeMemory(raw.ObjectRef{Num: num, Gen: e.gen}, false) {
			n++
		}
	}
	r.log.Debug("evicted materialized objects", observability.Int(observability.MetricEvictedObjects, n))
	return n
}

// Iterate visits live objects in ascending number order. Lazy objects
// are not materialized; fn receives nil for unresolved values.
func (r *Repository) Iterate(fn func(ref raw.ObjectRef, obj raw.Object) bool) {
	nums := make([]int, 0, len(r.objects))
	for num := range r.objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	for _, num := range nums {
		e := r.objects[num]
		if !fn(raw.ObjectRef{Num: num, Gen: e.gen}, e.obj) {
			return
		}
	}
}

// Resolve follows obj one step if it is a reference, returning the
// target value. Non-reference objects pass through unchanged.
func (r *Repository) Resolve(obj raw.Object) (raw.Object, error) {
	if ref, ok := obj.(raw.Reference); ok {
		return r.Get(ref.Ref())
	}
	return obj, nil
}

// CollectGarbage removes every object not reachable from the given
// roots, freeing the numbers. Reachability follows references through
// lazily loaded objects, which are materialized as needed. Returns the
// number of collected objects.
func (r *Repository) CollectGarbage(roots []raw.ObjectRef) (int, error) {
	marked := make(map[int]bool)
	stack := append([]raw.ObjectRef(nil), roots...)
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e, ok := r.objects[ref.Num]
		if !ok || marked[ref.Num] {
			continue
		}
		marked[ref.Num] = true
		obj, err := r.Get(raw.ObjectRef{Num: ref.Num, Gen: e.gen})
		if err != nil {
			// A broken object cannot hold references worth following.
			continue
		}
		raw.WalkRefs(obj, func(target raw.ObjectRef) {
			if !marked[target.Num] {
				stack = append(stack, target)
			}
		})
	}
	collected := 0
	for num, e := range r.objects {
		if marked[num] {
			continue
		}
		delete(r.objects, num)
		r.SafeAddFree(raw.ObjectRef{Num: num, Gen: e.gen})
		collected++
	}
	r.log.Debug("collected unreachable objects", observability.Int(observability.MetricObjectCount, collected))
	return collected, nil
}

// Clear drops every object, free slot, and retirement record.
func (r *Repository) Clear() {
	r.objects = make(map[int]*entry)
	r.freeList = nil
	r.unavailable = make(map[int]bool)
	r.maxNum = 0
}

func (r *Repository) bindDirty(e *entry, obj raw.Object) {
	raw.Bind(obj, func() { e.dirty = true })
}

// NotifyObjectWritten fans a write event out to attached observers.
func (r *Repository) NotifyObjectWritten(ref raw.ObjectRef, offset int64) {
	for _, o := range r.observers {
		o.ObjectWritten(ref, offset)
	}
}

func (r *Repository) NotifyStreamAppendBegin(ref raw.ObjectRef) {
	for _, o := range r.observers {
		o.StreamAppendBegin(ref)
	}
}

func (r *Repository) NotifyStreamAppendEnd(ref raw.ObjectRef) {
	for _, o := range r.observers {
		o.StreamAppendEnd(ref)
	}
}

func (r *Repository) NotifyFinish() {
	for _, o := range r.observers {
		o.Finish()
	}
}
