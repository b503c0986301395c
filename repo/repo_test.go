package repo

import (
	"errors"
	"testing"

	"pdfcore/ir/raw"
	"pdfcore/pdferr"
)

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	r := New(nil)
	a := r.Create(raw.NumberInt(1))
	b := r.Create(raw.NumberInt(2))
	if a.Num != 1 || b.Num != 2 || a.Gen != 0 || b.Gen != 0 {
		t.Fatalf("handles = %v %v", a, b)
	}
	if r.Count() != 2 || r.MaxNumber() != 2 {
		t.Fatalf("count=%d max=%d", r.Count(), r.MaxNumber())
	}
}

func TestGetChecksGeneration(t *testing.T) {
	r := New(nil)
	ref := r.Create(raw.NameLiteral("X"))
	if _, err := r.Get(ref); err != nil {
		t.Fatal(err)
	}
	stale := raw.ObjectRef{Num: ref.Num, Gen: ref.Gen + 1}
	_, err := r.Get(stale)
	if !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatalf("stale generation must be not-found, got %v", err)
	}
	if _, err := r.Get(raw.ObjectRef{Num: 99, Gen: 0}); !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatalf("unknown number must be not-found, got %v", err)
	}
}

func TestFreeThenReuseBumpsGeneration(t *testing.T) {
	r := New(nil)
	r.SetCanReuseObjectNumbers(true)
	ref := r.Create(raw.NumberInt(7)) // 1 0
	r.Create(raw.NumberInt(8))        // 2 0

	if _, err := r.Remove(ref, true); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ref); !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatal("removed object still resolvable")
	}

	reused := r.Create(raw.NumberInt(9))
	if reused.Num != ref.Num || reused.Gen != ref.Gen+1 {
		t.Fatalf("reuse = %v, want num %d gen %d", reused, ref.Num, ref.Gen+1)
	}
	// The old handle must stay dead.
	if _, err := r.Get(ref); !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatal("stale handle resurrected by reuse")
	}
	if obj, err := r.Get(reused); err != nil || !raw.Equal(obj, raw.NumberInt(9)) {
		t.Fatalf("reused handle broken: %v %v", obj, err)
	}
}

func TestReuseDisabled(t *testing.T) {
	r := New(nil)
	ref := r.Create(raw.NumberInt(1))
	r.Remove(ref, true)
	next := r.Create(raw.NumberInt(2))
	if next.Num == ref.Num {
		t.Fatal("number reused while reuse is disabled")
	}
}

func TestMaxGenerationRetiresNumber(t *testing.T) {
	r := New(nil)
	r.SetCanReuseObjectNumbers(true)
	r.Insert(raw.ObjectRef{Num: 5, Gen: raw.MaxGeneration}, raw.NullObj{})
	r.Remove(raw.ObjectRef{Num: 5, Gen: raw.MaxGeneration}, true)

	if !r.Retired(5) {
		t.Fatal("number at max generation not retired")
	}
	next := r.Create(raw.NullObj{})
	if next.Num == 5 {
		t.Fatal("retired number handed out again")
	}
}

func TestTryAddFree(t *testing.T) {
	r := New(nil)
	if err := r.TryAddFree(raw.ObjectRef{Num: 4, Gen: 2}); err != nil {
		t.Fatal(err)
	}
	// Duplicate insertion is ignored.
	if err := r.TryAddFree(raw.ObjectRef{Num: 4, Gen: 9}); err != nil {
		t.Fatal(err)
	}
	frees := r.FreeList()
	if len(frees) != 1 || frees[0] != (raw.ObjectRef{Num: 4, Gen: 2}) {
		t.Fatalf("free list = %v", frees)
	}
	if err := r.TryAddFree(raw.ObjectRef{Num: 6, Gen: raw.MaxGeneration + 1}); err == nil {
		t.Fatal("out-of-range generation accepted")
	}
}

func TestFreeListSorted(t *testing.T) {
	r := New(nil)
	for _, num := range []int{9, 2, 5} {
		r.TryAddFree(raw.ObjectRef{Num: num, Gen: 0})
	}
	frees := r.FreeList()
	if len(frees) != 3 || frees[0].Num != 2 || frees[1].Num != 5 || frees[2].Num != 9 {
		t.Fatalf("free list = %v", frees)
	}
}

func TestDirtyTracking(t *testing.T) {
	r := New(nil)
	d := raw.Dict()
	ref := r.Create(d)
	if !r.IsDirty(ref) {
		t.Fatal("created objects start dirty")
	}

	r2 := New(nil)
	r2.Insert(raw.ObjectRef{Num: 1, Gen: 0}, raw.Dict())
	ref2 := raw.ObjectRef{Num: 1, Gen: 0}
	if r2.IsDirty(ref2) {
		t.Fatal("inserted objects start clean")
	}
	obj, _ := r2.Get(ref2)
	obj.(*raw.DictObj).Set(raw.NameObj{Val: "K"}, raw.NullObj{})
	if !r2.IsDirty(ref2) {
		t.Fatal("mutation did not mark the object dirty")
	}
}

func TestCollectGarbage(t *testing.T) {
	r := New(nil)
	r.SetCanReuseObjectNumbers(true)
	root := raw.Dict()
	keep := r.Create(raw.NumberInt(1))
	root.Set(raw.NameObj{Val: "Keep"}, raw.RefObj{R: keep})
	rootRef := r.Create(root)
	drop := r.Create(raw.NumberInt(2))

	n, err := r.CollectGarbage([]raw.ObjectRef{rootRef})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("collected %d, want 1", n)
	}
	if _, err := r.Get(keep); err != nil {
		t.Fatal("reachable object collected")
	}
	if _, err := r.Get(drop); !errors.Is(err, pdferr.ErrNotFound) {
		t.Fatal("unreachable object survived")
	}
	// Its number is free for reuse at the next generation.
	reused := r.Create(raw.NullObj{})
	if reused.Num != drop.Num || reused.Gen != drop.Gen+1 {
		t.Fatalf("collected number not recycled: %v", reused)
	}
}

type fakeLazy struct {
	value    raw.Object
	resolved int
	dirty    bool
}

func (f *fakeLazy) Type() string     { return "deferred" }
func (f *fakeLazy) IsIndirect() bool { return true }
func (f *fakeLazy) Resolve() (raw.Object, error) {
	f.resolved++
	return f.value, nil
}
func (f *fakeLazy) Dirty() bool { return f.dirty }
func (f *fakeLazy) Evict(force bool) bool {
	if f.dirty && !force {
		return false
	}
	return true
}

func TestLazyResolveAndEvict(t *testing.T) {
	r := New(nil)
	lazy := &fakeLazy{value: raw.NumberInt(42)}
	ref := raw.ObjectRef{Num: 3, Gen: 0}
	r.Insert(ref, lazy)

	obj, err := r.Get(ref)
	if err != nil || !raw.Equal(obj, raw.NumberInt(42)) {
		t.Fatalf("resolve: %v %v", obj, err)
	}
	r.Get(ref)
	if lazy.resolved != 1 {
		t.Fatalf("resolved %d times, want 1", lazy.resolved)
	}

	if !r.FreeMemory(ref, false) {
		t.Fatal("clean object not evicted")
	}
	r.Get(ref)
	if lazy.resolved != 2 {
		t.Fatal("eviction did not force a re-resolve")
	}
}

type brokenLazy struct{ resolved int }

func (f *brokenLazy) Type() string     { return "deferred" }
func (f *brokenLazy) IsIndirect() bool { return true }
func (f *brokenLazy) Resolve() (raw.Object, error) {
	f.resolved++
	return nil, pdferr.New(pdferr.KindBrokenObject, "object bytes unreadable")
}
func (f *brokenLazy) Dirty() bool           { return false }
func (f *brokenLazy) Evict(force bool) bool { return false }

func TestFailedResolveRetiresNumber(t *testing.T) {
	r := New(nil)
	r.SetCanReuseObjectNumbers(true)
	lazy := &brokenLazy{}
	ref := raw.ObjectRef{Num: 3, Gen: 0}
	r.Insert(ref, lazy)

	if _, err := r.Get(ref); !errors.Is(err, pdferr.ErrBrokenObject) {
		t.Fatalf("want broken-object error, got %v", err)
	}
	if _, err := r.Get(ref); !errors.Is(err, pdferr.ErrBrokenObject) {
		t.Fatalf("second lookup must replay the failure, got %v", err)
	}
	if lazy.resolved != 1 {
		t.Fatalf("resolved %d times, want 1", lazy.resolved)
	}
	if !r.Retired(ref.Num) {
		t.Fatal("unresolvable number not retired")
	}
	if _, err := r.Remove(ref, true); err != nil {
		t.Fatal(err)
	}
	next := r.Create(raw.NullObj{})
	if next.Num == ref.Num {
		t.Fatal("retired number handed out again")
	}
}

func TestFreeMemoryKeepsDirty(t *testing.T) {
	r := New(nil)
	lazy := &fakeLazy{value: raw.Dict()}
	ref := raw.ObjectRef{Num: 3, Gen: 0}
	r.Insert(ref, lazy)
	obj, _ := r.Get(ref)
	obj.(*raw.DictObj).Set(raw.NameObj{Val: "K"}, raw.NullObj{})

	if r.FreeMemory(ref, false) {
		t.Fatal("dirty object evicted without force")
	}
	if !r.FreeMemory(ref, true) {
		t.Fatal("forced eviction refused")
	}
}

type recordingObserver struct {
	written []raw.ObjectRef
	finish  int
}

func (o *recordingObserver) ObjectWritten(ref raw.ObjectRef, _ int64) {
	o.written = append(o.written, ref)
}
func (o *recordingObserver) StreamAppendBegin(raw.ObjectRef) {}
func (o *recordingObserver) StreamAppendEnd(raw.ObjectRef)   {}
func (o *recordingObserver) Finish()                         { o.finish++ }

func TestObserverFanOut(t *testing.T) {
	r := New(nil)
	obs := &recordingObserver{}
	r.AttachObserver(obs)
	r.NotifyObjectWritten(raw.ObjectRef{Num: 1}, 10)
	r.NotifyFinish()
	if len(obs.written) != 1 || obs.finish != 1 {
		t.Fatalf("observer calls: %v %d", obs.written, obs.finish)
	}
	r.DetachObserver(obs)
	r.NotifyFinish()
	if obs.finish != 1 {
		t.Fatal("detached observer still notified")
	}
}

func TestClear(t *testing.T) {
	r := New(nil)
	r.Create(raw.NullObj{})
	r.TryAddFree(raw.ObjectRef{Num: 9, Gen: 1})
	r.Clear()
	if r.Count() != 0 || len(r.FreeList()) != 0 || r.MaxNumber() != 0 {
		t.Fatal("clear left state behind")
	}
}
