package rhi

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/sync/errgroup"
)

type fakeObject struct{ name string }

func (o *fakeObject) nativeObject() NativeObject { return o.name }

func TestTableResolve(t *testing.T) {
	tb := newTable(8)
	obj := &fakeObject{name: "a"}
	ref, err := tb.insert(KindBuffer, obj)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ref  Ref
		want error
	}{
		{"live", ref, nil},
		{"zero", Ref{}, ErrInvalidHandle},
		{"out of range", Ref{Handle: 99, Kind: KindBuffer}, ErrInvalidHandle},
		{"wrong kind", Ref{Handle: ref.Handle, Gen: ref.Gen, Kind: KindTexture}, ErrWrongKind},
		{"future generation", Ref{Handle: ref.Handle, Gen: ref.Gen + 1, Kind: KindBuffer}, ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tb.resolve(tt.ref)
			if !errors.Is(err, tt.want) {
				t.Fatalf("resolve(%v) error = %v, want %v", tt.ref, err, tt.want)
			}
			if tt.want == nil && got != obj {
				t.Errorf("resolve(%v) = %v, want %v", tt.ref, got, obj)
			}
		})
	}
}

func TestTableGenerationOnReuse(t *testing.T) {
	tb := newTable(4)
	first, _ := tb.insert(KindBuffer, &fakeObject{name: "first"})

	if _, err := tb.retire(first); err != nil {
		t.Fatal(err)
	}
	// Stale from the moment of destroy, before the fence passes.
	if _, err := tb.resolve(first); !errors.Is(err, ErrStale) {
		t.Errorf("resolve after retire = %v, want ErrStale", err)
	}
	if _, err := tb.retire(first); !errors.Is(err, ErrStale) {
		t.Errorf("second retire = %v, want ErrStale", err)
	}
	if st := tb.stats(); st.Live != 0 || st.Retiring != 1 {
		t.Errorf("stats while retiring = %+v", st)
	}

	tb.reclaim(first.Handle)
	second, _ := tb.insert(KindTexture, &fakeObject{name: "second"})
	if second.Handle != first.Handle {
		t.Fatalf("slot not reused: %v then %v", first, second)
	}
	if second.Gen <= first.Gen {
		t.Errorf("generation %d not above %d", second.Gen, first.Gen)
	}
	if _, err := tb.resolve(first); !errors.Is(err, ErrStale) {
		t.Errorf("old ref after reuse = %v, want ErrStale", err)
	}
	if _, err := tb.resolve(second); err != nil {
		t.Errorf("new ref = %v", err)
	}
}

func TestTableRetiresExhaustedSlot(t *testing.T) {
	tb := newTable(4)
	ref, _ := tb.insert(KindSampler, &fakeObject{})
	tb.slots[ref.Handle].gen = math.MaxUint32 - 1
	ref.Gen = math.MaxUint32 - 1

	if _, err := tb.retire(ref); err != nil {
		t.Fatal(err)
	}
	tb.reclaim(ref.Handle)
	if st := tb.stats(); st.Free != 0 {
		t.Errorf("exhausted slot returned to free list: %+v", st)
	}
	next, _ := tb.insert(KindSampler, &fakeObject{})
	if next.Handle == ref.Handle {
		t.Errorf("exhausted slot %d reused", ref.Handle)
	}
}

func TestTableFull(t *testing.T) {
	tb := newTable(2)
	for range 2 {
		if _, err := tb.insert(KindBuffer, &fakeObject{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := tb.insert(KindBuffer, &fakeObject{}); !errors.Is(err, ErrTableFull) {
		t.Errorf("insert beyond capacity = %v, want ErrTableFull", err)
	}
}

func TestTableReserveAbandon(t *testing.T) {
	tb := newTable(2)
	h, err := tb.reserve(KindShader)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tb.resolve(Ref{Handle: h, Kind: KindShader}); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("reserved slot resolves: %v", err)
	}
	tb.abandon(h)
	if st := tb.stats(); st.Free != 1 || st.Live != 0 {
		t.Errorf("stats after abandon = %+v", st)
	}
}

func TestTableDrainNewestFirst(t *testing.T) {
	tb := newTable(8)
	a, _ := tb.insert(KindBuffer, &fakeObject{name: "a"})
	tb.insert(KindBuffer, &fakeObject{name: "b"})
	tb.insert(KindBuffer, &fakeObject{name: "c"})
	if _, err := tb.retire(a); err != nil {
		t.Fatal(err)
	}

	objs := tb.drain()
	var names []string
	for _, o := range objs {
		names = append(names, o.(*fakeObject).name)
	}
	if len(names) != 3 || names[0] != "c" || names[2] != "a" {
		t.Errorf("drain order = %v, want [c b a]", names)
	}
	if st := tb.stats(); st.Live != 0 || st.Retiring != 0 {
		t.Errorf("stats after drain = %+v", st)
	}
}

func TestTableConcurrent(t *testing.T) {
	tb := newTable(1024)
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			for range 100 {
				ref, err := tb.insert(KindBuffer, &fakeObject{})
				if err != nil {
					return err
				}
				if _, err := tb.resolve(ref); err != nil {
					return err
				}
				if _, err := tb.retire(ref); err != nil {
					return err
				}
				tb.reclaim(ref.Handle)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if st := tb.stats(); st.Live != 0 || st.Retiring != 0 {
		t.Errorf("stats = %+v, want empty", st)
	}
}
