package rhi

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		n         int
		wantClass int
		wantSize  int
	}{
		{0, 0, 1 << minStagingShift},
		{1, 0, 1 << minStagingShift},
		{1 << minStagingShift, 0, 1 << minStagingShift},
		{1<<minStagingShift + 1, 1, 1 << (minStagingShift + 1)},
		{3000, 2, 4096},
		{1 << maxStagingShift, maxStagingShift - minStagingShift, 1 << maxStagingShift},
		{1<<maxStagingShift + 1, -1, 1<<maxStagingShift + 1},
	}
	for _, tt := range tests {
		class, size := sizeClass(tt.n)
		if class != tt.wantClass || size != tt.wantSize {
			t.Errorf("sizeClass(%d) = (%d, %d), want (%d, %d)", tt.n, class, size, tt.wantClass, tt.wantSize)
		}
	}
}

func TestStagingBudget(t *testing.T) {
	p := newStagingPool(4096)
	payload := bytes.Repeat([]byte{0xAB}, 1500)

	a, err := p.acquire(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.data, payload) {
		t.Error("staging block does not hold a copy of the payload")
	}
	payload[0] = 0
	if a.data[0] != 0xAB {
		t.Error("staging block aliases the caller's slice")
	}
	if got := p.used(); got != 2048 {
		t.Errorf("used = %d, want 2048", got)
	}

	b, err := p.acquire(payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.acquire([]byte{1}); !errors.Is(err, ErrStagingFull) {
		t.Errorf("acquire over budget = %v, want ErrStagingFull", err)
	}

	a.release()
	a.release()
	if got := p.used(); got != 2048 {
		t.Errorf("used after double release = %d, want 2048", got)
	}
	b.release()
	if got := p.used(); got != 0 {
		t.Errorf("used after release = %d, want 0", got)
	}
	if _, err := p.acquire(make([]byte, 4096)); err != nil {
		t.Errorf("acquire after release = %v", err)
	}
}

func TestStagingConcurrent(t *testing.T) {
	p := newStagingPool(1 << 20)
	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			data := bytes.Repeat([]byte{byte(i)}, 3000)
			for range 50 {
				blk, err := p.acquire(data)
				if err != nil {
					return err
				}
				if !bytes.Equal(blk.data, data) {
					return errors.New("block contents corrupted")
				}
				blk.release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := p.used(); got != 0 {
		t.Errorf("used = %d, want 0", got)
	}
}

func TestInlineArena(t *testing.T) {
	var a inlineArena
	src := []byte{1, 2, 3, 4}
	first := a.copyBytes(src)
	src[0] = 9
	if first[0] != 1 {
		t.Error("arena copy aliases the source")
	}
	big := a.copyBytes(make([]byte, inlineChunkSize+1))
	if len(big) != inlineChunkSize+1 {
		t.Errorf("len(big) = %d", len(big))
	}
	// Earlier slices survive later allocations.
	if first[3] != 4 {
		t.Error("earlier arena slice clobbered")
	}
	if got := a.bytes(); got != 4+inlineChunkSize+1 {
		t.Errorf("bytes = %d", got)
	}
	if a.copyBytes(nil) != nil {
		t.Error("copyBytes(nil) != nil")
	}
	a.reset()
	if a.bytes() != 0 {
		t.Error("reset kept bytes")
	}
}
