package iobuf

import "testing"

func TestPoolReusesReleasedRegion(t *testing.T) {
	p := NewPool()
	b := p.Get(64)
	copy(b.Bytes(), []byte("hello"))
	b.Release()

	before := p.StatsSnapshot()
	b2 := p.Get(64)
	after := p.StatsSnapshot()

	if after.TotalReuse != before.TotalReuse+1 {
		t.Fatalf("expected a reuse, stats before=%+v after=%+v", before, after)
	}
	if b2.Len() != 64 {
		t.Fatalf("expected len 64, got %d", b2.Len())
	}
}

func TestBufferSliceSharesBacking(t *testing.T) {
	p := NewPool()
	b := p.Get(16)
	copy(b.Bytes(), []byte("0123456789abcdef"))

	sub := b.Slice(4, 8)
	if string(sub.Bytes()) != "4567" {
		t.Fatalf("expected %q, got %q", "4567", sub.Bytes())
	}

	sub.Bytes()[0] = 'X'
	if b.Bytes()[4] != 'X' {
		t.Fatal("slice should share backing storage with its parent")
	}
}

func TestBufferCopyIsIndependent(t *testing.T) {
	p := NewPool()
	b := p.Get(8)
	copy(b.Bytes(), []byte("abcdefgh"))

	cp := b.Copy()
	cp[0] = 'Z'
	if b.Bytes()[0] == 'Z' {
		t.Fatal("Copy must not share backing storage")
	}
}
