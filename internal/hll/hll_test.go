package hll

import (
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	s := NewStandard()
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		s.Add(r.Uint64())
	}

	b := s.ToBytes()
	got, err := FromBytes(b)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !s.Equal(got) {
		t.Fatalf("round-trip register mismatch")
	}
	if got.Cardinality() != s.Cardinality() {
		t.Fatalf("round-trip cardinality mismatch: %d vs %d", got.Cardinality(), s.Cardinality())
	}
}

func TestWireLayout(t *testing.T) {
	s := NewStandard()
	s.Add(1)
	b := s.ToBytes()
	if b[0] != WireVersion {
		t.Fatalf("version byte = %d, want %d", b[0], WireVersion)
	}
	if b[1] != StandardPrecision {
		t.Fatalf("p byte = %d, want %d", b[1], StandardPrecision)
	}
	if b[2] != RegisterWidth {
		t.Fatalf("width byte = %d, want %d", b[2], RegisterWidth)
	}
	wantBytes := 3 + (2048*5+7)/8
	if len(b) != wantBytes {
		t.Fatalf("len(b) = %d, want %d", len(b), wantBytes)
	}
}

func TestUnionCommutative(t *testing.T) {
	a, bb := NewStandard(), NewStandard()
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 2000; i++ {
		a.Add(r.Uint64())
	}
	for i := 0; i < 2000; i++ {
		bb.Add(r.Uint64())
	}

	ab, err := a.Union(bb)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := bb.Union(a)
	if err != nil {
		t.Fatal(err)
	}
	if !ab.Equal(ba) {
		t.Fatalf("union(a,b) != union(b,a)")
	}
}

func TestUnionAssociative(t *testing.T) {
	a, b, c := NewStandard(), NewStandard(), NewStandard()
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		a.Add(r.Uint64())
	}
	for i := 0; i < 1000; i++ {
		b.Add(r.Uint64())
	}
	for i := 0; i < 1000; i++ {
		c.Add(r.Uint64())
	}

	bc, _ := b.Union(c)
	left, _ := a.Union(bc)

	ab, _ := a.Union(b)
	right, _ := ab.Union(c)

	if !left.Equal(right) {
		t.Fatalf("union(a, union(b,c)) != union(union(a,b), c)")
	}
}

func TestUnionIncompatibleParameters(t *testing.T) {
	a := New(10)
	b := New(11)
	if _, err := a.Union(b); err == nil {
		t.Fatalf("expected IncompatibleParameters error")
	}
}

func TestCardinalityMonotonic(t *testing.T) {
	s := NewStandard()
	r := rand.New(rand.NewSource(4))
	prev := uint64(0)
	for i := 0; i < 10; i++ {
		for j := 0; j < 500; j++ {
			s.Add(r.Uint64())
		}
		c := s.Cardinality()
		if c < prev {
			t.Fatalf("cardinality decreased: %d -> %d", prev, c)
		}
		prev = c
	}
}

func TestUnionInto(t *testing.T) {
	a, b := NewStandard(), NewStandard()
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 500; i++ {
		a.Add(r.Uint64())
	}
	for i := 0; i < 500; i++ {
		b.Add(r.Uint64())
	}
	want, _ := a.Union(b)
	if err := a.UnionInto(b); err != nil {
		t.Fatal(err)
	}
	if !a.Equal(want) {
		t.Fatalf("UnionInto produced different result than Union")
	}
}
