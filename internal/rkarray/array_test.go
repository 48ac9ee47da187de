package rkarray

import "testing"

func TestAppendGrowsAndZeroes(t *testing.T) {
	a := New[int]()
	if a.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", a.Len())
	}

	p := a.Append()
	if *p != 0 {
		t.Fatalf("freshly appended element = %d, want 0", *p)
	}
	*p = 42

	if a.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Len())
	}
	if got := *a.At(0); got != 42 {
		t.Fatalf("At(0) = %d, want 42", got)
	}
}

func TestEmptyArrayFirstIsNil(t *testing.T) {
	a := New[string]()
	if a.First() != nil {
		t.Fatal("First() on empty array should be nil")
	}
}

func TestFirstTracksElementZero(t *testing.T) {
	a := New[int]()
	for i := 0; i < 10; i++ {
		*a.Append() = i
	}
	if got := *a.First(); got != 0 {
		t.Fatalf("First() = %d, want 0", got)
	}
	if a.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", a.Len())
	}
}

func TestSlicePreservesOrder(t *testing.T) {
	a := New[int]()
	for i := 0; i < 5; i++ {
		*a.Append() = i * i
	}
	s := a.Slice()
	for i, v := range s {
		if v != i*i {
			t.Errorf("Slice()[%d] = %d, want %d", i, v, i*i)
		}
	}
}
