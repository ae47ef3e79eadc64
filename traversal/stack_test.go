package traversal

import (
	"testing"

	"github.com/rayforge/rayforge/bvh"
)

func TestShortStackPushPop(t *testing.T) {
	s := newShortStack(4)
	if !s.empty() {
		t.Fatal("expected a fresh stack to be empty")
	}

	for _, n := range []uint32{1, 2, 3} {
		s.push(n)
	}
	for _, exp := range []uint32{3, 2, 1} {
		if s.overflowed() {
			t.Fatal("expected no overflow within capacity")
		}
		if got := s.pop(); got != exp {
			t.Fatalf("expected pop %d; got %d", exp, got)
		}
	}
	if !s.empty() {
		t.Fatal("expected an empty stack after draining")
	}
}

func TestShortStackOverflow(t *testing.T) {
	s := newShortStack(4)
	for n := uint32(1); n <= 6; n++ {
		s.push(n)
	}
	s.markOverflow()

	// The four newest entries survive the ring wrap.
	for _, exp := range []uint32{6, 5, 4, 3} {
		if s.overflowed() {
			t.Fatal("expected live entries above the watermark")
		}
		if got := s.pop(); got != exp {
			t.Fatalf("expected pop %d; got %d", exp, got)
		}
	}

	// The two oldest were overwritten.
	if !s.overflowed() {
		t.Fatal("expected the remaining entries to be overwritten")
	}
}

func TestShortStackRtnFirstVisit(t *testing.T) {
	s := newShortStack(8)

	// A first visit takes the whole child list: nearest returned, the
	// rest pushed farthest-first.
	got := s.rtn(bvh.StackTerminalNode, []uint32{5, 6, 7, bvh.InvalidNode})
	if got != 5 {
		t.Fatalf("expected nearest child 5; got %#x", got)
	}
	if got := s.pop(); got != 6 {
		t.Fatalf("expected second-nearest on top; got %#x", got)
	}
	if got := s.pop(); got != 7 {
		t.Fatalf("expected farthest below; got %#x", got)
	}
}

func TestShortStackRtnBacktrack(t *testing.T) {
	s := newShortStack(8)

	// Revisiting after a child resumes behind it without re-pushing.
	got := s.rtn(6, []uint32{5, 6, 7, bvh.InvalidNode})
	if got != 7 {
		t.Fatalf("expected the child after the last visited; got %#x", got)
	}
	if !s.empty() {
		t.Fatal("expected no pushes while resuming")
	}

	// Coming back from the last child pops instead.
	s.push(9)
	if got := s.rtn(7, []uint32{5, 6, 7, bvh.InvalidNode}); got != 9 {
		t.Fatalf("expected a pop after the last child; got %#x", got)
	}
}

func TestShortStackRtnTerminal(t *testing.T) {
	s := newShortStack(8)
	leaf := []uint32{bvh.InvalidNode, bvh.InvalidNode}
	if got := s.rtn(bvh.StackTerminalNode, leaf); got != bvh.StackTerminalNode {
		t.Fatalf("expected the terminal marker on an empty stack; got %#x", got)
	}
}

func TestShortStackRtnOverwrittenPop(t *testing.T) {
	s := newShortStack(2)

	// Four children overflow the two-entry ring.
	if got := s.rtn(bvh.StackTerminalNode, []uint32{1, 2, 3, 4}); got != 1 {
		t.Fatalf("expected nearest child 1; got %#x", got)
	}

	leaf := []uint32{bvh.InvalidNode}
	if got := s.rtn(bvh.StackTerminalNode, leaf); got != 2 {
		t.Fatalf("expected live entry 2; got %#x", got)
	}
	if got := s.rtn(bvh.StackTerminalNode, leaf); got != 3 {
		t.Fatalf("expected live entry 3; got %#x", got)
	}

	// The oldest entry was overwritten; the op reports it invalid so
	// the caller can recover through parent pointers.
	if got := s.rtn(bvh.StackTerminalNode, leaf); got != bvh.InvalidNode {
		t.Fatalf("expected the invalid marker for an overwritten entry; got %#x", got)
	}
}
