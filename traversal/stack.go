package traversal

import "github.com/rayforge/rayforge/bvh"

// DefaultStackEntries is the per-ray spill stack capacity. The stack
// behaves as a ring: pushes past the capacity silently overwrite the
// oldest entries and traversal recovers them through the parent
// pointer table instead.
const DefaultStackEntries = 16

// shortStack is the ring buffer backing a traversal stack. top counts
// pushes minus pops and never wraps, watermark tracks the lowest index
// whose entry is still intact after overwrites.
type shortStack struct {
	entries   []uint32
	top       int
	watermark int
}

func newShortStack(capacity int) *shortStack {
	if capacity <= 0 {
		capacity = DefaultStackEntries
	}
	return &shortStack{entries: make([]uint32, capacity)}
}

func (s *shortStack) push(node uint32) {
	s.entries[s.top%len(s.entries)] = node
	s.top++
}

// markOverflow raises the watermark after a burst of pushes so pops
// can tell live entries from overwritten ones.
func (s *shortStack) markOverflow() {
	if over := s.top - len(s.entries); over > s.watermark {
		s.watermark = over
	}
}

func (s *shortStack) empty() bool {
	return s.top == 0
}

// overflowed reports whether the next entry to pop has been
// overwritten by a ring wrap-around.
func (s *shortStack) overflowed() bool {
	return s.watermark >= s.top
}

func (s *shortStack) pop() uint32 {
	s.top--
	return s.entries[s.top%len(s.entries)]
}

// rtn models the combined stack maintenance op of generations with a
// hardware-managed stack. result holds the sorted surviving children
// of the node just visited. Children after lastVisited are pushed
// (farthest first) and the first of them is returned; when lastVisited
// does not appear in result, the whole list is taken. With nothing
// left to push the op pops instead, yielding the terminal marker on an
// empty stack or the invalid marker (after an internal pop) when the
// entry was overwritten, which the caller undoes before walking parent
// pointers.
func (s *shortStack) rtn(lastVisited uint32, result []uint32) uint32 {
	start := 0
	if lastVisited != bvh.InvalidNode && lastVisited != bvh.StackTerminalNode {
		for i, r := range result {
			if r == lastVisited {
				start = i + 1
				break
			}
		}
	}

	end := start
	for end < len(result) && result[end] != bvh.InvalidNode {
		end++
	}
	if end > start {
		for i := end - 1; i > start; i-- {
			s.push(result[i])
		}
		s.markOverflow()
		return result[start]
	}

	if s.empty() {
		return bvh.StackTerminalNode
	}
	s.top--
	if s.watermark > s.top {
		return bvh.InvalidNode
	}
	return s.entries[s.top%len(s.entries)]
}
