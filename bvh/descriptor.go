package bvh

// BoxSortMode selects how a hardware box test orders the surviving
// children of a box node.
type BoxSortMode uint32

const (
	BoxSortClosest  BoxSortMode = 0
	BoxSortLargest  BoxSortMode = 1
	BoxSortMidpoint BoxSortMode = 2
)

// Descriptor is the opaque 128-bit structure consumed by a hardware
// intersection instruction. One descriptor covers the entire address
// range so every ray can share it regardless of which structure it
// traverses, at the cost of 64-bit node values.
type Descriptor [4]uint32

const (
	descBoxSortEnable      = 1 << (63 - 32)
	descSortTrianglesFirst = 1 << (52 - 32)
	descBoxSortModeShift   = 21

	descTriangleReturnIJ  = 1 << (120 - 96)
	descPointerFlagEnable = 1 << (119 - 96)
	descInstanceEnable    = 1 << (118 - 96)
	descWideSortEnable    = 1 << (117 - 96)
	descCompressedFormat  = 1 << (115 - 96)
	descValid             = 1 << 31
)

// MakeDescriptor builds a descriptor for the given generation and box
// sort mode.
func MakeDescriptor(gen Generation, mode BoxSortMode) Descriptor {
	size := uint64(1) << bvhAddressBits

	dword1 := uint32(descBoxSortEnable) | uint32(mode)<<descBoxSortModeShift
	dword2 := uint32((size - 1) & 0xffffffff)
	dword3 := uint32((size-1)>>32) | descTriangleReturnIJ | descValid

	if gen.PointerFlags {
		dword3 |= descPointerFlagEnable
	}
	if gen.FanOut == 8 {
		dword1 |= descSortTrianglesFirst
		dword3 |= descCompressedFormat | descWideSortEnable | descInstanceEnable
	}

	return Descriptor{0, dword1, dword2, dword3}
}

// SelectBoxSortMode picks the sort heuristic by a wave-wide vote over
// the terminate-on-first-hit flag: largest when every lane sets it,
// midpoint when no lane does, and the default closest point when the
// wave disagrees.
func SelectBoxSortMode(terminateOnFirstHit []bool) BoxSortMode {
	any, all := false, true
	for _, t := range terminateOnFirstHit {
		any = any || t
		all = all && t
	}
	switch {
	case all && any:
		return BoxSortLargest
	case !any:
		return BoxSortMidpoint
	default:
		return BoxSortClosest
	}
}
