// Package traversal implements the acceleration structure walk: a
// single state machine that visits box, instance, triangle and
// procedural nodes, keeps candidate ordering with a bounded spill
// stack and recovers from stack overflow through parent pointers.
package traversal

import (
	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/types"
)

// Ray is the world-space query. Flags take the RayFlag* bits, CullMask
// is compared against the top byte of each instance's mask word.
type Ray struct {
	Origin    types.Vec3
	Direction types.Vec3
	Tmin      float32
	Tmax      float32
	Flags     uint32
	CullMask  uint32
}

// Args carries the per-call specialization knobs. SetFlags and
// UnsetFlags fold into the ray flags before the walk starts, the way a
// pipeline with statically known flags would have folded them at
// compile time. UnsetFlags wins over SetFlags.
type Args struct {
	SetFlags     uint32
	UnsetFlags   uint32
	StackEntries int
}

// TriangleCandidate describes an accepted triangle leaf before any
// opacity resolution by the caller. T is the unclipped hit distance,
// Barycentrics hold the weights of the second and third vertex.
type TriangleCandidate struct {
	T                  float32
	Frontface          bool
	Barycentrics       [2]float32
	PrimitiveAddr      uint64
	PrimitiveID        uint32
	GeometryIDAndFlags uint32
	Opaque             bool
	InstanceAddr       uint64
	SBTOffsetAndFlags  uint32
}

// AABBCandidate describes a procedural leaf whose box survived the
// parent test. The caller intersects the primitive itself.
type AABBCandidate struct {
	PrimitiveAddr      uint64
	PrimitiveID        uint32
	GeometryIDAndFlags uint32
	Opaque             bool
	InstanceAddr       uint64
	SBTOffsetAndFlags  uint32
}

// Handlers receive candidate leaves. Returning true stops the walk,
// which is how terminate-on-first-hit is realized. A handler may
// shrink State.Tmax to commit a hit; later box and triangle tests
// observe the new bound immediately.
type Handlers struct {
	Triangle func(s *State, c TriangleCandidate) bool
	AABB     func(s *State, c AABBCandidate) bool
}

// Stats counts traversal work for ray history capture and debugging.
type Stats struct {
	Iterations     uint32
	InstanceVisits uint32
}

// Packed returns the counters in the wire form used by history
// tokens: iterations in the low half, instance visits in the high.
func (s Stats) Packed() uint32 {
	return s.Iterations&0xffff | s.InstanceVisits<<16
}

// State is the live traversal register file. Handlers may read Tmin
// and the committed Tmax and may lower Tmax.
type State struct {
	Tmin float32
	Tmax float32

	mem      *bvh.Memory
	gen      bvh.Generation
	handlers Handlers

	flags    uint32
	cullMask uint32

	rootBase uint64
	bvhBase  uint64

	worldOrigin types.Vec3
	worldDir    types.Vec3
	origin      types.Vec3
	dir         types.Vec3
	invDir      types.Vec3

	current  uint32
	previous uint32

	stack    *shortStack
	topStack int

	instanceTop       uint32
	instanceBottom    uint32
	instanceAddr      uint64
	customAndMask     uint32
	sbtOffsetAndFlags uint32

	stats Stats
}

func (s *State) flag(bit uint32) bool {
	return s.flags&bit != 0
}

// hitIsOpaque resolves leaf opacity: the geometry bit or the
// instance's force-opaque bit set it, the instance's force-non-opaque
// encoding clears it and the ray flags override both.
func (s *State) hitIsOpaque(geometryIDAndFlags uint32) bool {
	combined := geometryIDAndFlags | s.sbtOffsetAndFlags
	opaque := combined >= bvh.InstanceForceOpaque|bvh.InstanceNoForceNotOpaque
	if s.flag(bvh.RayFlagOpaque) {
		opaque = true
	}
	if s.flag(bvh.RayFlagNoOpaque) {
		opaque = false
	}
	return opaque
}
