package traversal

import (
	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/geom"
	"github.com/rayforge/rayforge/types"
)

// Walk traverses the acceleration structure whose node pool starts at
// root, invoking the handlers for every surviving leaf. It returns the
// work counters. The committed Tmax at return time lives in the State
// handed to the handlers.
func Walk(mem *bvh.Memory, gen bvh.Generation, root uint64, ray Ray, args Args, h Handlers) Stats {
	flags := (ray.Flags | args.SetFlags) &^ args.UnsetFlags

	s := &State{
		Tmin:     ray.Tmin,
		Tmax:     ray.Tmax,
		mem:      mem,
		gen:      gen,
		handlers: h,
		flags:    flags,
		cullMask: ray.CullMask & 0xff,
		rootBase: bvh.EncodeBase(root, flags, gen),

		worldOrigin: ray.Origin,
		worldDir:    ray.Direction,

		current:  bvh.RootNode,
		previous: bvh.InvalidNode,

		stack:    newShortStack(args.StackEntries),
		topStack: -1,

		instanceBottom: bvh.NoInstanceRoot,

		// Standalone bottom-level walks have no instance to supply
		// the no-force-non-opaque encoding, so default to it.
		sbtOffsetAndFlags: bvh.InstanceNoForceNotOpaque,
	}
	s.bvhBase = s.rootBase
	s.origin = ray.Origin
	s.dir = ray.Direction
	s.invDir = geom.ClampInvDir(geom.Reciprocal(s.dir))

	if gen.HardwareStack {
		s.walkHardwareStack()
	} else {
		s.walkShortStack()
	}
	return s.stats
}

// walkShortStack is the traversal loop for generations without the
// combined stack op: explicit pushes of sorted box children, explicit
// pops, and a parent pointer walk once a pop lands on an overwritten
// ring slot.
func (s *State) walkShortStack() {
	for {
		if s.current == bvh.InvalidNode {
			if s.stack.empty() {
				return
			}
			if s.topStack >= s.stack.top || s.previous == s.instanceBottom {
				s.exitInstance()
			}
			if s.stack.overflowed() {
				parent := s.fetchParent(s.previous)
				if parent == bvh.InvalidNode {
					return
				}
				// previous is retained so the parent box resumes
				// after the child we just came back from.
				s.current = parent
			} else {
				s.current = s.stack.pop()
				s.previous = bvh.InvalidNode
			}
		} else {
			s.previous = bvh.InvalidNode
		}

		node := s.current
		s.current = bvh.InvalidNode
		prevNode := s.previous
		s.previous = node
		global := s.bvhBase + uint64(node)

		stop := false
		switch {
		case bvh.IsBoxNode(node):
			result := s.intersectBox(global)
			if prevNode == bvh.InvalidNode {
				count := 0
				for count < len(result) && result[count] != bvh.InvalidNode {
					count++
				}
				for i := count - 1; i >= 1; i-- {
					s.stack.push(result[i])
				}
				if count > 1 {
					s.stack.markOverflow()
				}
				s.current = result[0]
			} else {
				next := bvh.InvalidNode
				for i := 0; i+1 < len(result); i++ {
					if result[i] == prevNode {
						next = result[i+1]
					}
				}
				s.current = next
			}
		case bvh.IsInstanceNode(node):
			if s.enterInstance(global, node) {
				s.current = bvh.RootNode
			}
		case bvh.IsAABBNode(node):
			stop = s.aabbCase(global)
		default:
			stop = s.triangleCase(global)
		}

		s.stats.Iterations++
		if stop {
			return
		}
	}
}

// walkHardwareStack is the traversal loop for generations where push,
// pop and resume-after-child are one combined op. The loop body only
// classifies the node and prepares the op's inputs.
func (s *State) walkHardwareStack() {
	for {
		if s.current == bvh.StackTerminalNode {
			return
		}
		// Instance exit must precede overflow recovery: a bottom-level
		// root has no parent entry, so recovery past it has to resume
		// from the instance node in the top-level structure.
		if s.topStack >= 0 && (s.stack.top < s.topStack ||
			(s.current == bvh.InvalidNode && s.previous == s.instanceBottom)) {
			s.exitInstance()
		}
		if s.current == bvh.InvalidNode {
			// The op already popped the overwritten slot, undo that
			// before recovering through the parent pointers.
			s.stack.top++
			parent := s.fetchParent(s.previous)
			if parent == bvh.InvalidNode {
				return
			}
			s.current = parent
		}

		node := s.current
		prevNode := s.previous
		s.previous = node
		global := s.bvhBase + uint64(node)

		lastVisited := bvh.StackTerminalNode
		result := make([]uint32, s.gen.FanOut)
		for i := range result {
			result[i] = bvh.InvalidNode
		}

		stop := false
		switch {
		case bvh.IsBoxNode(node):
			result = s.intersectBox(global)
			lastVisited = prevNode
		case bvh.IsInstanceNode(node):
			if s.enterInstance(global, node) {
				lastVisited = bvh.InvalidNode
				result[0] = bvh.RootNode
			}
		case bvh.IsAABBNode(node):
			stop = s.aabbCase(global)
		default:
			stop = s.triangleCase(global)
		}

		s.stats.Iterations++
		if stop {
			return
		}
		s.current = s.stack.rtn(lastVisited, result)
	}
}

func (s *State) fetchParent(node uint32) uint32 {
	poolBase := bvh.NodeToAddr(s.bvhBase, true)
	return s.mem.U32(poolBase - bvh.ParentEntryOffset(node))
}

func (s *State) intersectBox(global uint64) []uint32 {
	addr := bvh.NodeToAddr(global, false)
	children, bounds := bvh.LoadBoxChildren(s.mem, addr, s.gen.FanOut)
	if s.gen.FanOut == 8 {
		result := geom.IntersectBox8(s.origin, s.invDir, s.Tmax,
			[8]uint32(children), [8][2]types.Vec3(bounds))
		return result[:]
	}
	result := geom.IntersectBox4(s.origin, s.invDir, s.Tmax,
		[4]uint32(children), [4][2]types.Vec3(bounds))
	return result[:]
}

// enterInstance loads the instance leaf, applies the cull mask and
// switches traversal into the referenced bottom-level structure's
// object space. It reports whether the instance survived the mask.
func (s *State) enterInstance(global uint64, node uint32) bool {
	s.stats.InstanceVisits++

	addr := bvh.NodeToAddr(global, false)
	ptr := s.mem.U64(addr + bvh.InstancePtrOffset)
	customAndMask := s.mem.U32(addr + bvh.InstanceCustomAndMaskOffset)
	s.sbtOffsetAndFlags = s.mem.U32(addr + bvh.InstanceSBTOffsetAndFlagsOffset)

	if customAndMask&(s.cullMask<<24) == 0 {
		return false
	}

	s.customAndMask = customAndMask
	s.instanceAddr = addr
	s.topStack = s.stack.top
	s.instanceBottom = bvh.RootNode
	s.instanceTop = node

	if s.gen.PointerFlags {
		ptr = bvh.FoldPointerFlags(ptr, s.flags)
	}
	s.bvhBase = ptr

	wto := s.mem.Mat3x4(addr + bvh.InstanceWTOOffset)
	s.origin = wto.TransformPoint(s.worldOrigin)
	s.dir = wto.TransformDir(s.worldDir)
	s.invDir = geom.ClampInvDir(geom.Reciprocal(s.dir))
	return true
}

// exitInstance restores top-level traversal once the bottom-level
// subtree is exhausted. previous becomes the instance node itself so
// an overflow recovery resumes at the right top-level box child.
func (s *State) exitInstance() {
	s.topStack = -1
	s.previous = s.instanceTop
	s.instanceBottom = bvh.NoInstanceRoot
	s.bvhBase = s.rootBase
	s.origin = s.worldOrigin
	s.dir = s.worldDir
	s.invDir = geom.ClampInvDir(geom.Reciprocal(s.dir))
	s.sbtOffsetAndFlags = bvh.InstanceNoForceNotOpaque
}

func (s *State) triangleCase(global uint64) bool {
	if s.handlers.Triangle == nil {
		return false
	}

	addr := bvh.NodeToAddr(global, false)
	v0 := s.mem.Vec3(addr + bvh.TriangleVertexOffset)
	v1 := s.mem.Vec3(addr + bvh.TriangleVertexOffset + 12)
	v2 := s.mem.Vec3(addr + bvh.TriangleVertexOffset + 24)

	res := geom.IntersectTriangle(s.origin, s.dir, s.invDir, v0, v1, v2)
	t := res.T / res.Det
	if t >= s.Tmax {
		return false
	}

	frontface := res.Det > 0
	if s.sbtOffsetAndFlags&bvh.InstanceTriangleFlipFacing != 0 {
		frontface = !frontface
	}

	notCull := !s.flag(bvh.RayFlagSkipTriangles)
	if notCull {
		faceSurvives := !s.flag(bvh.RayFlagCullBackFacing)
		if frontface {
			faceSurvives = !s.flag(bvh.RayFlagCullFrontFacing)
		}
		notCull = faceSurvives ||
			s.sbtOffsetAndFlags&bvh.InstanceTriangleFacingCullDisable != 0
	}
	if !(s.Tmin < t && notCull) {
		return false
	}

	primitiveID := s.mem.U32(addr + bvh.TriangleIDOffset)
	geometryIDAndFlags := s.mem.U32(addr + bvh.TriangleGeometryIDOffset)
	opaque := s.hitIsOpaque(geometryIDAndFlags)
	if opaque {
		if s.flag(bvh.RayFlagCullOpaque) {
			return false
		}
	} else if s.flag(bvh.RayFlagCullNoOpaque) {
		return false
	}

	return s.handlers.Triangle(s, TriangleCandidate{
		T:                  t,
		Frontface:          frontface,
		Barycentrics:       [2]float32{res.V / res.Det, res.W / res.Det},
		PrimitiveAddr:      addr,
		PrimitiveID:        primitiveID,
		GeometryIDAndFlags: geometryIDAndFlags,
		Opaque:             opaque,
		InstanceAddr:       s.instanceAddr,
		SBTOffsetAndFlags:  s.sbtOffsetAndFlags,
	})
}

func (s *State) aabbCase(global uint64) bool {
	if s.handlers.AABB == nil || s.flag(bvh.RayFlagSkipAABBs) {
		return false
	}

	addr := bvh.NodeToAddr(global, false)
	primitiveID := s.mem.U32(addr + bvh.AABBPrimitiveIDOffset)
	geometryIDAndFlags := s.mem.U32(addr + bvh.AABBGeometryIDOffset)
	opaque := s.hitIsOpaque(geometryIDAndFlags)
	if opaque {
		if s.flag(bvh.RayFlagCullOpaque) {
			return false
		}
	} else if s.flag(bvh.RayFlagCullNoOpaque) {
		return false
	}

	return s.handlers.AABB(s, AABBCandidate{
		PrimitiveAddr:      addr,
		PrimitiveID:        primitiveID,
		GeometryIDAndFlags: geometryIDAndFlags,
		Opaque:             opaque,
		InstanceAddr:       s.instanceAddr,
		SBTOffsetAndFlags:  s.sbtOffsetAndFlags,
	})
}
