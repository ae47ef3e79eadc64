package bvh

// Node handles are 32-bit values addressing into an acceleration
// structure's node pool. The offset is stored in 8-byte units with the
// node kind packed into the low 3 bits.
const (
	NodeTriangle uint32 = 0
	NodeBox16    uint32 = 4
	NodeBox32    uint32 = 5
	NodeInstance uint32 = 6
	NodeAABB     uint32 = 7
)

const (
	// The root box node sits at offset 0 of the node pool.
	RootNode = NodeBox32

	// Sentinel for "no node": traversal complete or empty slot.
	InvalidNode uint32 = 0xffffffff

	// Returned by the combined stack op when the stack has fully
	// drained and no work remains.
	StackTerminalNode uint32 = 0xfffffffe

	// Placed in the instance bottom slot while traversal is in the
	// top-level structure.
	NoInstanceRoot uint32 = 0xfffffffd
)

// Ray flag bits. The low bits double as hardware pointer flags so they
// can be folded into an encoded base pointer on capable generations.
const (
	RayFlagOpaque               uint32 = 0x1
	RayFlagNoOpaque             uint32 = 0x2
	RayFlagTerminateOnFirstHit  uint32 = 0x4
	RayFlagSkipClosestHitShader uint32 = 0x8
	RayFlagCullBackFacing       uint32 = 0x10
	RayFlagCullFrontFacing      uint32 = 0x20
	RayFlagCullOpaque           uint32 = 0x40
	RayFlagCullNoOpaque         uint32 = 0x80
	RayFlagSkipTriangles        uint32 = 0x100
	RayFlagSkipAABBs            uint32 = 0x200
)

// Instance flag bits packed into the top byte of sbtOffsetAndFlags.
const (
	InstanceForceOpaque              uint32 = 1 << 31
	InstanceNoForceNotOpaque         uint32 = 1 << 30
	InstanceTriangleFacingCullDisable uint32 = 1 << 29
	InstanceTriangleFlipFacing       uint32 = 1 << 28
)

// Geometry flag bits packed into the top bits of geometryIDAndFlags.
const (
	GeometryOpaque uint32 = 1 << 31
)

// The node pool spans at most a 42-bit address range so that encoded
// base pointers leave the top bits free for hardware pointer flags.
const bvhAddressBits = 42

// Pointer flags that translate directly to hardware ray behavior.
// Terminate-on-first-hit and skip-closest-hit stay in shader code, and
// the primitive skip flags have no pointer encoding.
const hwPointerFlagMask = RayFlagOpaque | RayFlagNoOpaque |
	RayFlagCullBackFacing | RayFlagCullFrontFacing |
	RayFlagCullOpaque | RayFlagCullNoOpaque

// The bit offset of pointer flags within an encoded base pointer.
const PointerFlagShift = 54

// A generation describes the traversal capabilities of the target:
// box node fan-out, whether stack maintenance is a single combined
// push/pop op and whether base pointers carry ray flags.
type Generation struct {
	FanOut        int
	HardwareStack bool
	PointerFlags  bool
}

var (
	// 4-wide boxes, software-managed spill stack, plain pointers.
	Gen4 = Generation{FanOut: 4}

	// 8-wide boxes with the combined stack op and pointer flags.
	Gen8 = Generation{FanOut: 8, HardwareStack: true, PointerFlags: true}
)

// EncodeBase converts a node pool address into the base pointer format
// used during traversal: shifted down by the 8-byte alignment, masked
// to the supported address-space size, with hardware-translatable ray
// flags folded into the top bits on generations that support it.
func EncodeBase(addr uint64, flags uint32, gen Generation) uint64 {
	base := (addr >> 3) & (((1 << bvhAddressBits) - 1) << 3)
	if gen.PointerFlags {
		base |= uint64(flags&hwPointerFlagMask) << PointerFlagShift
	}
	return base
}

// FoldPointerFlags ORs the translatable ray flags into an already
// encoded base pointer. A ray-level opaqueness override replaces any
// opaqueness bits the pointer carried.
func FoldPointerFlags(base uint64, flags uint32) uint64 {
	if flags&(RayFlagOpaque|RayFlagNoOpaque) != 0 {
		base &^= uint64(RayFlagOpaque|RayFlagNoOpaque) << PointerFlagShift
	}
	return base | uint64(flags&hwPointerFlagMask)<<PointerFlagShift
}

// NodeToAddr converts a global node value (encoded base plus handle)
// back into a full memory address. Tag bits are stripped unless the
// caller already removed them. The high bits are forced to the
// canonical top-of-address-space convention.
func NodeToAddr(node uint64, skipTypeMask bool) uint64 {
	addr := node
	if !skipTypeMask {
		addr &^= 7
	}
	return (addr << 3) | (0xffff << 48)
}

// Node kind tests, cheapest-first: bit 2 splits triangles from the
// rest, bit 1 splits boxes from leaves, bit 0 splits instances from
// procedural AABBs.
func IsTriangleNode(node uint32) bool { return node&4 == 0 }
func IsBoxNode(node uint32) bool      { return node&4 != 0 && node&2 == 0 }
func IsInstanceNode(node uint32) bool { return node&7 == 6 }
func IsAABBNode(node uint32) bool     { return node&7 == 7 }
