package bvh

import (
	"encoding/binary"
	"math"

	"github.com/rayforge/rayforge/types"
)

// Byte layout of an encoded acceleration structure.
//
// A 64-byte header is followed by the parent pointer table and the
// 64-byte-aligned node pool. Node handles are relative to the pool
// base, the parent table grows downward from it so the entry for
// handle n lives at base - (n/8)*4 - 4.
const (
	HeaderSize = 64

	// Header fields.
	HeaderBVHOffset     = 0
	HeaderNodeCount     = 4
	HeaderLeafCount     = 8
	HeaderInstanceCount = 12

	TriangleNodeSize     = 64
	TriangleVertexOffset = 0
	TriangleIDOffset     = 48
	TriangleGeometryIDOffset = 52

	AABBNodeSize         = 64
	AABBMinOffset        = 0
	AABBMaxOffset        = 12
	AABBPrimitiveIDOffset = 48
	AABBGeometryIDOffset = 52

	InstanceNodeSize       = 128
	InstancePtrOffset      = 0
	InstanceCustomAndMaskOffset = 8
	InstanceSBTOffsetAndFlagsOffset = 12
	InstanceWTOOffset      = 16
	InstanceIDOffset       = 64
	InstanceOTWOffset      = 80
)

// BoxNodeSize returns the encoded size of a box node with the given
// fan-out: child handles first, then min/max bounds per child, padded
// to the 64-byte node granularity.
func BoxNodeSize(fanOut int) int {
	raw := 4*fanOut + 24*fanOut
	return (raw + 63) &^ 63
}

// BoxChildOffset returns the byte offset of child slot i.
func BoxChildOffset(i int) int {
	return 4 * i
}

// BoxCoordsOffset returns the byte offset of child i's bounds.
func BoxCoordsOffset(fanOut, i int) int {
	return 4*fanOut + 24*i
}

// ParentEntryOffset returns the distance below the node pool base at
// which the parent handle of node lives.
func ParentEntryOffset(node uint32) uint64 {
	return uint64(node/8)*4 + 4
}

func putVec3(buf []byte, off int, v types.Vec3) {
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[off+i*4:], math.Float32bits(v[i]))
	}
}

func putMat3x4(buf []byte, off int, m types.Mat3x4) {
	for i, f := range m {
		binary.LittleEndian.PutUint32(buf[off+i*4:], math.Float32bits(f))
	}
}

// PutTriangleNode encodes a triangle leaf at the start of buf.
func PutTriangleNode(buf []byte, v0, v1, v2 types.Vec3, triangleID, geometryIDAndFlags uint32) {
	putVec3(buf, TriangleVertexOffset, v0)
	putVec3(buf, TriangleVertexOffset+12, v1)
	putVec3(buf, TriangleVertexOffset+24, v2)
	binary.LittleEndian.PutUint32(buf[TriangleIDOffset:], triangleID)
	binary.LittleEndian.PutUint32(buf[TriangleGeometryIDOffset:], geometryIDAndFlags)
}

// PutAABBNode encodes a procedural leaf at the start of buf.
func PutAABBNode(buf []byte, bounds [2]types.Vec3, primitiveID, geometryIDAndFlags uint32) {
	putVec3(buf, AABBMinOffset, bounds[0])
	putVec3(buf, AABBMaxOffset, bounds[1])
	binary.LittleEndian.PutUint32(buf[AABBPrimitiveIDOffset:], primitiveID)
	binary.LittleEndian.PutUint32(buf[AABBGeometryIDOffset:], geometryIDAndFlags)
}

// PutBoxNode encodes an internal node at the start of buf. Unused
// child slots get the invalid handle and NaN min bounds so the
// intersection routines treat them as inactive.
func PutBoxNode(buf []byte, fanOut int, children []uint32, bounds [][2]types.Vec3) {
	nan := float32(math.NaN())
	for i := 0; i < fanOut; i++ {
		child := InvalidNode
		childBounds := [2]types.Vec3{{nan, nan, nan}, {nan, nan, nan}}
		if i < len(children) {
			child = children[i]
			childBounds = bounds[i]
		}
		binary.LittleEndian.PutUint32(buf[BoxChildOffset(i):], child)
		putVec3(buf, BoxCoordsOffset(fanOut, i), childBounds[0])
		putVec3(buf, BoxCoordsOffset(fanOut, i)+12, childBounds[1])
	}
}

// PutInstanceNode encodes an instance leaf at the start of buf. The
// child pointer must already be in encoded base pointer format.
func PutInstanceNode(buf []byte, ptr uint64, customAndMask, sbtOffsetAndFlags uint32, wto, otw types.Mat3x4, instanceID uint32) {
	binary.LittleEndian.PutUint64(buf[InstancePtrOffset:], ptr)
	binary.LittleEndian.PutUint32(buf[InstanceCustomAndMaskOffset:], customAndMask)
	binary.LittleEndian.PutUint32(buf[InstanceSBTOffsetAndFlagsOffset:], sbtOffsetAndFlags)
	putMat3x4(buf, InstanceWTOOffset, wto)
	binary.LittleEndian.PutUint32(buf[InstanceIDOffset:], instanceID)
	putMat3x4(buf, InstanceOTWOffset, otw)
}

// LoadBoxChildren reads the child handles and per-child bounds of the
// box node at addr.
func LoadBoxChildren(m *Memory, addr uint64, fanOut int) ([]uint32, [][2]types.Vec3) {
	children := make([]uint32, fanOut)
	bounds := make([][2]types.Vec3, fanOut)
	for i := 0; i < fanOut; i++ {
		children[i] = m.U32(addr + uint64(BoxChildOffset(i)))
		coords := addr + uint64(BoxCoordsOffset(fanOut, i))
		bounds[i] = [2]types.Vec3{m.Vec3(coords), m.Vec3(coords + 12)}
	}
	return children, bounds
}
