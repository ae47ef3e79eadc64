package bvh

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/rayforge/rayforge/types"
)

// The canonical high bits set by NodeToAddr are not part of the
// physical location and get masked off on every access.
const addrMask = (1 << 48) - 1

// Memory simulates the device address space acceleration structures
// live in. Buffers are registered at 64-bit base addresses and read
// back with aligned little-endian loads. Traversal never writes.
type Memory struct {
	regions []memRegion
	next    uint64
}

type memRegion struct {
	base uint64
	data []byte
}

const allocBase = 0x10_0000

func NewMemory() *Memory {
	return &Memory{next: allocBase}
}

// Alloc reserves a zeroed buffer at a fresh base address. Bases are
// 256-byte aligned so node alignment guarantees carry over.
func (m *Memory) Alloc(size int) (uint64, []byte) {
	base := m.next
	data := make([]byte, size)
	m.regions = append(m.regions, memRegion{base: base, data: data})
	m.next = (base + uint64(size) + 255) &^ 255
	return base, data
}

func (m *Memory) region(addr uint64, size int) ([]byte, error) {
	addr &= addrMask
	for _, r := range m.regions {
		if addr >= r.base && addr+uint64(size) <= r.base+uint64(len(r.data)) {
			off := addr - r.base
			return r.data[off : off+uint64(size)], nil
		}
	}
	return nil, errors.Errorf("bvh: unmapped address %#x", addr)
}

func (m *Memory) bytes(addr uint64, size int) []byte {
	data, err := m.region(addr, size)
	if err != nil {
		// Malformed handles are a producer contract violation.
		panic(err)
	}
	return data
}

func (m *Memory) U32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(m.bytes(addr, 4))
}

func (m *Memory) U64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.bytes(addr, 8))
}

func (m *Memory) F32(addr uint64) float32 {
	return math.Float32frombits(m.U32(addr))
}

func (m *Memory) Vec3(addr uint64) types.Vec3 {
	return types.Vec3{m.F32(addr), m.F32(addr + 4), m.F32(addr + 8)}
}

func (m *Memory) Mat3x4(addr uint64) types.Mat3x4 {
	var out types.Mat3x4
	for i := range out {
		out[i] = m.F32(addr + uint64(i)*4)
	}
	return out
}
