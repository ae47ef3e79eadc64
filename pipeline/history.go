package pipeline

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/rayforge/rayforge/types"
)

// Ray history records one packed token per completed trace into a
// shared ring of bytes, so a capture of a whole dispatch can be
// inspected offline. Tokens are reserved with an atomic offset; bit 0
// of the offset marks the buffer as overrun and poisons further
// writes.
const (
	historyHeaderSize = 16

	tokenEndTrace uint32 = 1

	endTraceBaseSize = 60
	endTraceHitSize  = 76
)

// History is an in-memory ray history capture buffer.
type History struct {
	buf    []byte
	scale  uint32
	offset atomic.Uint32
}

// NewHistory allocates a capture buffer. resolutionScale subsamples
// the launch grid: only invocations whose id components are all
// multiples of it are recorded.
func NewHistory(size int, resolutionScale uint32) *History {
	if resolutionScale == 0 {
		resolutionScale = 1
	}
	h := &History{
		buf:   make([]byte, size),
		scale: resolutionScale,
	}
	h.offset.Store(historyHeaderSize)
	return h
}

func (h *History) reserve(size uint32) (int, bool) {
	for {
		old := h.offset.Load()
		if old&1 != 0 {
			return 0, false
		}
		if int(old)+endTraceHitSize > len(h.buf) {
			h.offset.CompareAndSwap(old, old|1)
			return 0, false
		}
		if h.offset.CompareAndSwap(old, old+size) {
			return int(old), true
		}
	}
}

// EndTraceToken is the decoded form of a trace record.
type EndTraceToken struct {
	LaunchIndex uint32
	Hit         bool

	Accel     uint64
	Flags     uint32
	SBTOffset uint32
	SBTStride uint32
	MissIndex uint32
	CullMask  uint32

	Origin    types.Vec3
	Tmin      float32
	Direction types.Vec3
	Tmax      float32

	IterationInstanceCount uint32
	AhitIsecCount          uint32

	PrimitiveID         uint32
	GeometryID          uint32
	InstanceIDAndKind   uint32
	T                   float32
}

// WriteEndTrace records the outcome of one trace.
func (h *History) WriteEndTrace(inv *Invocation, accel uint64,
	flags, cullMask, sbtOffset, sbtStride, missIndex uint32,
	origin types.Vec3, tmin float32, dir types.Vec3, tmax float32,
	iterationInstanceCount, ahitIsecCount uint32, hit bool) {

	for _, id := range inv.LaunchID {
		if id%h.scale != 0 {
			return
		}
	}

	size := uint32(endTraceBaseSize)
	if hit {
		size = endTraceHitSize
	}
	off, ok := h.reserve(size)
	if !ok {
		return
	}

	sw := (inv.LaunchSize[0] + h.scale - 1) / h.scale
	sh := (inv.LaunchSize[1] + h.scale - 1) / h.scale
	sx := inv.LaunchID[0] / h.scale
	sy := inv.LaunchID[1] / h.scale
	sz := inv.LaunchID[2] / h.scale
	index := (sz*sh+sy)*sw + sx

	head := index&0x1fffffff | tokenEndTrace<<30
	if hit {
		head |= 1 << 29
	}

	buf := h.buf[off:]
	le := binary.LittleEndian
	le.PutUint32(buf[0:], head)
	le.PutUint64(buf[4:], accel)
	le.PutUint32(buf[12:], flags&0xffff)
	le.PutUint32(buf[16:], sbtOffset&0xf|sbtStride&0xf<<4|missIndex&0xffff<<8|cullMask&0xff<<24)
	putHistoryVec3(buf[20:], origin)
	le.PutUint32(buf[32:], math.Float32bits(tmin))
	putHistoryVec3(buf[36:], dir)
	le.PutUint32(buf[48:], math.Float32bits(tmax))
	le.PutUint32(buf[52:], iterationInstanceCount)
	le.PutUint32(buf[56:], ahitIsecCount)

	if hit {
		instanceID := inv.InstanceID(inv.Hit)
		le.PutUint32(buf[60:], inv.Hit.PrimitiveID)
		le.PutUint32(buf[64:], inv.Hit.GeometryID)
		le.PutUint32(buf[68:], instanceID&0xffffff|inv.Hit.HitKind<<24)
		le.PutUint32(buf[72:], math.Float32bits(inv.Hit.T))
	}
}

func putHistoryVec3(buf []byte, v types.Vec3) {
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
	}
}

// Tokens decodes every recorded token. Overrun buffers decode the
// tokens written before the overrun.
func (h *History) Tokens() []EndTraceToken {
	end := int(h.offset.Load() &^ 1)
	var out []EndTraceToken

	le := binary.LittleEndian
	for off := historyHeaderSize; off < end; {
		buf := h.buf[off:]
		head := le.Uint32(buf[0:])
		if head>>30 != tokenEndTrace {
			break
		}
		packed := le.Uint32(buf[16:])
		tok := EndTraceToken{
			LaunchIndex: head & 0x1fffffff,
			Hit:         head&(1<<29) != 0,
			Accel:       le.Uint64(buf[4:]),
			Flags:       le.Uint32(buf[12:]),
			SBTOffset:   packed & 0xf,
			SBTStride:   packed >> 4 & 0xf,
			MissIndex:   packed >> 8 & 0xffff,
			CullMask:    packed >> 24,
			Origin:      historyVec3(buf[20:]),
			Tmin:        math.Float32frombits(le.Uint32(buf[32:])),
			Direction:   historyVec3(buf[36:]),
			Tmax:        math.Float32frombits(le.Uint32(buf[48:])),

			IterationInstanceCount: le.Uint32(buf[52:]),
			AhitIsecCount:          le.Uint32(buf[56:]),
		}
		off += endTraceBaseSize
		if tok.Hit {
			tok.PrimitiveID = le.Uint32(buf[60:])
			tok.GeometryID = le.Uint32(buf[64:])
			tok.InstanceIDAndKind = le.Uint32(buf[68:])
			tok.T = math.Float32frombits(le.Uint32(buf[72:]))
			off += endTraceHitSize - endTraceBaseSize
		}
		out = append(out, tok)
	}
	return out
}

func historyVec3(buf []byte) types.Vec3 {
	var v types.Vec3
	for i := 0; i < 3; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
