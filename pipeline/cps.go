package pipeline

import (
	"encoding/binary"
	"sync"

	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/traversal"
	"github.com/rayforge/rayforge/types"
)

// Scheduling priorities, carried in the low bits of continuation
// addresses so the scheduler can ballot on them without a table
// lookup. Higher runs first, which drains deep call chains before
// starting new ones.
const (
	PriorityRayGen    uint64 = 0
	PriorityTraversal uint64 = 1
	PriorityHitMiss   uint64 = 2
	PriorityCallable  uint64 = 3

	priorityMask uint64 = 3
)

const defaultWaveWidth = 64

// LaneFn is one scheduling unit of the continuation-passing model: a
// shader entry or the resume point after a trace or callable.
type LaneFn func(l *Lane)

// Lane is one invocation executing under the continuation-passing
// model. Continuation return addresses live in a byte stack in
// 16-byte frames; trace arguments sit in well-known slots consumed by
// the traversal continuation.
type Lane struct {
	*Invocation

	exec       *CPSExecutor
	shaderAddr uint64

	stack    []byte
	stackPtr int

	trace cpsTraceArgs
}

type cpsTraceArgs struct {
	accel     *bvh.Accel
	flags     uint32
	cullMask  uint32
	sbtOffset uint32
	sbtStride uint32
	missIndex uint32
	origin    types.Vec3
	tmin      float32
	dir       types.Vec3
	tmax      float32
}

// CPSExecutor runs a pipeline under the continuation-passing model:
// every stage boundary becomes a continuation address, and a wave
// scheduler repeatedly picks the best priority class, reads the
// address of its first lane and runs exactly the lanes matching it.
type CPSExecutor struct {
	p *Pipeline

	conts         []LaneFn
	traversalAddr uint64

	closestHitAddr map[ShaderHandle]uint64
	missAddr       map[ShaderHandle]uint64
	callableAddr   map[ShaderHandle]uint64

	mu           sync.Mutex
	maxStackSeen int
}

// NewCPSExecutor compiles the pipeline's stage tables into addressed
// continuations. Raygen entry continuations are bound by the caller
// so resume points can be registered alongside them.
func NewCPSExecutor(p *Pipeline) *CPSExecutor {
	e := &CPSExecutor{
		p:              p,
		closestHitAddr: make(map[ShaderHandle]uint64),
		missAddr:       make(map[ShaderHandle]uint64),
		callableAddr:   make(map[ShaderHandle]uint64),
	}
	e.traversalAddr = e.Bind(PriorityTraversal, e.traversalShader)

	for _, c := range p.cfg.ClosestHit {
		fn := c.Fn
		e.closestHitAddr[c.Handle] = e.Bind(PriorityHitMiss, func(l *Lane) {
			fn(l.Invocation)
			l.Return()
		})
	}
	for _, c := range p.cfg.Miss {
		fn := c.Fn
		e.missAddr[c.Handle] = e.Bind(PriorityHitMiss, func(l *Lane) {
			fn(l.Invocation)
			l.Return()
		})
	}
	for _, c := range p.cfg.Callable {
		fn := c.Fn
		e.callableAddr[c.Handle] = e.Bind(PriorityCallable, func(l *Lane) {
			fn(l.Invocation)
			l.Return()
		})
	}
	return e
}

// Bind registers a continuation and returns its address: a nonzero
// 16-aligned slot id with the priority in the low bits.
func (e *CPSExecutor) Bind(priority uint64, fn LaneFn) uint64 {
	e.conts = append(e.conts, fn)
	return uint64(len(e.conts))<<4 | priority
}

// Run launches entry over the grid, scheduling wave-sized groups of
// lanes concurrently.
func (e *CPSExecutor) Run(size [3]uint32, entry uint64) {
	var lanes []*Lane
	for z := uint32(0); z < size[2]; z++ {
		for y := uint32(0); y < size[1]; y++ {
			for x := uint32(0); x < size[0]; x++ {
				lanes = append(lanes, &Lane{
					Invocation: e.p.newInvocation([3]uint32{x, y, z}, size),
					exec:       e,
					shaderAddr: entry,
				})
			}
		}
	}

	var wg sync.WaitGroup
	for len(lanes) > 0 {
		n := defaultWaveWidth
		if n > len(lanes) {
			n = len(lanes)
		}
		w := &wave{exec: e, lanes: lanes[:n]}
		lanes = lanes[n:]
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run()
		}()
	}
	wg.Wait()
}

// StackSize reports the deepest continuation stack any lane used
// across the dispatches run so far. The bound is measured rather than
// derived up front: continuations are plain Go closures with no
// declared frame sizes, so the per-stage sum a driver would compute
// at pipeline creation has no input to work from here.
func (e *CPSExecutor) StackSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxStackSeen
}

func (e *CPSExecutor) noteStack(depth int) {
	e.mu.Lock()
	if depth > e.maxStackSeen {
		e.maxStackSeen = depth
	}
	e.mu.Unlock()
}

type wave struct {
	exec  *CPSExecutor
	lanes []*Lane
}

// run is the wave scheduler: ballot the live priorities, pick the
// best class, take the address of its first live lane and execute
// only the lanes whose address matches.
func (w *wave) run() {
	for {
		bestPrio := -1
		for _, l := range w.lanes {
			if l.shaderAddr != 0 && int(l.shaderAddr&priorityMask) > bestPrio {
				bestPrio = int(l.shaderAddr & priorityMask)
			}
		}
		if bestPrio < 0 {
			return
		}

		var uniform uint64
		for _, l := range w.lanes {
			if l.shaderAddr != 0 && int(l.shaderAddr&priorityMask) == bestPrio {
				uniform = l.shaderAddr
				break
			}
		}

		fn := w.exec.conts[uniform>>4-1]
		for _, l := range w.lanes {
			if l.shaderAddr == uniform {
				l.shaderAddr = 0
				fn(l)
			}
		}
	}
}

func (l *Lane) push(v uint64) {
	l.stackPtr = (l.stackPtr + 15) &^ 15
	for len(l.stack) < l.stackPtr+16 {
		l.stack = append(l.stack, make([]byte, 64)...)
	}
	binary.LittleEndian.PutUint64(l.stack[l.stackPtr:], v)
	l.stackPtr += 16
	l.exec.noteStack(l.stackPtr)
}

func (l *Lane) pop() uint64 {
	l.stackPtr -= 16
	return binary.LittleEndian.Uint64(l.stack[l.stackPtr:])
}

// Return resumes the continuation on top of the stack; a lane whose
// stack is empty is done.
func (l *Lane) Return() {
	if l.stackPtr == 0 {
		l.shaderAddr = 0
		return
	}
	l.shaderAddr = l.pop()
}

// Trace suspends the lane for a trace: the resume continuation is
// saved, the trace arguments parked and the lane pointed at the
// traversal continuation. Control returns to resume once the
// closest-hit or miss stage finished.
func (l *Lane) Trace(accel *bvh.Accel, flags, cullMask uint32,
	sbtOffset, sbtStride, missIndex uint32,
	origin types.Vec3, tmin float32, dir types.Vec3, tmax float32,
	resume uint64) {

	l.push(resume)
	l.trace = cpsTraceArgs{
		accel:     accel,
		flags:     flags,
		cullMask:  cullMask,
		sbtOffset: sbtOffset & 0xf,
		sbtStride: sbtStride & 0xf,
		missIndex: missIndex & 0xffff,
		origin:    origin,
		tmin:      tmin,
		dir:       dir,
		tmax:      tmax,
	}
	l.shaderAddr = l.exec.traversalAddr
}

// Call suspends the lane into the callable at the given table index.
func (l *Lane) Call(index uint32, resume uint64) {
	sbt := &l.exec.p.sbt
	if int(index) >= len(sbt.Callables) {
		l.shaderAddr = resume
		return
	}
	addr, ok := l.exec.callableAddr[sbt.Callables[index].Shader]
	if !ok {
		l.shaderAddr = resume
		return
	}
	l.push(resume)
	l.shaderAddr = addr
}

// traversalShader is the built-in continuation every trace funnels
// through: it walks the acceleration structure with the candidate
// handlers inlined, then forwards the lane to the closest-hit or miss
// continuation, or straight back to the caller when that stage is
// skipped or null.
func (e *CPSExecutor) traversalShader(l *Lane) {
	p := e.p
	inv := l.Invocation
	args := l.trace

	eff := (args.flags | p.cfg.SetFlags) &^ p.cfg.UnsetFlags
	inv.RayOrigin = args.origin
	inv.RayDirection = args.dir
	inv.RayTmin = args.tmin
	inv.rayTmax = args.tmax
	inv.RayFlags = eff
	inv.CullMask = args.cullMask
	inv.MissIndex = args.missIndex
	inv.Hit = HitInfo{}

	ctx := &traceCtx{
		p:                   p,
		inv:                 inv,
		sbtOffset:           args.sbtOffset,
		sbtStride:           args.sbtStride,
		terminateOnFirstHit: eff&bvh.RayFlagTerminateOnFirstHit != 0,
	}
	ray := traversal.Ray{
		Origin:    args.origin,
		Direction: args.dir,
		Tmin:      args.tmin,
		Tmax:      args.tmax,
		Flags:     eff,
		CullMask:  args.cullMask,
	}
	stats := traversal.Walk(p.mem, p.gen, args.accel.NodesBase, ray,
		traversal.Args{StackEntries: p.cfg.StackEntries},
		traversal.Handlers{
			Triangle: ctx.handleTriangle,
			AABB:     ctx.handleAABB,
		})

	if p.cfg.History != nil {
		p.cfg.History.WriteEndTrace(inv, args.accel.Base, args.flags, args.cullMask,
			args.sbtOffset, args.sbtStride, args.missIndex,
			args.origin, args.tmin, args.dir, args.tmax,
			stats.Packed(), ctx.ahitIsec, ctx.hit)
	}

	if ctx.hit {
		if eff&bvh.RayFlagSkipClosestHitShader != 0 {
			l.Return()
			return
		}
		record := p.sbt.HitGroup(inv.Hit.SBTIndex)
		if addr, ok := e.closestHitAddr[record.ClosestHit]; ok && record.ClosestHit != NullShader {
			l.shaderAddr = addr
			return
		}
		l.Return()
		return
	}

	record := p.sbt.MissShader(args.missIndex)
	if addr, ok := e.missAddr[record.Shader]; ok && record.Shader != NullShader {
		l.shaderAddr = addr
		return
	}
	l.Return()
}
