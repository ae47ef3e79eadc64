package pipeline

import (
	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/traversal"
	"github.com/rayforge/rayforge/types"
)

// traceCtx is the per-trace state shared between the leaf handlers of
// one traversal.
type traceCtx struct {
	p   *Pipeline
	inv *Invocation

	sbtOffset uint32
	sbtStride uint32

	terminateOnFirstHit bool
	hit                 bool

	// Any-hit invocations in the low half, intersection invocations
	// in the high, matching the history token encoding.
	ahitIsec uint32
}

// TraceRay traverses accel and runs the closest-hit or miss stage for
// the result, recursing inline under the monolithic execution model.
// Traces beyond the pipeline's declared recursion depth are dropped.
func (inv *Invocation) TraceRay(accel *bvh.Accel, flags, cullMask uint32,
	sbtOffset, sbtStride, missIndex uint32,
	origin types.Vec3, tmin float32, dir types.Vec3, tmax float32) {

	p := inv.pipeline
	if inv.depth >= p.cfg.MaxRecursionDepth {
		p.logger.Errorf("trace at depth %d exceeds declared recursion depth %d, dropping",
			inv.depth+1, p.cfg.MaxRecursionDepth)
		return
	}

	// Save the enclosing trace's view so recursion can restore it.
	saved := *inv
	inv.depth++

	eff := (flags | p.cfg.SetFlags) &^ p.cfg.UnsetFlags
	inv.RayOrigin = origin
	inv.RayDirection = dir
	inv.RayTmin = tmin
	inv.rayTmax = tmax
	inv.RayFlags = eff
	inv.CullMask = cullMask
	inv.MissIndex = missIndex
	inv.Hit = HitInfo{}

	ctx := &traceCtx{
		p:                   p,
		inv:                 inv,
		sbtOffset:           sbtOffset & 0xf,
		sbtStride:           sbtStride & 0xf,
		terminateOnFirstHit: eff&bvh.RayFlagTerminateOnFirstHit != 0,
	}

	ray := traversal.Ray{
		Origin:    origin,
		Direction: dir,
		Tmin:      tmin,
		Tmax:      tmax,
		Flags:     eff,
		CullMask:  cullMask,
	}
	stats := traversal.Walk(p.mem, p.gen, accel.NodesBase, ray,
		traversal.Args{StackEntries: p.cfg.StackEntries},
		traversal.Handlers{
			Triangle: ctx.handleTriangle,
			AABB:     ctx.handleAABB,
		})

	if p.cfg.History != nil {
		p.cfg.History.WriteEndTrace(inv, accel.Base, flags, cullMask,
			sbtOffset, sbtStride, missIndex,
			origin, tmin, dir, tmax,
			stats.Packed(), ctx.ahitIsec, ctx.hit)
	}

	switch {
	case ctx.hit:
		if eff&bvh.RayFlagSkipClosestHitShader == 0 {
			record := p.sbt.HitGroup(inv.Hit.SBTIndex)
			if fn, ok := p.closestHit(record.ClosestHit); ok {
				fn(inv)
			}
		}
	default:
		record := p.sbt.MissShader(missIndex & 0xffff)
		if fn, ok := p.miss(record.Shader); ok {
			fn(inv)
		}
	}

	// Payload survives the restore; everything else reverts to the
	// caller's trace.
	payload := inv.Payload
	*inv = saved
	inv.Payload = payload
}

func (ctx *traceCtx) sbtIndex(sbtOffsetAndFlags, geometryIDAndFlags uint32) uint32 {
	return ctx.sbtOffset + sbtOffsetAndFlags&0xffffff +
		ctx.sbtStride*(geometryIDAndFlags&0xfffffff)
}

func (ctx *traceCtx) handleTriangle(s *traversal.State, c traversal.TriangleCandidate) bool {
	inv := ctx.inv

	hitKind := HitKindBackFacingTriangle
	if c.Frontface {
		hitKind = HitKindFrontFacingTriangle
	}
	candidate := HitInfo{
		T:             c.T,
		Barycentrics:  c.Barycentrics,
		PrimitiveAddr: c.PrimitiveAddr,
		PrimitiveID:   c.PrimitiveID,
		GeometryID:    c.GeometryIDAndFlags & 0xfffffff,
		InstanceAddr:  c.InstanceAddr,
		HitKind:       hitKind,
		SBTIndex:      ctx.sbtIndex(c.SBTOffsetAndFlags, c.GeometryIDAndFlags),
	}

	accept, terminate := true, false
	if !c.Opaque {
		record := ctx.p.sbt.HitGroup(candidate.SBTIndex)
		if fn, ok := ctx.p.anyHit(record.AnyHit); ok {
			ctx.ahitIsec++
			backup := inv.Attributes
			inv.Attributes = c.Barycentrics
			inv.Candidate = candidate
			ctl := AnyHitControl{accept: true}
			fn(inv, &ctl)
			accept, terminate = ctl.accept, ctl.terminate
			if !accept {
				inv.Attributes = backup
			}
		}
	}
	if !accept {
		return false
	}

	inv.Attributes = candidate.Barycentrics
	inv.Hit = candidate
	inv.rayTmax = c.T
	s.Tmax = c.T
	ctx.hit = true
	return ctx.terminateOnFirstHit || terminate
}

func (ctx *traceCtx) handleAABB(s *traversal.State, c traversal.AABBCandidate) bool {
	inv := ctx.inv

	sbtIndex := ctx.sbtIndex(c.SBTOffsetAndFlags, c.GeometryIDAndFlags)
	record := ctx.p.sbt.HitGroup(sbtIndex)
	fn, ok := ctx.p.intersection(record.Intersection)
	if !ok {
		return false
	}
	ctx.ahitIsec += 1 << 16

	var anyHit AnyHitFn
	if f, ok := ctx.p.anyHit(record.AnyHit); ok {
		anyHit = f
	}

	ctl := &IntersectionControl{
		inv: inv,
		candidate: HitInfo{
			PrimitiveAddr: c.PrimitiveAddr,
			PrimitiveID:   c.PrimitiveID,
			GeometryID:    c.GeometryIDAndFlags & 0xfffffff,
			InstanceAddr:  c.InstanceAddr,
			SBTIndex:      sbtIndex,
		},
		anyHit:   anyHit,
		opaque:   c.Opaque,
		tmin:     s.Tmin,
		tmax:     &s.Tmax,
		firstHit: ctx.terminateOnFirstHit,
	}
	fn(inv, ctl)

	if ctl.accepted {
		inv.rayTmax = s.Tmax
		ctx.hit = true
	}
	return ctl.terminated
}
