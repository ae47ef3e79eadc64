// Package pipeline executes ray-tracing pipelines against encoded
// acceleration structures: shader tables compiled into guarded
// dispatch closures, candidate hit filtering during traversal, and
// two execution models (monolithic inline recursion and a
// continuation-passing wave scheduler).
package pipeline

import "github.com/rayforge/rayforge/types"

// ShaderHandle identifies a shader within a pipeline. Zero is the
// null shader.
type ShaderHandle uint32

// NullShader marks an unused stage slot in a binding table record.
const NullShader ShaderHandle = 0

// Hit kinds reported for triangle geometry.
const (
	HitKindFrontFacingTriangle uint32 = 0xfe
	HitKindBackFacingTriangle  uint32 = 0xff
)

// Shader stage signatures. A stage receives the invocation it runs
// in; any-hit and intersection stages additionally get a control
// object carrying the verbs only they may use.
type (
	RayGenFn       func(inv *Invocation)
	MissFn         func(inv *Invocation)
	ClosestHitFn   func(inv *Invocation)
	CallableFn     func(inv *Invocation)
	AnyHitFn       func(inv *Invocation, ctl *AnyHitControl)
	IntersectionFn func(inv *Invocation, ctl *IntersectionControl)
)

// HitInfo is the hit description shaders observe. During any-hit it
// describes the candidate, in closest-hit the committed hit.
type HitInfo struct {
	T             float32
	Barycentrics  [2]float32
	PrimitiveAddr uint64
	PrimitiveID   uint32
	GeometryID    uint32
	InstanceAddr  uint64
	HitKind       uint32
	SBTIndex      uint32
}

// Invocation is the per-ray shader execution context. Payload crosses
// stage boundaries; Attributes are the live hit attributes, written
// by the candidate machinery (or an intersection shader) before the
// consuming stage runs and rolled back when a candidate is rejected.
type Invocation struct {
	LaunchID   [3]uint32
	LaunchSize [3]uint32

	Payload    any
	Attributes [2]float32

	// Committed hit, valid in closest-hit. Candidate is valid while
	// an any-hit or intersection stage runs.
	Hit       HitInfo
	Candidate HitInfo

	// World ray of the innermost active trace.
	RayOrigin    types.Vec3
	RayDirection types.Vec3
	RayTmin      float32
	RayFlags     uint32
	CullMask     uint32
	MissIndex    uint32

	rayTmax  float32
	pipeline *Pipeline
	depth    int
}

// RayTmax returns the current committed distance bound: the trace
// tmax until a hit is committed, then the committed t.
func (inv *Invocation) RayTmax() float32 {
	return inv.rayTmax
}

// AnyHitControl exposes the any-hit stage verbs.
type AnyHitControl struct {
	accept    bool
	terminate bool
}

// IgnoreHit rejects the candidate. The shader should return
// afterwards; further writes are discarded.
func (c *AnyHitControl) IgnoreHit() {
	c.accept = false
}

// TerminateRay accepts the candidate and ends the search.
func (c *AnyHitControl) TerminateRay() {
	c.terminate = true
}

// IntersectionControl exposes the intersection stage verbs and holds
// the report plumbing for the procedural candidate being tested.
type IntersectionControl struct {
	inv        *Invocation
	candidate  HitInfo
	anyHit     AnyHitFn
	opaque     bool
	tmin       float32
	tmax       *float32
	firstHit   bool
	accepted   bool
	terminated bool
}

// Report offers a hit at distance t with the given kind. The bound
// any-hit shader (when the geometry is not opaque) decides acceptance;
// accepted hits commit immediately so later reports see the tightened
// bound. It returns whether the hit was accepted.
func (c *IntersectionControl) Report(t float32, hitKind uint32) bool {
	if c.terminated || t < c.tmin || t > *c.tmax {
		return false
	}

	terminate := false
	if !c.opaque && c.anyHit != nil {
		backup := c.inv.Attributes
		ctl := AnyHitControl{accept: true}
		c.inv.Candidate = c.candidate
		c.inv.Candidate.T = t
		c.inv.Candidate.HitKind = hitKind
		c.anyHit(c.inv, &ctl)
		if !ctl.accept {
			c.inv.Attributes = backup
			return false
		}
		terminate = ctl.terminate
	}

	c.candidate.T = t
	c.candidate.HitKind = hitKind
	c.inv.Hit = c.candidate
	c.inv.rayTmax = t
	*c.tmax = t
	c.accepted = true
	if c.firstHit || terminate {
		c.terminated = true
	}
	return true
}
