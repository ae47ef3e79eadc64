package pipeline

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/log"
)

// MaxRayRecursionDepth bounds the recursion a pipeline may declare.
const MaxRayRecursionDepth = 31

// CreateFlags promise the absence of null handles in parts of the
// binding table, letting dispatch compilation drop the null guard.
type CreateFlags uint32

const (
	NoNullClosestHitShaders CreateFlags = 1 << iota
	NoNullMissShaders
	NoNullAnyHitShaders
	NoNullIntersectionShaders
)

// Config describes a pipeline: the shader case tables per stage, the
// binding table resolving records to handles, and trace behavior
// knobs. SetFlags/UnsetFlags fold into every trace's ray flags, the
// way statically known flags would fold at compile time.
type Config struct {
	Memory     *bvh.Memory
	Generation bvh.Generation

	MaxRecursionDepth int
	Flags             CreateFlags
	SetFlags          uint32
	UnsetFlags        uint32
	StackEntries      int

	RayGen       []Case[RayGenFn]
	Miss         []Case[MissFn]
	ClosestHit   []Case[ClosestHitFn]
	AnyHit       []Case[AnyHitFn]
	Intersection []Case[IntersectionFn]
	Callable     []Case[CallableFn]

	SBT ShaderBindingTable

	History *History

	// NewPayload builds the per-invocation payload handed to raygen.
	NewPayload func() any
}

// Pipeline is a compiled ray-tracing pipeline.
type Pipeline struct {
	mem    *bvh.Memory
	gen    bvh.Generation
	logger log.Logger

	cfg Config
	sbt ShaderBindingTable

	rayGen       Dispatch[RayGenFn]
	miss         Dispatch[MissFn]
	closestHit   Dispatch[ClosestHitFn]
	anyHit       Dispatch[AnyHitFn]
	intersection Dispatch[IntersectionFn]
	callable     Dispatch[CallableFn]
}

// New compiles a pipeline. Configuration violations (missing memory,
// unknown raygen handle, out-of-range recursion depth) fail here, not
// at dispatch time.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Memory == nil {
		return nil, errors.New("pipeline: no device memory")
	}
	if cfg.Generation.FanOut == 0 {
		cfg.Generation = bvh.Gen4
	}
	if cfg.MaxRecursionDepth == 0 {
		cfg.MaxRecursionDepth = 1
	}
	if cfg.MaxRecursionDepth < 0 || cfg.MaxRecursionDepth > MaxRayRecursionDepth {
		return nil, errors.Errorf("pipeline: recursion depth %d exceeds limit %d",
			cfg.MaxRecursionDepth, MaxRayRecursionDepth)
	}

	p := &Pipeline{
		mem:    cfg.Memory,
		gen:    cfg.Generation,
		logger: log.New("pipeline"),
		cfg:    cfg,
		sbt:    cfg.SBT,
	}

	start := time.Now()
	p.rayGen = CompileDispatch(cfg.RayGen, false)
	p.miss = CompileDispatch(cfg.Miss, cfg.Flags&NoNullMissShaders == 0)
	p.closestHit = CompileDispatch(cfg.ClosestHit, cfg.Flags&NoNullClosestHitShaders == 0)
	p.anyHit = CompileDispatch(cfg.AnyHit, cfg.Flags&NoNullAnyHitShaders == 0)
	p.intersection = CompileDispatch(cfg.Intersection, cfg.Flags&NoNullIntersectionShaders == 0)
	p.callable = CompileDispatch(cfg.Callable, false)

	if _, ok := p.rayGen(cfg.SBT.RayGen); !ok {
		return nil, errors.Errorf("pipeline: raygen handle %d not in shader table", cfg.SBT.RayGen)
	}

	p.logger.Debugf(
		"compiled dispatch tables in %d us: %d miss, %d chit, %d ahit, %d isec, %d callable",
		time.Since(start).Nanoseconds()/1e3,
		len(cfg.Miss), len(cfg.ClosestHit), len(cfg.AnyHit),
		len(cfg.Intersection), len(cfg.Callable),
	)
	return p, nil
}

// Dispatch launches the raygen shader over the given grid under the
// monolithic execution model, one goroutine per grid row.
func (p *Pipeline) Dispatch(size [3]uint32) {
	rayGen, _ := p.rayGen(p.sbt.RayGen)

	start := time.Now()
	var wg sync.WaitGroup
	for z := uint32(0); z < size[2]; z++ {
		for y := uint32(0); y < size[1]; y++ {
			wg.Add(1)
			go func(y, z uint32) {
				defer wg.Done()
				for x := uint32(0); x < size[0]; x++ {
					inv := p.newInvocation([3]uint32{x, y, z}, size)
					rayGen(inv)
				}
			}(y, z)
		}
	}
	wg.Wait()

	p.logger.Debugf("dispatched %dx%dx%d rays in %d ms",
		size[0], size[1], size[2], time.Since(start).Nanoseconds()/1e6)
}

func (p *Pipeline) newInvocation(id, size [3]uint32) *Invocation {
	inv := &Invocation{
		LaunchID:   id,
		LaunchSize: size,
		pipeline:   p,
	}
	if p.cfg.NewPayload != nil {
		inv.Payload = p.cfg.NewPayload()
	}
	return inv
}

// InstanceID reads the user instance id of the instance a hit
// belongs to.
func (inv *Invocation) InstanceID(h HitInfo) uint32 {
	if h.InstanceAddr == 0 {
		return 0
	}
	return inv.pipeline.mem.U32(h.InstanceAddr + bvh.InstanceIDOffset)
}

// InstanceCustomIndex reads the 24-bit custom index of the instance a
// hit belongs to.
func (inv *Invocation) InstanceCustomIndex(h HitInfo) uint32 {
	if h.InstanceAddr == 0 {
		return 0
	}
	return inv.pipeline.mem.U32(h.InstanceAddr+bvh.InstanceCustomAndMaskOffset) & 0xffffff
}

// HitGroupRecord returns the binding table record a hit resolved to.
func (inv *Invocation) HitGroupRecord(h HitInfo) HitGroupRecord {
	return inv.pipeline.sbt.HitGroup(h.SBTIndex)
}

// CallShader invokes the callable shader at the given table index.
func (inv *Invocation) CallShader(index uint32) {
	sbt := &inv.pipeline.sbt
	if int(index) >= len(sbt.Callables) {
		return
	}
	if fn, ok := inv.pipeline.callable(sbt.Callables[index].Shader); ok {
		fn(inv)
	}
}
