package bvh

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/rayforge/rayforge/log"
	"github.com/rayforge/rayforge/types"
)

const (
	// The builder will not attempt to calculate split candidates
	// if the node bbox along an axis is less than this threshold.
	minSideLength float32 = 1e-3

	// If the split step (calculated as side length / (1024 * depth+1))
	// is less than this threshold the builder will not evaluate
	// split candidates.
	minSplitStep float32 = 1e-5
)

// The BoundedVolume interface is implemented by all primitives that
// can be partitioned by the builder.
type BoundedVolume interface {
	BBox() [2]types.Vec3
	Center() types.Vec3
}

// A triangle primitive for bottom-level structures.
type Triangle struct {
	V0, V1, V2 types.Vec3

	TriangleID uint32
	GeometryID uint32
	Opaque     bool
}

func (t Triangle) BBox() [2]types.Vec3 {
	min := types.MinVec3(types.MinVec3(t.V0, t.V1), t.V2)
	max := types.MaxVec3(types.MaxVec3(t.V0, t.V1), t.V2)
	return [2]types.Vec3{min, max}
}

func (t Triangle) Center() types.Vec3 {
	return t.V0.Add(t.V1).Add(t.V2).Mul(1.0 / 3.0)
}

// A procedural primitive for bottom-level structures. Its actual
// surface is defined by an intersection shader.
type AABB struct {
	Bounds [2]types.Vec3

	PrimitiveID uint32
	GeometryID  uint32
	Opaque      bool
}

func (a AABB) BBox() [2]types.Vec3  { return a.Bounds }
func (a AABB) Center() types.Vec3   { return a.Bounds[0].Add(a.Bounds[1]).Mul(0.5) }

// An instance referencing a bottom-level structure for top-level
// builds.
type Instance struct {
	Accel     *Accel
	Transform types.Mat3x4

	InstanceID  uint32
	CustomIndex uint32
	Mask        uint32
	SBTOffset   uint32

	ForceOpaque       bool
	ForceNonOpaque    bool
	FacingCullDisable bool
	FlipFacing        bool
}

func (in Instance) BBox() [2]types.Vec3 {
	// Transform the 8 corners of the referenced structure's root
	// bounds into world space.
	rb := in.Accel.RootBounds
	min := types.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	max := min.Mul(-1)
	for i := 0; i < 8; i++ {
		corner := types.Vec3{rb[i&1][0], rb[(i>>1)&1][1], rb[(i>>2)&1][2]}
		world := in.Transform.TransformPoint(corner)
		min = types.MinVec3(min, world)
		max = types.MaxVec3(max, world)
	}
	return [2]types.Vec3{min, max}
}

func (in Instance) Center() types.Vec3 {
	bbox := in.BBox()
	return bbox[0].Add(bbox[1]).Mul(0.5)
}

// Accel is a fully encoded acceleration structure resident in
// simulated device memory.
type Accel struct {
	// Header address. TraceRay consumers pass this around.
	Base uint64

	// Node pool base; node handles are relative to it.
	NodesBase uint64

	RootBounds [2]types.Vec3
	Stats      BuildStats
}

type BuildStats struct {
	Nodes      int
	Leaves     int
	Instances  int
	MaxDepth   int
	Primitives int
	Bytes      int
}

type splitCandidate struct {
	axis                  int
	splitPoint            float32
	leftCount, rightCount int
	score                 float32
}

// Intermediate tree node before collapse and encoding.
type buildNode struct {
	bounds   [2]types.Vec3
	children []*buildNode
	item     BoundedVolume

	offset int
	handle uint32
}

type Builder struct {
	gen    Generation
	mem    *Memory
	logger log.Logger

	scoreChan chan splitCandidate

	stats BuildStats
}

// NewBuilder returns a builder that encodes structures for the given
// generation into mem.
func NewBuilder(mem *Memory, gen Generation) *Builder {
	return &Builder{
		gen:       gen,
		mem:       mem,
		logger:    log.New("builder"),
		scoreChan: make(chan splitCandidate, 0),
	}
}

// BuildTriangles constructs a bottom-level structure over a triangle
// set.
func (b *Builder) BuildTriangles(tris []Triangle) (*Accel, error) {
	if len(tris) == 0 {
		return nil, errors.New("bvh: cannot build empty structure")
	}
	workList := make([]BoundedVolume, len(tris))
	for i, t := range tris {
		workList[i] = t
	}
	return b.build(workList)
}

// BuildAABBs constructs a bottom-level structure over procedural
// primitives.
func (b *Builder) BuildAABBs(aabbs []AABB) (*Accel, error) {
	if len(aabbs) == 0 {
		return nil, errors.New("bvh: cannot build empty structure")
	}
	workList := make([]BoundedVolume, len(aabbs))
	for i, a := range aabbs {
		workList[i] = a
	}
	return b.build(workList)
}

// BuildInstances constructs a top-level structure over instances of
// bottom-level structures.
func (b *Builder) BuildInstances(instances []Instance) (*Accel, error) {
	if len(instances) == 0 {
		return nil, errors.New("bvh: cannot build empty structure")
	}
	workList := make([]BoundedVolume, len(instances))
	for i, in := range instances {
		if in.Accel == nil {
			return nil, errors.Errorf("bvh: instance %d references no structure", i)
		}
		workList[i] = in
	}
	return b.build(workList)
}

func (b *Builder) build(workList []BoundedVolume) (*Accel, error) {
	b.stats = BuildStats{Primitives: len(workList)}

	start := time.Now()
	root := b.partition(workList, 0)
	b.collapse(root)
	if len(root.children) == 0 {
		// A single-primitive structure still needs a box root so
		// the root handle decodes to a box node.
		leaf := root
		root = &buildNode{bounds: leaf.bounds, children: []*buildNode{leaf}}
		b.stats.Nodes++
	}
	accel := b.encode(root)
	b.logger.Debugf(
		"built %d primitives in %d ms: maxDepth %d, nodes %d, leaves %d, %d bytes",
		b.stats.Primitives, time.Since(start).Nanoseconds()/1e6,
		b.stats.MaxDepth, b.stats.Nodes, b.stats.Leaves, b.stats.Bytes,
	)
	return accel, nil
}

// Partition worklist into a binary tree node.
//
// The builder uses SAH for scoring splits:
// score = num_primitives * node bbox face area.
func (b *Builder) partition(workList []BoundedVolume, depth int) *buildNode {
	if depth > b.stats.MaxDepth {
		b.stats.MaxDepth = depth
	}

	node := &buildNode{
		bounds: [2]types.Vec3{
			{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
			{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
		},
	}
	for _, item := range workList {
		itemBBox := item.BBox()
		node.bounds[0] = types.MinVec3(node.bounds[0], itemBBox[0])
		node.bounds[1] = types.MaxVec3(node.bounds[1], itemBBox[1])
	}

	if len(workList) == 1 {
		node.item = workList[0]
		b.stats.Leaves++
		return node
	}

	side := node.bounds[1].Sub(node.bounds[0])
	bestScore := float32(len(workList)) * (side[0]*side[1] + side[1]*side[2] + side[0]*side[2])
	var bestSplit *splitCandidate

	// Run axis split tests in parallel
	pendingScores := 0
	for axis := 0; axis < 3; axis++ {
		if side[axis] < minSideLength {
			continue
		}

		// We want the split steps to become more granular the deeper we go
		splitStep := side[axis] / (1024.0 / float32(depth+1))
		if splitStep < minSplitStep {
			continue
		}

		for splitPoint := node.bounds[0][axis]; splitPoint < node.bounds[1][axis]; splitPoint += splitStep {
			candidate := splitCandidate{
				axis:       axis,
				splitPoint: splitPoint,
			}
			pendingScores++
			go candidate.Score(workList, b.scoreChan)
		}
	}

	for ; pendingScores > 0; pendingScores-- {
		candidate := <-b.scoreChan
		if candidate.score < bestScore {
			bestScore = candidate.score
			bestSplit = &candidate
		}
	}

	var leftWorkList, rightWorkList []BoundedVolume
	if bestSplit != nil {
		leftWorkList = make([]BoundedVolume, 0, bestSplit.leftCount)
		rightWorkList = make([]BoundedVolume, 0, bestSplit.rightCount)
		for _, item := range workList {
			if item.Center()[bestSplit.axis] < bestSplit.splitPoint {
				leftWorkList = append(leftWorkList, item)
			} else {
				rightWorkList = append(rightWorkList, item)
			}
		}
	} else {
		// No split improves the score; force a median split along
		// the largest axis so leaves stay single-primitive.
		axis := 0
		if side[1] > side[axis] {
			axis = 1
		}
		if side[2] > side[axis] {
			axis = 2
		}
		sorted := make([]BoundedVolume, len(workList))
		copy(sorted, workList)
		for i := 1; i < len(sorted); i++ {
			for j := i; j > 0 && sorted[j].Center()[axis] < sorted[j-1].Center()[axis]; j-- {
				sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			}
		}
		mid := len(sorted) / 2
		leftWorkList = sorted[:mid]
		rightWorkList = sorted[mid:]
	}

	node.children = []*buildNode{
		b.partition(leftWorkList, depth+1),
		b.partition(rightWorkList, depth+1),
	}
	b.stats.Nodes++
	return node
}

// Calculate the score for splitting the workList with this split
// candidate and report the result to the supplied channel.
func (c splitCandidate) Score(workList []BoundedVolume, resChan chan<- splitCandidate) {
	lmin := types.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	rmin := types.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	lmax := types.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	rmax := types.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}

	for _, item := range workList {
		itemBBox := item.BBox()
		if item.Center()[c.axis] < c.splitPoint {
			c.leftCount++
			lmin = types.MinVec3(lmin, itemBBox[0])
			lmax = types.MaxVec3(lmax, itemBBox[1])
		} else {
			c.rightCount++
			rmin = types.MinVec3(rmin, itemBBox[0])
			rmax = types.MaxVec3(rmax, itemBBox[1])
		}
	}

	if c.leftCount == 0 || c.rightCount == 0 {
		c.score = math.MaxFloat32
		resChan <- c
		return
	}

	lside := lmax.Sub(lmin)
	rside := rmax.Sub(rmin)
	c.score = (float32(c.leftCount) * (lside[0]*lside[1] + lside[1]*lside[2] + lside[0]*lside[2])) +
		(float32(c.rightCount) * (rside[0]*rside[1] + rside[1]*rside[2] + rside[0]*rside[2]))
	resChan <- c
}

// Collapse the binary tree into fan-out-wide nodes by repeatedly
// replacing the internal child with the largest surface area with its
// own children until every box is full or all children are leaves.
func (b *Builder) collapse(node *buildNode) {
	if node.item != nil {
		return
	}

	for len(node.children) < b.gen.FanOut {
		best := -1
		var bestArea float32 = -1
		for i, child := range node.children {
			if child.item != nil {
				continue
			}
			side := child.bounds[1].Sub(child.bounds[0])
			area := side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
			if area > bestArea {
				bestArea = area
				best = i
			}
		}
		if best == -1 || len(node.children)-1+len(node.children[best].children) > b.gen.FanOut {
			break
		}

		expanded := node.children[best]
		node.children = append(node.children[:best], node.children[best+1:]...)
		node.children = append(node.children, expanded.children...)
		b.stats.Nodes--
	}

	for _, child := range node.children {
		b.collapse(child)
	}
}

func (b *Builder) nodeSize(node *buildNode) int {
	if node.item == nil {
		return BoxNodeSize(b.gen.FanOut)
	}
	if _, isInstance := node.item.(Instance); isInstance {
		return InstanceNodeSize
	}
	return TriangleNodeSize
}

func (b *Builder) nodeTag(node *buildNode) uint32 {
	if node.item == nil {
		return NodeBox32
	}
	switch node.item.(type) {
	case Instance:
		return NodeInstance
	case AABB:
		return NodeAABB
	default:
		return NodeTriangle
	}
}

// Assign node pool offsets depth-first so a box's children cluster
// behind it.
func (b *Builder) layout(node *buildNode, next int) int {
	node.offset = next
	node.handle = uint32(node.offset/8) | b.nodeTag(node)
	next += b.nodeSize(node)
	for _, child := range node.children {
		next = b.layout(child, next)
	}
	return next
}

func (b *Builder) encode(root *buildNode) *Accel {
	poolSize := b.layout(root, 0)

	maxHandle := uint32(poolSize / 8)
	parentTableSize := (int(ParentEntryOffset(maxHandle)) + 63) &^ 63
	totalSize := HeaderSize + parentTableSize + poolSize

	base, slab := b.mem.Alloc(totalSize)
	poolStart := HeaderSize + parentTableSize
	nodesBase := base + uint64(poolStart)

	accel := &Accel{
		Base:       base,
		NodesBase:  nodesBase,
		RootBounds: root.bounds,
	}

	putU32(slab, HeaderBVHOffset, uint32(poolStart))
	b.encodeNode(slab, poolStart, root)

	// The root has no parent; backtracking past it ends traversal.
	b.writeParent(slab, poolStart, root.handle, InvalidNode)

	b.stats.Bytes = totalSize
	putU32(slab, HeaderNodeCount, uint32(b.stats.Nodes))
	putU32(slab, HeaderLeafCount, uint32(b.stats.Leaves))
	putU32(slab, HeaderInstanceCount, uint32(b.stats.Instances))
	accel.Stats = b.stats
	return accel
}

func (b *Builder) encodeNode(slab []byte, poolStart int, node *buildNode) {
	buf := slab[poolStart+node.offset:]

	if node.item == nil {
		children := make([]uint32, len(node.children))
		bounds := make([][2]types.Vec3, len(node.children))
		for i, child := range node.children {
			children[i] = child.handle
			bounds[i] = child.bounds
			b.writeParent(slab, poolStart, child.handle, node.handle)
			b.encodeNode(slab, poolStart, child)
		}
		PutBoxNode(buf, b.gen.FanOut, children, bounds)
		return
	}

	switch item := node.item.(type) {
	case Triangle:
		geomFlags := item.GeometryID & 0xfffffff
		if item.Opaque {
			geomFlags |= GeometryOpaque
		}
		PutTriangleNode(buf, item.V0, item.V1, item.V2, item.TriangleID, geomFlags)
	case AABB:
		geomFlags := item.GeometryID & 0xfffffff
		if item.Opaque {
			geomFlags |= GeometryOpaque
		}
		PutAABBNode(buf, item.Bounds, item.PrimitiveID, geomFlags)
	case Instance:
		sbtFlags := item.SBTOffset & 0xffffff
		if item.ForceOpaque {
			sbtFlags |= InstanceForceOpaque
		}
		if !item.ForceNonOpaque {
			sbtFlags |= InstanceNoForceNotOpaque
		}
		if item.FacingCullDisable {
			sbtFlags |= InstanceTriangleFacingCullDisable
		}
		if item.FlipFacing {
			sbtFlags |= InstanceTriangleFlipFacing
		}
		ptr := EncodeBase(item.Accel.NodesBase, 0, b.gen)
		wto := item.Transform.Inverse()
		custom := item.CustomIndex&0xffffff | item.Mask<<24
		PutInstanceNode(buf, ptr, custom, sbtFlags, wto, item.Transform, item.InstanceID)
		b.stats.Instances++
	}
}

func (b *Builder) writeParent(slab []byte, poolStart int, child, parent uint32) {
	entry := poolStart - int(ParentEntryOffset(child))
	putU32(slab, entry, parent)
}

func putU32(slab []byte, off int, v uint32) {
	slab[off] = byte(v)
	slab[off+1] = byte(v >> 8)
	slab[off+2] = byte(v >> 16)
	slab[off+3] = byte(v >> 24)
}
