package geom

import (
	"math"

	"github.com/rayforge/rayforge/types"
)

// Sentinel for a rejected child slot, matching the invalid node
// handle.
const MissSentinel uint32 = 0xffffffff

var inf = float32(math.Inf(1))

// ClampInvDir removes infinities from a reciprocal direction so the
// slab test does not propagate NaNs when a direction component is
// exactly zero.
func ClampInvDir(invDir types.Vec3) types.Vec3 {
	for i := 0; i < 3; i++ {
		if invDir[i] > math.MaxFloat32 {
			invDir[i] = math.MaxFloat32
		} else if invDir[i] < -math.MaxFloat32 {
			invDir[i] = -math.MaxFloat32
		}
	}
	return invDir
}

// Reciprocal returns the component-wise inverse of a direction.
// Components may be infinite; the box test clamps them.
func Reciprocal(dir types.Vec3) types.Vec3 {
	return types.Vec3{1 / dir[0], 1 / dir[1], 1 / dir[2]}
}

func slabTest(origin, invDir types.Vec3, bounds [2]types.Vec3, rayTmax float32) (float32, bool) {
	// A NaN min.x marks an inactive child. Other components being
	// NaN is a producer contract violation.
	if bounds[0][0] != bounds[0][0] {
		return 0, false
	}

	tmin := float32(math.Inf(-1))
	tmax := inf
	for i := 0; i < 3; i++ {
		b0 := (bounds[0][i] - origin[i]) * invDir[i]
		b1 := (bounds[1][i] - origin[i]) * invDir[i]
		lo, hi := b0, b1
		if hi < lo {
			lo, hi = hi, lo
		}
		if lo > tmin {
			tmin = lo
		}
		if hi < tmax {
			tmax = hi
		}
	}

	entry := tmin
	if entry < 0 {
		entry = 0
	}
	if tmax >= entry && tmin < rayTmax {
		return tmin, true
	}
	return 0, false
}

type hitPair struct {
	distance float32
	index    uint32
}

func sortHitPair(pairs []hitPair, a, b int) {
	if pairs[b].distance < pairs[a].distance {
		pairs[a], pairs[b] = pairs[b], pairs[a]
	}
}

// IntersectBox4 runs the slab test against the four children of a box
// node and returns the surviving child handles ordered nearest-first.
// Rejected children are sentinel-filled. The fixed 5-comparator
// sorting network must be reproduced exactly for parity with the
// wider variants.
func IntersectBox4(origin, invDir types.Vec3, rayTmax float32, children [4]uint32, bounds [4][2]types.Vec3) [4]uint32 {
	invDir = ClampInvDir(invDir)

	pairs := [4]hitPair{{inf, MissSentinel}, {inf, MissSentinel}, {inf, MissSentinel}, {inf, MissSentinel}}
	for i := 0; i < 4; i++ {
		if tmin, ok := slabTest(origin, invDir, bounds[i], rayTmax); ok {
			pairs[i] = hitPair{distance: tmin, index: children[i]}
		}
	}

	sortHitPair(pairs[:], 0, 1)
	sortHitPair(pairs[:], 2, 3)
	sortHitPair(pairs[:], 0, 2)
	sortHitPair(pairs[:], 1, 3)
	sortHitPair(pairs[:], 1, 2)

	var out [4]uint32
	for i, p := range pairs {
		out[i] = p.index
	}
	return out
}

// The Batcher odd-even merge network for 8 inputs.
var sortNetwork8 = [][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{1, 2}, {5, 6},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
	{2, 4}, {3, 5},
	{1, 2}, {3, 4}, {5, 6},
}

// IntersectBox8 is the 8-wide equivalent of IntersectBox4.
func IntersectBox8(origin, invDir types.Vec3, rayTmax float32, children [8]uint32, bounds [8][2]types.Vec3) [8]uint32 {
	invDir = ClampInvDir(invDir)

	var pairs [8]hitPair
	for i := range pairs {
		pairs[i] = hitPair{distance: inf, index: MissSentinel}
	}
	for i := 0; i < 8; i++ {
		if tmin, ok := slabTest(origin, invDir, bounds[i], rayTmax); ok {
			pairs[i] = hitPair{distance: tmin, index: children[i]}
		}
	}

	for _, cmp := range sortNetwork8 {
		sortHitPair(pairs[:], cmp[0], cmp[1])
	}

	var out [8]uint32
	for i, p := range pairs {
		out[i] = p.index
	}
	return out
}
