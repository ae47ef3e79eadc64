package geom

import (
	"math"
	"testing"

	"github.com/rayforge/rayforge/types"
)

func axisBounds(zmin, zmax float32) [2]types.Vec3 {
	return [2]types.Vec3{{-1, -1, zmin}, {1, 1, zmax}}
}

// inactiveBounds marks an unused child slot the way the encoder does,
// with a NaN min so the slab test skips it.
func inactiveBounds() [2]types.Vec3 {
	nan := float32(math.NaN())
	return [2]types.Vec3{{nan, nan, nan}, {nan, nan, nan}}
}

func TestIntersectBox4Ordering(t *testing.T) {
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)

	// Children deliberately out of depth order.
	children := [4]uint32{10, 20, 30, 40}
	bounds := [4][2]types.Vec3{
		axisBounds(7, 8),
		axisBounds(1, 2),
		axisBounds(5, 6),
		axisBounds(3, 4),
	}

	result := IntersectBox4(origin, invDir, math.MaxFloat32, children, bounds)
	exp := [4]uint32{20, 40, 30, 10}
	if result != exp {
		t.Fatalf("expected sorted children %v; got %v", exp, result)
	}
}

func TestIntersectBox4Misses(t *testing.T) {
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)

	children := [4]uint32{10, 20, 30, 40}
	bounds := [4][2]types.Vec3{
		axisBounds(1, 2),
		// Behind the origin.
		axisBounds(-4, -3),
		// Off to the side.
		{{5, 5, 1}, {6, 6, 2}},
		inactiveBounds(),
	}

	result := IntersectBox4(origin, invDir, math.MaxFloat32, children, bounds)
	exp := [4]uint32{10, MissSentinel, MissSentinel, MissSentinel}
	if result != exp {
		t.Fatalf("expected %v; got %v", exp, result)
	}
}

func TestIntersectBox4TmaxCull(t *testing.T) {
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)

	children := [4]uint32{10, 20, MissSentinel, MissSentinel}
	bounds := [4][2]types.Vec3{
		axisBounds(1, 2),
		axisBounds(5, 6),
		inactiveBounds(),
		inactiveBounds(),
	}

	// A committed hit at t=4 excludes the second box.
	result := IntersectBox4(origin, invDir, 4, children, bounds)
	exp := [4]uint32{10, MissSentinel, MissSentinel, MissSentinel}
	if result != exp {
		t.Fatalf("expected child behind committed hit culled %v; got %v", exp, result)
	}
}

func TestIntersectBox4ContainedOrigin(t *testing.T) {
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)

	children := [4]uint32{10, MissSentinel, MissSentinel, MissSentinel}
	bounds := [4][2]types.Vec3{
		axisBounds(-1, 1),
		inactiveBounds(),
		inactiveBounds(),
		inactiveBounds(),
	}

	result := IntersectBox4(origin, invDir, math.MaxFloat32, children, bounds)
	if result[0] != 10 {
		t.Fatalf("expected box containing the origin to hit; got %v", result)
	}
}

func TestIntersectBox4AxisAlignedDirection(t *testing.T) {
	// A zero direction component produces an infinite reciprocal
	// that must be clamped rather than poison the slab test.
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)
	if !math.IsInf(float64(invDir[0]), 1) {
		t.Fatalf("expected infinite reciprocal; got %f", invDir[0])
	}

	children := [4]uint32{10, MissSentinel, MissSentinel, MissSentinel}
	bounds := [4][2]types.Vec3{
		axisBounds(1, 2),
		inactiveBounds(),
		inactiveBounds(),
		inactiveBounds(),
	}

	result := IntersectBox4(origin, invDir, math.MaxFloat32, children, bounds)
	exp := [4]uint32{10, MissSentinel, MissSentinel, MissSentinel}
	if result != exp {
		t.Fatalf("expected hit with axis-aligned ray %v; got %v", exp, result)
	}
}

func TestIntersectBox8Ordering(t *testing.T) {
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)

	var children [8]uint32
	var bounds [8][2]types.Vec3
	// Reverse depth order: child i sits at depth 8-i.
	for i := 0; i < 8; i++ {
		children[i] = uint32(i + 1)
		z := float32(8 - i)
		bounds[i] = axisBounds(z, z+0.5)
	}

	result := IntersectBox8(origin, invDir, math.MaxFloat32, children, bounds)
	exp := [8]uint32{8, 7, 6, 5, 4, 3, 2, 1}
	if result != exp {
		t.Fatalf("expected sorted children %v; got %v", exp, result)
	}
}

func TestIntersectBox8PartialHits(t *testing.T) {
	origin := types.Vec3{0, 0, 0}
	dir := types.Vec3{0, 0, 1}
	invDir := Reciprocal(dir)

	var children [8]uint32
	var bounds [8][2]types.Vec3
	for i := 0; i < 8; i++ {
		children[i] = uint32(i + 1)
		z := float32(i + 1)
		if i%2 == 1 {
			// Every odd child misses.
			bounds[i] = [2]types.Vec3{{5, 5, z}, {6, 6, z + 0.5}}
			continue
		}
		bounds[i] = axisBounds(z, z+0.5)
	}

	result := IntersectBox8(origin, invDir, math.MaxFloat32, children, bounds)
	exp := [8]uint32{1, 3, 5, 7, MissSentinel, MissSentinel, MissSentinel, MissSentinel}
	if result != exp {
		t.Fatalf("expected hits packed in front %v; got %v", exp, result)
	}
}
