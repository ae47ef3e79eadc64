package geom

import (
	"math"

	"github.com/rayforge/rayforge/types"
)

// TriangleResult carries the raw output of the watertight test. T is
// scaled by the determinant sign and Det holds that sign, so the final
// distance is T / Det and barycentrics are V / Det and W / Det. A miss
// leaves T infinite.
type TriangleResult struct {
	T   float32
	Det float32
	V   float32
	W   float32
}

func sign32(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return v
	}
}

// Deterministic tie-break for a ray passing exactly through a shared
// edge: the edge is compared against the reference direction (1 0 0),
// falling back to (0 1 0) when perpendicular. Shared edges of
// consistently wound triangles are antiparallel, so exactly one
// triangle of the pair wins.
func intersectEdge(v0x, v0y, v1x, v1y float32) bool {
	tx := v1x - v0x
	if tx == 0 {
		return v1y-v0y < 0
	}
	return tx < 0
}

// Deterministic tie-break for a ray through a shared vertex of a
// closed fan: accept the triangle whose other vertices straddle a
// plane perpendicular to (1 0 0), relying on winding order to make
// the choice unique.
func intersectVertex(v0x, v1x, v2x float32) bool {
	return v1x-v0x <= 0 && v2x-v0x > 0
}

// IntersectTriangle runs the watertight ray/triangle test from the
// Woop/Benthin/Wald algorithm: project onto the dominant ray axis,
// shear so the ray direction becomes (0 0 1) and classify the hit by
// the signs of the sheared barycentric values.
func IntersectTriangle(origin, dir, invDir types.Vec3, v0, v1, v2 types.Vec3) TriangleResult {
	result := TriangleResult{T: inf, Det: 1}

	// Calculate the dimension where the ray direction is largest.
	ax, ay, az := float32(math.Abs(float64(dir[0]))), float32(math.Abs(float64(dir[1]))), float32(math.Abs(float64(dir[2])))
	var kx, ky, kz int
	switch {
	case ax >= ay && ax >= az:
		kx, ky, kz = 1, 2, 0
	case ay >= az:
		kx, ky, kz = 2, 0, 1
	default:
		kx, ky, kz = 0, 1, 2
	}

	// Swap kx and ky dimensions to preserve winding order.
	if dir[kz] < 0 {
		kx, ky = ky, kx
	}

	// Shear constants.
	sz := invDir[kz]
	sx := dir[kx] * sz
	sy := dir[ky] * sz

	// Vertices relative to ray origin.
	va := v0.Sub(origin)
	vb := v1.Sub(origin)
	vc := v2.Sub(origin)

	// Perform shear and scale.
	bx := vb[kx] - sx*vb[kz]
	by := vb[ky] - sy*vb[kz]
	cx := vc[kx] - sx*vc[kz]
	cy := vc[ky] - sy*vc[kz]
	axs := va[kx] - sx*va[kz]
	ays := va[ky] - sy*va[kz]

	u := cx*by - cy*bx
	v := axs*cy - ays*cx
	w := bx*ays - by*axs

	condBack := u < 0 || v < 0 || w < 0
	condFront := u > 0 || v > 0 || w > 0
	cond := !(condBack && condFront)

	if u == 0 || v == 0 || w == 0 {
		// Any zero coordinate whose edge test passes keeps the hit
		// alive.
		intersect := cond
		edgeA := u == 0 && intersectEdge(bx, by, cx, cy)
		edgeB := v == 0 && intersectEdge(cx, cy, axs, ays)
		edgeC := w == 0 && intersectEdge(axs, ays, bx, by)
		intersect = intersect && (edgeA || edgeB || edgeC)

		isVertexA := v == 0 && w == 0
		isVertexB := u == 0 && w == 0
		isVertexC := u == 0 && v == 0
		if isVertexA || isVertexB || isVertexC {
			vertexHit := (isVertexA && intersectVertex(axs, bx, cx)) ||
				(isVertexB && intersectVertex(bx, cx, axs)) ||
				(isVertexC && intersectVertex(cx, axs, bx))
			intersect = intersect && vertexHit
		}
		cond = intersect
	}

	if !cond {
		return result
	}

	det := u + v + w

	azv := sz * va[kz]
	bzv := sz * vb[kz]
	czv := sz * vc[kz]

	t := u*azv + v*bzv + w*czv
	if sign32(det)*t < 0 {
		return result
	}

	detAbs := float32(math.Abs(float64(det)))
	result.T = t / detAbs
	result.Det = sign32(det)
	result.V = v / detAbs
	result.W = w / detAbs
	return result
}
