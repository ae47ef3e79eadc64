package bvh

import (
	"math"
	"testing"

	"github.com/rayforge/rayforge/types"
)

func gridTriangles(n int) []Triangle {
	tris := make([]Triangle, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			ox, oy := float32(x)*2, float32(y)*2
			tris = append(tris, Triangle{
				V0:         types.Vec3{ox, oy, 0},
				V1:         types.Vec3{ox + 1, oy, 0},
				V2:         types.Vec3{ox, oy + 1, 0},
				TriangleID: uint32(len(tris)),
				GeometryID: 0,
				Opaque:     true,
			})
		}
	}
	return tris
}

// walkPool recursively visits the encoded tree, checking the parent
// table entry of every child and collecting leaf triangle ids.
func walkPool(t *testing.T, mem *Memory, accel *Accel, gen Generation, node uint32, leaves map[uint32]int) {
	t.Helper()

	addr := NodeToAddr(EncodeBase(accel.NodesBase, 0, gen)+uint64(node), false)
	if IsTriangleNode(node) {
		leaves[mem.U32(addr+TriangleIDOffset)]++
		return
	}
	if !IsBoxNode(node) {
		t.Fatalf("expected only box and triangle nodes; got %#x", node)
	}

	children, _ := LoadBoxChildren(mem, addr, gen.FanOut)
	seen := 0
	for _, child := range children {
		if child == InvalidNode {
			continue
		}
		seen++
		parent := mem.U32(accel.NodesBase - ParentEntryOffset(child))
		if parent != node {
			t.Fatalf("expected parent entry of %#x to be %#x; got %#x", child, node, parent)
		}
		walkPool(t, mem, accel, gen, child, leaves)
	}
	if seen == 0 {
		t.Fatalf("expected box node %#x to have children", node)
	}
}

func TestBuilderEncoding(t *testing.T) {
	for _, gen := range []Generation{Gen4, Gen8} {
		tris := gridTriangles(5)
		mem := NewMemory()

		accel, err := NewBuilder(mem, gen).BuildTriangles(tris)
		if err != nil {
			t.Fatal(err)
		}

		// The root's parent entry ends backtracking.
		if parent := mem.U32(accel.NodesBase - ParentEntryOffset(RootNode)); parent != InvalidNode {
			t.Fatalf("expected invalid root parent; got %#x", parent)
		}

		leaves := make(map[uint32]int)
		walkPool(t, mem, accel, gen, RootNode, leaves)

		if len(leaves) != len(tris) {
			t.Fatalf("expected %d leaves; got %d", len(tris), len(leaves))
		}
		for id, count := range leaves {
			if count != 1 {
				t.Fatalf("expected triangle %d to be encoded once; got %d", id, count)
			}
		}

		if accel.Stats.Primitives != len(tris) {
			t.Fatalf("expected %d primitives in stats; got %d", len(tris), accel.Stats.Primitives)
		}
	}
}

func TestBuilderRootBounds(t *testing.T) {
	tris := gridTriangles(3)
	mem := NewMemory()

	accel, err := NewBuilder(mem, Gen4).BuildTriangles(tris)
	if err != nil {
		t.Fatal(err)
	}

	exp := [2]types.Vec3{{0, 0, 0}, {5, 5, 0}}
	for i := 0; i < 3; i++ {
		if accel.RootBounds[0][i] > exp[0][i] || accel.RootBounds[1][i] < exp[1][i] {
			t.Fatalf("expected root bounds to contain %v; got %v", exp, accel.RootBounds)
		}
	}
}

func TestBuilderEmptyInput(t *testing.T) {
	mem := NewMemory()
	if _, err := NewBuilder(mem, Gen4).BuildTriangles(nil); err == nil {
		t.Fatal("expected an error for an empty build")
	}
	if _, err := NewBuilder(mem, Gen4).BuildInstances(nil); err == nil {
		t.Fatal("expected an error for an empty build")
	}
}

func TestBuilderInstanceEncoding(t *testing.T) {
	mem := NewMemory()
	builder := NewBuilder(mem, Gen4)

	blas, err := builder.BuildTriangles(gridTriangles(2))
	if err != nil {
		t.Fatal(err)
	}

	transform := types.Mat3x4{
		1, 0, 0, 10,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
	tlas, err := builder.BuildInstances([]Instance{
		{
			Accel:       blas,
			Transform:   transform,
			InstanceID:  7,
			CustomIndex: 42,
			Mask:        0xf0,
			SBTOffset:   3,
		},
		{
			Accel:          blas,
			Transform:      types.IdentMat3x4(),
			InstanceID:     8,
			Mask:           0xff,
			ForceNonOpaque: true,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	base := EncodeBase(tlas.NodesBase, 0, Gen4)
	rootAddr := NodeToAddr(base+uint64(RootNode), false)
	children, _ := LoadBoxChildren(mem, rootAddr, 4)

	var checked int
	for _, child := range children {
		if child == InvalidNode {
			continue
		}
		if !IsInstanceNode(child) {
			t.Fatalf("expected instance child; got %#x", child)
		}
		addr := NodeToAddr(base+uint64(child), false)

		ptr := mem.U64(addr + InstancePtrOffset)
		if ptr != EncodeBase(blas.NodesBase, 0, Gen4) {
			t.Fatalf("expected encoded child pointer %#x; got %#x", EncodeBase(blas.NodesBase, 0, Gen4), ptr)
		}

		custom := mem.U32(addr + InstanceCustomAndMaskOffset)
		sbt := mem.U32(addr + InstanceSBTOffsetAndFlagsOffset)
		switch id := mem.U32(addr + InstanceIDOffset); id {
		case 7:
			if custom != 42|0xf0<<24 {
				t.Fatalf("expected custom+mask %#x; got %#x", 42|0xf0<<24, custom)
			}
			if sbt&0xffffff != 3 {
				t.Fatalf("expected sbt offset 3; got %d", sbt&0xffffff)
			}
			if sbt&InstanceNoForceNotOpaque == 0 {
				t.Fatal("expected default no-force-not-opaque encoding")
			}

			// The stored world-to-object transform undoes the
			// instance transform.
			wto := mem.Mat3x4(addr + InstanceWTOOffset)
			p := wto.TransformPoint(types.Vec3{10, 0, 0})
			if math.Abs(float64(p.Len())) > 1e-5 {
				t.Fatalf("expected inverse transform to map (10,0,0) to origin; got %v", p)
			}
		case 8:
			if sbt&InstanceNoForceNotOpaque != 0 {
				t.Fatal("expected force-non-opaque to clear the encoding bit")
			}
		default:
			t.Fatalf("expected instance id 7 or 8; got %d", id)
		}
		checked++
	}
	if checked != 2 {
		t.Fatalf("expected 2 instance nodes; got %d", checked)
	}

	if tlas.Stats.Instances != 2 {
		t.Fatalf("expected 2 instances in stats; got %d", tlas.Stats.Instances)
	}
}
