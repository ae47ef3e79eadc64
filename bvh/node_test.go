package bvh

import "testing"

func TestNodeKindTests(t *testing.T) {
	cases := []struct {
		node     uint32
		triangle bool
		box      bool
		instance bool
		aabb     bool
	}{
		{NodeTriangle, true, false, false, false},
		{NodeBox16, false, true, false, false},
		{NodeBox32, false, true, false, false},
		{NodeInstance, false, false, true, false},
		{NodeAABB, false, false, false, true},
		{0x1000 | NodeInstance, false, false, true, false},
		{0x1000 | NodeAABB, false, false, false, true},
	}

	for _, c := range cases {
		if got := IsTriangleNode(c.node); got != c.triangle {
			t.Fatalf("expected IsTriangleNode(%#x) to be %v; got %v", c.node, c.triangle, got)
		}
		if got := IsBoxNode(c.node); got != c.box {
			t.Fatalf("expected IsBoxNode(%#x) to be %v; got %v", c.node, c.box, got)
		}
		if got := IsInstanceNode(c.node); got != c.instance {
			t.Fatalf("expected IsInstanceNode(%#x) to be %v; got %v", c.node, c.instance, got)
		}
		if got := IsAABBNode(c.node); got != c.aabb {
			t.Fatalf("expected IsAABBNode(%#x) to be %v; got %v", c.node, c.aabb, got)
		}
	}
}

func TestEncodeBaseRoundTrip(t *testing.T) {
	const addr = uint64(0x10_0040)

	base := EncodeBase(addr, 0, Gen4)
	if got := NodeToAddr(base, true) & ((1 << 48) - 1); got != addr {
		t.Fatalf("expected decoded base %#x; got %#x", addr, got)
	}

	// A node handle offsets the base in 8-byte units; the tag bits
	// are stripped during address formation.
	node := uint32(128/8) | NodeTriangle
	global := base + uint64(node)
	if got := NodeToAddr(global, false) & ((1 << 48) - 1); got != addr+128 {
		t.Fatalf("expected node address %#x; got %#x", addr+128, got)
	}
}

func TestEncodeBasePointerFlags(t *testing.T) {
	const addr = uint64(0x10_0040)

	// Without pointer flag support the flags are dropped.
	base := EncodeBase(addr, RayFlagCullBackFacing, Gen4)
	if base>>PointerFlagShift != 0 {
		t.Fatalf("expected no pointer flags on gen4 base; got %#x", base>>PointerFlagShift)
	}

	base = EncodeBase(addr, RayFlagCullBackFacing|RayFlagTerminateOnFirstHit, Gen8)
	flags := uint32(base >> PointerFlagShift)
	if flags != RayFlagCullBackFacing {
		t.Fatalf("expected only hardware-translatable flags %#x; got %#x", RayFlagCullBackFacing, flags)
	}

	// The address part survives the flag fold.
	if got := NodeToAddr(base, true) & ((1 << 48) - 1); got != addr {
		t.Fatalf("expected decoded base %#x; got %#x", addr, got)
	}
}

func TestFoldPointerFlags(t *testing.T) {
	base := EncodeBase(0x10_0040, RayFlagOpaque, Gen8)

	// A ray-level opaqueness override replaces the pointer's.
	folded := FoldPointerFlags(base, RayFlagNoOpaque)
	flags := uint32(folded >> PointerFlagShift)
	if flags != RayFlagNoOpaque {
		t.Fatalf("expected opaqueness override %#x; got %#x", RayFlagNoOpaque, flags)
	}

	// Without an override the pointer's opaqueness is kept.
	folded = FoldPointerFlags(base, RayFlagCullFrontFacing)
	flags = uint32(folded >> PointerFlagShift)
	if flags != RayFlagOpaque|RayFlagCullFrontFacing {
		t.Fatalf("expected merged flags %#x; got %#x", RayFlagOpaque|RayFlagCullFrontFacing, flags)
	}
}

func TestDescriptor(t *testing.T) {
	desc := MakeDescriptor(Gen4, BoxSortClosest)
	if desc[3]&descValid == 0 {
		t.Fatal("expected valid bit set")
	}
	if desc[1]&descBoxSortEnable == 0 {
		t.Fatal("expected box sort enable bit set")
	}
	if desc[3]&descCompressedFormat != 0 {
		t.Fatal("expected no compressed format bit on gen4")
	}

	desc = MakeDescriptor(Gen8, BoxSortMidpoint)
	if desc[1]>>descBoxSortModeShift&3 != uint32(BoxSortMidpoint) {
		t.Fatalf("expected sort mode %d; got %d", BoxSortMidpoint, desc[1]>>descBoxSortModeShift&3)
	}
	for _, bit := range []uint32{descCompressedFormat, descWideSortEnable, descInstanceEnable, descPointerFlagEnable} {
		if desc[3]&bit == 0 {
			t.Fatalf("expected gen8 descriptor bit %#x set", bit)
		}
	}
}

func TestSelectBoxSortMode(t *testing.T) {
	if got := SelectBoxSortMode([]bool{true, true}); got != BoxSortLargest {
		t.Fatalf("expected largest mode when all lanes terminate early; got %d", got)
	}
	if got := SelectBoxSortMode([]bool{false, false}); got != BoxSortMidpoint {
		t.Fatalf("expected midpoint mode when no lane terminates early; got %d", got)
	}
	if got := SelectBoxSortMode([]bool{true, false}); got != BoxSortClosest {
		t.Fatalf("expected closest mode on divergence; got %d", got)
	}
}
