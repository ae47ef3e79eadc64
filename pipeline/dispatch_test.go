package pipeline

import "testing"

func markerCases(handles ...ShaderHandle) ([]Case[RayGenFn], *ShaderHandle) {
	ran := new(ShaderHandle)
	cases := make([]Case[RayGenFn], len(handles))
	for i, h := range handles {
		h := h
		cases[i] = Case[RayGenFn]{Handle: h, Fn: func(inv *Invocation) { *ran = h }}
	}
	return cases, ran
}

func TestDispatchLinear(t *testing.T) {
	cases, ran := markerCases(3, 7, 12)
	dispatch := CompileDispatch(cases, false)

	for _, h := range []ShaderHandle{3, 7, 12} {
		fn, ok := dispatch(h)
		if !ok {
			t.Fatalf("expected handle %d to resolve", h)
		}
		fn(nil)
		if *ran != h {
			t.Fatalf("expected case %d to run; got %d", h, *ran)
		}
	}

	if _, ok := dispatch(8); ok {
		t.Fatal("expected unknown handle to miss")
	}
}

func TestDispatchBinarySearch(t *testing.T) {
	// Enough cases to trigger the guarded binary search compilation.
	handles := make([]ShaderHandle, 0, 40)
	for h := ShaderHandle(1); h <= 40; h++ {
		handles = append(handles, h)
	}
	cases, ran := markerCases(handles...)
	dispatch := CompileDispatch(cases, false)

	for _, h := range handles {
		fn, ok := dispatch(h)
		if !ok {
			t.Fatalf("expected handle %d to resolve", h)
		}
		fn(nil)
		if *ran != h {
			t.Fatalf("expected case %d to run; got %d", h, *ran)
		}
	}
	if _, ok := dispatch(0); ok {
		t.Fatal("expected handle below the table to miss")
	}
	if _, ok := dispatch(41); ok {
		t.Fatal("expected handle above the table to miss")
	}
}

func TestDispatchDedup(t *testing.T) {
	first := 0
	cases := []Case[RayGenFn]{
		{Handle: 5, Fn: func(inv *Invocation) { first = 1 }},
		{Handle: 5, Fn: func(inv *Invocation) { first = 2 }},
	}
	dispatch := CompileDispatch(cases, false)

	fn, ok := dispatch(5)
	if !ok {
		t.Fatal("expected handle 5 to resolve")
	}
	fn(nil)
	if first != 1 {
		t.Fatalf("expected the first duplicate to win; got case %d", first)
	}
}

func TestDispatchNullGuard(t *testing.T) {
	cases, _ := markerCases(NullShader, 9)

	// With the guard in place a null handle never resolves, even when
	// a case was registered for it.
	guarded := CompileDispatch(cases, true)
	if _, ok := guarded(NullShader); ok {
		t.Fatal("expected guarded dispatch to reject the null handle")
	}
	if _, ok := guarded(9); !ok {
		t.Fatal("expected guarded dispatch to resolve a real handle")
	}

	unguarded := CompileDispatch(cases, false)
	if _, ok := unguarded(NullShader); !ok {
		t.Fatal("expected unguarded dispatch to resolve the null case")
	}
}

func TestDispatchNullGuardThreshold(t *testing.T) {
	// A single-case table is not worth guarding.
	cases, _ := markerCases(NullShader)
	dispatch := CompileDispatch(cases, true)
	if _, ok := dispatch(NullShader); !ok {
		t.Fatal("expected single-case table to skip the null guard")
	}
}
