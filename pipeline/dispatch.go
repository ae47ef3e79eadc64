package pipeline

import "sort"

const (
	// Case tables at or above this size compile to a binary search
	// tree of guarded closures; smaller ones to a linear equality
	// chain.
	bsearchThreshold = 16

	// The null-handle guard is only worth emitting once a table has
	// this many cases.
	nullCheckThreshold = 2
)

// Case binds a shader handle to its stage function.
type Case[F any] struct {
	Handle ShaderHandle
	Fn     F
}

// Dispatch is a compiled handle switch: it resolves a handle to the
// stage function of the matching case.
type Dispatch[F any] func(ShaderHandle) (F, bool)

// CompileDispatch builds the dispatch closure tree for a case table.
// Cases are deduplicated by handle and sorted; canHaveNull controls
// whether a null-handle guard is placed in front.
func CompileDispatch[F any](cases []Case[F], canHaveNull bool) Dispatch[F] {
	seen := make(map[ShaderHandle]bool, len(cases))
	unique := make([]Case[F], 0, len(cases))
	for _, c := range cases {
		if seen[c.Handle] {
			continue
		}
		seen[c.Handle] = true
		unique = append(unique, c)
	}
	sort.Slice(unique, func(i, j int) bool {
		return unique[i].Handle < unique[j].Handle
	})

	compiled := compileRange(unique)
	if canHaveNull && len(unique) >= nullCheckThreshold {
		return func(h ShaderHandle) (F, bool) {
			if h == NullShader {
				var zero F
				return zero, false
			}
			return compiled(h)
		}
	}
	return compiled
}

func compileRange[F any](cases []Case[F]) Dispatch[F] {
	if len(cases) >= bsearchThreshold {
		mid := len(cases) / 2
		pivot := cases[mid].Handle
		lower := compileRange(cases[:mid])
		upper := compileRange(cases[mid:])
		return func(h ShaderHandle) (F, bool) {
			if h >= pivot {
				return upper(h)
			}
			return lower(h)
		}
	}
	return func(h ShaderHandle) (F, bool) {
		for _, c := range cases {
			if c.Handle == h {
				return c.Fn, true
			}
		}
		var zero F
		return zero, false
	}
}
