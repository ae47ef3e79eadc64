package pipeline

// HitGroupRecord binds the shaders consulted when a leaf of the
// matching SBT index produces a candidate. Record is an opaque
// per-record value shaders can read through the invocation.
type HitGroupRecord struct {
	ClosestHit   ShaderHandle
	AnyHit       ShaderHandle
	Intersection ShaderHandle
	Record       uint64
}

// MissRecord binds the shader run when a trace finds no hit.
type MissRecord struct {
	Shader ShaderHandle
	Record uint64
}

// CallableRecord binds an indirectly callable shader.
type CallableRecord struct {
	Shader ShaderHandle
	Record uint64
}

// ShaderBindingTable indexes shader records the way a trace resolves
// them: hit groups by sbt offset + instance offset + stride * geometry
// index, miss records by the trace's miss index and callables by the
// call's table index.
type ShaderBindingTable struct {
	RayGen    ShaderHandle
	Miss      []MissRecord
	HitGroups []HitGroupRecord
	Callables []CallableRecord
}

// HitGroup resolves an SBT index, returning an empty record when the
// index is outside the table.
func (t *ShaderBindingTable) HitGroup(index uint32) HitGroupRecord {
	if int(index) >= len(t.HitGroups) {
		return HitGroupRecord{}
	}
	return t.HitGroups[index]
}

// MissShader resolves a miss index, returning an empty record when
// the index is outside the table.
func (t *ShaderBindingTable) MissShader(index uint32) MissRecord {
	if int(index) >= len(t.Miss) {
		return MissRecord{}
	}
	return t.Miss[index]
}
