package types

// A 3x4 row-major affine transform. Rows hold the rotation/scale part
// with the translation in the last column.
type Mat3x4 [12]float32

// Define the identity transform.
func IdentMat3x4() Mat3x4 {
	return Mat3x4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

// Get matrix row as a Vec4.
func (m Mat3x4) Row(r int) Vec4 {
	return Vec4{m[r*4], m[r*4+1], m[r*4+2], m[r*4+3]}
}

// Apply the full affine transform to a point.
func (m Mat3x4) TransformPoint(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2] + m[3],
		m[4]*v[0] + m[5]*v[1] + m[6]*v[2] + m[7],
		m[8]*v[0] + m[9]*v[1] + m[10]*v[2] + m[11],
	}
}

// Apply the rotation/scale part of the transform to a direction,
// ignoring translation.
func (m Mat3x4) TransformDir(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[4]*v[0] + m[5]*v[1] + m[6]*v[2],
		m[8]*v[0] + m[9]*v[1] + m[10]*v[2],
	}
}

// Extract a column of the rotation/scale part.
func (m Mat3x4) Col(c int) Vec3 {
	return Vec3{m[c], m[4+c], m[8+c]}
}

// Invert the affine transform. Degenerate linear parts yield the zero
// transform.
func (m Mat3x4) Inverse() Mat3x4 {
	det := m[0]*(m[5]*m[10]-m[6]*m[9]) -
		m[1]*(m[4]*m[10]-m[6]*m[8]) +
		m[2]*(m[4]*m[9]-m[5]*m[8])
	if det > -floatCmpEpsilon && det < floatCmpEpsilon {
		return Mat3x4{}
	}
	inv := 1.0 / det

	var out Mat3x4
	out[0] = (m[5]*m[10] - m[6]*m[9]) * inv
	out[1] = (m[2]*m[9] - m[1]*m[10]) * inv
	out[2] = (m[1]*m[6] - m[2]*m[5]) * inv
	out[4] = (m[6]*m[8] - m[4]*m[10]) * inv
	out[5] = (m[0]*m[10] - m[2]*m[8]) * inv
	out[6] = (m[2]*m[4] - m[0]*m[6]) * inv
	out[8] = (m[4]*m[9] - m[5]*m[8]) * inv
	out[9] = (m[1]*m[8] - m[0]*m[9]) * inv
	out[10] = (m[0]*m[5] - m[1]*m[4]) * inv

	t := Vec3{m[3], m[7], m[11]}
	out[3] = -(out[0]*t[0] + out[1]*t[1] + out[2]*t[2])
	out[7] = -(out[4]*t[0] + out[5]*t[1] + out[6]*t[2])
	out[11] = -(out[8]*t[0] + out[9]*t[1] + out[10]*t[2])
	return out
}

// Compose a translation with a linear part given by rows.
func Mat3x4FromRows(r0, r1, r2 Vec4) Mat3x4 {
	return Mat3x4{
		r0[0], r0[1], r0[2], r0[3],
		r1[0], r1[1], r1[2], r1[3],
		r2[0], r2[1], r2[2], r2[3],
	}
}
