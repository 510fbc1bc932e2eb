package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Mat4 is a column-major 4x4 matrix: Data[12], Data[13], Data[14] hold the
// translation.
type Mat4 struct {
	Data [16]float32
}

// Mat4Size is the byte size of a Mat4 once uploaded.
const Mat4Size = 64
