package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Quaternion represents a rotational orientation.
type Quaternion Vec4

// Mat4 is a 4x4 matrix stored row by row, translation in Data[12:15].
// Vectors are multiplied as rows (v * M), so Mul composes left to right.
type Mat4 struct {
	Data [16]float32
}

// Transform is a position, rotation and scale with a cached local matrix.
// Fields must be changed through the setters so the cache is invalidated.
type Transform struct {
	position Vec3
	rotation Quaternion
	scale    Vec3
	isDirty  bool
	local    Mat4
	Parent   *Transform
}
