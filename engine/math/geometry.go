package math

import "fmt"

// GenerateNormals returns one face normal per vertex for an indexed triangle
// list. A vertex shared by several faces keeps the normal of the last one.
func GenerateNormals(positions []Vec3, indices []uint32) ([]Vec3, error) {
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("index count %d is not a multiple of 3", len(indices))
	}
	normals := make([]Vec3, len(positions))
	for i := 0; i < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		if int(i0) >= len(positions) || int(i1) >= len(positions) || int(i2) >= len(positions) {
			return nil, fmt.Errorf("triangle %d references a vertex past %d", i/3, len(positions))
		}
		edge1 := positions[i1].Sub(positions[i0])
		edge2 := positions[i2].Sub(positions[i0])
		normal := edge1.Cross(edge2).Normalized()

		normals[i0] = normal
		normals[i1] = normal
		normals[i2] = normal
	}
	return normals, nil
}
