package renderer

import (
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/math"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// MeshData is a mesh in CPU memory, ready for the mesh store.
type MeshData struct {
	Name     string
	Vertices []rhi.StandardVertex
	// Relative to Vertices.
	Indices []uint32
}

type cubeFace struct {
	normal, u, v math.Vec3
}

// u x v == normal, so every face winds counter-clockwise seen from outside.
var cubeFaces = [6]cubeFace{
	{math.NewVec3(0, 0, 1), math.NewVec3(1, 0, 0), math.NewVec3(0, 1, 0)},
	{math.NewVec3(0, 0, -1), math.NewVec3(-1, 0, 0), math.NewVec3(0, 1, 0)},
	{math.NewVec3(1, 0, 0), math.NewVec3(0, 0, -1), math.NewVec3(0, 1, 0)},
	{math.NewVec3(-1, 0, 0), math.NewVec3(0, 0, 1), math.NewVec3(0, 1, 0)},
	{math.NewVec3(0, 1, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 0, -1)},
	{math.NewVec3(0, -1, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 0, 1)},
}

// GenerateCube builds a box centred on the origin, 4 vertices per face.
func GenerateCube(name string, width, height, depth float32, color uint32) MeshData {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1.0
	}
	if depth == 0 {
		core.LogWarn("Depth must be nonzero. Defaulting to one.")
		depth = 1.0
	}
	half := math.NewVec3(width*0.5, height*0.5, depth*0.5)
	scale := func(p math.Vec3) math.Vec3 {
		return math.NewVec3(p.X*half.X, p.Y*half.Y, p.Z*half.Z)
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	positions := make([]math.Vec3, 0, 24)
	texcoords := make([][2]float32, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range cubeFaces {
		base := uint32(len(positions))
		for _, c := range corners {
			p := f.normal.Add(f.u.MulScalar(c[0])).Add(f.v.MulScalar(c[1]))
			positions = append(positions, scale(p))
			texcoords = append(texcoords, [2]float32{(c[0] + 1) * 0.5, (1 - c[1]) * 0.5})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return buildMesh(name, positions, texcoords, indices, color)
}

// GeneratePlane builds a quad in the XZ plane facing +Y.
func GeneratePlane(name string, width, depth float32, color uint32) MeshData {
	hw, hd := width*0.5, depth*0.5
	positions := []math.Vec3{
		math.NewVec3(-hw, 0, hd),
		math.NewVec3(hw, 0, hd),
		math.NewVec3(hw, 0, -hd),
		math.NewVec3(-hw, 0, -hd),
	}
	texcoords := [][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}
	return buildMesh(name, positions, texcoords, []uint32{0, 1, 2, 0, 2, 3}, color)
}

func buildMesh(name string, positions []math.Vec3, texcoords [][2]float32, indices []uint32, color uint32) MeshData {
	normals, err := math.GenerateNormals(positions, indices)
	if err != nil {
		// generated geometry is always well formed
		panic(err)
	}
	vertices := make([]rhi.StandardVertex, len(positions))
	for i, p := range positions {
		n := normals[i]
		vertices[i] = rhi.StandardVertex{
			Position: [3]float32{p.X, p.Y, p.Z},
			Normal:   [3]float32{n.X, n.Y, n.Z},
			Color:    color,
			Texcoord: texcoords[i],
		}
	}
	return MeshData{Name: name, Vertices: vertices, Indices: indices}
}
