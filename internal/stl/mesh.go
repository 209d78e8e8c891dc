package stl

import (
	"math"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

// FromMesh builds a Solid with one facet per face. Normals follow the right-hand rule over the
// vertex winding; degenerate faces get a zero normal.
func FromMesh(name string, m *models.Mesh) *Solid {
	s := &Solid{Name: name}
	copy(s.Header[:], DefaultHeader)
	if m == nil {
		return s
	}
	s.Triangles = make([]Triangle, len(m.Faces))
	for i := range m.Faces {
		tri := m.Triangle(i)
		t := &s.Triangles[i]
		t.Normal = faceNormal(tri)
		for k, v := range tri {
			t.Vertex[k] = Point{float32(v[0]), float32(v[1]), float32(v[2])}
		}
	}
	return s
}

func faceNormal(tri [3]models.Vertex) Vector {
	ux, uy, uz := tri[1][0]-tri[0][0], tri[1][1]-tri[0][1], tri[1][2]-tri[0][2]
	vx, vy, vz := tri[2][0]-tri[0][0], tri[2][1]-tri[0][1], tri[2][2]-tri[0][2]
	nx, ny, nz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
	l := math.Sqrt(nx*nx + ny*ny + nz*nz)
	if l == 0 || math.IsNaN(l) {
		return Vector{}
	}
	return Vector{float32(nx / l), float32(ny / l), float32(nz / l)}
}

// Mesh converts the triangle soup into an indexed mesh, merging corners with identical
// coordinates.
func (s *Solid) Mesh() *models.Mesh {
	m := &models.Mesh{Faces: make([]models.Face, 0, len(s.Triangles))}
	index := make(map[Point]int, len(s.Triangles))
	for i := range s.Triangles {
		var f models.Face
		for k, p := range s.Triangles[i].Vertex {
			idx, ok := index[p]
			if !ok {
				idx = len(m.Vertices)
				index[p] = idx
				m.Vertices = append(m.Vertices, models.Vertex{float64(p.X), float64(p.Y), float64(p.Z)})
			}
			f[k] = idx
		}
		m.Faces = append(m.Faces, f)
	}
	return m
}
