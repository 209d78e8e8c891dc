package models

import (
	"fmt"
	"math"
)

// Vertex is a position in model space.
type Vertex [3]float64

// Face is a triangle given as three indices into Mesh.Vertices.
type Face [3]int

// Mesh is an indexed triangle mesh. Manifoldness is not enforced.
type Mesh struct {
	Vertices []Vertex
	Faces    []Face
}

// NamedMesh is one object of a multi-object scene.
type NamedMesh struct {
	Name string
	Mesh *Mesh
}

// Box is an axis aligned bounding box.
type Box struct {
	Min, Max Vertex
}

func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Faces)
}

func (m *Mesh) Empty() bool {
	return m == nil || len(m.Faces) == 0
}

// Validate checks that every face index lies in [0, len(Vertices)).
func (m *Mesh) Validate() error {
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("face %d references vertex %d, mesh has %d vertices", i, idx, n)
			}
		}
	}
	return nil
}

// Triangle returns the corner positions of face i.
func (m *Mesh) Triangle(i int) [3]Vertex {
	f := m.Faces[i]
	return [3]Vertex{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
}

// Bounds returns the bounding box of the vertices referenced by faces.
func (m *Mesh) Bounds() Box {
	if m.Empty() {
		return Box{}
	}
	b := Box{
		Min: Vertex{math.Inf(1), math.Inf(1), math.Inf(1)},
		Max: Vertex{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for _, f := range m.Faces {
		for _, idx := range f {
			v := m.Vertices[idx]
			for k := 0; k < 3; k++ {
				b.Min[k] = math.Min(b.Min[k], v[k])
				b.Max[k] = math.Max(b.Max[k], v[k])
			}
		}
	}
	return b
}

func (b Box) String() string {
	return fmt.Sprintf("(%g, %g, %g) - (%g, %g, %g)", b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2])
}
