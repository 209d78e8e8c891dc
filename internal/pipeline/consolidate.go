package pipeline

import "github.com/Lllllllleong/cadtostl/internal/models"

// Consolidate concatenates parts in order into one mesh. Face indices of each part are offset
// by the number of vertices contributed by the parts before it.
func Consolidate(parts []*models.Mesh) (*models.Mesh, error) {
	if len(parts) == 0 {
		return nil, errorf(ErrEmptyGeometry, "consolidate meshes", "", "no mesh parts")
	}
	var nv, nf int
	for _, p := range parts {
		if p != nil {
			nv += len(p.Vertices)
			nf += len(p.Faces)
		}
	}
	out := &models.Mesh{
		Vertices: make([]models.Vertex, 0, nv),
		Faces:    make([]models.Face, 0, nf),
	}
	for _, p := range parts {
		if p == nil {
			continue
		}
		offset := len(out.Vertices)
		out.Vertices = append(out.Vertices, p.Vertices...)
		for _, f := range p.Faces {
			out.Faces = append(out.Faces, models.Face{f[0] + offset, f[1] + offset, f[2] + offset})
		}
	}
	return out, nil
}
