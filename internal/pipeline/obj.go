package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

const defaultObjectName = "default"

// objObject collects the faces of one named object. OBJ vertex indices are global to the
// file, so each object keeps its own mapping from global to local indices.
type objObject struct {
	name  string
	remap map[int]int
	mesh  *models.Mesh
}

func (o *objObject) local(global int, verts []models.Vertex) int {
	if idx, ok := o.remap[global]; ok {
		return idx
	}
	idx := len(o.mesh.Vertices)
	o.remap[global] = idx
	o.mesh.Vertices = append(o.mesh.Vertices, verts[global])
	return idx
}

// ReadOBJ parses Wavefront OBJ polygon data into one mesh per object, in order of first
// appearance. "o" and "g" statements switch the current object; polygons with more than three
// corners are triangulated as a fan. Texture coordinates, normals and materials are ignored.
// Objects without faces are dropped, so an empty result means the file held no geometry.
func ReadOBJ(r io.Reader) ([]models.NamedMesh, error) {
	var (
		verts   []models.Vertex
		objects []*objObject
		byName  = map[string]*objObject{}
		current *objObject
	)
	use := func(name string) {
		if o, ok := byName[name]; ok {
			current = o
			return
		}
		current = &objObject{name: name, remap: map[int]int{}, mesh: &models.Mesh{}}
		byName[name] = current
		objects = append(objects, current)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			var v models.Vertex
			for k := 0; k < 3; k++ {
				f, err := strconv.ParseFloat(fields[k+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad coordinate %q", line, fields[k+1])
				}
				v[k] = f
			}
			verts = append(verts, v)
		case "o", "g":
			name := strings.Join(fields[1:], " ")
			if name == "" {
				name = defaultObjectName
			}
			use(name)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			corners := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				g, err := faceIndex(tok, len(verts))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				corners = append(corners, g)
			}
			if current == nil {
				use(defaultObjectName)
			}
			for i := 1; i+1 < len(corners); i++ {
				current.mesh.Faces = append(current.mesh.Faces, models.Face{
					current.local(corners[0], verts),
					current.local(corners[i], verts),
					current.local(corners[i+1], verts),
				})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var out []models.NamedMesh
	for _, o := range objects {
		if len(o.mesh.Faces) > 0 {
			out = append(out, models.NamedMesh{Name: o.name, Mesh: o.mesh})
		}
	}
	return out, nil
}

// faceIndex resolves a face corner such as "7", "7/2", "7//3" or "-1" to a zero based index
// into the n vertices read so far.
func faceIndex(tok string, n int) (int, error) {
	if i := strings.IndexByte(tok, '/'); i >= 0 {
		tok = tok[:i]
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", tok)
	}
	switch {
	case idx > 0:
		idx--
	case idx < 0:
		idx += n
	default:
		return 0, fmt.Errorf("face index 0 is not valid")
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("face index %s out of range (%d vertices)", tok, n)
	}
	return idx, nil
}
