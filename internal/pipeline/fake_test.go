package pipeline

import (
	"context"
	"errors"
	"math"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

// fakeShape tessellates a unit square into a grid whose density follows the linear deflection.
type fakeShape struct {
	tessErr   error
	empty     bool
	badIndex  bool
	calls     int
	released  int
	gotParams models.DeflectionParameters
}

func (s *fakeShape) Tessellate(_ context.Context, d models.DeflectionParameters) (*models.Mesh, error) {
	s.calls++
	s.gotParams = d
	if s.tessErr != nil {
		return nil, s.tessErr
	}
	if s.empty {
		return &models.Mesh{}, nil
	}
	n := int(math.Ceil(1 / d.Linear))
	if n < 1 {
		n = 1
	}
	m := &models.Mesh{}
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			m.Vertices = append(m.Vertices, models.Vertex{float64(i) / float64(n), float64(j) / float64(n), 0})
		}
	}
	row := n + 1
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a := j*row + i
			m.Faces = append(m.Faces, models.Face{a, a + 1, a + row + 1}, models.Face{a, a + row + 1, a + row})
		}
	}
	if s.badIndex {
		m.Faces[0][2] = len(m.Vertices)
	}
	return m, nil
}

func (s *fakeShape) Release() error {
	s.released++
	return nil
}

type fakeKernel struct {
	shape   *fakeShape
	readErr error
	paths   []string
}

func (k *fakeKernel) ReadShape(_ context.Context, path string, _ models.Format) (models.Shape, error) {
	k.paths = append(k.paths, path)
	if k.readErr != nil {
		return nil, k.readErr
	}
	return k.shape, nil
}

var errKernel = errors.New("kernel exploded")
