package pipeline

import (
	"context"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

// Tessellate meshes shape within the given tolerances. The tolerances are checked before the
// kernel is invoked; a kernel failure is terminal for the job.
func Tessellate(ctx context.Context, shape models.Shape, d models.DeflectionParameters) (*models.Mesh, error) {
	if err := d.Validate(); err != nil {
		return nil, newError(ErrInvalidParameters, "tessellate", "", err)
	}
	if shape == nil {
		return nil, errorf(ErrTessellationFailure, "tessellate", "", "nil shape")
	}
	mesh, err := shape.Tessellate(ctx, d)
	if err != nil {
		return nil, newError(ErrTessellationFailure, "tessellate", "", err)
	}
	if mesh.Empty() {
		return nil, errorf(ErrEmptyGeometry, "tessellate", "", "tessellation produced no triangles")
	}
	if err := mesh.Validate(); err != nil {
		return nil, newError(ErrTessellationFailure, "tessellate", "", err)
	}
	return mesh, nil
}
