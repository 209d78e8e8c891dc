package pipeline

import (
	"bufio"
	"context"
	"errors"
	"os"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

// Kernel imports BREP files into shape handles. It is implemented by the geometry kernel
// bridge in internal/kernel.
type Kernel interface {
	ReadShape(ctx context.Context, path string, format models.Format) (models.Shape, error)
}

var errNoKernel = errors.New("no geometry kernel configured")

// Loaded is the output of the loading stage: a shape handle for BREP formats, or the parts of
// a polygon scene for mesh formats.
type Loaded struct {
	Format models.Format
	Shape  models.Shape
	Parts  []models.NamedMesh
}

// Release frees the shape handle, if any.
func (l *Loaded) Release() error {
	if l == nil || l.Shape == nil {
		return nil
	}
	return l.Shape.Release()
}

// Load reads path using the strategy selected for format.
func Load(ctx context.Context, k Kernel, path string, format models.Format) (*Loaded, error) {
	switch format {
	case models.FormatSTEP, models.FormatIGES:
		if k == nil {
			return nil, newError(ErrReadFailure, "load shape", path, errNoKernel)
		}
		shape, err := k.ReadShape(ctx, path, format)
		if err != nil {
			return nil, newError(ErrReadFailure, "load shape", path, err)
		}
		if shape == nil {
			return nil, errorf(ErrReadFailure, "load shape", path, "importer returned no geometry")
		}
		return &Loaded{Format: format, Shape: shape}, nil
	case models.FormatOBJ:
		parts, err := LoadOBJ(path)
		if err != nil {
			return nil, err
		}
		return &Loaded{Format: format, Parts: parts}, nil
	default:
		return nil, errorf(ErrUnsupportedFormat, "load", path, "no loader for format %s", format)
	}
}

// LoadOBJ reads the OBJ scene at path.
func LoadOBJ(path string) ([]models.NamedMesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(ErrReadFailure, "read obj", path, err)
	}
	defer f.Close()

	parts, err := ReadOBJ(bufio.NewReader(f))
	if err != nil {
		return nil, newError(ErrReadFailure, "read obj", path, err)
	}
	if len(parts) == 0 {
		return nil, errorf(ErrEmptyGeometry, "read obj", path, "the OBJ file contains no geometry")
	}
	return parts, nil
}
