package models

import "context"

// Shape is an opaque handle to a BREP model owned by a single conversion job.
// Release frees whatever backs the handle and may be called more than once.
type Shape interface {
	Tessellate(ctx context.Context, d DeflectionParameters) (*Mesh, error)
	Release() error
}
