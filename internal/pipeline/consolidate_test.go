package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

func TestConsolidate(t *testing.T) {
	m1 := &models.Mesh{
		Vertices: []models.Vertex{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Faces:    []models.Face{{0, 1, 2}},
	}
	m2 := &models.Mesh{
		Vertices: []models.Vertex{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}},
		Faces:    []models.Face{{0, 1, 2}, {0, 2, 3}},
	}

	got, err := Consolidate([]*models.Mesh{m1, m2})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(got.Vertices) != 7 || len(got.Faces) != 3 {
		t.Fatalf("got %d vertices and %d faces, want 7 and 3", len(got.Vertices), len(got.Faces))
	}
	want := []models.Face{{0, 1, 2}, {3, 4, 5}, {3, 5, 6}}
	if diff := cmp.Diff(want, got.Faces); diff != "" {
		t.Errorf("faces mismatch (-want +got):\n%s", diff)
	}
	if err := got.Validate(); err != nil {
		t.Error(err)
	}
	// inputs are not modified
	if m2.Faces[0] != (models.Face{0, 1, 2}) {
		t.Error("input mesh was mutated")
	}
}

func TestConsolidateEmpty(t *testing.T) {
	if _, err := Consolidate(nil); !errors.Is(err, ErrEmptyGeometry) {
		t.Errorf("err = %v, want ErrEmptyGeometry", err)
	}
}
