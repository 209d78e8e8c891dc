package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

func TestTessellateIndicesInRange(t *testing.T) {
	for _, d := range []models.DeflectionParameters{
		{Linear: 1, Angular: 1},
		{Linear: 0.1, Angular: 0.523599},
		{Linear: 0.013, Angular: 0.01},
		{Linear: 7, Angular: 3},
	} {
		s := &fakeShape{}
		mesh, err := Tessellate(context.Background(), s, d)
		if err != nil {
			t.Fatalf("Tessellate(%v): %v", d, err)
		}
		for i, f := range mesh.Faces {
			for _, idx := range f {
				if idx < 0 || idx >= len(mesh.Vertices) {
					t.Fatalf("%v: face %d index %d out of range", d, i, idx)
				}
			}
		}
		if s.gotParams != d {
			t.Errorf("kernel got %v, want %v", s.gotParams, d)
		}
	}
}

func TestTessellateRejectsParametersBeforeKernel(t *testing.T) {
	s := &fakeShape{}
	_, err := Tessellate(context.Background(), s, models.DeflectionParameters{Linear: 0.1, Angular: -0.5})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("err = %v, want ErrInvalidParameters", err)
	}
	if s.calls != 0 {
		t.Errorf("kernel called %d times", s.calls)
	}
}

func TestTessellateFailures(t *testing.T) {
	d := models.DefaultDeflection()
	tests := []struct {
		name  string
		shape *fakeShape
		want  error
	}{
		{"kernel error", &fakeShape{tessErr: errKernel}, ErrTessellationFailure},
		{"empty", &fakeShape{empty: true}, ErrEmptyGeometry},
		{"bad index", &fakeShape{badIndex: true}, ErrTessellationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tessellate(context.Background(), tt.shape, d)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := Tessellate(context.Background(), &fakeShape{tessErr: errKernel}, d); !errors.Is(err, errKernel) {
		t.Errorf("underlying cause lost: %v", err)
	}
}
