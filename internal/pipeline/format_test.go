package pipeline

import (
	"errors"
	"testing"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		path string
		want models.Format
	}{
		{"part.step", models.FormatSTEP},
		{"part.stp", models.FormatSTEP},
		{"/a/b/PART.STEP", models.FormatSTEP},
		{"part.igs", models.FormatIGES},
		{"part.IGES", models.FormatIGES},
		{"dir.v2/scene.obj", models.FormatOBJ},
		{"scene.Obj", models.FormatOBJ},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.path)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestResolveUnsupported(t *testing.T) {
	for _, path := range []string{"model.stl", "model.fbx", "noext", "archive.step.zip", "obj", ""} {
		got, err := Resolve(path)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnsupportedFormat", path, err)
		}
		if got != models.FormatUnknown {
			t.Errorf("Resolve(%q) = %v, want unknown", path, got)
		}
	}
}

func TestFormatIsBREP(t *testing.T) {
	if !models.FormatSTEP.IsBREP() || !models.FormatIGES.IsBREP() {
		t.Error("STEP and IGES are BREP formats")
	}
	if models.FormatOBJ.IsBREP() || models.FormatUnknown.IsBREP() {
		t.Error("OBJ is a mesh format")
	}
}
