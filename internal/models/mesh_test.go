package models

import "testing"

func TestMeshValidate(t *testing.T) {
	m := &Mesh{
		Vertices: []Vertex{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Faces:    []Face{{0, 1, 2}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m.Faces = append(m.Faces, Face{0, 1, 3})
	if err := m.Validate(); err == nil {
		t.Error("expected out of range error")
	}
	m.Faces[1] = Face{-1, 0, 1}
	if err := m.Validate(); err == nil {
		t.Error("expected negative index error")
	}
}

func TestMeshBounds(t *testing.T) {
	m := &Mesh{
		Vertices: []Vertex{{0, 0, 0}, {1, 2, 3}, {3, 2, -1}, {100, 100, 100}},
		Faces:    []Face{{0, 1, 2}},
	}
	b := m.Bounds()
	if b.Min != (Vertex{0, 0, -1}) {
		t.Errorf("min = %v", b.Min)
	}
	// vertex 3 is not referenced by any face
	if b.Max != (Vertex{3, 2, 3}) {
		t.Errorf("max = %v", b.Max)
	}
	if (&Mesh{}).Bounds() != (Box{}) {
		t.Error("empty mesh should have a zero box")
	}
}

func TestJobLogf(t *testing.T) {
	var seen []string
	j := NewConversionJob("j1", "in.obj", "out.stl")
	j.OnLog = func(line string) { seen = append(seen, line) }
	j.Logf("Input: %s", j.InputPath)
	if len(j.Log) != 1 || j.Log[0] != "Input: in.obj" {
		t.Errorf("log = %v", j.Log)
	}
	if len(seen) != 1 {
		t.Errorf("OnLog called %d times", len(seen))
	}
	if j.Status != StatusPending {
		t.Errorf("status = %s", j.Status)
	}
}
