// Package stl reads and writes STL triangle files in both the binary and the ASCII encoding.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

const (
	headerSize   = 80
	triangleSize = 50
)

// DefaultHeader is written into binary files. It must not begin with "solid", which readers
// use to sniff the ASCII encoding.
const DefaultHeader = "cadtostl binary STL"

var ErrMalformed = errors.New("malformed STL")

type Solid struct {
	Header    [headerSize]byte
	Name      string
	Triangles []Triangle
	ASCII     bool
}

type Triangle struct {
	Normal Vector
	Vertex [3]Point
	Attr   uint16
}

type Point struct {
	X, Y, Z float32
}

func (p1 Point) Equals(p2 Point) bool {
	return p1.X == p2.X && p1.Y == p2.Y && p1.Z == p2.Z
}

type Vector struct {
	X, Y, Z float32
}

var epsilon float32 = 1e-5

// IsNormal reports whether v has unit length.
func (v Vector) IsNormal() bool {
	d := 1 - v.Abs()
	return d < epsilon && d > -epsilon
}

// Abs returns the squared length of v.
func (v Vector) Abs() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// A Subspace is a region of the coordinate space from Min to Max
type Subspace struct {
	Min Point
	Max Point
}

// Bounds returns the bounding box of all triangle corners.
func (s *Solid) Bounds() Subspace {
	if len(s.Triangles) == 0 {
		return Subspace{}
	}
	first := s.Triangles[0].Vertex[0]
	b := Subspace{Min: first, Max: first}
	for i := range s.Triangles {
		for _, p := range s.Triangles[i].Vertex {
			p.setmin(&b.Min)
			p.setmax(&b.Max)
		}
	}
	return b
}

// Degenerate reports whether two corners of t coincide.
func (t *Triangle) Degenerate() bool {
	a, b, c := t.Vertex[0], t.Vertex[1], t.Vertex[2]
	return a.Equals(b) || b.Equals(c) || a.Equals(c)
}

// Stats summarizes a solid for verification.
type Stats struct {
	Triangles  int
	Degenerate int // facets with coinciding corners
	BadNormals int // facets whose normal is neither unit length nor zero
	Bounds     Subspace
}

func (s *Solid) Stats() Stats {
	st := Stats{Triangles: len(s.Triangles), Bounds: s.Bounds()}
	for i := range s.Triangles {
		t := &s.Triangles[i]
		if t.Degenerate() {
			st.Degenerate++
		}
		if t.Normal != (Vector{}) && !t.Normal.IsNormal() {
			st.BadNormals++
		}
	}
	return st
}

func (p Point) setmin(min *Point) {
	if p.X < min.X {
		min.X = p.X
	}
	if p.Y < min.Y {
		min.Y = p.Y
	}
	if p.Z < min.Z {
		min.Z = p.Z
	}
}

func (p Point) setmax(max *Point) {
	if p.X > max.X {
		max.X = p.X
	}
	if p.Y > max.Y {
		max.Y = p.Y
	}
	if p.Z > max.Z {
		max.Z = p.Z
	}
}

// short name, for convenience
var le = binary.LittleEndian

// Decode reads a binary or ASCII STL. A stream whose length matches the binary layout is
// decoded as binary even if its header happens to start with "solid".
func Decode(r io.Reader) (*Solid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) >= headerSize+4 {
		num := le.Uint32(data[headerSize:])
		if uint64(len(data)) == uint64(headerSize+4)+uint64(num)*triangleSize {
			return decodeBinary(data)
		}
	}
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid")) {
		return decodeASCII(data)
	}
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a binary header", ErrMalformed, len(data))
	}
	return nil, fmt.Errorf("%w: triangle count %d does not match file size %d", ErrMalformed, le.Uint32(data[headerSize:]), len(data))
}

func decodeBinary(data []byte) (*Solid, error) {
	s := &Solid{}
	copy(s.Header[:], data[:headerSize])
	num := le.Uint32(data[headerSize:])
	s.Triangles = make([]Triangle, num)
	off := headerSize + 4
	for i := range s.Triangles {
		readTriangle(data[off:off+triangleSize], &s.Triangles[i])
		off += triangleSize
	}
	return s, nil
}

// minimize copies by writing directly into the final storage
// place for the Triangle
func readTriangle(buf []byte, t *Triangle) {
	f := func(i int) float32 { return math.Float32frombits(le.Uint32(buf[i*4:])) }
	t.Normal = Vector{f(0), f(1), f(2)}
	t.Vertex[0] = Point{f(3), f(4), f(5)}
	t.Vertex[1] = Point{f(6), f(7), f(8)}
	t.Vertex[2] = Point{f(9), f(10), f(11)}
	t.Attr = le.Uint16(buf[48:])
}

func formatTriangle(t *Triangle, buf []byte) {
	vals := [12]float32{
		t.Normal.X, t.Normal.Y, t.Normal.Z,
		t.Vertex[0].X, t.Vertex[0].Y, t.Vertex[0].Z,
		t.Vertex[1].X, t.Vertex[1].Y, t.Vertex[1].Z,
		t.Vertex[2].X, t.Vertex[2].Y, t.Vertex[2].Z,
	}
	for i, v := range vals {
		le.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	le.PutUint16(buf[48:], t.Attr)
}

// Encode writes s in the binary encoding.
func Encode(w io.Writer, s *Solid) error {
	if uint64(len(s.Triangles)) > math.MaxUint32 {
		return fmt.Errorf("too many triangles for binary STL: %d", len(s.Triangles))
	}
	var head [headerSize + 4]byte
	copy(head[:], s.Header[:])
	le.PutUint32(head[headerSize:], uint32(len(s.Triangles)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	var buf [triangleSize]byte
	for i := range s.Triangles {
		formatTriangle(&s.Triangles[i], buf[:])
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// EncodeASCII writes s in the ASCII encoding. Coordinates use the shortest representation
// that parses back to the same float32, so a round trip is exact.
func EncodeASCII(w io.Writer, s *Solid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "solid %s\n", s.Name)
	for i := range s.Triangles {
		t := &s.Triangles[i]
		fmt.Fprintf(bw, "  facet normal %s %s %s\n", ftoa(t.Normal.X), ftoa(t.Normal.Y), ftoa(t.Normal.Z))
		bw.WriteString("    outer loop\n")
		for _, p := range t.Vertex {
			fmt.Fprintf(bw, "      vertex %s %s %s\n", ftoa(p.X), ftoa(p.Y), ftoa(p.Z))
		}
		bw.WriteString("    endloop\n  endfacet\n")
	}
	fmt.Fprintf(bw, "endsolid %s\n", s.Name)
	return bw.Flush()
}

func ftoa(v float32) string {
	return strconv.FormatFloat(float64(v), 'e', -1, 32)
}

func decodeASCII(data []byte) (*Solid, error) {
	s := &Solid{ASCII: true}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		cur     Triangle
		corner  int
		inFacet bool
		line    int
	)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "solid":
			s.Name = strings.Join(fields[1:], " ")
		case "facet":
			if len(fields) != 5 || fields[1] != "normal" {
				return nil, fmt.Errorf("%w: line %d: bad facet", ErrMalformed, line)
			}
			n, err := parsePoint(fields[2:])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
			}
			cur = Triangle{Normal: Vector(n)}
			corner = 0
			inFacet = true
		case "vertex":
			if !inFacet || corner > 2 || len(fields) != 4 {
				return nil, fmt.Errorf("%w: line %d: unexpected vertex", ErrMalformed, line)
			}
			p, err := parsePoint(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
			}
			cur.Vertex[corner] = p
			corner++
		case "endfacet":
			if !inFacet || corner != 3 {
				return nil, fmt.Errorf("%w: line %d: facet with %d vertices", ErrMalformed, line, corner)
			}
			s.Triangles = append(s.Triangles, cur)
			inFacet = false
		case "outer", "endloop", "endsolid":
		default:
			return nil, fmt.Errorf("%w: line %d: unknown keyword %q", ErrMalformed, line, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if inFacet {
		return nil, fmt.Errorf("%w: unterminated facet", ErrMalformed)
	}
	return s, nil
}

func parsePoint(fields []string) (Point, error) {
	var v [3]float32
	for i := range v {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return Point{}, err
		}
		v[i] = float32(f)
	}
	return Point{v[0], v[1], v[2]}, nil
}

// ReadFile decodes the STL at path.
func ReadFile(path string) (*Solid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// Options controls WriteFile.
type Options struct {
	ASCII bool
	Name  string
}

// WriteFile serializes m to path, creating parent directories as needed. The data is written
// to a temporary file next to path and renamed into place once complete. It returns the size
// of the written file.
func WriteFile(path string, m *models.Mesh, opts Options) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	s := FromMesh(opts.Name, m)
	bw := bufio.NewWriter(tmp)
	if opts.ASCII {
		err = EncodeASCII(bw, s)
	} else {
		err = Encode(bw, s)
	}
	if err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	committed = true

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
