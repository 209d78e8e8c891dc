package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// System-wide tessellation defaults. Linear is in model length units, angular in radians (30°).
const (
	DefaultLinearDeflection  = 0.1
	DefaultAngularDeflection = 0.523599
)

// ErrInvalidDeflection is returned when a tolerance is non-numeric, non-finite or not positive.
var ErrInvalidDeflection = errors.New("invalid deflection")

// DeflectionParameters bounds the chordal (Linear) and angular (Angular, radians) deviation
// between a surface and its triangulation. Smaller values give denser meshes.
type DeflectionParameters struct {
	Linear  float64 `json:"linear" yaml:"linear_deflection"`
	Angular float64 `json:"angular" yaml:"angular_deflection"`
}

// DefaultDeflection returns the system-wide default tolerances.
func DefaultDeflection() DeflectionParameters {
	return DeflectionParameters{Linear: DefaultLinearDeflection, Angular: DefaultAngularDeflection}
}

// Validate reports whether both tolerances are finite and strictly positive.
func (d DeflectionParameters) Validate() error {
	if err := checkTolerance("linear", d.Linear); err != nil {
		return err
	}
	return checkTolerance("angular", d.Angular)
}

func (d DeflectionParameters) String() string {
	return fmt.Sprintf("linear=%g angular=%g", d.Linear, d.Angular)
}

// ParseDeflection parses user supplied tolerance strings. It is the numeric gate for values
// typed into a form or passed on a command line.
func ParseDeflection(linear, angular string) (DeflectionParameters, error) {
	l, err := strconv.ParseFloat(strings.TrimSpace(linear), 64)
	if err != nil {
		return DeflectionParameters{}, fmt.Errorf("%w: linear deflection %q is not a number", ErrInvalidDeflection, linear)
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(angular), 64)
	if err != nil {
		return DeflectionParameters{}, fmt.Errorf("%w: angular deflection %q is not a number", ErrInvalidDeflection, angular)
	}
	d := DeflectionParameters{Linear: l, Angular: a}
	return d, d.Validate()
}

func checkTolerance(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s deflection must be a finite number, got %v", ErrInvalidDeflection, name, v)
	}
	if v <= 0 {
		return fmt.Errorf("%w: %s deflection must be greater than zero, got %v", ErrInvalidDeflection, name, v)
	}
	return nil
}
