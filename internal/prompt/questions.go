package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/pipeline"
)

// Answers holds the arguments of one conversion. Zero fields are asked for.
type Answers struct {
	Input      string
	Output     string
	Deflection models.DeflectionParameters
	ASCII      bool
	// Tuned is set when the tolerances came from flags and should not be asked for.
	Tuned bool
}

type preset struct {
	label  string
	linear float64
}

// Presets offered for mesh quality; the last entry asks for a custom value.
var presets = []preset{
	{"Fine (linear deflection 0.01)", 0.01},
	{"Standard (linear deflection 0.1)", models.DefaultLinearDeflection},
	{"Coarse (linear deflection 0.5)", 0.5},
	{"Custom...", 0},
}

// Ask fills in the missing parts of a. The answers it returns are validated the same way the
// command line flags are.
func Ask(ctx context.Context, d Driver, a Answers) (Answers, error) {
	var err error
	if a.Input == "" {
		a.Input, err = d.Input(ctx, InputConfig{
			Message:   "CAD file to convert:",
			Help:      "Supported input formats: " + pipeline.SupportedExtensions,
			Validator: validateInput,
		})
		if err != nil {
			return a, err
		}
		a.Input = strings.TrimSpace(a.Input)
	}

	if a.Output == "" {
		a.Output, err = d.Input(ctx, InputConfig{
			Message: "STL file to write:",
			Default: DefaultOutput(a.Input),
			Validator: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("output path is required")
				}
				return nil
			},
		})
		if err != nil {
			return a, err
		}
		a.Output = strings.TrimSpace(a.Output)
	}

	if !a.Tuned {
		if a.Deflection, err = askDeflection(ctx, d, a.Deflection); err != nil {
			return a, err
		}
	}

	if !a.ASCII {
		a.ASCII, err = d.Confirm(ctx, ConfirmConfig{
			Message: "Write ASCII STL?",
			Help:    "Binary STL is smaller; ASCII is human readable.",
		})
		if err != nil {
			return a, err
		}
	}
	return a, nil
}

func askDeflection(ctx context.Context, d Driver, current models.DeflectionParameters) (models.DeflectionParameters, error) {
	if current.Validate() != nil {
		current = models.DefaultDeflection()
	}
	options := make([]string, len(presets))
	def := 1
	for i, p := range presets {
		options[i] = p.label
		if p.linear == current.Linear {
			def = i
		}
	}
	idx, err := d.Select(ctx, SelectConfig{
		Message:      "Mesh quality:",
		Options:      options,
		DefaultIndex: def,
		Help:         "Smaller deflection produces a denser, more accurate mesh.",
	})
	if err != nil {
		return current, err
	}
	if idx < 0 || idx >= len(presets) {
		return current, fmt.Errorf("unknown quality option %d", idx)
	}
	if p := presets[idx]; p.linear > 0 {
		current.Linear = p.linear
		return current, nil
	}

	linear, err := d.Input(ctx, InputConfig{
		Message:   "Linear deflection:",
		Default:   strconv.FormatFloat(current.Linear, 'g', -1, 64),
		Validator: positiveNumber,
	})
	if err != nil {
		return current, err
	}
	angular, err := d.Input(ctx, InputConfig{
		Message:   "Angular deflection (radians):",
		Default:   strconv.FormatFloat(current.Angular, 'g', -1, 64),
		Validator: positiveNumber,
	})
	if err != nil {
		return current, err
	}
	return models.ParseDeflection(linear, angular)
}

// DefaultOutput is the input path with its extension replaced by .stl.
func DefaultOutput(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".stl"
}

func validateInput(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("input path is required")
	}
	if _, err := pipeline.Resolve(s); err != nil {
		return err
	}
	if _, err := os.Stat(s); err != nil {
		return fmt.Errorf("cannot open %s: %w", s, err)
	}
	return nil
}

func positiveNumber(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	if !(v > 0) {
		return errors.New("must be greater than zero")
	}
	return nil
}
