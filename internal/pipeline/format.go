package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

var extensions = map[string]models.Format{
	".step": models.FormatSTEP,
	".stp":  models.FormatSTEP,
	".igs":  models.FormatIGES,
	".iges": models.FormatIGES,
	".obj":  models.FormatOBJ,
}

// SupportedExtensions is the banner shown to users.
const SupportedExtensions = "STEP (.step, .stp), IGES (.igs, .iges), OBJ (.obj)"

// Resolve maps the extension of path (case-insensitive) to an input format.
func Resolve(path string) (models.Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	if ext == "" {
		return models.FormatUnknown, errorf(ErrUnsupportedFormat, "resolve format", path, "file has no extension")
	}
	return models.FormatUnknown, errorf(ErrUnsupportedFormat, "resolve format", path, "extension %q is not one of %s", ext, SupportedExtensions)
}

// IsSupported reports whether path has a recognized input extension.
func IsSupported(path string) bool {
	_, err := Resolve(path)
	return err == nil
}
