// Package config reads settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvFloat reads a float variable. Unparsable values are logged and replaced by fallback.
func GetEnvFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Ignoring malformed environment variable", "key", key, "value", raw, "error", err)
		return fallback
	}
	return v
}

func GetEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring malformed environment variable", "key", key, "value", raw, "error", err)
		return fallback
	}
	return v
}

func GetEnvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Ignoring malformed environment variable", "key", key, "value", raw, "error", err)
		return fallback
	}
	return v
}

// Deflection returns the tessellation tolerances from CADTOSTL_LINEAR_DEFLECTION and
// CADTOSTL_ANGULAR_DEFLECTION, defaulting to the system-wide values.
func Deflection() models.DeflectionParameters {
	return models.DeflectionParameters{
		Linear:  GetEnvFloat("CADTOSTL_LINEAR_DEFLECTION", models.DefaultLinearDeflection),
		Angular: GetEnvFloat("CADTOSTL_ANGULAR_DEFLECTION", models.DefaultAngularDeflection),
	}
}

// Kernel holds the geometry kernel settings.
type Kernel struct {
	Executable string // empty means auto-discover
	WorkDir    string // empty means os.TempDir
}

func KernelFromEnv() Kernel {
	return Kernel{
		Executable: GetEnv("FREECADCMD", ""),
		WorkDir:    GetEnv("CADTOSTL_WORK_DIR", ""),
	}
}
