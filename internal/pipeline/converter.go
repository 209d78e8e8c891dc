// Package pipeline turns CAD and mesh files into STL: it detects the input format, loads a
// shape or polygon scene, tessellates BREP geometry, merges multi-part scenes and writes the
// result. Converter.Convert is the single place where stage failures are turned into a
// models.ConversionResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/stl"
)

// Converter runs conversion jobs. It holds no per-job state and may be shared between
// goroutines converting independent jobs.
type Converter struct {
	kernel Kernel
	logger *slog.Logger
}

type Option func(*Converter)

// WithKernel sets the geometry kernel used for STEP and IGES input.
func WithKernel(k Kernel) Option {
	return func(c *Converter) { c.kernel = k }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

func New(opts ...Option) *Converter {
	c := &Converter{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Converter) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return Logger()
}

// Convert is the language neutral entry point: it converts input to an STL at output with the
// given tolerances and returns the outcome.
func Convert(ctx context.Context, input, output string, linear, angular float64, opts ...Option) models.ConversionResult {
	job := models.NewConversionJob(uuid.NewString(), input, output)
	job.Deflection = models.DeflectionParameters{Linear: linear, Angular: angular}
	return New(opts...).Convert(ctx, job)
}

// Start runs Convert on its own goroutine and delivers the result on the returned channel,
// which is closed afterwards. The job must not be touched until the result arrives.
func (c *Converter) Start(ctx context.Context, job *models.ConversionJob) <-chan models.ConversionResult {
	ch := make(chan models.ConversionResult, 1)
	go func() {
		defer close(ch)
		ch <- c.Convert(ctx, job)
	}()
	return ch
}

// Convert runs every stage of job in order and stops at the first failure. It never panics;
// failures are reported through the returned result and job.Status.
func (c *Converter) Convert(ctx context.Context, job *models.ConversionJob) (res models.ConversionResult) {
	started := time.Now()
	logCtx := c.log()
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Conversion panicked", "panic", r)
			res = c.fail(logCtx, job, fmt.Errorf("internal error: %v", r))
		}
		res.Duration = time.Since(started)
	}()

	if job == nil {
		return c.fail(logCtx, nil, errorf(ErrInvalidParameters, "validate", "", "no job"))
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logCtx = logCtx.With("jobId", job.ID, "input", job.InputPath, "output", job.OutputPath)

	job.Status = models.StatusRunning
	job.Logf("Starting conversion...")
	job.Logf("Input: %s", job.InputPath)
	job.Logf("Output: %s", job.OutputPath)
	logCtx.Info("Starting conversion.", "deflection", job.Deflection.String())

	if err := validateJob(job); err != nil {
		return c.fail(logCtx, job, err)
	}
	job.Logf("Tessellation parameters: %s", job.Deflection)

	info, err := os.Stat(job.InputPath)
	if err != nil {
		return c.fail(logCtx, job, newError(ErrReadFailure, "open input", job.InputPath, err))
	}
	if info.IsDir() {
		return c.fail(logCtx, job, errorf(ErrReadFailure, "open input", job.InputPath, "is a directory"))
	}

	format, err := Resolve(job.InputPath)
	if err != nil {
		return c.fail(logCtx, job, err)
	}
	job.Logf("Detected %s input", format)

	if err := ensureDir(job); err != nil {
		return c.fail(logCtx, job, err)
	}

	if format.IsBREP() {
		job.Logf("Loading CAD file...")
	} else {
		job.Logf("Reading %s file...", format)
	}
	loaded, err := Load(ctx, c.kernel, job.InputPath, format)
	if err != nil {
		return c.fail(logCtx, job, err)
	}
	defer func() {
		if err := loaded.Release(); err != nil {
			logCtx.Warn("Failed to release shape", "error", err)
		}
	}()

	mesh, err := c.buildMesh(ctx, job, loaded)
	if err != nil {
		return c.fail(logCtx, job, err)
	}
	logCtx.Debug("Mesh ready.", "vertices", len(mesh.Vertices), "triangles", mesh.TriangleCount())
	job.Logf("Bounding box: %s", mesh.Bounds())

	job.Logf("Writing STL file...")
	name := strings.TrimSuffix(filepath.Base(job.InputPath), filepath.Ext(job.InputPath))
	size, err := stl.WriteFile(job.OutputPath, mesh, stl.Options{ASCII: job.ASCII, Name: name})
	if err != nil {
		return c.fail(logCtx, job, newError(ErrWriteFailure, "write stl", job.OutputPath, err))
	}

	job.Status = models.StatusSucceeded
	job.Logf("✓ Successfully converted %s to %s", filepath.Base(job.InputPath), filepath.Base(job.OutputPath))
	job.Logf("Output file size: %d bytes", size)
	logCtx.Info("Conversion complete.", "triangles", mesh.TriangleCount(), "bytes", size)

	return models.ConversionResult{
		JobID:      job.ID,
		Status:     models.StatusSucceeded,
		OutputPath: job.OutputPath,
		Triangles:  mesh.TriangleCount(),
		Bytes:      size,
	}
}

func (c *Converter) buildMesh(ctx context.Context, job *models.ConversionJob, loaded *Loaded) (*models.Mesh, error) {
	if loaded.Shape != nil {
		job.Logf("Converting to mesh...")
		mesh, err := Tessellate(ctx, loaded.Shape, job.Deflection)
		if err != nil {
			return nil, err
		}
		// The handle is no longer needed once the mesh exists.
		if err := loaded.Release(); err != nil {
			c.log().Warn("Failed to release shape", "jobId", job.ID, "error", err)
		}
		job.Logf("Mesh has %d triangles", mesh.TriangleCount())
		return mesh, nil
	}

	switch len(loaded.Parts) {
	case 0:
		return nil, errorf(ErrEmptyGeometry, "load", job.InputPath, "no mesh parts")
	case 1:
		mesh := loaded.Parts[0].Mesh
		job.Logf("Mesh has %d triangles", mesh.TriangleCount())
		return mesh, nil
	}

	job.Logf("Combining %d mesh parts...", len(loaded.Parts))
	parts := make([]*models.Mesh, len(loaded.Parts))
	for i, p := range loaded.Parts {
		parts[i] = p.Mesh
	}
	mesh, err := Consolidate(parts)
	if err != nil {
		return nil, err
	}
	job.Logf("Mesh has %d triangles", mesh.TriangleCount())
	return mesh, nil
}

func validateJob(job *models.ConversionJob) error {
	if err := job.Deflection.Validate(); err != nil {
		return newError(ErrInvalidParameters, "validate", "", err)
	}
	if strings.TrimSpace(job.InputPath) == "" {
		return errorf(ErrInvalidParameters, "validate", "", "input path is empty")
	}
	if strings.TrimSpace(job.OutputPath) == "" {
		return errorf(ErrInvalidParameters, "validate", "", "output path is empty")
	}
	return nil
}

func ensureDir(job *models.ConversionJob) error {
	dir := filepath.Dir(job.OutputPath)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return newError(ErrWriteFailure, "check output directory", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(ErrWriteFailure, "create output directory", dir, err)
	}
	job.Logf("Created output directory: %s", dir)
	return nil
}

func (c *Converter) fail(logCtx *slog.Logger, job *models.ConversionJob, err error) models.ConversionResult {
	msg := err.Error()
	logCtx.Error("Conversion failed.", "error", err)
	res := models.ConversionResult{
		Status:       models.StatusFailed,
		Err:          err,
		ErrorMessage: msg,
	}
	if job != nil {
		job.Status = models.StatusFailed
		job.Logf("✗ Error during conversion: %s", msg)
		res.JobID = job.ID
	}
	return res
}
