package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/cadtostl/internal/config"
	"github.com/Lllllllleong/cadtostl/internal/kernel"
	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/pipeline"
)

// ErrNotFound is returned for download names that do not refer to a converted file.
var ErrNotFound = errors.New("not found")

// DownloadPrefix is the URL path under which converted files are served.
const DownloadPrefix = "/download/"

type UploadConfig struct {
	DataDir        string
	Deflection     models.DeflectionParameters
	ASCII          bool
	MaxUploadBytes int64
	Retention      time.Duration
	Kernel         config.Kernel
}

// LoadUploadConfig reads the settings of the local conversion server.
func LoadUploadConfig() (UploadConfig, error) {
	cfg := UploadConfig{
		DataDir:        config.GetEnv("CADTOSTL_DATA_DIR", filepath.Join(os.TempDir(), "cadtostl-server")),
		Deflection:     config.Deflection(),
		ASCII:          config.GetEnvBool("STL_ASCII", false),
		MaxUploadBytes: int64(config.GetEnvInt("CADTOSTL_MAX_UPLOAD_MB", 100)) << 20,
		Retention:      time.Duration(config.GetEnvInt("CADTOSTL_RETENTION_MINUTES", 60)) * time.Minute,
		Kernel:         config.KernelFromEnv(),
	}
	if err := cfg.Deflection.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid default deflection: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, fmt.Errorf("CADTOSTL_MAX_UPLOAD_MB must be positive")
	}
	return cfg, nil
}

// UploadConverterFunction converts files posted to the local server and keeps the results in
// DataDir until they are pruned.
type UploadConverterFunction struct {
	converter *pipeline.Converter
	config    UploadConfig
}

// NewUploadConverter prepares DataDir and a converter backed by the configured kernel. opts
// are applied after the defaults.
func NewUploadConverter(cfg UploadConfig, opts ...pipeline.Option) (*UploadConverterFunction, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	k := kernel.New(kernel.WithExecutable(cfg.Kernel.Executable), kernel.WithWorkDir(cfg.Kernel.WorkDir))
	base := []pipeline.Option{pipeline.WithKernel(k), pipeline.WithLogger(slog.Default())}
	f := &UploadConverterFunction{
		converter: pipeline.New(append(base, opts...)...),
		config:    cfg,
	}
	slog.Info("Upload converter initialized.", "dataDir", cfg.DataDir, "freecadcmd", k.Executable())
	return f, nil
}

func (f *UploadConverterFunction) Config() UploadConfig { return f.config }

// Upload is one posted file.
type Upload struct {
	Filename   string
	Content    io.Reader
	Deflection models.DeflectionParameters
}

// FormDeflection parses the precision (linear) and angularDeflection form values. Blank values
// fall back to the server defaults.
func FormDeflection(precision, angular string, fallback models.DeflectionParameters) (models.DeflectionParameters, error) {
	l := strconv.FormatFloat(fallback.Linear, 'g', -1, 64)
	a := strconv.FormatFloat(fallback.Angular, 'g', -1, 64)
	if strings.TrimSpace(precision) != "" {
		l = precision
	}
	if strings.TrimSpace(angular) != "" {
		a = angular
	}
	d, err := models.ParseDeflection(l, a)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return d, nil
}

// Process converts one upload. Conversion failures return the response, carrying the message
// and job log, together with an error wrapping ErrConversionFailed.
func (f *UploadConverterFunction) Process(ctx context.Context, u Upload) (*models.UploadResponse, error) {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(u.Filename, `\`, "/")))
	logCtx := slog.With("filename", name)
	if name == "/" || name == "." {
		return nil, fmt.Errorf("%w: missing file name", ErrBadRequest)
	}
	if _, err := pipeline.Resolve(name); err != nil {
		logCtx.Warn("Rejecting upload", "error", err)
		return nil, fmt.Errorf("%w: %v; supported input formats: %s", ErrBadRequest, err, pipeline.SupportedExtensions)
	}
	if err := u.Deflection.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	workDir, err := os.MkdirTemp(f.config.DataDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	input := filepath.Join(workDir, name)
	if err := saveUpload(input, u.Content); err != nil {
		logCtx.Error("Failed to store upload", "error", err)
		return nil, err
	}

	jobID := uuid.NewString()
	logCtx = logCtx.With("jobId", jobID)
	job := models.NewConversionJob(jobID, input, f.outputPath(jobID))
	job.Deflection = u.Deflection
	job.ASCII = f.config.ASCII

	res := f.converter.Convert(ctx, job)
	resp := &models.UploadResponse{JobID: jobID, Log: job.Log}
	if !res.Succeeded() {
		resp.Message = res.ErrorMessage
		resp.ErrorKind = ErrorKind(res.Err)
		logCtx.Warn("Upload conversion failed.", "error", res.Err)
		return resp, fmt.Errorf("%w: %s", ErrConversionFailed, res.ErrorMessage)
	}

	resp.DownloadURL = DownloadPrefix + jobID + ".stl"
	resp.Filename = strings.TrimSuffix(name, filepath.Ext(name)) + ".stl"
	resp.TriangleCount = res.Triangles
	resp.OutputBytes = res.Bytes
	logCtx.Info("Upload converted.", "triangles", res.Triangles, "bytes", res.Bytes, "duration", res.Duration.String())
	return resp, nil
}

func saveUpload(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return out.Close()
}

func (f *UploadConverterFunction) outputPath(jobID string) string {
	return filepath.Join(f.config.DataDir, jobID+".stl")
}

// Download resolves the last path segment of a download URL to the converted file.
func (f *UploadConverterFunction) Download(name string) (string, error) {
	id, ok := strings.CutSuffix(name, ".stl")
	if !ok {
		return "", ErrNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNotFound
	}
	path := f.outputPath(id)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// Prune removes converted files older than the retention period and returns how many it
// removed.
func (f *UploadConverterFunction) Prune(now time.Time) (int, error) {
	entries, err := os.ReadDir(f.config.DataDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".stl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < f.config.Retention {
			continue
		}
		if err := os.Remove(filepath.Join(f.config.DataDir, e.Name())); err != nil {
			slog.Warn("Failed to prune converted file", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
