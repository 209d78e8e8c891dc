package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/Lllllllleong/cadtostl/internal/config"
	"github.com/Lllllllleong/cadtostl/internal/gcp"
	"github.com/Lllllllleong/cadtostl/internal/kernel"
	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/pipeline"
)

var (
	// ErrBadRequest marks requests that can never succeed as sent.
	ErrBadRequest = errors.New("bad request")
	// ErrConversionFailed marks requests whose file could not be converted. The response
	// still carries the job log.
	ErrConversionFailed = errors.New("conversion failed")
)

type ConverterConfig struct {
	ProjectID        string
	OutputBucket     string
	CollectionName   string
	WorkflowID       string // empty disables the hand-off
	WorkflowLocation string
	Deflection       models.DeflectionParameters
	ASCII            bool
	Kernel           config.Kernel
}

// LoadConverterConfig loads and validates the environment for the converter function.
func LoadConverterConfig() (ConverterConfig, error) {
	cfg := ConverterConfig{
		ProjectID:        config.GetEnv("PROJECT_ID", ""),
		OutputBucket:     config.GetEnv("STL_OUTPUT_BUCKET", ""),
		CollectionName:   config.GetEnv("FIRESTORE_COLLECTION", "stlConversions"),
		WorkflowID:       config.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: config.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		Deflection:       config.Deflection(),
		ASCII:            config.GetEnvBool("STL_ASCII", false),
		Kernel:           config.KernelFromEnv(),
	}
	if cfg.ProjectID == "" {
		return cfg, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return cfg, fmt.Errorf("STL_OUTPUT_BUCKET environment variable must be set")
	}
	if err := cfg.Deflection.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid default deflection: %w", err)
	}
	return cfg, nil
}

// ConverterFunction converts CAD objects stored in GCS to STL objects.
type ConverterFunction struct {
	clients   *gcp.Clients
	converter *pipeline.Converter
	config    ConverterConfig
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewConverter(ctx context.Context) (*ConverterFunction, error) {
	cfg, err := LoadConverterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	clients, err := gcp.NewClients(ctx, cfg.ProjectID, cfg.WorkflowID != "")
	if err != nil {
		return nil, err
	}

	k := kernel.New(kernel.WithExecutable(cfg.Kernel.Executable), kernel.WithWorkDir(cfg.Kernel.WorkDir))
	f := &ConverterFunction{
		clients:   clients,
		converter: pipeline.New(pipeline.WithKernel(k), pipeline.WithLogger(slog.Default())),
		config:    cfg,
	}
	slog.Info("STL converter initialized.", "outputBucket", cfg.OutputBucket, "freecadcmd", k.Executable(), "workflowId", cfg.WorkflowID)
	return f, nil
}

// conversion is one source object on its way to an STL object.
type conversion struct {
	source       string // gs:// URI
	bucket       string
	object       string
	outputBucket string
	outputObject string
	deflection   models.DeflectionParameters
	ascii        bool
	executionID  string
}

// Process handles an object finalize event. Unsupported files and files already converted
// with the same tolerances are skipped.
func (f *ConverterFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !pipeline.IsSupported(e.Name) {
		logCtx.Info("Skipping object with unsupported extension.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	c := conversion{
		source:       gcp.GCSURI(e.Bucket, e.Name),
		bucket:       e.Bucket,
		object:       e.Name,
		outputBucket: f.config.OutputBucket,
		outputObject: OutputObjectName(e.Name),
		deflection:   f.config.Deflection,
		ascii:        f.config.ASCII,
	}
	_, err := f.run(ctx, logCtx, c, true)
	return err
}

// ProcessRequest converts the object named in req. Conversion failures return the response
// together with an error wrapping ErrConversionFailed.
func (f *ConverterFunction) ProcessRequest(ctx context.Context, req *models.ConvertRequest) (*models.ConvertResponse, error) {
	c, err := f.conversionFor(req)
	if err != nil {
		slog.Warn("Rejecting conversion request", "error", err, "executionId", req.ExecutionID)
		return nil, err
	}
	logCtx := slog.With("gcsBucket", c.bucket, "gcsObject", c.object, "executionId", req.ExecutionID)
	logCtx.Info("Processing conversion request.")
	return f.run(ctx, logCtx, c, false)
}

func (f *ConverterFunction) conversionFor(req *models.ConvertRequest) (conversion, error) {
	bucket, object, err := gcp.ParseGCSURI(req.SourceGCSUri)
	if err != nil {
		return conversion{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, err := pipeline.Resolve(object); err != nil {
		return conversion{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	d := RequestDeflection(req, f.config.Deflection)
	if err := d.Validate(); err != nil {
		return conversion{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	c := conversion{
		source:       req.SourceGCSUri,
		bucket:       bucket,
		object:       object,
		outputBucket: f.config.OutputBucket,
		outputObject: OutputObjectName(object),
		deflection:   d,
		ascii:        req.ASCII || f.config.ASCII,
		executionID:  req.ExecutionID,
	}
	if req.OutputGCSUri != "" {
		if c.outputBucket, c.outputObject, err = gcp.ParseGCSURI(req.OutputGCSUri); err != nil {
			return conversion{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}
	return c, nil
}

// RequestDeflection returns the tolerances asked for in req, using fallback for the ones it
// leaves unset.
func RequestDeflection(req *models.ConvertRequest, fallback models.DeflectionParameters) models.DeflectionParameters {
	d := fallback
	if req.LinearDeflection != 0 {
		d.Linear = req.LinearDeflection
	}
	if req.AngularDeflection != 0 {
		d.Angular = req.AngularDeflection
	}
	return d
}

// OutputObjectName maps a source object to its STL object: same path, .stl extension.
func OutputObjectName(object string) string {
	return strings.TrimSuffix(object, path.Ext(object)) + ".stl"
}

func (f *ConverterFunction) run(ctx context.Context, logCtx *slog.Logger, c conversion, skipDuplicates bool) (*models.ConvertResponse, error) {
	tempDir, err := os.MkdirTemp(f.config.Kernel.WorkDir, "stl-converter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, path.Base(c.object))
	if err := gcp.DownloadObject(ctx, f.clients.Storage, c.bucket, c.object, sourcePath); err != nil {
		logCtx.Error("Failed to download source file", "error", err)
		return nil, err
	}

	fileHash, err := calculateFileHash(sourcePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	if skipDuplicates {
		docID, err := f.findConverted(ctx, fileHash, c.deflection)
		if err != nil {
			logCtx.Error("Failed to check for duplicate", "error", err)
			return nil, err
		}
		if docID != "" {
			logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
			return nil, nil
		}
	}

	jobID := uuid.NewString()
	docRef, err := f.createJobDocument(ctx, jobID, fileHash, c)
	if err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("documentId", docRef.ID, "jobId", jobID)
	logCtx.Info("Created job document in Firestore.")

	if err := updateFields(ctx, docRef, map[string]any{"status": string(models.StatusRunning)}); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, nil, "failed to update status to RUNNING", err)
	}

	job := models.NewConversionJob(jobID, sourcePath, filepath.Join(tempDir, "out", path.Base(c.outputObject)))
	job.Deflection = c.deflection
	job.ASCII = c.ascii
	res := f.converter.Convert(ctx, job)
	resp := &models.ConvertResponse{
		Status: string(res.Status),
		JobID:  jobID,
		Log:    job.Log,
	}
	if !res.Succeeded() {
		resp.Error = res.ErrorMessage
		resp.ErrorKind = ErrorKind(res.Err)
		err := f.handleError(ctx, logCtx, docRef, job.Log, "failed to convert "+c.source, res.Err)
		return resp, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	outputURI := gcp.GCSURI(c.outputBucket, c.outputObject)
	skipped, err := gcp.UploadFile(ctx, f.clients.Storage.Bucket(c.outputBucket), res.OutputPath, c.outputObject, gcp.UploadOptions{
		ContentType: "model/stl",
		IfAbsent:    skipDuplicates,
	})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, job.Log, "failed to upload STL", err)
	}
	if skipped {
		job.Logf("Output object %s already exists; kept the existing object", outputURI)
	}

	resp.OutputGCSUri = outputURI
	resp.TriangleCount = res.Triangles
	resp.OutputBytes = res.Bytes
	resp.Log = job.Log
	updates := map[string]any{
		"status":        string(models.StatusSucceeded),
		"outputGcsUri":  outputURI,
		"triangleCount": res.Triangles,
		"outputBytes":   res.Bytes,
		"log":           job.Log,
	}
	if err := updateFields(ctx, docRef, updates); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, job.Log, "failed to update status to SUCCEEDED", err)
	}
	logCtx.Info("STL uploaded.", "outputGcsUri", outputURI, "triangles", res.Triangles, "bytes", res.Bytes, "duration", res.Duration.String())

	if f.config.WorkflowID != "" && f.clients.Executions != nil {
		if err := f.triggerWorkflow(ctx, logCtx, docRef, jobID, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// findConverted returns the ID of a successful job for the same file and tolerances.
func (f *ConverterFunction) findConverted(ctx context.Context, fileHash string, d models.DeflectionParameters) (string, error) {
	docs, err := f.clients.Firestore.Collection(f.config.CollectionName).
		Where("fileHash", "==", fileHash).
		Where("status", "==", string(models.StatusSucceeded)).
		Where("linearDeflection", "==", d.Linear).
		Where("angularDeflection", "==", d.Angular).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, nil
	}
	return "", nil
}

func (f *ConverterFunction) createJobDocument(ctx context.Context, jobID, fileHash string, c conversion) (*firestore.DocumentRef, error) {
	doc := models.JobDocument{
		JobID:               jobID,
		FileHash:            fileHash,
		OriginalFilename:    c.object,
		SourceGCSUri:        c.source,
		Status:              string(models.StatusPending),
		LinearDeflection:    c.deflection.Linear,
		AngularDeflection:   c.deflection.Angular,
		WorkflowExecutionID: c.executionID,
		CreatedAt:           time.Now(),
	}
	docRef, _, err := f.clients.Firestore.Collection(f.config.CollectionName).Add(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create job document: %w", err)
	}
	return docRef, nil
}

func (f *ConverterFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, jobID string, resp *models.ConvertResponse) error {
	logCtx.Info("Triggering workflow.")
	payload := models.WorkflowPayload{
		JobID:         jobID,
		DocumentID:    docRef.ID,
		OutputGCSUri:  resp.OutputGCSUri,
		TriangleCount: resp.TriangleCount,
	}
	workflow := gcp.WorkflowName(f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID)
	execName, err := gcp.StartWorkflow(ctx, f.clients.Executions, workflow, payload)
	if err != nil {
		return f.handleError(ctx, logCtx, docRef, nil, "failed to trigger workflow execution", err)
	}
	if err := updateFields(ctx, docRef, map[string]any{"workflowExecutionId": execName}); err != nil {
		logCtx.Warn("Failed to record workflow execution", "execution", execName, "error", err)
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", execName)
	return nil
}

func (f *ConverterFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, log []string, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := updateFields(ctx, docRef, failureUpdates(fullError, originalErr, log)); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return errors.New(fullError)
}

func failureUpdates(details string, cause error, log []string) map[string]any {
	updates := map[string]any{
		"status":       string(models.StatusFailed),
		"errorDetails": details,
	}
	if kind := ErrorKind(cause); kind != "" {
		updates["errorKind"] = kind
	}
	if len(log) > 0 {
		updates["log"] = log
	}
	return updates
}

// ErrorKind names the pipeline failure class of err, or "" for infrastructure errors.
func ErrorKind(err error) string {
	if kind := pipeline.KindOf(err); kind != nil {
		return kind.Error()
	}
	return ""
}

func updateFields(ctx context.Context, docRef *firestore.DocumentRef, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for field, value := range fields {
		updates = append(updates, firestore.Update{Path: field, Value: value})
	}
	_, err := docRef.Update(ctx, updates)
	return err
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
