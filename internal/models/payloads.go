package models

// These structs define the JSON payloads exchanged with the HTTP variant of the converter
// function and the workflow it hands off to.

// ConvertRequest is the input for the stl-converter-http function.
type ConvertRequest struct {
	SourceGCSUri      string  `json:"sourceGcsUri"`
	OutputGCSUri      string  `json:"outputGcsUri,omitempty"`
	LinearDeflection  float64 `json:"linearDeflection,omitempty"`
	AngularDeflection float64 `json:"angularDeflection,omitempty"`
	ASCII             bool    `json:"ascii,omitempty"`
	ExecutionID       string  `json:"executionId,omitempty"`
}

// ConvertResponse is the output of the stl-converter-http function.
type ConvertResponse struct {
	Status        string   `json:"status"`
	JobID         string   `json:"jobId"`
	OutputGCSUri  string   `json:"outputGcsUri,omitempty"`
	TriangleCount int      `json:"triangleCount,omitempty"`
	OutputBytes   int64    `json:"outputBytes,omitempty"`
	Error         string   `json:"error,omitempty"`
	ErrorKind     string   `json:"errorKind,omitempty"`
	Log           []string `json:"log,omitempty"`
}

// WorkflowPayload is the argument passed to the downstream workflow execution.
type WorkflowPayload struct {
	JobID         string `json:"jobId"`
	DocumentID    string `json:"documentId"`
	OutputGCSUri  string `json:"outputGcsUri"`
	TriangleCount int    `json:"triangleCount"`
}

// UploadResponse is returned by the local conversion server for POST /convert. Message is
// set only when the conversion failed.
type UploadResponse struct {
	JobID         string   `json:"jobId,omitempty"`
	DownloadURL   string   `json:"downloadUrl,omitempty"`
	Filename      string   `json:"filename,omitempty"`
	TriangleCount int      `json:"triangleCount,omitempty"`
	OutputBytes   int64    `json:"outputBytes,omitempty"`
	Message       string   `json:"message,omitempty"`
	ErrorKind     string   `json:"errorKind,omitempty"`
	Log           []string `json:"log,omitempty"`
}
