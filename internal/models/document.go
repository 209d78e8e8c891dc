package models

import "time"

// JobDocument is the Firestore record for a conversion triggered through the cloud service.
// It tracks the overall status and the parameters the STL was produced with.
type JobDocument struct {
	JobID               string    `firestore:"jobId,omitempty"`
	FileHash            string    `firestore:"fileHash,omitempty"`
	OriginalFilename    string    `firestore:"originalFilename,omitempty"`
	SourceGCSUri        string    `firestore:"sourceGcsUri,omitempty"`
	OutputGCSUri        string    `firestore:"outputGcsUri,omitempty"`
	Status              string    `firestore:"status,omitempty"`
	ErrorDetails        string    `firestore:"errorDetails,omitempty"`
	ErrorKind           string    `firestore:"errorKind,omitempty"`
	LinearDeflection    float64   `firestore:"linearDeflection,omitempty"`
	AngularDeflection   float64   `firestore:"angularDeflection,omitempty"`
	TriangleCount       int       `firestore:"triangleCount,omitempty"`
	OutputBytes         int64     `firestore:"outputBytes,omitempty"`
	Log                 []string  `firestore:"log,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty"`
}
