package gcp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri            string
		bucket, object string
		wantErr        bool
	}{
		{uri: "gs://cad-in/parts/bracket.step", bucket: "cad-in", object: "parts/bracket.step"},
		{uri: "gs://b/o", bucket: "b", object: "o"},
		{uri: "https://storage.googleapis.com/b/o", wantErr: true},
		{uri: "gs://bucket-only", wantErr: true},
		{uri: "gs://bucket/", wantErr: true},
		{uri: "gs:///object", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.bucket || object != tt.object {
				t.Errorf("ParseGCSURI() = %q, %q, want %q, %q", bucket, object, tt.bucket, tt.object)
			}
			if !tt.wantErr && GCSURI(bucket, object) != tt.uri {
				t.Errorf("GCSURI() = %q, want %q", GCSURI(bucket, object), tt.uri)
			}
		})
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	wrapped := fmt.Errorf("finalize: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})
	if !isPreconditionFailed(wrapped) {
		t.Error("wrapped 412 not detected")
	}
	if isPreconditionFailed(&googleapi.Error{Code: http.StatusServiceUnavailable}) {
		t.Error("503 reported as precondition failure")
	}
	if isPreconditionFailed(errors.New("boom")) {
		t.Error("plain error reported as precondition failure")
	}
}

func TestWorkflowName(t *testing.T) {
	got := WorkflowName("proj", "us-central1", "stl-post")
	want := "projects/proj/locations/us-central1/workflows/stl-post"
	if got != want {
		t.Errorf("WorkflowName() = %q, want %q", got, want)
	}
}
