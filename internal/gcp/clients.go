package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
)

// Clients bundles the Google Cloud clients the converter function talks to.
type Clients struct {
	Storage    *storage.Client
	Firestore  *firestore.Client
	Executions *executions.Client // nil when no workflow is configured
}

// NewClients creates the storage and Firestore clients, and the Workflows executions client
// when withWorkflows is set.
func NewClients(ctx context.Context, projectID string, withWorkflows bool) (*Clients, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	firestoreClient, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		_ = firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	c := &Clients{Storage: storageClient, Firestore: firestoreClient}
	if withWorkflows {
		c.Executions, err = executions.NewClient(ctx)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
	}
	return c, nil
}

func (c *Clients) Close() error {
	var errs []error
	if c.Executions != nil {
		errs = append(errs, c.Executions.Close())
	}
	errs = append(errs, c.Storage.Close(), c.Firestore.Close())
	return errors.Join(errs...)
}
