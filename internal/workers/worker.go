package workers

import "context"

// Worker is a background job owned by the Manager.
type Worker interface {
	// Start schedules the job and returns; ctx bounds every run.
	Start(ctx context.Context) error
	// Stop waits for a running job to finish.
	Stop()
	Name() string
}
