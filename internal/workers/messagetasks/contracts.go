package messagetasks

import "context"

type (
	// Runner executes message tasks whose next_run has passed.
	Runner interface {
		RunDue(ctx context.Context) (int, error)
	}
)
