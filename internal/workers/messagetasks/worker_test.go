package messagetasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls int
	err   error
	panic bool
}

func (r *fakeRunner) RunDue(context.Context) (int, error) {
	r.calls++
	if r.panic {
		panic("boom")
	}
	return 1, r.err
}

func newTestWorker(runner Runner, schedule string) *Worker {
	return NewWorker(runner, schedule, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWorkerStart(t *testing.T) {
	t.Run("valid schedule", func(t *testing.T) {
		w := newTestWorker(&fakeRunner{}, "@every 1m")
		require.NoError(t, w.Start(context.Background()))
		w.Stop()
	})

	t.Run("invalid schedule", func(t *testing.T) {
		w := newTestWorker(&fakeRunner{}, "every minute please")
		assert.Error(t, w.Start(context.Background()))
	})
}

func TestWorkerTick(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{name: "ok", runner: &fakeRunner{}},
		{name: "error is logged", runner: &fakeRunner{err: errors.New("db is gone")}},
		{name: "panic is recovered", runner: &fakeRunner{panic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(tt.runner, "@every 1m")
			w.ctx = context.Background()

			assert.NotPanics(t, w.tick)
			assert.Equal(t, 1, tt.runner.calls)
		})
	}
}
