package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	name     string
	startErr error
	events   *[]string
}

func (w *fakeWorker) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.events = append(*w.events, "start "+w.name)
	return nil
}

func (w *fakeWorker) Stop() { *w.events = append(*w.events, "stop "+w.name) }

func (w *fakeWorker) Name() string { return w.name }

func TestManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("stops in reverse order", func(t *testing.T) {
		var events []string
		m := NewManager(logger,
			&fakeWorker{name: "a", events: &events},
			&fakeWorker{name: "b", events: &events},
		)

		require.NoError(t, m.Start(context.Background()))
		m.Stop()

		assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
	})

	t.Run("failed start rolls back", func(t *testing.T) {
		var events []string
		m := NewManager(logger,
			&fakeWorker{name: "a", events: &events},
			&fakeWorker{name: "b", events: &events, startErr: errors.New("bad schedule")},
			&fakeWorker{name: "c", events: &events},
		)

		err := m.Start(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start worker b")
		assert.Equal(t, []string{"start a", "stop a"}, events)
	})
}
