package workers

import (
	"context"
	"fmt"
	"log/slog"
)

type Manager struct {
	workers []Worker
	started []Worker
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger, workers ...Worker) *Manager {
	return &Manager{
		workers: workers,
		logger:  logger,
	}
}

// Start запускает воркеры по порядку. Если один не стартовал, уже запущенные останавливаются.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting worker manager", "worker_count", len(m.workers))

	for _, worker := range m.workers {
		if err := worker.Start(ctx); err != nil {
			m.Stop()
			return fmt.Errorf("failed to start worker %s: %w", worker.Name(), err)
		}
		m.started = append(m.started, worker)
		m.logger.Info("Worker started", "name", worker.Name())
	}

	return nil
}

// Stop stops started workers in reverse order.
func (m *Manager) Stop() {
	m.logger.Info("Stopping workers", "worker_count", len(m.started))

	for i := len(m.started) - 1; i >= 0; i-- {
		worker := m.started[i]
		worker.Stop()
		m.logger.Info("Worker stopped", "name", worker.Name())
	}
	m.started = nil
}
