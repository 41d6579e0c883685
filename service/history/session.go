package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/brojonat/solhist/service/metrics"
)

// ErrStale is returned by Session.Refresh when a newer refresh was started
// before this one finished. Its result was discarded.
var ErrStale = errors.New("superseded by a newer reconciliation")

// Runner runs one reconciliation. *Reconciler implements it.
type Runner interface {
	Reconcile(ctx context.Context, subject string, limit int) (*Report, error)
}

// Session holds the most recent committed report for a viewer whose subject
// may change between refreshes. Each Refresh takes a new generation and
// cancels the run it supersedes; a run only commits if its generation is
// still the latest when it returns.
type Session struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	latest     *Report
}

// NewSession creates a Session that reconciles through runner.
func NewSession(runner Runner, m *metrics.Metrics, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		runner:  runner,
		metrics: m,
		logger:  logger,
	}
}

// Refresh reconciles subject and commits the result if no newer Refresh
// started in the meantime. A failed run is returned but not committed, so
// Latest keeps the last good report.
func (s *Session) Refresh(ctx context.Context, subject string, limit int) (*Report, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	report, err := s.runner.Reconcile(runCtx, subject, limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.DebugContext(ctx, "discarding stale reconciliation",
			"subject", subject,
			"generation", gen,
			"latest_generation", s.generation,
		)
		if s.metrics != nil {
			s.metrics.RecordStaleDiscarded()
		}
		return nil, ErrStale
	}
	s.cancel = nil

	if err != nil {
		return report, err
	}

	report.Generation = gen
	s.latest = report
	return report, nil
}

// Latest returns the last committed report, or nil before the first success.
func (s *Session) Latest() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Generation returns the generation of the most recently started refresh.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
