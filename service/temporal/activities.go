package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solhist/service/history"
	"github.com/brojonat/solhist/service/metrics"
	natspkg "github.com/brojonat/solhist/service/nats"
	solanasvc "github.com/brojonat/solhist/service/solana"
	"go.temporal.io/sdk/temporal"
)

// ReconcileHistoryInput contains the input parameters of ReconcileHistoryWorkflow.
type ReconcileHistoryInput struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

// ReconcileHistoryResult is what the ReconcileHistory activity returns.
type ReconcileHistoryResult struct {
	Report *history.Report `json:"report"`
}

// SaveSnapshotInput contains parameters for the SaveSnapshot activity.
type SaveSnapshotInput struct {
	Report *history.Report `json:"report"`
}

// SaveSnapshotResult contains the result of the SaveSnapshot activity.
type SaveSnapshotResult struct {
	// Saved is false when a newer snapshot was already stored.
	Saved bool `json:"saved"`
}

// PublishSnapshotInput contains parameters for the PublishSnapshot activity.
type PublishSnapshotInput struct {
	Report *history.Report `json:"report"`
}

// ReconcilerInterface runs one reconciliation for an address.
type ReconcilerInterface interface {
	Reconcile(ctx context.Context, subject string, limit int) (*history.Report, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	SaveSnapshot(ctx context.Context, report *history.Report) (bool, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishSnapshot(ctx context.Context, event *natspkg.SnapshotEvent) error
}

// Error types reported to Temporal as non-retryable.
const (
	ErrTypeInvalidAddress = "InvalidAddress"
)

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	reconciler ReconcilerInterface
	store      StoreInterface
	publisher  PublisherInterface
	network    string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	reconciler ReconcilerInterface,
	store StoreInterface,
	publisher PublisherInterface,
	network string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		reconciler: reconciler,
		store:      store,
		publisher:  publisher,
		network:    network,
		metrics:    m,
		logger:     logger,
	}
}

func (a *Activities) observe(activity, address string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, address, time.Since(start).Seconds())
	}
}

// ReconcileHistory rebuilds the transfer history of an address from the ledger.
// A listing failure is returned so Temporal retries it; per-signature
// failures are already folded into the report as skipped signatures.
func (a *Activities) ReconcileHistory(ctx context.Context, input ReconcileHistoryInput) (*ReconcileHistoryResult, error) {
	defer a.observe("ReconcileHistory", input.Address, time.Now())

	if err := solanasvc.ValidateAddress(input.Address); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid address %q", input.Address), ErrTypeInvalidAddress, err)
	}

	report, err := a.reconciler.Reconcile(ctx, input.Address, input.Limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "reconciliation failed",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to reconcile %s: %w", input.Address, err)
	}

	a.logger.InfoContext(ctx, "reconciled history",
		"address", input.Address,
		"events", len(report.Events),
		"skipped", len(report.Skipped),
		"dropped_legs", report.DroppedLegs,
	)

	return &ReconcileHistoryResult{Report: report}, nil
}

// SaveSnapshot stores the report as the address's latest history.
func (a *Activities) SaveSnapshot(ctx context.Context, input SaveSnapshotInput) (*SaveSnapshotResult, error) {
	if input.Report == nil {
		return nil, temporal.NewNonRetryableApplicationError("report is required", "InvalidInput", nil)
	}
	defer a.observe("SaveSnapshot", input.Report.Subject, time.Now())

	saved, err := a.store.SaveSnapshot(ctx, input.Report)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to save snapshot",
			"address", input.Report.Subject,
			"error", err,
		)
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	if !saved {
		a.logger.InfoContext(ctx, "newer snapshot already stored, discarding",
			"address", input.Report.Subject,
			"reconciled_at", input.Report.ReconciledAt,
		)
		if a.metrics != nil {
			a.metrics.RecordStaleDiscarded()
		}
	}

	return &SaveSnapshotResult{Saved: saved}, nil
}

// PublishSnapshot announces a stored snapshot on NATS.
func (a *Activities) PublishSnapshot(ctx context.Context, input PublishSnapshotInput) error {
	if input.Report == nil {
		return temporal.NewNonRetryableApplicationError("report is required", "InvalidInput", nil)
	}
	defer a.observe("PublishSnapshot", input.Report.Subject, time.Now())

	if a.publisher == nil {
		return errors.New("no publisher configured")
	}

	event := natspkg.FromReport(input.Report, a.network)
	if err := a.publisher.PublishSnapshot(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish snapshot",
			"address", input.Report.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}
