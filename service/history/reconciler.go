package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solhist/service/metrics"
)

const (
	// DefaultLimit is the number of signatures requested when no limit is given.
	DefaultLimit = 50

	// MaxLimit is the largest page getSignaturesForAddress accepts.
	MaxLimit = 1000
)

// Skip reasons recorded in Report.Skipped.
const (
	reasonFetchFailed = "fetch_failed"
	reasonNotFound    = "not_found"
	reasonMalformed   = "malformed"
)

// Reconciler turns the ledger history of one address into transfer events.
// It holds no per-run state, so a single Reconciler may serve concurrent runs.
type Reconciler struct {
	ledger  LedgerClient
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler creates a Reconciler reading from ledger.
// If metrics is nil, no metrics will be recorded.
func NewReconciler(ledger LedgerClient, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		ledger:  ledger,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Reconcile fetches up to limit signatures for subject and derives one
// transfer event per signature, newest first.
//
// A failed record fetch only skips that signature. A failed listing returns
// an empty report together with an error wrapping ErrListing, so callers can
// tell "nothing happened" apart from "could not look".
func (r *Reconciler) Reconcile(ctx context.Context, subject string, limit int) (*Report, error) {
	start := r.now()
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	report := &Report{
		Subject:      subject,
		ReconciledAt: start.UTC(),
		Events:       []TransferEvent{},
	}

	sigs, err := r.ledger.ListSignatures(ctx, subject, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list signatures",
			"subject", subject,
			"limit", limit,
			"error", err,
		)
		r.recordRun("listing_failed", start)
		return report, fmt.Errorf("%w for %s: %w", ErrListing, subject, err)
	}

	r.logger.DebugContext(ctx, "listed signatures",
		"subject", subject,
		"count", len(sigs),
	)

	var collected []TransferEvent
	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			r.recordRun("canceled", start)
			return report, err
		}

		events, reason := r.reconcileSignature(ctx, sig, subject, start)
		if reason != "" {
			report.Skipped = append(report.Skipped, SkippedSignature{Signature: sig.Signature, Reason: reason})
			if r.metrics != nil {
				r.metrics.RecordSignatureSkipped(reason)
			}
			continue
		}
		collected = append(collected, events...)
	}

	report.Events, report.DroppedLegs = Finalize(collected)
	if report.DroppedLegs > 0 {
		r.logger.WarnContext(ctx, "dropped additional transfer legs sharing a signature",
			"subject", subject,
			"dropped", report.DroppedLegs,
		)
		if r.metrics != nil {
			r.metrics.RecordDroppedLegs(report.DroppedLegs)
		}
	}

	r.logger.InfoContext(ctx, "reconciled transfer history",
		"subject", subject,
		"signatures", len(sigs),
		"events", len(report.Events),
		"skipped", len(report.Skipped),
	)
	r.recordRun("success", start)

	return report, nil
}

// reconcileSignature derives the events for one signature. A non-empty
// reason means the record could not be used and the signature is reported
// as skipped; a transaction that simply moved no SOL returns neither.
func (r *Reconciler) reconcileSignature(ctx context.Context, sig SignatureRecord, subject string, now time.Time) ([]TransferEvent, string) {
	record, err := r.ledger.GetRecord(ctx, sig.Signature)
	if err != nil && !errors.Is(err, ErrMalformedRecord) {
		r.logger.WarnContext(ctx, "failed to fetch transaction, skipping",
			"signature", sig.Signature,
			"error", err,
		)
		return nil, reasonFetchFailed
	}
	if record == nil {
		if err != nil {
			r.logger.WarnContext(ctx, "transaction record unusable, skipping",
				"signature", sig.Signature,
				"error", err,
			)
			return nil, reasonMalformed
		}
		r.logger.DebugContext(ctx, "transaction not found at confirmed commitment",
			"signature", sig.Signature,
		)
		return nil, reasonNotFound
	}

	// A malformed record still carries balances; only its instructions are discarded.
	if err != nil {
		r.logger.DebugContext(ctx, "could not decode instructions, using balances only",
			"signature", sig.Signature,
			"error", err,
		)
		record.Instructions = nil
	}

	if events := Extract(record, sig, subject, now); len(events) > 0 {
		if r.metrics != nil {
			r.metrics.RecordTransferEvents(string(SourceInstruction), len(events))
		}
		return events, ""
	}

	if event, ok := Fallback(record, sig, subject, now); ok {
		if r.metrics != nil {
			r.metrics.RecordTransferEvents(string(SourceBalance), 1)
		}
		return []TransferEvent{event}, ""
	}

	return nil, ""
}

func (r *Reconciler) recordRun(status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordReconcile(status, r.now().Sub(start).Seconds())
	}
}
