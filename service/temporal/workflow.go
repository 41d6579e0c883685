package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileHistoryWorkflowResult summarizes one scheduled reconciliation.
type ReconcileHistoryWorkflowResult struct {
	Address     string    `json:"address"`
	RunTime     time.Time `json:"run_time"`
	EventCount  int       `json:"event_count"`
	Skipped     int       `json:"skipped"`
	DroppedLegs int       `json:"dropped_legs"`
	Saved       bool      `json:"saved"`
	Published   bool      `json:"published"`
	Error       *string   `json:"error,omitempty"`
}

// ReconcileHistoryWorkflow rebuilds and stores the transfer history of one
// address. It is triggered by a Temporal schedule at the address's interval.
//
// The workflow performs these steps:
// 1. Reconcile the history from the ledger (ReconcileHistory activity)
// 2. Replace the stored snapshot unless a newer one exists (SaveSnapshot activity)
// 3. Announce the new snapshot on NATS (PublishSnapshot activity)
//
// A failed publish does not fail the workflow; the snapshot is already stored.
func ReconcileHistoryWorkflow(ctx workflow.Context, input ReconcileHistoryInput) (*ReconcileHistoryWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileHistoryWorkflow started", "address", input.Address)

	result := &ReconcileHistoryWorkflowResult{
		Address: input.Address,
		RunTime: workflow.Now(ctx),
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var reconciled *ReconcileHistoryResult
	if err := workflow.ExecuteActivity(ctx, a.ReconcileHistory, input).Get(ctx, &reconciled); err != nil {
		logger.Error("failed to reconcile history", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to reconcile history: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to reconcile history: %w", err)
	}

	report := reconciled.Report
	result.EventCount = len(report.Events)
	result.Skipped = len(report.Skipped)
	result.DroppedLegs = report.DroppedLegs

	var saved *SaveSnapshotResult
	if err := workflow.ExecuteActivity(ctx, a.SaveSnapshot, SaveSnapshotInput{Report: report}).Get(ctx, &saved); err != nil {
		logger.Error("failed to save snapshot", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to save snapshot: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to save snapshot: %w", err)
	}
	result.Saved = saved.Saved

	if !saved.Saved {
		logger.Info("snapshot superseded by a newer run", "address", input.Address)
		return result, nil
	}

	if err := workflow.ExecuteActivity(ctx, a.PublishSnapshot, PublishSnapshotInput{Report: report}).Get(ctx, nil); err != nil {
		logger.Warn("failed to publish snapshot", "address", input.Address, "error", err)
	} else {
		result.Published = true
	}

	logger.Info("ReconcileHistoryWorkflow completed successfully",
		"address", input.Address,
		"event_count", result.EventCount,
		"skipped", result.Skipped,
		"published", result.Published,
	)

	return result, nil
}
