package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages Temporal schedules for tracked addresses.
// Each address gets its own schedule that triggers ReconcileHistoryWorkflow.
// The caller owns the schedule; reconciliation itself has no timer.
type Scheduler interface {
	// UpsertHistorySchedule creates the schedule for an address, or updates
	// its interval if it already exists.
	UpsertHistorySchedule(ctx context.Context, address string, interval time.Duration) error

	// DeleteHistorySchedule deletes the schedule for an address.
	DeleteHistorySchedule(ctx context.Context, address string) error
}

// SchedulePrefix prefixes the ID of every history schedule.
const SchedulePrefix = "reconcile-history-"

// scheduleID returns the Temporal schedule ID for an address.
func scheduleID(address string) string {
	return SchedulePrefix + address
}

// AddressFromScheduleID returns the address a schedule reconciles, or false
// if id is not a history schedule.
func AddressFromScheduleID(id string) (string, bool) {
	address, ok := strings.CutPrefix(id, SchedulePrefix)
	if !ok || address == "" {
		return "", false
	}
	return address, true
}

// workflowID returns the ID of workflows started by an address's schedule.
func workflowID(address string) string {
	return "reconcile-history-wf-" + address
}
