package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/brojonat/solhist/service/db"
	"github.com/brojonat/solhist/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
)

const testTaskQueue = "solhist-reconcile-test"

func TestDiffSchedules(t *testing.T) {
	tracked := func(addresses ...string) []*db.TrackedAddress {
		out := make([]*db.TrackedAddress, len(addresses))
		for i, address := range addresses {
			out[i] = &db.TrackedAddress{Address: address, PollInterval: time.Minute}
		}
		return out
	}

	tests := []struct {
		name         string
		tracked      []*db.TrackedAddress
		scheduled    []string
		wantMissing  []string
		wantOrphaned []string
	}{
		{
			name: "nothing tracked or scheduled",
		},
		{
			name:      "in agreement",
			tracked:   tracked("A", "B"),
			scheduled: []string{"B", "A"},
		},
		{
			name:        "tracked without schedule",
			tracked:     tracked("C", "A", "B"),
			scheduled:   []string{"B"},
			wantMissing: []string{"A", "C"},
		},
		{
			name:         "schedule without tracked address",
			tracked:      tracked("A"),
			scheduled:    []string{"Z", "A", "Y"},
			wantOrphaned: []string{"Y", "Z"},
		},
		{
			name:         "both directions",
			tracked:      tracked("A", "B"),
			scheduled:    []string{"B", "C"},
			wantMissing:  []string{"A"},
			wantOrphaned: []string{"C"},
		},
		{
			name:         "duplicates collapse",
			tracked:      tracked("A", "A"),
			scheduled:    []string{"C", "C"},
			wantMissing:  []string{"A"},
			wantOrphaned: []string{"C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			missing, orphaned := diffSchedules(tt.tracked, tt.scheduled)
			assert.Equal(t, tt.wantMissing, missing)
			assert.Equal(t, tt.wantOrphaned, orphaned)
		})
	}
}

func testTemporalHost() string {
	if host := os.Getenv("TEST_TEMPORAL_HOST"); host != "" {
		return host
	}
	return "localhost:7233"
}

func testTemporalNamespace() string {
	if ns := os.Getenv("TEST_TEMPORAL_NAMESPACE"); ns != "" {
		return ns
	}
	return "default"
}

func setupTestTemporal(t *testing.T) client.Client {
	t.Helper()

	// Skip by default - require explicit opt-in
	if os.Getenv("RUN_TEMPORAL_TESTS") == "" {
		t.Skip("Skipping Temporal integration test (set RUN_TEMPORAL_TESTS=1 to enable)")
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  testTemporalHost(),
		Namespace: testTemporalNamespace(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { temporalClient.Close() })

	return temporalClient
}

// createTestSchedule creates the history schedule of address the way the
// server does and deletes it when the test ends.
func createTestSchedule(t *testing.T, temporalClient client.Client, address string, interval time.Duration) string {
	t.Helper()

	scheduler, err := temporal.NewClient(testTemporalHost(), testTemporalNamespace(), testTaskQueue, 10,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(scheduler.Close)

	require.NoError(t, scheduler.UpsertHistorySchedule(context.Background(), address, interval))
	deleteScheduleOnCleanup(t, temporalClient, address)

	scheduleID := temporal.SchedulePrefix + address
	waitForScheduleListed(t, temporalClient, scheduleID)
	return scheduleID
}

func deleteScheduleOnCleanup(t *testing.T, temporalClient client.Client, address string) {
	t.Cleanup(func() {
		handle := temporalClient.ScheduleClient().GetHandle(context.Background(), temporal.SchedulePrefix+address)
		handle.Delete(context.Background())
	})
}

// waitForScheduleListed blocks until scheduleID shows up in schedule listings,
// which lag behind creation.
func waitForScheduleListed(t *testing.T, temporalClient client.Client, scheduleID string) {
	t.Helper()

	require.Eventually(t, func() bool {
		iter, err := temporalClient.ScheduleClient().List(context.Background(), client.ScheduleListOptions{PageSize: 100})
		if err != nil {
			return false
		}
		for iter.HasNext() {
			entry, err := iter.Next()
			if err != nil {
				return false
			}
			if entry.ID == scheduleID {
				return true
			}
		}
		return false
	}, 15*time.Second, 250*time.Millisecond)
}

func runTemporalCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	args = append([]string{
		"solhist",
		"--temporal-host", testTemporalHost(),
		"--temporal-namespace", testTemporalNamespace(),
	}, args...)
	stdout, stderr, err := captureOutput(t, func() error {
		return newApp().Run(args)
	})
	return stdout + stderr, err
}

func TestListSchedulesCommand(t *testing.T) {
	temporalClient := setupTestTemporal(t)

	testAddr1 := "TestListAddr111111111111111111111111111"
	testAddr2 := "TestListAddr222222222222222222222222222"
	scheduleID1 := createTestSchedule(t, temporalClient, testAddr1, 30*time.Second)
	scheduleID2 := createTestSchedule(t, temporalClient, testAddr2, time.Minute)

	output, err := runTemporalCommand(t, "schedules", "list")
	require.NoError(t, err)

	assert.Contains(t, output, scheduleID1)
	assert.Contains(t, output, scheduleID2)
	assert.Contains(t, output, "Total:")
}

func TestDescribeScheduleCommand(t *testing.T) {
	temporalClient := setupTestTemporal(t)

	testAddr := "TestDescribeAddr1111111111111111111111"
	scheduleID := createTestSchedule(t, temporalClient, testAddr, 45*time.Second)

	output, err := runTemporalCommand(t, "schedules", "describe", testAddr)
	require.NoError(t, err)

	assert.Contains(t, output, scheduleID)
	assert.Contains(t, output, "ReconcileHistoryWorkflow")
	assert.Contains(t, output, testTaskQueue)
	assert.Contains(t, output, "45s")
	assert.Contains(t, output, "Paused:         false")
}

func TestDescribeScheduleCommand_NotFound(t *testing.T) {
	setupTestTemporal(t)

	_, err := runTemporalCommand(t, "schedules", "describe", "NoSuchAddr111111111111111111111111111")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to describe schedule")
}

func TestPauseScheduleCommand(t *testing.T) {
	temporalClient := setupTestTemporal(t)

	testAddr := "TestPauseAddr11111111111111111111111111"
	scheduleID := createTestSchedule(t, temporalClient, testAddr, 30*time.Second)

	output, err := runTemporalCommand(t, "schedules", "pause", "--note", "Test pause", testAddr)
	require.NoError(t, err)
	assert.Contains(t, output, "Schedule paused")
	assert.Contains(t, output, scheduleID)

	ctx := context.Background()
	desc, err := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID).Describe(ctx)
	require.NoError(t, err)
	assert.True(t, desc.Schedule.State.Paused)
	assert.Equal(t, "Test pause", desc.Schedule.State.Note)
}

func TestResumeScheduleCommand(t *testing.T) {
	temporalClient := setupTestTemporal(t)

	testAddr := "TestResumeAddr1111111111111111111111111"
	scheduleID := createTestSchedule(t, temporalClient, testAddr, 30*time.Second)

	ctx := context.Background()
	handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
	require.NoError(t, handle.Pause(ctx, client.SchedulePauseOptions{Note: "Paused for test"}))

	output, err := runTemporalCommand(t, "schedules", "resume", "--note", "Test resume", testAddr)
	require.NoError(t, err)
	assert.Contains(t, output, "Schedule resumed")
	assert.Contains(t, output, scheduleID)

	desc, err := handle.Describe(ctx)
	require.NoError(t, err)
	assert.False(t, desc.Schedule.State.Paused)
	assert.Equal(t, "Test resume", desc.Schedule.State.Note)
}

func TestReconcileSchedulesCommand(t *testing.T) {
	temporalClient := setupTestTemporal(t)
	store := setupTestDB(t)
	ctx := context.Background()

	missingAddr := "TestReconcileMissing11111111111111111111"
	orphanAddr := "TestReconcileOrphan111111111111111111111"

	_, err := store.UpsertTrackedAddress(ctx, db.UpsertTrackedAddressParams{
		Address:      missingAddr,
		Network:      "devnet",
		PollInterval: time.Minute,
	})
	require.NoError(t, err)
	deleteScheduleOnCleanup(t, temporalClient, missingAddr)
	createTestSchedule(t, temporalClient, orphanAddr, time.Minute)

	output, err := runTemporalCommand(t, "--database-url", testDatabaseURL(), "schedules", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, output, "missing schedule:  "+missingAddr)
	assert.Contains(t, output, "orphaned schedule: "+orphanAddr)
	assert.Contains(t, output, "solhist schedules reconcile --fix")

	output, err = runTemporalCommand(t, "--database-url", testDatabaseURL(),
		"schedules", "reconcile", "--fix", "--task-queue", testTaskQueue)
	require.NoError(t, err)
	assert.Contains(t, output, "Created schedule for "+missingAddr)
	assert.Contains(t, output, "Deleted orphaned schedule for "+orphanAddr)

	desc, err := temporalClient.ScheduleClient().GetHandle(ctx, temporal.SchedulePrefix+missingAddr).Describe(ctx)
	require.NoError(t, err)
	require.Len(t, desc.Schedule.Spec.Intervals, 1)
	assert.Equal(t, time.Minute, desc.Schedule.Spec.Intervals[0].Every)

	_, err = temporalClient.ScheduleClient().GetHandle(ctx, temporal.SchedulePrefix+orphanAddr).Describe(ctx)
	assert.Error(t, err)
}
