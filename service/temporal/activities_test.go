package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/solhist/service/history"
	natspkg "github.com/brojonat/solhist/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
)

// MockReconciler mocks ReconcilerInterface.
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, subject string, limit int) (*history.Report, error) {
	args := m.Called(ctx, subject, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*history.Report), args.Error(1)
}

// MockStore mocks StoreInterface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveSnapshot(ctx context.Context, report *history.Report) (bool, error) {
	args := m.Called(ctx, report)
	return args.Bool(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileHistoryActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the report", func(t *testing.T) {
		reconciler := new(MockReconciler)
		reconciler.On("Reconcile", ctx, testAddress, 50).Return(workflowReport(), nil)

		acts := NewActivities(reconciler, nil, nil, "devnet", nil, testLogger())
		result, err := acts.ReconcileHistory(ctx, ReconcileHistoryInput{Address: testAddress, Limit: 50})
		require.NoError(t, err)
		assert.Len(t, result.Report.Events, 1)
		reconciler.AssertExpectations(t)
	})

	t.Run("listing failure is retryable", func(t *testing.T) {
		reconciler := new(MockReconciler)
		listErr := errors.Join(history.ErrListing, errors.New("rpc down"))
		reconciler.On("Reconcile", ctx, testAddress, 10).
			Return(&history.Report{Subject: testAddress, Events: []history.TransferEvent{}}, listErr)

		acts := NewActivities(reconciler, nil, nil, "devnet", nil, testLogger())
		_, err := acts.ReconcileHistory(ctx, ReconcileHistoryInput{Address: testAddress, Limit: 10})
		require.Error(t, err)
		assert.ErrorIs(t, err, history.ErrListing)

		var appErr *temporal.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})

	t.Run("invalid address is not retried", func(t *testing.T) {
		reconciler := new(MockReconciler)
		acts := NewActivities(reconciler, nil, nil, "devnet", nil, testLogger())

		_, err := acts.ReconcileHistory(ctx, ReconcileHistoryInput{Address: "not-base58!", Limit: 10})
		require.Error(t, err)

		var appErr *temporal.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, ErrTypeInvalidAddress, appErr.Type())
		reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSaveSnapshotActivity(t *testing.T) {
	ctx := context.Background()
	report := workflowReport()

	t.Run("saved", func(t *testing.T) {
		store := new(MockStore)
		store.On("SaveSnapshot", ctx, report).Return(true, nil)

		acts := NewActivities(nil, store, nil, "devnet", nil, testLogger())
		result, err := acts.SaveSnapshot(ctx, SaveSnapshotInput{Report: report})
		require.NoError(t, err)
		assert.True(t, result.Saved)
		store.AssertExpectations(t)
	})

	t.Run("stale", func(t *testing.T) {
		store := new(MockStore)
		store.On("SaveSnapshot", ctx, report).Return(false, nil)

		acts := NewActivities(nil, store, nil, "devnet", nil, testLogger())
		result, err := acts.SaveSnapshot(ctx, SaveSnapshotInput{Report: report})
		require.NoError(t, err)
		assert.False(t, result.Saved)
	})

	t.Run("database error", func(t *testing.T) {
		store := new(MockStore)
		store.On("SaveSnapshot", ctx, report).Return(false, errors.New("connection refused"))

		acts := NewActivities(nil, store, nil, "devnet", nil, testLogger())
		_, err := acts.SaveSnapshot(ctx, SaveSnapshotInput{Report: report})
		assert.Error(t, err)
	})

	t.Run("missing report", func(t *testing.T) {
		acts := NewActivities(nil, new(MockStore), nil, "devnet", nil, testLogger())
		_, err := acts.SaveSnapshot(ctx, SaveSnapshotInput{})
		assert.Error(t, err)
	})
}

func TestPublishSnapshotActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes with explorer links", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		acts := NewActivities(nil, nil, publisher, "devnet", nil, testLogger())

		require.NoError(t, acts.PublishSnapshot(ctx, PublishSnapshotInput{Report: workflowReport()}))

		published := publisher.PublishedFor(testAddress)
		require.Len(t, published, 1)
		assert.Equal(t, "devnet", published[0].Network)
		require.Len(t, published[0].Events, 1)
		assert.Equal(t, "https://explorer.solana.com/tx/sig1?cluster=devnet", published[0].Events[0].ExplorerURL)
	})

	t.Run("publish error", func(t *testing.T) {
		publisher := natspkg.NewMockPublisher()
		publisher.SetPublishError(errors.New("nats down"))
		acts := NewActivities(nil, nil, publisher, "devnet", nil, testLogger())

		assert.Error(t, acts.PublishSnapshot(ctx, PublishSnapshotInput{Report: workflowReport()}))
	})

	t.Run("no publisher", func(t *testing.T) {
		acts := NewActivities(nil, nil, nil, "devnet", nil, testLogger())
		assert.Error(t, acts.PublishSnapshot(ctx, PublishSnapshotInput{Report: workflowReport()}))
	})
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()

	require.NoError(t, s.UpsertHistorySchedule(ctx, testAddress, 30e9))
	require.NoError(t, s.UpsertHistorySchedule(ctx, testAddress, 60e9))
	interval, ok := s.ScheduleInterval(testAddress)
	require.True(t, ok)
	assert.Equal(t, int64(60e9), int64(interval))
	assert.Equal(t, 1, s.ScheduleCount())

	require.NoError(t, s.DeleteHistorySchedule(ctx, testAddress))
	assert.Error(t, s.DeleteHistorySchedule(ctx, testAddress))
	assert.Zero(t, s.ScheduleCount())

	s.SetUpsertError(errors.New("temporal down"))
	assert.Error(t, s.UpsertHistorySchedule(ctx, testAddress, 30e9))
}

func TestAddressFromScheduleID(t *testing.T) {
	address, ok := AddressFromScheduleID(scheduleID(testAddress))
	require.True(t, ok)
	assert.Equal(t, testAddress, address)

	_, ok = AddressFromScheduleID("poll-wallet-" + testAddress)
	assert.False(t, ok)

	_, ok = AddressFromScheduleID(SchedulePrefix)
	assert.False(t, ok)
}
