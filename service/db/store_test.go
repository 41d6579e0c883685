package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/solhist/service/history"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedAddresses(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("upsert creates", func(t *testing.T) {
		ta, err := store.UpsertTrackedAddress(ctx, UpsertTrackedAddressParams{
			Address:      "addr1",
			Network:      "devnet",
			PollInterval: 30 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "addr1", ta.Address)
		assert.Equal(t, "devnet", ta.Network)
		assert.Equal(t, 30*time.Second, ta.PollInterval)
		assert.Equal(t, "active", ta.Status)
		assert.WithinDuration(t, time.Now(), ta.CreatedAt, 5*time.Second)
	})

	t.Run("upsert updates interval", func(t *testing.T) {
		ta, err := store.UpsertTrackedAddress(ctx, UpsertTrackedAddressParams{
			Address:      "addr1",
			Network:      "devnet",
			PollInterval: time.Minute,
		})
		require.NoError(t, err)
		assert.Equal(t, time.Minute, ta.PollInterval)

		got, err := store.GetTrackedAddress(ctx, "addr1")
		require.NoError(t, err)
		assert.Equal(t, time.Minute, got.PollInterval)
	})

	t.Run("list", func(t *testing.T) {
		_, err := store.UpsertTrackedAddress(ctx, UpsertTrackedAddressParams{
			Address:      "addr2",
			Network:      "devnet",
			PollInterval: time.Minute,
		})
		require.NoError(t, err)

		all, err := store.ListTrackedAddresses(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "addr1", all[0].Address)
		assert.Equal(t, "addr2", all[1].Address)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetTrackedAddress(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteTrackedAddress(ctx, "addr2"))
		assert.ErrorIs(t, store.DeleteTrackedAddress(ctx, "addr2"), ErrNotFound)
	})
}

func TestSnapshots(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	report := &history.Report{
		Subject:      "addr1",
		ReconciledAt: at,
		Events: []history.TransferEvent{
			{
				Signature:    "sigY",
				Counterparty: history.UnknownSender,
				Amount:       decimal.RequireFromString("1"),
				Timestamp:    2_000_000,
				Direction:    history.Received,
				Source:       history.SourceBalance,
			},
			{
				Signature:    "sigX",
				Counterparty: "B",
				Amount:       decimal.RequireFromString("2.5"),
				Timestamp:    1_000_000,
				Direction:    history.Received,
				Source:       history.SourceInstruction,
			},
		},
		Skipped:     []history.SkippedSignature{{Signature: "sigZ", Reason: "not_found"}},
		DroppedLegs: 1,
	}

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := store.GetSnapshot(ctx, "addr1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		saved, err := store.SaveSnapshot(ctx, report)
		require.NoError(t, err)
		assert.True(t, saved)

		got, err := store.GetSnapshot(ctx, "addr1")
		require.NoError(t, err)
		assert.Equal(t, "addr1", got.Subject)
		assert.WithinDuration(t, at, got.ReconciledAt, time.Microsecond)
		require.Len(t, got.Events, 2)
		assert.Equal(t, "sigY", got.Events[0].Signature)
		assert.True(t, decimal.RequireFromString("2.5").Equal(got.Events[1].Amount))
		assert.Equal(t, history.SourceInstruction, got.Events[1].Source)
		assert.Equal(t, report.Skipped, got.Skipped)
		assert.Equal(t, 1, got.DroppedLegs)
	})

	t.Run("older report is ignored", func(t *testing.T) {
		older := &history.Report{
			Subject:      "addr1",
			ReconciledAt: at.Add(-time.Minute),
			Events:       []history.TransferEvent{},
		}
		saved, err := store.SaveSnapshot(ctx, older)
		require.NoError(t, err)
		assert.False(t, saved)

		got, err := store.GetSnapshot(ctx, "addr1")
		require.NoError(t, err)
		assert.Len(t, got.Events, 2)
	})

	t.Run("newer report replaces wholesale", func(t *testing.T) {
		newer := &history.Report{
			Subject:      "addr1",
			ReconciledAt: at.Add(time.Minute),
			Events:       []history.TransferEvent{},
		}
		saved, err := store.SaveSnapshot(ctx, newer)
		require.NoError(t, err)
		assert.True(t, saved)

		got, err := store.GetSnapshot(ctx, "addr1")
		require.NoError(t, err)
		assert.Empty(t, got.Events)
		assert.NotNil(t, got.Events)
		assert.Empty(t, got.Skipped)
	})
}

func TestDurationIntervalRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{0, time.Second, 90 * time.Minute, 36 * time.Hour} {
		assert.Equal(t, d, durationFromPgInterval(pgIntervalFromDuration(d)))
	}
}
