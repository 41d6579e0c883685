package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solhist/client"
	"github.com/brojonat/solhist/service/history"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns one report per call and cancels the watch once the
// script runs out.
type scriptedSource struct {
	mu      sync.Mutex
	reports []*history.Report
	calls   int
	cancel  context.CancelFunc
}

func (s *scriptedSource) Network() string { return "devnet" }

func (s *scriptedSource) Reconcile(ctx context.Context, subject string, limit int) (*history.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls > len(s.reports) {
		s.cancel()
		return &history.Report{Subject: subject, Events: []history.TransferEvent{}}, nil
	}
	return s.reports[s.calls-1], nil
}

func event(sig string, ts int64) history.TransferEvent {
	return history.TransferEvent{
		Signature:    sig,
		Counterparty: "B",
		Amount:       decimal.RequireFromString("1"),
		Timestamp:    ts,
		Direction:    history.Received,
		Source:       history.SourceInstruction,
	}
}

func TestWatchHistory_PrintsOnlyNewEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &scriptedSource{
		cancel: cancel,
		reports: []*history.Report{
			{Subject: "A", Events: []history.TransferEvent{event("s1", 1000)}},
			{Subject: "A", Events: []history.TransferEvent{event("s2", 2000), event("s1", 1000)}},
		},
	}

	var buf bytes.Buffer
	out := &historyPrinter{w: &buf, json: true, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, watchHistory(ctx, source, "A", 10, time.Millisecond, out))

	events := decodeLines(t, buf.String())
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].Signature)
	assert.Equal(t, "s2", events[1].Signature)
	assert.Equal(t, 3, source.calls)
}

func TestServerSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/history/A", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"address": "A",
			"network": "testnet",
			"events": []map[string]any{
				{"signature": "s1", "counterparty": "B", "amount": "0.5", "timestamp": 1000, "direction": "sent", "source": "instruction"},
			},
			"skipped": []map[string]string{{"signature": "s0", "reason": "not found"}},
		})
	}))
	defer server.Close()

	source := &serverSource{client: client.NewClient(server.URL, nil, nil), network: "devnet"}
	report, err := source.Reconcile(context.Background(), "A", 7)
	require.NoError(t, err)

	assert.Equal(t, "testnet", source.Network())
	require.Len(t, report.Events, 1)
	assert.Equal(t, history.Sent, report.Events[0].Direction)
	assert.Equal(t, history.SourceInstruction, report.Events[0].Source)
	assert.Equal(t, "0.5", report.Events[0].Amount.String())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "s0", report.Skipped[0].Signature)
}

func TestHistoryCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing address", args: []string{"solhist", "history"}, wantErr: "requires exactly one argument"},
		{name: "limit too small", args: []string{"solhist", "history", "--limit", "0", "A"}, wantErr: "limit must be between"},
		{name: "limit too large", args: []string{"solhist", "history", "--limit", "1001", "A"}, wantErr: "limit must be between"},
		{name: "bad jq", args: []string{"solhist", "history", "--jq", ".[", "A"}, wantErr: "jq filter"},
		{name: "unknown network", args: []string{"solhist", "history", "--network", "moonnet", "A"}, wantErr: "moonnet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SOLANA_NETWORK", "")
			t.Setenv("SOLANA_RPC_URL", "")
			err := newApp().Run(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHealthCommand(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	require.NoError(t, newApp().Run([]string{"solhist", "--server-url", server.URL, "server", "health"}))

	healthy = false
	err := newApp().Run([]string{"solhist", "--server-url", server.URL, "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestTrackRemove_NotTracked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"address not tracked"}`))
	}))
	defer server.Close()

	err := newApp().Run([]string{"solhist", "--server-url", server.URL, "track", "rm", "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address A is not tracked")
}

func TestHistoryClientConfig(t *testing.T) {
	cfg, err := historyClientConfig("https://mainnet.helius-rpc.com/?api-key=secret123", 5, 250*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "helius", cfg.Endpoint)
	assert.NotContains(t, cfg.Endpoint, "secret123")
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)

	cfg, err = historyClientConfig("https://api.devnet.solana.com", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "devnet", cfg.Endpoint)

	_, err = historyClientConfig("https://api.devnet.solana.com", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max-attempts must be at least 1")
}
