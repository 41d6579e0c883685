package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner lets a test decide when each subject's run returns.
type scriptedRunner struct {
	started map[string]chan struct{}
	release map[string]chan struct{}
	errs    map[string]error
}

func newScriptedRunner(subjects ...string) *scriptedRunner {
	r := &scriptedRunner{
		started: map[string]chan struct{}{},
		release: map[string]chan struct{}{},
		errs:    map[string]error{},
	}
	for _, s := range subjects {
		r.started[s] = make(chan struct{})
		r.release[s] = make(chan struct{})
	}
	return r
}

func (r *scriptedRunner) Reconcile(ctx context.Context, subject string, limit int) (*Report, error) {
	close(r.started[subject])
	<-r.release[subject]
	report := &Report{Subject: subject, Events: []TransferEvent{{Signature: "sig-" + subject}}}
	return report, r.errs[subject]
}

func newTestSession(runner Runner) *Session {
	return NewSession(runner, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSession_CommitsLatest(t *testing.T) {
	runner := newScriptedRunner("A")
	close(runner.release["A"])
	s := newTestSession(runner)

	report, err := s.Refresh(context.Background(), "A", 10)

	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.Generation)
	assert.Same(t, report, s.Latest())
}

func TestSession_DiscardsStaleResult(t *testing.T) {
	runner := newScriptedRunner("old", "new")
	s := newTestSession(runner)

	type result struct {
		report *Report
		err    error
	}
	oldDone := make(chan result, 1)
	go func() {
		report, err := s.Refresh(context.Background(), "old", 10)
		oldDone <- result{report, err}
	}()
	<-runner.started["old"]

	// The subject changes while the first run is still outstanding.
	close(runner.release["new"])
	newReport, err := s.Refresh(context.Background(), "new", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newReport.Generation)

	// The slow run resolves afterwards and must not overwrite the newer result.
	close(runner.release["old"])
	select {
	case res := <-oldDone:
		assert.ErrorIs(t, res.err, ErrStale)
		assert.Nil(t, res.report)
	case <-time.After(5 * time.Second):
		t.Fatal("stale refresh did not return")
	}

	require.NotNil(t, s.Latest())
	assert.Equal(t, "new", s.Latest().Subject)
}

func TestSession_CancelsSupersededRun(t *testing.T) {
	block := make(chan struct{})
	var canceled bool
	runner := runnerFunc(func(ctx context.Context, subject string, limit int) (*Report, error) {
		if subject == "slow" {
			close(block)
			<-ctx.Done()
			canceled = true
			return &Report{Subject: subject}, ctx.Err()
		}
		return &Report{Subject: subject, Events: []TransferEvent{}}, nil
	})
	s := newTestSession(runner)

	done := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background(), "slow", 10)
		done <- err
	}()
	<-block

	_, err := s.Refresh(context.Background(), "fast", 10)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStale)
		assert.True(t, canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded run was not canceled")
	}
	assert.Equal(t, "fast", s.Latest().Subject)
}

func TestSession_FailedRunKeepsPreviousReport(t *testing.T) {
	calls := 0
	runner := runnerFunc(func(ctx context.Context, subject string, limit int) (*Report, error) {
		calls++
		if calls == 2 {
			return &Report{Subject: subject, Events: []TransferEvent{}}, ErrListing
		}
		return &Report{Subject: subject, Events: []TransferEvent{{Signature: "s"}}}, nil
	})
	s := newTestSession(runner)

	first, err := s.Refresh(context.Background(), "A", 10)
	require.NoError(t, err)

	_, err = s.Refresh(context.Background(), "A", 10)
	require.True(t, errors.Is(err, ErrListing))

	assert.Same(t, first, s.Latest())
	assert.Equal(t, uint64(2), s.Generation())
}

type runnerFunc func(ctx context.Context, subject string, limit int) (*Report, error)

func (f runnerFunc) Reconcile(ctx context.Context, subject string, limit int) (*Report, error) {
	return f(ctx, subject, limit)
}
