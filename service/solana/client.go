package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solhist/service/history"
	"github.com/brojonat/solhist/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// ClientConfig controls retries, timeouts and pacing of RPC calls.
type ClientConfig struct {
	// Endpoint identifies the RPC endpoint in metrics (e.g., "mainnet", "devnet", rpc host).
	Endpoint string

	// MaxAttempts is the number of tries per RPC call, including the first.
	MaxAttempts int

	// CallTimeout bounds each individual RPC call.
	CallTimeout time.Duration

	// BaseBackoff is the wait before the first retry; it doubles per attempt.
	BaseBackoff time.Duration

	// RequestDelay is waited before every transaction fetch to respect RPC rate limits.
	// Public mainnet needs ~600ms; premium endpoints can use 100-150ms or zero.
	RequestDelay time.Duration
}

// DefaultClientConfig returns the settings used when none are configured.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:    endpoint,
		MaxAttempts: 3,
		CallTimeout: 10 * time.Second,
		BaseBackoff: time.Second,
	}
}

// Client implements history.LedgerClient over the Solana JSON-RPC API.
type Client struct {
	rpc     RPCClient
	cfg     ClientConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ history.LedgerClient = (*Client)(nil)

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:     rpcClient,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		sleep:   sleepContext,
	}
}

// ListSignatures returns up to limit recent confirmed signatures for address.
// A malformed address or an unreachable endpoint yields history.ErrLookup.
func (c *Client) ListSignatures(ctx context.Context, address string, limit int) ([]history.SignatureRecord, error) {
	wallet, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid address %q: %w", history.ErrLookup, address, err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", address,
		"limit", limit,
	)

	var signatures []*rpc.TransactionSignature
	err = c.withRetry(ctx, "GetSignaturesForAddress", address, func(callCtx context.Context) error {
		var callErr error
		signatures, callErr = c.rpc.GetSignaturesForAddress(callCtx, wallet, opts)
		return callErr
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", address,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", history.ErrLookup, err)
	}

	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.cfg.Endpoint, float64(len(signatures)))
	}

	records := make([]history.SignatureRecord, 0, len(signatures))
	for _, sig := range signatures {
		if sig == nil {
			continue
		}
		records = append(records, signatureToDomain(sig))
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"wallet", address,
		"count", len(records),
	)

	return records, nil
}

// GetRecord fetches the confirmed transaction for signature.
// It returns (nil, nil) when the ledger does not have it at confirmed commitment.
func (c *Client) GetRecord(ctx context.Context, signature string) (*history.TransactionRecord, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature %q: %w", history.ErrFetch, signature, err)
	}

	if c.cfg.RequestDelay > 0 {
		if err := c.sleep(ctx, c.cfg.RequestDelay); err != nil {
			return nil, err
		}
	}

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	err = c.withRetry(ctx, "GetTransaction", signature, func(callCtx context.Context) error {
		var callErr error
		result, callErr = c.rpc.GetTransaction(callCtx, sig, opts)
		if errors.Is(callErr, rpc.ErrNotFound) {
			// Not found is an answer, not a failure.
			result = nil
			return nil
		}
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", history.ErrFetch, signature, err)
	}

	record, err := parseTransactionFromResult(result)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to parse transaction",
			"signature", signature,
			"error", err,
		)
	}
	return record, err
}

// withRetry runs call up to MaxAttempts times with exponential backoff.
// Each attempt gets its own CallTimeout.
func (c *Client) withRetry(ctx context.Context, method, subject string, call func(context.Context) error) error {
	var err error
	for attempt := range c.cfg.MaxAttempts {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		}

		start := time.Now()
		err = call(callCtx)
		cancel()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, c.cfg.Endpoint, time.Since(start).Seconds())
		}

		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		backoff, reason := c.backoff(attempt, err)
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"subject", subject,
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			if reason == "rate_limit" {
				c.metrics.RecordRateLimitHit(c.cfg.Endpoint)
			}
			c.metrics.RecordRPCRetry(method, reason)
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return err
}

// backoff returns how long to wait after the given failed attempt.
// Rate limiting (429 Too Many Requests) waits twice as long.
func (c *Client) backoff(attempt int, err error) (time.Duration, string) {
	if strings.Contains(err.Error(), "429") {
		return c.cfg.BaseBackoff * time.Duration(2<<uint(attempt)), "rate_limit"
	}
	return c.cfg.BaseBackoff * time.Duration(1<<uint(attempt)), "timeout_or_error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
