package history

import (
	"context"
	"errors"
)

var (
	// ErrLookup is returned by a LedgerClient when the address is malformed
	// or the ledger service cannot be reached.
	ErrLookup = errors.New("ledger lookup failed")

	// ErrFetch marks a per-signature record fetch that failed or timed out.
	ErrFetch = errors.New("transaction fetch failed")

	// ErrListing is returned by Reconcile when the signature listing fails.
	ErrListing = errors.New("signature listing failed")

	// ErrMalformedRecord marks a record that was present but could not be decoded.
	ErrMalformedRecord = errors.New("malformed transaction record")
)

// LedgerClient is the read side of the ledger the reconciler depends on.
type LedgerClient interface {
	// ListSignatures returns up to limit recent signatures touching address.
	// The order is expected to be newest first but is not relied upon.
	ListSignatures(ctx context.Context, address string, limit int) ([]SignatureRecord, error)

	// GetRecord returns the confirmed record for signature, or nil when the
	// ledger does not have it at the requested commitment.
	GetRecord(ctx context.Context, signature string) (*TransactionRecord, error)
}
