package history

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the fixed conversion between the base unit and SOL.
const LamportsPerSOL = 1_000_000_000

// lamportsExp is the decimal exponent that turns lamports into SOL.
const lamportsExp = -9

// LamportsToSOL converts a lamport count into an exact SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), lamportsExp)
}

// eventTimestamp returns the block time in milliseconds, falling back to now.
func eventTimestamp(sig SignatureRecord, now time.Time) int64 {
	if sig.BlockTime != nil {
		return sig.BlockTime.Unix() * 1000
	}
	return now.UnixMilli()
}

// Extract builds one TransferEvent per native transfer instruction in record.
// Instructions of any other kind contribute nothing.
func Extract(record *TransactionRecord, sig SignatureRecord, subject string, now time.Time) []TransferEvent {
	if record == nil {
		return nil
	}

	var events []TransferEvent
	for _, ix := range record.Instructions {
		switch ix.Kind {
		case KindSystemTransfer:
			event := TransferEvent{
				Signature: sig.Signature,
				Amount:    LamportsToSOL(ix.Lamports),
				Timestamp: eventTimestamp(sig, now),
				Source:    SourceInstruction,
			}
			if ix.Destination == subject {
				event.Direction = Received
				event.Counterparty = ix.Source
			} else {
				event.Direction = Sent
				event.Counterparty = ix.Destination
			}
			events = append(events, event)
		case KindSystemOther, KindForeign:
			// no SOL movement we can attribute
		}
	}
	return events
}
