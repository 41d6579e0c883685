package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoiseThreshold is the largest absolute balance change, in SOL, that is
// treated as fees or rent rather than a transfer.
var NoiseThreshold = decimal.New(1, -3)

// Fallback synthesizes at most one event from the subject's balance change
// in record. It is only meaningful when Extract found no transfer instruction.
func Fallback(record *TransactionRecord, sig SignatureRecord, subject string, now time.Time) (TransferEvent, bool) {
	if record == nil {
		return TransferEvent{}, false
	}

	index := -1
	for i, key := range record.AccountKeys {
		if key == subject {
			index = i
			break
		}
	}
	if index < 0 || index >= len(record.Balances) {
		return TransferEvent{}, false
	}

	bal := record.Balances[index]
	delta := LamportsToSOL(bal.Post).Sub(LamportsToSOL(bal.Pre))
	if delta.Abs().LessThanOrEqual(NoiseThreshold) {
		return TransferEvent{}, false
	}

	event := TransferEvent{
		Signature: sig.Signature,
		Amount:    delta.Abs(),
		Timestamp: eventTimestamp(sig, now),
		Source:    SourceBalance,
	}
	if delta.IsPositive() {
		event.Direction = Received
		event.Counterparty = UnknownSender
	} else {
		event.Direction = Sent
		event.Counterparty = UnknownRecipient
	}
	return event, true
}
