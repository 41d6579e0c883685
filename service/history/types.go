package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// Counterparty labels used when no instruction names the other side of a
// balance change.
const (
	UnknownSender    = "Solana Faucet"
	UnknownRecipient = "Unknown"
)

// SignatureRecord is one entry of a signature listing for an address.
type SignatureRecord struct {
	Signature string
	BlockTime *time.Time // nil when the ledger has no block time for the slot
}

// InstructionKind discriminates the Instruction variants.
type InstructionKind int

const (
	// KindSystemTransfer is a native SOL transfer on the system program.
	KindSystemTransfer InstructionKind = iota
	// KindSystemOther is any other system program instruction.
	KindSystemOther
	// KindForeign is an instruction addressed to a program other than the system program.
	KindForeign
)

func (k InstructionKind) String() string {
	switch k {
	case KindSystemTransfer:
		return "system_transfer"
	case KindSystemOther:
		return "system_other"
	case KindForeign:
		return "foreign"
	default:
		return "invalid"
	}
}

// Instruction is a decoded transaction instruction.
// Only the fields relevant to Kind are populated.
type Instruction struct {
	Kind InstructionKind

	// KindSystemTransfer
	Source      string
	Destination string
	Lamports    uint64

	// KindForeign
	ProgramID string
}

// BalanceChange holds the lamport balance of one account before and after a transaction.
type BalanceChange struct {
	Pre  uint64
	Post uint64
}

// TransactionRecord is the ledger's view of a single confirmed transaction.
// Balances is indexed by account position and lines up with AccountKeys.
type TransactionRecord struct {
	Instructions []Instruction
	AccountKeys  []string
	Balances     []BalanceChange
}

// Direction is the flow of funds relative to the subject address.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// EventSource records which evidence produced a TransferEvent.
type EventSource string

const (
	SourceInstruction EventSource = "instruction"
	SourceBalance     EventSource = "balance"
)

// TransferEvent is a single SOL movement into or out of the subject address.
type TransferEvent struct {
	Signature    string          `json:"signature"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`    // in SOL, never negative
	Timestamp    int64           `json:"timestamp"` // milliseconds since epoch
	Direction    Direction       `json:"direction"`
	Source       EventSource     `json:"source"`
}

// SkippedSignature is a signature whose record could not be used.
type SkippedSignature struct {
	Signature string `json:"signature"`
	Reason    string `json:"reason"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Subject      string             `json:"subject"`
	Generation   uint64             `json:"generation,omitempty"`
	ReconciledAt time.Time          `json:"reconciled_at"`
	Events       []TransferEvent    `json:"events"`
	Skipped      []SkippedSignature `json:"skipped,omitempty"`
	DroppedLegs  int                `json:"dropped_legs,omitempty"`
}
