package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/brojonat/solhist/service/history"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// signatureToDomain converts an RPC TransactionSignature to a SignatureRecord.
func signatureToDomain(sig *rpc.TransactionSignature) history.SignatureRecord {
	rec := history.SignatureRecord{Signature: sig.Signature.String()}
	if sig.BlockTime != nil {
		t := sig.BlockTime.Time()
		rec.BlockTime = &t
	}
	return rec
}

// parseTransactionFromResult converts a GetTransactionResult into a TransactionRecord.
//
// Account keys are the static message keys followed by any addresses loaded
// from lookup tables, which is the order the meta balances are reported in.
// Instructions of a failed transaction are dropped because none of them took
// effect; its balances still reflect the fee.
//
// When an instruction cannot be decoded the record is still returned, without
// instructions, together with an error wrapping history.ErrMalformedRecord.
func parseTransactionFromResult(result *rpc.GetTransactionResult) (*history.TransactionRecord, error) {
	if result == nil || result.Transaction == nil {
		return nil, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction: %w", history.ErrMalformedRecord, err)
	}

	accountKeys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	accountKeys = append(accountKeys, tx.Message.AccountKeys...)
	if result.Meta != nil {
		accountKeys = append(accountKeys, result.Meta.LoadedAddresses.Writable...)
		accountKeys = append(accountKeys, result.Meta.LoadedAddresses.ReadOnly...)
	}

	record := &history.TransactionRecord{
		AccountKeys: make([]string, len(accountKeys)),
	}
	for i, key := range accountKeys {
		record.AccountKeys[i] = key.String()
	}

	if meta := result.Meta; meta != nil && len(meta.PreBalances) == len(meta.PostBalances) {
		record.Balances = make([]history.BalanceChange, len(meta.PreBalances))
		for i := range meta.PreBalances {
			record.Balances[i] = history.BalanceChange{
				Pre:  meta.PreBalances[i],
				Post: meta.PostBalances[i],
			}
		}
	}

	// A failed transaction's instructions were reverted. Leaving them out means
	// a failed transfer is never reported as one; the fee still shows in the
	// balances.
	if result.Meta != nil && result.Meta.Err != nil {
		return record, nil
	}

	for i, instruction := range tx.Message.Instructions {
		ix, err := parseInstruction(instruction, accountKeys)
		if err != nil {
			record.Instructions = nil
			return record, fmt.Errorf("%w: instruction %d: %w", history.ErrMalformedRecord, i, err)
		}
		record.Instructions = append(record.Instructions, ix)
	}

	return record, nil
}

// parseInstruction classifies a compiled instruction into one of the
// history.Instruction variants.
func parseInstruction(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (history.Instruction, error) {
	if int(instruction.ProgramIDIndex) >= len(accountKeys) {
		return history.Instruction{}, fmt.Errorf("program index %d out of bounds", instruction.ProgramIDIndex)
	}

	programID := accountKeys[instruction.ProgramIDIndex]
	if !programID.Equals(solana.SystemProgramID) {
		return history.Instruction{Kind: history.KindForeign, ProgramID: programID.String()}, nil
	}

	// System instruction format:
	// [0..4]  = instruction type (u32)
	// [4..12] = lamports (u64), for Transfer
	if len(instruction.Data) < 4 {
		return history.Instruction{}, fmt.Errorf("system instruction data too short: %d bytes", len(instruction.Data))
	}
	if binary.LittleEndian.Uint32(instruction.Data[0:4]) != SystemProgramTransferInstruction {
		return history.Instruction{Kind: history.KindSystemOther}, nil
	}

	return parseSystemTransfer(instruction, accountKeys)
}

// parseSystemTransfer extracts amount, source and destination from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (history.Instruction, error) {
	if len(instruction.Data) < 12 {
		return history.Instruction{}, fmt.Errorf("transfer instruction data too short: %d bytes", len(instruction.Data))
	}

	// System Transfer accounts: [from, to]
	if len(instruction.Accounts) < 2 {
		return history.Instruction{}, fmt.Errorf("transfer instruction has %d accounts, want 2", len(instruction.Accounts))
	}
	fromIndex, toIndex := instruction.Accounts[0], instruction.Accounts[1]
	if int(fromIndex) >= len(accountKeys) || int(toIndex) >= len(accountKeys) {
		return history.Instruction{}, fmt.Errorf("transfer account index out of bounds")
	}

	return history.Instruction{
		Kind:        history.KindSystemTransfer,
		Source:      accountKeys[fromIndex].String(),
		Destination: accountKeys[toIndex].String(),
		Lamports:    binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}
