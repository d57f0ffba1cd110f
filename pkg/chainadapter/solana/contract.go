// Package solana - escrow program instruction encoding
package solana

import (
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// discriminator returns the 8-byte Anchor-style instruction sighash for
// "global:<name>", the same scheme every Anchor program (and the generated
// client code around it) uses to route instruction data without a separate
// opcode table.
func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

var (
	discInitialize      = discriminator("initialize")
	discInitializePayIn = discriminator("initialize_pay_in")
	discClaimSecret     = discriminator("claim_with_secret")
	discClaimTxData     = discriminator("claim_with_tx_data")
	discRefund          = discriminator("refund")
	discRefundWithAuth  = discriminator("refund_with_authorization")
	discDeposit         = discriminator("deposit")
	discWithdraw        = discriminator("withdraw")
	discTransfer        = discriminator("transfer")
)

// initializeArgs mirrors the escrow program's Initialize instruction
// arguments, Borsh-encoded in declaration order following Anchor's
// convention (accounts are passed separately as AccountMeta list).
type initializeArgs struct {
	PaymentHash     [32]byte
	Amount          uint64
	Sequence        uint64
	Expiry          int64
	EscrowNonce     uint64
	Kind            uint8
	PayOut          bool
	SecurityDeposit uint64
	ClaimerBounty   uint64
	AuthTimeout     int64
	Signature       []byte
}

func encodeInstructionData(disc [8]byte, args interface{}) ([]byte, error) {
	buf, err := bin.MarshalBorsh(args)
	if err != nil {
		return nil, fmt.Errorf("solana: borsh encode failed: %w", err)
	}
	return append(disc[:], buf...), nil
}

func newInstruction(programID, from solanago.PublicKey, accounts solanago.AccountMetaSlice, data []byte) solanago.Instruction {
	return solanago.NewInstruction(programID, accounts, data)
}

// escrowPDA derives the commitment account address for a payment hash, the
// same seeds ("escrow", paymentHash) an Anchor program would use to make the
// commitment account a deterministic function of the hash instead of a
// separately-tracked keypair.
func escrowPDA(programID solanago.PublicKey, paymentHash [32]byte) (solanago.PublicKey, uint8, error) {
	return solanago.FindProgramAddress([][]byte{[]byte("escrow"), paymentHash[:]}, programID)
}

// vaultPDA derives the intermediary's per-token vault account, seeded off
// the program and the token mint so deposit/withdraw/transfer never need a
// caller-supplied account that could be spoofed.
func vaultPDA(programID, mint solanago.PublicKey) (solanago.PublicKey, uint8, error) {
	return solanago.FindProgramAddress([][]byte{[]byte("vault"), mint.Bytes()}, programID)
}

// reputationPDA derives the per-(intermediary, mint) reputation account
// (glossary: "Intermediary reputation"), the sentinel §4.5 step 3 checks
// before quoting.
func reputationPDA(programID, intermediary, mint solanago.PublicKey) (solanago.PublicKey, uint8, error) {
	return solanago.FindProgramAddress([][]byte{[]byte("reputation"), intermediary.Bytes(), mint.Bytes()}, programID)
}
