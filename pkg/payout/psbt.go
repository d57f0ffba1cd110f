package payout

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
)

// BuildRequest describes one payout transaction to construct.
type BuildRequest struct {
	Network       *chaincfg.Params
	Inputs        []bitcoinrpc.UTXO
	PayoutAddress string
	PayoutSats    int64
	ChangeAddress string
	ChangeSats    int64
	Nonce         uint64
}

// BuildPayoutPSBT assembles an unsigned PSBT for a payout transaction,
// applying the nonce-encoded locktime and per-input sequence to every
// input (§4.5 step 2). The change output, when present, is always last so
// callers can locate it at len(outputs)-1.
func BuildPayoutPSBT(req BuildRequest) (*psbt.Packet, error) {
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("payout: no inputs selected")
	}

	locktime, sequence := EncodeNonce(req.Nonce)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = locktime

	for _, in := range req.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("payout: invalid input txid %s: %w", in.TxID, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
	}

	payoutAddr, err := btcutil.DecodeAddress(req.PayoutAddress, req.Network)
	if err != nil {
		return nil, fmt.Errorf("payout: invalid payout address %s: %w", req.PayoutAddress, err)
	}
	payoutScript, err := txscript.PayToAddrScript(payoutAddr)
	if err != nil {
		return nil, fmt.Errorf("payout: payout script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(req.PayoutSats, payoutScript))

	if req.ChangeSats > 0 {
		changeAddr, err := btcutil.DecodeAddress(req.ChangeAddress, req.Network)
		if err != nil {
			return nil, fmt.Errorf("payout: invalid change address %s: %w", req.ChangeAddress, err)
		}
		changeScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, fmt.Errorf("payout: change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(req.ChangeSats, changeScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("payout: build psbt: %w", err)
	}

	for i, in := range req.Inputs {
		packet.Inputs[i].WitnessUtxo = &wire.TxOut{
			Value:    in.AmountSats,
			PkScript: in.ScriptPubKey,
		}
		packet.Inputs[i].SighashType = txscript.SigHashAll
	}

	return packet, nil
}

// VirtualSize returns the PSBT's unsigned transaction's estimated virtual
// size, used as the lower bound for the fee-police check before signing
// (the realized size after witness data is added can only grow, so the
// engine re-checks once more after finalization).
func VirtualSize(packet *psbt.Packet) int64 {
	return int64(mempoolVsize(packet.UnsignedTx))
}

func mempoolVsize(tx *wire.MsgTx) int {
	// Approximate: the witness stack is added later by the signer, so size
	// the base transaction plus one P2WPKH witness (~108 weight units, i.e.
	// 27 vbytes) per input.
	base := tx.SerializeSize()
	witnessOverhead := 27 * len(tx.TxIn) // (1 sig ~72 + 1 pubkey ~33 + overhead) / 4 discount, rounded
	return base + witnessOverhead
}

// FinalizeAndExtract finalizes every input of a fully-signed PSBT and
// extracts the network-ready transaction.
func FinalizeAndExtract(packet *psbt.Packet) (*wire.MsgTx, error) {
	for i := range packet.Inputs {
		if err := psbt.Finalize(packet, i); err != nil {
			return nil, fmt.Errorf("payout: finalize input %d: %w", i, err)
		}
	}
	return psbt.Extract(packet)
}
