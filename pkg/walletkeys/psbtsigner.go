package walletkeys

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/btcswap/intermediary/pkg/payout"
)

// PSBTSigner implements pkg/payout.Signer directly over the intermediary's
// own HD-derived Bitcoin key: the standalone-wallet alternative to routing
// payout signing through an LND node (pkg/lightning.PSBTSigner) when no
// Lightning node is configured for this direction.
type PSBTSigner struct {
	signer *Signer
}

// NewPSBTSigner wraps an already-derived Signer.
func NewPSBTSigner(signer *Signer) *PSBTSigner {
	return &PSBTSigner{signer: signer}
}

// SignPSBT signs every input that carries a WitnessUtxo with the wrapped key,
// as a P2WPKH spend (the input's script is not checked against the key), and
// returns the partially-signed PSBT bytes, matching pkg/payout.Signer.
func (p *PSBTSigner) SignPSBT(ctx context.Context, packetBytes []byte) ([]byte, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(packetBytes), false)
	if err != nil {
		return nil, fmt.Errorf("walletkeys: parse psbt: %w", err)
	}

	priv, err := p.signer.source.GetPrivateKey(p.signer.path)
	if err != nil {
		return nil, err
	}
	pubKey := priv.PubKey().SerializeCompressed()
	pubKeyHash := btcutil.Hash160(pubKey)
	subScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, fmt.Errorf("walletkeys: build subscript: %w", err)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i := range packet.Inputs {
		if packet.Inputs[i].WitnessUtxo != nil {
			fetcher.AddPrevOut(packet.UnsignedTx.TxIn[i].PreviousOutPoint, packet.Inputs[i].WitnessUtxo)
		}
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if in.WitnessUtxo == nil {
			continue
		}
		hash, err := txscript.CalcWitnessSigHash(subScript, sigHashes, txscript.SigHashAll, packet.UnsignedTx, i, in.WitnessUtxo.Value)
		if err != nil {
			return nil, fmt.Errorf("walletkeys: sighash input %d: %w", i, err)
		}
		sig, err := p.signer.Sign(hash, p.signer.addr)
		if err != nil {
			return nil, fmt.Errorf("walletkeys: sign input %d: %w", i, err)
		}
		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: append(sig, byte(txscript.SigHashAll)),
		})
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("walletkeys: serialize signed psbt: %w", err)
	}
	return buf.Bytes(), nil
}

var _ payout.Signer = (*PSBTSigner)(nil)
