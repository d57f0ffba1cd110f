package payout

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcswap/intermediary/pkg/bitcoinrpc"
)

// Signer abstracts "the Lightning node's PSBT signer" (§4.5 step 2): in
// production this is LND's walletrpc.FinalizePsbt/SignPsbt over the same
// wallet that funds anchor-channel bumps, so payout UTXOs and channel
// reserves are drawn from one ledger. Tests substitute a key-holding fake.
type Signer interface {
	SignPSBT(ctx context.Context, packet []byte) (signed []byte, err error)
}

// Request describes one payout to build, fee-police, sign, and broadcast.
type Request struct {
	Nonce            uint64
	PayoutAddress    string
	PayoutSats       int64
	ChangeAddress    string
	AvailableUTXOs   []bitcoinrpc.UTXO
	FeeRateSatsPerVB int64 // the handler's re-quoted current network fee rate
	MaxSatsPerVbyte  int64 // the quote-time stored satsPerVbyte ceiling (fee police)
	ChangeType       ChangeType
}

// Result is a built-and-signed payout ready to broadcast.
type Result struct {
	RawTxHex    string
	TxID        string
	RealizedFee int64
}

// Engine drives coin selection, PSBT construction, fee-bound enforcement,
// signing, and broadcast for one Bitcoin network.
type Engine struct {
	RPC     *bitcoinrpc.Client
	Signer  Signer
	Network *chaincfg.Params
}

// Build performs §4.5 step 2's payout construction: re-run coin selection
// at the current fee rate, enforce the fee police (required rate must not
// exceed the rate quoted at commit time), build the nonce-encoded PSBT,
// and hand it to the signer. It does not broadcast — callers persist the
// resulting txid and realized fee before broadcasting, so a crash between
// signing and broadcast is safe to retry (Broadcast is idempotent via
// bitcoinrpc's already-known handling).
func (e *Engine) Build(ctx context.Context, req Request) (*Result, error) {
	if req.FeeRateSatsPerVB > req.MaxSatsPerVbyte {
		return nil, fmt.Errorf("payout: fee police rejected: required rate %d sat/vB exceeds quoted ceiling %d sat/vB",
			req.FeeRateSatsPerVB, req.MaxSatsPerVbyte)
	}

	numOutputs := 1
	if req.ChangeAddress != "" {
		numOutputs = 2
	}

	selection, err := SelectCoins(req.AvailableUTXOs, req.PayoutSats, req.FeeRateSatsPerVB, numOutputs)
	if err != nil {
		return nil, err
	}

	packet, err := BuildPayoutPSBT(BuildRequest{
		Network:       e.Network,
		Inputs:        selection.Selected,
		PayoutAddress: req.PayoutAddress,
		PayoutSats:    req.PayoutSats,
		ChangeAddress: req.ChangeAddress,
		ChangeSats:    selection.ChangeSats,
		Nonce:         req.Nonce,
	})
	if err != nil {
		return nil, err
	}

	maxFee := MaxAllowedFee(VirtualSize(packet), req.MaxSatsPerVbyte, req.ChangeType)
	if big.NewInt(selection.EstimatedFee).Cmp(maxFee) > 0 {
		return nil, fmt.Errorf("payout: estimated fee %d sats exceeds fee-police ceiling %s sats",
			selection.EstimatedFee, maxFee.String())
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("payout: serialize unsigned psbt: %w", err)
	}

	signedBytes, err := e.Signer.SignPSBT(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("payout: sign psbt: %w", err)
	}

	signedPacket, err := psbtDeserialize(signedBytes)
	if err != nil {
		return nil, err
	}

	finalTx, err := FinalizeAndExtract(signedPacket)
	if err != nil {
		return nil, err
	}

	realizedFee := totalIn(selection.Selected) - totalOut(finalTx)
	if big.NewInt(realizedFee).Cmp(maxFee) > 0 {
		return nil, fmt.Errorf("payout: realized fee %d sats exceeds fee-police ceiling %s sats after signing",
			realizedFee, maxFee.String())
	}

	var txBuf bytes.Buffer
	if err := finalTx.Serialize(&txBuf); err != nil {
		return nil, fmt.Errorf("payout: serialize final tx: %w", err)
	}

	return &Result{
		RawTxHex:    hex.EncodeToString(txBuf.Bytes()),
		TxID:        finalTx.TxHash().String(),
		RealizedFee: realizedFee,
	}, nil
}

// Broadcast submits a built payout. Safe to call repeatedly for the same
// transaction: bitcoinrpc.Client.SendRawTransaction treats an
// already-broadcast response as success.
func (e *Engine) Broadcast(ctx context.Context, result *Result) (string, error) {
	return e.RPC.SendRawTransaction(ctx, result.RawTxHex)
}

func totalIn(utxos []bitcoinrpc.UTXO) int64 {
	var sum int64
	for _, u := range utxos {
		sum += u.AmountSats
	}
	return sum
}

func totalOut(tx *wire.MsgTx) int64 {
	var sum int64
	for _, out := range tx.TxOut {
		sum += out.Value
	}
	return sum
}

func psbtDeserialize(raw []byte) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("payout: parse signed psbt: %w", err)
	}
	return packet, nil
}
