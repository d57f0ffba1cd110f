// Package bitcoinrpc wraps Bitcoin Core's JSON-RPC surface behind the
// narrow set of calls this intermediary needs: coin selection inputs, fee
// estimation, broadcast, confirmation polling, and raw headers for the
// relay synchronizer. Grounded on the teacher's RPCHelper
// (src/chainadapter/bitcoin/rpc.go), reusing its exact RPC-call/parse/
// error-classify shape and the shared rpc.RPCClient transport
// (src/chainadapter/rpc/client.go).
package bitcoinrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/chainadapter/rpc"
	"github.com/btcswap/intermediary/pkg/spv"
)

// UTXO is one spendable output as reported by listunspent.
type UTXO struct {
	TxID          string
	Vout          uint32
	AmountSats    int64
	ScriptPubKey  []byte
	Address       string
	Confirmations int
}

type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int     `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

type estimateSmartFeeResult struct {
	FeeRate float64  `json:"feerate"`
	Blocks  int      `json:"blocks"`
	Errors  []string `json:"errors,omitempty"`
}

type blockHeaderResult struct {
	Hash          string `json:"hash"`
	VersionHex    string `json:"versionHex"`
	Version       int32  `json:"version"`
	MerkleRoot    string `json:"merkleroot"`
	Time          uint32 `json:"time"`
	Bits          string `json:"bits"`
	Nonce         uint32 `json:"nonce"`
	PreviousHash  string `json:"previousblockhash"`
}

// Client is the Bitcoin RPC surface used throughout the payout engine and
// relay synchronizer.
type Client struct {
	rpc rpc.RPCClient
}

func New(client rpc.RPCClient) *Client {
	return &Client{rpc: client}
}

// ListUnspent returns spendable outputs controlled by address.
func (c *Client) ListUnspent(ctx context.Context, address string) ([]UTXO, error) {
	raw, err := c.rpc.Call(ctx, "listunspent", []interface{}{0, 9999999, []string{address}})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("listunspent failed: %s", err), nil, err)
	}

	var results []listUnspentResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse listunspent result", err)
	}

	utxos := make([]UTXO, 0, len(results))
	for _, r := range results {
		if !r.Spendable {
			continue
		}
		script, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			continue
		}
		utxos = append(utxos, UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			AmountSats:    int64(r.Amount * 1e8),
			ScriptPubKey:  script,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		})
	}
	return utxos, nil
}

// EstimateSmartFee estimates a sat/vB rate for confirmation within
// targetBlocks, floored at 1.
func (c *Client) EstimateSmartFee(ctx context.Context, targetBlocks int) (int64, error) {
	raw, err := c.rpc.Call(ctx, "estimatesmartfee", []interface{}{targetBlocks})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("estimatesmartfee failed: %s", err), nil, err)
	}

	var result estimateSmartFeeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse estimatesmartfee result", err)
	}
	if len(result.Errors) > 0 {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("estimatesmartfee returned errors: %v", result.Errors), nil, nil)
	}

	satPerVByte := int64(result.FeeRate * 1e8 / 1000)
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	return satPerVByte, nil
}

// GetBlockCount returns the current chain tip height.
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	raw, err := c.rpc.Call(ctx, "getblockcount", nil)
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblockcount failed", nil, err)
	}
	var height int64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getblockcount result", err)
	}
	return uint32(height), nil
}

// TipHeight implements relaysync.BitcoinHeaderSource.
func (c *Client) TipHeight(ctx context.Context) (uint32, error) { return c.GetBlockCount(ctx) }

// GetBlockHash resolves a height to its block hash.
func (c *Client) GetBlockHash(ctx context.Context, height uint32) (string, error) {
	raw, err := c.rpc.Call(ctx, "getblockhash", []interface{}{height})
	if err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblockhash failed", nil, err)
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getblockhash result", err)
	}
	return hash, nil
}

// HeaderAt fetches the single header at height. Implements
// relaysync.BitcoinHeaderSource.
func (c *Client) HeaderAt(ctx context.Context, height uint32) (spv.Header, error) {
	hash, err := c.GetBlockHash(ctx, height)
	if err != nil {
		return spv.Header{}, err
	}
	return c.getBlockHeader(ctx, hash)
}

// HeadersFrom fetches headers for [fromHeight, toHeight] inclusive.
// Implements relaysync.BitcoinHeaderSource.
func (c *Client) HeadersFrom(ctx context.Context, fromHeight, toHeight uint32) ([]spv.Header, error) {
	if toHeight < fromHeight {
		return nil, nil
	}
	headers := make([]spv.Header, 0, toHeight-fromHeight+1)
	for h := fromHeight; h <= toHeight; h++ {
		header, err := c.HeaderAt(ctx, h)
		if err != nil {
			return nil, err
		}
		headers = append(headers, header)
	}
	return headers, nil
}

func (c *Client) getBlockHeader(ctx context.Context, blockHash string) (spv.Header, error) {
	raw, err := c.rpc.Call(ctx, "getblockheader", []interface{}{blockHash, true})
	if err != nil {
		return spv.Header{}, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblockheader failed", nil, err)
	}

	var result blockHeaderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return spv.Header{}, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getblockheader result", err)
	}

	merkle, err := decodeReversedHex32(result.MerkleRoot)
	if err != nil {
		return spv.Header{}, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "invalid merkleroot", err)
	}
	var prev [32]byte
	if result.PreviousHash != "" {
		prev, err = decodeReversedHex32(result.PreviousHash)
		if err != nil {
			return spv.Header{}, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "invalid previousblockhash", err)
		}
	}

	var bits uint32
	if _, err := fmt.Sscanf(result.Bits, "%x", &bits); err != nil {
		return spv.Header{}, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "invalid bits", err)
	}

	return spv.Header{
		Version:    result.Version,
		PrevBlock:  chainhash.Hash(prev),
		MerkleRoot: chainhash.Hash(merkle),
		Timestamp:  result.Time,
		Bits:       bits,
		Nonce:      result.Nonce,
	}, nil
}

// decodeReversedHex32 decodes Bitcoin RPC's display-order (big-endian) hex
// hash strings back into the internal little-endian 32-byte representation.
func decodeReversedHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("bitcoinrpc: expected 32 bytes, got %d", len(b))
	}
	for i := 0; i < 32; i++ {
		out[i] = b[31-i]
	}
	return out, nil
}

// SendRawTransaction broadcasts a signed transaction. An
// already-broadcast/duplicate response is treated as success, matching the
// payout engine's broadcast-retry idempotency requirement (§9 "coroutine
// control flow": a crash between broadcast and state update must be safe
// to replay).
func (c *Client) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	raw, err := c.rpc.Call(ctx, "sendrawtransaction", []interface{}{txHex})
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "already in block chain") || strings.Contains(msg, "txn-already-known") {
			var txHash string
			if jsonErr := json.Unmarshal(raw, &txHash); jsonErr == nil && txHash != "" {
				return txHash, nil
			}
			return "", chainadapter.NewRetryableError("ERR_TX_ALREADY_BROADCAST", "transaction already broadcast", nil, err)
		}
		return "", chainadapter.NewRetryableError("ERR_BROADCAST_FAILED", fmt.Sprintf("sendrawtransaction failed: %s", msg), nil, err)
	}

	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse sendrawtransaction result", err)
	}
	return txHash, nil
}

// RawTxResult carries the fields the confirmation watchdog needs from
// gettransaction/getrawtransaction.
type RawTxResult struct {
	Confirmations int
	BlockHeight   uint32
	RawHex        string
}

// GetRawTransactionVerbose fetches confirmations and raw bytes for a txid,
// used by the ToBtc confirmation watchdog (§4.5) to decide when a payout
// has matured.
func (c *Client) GetRawTransactionVerbose(ctx context.Context, txid string) (*RawTxResult, error) {
	raw, err := c.rpc.Call(ctx, "getrawtransaction", []interface{}{txid, true})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("getrawtransaction failed: %s", err), nil, err)
	}

	var result struct {
		Hex           string `json:"hex"`
		Confirmations int    `json:"confirmations"`
		BlockHeight   uint32 `json:"blockheight"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getrawtransaction result", err)
	}

	return &RawTxResult{Confirmations: result.Confirmations, BlockHeight: result.BlockHeight, RawHex: result.Hex}, nil
}

// GetBlockTxids returns the ordered txid list of the block at height, the
// input the FromBtc handler's Merkle-proof builder needs to locate a
// payment's sibling path (§4.8 claim proof).
func (c *Client) GetBlockTxids(ctx context.Context, height uint32) ([]string, error) {
	hash, err := c.GetBlockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	raw, err := c.rpc.Call(ctx, "getblock", []interface{}{hash, 1})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblock failed", nil, err)
	}
	var result struct {
		Tx []string `json:"tx"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getblock result", err)
	}
	return result.Tx, nil
}
