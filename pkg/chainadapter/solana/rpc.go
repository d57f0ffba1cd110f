// Package solana - JSON-RPC helper functions for the Solana adapter
package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/chainadapter/rpc"
	solanago "github.com/gagliardetto/solana-go"
)

// RPCHelper wraps the generic chainadapter/rpc.RPCClient with Solana's
// JSON-RPC method names, the same split the ethereum package uses: RPCClient
// is chain-agnostic transport, RPCHelper is the chain-specific vocabulary on
// top of it.
type RPCHelper struct {
	client rpc.RPCClient
}

func NewRPCHelper(client rpc.RPCClient) *RPCHelper {
	return &RPCHelper{client: client}
}

func (r *RPCHelper) GetLatestBlockhash(ctx context.Context) (solanago.Hash, error) {
	result, err := r.client.Call(ctx, "getLatestBlockhash", []interface{}{
		map[string]string{"commitment": "finalized"},
	})
	if err != nil {
		return solanago.Hash{}, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getLatestBlockhash failed", nil, err)
	}
	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return solanago.Hash{}, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse blockhash", err)
	}
	hash, err := solanago.HashFromBase58(resp.Value.Blockhash)
	if err != nil {
		return solanago.Hash{}, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "invalid blockhash", err)
	}
	return hash, nil
}

func (r *RPCHelper) GetSlot(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "getSlot", []interface{}{map[string]string{"commitment": "confirmed"}})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getSlot failed", nil, err)
	}
	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse slot", err)
	}
	return slot, nil
}

func (r *RPCHelper) GetAccountData(ctx context.Context, pubkey solanago.PublicKey) ([]byte, error) {
	result, err := r.client.Call(ctx, "getAccountInfo", []interface{}{
		pubkey.String(),
		map[string]string{"encoding": "base64", "commitment": "confirmed"},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getAccountInfo failed", nil, err)
	}
	var resp struct {
		Value *struct {
			Data [2]string `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse account info", err)
	}
	if resp.Value == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(resp.Value.Data[0])
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode account data", err)
	}
	return data, nil
}

func (r *RPCHelper) SendTransaction(ctx context.Context, raw []byte) (string, error) {
	result, err := r.client.Call(ctx, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]string{"encoding": "base64"},
	})
	if err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "sendTransaction failed", nil, err)
	}
	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse signature", err)
	}
	return sig, nil
}

// SignatureStatus is the subset of getSignatureStatuses' result the adapter
// needs to classify a submitted transaction.
type SignatureStatus struct {
	Slot              uint64  `json:"slot"`
	Confirmations     *uint64 `json:"confirmations"`
	ConfirmationStatus string `json:"confirmationStatus"`
	Err               interface{} `json:"err"`
}

func (r *RPCHelper) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	result, err := r.client.Call(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getSignatureStatuses failed", nil, err)
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse signature statuses", err)
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	return resp.Value[0], nil
}

func (r *RPCHelper) GetRecentPrioritizationFee(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "getRecentPrioritizationFees", []interface{}{})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getRecentPrioritizationFees failed", nil, err)
	}
	var entries []struct {
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := json.Unmarshal(result, &entries); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse prioritization fees", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	var sum uint64
	for _, e := range entries {
		sum += e.PrioritizationFee
	}
	return sum / uint64(len(entries)), nil
}

func (r *RPCHelper) GetLogs(ctx context.Context, programID solanago.PublicKey, startSlot uint64) ([]TxLog, error) {
	result, err := r.client.Call(ctx, "getSignaturesForAddress", []interface{}{
		programID.String(),
		map[string]interface{}{"minContextSlot": startSlot},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getSignaturesForAddress failed", nil, err)
	}
	var sigs []struct {
		Signature string `json:"signature"`
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Err       interface{} `json:"err"`
	}
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse signatures", err)
	}
	logs := make([]TxLog, 0, len(sigs))
	for _, s := range sigs {
		if s.Err != nil {
			continue
		}
		logs = append(logs, TxLog{Signature: s.Signature, Slot: s.Slot})
	}
	return logs, nil
}

// TxLog is one getSignaturesForAddress entry the event poller follows up on
// with getTransaction to extract program log lines.
type TxLog struct {
	Signature string
	Slot      uint64
}

func (r *RPCHelper) GetTransactionLogMessages(ctx context.Context, signature string) ([]string, error) {
	result, err := r.client.Call(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getTransaction failed", nil, err)
	}
	var resp struct {
		Meta struct {
			LogMessages []string `json:"logMessages"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse transaction", err)
	}
	return resp.Meta.LogMessages, nil
}
