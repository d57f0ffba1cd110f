package swap

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/btcswap/intermediary/pkg/chainadapter"
)

// wireRecord mirrors Record for JSON persistence. The reentrancy Lock is
// process-memory only (per §3 Lifecycle: StoredHeader is ephemeral; Lock is
// too) and is never serialized — a freshly loaded Record always starts
// unlocked, which is safe because nothing can hold a lock across a process
// restart anyway.
type wireRecord struct {
	ChainID       string            `json:"chainId"`
	PaymentHash   string            `json:"paymentHash"`
	Sequence      uint64            `json:"sequence,string"`
	Direction     Direction         `json:"direction"`
	State         State             `json:"state"`
	ContractData  *wireSwapData     `json:"contractData,omitempty"`
	Fees          wireFees          `json:"fees"`
	Authorization *wireAuthorization `json:"authorization,omitempty"`
	TxIDs         TxIDs             `json:"txIds"`
	Metadata      Metadata          `json:"metadata"`
	Payout        *wirePayout       `json:"payout,omitempty"`
	DepositVout   uint32            `json:"depositVout"`
}

type wirePayout struct {
	Address      string `json:"address"`
	OutputScript string `json:"outputScript"`
}

type wireSwapData struct {
	Kind            chainadapter.SwapKind `json:"kind"`
	Offerer         string                `json:"offerer"`
	Claimer         string                `json:"claimer"`
	Token           string                `json:"token"`
	Amount          string                `json:"amount"`
	PaymentHash     string                `json:"paymentHash"`
	Sequence        uint64                `json:"sequence,string"`
	Expiry          int64                 `json:"expiry"`
	Confirmations   uint32                `json:"confirmations"`
	EscrowNonce     uint64                `json:"escrowNonce,string"`
	PayIn           bool                  `json:"payIn"`
	PayOut          bool                  `json:"payOut"`
	SecurityDeposit string                `json:"securityDeposit"`
	ClaimerBounty   string                `json:"claimerBounty"`
}

type wireFees struct {
	SwapFeeBTC      string `json:"swapFeeBtc"`
	SwapFeeToken    string `json:"swapFeeToken"`
	NetworkFeeSats  string `json:"networkFeeSats"`
	NetworkFeeToken string `json:"networkFeeToken"`
	MaxSatsPerVByte string `json:"maxSatsPerVByte"`
}

type wireAuthorization struct {
	Prefix    string `json:"prefix"`
	Timeout   int64  `json:"timeout"`
	Signature string `json:"signature"`
}

func bigToStr(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func strToBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

// MarshalJSON implements canonical JSON persistence for crash-consistent
// state (§6): persisted before any externally observable side effect.
func (r *Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		ChainID:     r.ChainID,
		PaymentHash: hex.EncodeToString(r.PaymentHash[:]),
		Sequence:    r.Sequence,
		Direction:   r.Direction,
		State:       r.State,
		Fees: wireFees{
			SwapFeeBTC:      bigToStr(r.Fees.SwapFeeBTC),
			SwapFeeToken:    bigToStr(r.Fees.SwapFeeToken),
			NetworkFeeSats:  bigToStr(r.Fees.NetworkFeeSats),
			NetworkFeeToken: bigToStr(r.Fees.NetworkFeeToken),
			MaxSatsPerVByte: bigToStr(r.Fees.MaxSatsPerVByte),
		},
		TxIDs:       r.TxIDs,
		Metadata:    r.Metadata,
		DepositVout: r.DepositVout,
	}

	if r.Payout != nil {
		w.Payout = &wirePayout{
			Address:      r.Payout.Address,
			OutputScript: hex.EncodeToString(r.Payout.OutputScript),
		}
	}

	if r.ContractData != nil {
		d := r.ContractData
		w.ContractData = &wireSwapData{
			Kind:            d.Kind,
			Offerer:         d.Offerer,
			Claimer:         d.Claimer,
			Token:           d.Token,
			Amount:          bigToStr(d.Amount),
			PaymentHash:     hex.EncodeToString(d.PaymentHash[:]),
			Sequence:        d.Sequence,
			Expiry:          d.Expiry,
			Confirmations:   d.Confirmations,
			EscrowNonce:     d.EscrowNonce,
			PayIn:           d.PayIn,
			PayOut:          d.PayOut,
			SecurityDeposit: bigToStr(d.SecurityDeposit),
			ClaimerBounty:   bigToStr(d.ClaimerBounty),
		}
	}

	if r.Authorization != nil {
		w.Authorization = &wireAuthorization{
			Prefix:    r.Authorization.Prefix,
			Timeout:   r.Authorization.Timeout,
			Signature: hex.EncodeToString(r.Authorization.Signature),
		}
	}

	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON. The record's lock starts
// zero-valued (unlocked), as documented on wireRecord.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ph, err := hex.DecodeString(w.PaymentHash)
	if err != nil {
		return err
	}
	copy(r.PaymentHash[:], ph)

	r.ChainID = w.ChainID
	r.Sequence = w.Sequence
	r.Direction = w.Direction
	r.State = w.State
	r.TxIDs = w.TxIDs
	r.Metadata = w.Metadata
	r.DepositVout = w.DepositVout
	r.Fees = Fees{
		SwapFeeBTC:      strToBig(w.Fees.SwapFeeBTC),
		SwapFeeToken:    strToBig(w.Fees.SwapFeeToken),
		NetworkFeeSats:  strToBig(w.Fees.NetworkFeeSats),
		NetworkFeeToken: strToBig(w.Fees.NetworkFeeToken),
		MaxSatsPerVByte: strToBig(w.Fees.MaxSatsPerVByte),
	}

	if w.ContractData != nil {
		d := w.ContractData
		cdHash, err := hex.DecodeString(d.PaymentHash)
		if err != nil {
			return err
		}
		cd := &chainadapter.SwapData{
			Kind:            d.Kind,
			Offerer:         d.Offerer,
			Claimer:         d.Claimer,
			Token:           d.Token,
			Amount:          strToBig(d.Amount),
			Sequence:        d.Sequence,
			Expiry:          d.Expiry,
			Confirmations:   d.Confirmations,
			EscrowNonce:     d.EscrowNonce,
			PayIn:           d.PayIn,
			PayOut:          d.PayOut,
			SecurityDeposit: strToBig(d.SecurityDeposit),
			ClaimerBounty:   strToBig(d.ClaimerBounty),
		}
		copy(cd.PaymentHash[:], cdHash)
		r.ContractData = cd
	}

	if w.Authorization != nil {
		sig, err := hex.DecodeString(w.Authorization.Signature)
		if err != nil {
			return err
		}
		r.Authorization = &chainadapter.Authorization{
			Prefix:    w.Authorization.Prefix,
			Timeout:   w.Authorization.Timeout,
			Signature: sig,
		}
	}

	if w.Payout != nil {
		script, err := hex.DecodeString(w.Payout.OutputScript)
		if err != nil {
			return err
		}
		r.Payout = &PayoutInfo{Address: w.Payout.Address, OutputScript: script}
	}

	return nil
}
