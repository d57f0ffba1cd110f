package walletkeys

import (
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcswap/intermediary/pkg/chainadapter"
)

// Signer implements chainadapter.Signer over a single HD-derived BTC key,
// signing raw message hashes (e.g. a PSBT's sighash) with ECDSA.
type Signer struct {
	source *MnemonicKeySource
	path   string
	params *chaincfg.Params
	addr   string
}

// NewSigner derives the key at path once and resolves its P2WPKH address,
// matching the native-segwit addresses the payout engine builds against.
func NewSigner(source *MnemonicKeySource, path string, params *chaincfg.Params) (*Signer, error) {
	priv, err := source.GetPrivateKey(path)
	if err != nil {
		return nil, err
	}
	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "failed to derive signer address", err)
	}
	return &Signer{source: source, path: path, params: params, addr: addr.EncodeAddress()}, nil
}

func (s *Signer) GetAddress() string { return s.addr }

// Sign verifies address matches this signer's own address, then returns a
// DER-encoded ECDSA signature over payload (expected to already be a
// 32-byte sighash).
func (s *Signer) Sign(payload []byte, address string) ([]byte, error) {
	if address != "" && address != s.addr {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "signer does not control requested address", nil)
	}
	priv, err := s.source.GetPrivateKey(s.path)
	if err != nil {
		return nil, err
	}
	sig := ecdsa.Sign(priv, payload)
	return sig.Serialize(), nil
}
