// Package walletkeys provides the intermediary's own BTC signing-key
// management: BIP39 mnemonic to BIP32 HD derivation for the cases where the
// payout PSBT is not routed entirely through the Lightning node's signer
// (anchor bumps, change outputs, or a pure on-chain deployment with no
// Lightning node configured). Grounded on the teacher's
// MnemonicKeySource/XPubKeySource (src/chainadapter/keysource_impl.go),
// rewritten on btcutil/hdkeychain + go-bip39 since go-bip32 is not part of
// this module's dependency set.
package walletkeys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/btcswap/intermediary/pkg/chainadapter"
)

// MnemonicKeySource implements chainadapter.KeySource over a BIP39 mnemonic,
// deriving keys on demand; the mnemonic itself is never persisted by this
// package.
type MnemonicKeySource struct {
	seed   []byte
	params *chaincfg.Params
}

// NewMnemonicKeySource validates mnemonic and builds a key source. params
// selects the HD key version bytes (mainnet/testnet); pass &chaincfg.MainNetParams
// or &chaincfg.TestNet3Params.
func NewMnemonicKeySource(mnemonic, passphrase string, params *chaincfg.Params) (*MnemonicKeySource, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "invalid BIP39 mnemonic", nil)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return &MnemonicKeySource{seed: seed, params: params}, nil
}

func (m *MnemonicKeySource) Type() chainadapter.KeySourceType {
	return chainadapter.KeySourceMnemonic
}

// GetPublicKey derives the compressed public key at path (BIP44 layout,
// e.g. "m/84'/0'/0'/0/0").
func (m *MnemonicKeySource) GetPublicKey(path string) ([]byte, error) {
	priv, err := m.derive(path)
	if err != nil {
		return nil, err
	}
	pub, err := priv.ECPubKey()
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "failed to derive public key", err)
	}
	return pub.SerializeCompressed(), nil
}

// GetPrivateKey exposes the raw secp256k1 private key at path, for use by a
// Signer implementation only.
func (m *MnemonicKeySource) GetPrivateKey(path string) (*btcec.PrivateKey, error) {
	priv, err := m.derive(path)
	if err != nil {
		return nil, err
	}
	return priv.ECPrivKey()
}

func (m *MnemonicKeySource) derive(path string) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewMaster(m.seed, m.params)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "failed to create master key from seed", err)
	}

	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key := master
	for i, index := range indices {
		key, err = key.Derive(index)
		if err != nil {
			return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath,
				fmt.Sprintf("failed to derive child key at level %d", i), err)
		}
	}
	return key, nil
}

// XPubKeySource implements chainadapter.KeySource over an extended public
// key: watch-only, non-hardened derivation only.
type XPubKeySource struct {
	key *hdkeychain.ExtendedKey
}

func NewXPubKeySource(xpub string, params *chaincfg.Params) (*XPubKeySource, error) {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "invalid extended public key", err)
	}
	if key.IsPrivate() {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "expected public key, got private key", nil)
	}
	return &XPubKeySource{key: key}, nil
}

func (x *XPubKeySource) Type() chainadapter.KeySourceType { return chainadapter.KeySourceXPub }

// GetPublicKey derives along a non-hardened path relative to the xpub
// (e.g. "0/0"), since an xpub cannot derive hardened children.
func (x *XPubKeySource) GetPublicKey(path string) ([]byte, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key := x.key
	for i, index := range indices {
		if index >= hdkeychain.HardenedKeyStart {
			return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "xpub cannot derive hardened paths", nil)
		}
		key, err = key.Derive(index)
		if err != nil {
			return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath,
				fmt.Sprintf("failed to derive child key at level %d", i), err)
		}
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath, "failed to derive public key", err)
	}
	return pub.SerializeCompressed(), nil
}

// parsePath parses a BIP44-style derivation path ("m/44'/0'/0'/0/0" or a
// relative "0/0") into child indices, apostrophe marking hardened.
func parsePath(path string) ([]uint32, error) {
	path = strings.TrimPrefix(path, "m/")
	path = strings.TrimPrefix(path, "m")
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(path, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		hardened := strings.HasSuffix(part, "'")
		if hardened {
			part = part[:len(part)-1]
		}
		num, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidPath,
				fmt.Sprintf("invalid path component: %s", part), err)
		}
		index := uint32(num)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, index)
	}
	return indices, nil
}
