// Package solana - transaction signing implementation
package solana

import (
	"crypto/ed25519"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Signer implements chainadapter.Signer for Solana using an Ed25519 keypair.
type Signer struct {
	key solanago.PrivateKey
}

// NewSigner constructs a Signer from a base58-encoded Ed25519 keypair (the
// same format the Solana CLI and SDK wallets persist).
func NewSigner(base58Key string) (*Signer, error) {
	key, err := solanago.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("solana: invalid private key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign signs payload (typically a transaction's message bytes) with the
// held Ed25519 key, after verifying `address` matches the key's own public
// key.
func (s *Signer) Sign(payload []byte, address string) ([]byte, error) {
	if address != s.key.PublicKey().String() {
		return nil, fmt.Errorf("solana: address mismatch: signer controls %s, requested %s", s.key.PublicKey(), address)
	}
	sig, err := s.key.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("solana: signing failed: %w", err)
	}
	return sig[:], nil
}

// GetAddress returns the base58-encoded public key controlled by this signer.
func (s *Signer) GetAddress() string {
	return s.key.PublicKey().String()
}

// PublicKey returns the typed Solana public key, used internally when
// signing whole transactions rather than raw payloads.
func (s *Signer) PublicKey() solanago.PublicKey {
	return s.key.PublicKey()
}

func (s *Signer) signerFunc() func(key solanago.PublicKey) *solanago.PrivateKey {
	return func(key solanago.PublicKey) *solanago.PrivateKey {
		if key == s.key.PublicKey() {
			return &s.key
		}
		return nil
	}
}

// VerifySignature verifies an Ed25519 signature over payload against a
// base58-encoded Solana address.
func VerifySignature(payload, signature []byte, address string) (bool, error) {
	pub, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("solana: invalid address: %w", err)
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("solana: signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	return ed25519.Verify(ed25519.PublicKey(pub.Bytes()), payload, signature), nil
}
