package walletkeys

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestMnemonicKeySourceDerivesDeterministically(t *testing.T) {
	src, err := NewMnemonicKeySource(testMnemonic, "", &chaincfg.MainNetParams)
	require.NoError(t, err)

	pub1, err := src.GetPublicKey("m/84'/0'/0'/0/0")
	require.NoError(t, err)
	pub2, err := src.GetPublicKey("m/84'/0'/0'/0/0")
	require.NoError(t, err)
	require.Equal(t, pub1, pub2)
	require.Len(t, pub1, 33)

	pub3, err := src.GetPublicKey("m/84'/0'/0'/0/1")
	require.NoError(t, err)
	require.NotEqual(t, pub1, pub3)
}

func TestMnemonicKeySourceRejectsInvalidMnemonic(t *testing.T) {
	_, err := NewMnemonicKeySource("not a real mnemonic phrase at all", "", &chaincfg.MainNetParams)
	require.Error(t, err)
}

func TestSignerSignsWithOwnAddress(t *testing.T) {
	src, err := NewMnemonicKeySource(testMnemonic, "", &chaincfg.MainNetParams)
	require.NoError(t, err)

	signer, err := NewSigner(src, "m/84'/0'/0'/0/0", &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.NotEmpty(t, signer.GetAddress())

	var hash [32]byte
	for i := range hash {
		hash[i] = byte(i)
	}
	sig, err := signer.Sign(hash[:], signer.GetAddress())
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	_, err = signer.Sign(hash[:], "bc1qnotmyaddress0000000000000000000000000")
	require.Error(t, err)
}

func TestXPubKeySourceRejectsHardenedPath(t *testing.T) {
	src, err := NewMnemonicKeySource(testMnemonic, "", &chaincfg.MainNetParams)
	require.NoError(t, err)
	priv, err := src.derive("m/84'/0'/0'")
	require.NoError(t, err)
	neutered, err := priv.Neuter()
	require.NoError(t, err)

	xpub, err := NewXPubKeySource(neutered.String(), &chaincfg.MainNetParams)
	require.NoError(t, err)

	_, err = xpub.GetPublicKey("0'/0")
	require.Error(t, err)

	pub, err := xpub.GetPublicKey("0/0")
	require.NoError(t, err)
	require.Len(t, pub, 33)
}
