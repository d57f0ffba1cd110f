package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: "1"
bitcoin:
  rpcEndpoint: "http://127.0.0.1:8332"
  rpcUser: "user"
  rpcPassword: "pass"
  network: "regtest"
lightning:
  host: "127.0.0.1:10009"
  tlsCertPath: "/etc/lnd/tls.cert"
  macaroonPath: "/etc/lnd/admin.macaroon"
intermediary:
  mnemonicEnv: "INTERMEDIARY_MNEMONIC"
  changeAddress: "bc1qexamplechange"
  changeType: "p2wpkh"
  depositAddress: "bc1qexampledeposit"
chains:
  evm-main:
    kind: "evm"
    rpcEndpoints: ["https://rpc.example.org"]
    signerKeyPath: "m/44'/60'/0'/0/0"
    intermediaryAddress: "0x00000000000000000000000000000000001234"
    token: "0x00000000000000000000000000000000005678"
fees:
  baseFeeSats: "1000"
  feePpm: 10000
  networkFeeMultiplierPpm: 1100000
  onchainReservedPerChannel: "50000"
  gracePeriodSeconds: 3600
  bitcoinBlocktimeSeconds: 600
  minChainCltv: 144
  sendSafetyFactorPpm: 1200000
  safetyFactorPpm: 1100000
  apyPpm: 50000
watchdog:
  processPastSwapsInterval: 10s
  processBtcTxsInterval: 30s
storage:
  directory: "/var/lib/intermediary"
`

func TestLoadParsesFullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "http://127.0.0.1:8332", cfg.Bitcoin.RPCEndpoint)
	require.Equal(t, "127.0.0.1:10009", cfg.Lightning.Host)
	require.Equal(t, "evm", cfg.Chains["evm-main"].Kind)
	require.Equal(t, int64(10000), cfg.Fees.FeePPM)
	require.Equal(t, "INTERMEDIARY_MNEMONIC", cfg.Intermediary.MnemonicEnv)
	require.Equal(t, "0x00000000000000000000000000000000005678", cfg.Chains["evm-main"].Token)

	base, err := cfg.Fees.BaseFee()
	require.NoError(t, err)
	require.Equal(t, "1000", base.String())
}

func TestAmountBoundsDefaultsWhenUnset(t *testing.T) {
	cfg := FeePolicyConfig{}
	min, max, err := cfg.AmountBounds()
	require.NoError(t, err)
	require.Equal(t, "0", min.String())
	require.Equal(t, totalBitcoinSupplySats.String(), max.String())
}

func TestAmountBoundsParsesConfiguredValues(t *testing.T) {
	cfg := FeePolicyConfig{MinAmountSats: "500", MaxAmountSats: "100000"}
	min, max, err := cfg.AmountBounds()
	require.NoError(t, err)
	require.Equal(t, "500", min.String())
	require.Equal(t, "100000", max.String())
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBaseFeeRejectsInvalidInteger(t *testing.T) {
	cfg := FeePolicyConfig{BaseFeeSats: "not-a-number"}
	_, err := cfg.BaseFee()
	require.Error(t, err)
}
