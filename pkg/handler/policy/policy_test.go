package policy

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcswap/intermediary/internal/config"
)

func samplePolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := FromConfig(config.FeePolicyConfig{
		BaseFeeSats:               "1000",
		FeePPM:                    10_000,
		NetworkFeeMultiplierPPM:   1_100_000,
		OnchainReservedPerChannel: "50000",
		GracePeriodSeconds:        3600,
		BitcoinBlocktimeSeconds:   600,
		MinChainCltv:              144,
		SendSafetyFactorPPM:       1_200_000,
		SafetyFactorPPM:           1_100_000,
		APYPPM:                    50_000,
	})
	require.NoError(t, err)
	return p
}

func TestFromConfigRejectsInvalidBaseFee(t *testing.T) {
	_, err := FromConfig(config.FeePolicyConfig{BaseFeeSats: "not-a-number"})
	require.Error(t, err)
}

func TestFromConfigParsesAllFields(t *testing.T) {
	p := samplePolicy(t)
	require.Equal(t, "1000", p.BaseFeeSats.String())
	require.Equal(t, "50000", p.OnchainReservedPerChannel.String())
	require.Equal(t, time.Hour, p.GracePeriod)
	require.Equal(t, 10*time.Minute, p.BitcoinBlocktime)
	require.Equal(t, int64(144), p.MinChainCltv)
}

func TestToBtcMinRequiredExpiryGrowsWithConfirmations(t *testing.T) {
	p := samplePolicy(t)
	now := time.Unix(1_700_000_000, 0)
	shallow := p.ToBtcMinRequiredExpiry(now, 1, 1)
	deep := p.ToBtcMinRequiredExpiry(now, 6, 6)
	require.Greater(t, deep, shallow)
	require.Greater(t, shallow, now.Unix())
}

func TestFromBtcLnExpirySubtractsGracePeriod(t *testing.T) {
	p := samplePolicy(t)
	now := time.Unix(1_700_000_000, 0)
	withoutGrace := p.FromBtcLnExpiry(now, 0)
	require.Equal(t, now.Unix()-int64(p.GracePeriod/time.Second), withoutGrace)

	withCltv := p.FromBtcLnExpiry(now, 144)
	require.Greater(t, withCltv, withoutGrace)
}

func TestSecurityDepositCoversDoubleRefundFeeFloor(t *testing.T) {
	p := samplePolicy(t)
	deposit := p.SecurityDeposit(big.NewInt(1000), big.NewInt(0), time.Hour)
	require.Equal(t, int64(2000), deposit.Int64())
}

func TestSecurityDepositScalesWithValueAndExpiry(t *testing.T) {
	p := samplePolicy(t)
	short := p.SecurityDeposit(big.NewInt(1000), big.NewInt(1_000_000_000), time.Hour)
	long := p.SecurityDeposit(big.NewInt(1000), big.NewInt(1_000_000_000), 24*time.Hour)
	require.True(t, long.Cmp(short) > 0)
}

func TestNonceTooHighRejectsFutureTimestampedNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	validTop40 := uint64(now.Unix() - 500_000_000 - 1000)
	require.False(t, NonceTooHigh(validTop40<<24, now))

	tooHighTop40 := uint64(now.Unix())
	require.True(t, NonceTooHigh(tooHighTop40<<24, now))
}

func TestNonceTooHighRejectsEverythingBeforeReservationBandExists(t *testing.T) {
	now := time.Unix(100, 0) // far earlier than the 500M-second reservation band
	require.True(t, NonceTooHigh(0, now))
}
