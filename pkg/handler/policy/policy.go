// Package policy centralizes the fee-policy constants and expiry-timing
// formulas §4.5-§4.8 reference by name (grace period, bitcoin block time,
// minimum chain CLTV, safety factors), so all four direction handlers
// derive commitment expiries and security deposits the same way instead of
// each re-deriving the arithmetic. Grounded on the teacher's plain-*big.Int
// fee arithmetic convention (src/chainadapter/bitcoin/fee.go), reused here
// for PPM-scaled timing math instead of currency math.
package policy

import (
	"math/big"
	"time"

	"github.com/btcswap/intermediary/internal/config"
)

// Policy is the parsed, ready-to-use form of config.FeePolicyConfig.
type Policy struct {
	BaseFeeSats               *big.Int
	FeePPM                    *big.Int
	NetworkFeeMultiplierPPM   *big.Int
	OnchainReservedPerChannel *big.Int

	GracePeriod      time.Duration
	BitcoinBlocktime time.Duration
	MinChainCltv     int64
	SendSafetyFactor int64 // parts-per-million multiplier, e.g. 1_100_000 == 1.1x
	SafetyFactor     int64 // parts-per-million multiplier
	APYPPM           int64
}

const ppmDenominator = 1_000_000

// FromConfig parses a FeePolicyConfig's string-encoded big.Int fields into a
// ready-to-use Policy.
func FromConfig(c config.FeePolicyConfig) (*Policy, error) {
	baseFee, err := c.BaseFee()
	if err != nil {
		return nil, err
	}
	reserved, err := c.OnchainReserved()
	if err != nil {
		return nil, err
	}
	return &Policy{
		BaseFeeSats:               baseFee,
		FeePPM:                    big.NewInt(c.FeePPM),
		NetworkFeeMultiplierPPM:   big.NewInt(c.NetworkFeeMultiplierPPM),
		OnchainReservedPerChannel: reserved,
		GracePeriod:               time.Duration(c.GracePeriodSeconds) * time.Second,
		BitcoinBlocktime:          time.Duration(c.BitcoinBlocktimeSeconds) * time.Second,
		MinChainCltv:              c.MinChainCltv,
		SendSafetyFactor:          c.SendSafetyFactorPPM,
		SafetyFactor:              c.SafetyFactorPPM,
		APYPPM:                    c.APYPPM,
	}, nil
}

// ToBtcMinRequiredExpiry implements §4.5 step 7's expiry formula:
//
//	now + gracePeriod + bitcoinBlocktime*(minChainCltv+(confs+confTarget)*sendSafetyFactor)*safetyFactor + gracePeriod
//
// The trailing extra grace period gives the counterparty ~1 hour to commit
// after receiving the quote, on top of the safety-scaled settlement window.
func (p *Policy) ToBtcMinRequiredExpiry(now time.Time, confirmations, confirmationTarget uint32) int64 {
	scaledBlocks := int64(confirmations+confirmationTarget) * p.SendSafetyFactor / ppmDenominator
	innerBlocks := p.MinChainCltv + scaledBlocks
	blockSeconds := int64(p.BitcoinBlocktime / time.Second)
	settlementSeconds := blockSeconds * innerBlocks * p.SafetyFactor / ppmDenominator
	graceSeconds := int64(p.GracePeriod / time.Second)
	return now.Unix() + graceSeconds + settlementSeconds + graceSeconds
}

// FromBtcLnExpiry implements §4.7 step 2's expiry formula:
//
//	minCltv * bitcoinBlocktime / safetyFactor - gracePeriod
func (p *Policy) FromBtcLnExpiry(now time.Time, minCltvBlocks int64) int64 {
	blockSeconds := int64(p.BitcoinBlocktime / time.Second)
	raw := minCltvBlocks * blockSeconds * ppmDenominator / p.SafetyFactor
	graceSeconds := int64(p.GracePeriod / time.Second)
	return now.Unix() + raw - graceSeconds
}

// SecurityDeposit implements §4.7 step 1's formula:
//
//	baseRefundFee*2 + valueInNativeCurrency * APYppm * expiryTimeout / secondsPerYear
func (p *Policy) SecurityDeposit(baseRefundFee, valueInNativeCurrency *big.Int, expiryTimeout time.Duration) *big.Int {
	const secondsPerYear = 365 * 24 * 3600

	out := new(big.Int).Mul(baseRefundFee, big.NewInt(2))

	apyComponent := new(big.Int).Mul(valueInNativeCurrency, big.NewInt(p.APYPPM))
	apyComponent.Mul(apyComponent, big.NewInt(int64(expiryTimeout/time.Second)))
	apyComponent.Div(apyComponent, big.NewInt(ppmDenominator*secondsPerYear))

	return out.Add(out, apyComponent)
}

// NonceTooHigh implements §4.5 step 1's monotonicity guard: the nonce's top
// 40 bits, interpreted as a big-endian unsigned integer, must not exceed
// now (seconds) minus the 500-million-second reservation band (§9 Open
// Questions: clients are free to derive the low 24 bits randomly and the
// high 40 bits from their own clock; only the ceiling is enforced, not a
// specific derivation).
func NonceTooHigh(nonce uint64, now time.Time) bool {
	const reservationBand = 500_000_000
	top40 := nonce >> 24
	ceiling := now.Unix() - reservationBand
	if ceiling < 0 {
		return true
	}
	return int64(top40) > ceiling
}
