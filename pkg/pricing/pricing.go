// Package pricing implements the swap-fee and bound arithmetic shared by
// every handler's quote path (§4.5 step 4): base+PPM fee application, its
// exact-in inversion, and the 95%-105% bound re-expression used to reject
// quotes outside the intermediary's configured liquidity window. Grounded
// on the teacher's fee-estimation arithmetic style (src/chainadapter/
// bitcoin/fee.go: plain *big.Int math, no floating point).
package pricing

import (
	"context"
	"math/big"

	"github.com/btcswap/intermediary/pkg/swaperr"
)

// Oracle is the external pricing-oracle collaborator referenced abstractly
// by spec.md §1/§6 ("Out of scope ... pricing oracle"): it converts between
// Bitcoin sats and a smart-chain token's smallest unit, and reports a
// token amount's value in the smart chain's native currency (used by
// §4.7 step 1's security-deposit formula). Handlers depend on this
// interface only; a production deployment wires a concrete price-feed
// client behind it.
type Oracle interface {
	ToToken(ctx context.Context, token string, sats *big.Int) (*big.Int, error)
	ToSats(ctx context.Context, token string, amount *big.Int) (*big.Int, error)
	NativeCurrencyValue(ctx context.Context, token string, amount *big.Int) (*big.Int, error)
}

// PPM is parts-per-million, the unit every proportional fee is expressed in.
const PPMDenominator = 1_000_000

// FeeConfig is the base+proportional fee schedule applied by a handler for
// one swap direction. BaseFee and NetworkFee are both already denominated
// in the output token.
type FeeConfig struct {
	BaseFee   *big.Int
	FeePPM    *big.Int // proportional component, parts per million
	MinAmount *big.Int
	MaxAmount *big.Int
}

// ApplyExactIn computes the output amount for a given input amount:
// amountOut = amountIn*(1-feePPM/1e6) - baseFee - networkFee.
func ApplyExactIn(amountIn *big.Int, cfg FeeConfig, networkFee *big.Int) *big.Int {
	ppmRemainder := new(big.Int).Sub(big.NewInt(PPMDenominator), cfg.FeePPM)
	out := new(big.Int).Mul(amountIn, ppmRemainder)
	out.Div(out, big.NewInt(PPMDenominator))
	out.Sub(out, cfg.BaseFee)
	out.Sub(out, networkFee)
	return out
}

// InvertExactOut inverts ApplyExactIn: given a desired output amount, solve
// for the required input amount. amountIn = (amountOut + baseFee +
// networkFee) * 1e6 / (1e6 - feePPM), rounding up so the fee taken is never
// less than configured.
func InvertExactOut(amountOut *big.Int, cfg FeeConfig, networkFee *big.Int) *big.Int {
	numerator := new(big.Int).Add(amountOut, cfg.BaseFee)
	numerator.Add(numerator, networkFee)
	numerator.Mul(numerator, big.NewInt(PPMDenominator))

	ppmRemainder := new(big.Int).Sub(big.NewInt(PPMDenominator), cfg.FeePPM)

	amountIn, rem := new(big.Int).QuoRem(numerator, ppmRemainder, new(big.Int))
	if rem.Sign() != 0 {
		amountIn.Add(amountIn, big.NewInt(1))
	}
	return amountIn
}

// CheckBounds rejects an input-token amount outside 95%-105% of the
// configured min/max, re-expressing the bound in the input token by running
// it back through InvertExactOut so the client sees a bound it can act on.
func CheckBounds(amountIn *big.Int, cfg FeeConfig, networkFee *big.Int) *swaperr.Error {
	minIn := InvertExactOut(scalePercent(cfg.MinAmount, 95), cfg, networkFee)
	maxIn := InvertExactOut(scalePercent(cfg.MaxAmount, 105), cfg, networkFee)

	if amountIn.Cmp(minIn) < 0 || amountIn.Cmp(maxIn) > 0 {
		return swaperr.OutOfBounds(minIn.String(), maxIn.String())
	}
	return nil
}

func scalePercent(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// NetworkFee scales a raw fee estimate (e.g. sats for a coin-selected
// payout) by networkFeeMultiplierPPM, the safety margin applied on top of
// the estimator's reported rate (§4.5 step 5).
func NetworkFee(rawFee *big.Int, networkFeeMultiplierPPM *big.Int) *big.Int {
	out := new(big.Int).Mul(rawFee, networkFeeMultiplierPPM)
	return out.Div(out, big.NewInt(PPMDenominator))
}
