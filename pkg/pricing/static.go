package pricing

import (
	"context"
	"fmt"
	"math/big"
)

// StaticOracle is a fixed-rate stand-in for the pricing oracle spec.md §1
// keeps external ("Out of scope ... consumed via typed interfaces"). It is
// wired by the composition root only until a real price-feed client is
// configured; every rate is parts-per-billion of one BTC sat per smallest
// token unit, matching how a constant-product or peg quote would be
// expressed without floating point.
type StaticOracle struct {
	// SatsPerTokenPPB maps a token identifier to its price in sats per
	// smallest token unit, scaled by 1e9 for integer precision.
	SatsPerTokenPPB map[string]int64
	// NativeValuePPB maps a token identifier to its value in the smart
	// chain's native currency smallest unit, scaled by 1e9.
	NativeValuePPB map[string]int64
}

const ppb = 1_000_000_000

func (o *StaticOracle) rate(token string) (int64, error) {
	rate, ok := o.SatsPerTokenPPB[token]
	if !ok {
		return 0, fmt.Errorf("pricing: no static rate configured for token %q", token)
	}
	return rate, nil
}

// ToToken converts a sats amount into the token's smallest unit.
func (o *StaticOracle) ToToken(ctx context.Context, token string, sats *big.Int) (*big.Int, error) {
	rate, err := o.rate(token)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(sats, big.NewInt(ppb))
	out.Div(out, big.NewInt(rate))
	return out, nil
}

// ToSats converts a token amount into sats.
func (o *StaticOracle) ToSats(ctx context.Context, token string, amount *big.Int) (*big.Int, error) {
	rate, err := o.rate(token)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amount, big.NewInt(rate))
	out.Div(out, big.NewInt(ppb))
	return out, nil
}

// NativeCurrencyValue converts a token amount into the smart chain's native
// currency smallest unit, used by §4.7 step 1's security-deposit formula.
func (o *StaticOracle) NativeCurrencyValue(ctx context.Context, token string, amount *big.Int) (*big.Int, error) {
	rate, ok := o.NativeValuePPB[token]
	if !ok {
		return nil, fmt.Errorf("pricing: no static native-value rate configured for token %q", token)
	}
	out := new(big.Int).Mul(amount, big.NewInt(rate))
	out.Div(out, big.NewInt(ppb))
	return out, nil
}

var _ Oracle = (*StaticOracle)(nil)
