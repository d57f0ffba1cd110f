package payout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaxAllowedFeeIncludesChangeDustHeadroom(t *testing.T) {
	base := MaxAllowedFee(200, 10, ChangeP2WPKH)
	require.Equal(t, int64(2000+31+294), base.Int64())
}

func TestMaxAllowedFeeTaprootChangeCostsMore(t *testing.T) {
	wpkh := MaxAllowedFee(200, 10, ChangeP2WPKH)
	taproot := MaxAllowedFee(200, 10, ChangeP2TR)
	require.True(t, taproot.Cmp(wpkh) > 0)
}
