package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	v, err := ToMinorUnits("12.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "12500000", v.String())

	v, err = ToMinorUnits("1000", 18)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", v.String())

	_, err = ToMinorUnits("0.0000001", 6)
	require.ErrorIs(t, err, ErrTooManyDecimal)

	_, err = ToMinorUnits("-1", 6)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ToMinorUnits("abc", 6)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFromMinorUnits(t *testing.T) {
	assert.Equal(t, "12.5", FromMinorUnits(sdkmath.NewInt(12_500_000), 6))
	assert.Equal(t, "0.000001", FromMinorUnits(sdkmath.NewInt(1), 6))
	assert.Equal(t, "0", FromMinorUnits(sdkmath.Int{}, 6))
}

func TestParseMinorUnits(t *testing.T) {
	v, err := ParseMinorUnits("")
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = ParseMinorUnits("-5")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseMinorUnits("1.5")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa1"), addr)

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("TXYZ")
	require.ErrorIs(t, err, ErrInvalidAddress)

	assert.Equal(t, "", NormalizeAddress("nope"))
}
