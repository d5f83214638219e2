package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(1_050, "KES") // 10.50 KES
	assert.Equal(t, "10.5", m.ToDecimal().String())
	assert.Equal(t, "10.50 KES", m.String())
}

func TestFromDecimal(t *testing.T) {
	assert.Equal(t, int64(1_050), FromDecimal(decimal.RequireFromString("10.50")))
	assert.Equal(t, int64(1_051), FromDecimal(decimal.RequireFromString("10.505")))
}

func TestApplyRateRoundsHalfUp(t *testing.T) {
	rate := decimal.RequireFromString("0.05")
	assert.Equal(t, int64(45), ApplyRate(900, rate))
	assert.Equal(t, int64(1), ApplyRate(10, rate))  // 0.5
	assert.Equal(t, int64(0), ApplyRate(9, rate))   // 0.45
	assert.Equal(t, int64(50), ApplyRate(999, rate)) // 49.95
}

func TestParseRate(t *testing.T) {
	rate, err := ParseRate("0.05")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.05")))

	_, err = ParseRate("1.5")
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = ParseRate("-0.1")
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = ParseRate("five percent")
	require.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "0712345678", want: "254712345678", ok: true},
		{in: "+254712345678", want: "254712345678", ok: true},
		{in: "254112345678", want: "254112345678", ok: true},
		{in: "712 345 678", want: "254712345678", ok: true},
		{in: "0812345678", ok: false},
		{in: "25471234567", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizePhone(tc.in)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
