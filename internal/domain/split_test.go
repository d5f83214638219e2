package domain

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() SplitPolicy {
	return SplitPolicy{
		CommissionRate: decimal.RequireFromString("0.05"),
		TransferFees:   DefaultTransferFees(),
		Tolerance:      1,
	}
}

func TestComputeSplitSingleItem(t *testing.T) {
	line := Line{ItemID: uuid.New(), SellerID: uuid.New(), UnitPrice: 900, Quantity: 1}

	split, err := testPolicy().Compute([]Line{line}, 1_000, 100, 0)
	require.NoError(t, err)
	require.Len(t, split.Items, 1)

	item := split.Items[0]
	assert.Equal(t, int64(900), item.ItemAmount)
	assert.Equal(t, int64(45), item.PlatformCommission)
	assert.Equal(t, int64(855), item.SellerShare)
	assert.Equal(t, int64(1_000), item.TransferFee)
	assert.Equal(t, int64(0), item.OwedAmount)
	assert.Equal(t, int64(45), item.NetCommission)
	assert.Equal(t, int64(900), split.ItemsTotal)
}

func TestComputeSplitProratesGatewayFeeOverItemsOnly(t *testing.T) {
	a := Line{ItemID: uuid.New(), SellerID: uuid.New(), UnitPrice: 30_000, Quantity: 1}
	b := Line{ItemID: uuid.New(), SellerID: uuid.New(), UnitPrice: 10_000, Quantity: 1}

	split, err := testPolicy().Compute([]Line{a, b}, 45_000, 5_000, 1_000)
	require.NoError(t, err)

	assert.Equal(t, int64(750), split.Items[0].ProratedFee)
	assert.Equal(t, int64(250), split.Items[1].ProratedFee)
	assert.Equal(t, int64(1_500-750), split.Items[0].NetCommission)
	assert.Equal(t, int64(500-250), split.Items[1].NetCommission)
}

func TestComputeSplitSkipsCancelledLines(t *testing.T) {
	seller := uuid.New()
	lines := []Line{
		{ItemID: uuid.New(), SellerID: seller, UnitPrice: 2_000, Quantity: 2},
		{ItemID: uuid.New(), SellerID: seller, UnitPrice: 5_000, Quantity: 1, Cancelled: true},
	}

	split, err := testPolicy().Compute(lines, 4_000, 0, 0)
	require.NoError(t, err)
	require.Len(t, split.Items, 1)
	assert.Equal(t, int64(4_000), split.ItemsTotal)
}

func TestComputeSplitRejections(t *testing.T) {
	line := Line{ItemID: uuid.New(), SellerID: uuid.New(), UnitPrice: 900, Quantity: 1}

	cases := []struct {
		name  string
		lines []Line
		total int64
		fee   int64
		want  error
	}{
		{name: "outside_tolerance", lines: []Line{line}, total: 1_002, want: ErrAmountMismatch},
		{name: "no_lines", lines: nil, total: 100, want: ErrNoBillableItems},
		{name: "all_cancelled", lines: []Line{{ItemID: uuid.New(), UnitPrice: 1, Quantity: 1, Cancelled: true}}, total: 100, want: ErrNoBillableItems},
		{name: "zero_quantity", lines: []Line{{ItemID: uuid.New(), UnitPrice: 1, Quantity: 0}}, total: 100, want: ErrInvalidLine},
		{name: "negative_fee", lines: []Line{line}, total: 1_000, fee: -1, want: ErrNegativeAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testPolicy().Compute(tc.lines, tc.total, 100, tc.fee)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := testPolicy().Compute([]Line{line}, 1_001, 100, 0)
	require.NoError(t, err, "one minor unit is within tolerance")
}

func TestComputeSplitConservesItemAmounts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rates := []string{"0", "0.05", "0.075", "0.1234", "0.3333", "1"}

	for round := 0; round < 500; round++ {
		policy := testPolicy()
		policy.CommissionRate = decimal.RequireFromString(rates[rng.Intn(len(rates))])

		var lines []Line
		var itemsTotal int64
		count := 1 + rng.Intn(6)
		for i := 0; i < count; i++ {
			line := Line{
				ItemID:    uuid.New(),
				SellerID:  uuid.New(),
				UnitPrice: rng.Int63n(1_000_000),
				Quantity:  1 + rng.Int63n(5),
				Cancelled: i > 0 && rng.Intn(4) == 0,
			}
			if !line.Cancelled {
				itemsTotal += line.Amount()
			}
			lines = append(lines, line)
		}
		delivery := rng.Int63n(50_000)
		gatewayFee := rng.Int63n(itemsTotal/10 + 1)

		split, err := policy.Compute(lines, itemsTotal+delivery, delivery, gatewayFee)
		require.NoError(t, err)

		var shares, commissions, amounts, fees int64
		for _, item := range split.Items {
			assert.Equal(t, item.ItemAmount, item.SellerShare+item.PlatformCommission)
			assert.GreaterOrEqual(t, item.OwedAmount, int64(0))
			assert.GreaterOrEqual(t, item.NetCommission, int64(0))
			shares += item.SellerShare
			commissions += item.PlatformCommission
			amounts += item.ItemAmount
			fees += item.ProratedFee
		}
		assert.Equal(t, amounts, shares+commissions)
		assert.Equal(t, itemsTotal, amounts)
		assert.Equal(t, gatewayFee, fees)
	}
}

func TestProrateFeeSumsExactly(t *testing.T) {
	parts := ProrateFee(100, []int64{1, 1, 1})
	assert.Equal(t, []int64{34, 33, 33}, parts)

	parts = ProrateFee(7, []int64{0, 10})
	assert.Equal(t, []int64{0, 7}, parts)

	parts = ProrateFee(5, []int64{0, 0})
	assert.Equal(t, []int64{0, 0}, parts)
}

func TestFeeSchedule(t *testing.T) {
	fees := DefaultTransferFees()
	assert.Equal(t, int64(0), fees.For(0))
	assert.Equal(t, int64(1_000), fees.For(500_000))
	assert.Equal(t, int64(2_500), fees.For(500_001))
	assert.Equal(t, int64(5_000), fees.For(50_000_000))

	parsed, err := ParseFeeSchedule("500000:1000, 5000000:2500, *:5000")
	require.NoError(t, err)
	assert.Equal(t, fees, parsed)

	_, err = ParseFeeSchedule("*:5000,100:10")
	require.ErrorIs(t, err, ErrInvalidFeeBands)
	_, err = ParseFeeSchedule("500:10,100:5")
	require.ErrorIs(t, err, ErrInvalidFeeBands)
}

func TestBuildShares(t *testing.T) {
	sellerA, sellerB := uuid.New(), uuid.New()
	split, err := testPolicy().Compute([]Line{
		{ItemID: uuid.New(), SellerID: sellerA, UnitPrice: 10_000, Quantity: 2},
		{ItemID: uuid.New(), SellerID: sellerB, UnitPrice: 3_333, Quantity: 1},
		{ItemID: uuid.New(), SellerID: sellerA, UnitPrice: 1_000, Quantity: 1},
	}, 24_833, 500, 0)
	require.NoError(t, err)

	shares, err := BuildShares(split, map[uuid.UUID]string{sellerA: "ACC_A", sellerB: "ACC_B"})
	require.NoError(t, err)
	require.Len(t, shares, 2)

	assert.Equal(t, "ACC_A", shares[0].Subaccount)
	assert.Equal(t, int64(19_950), shares[0].Amount)
	assert.Equal(t, int64(3_166), shares[1].Amount)

	sum := decimal.Zero
	for _, share := range shares {
		sum = sum.Add(share.Percentage)
		assert.True(t, share.Percentage.Equal(share.Percentage.Truncate(2)))
	}
	assert.True(t, sum.LessThanOrEqual(decimal.NewFromInt(100)))

	_, err = BuildShares(split, map[uuid.UUID]string{sellerA: "ACC_A"})
	require.ErrorIs(t, err, ErrMissingSubaccount)
}
