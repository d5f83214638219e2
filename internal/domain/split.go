package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAmountMismatch    = errors.New("items and delivery fee do not reconcile with the transaction total")
	ErrNoBillableItems   = errors.New("order has no billable items")
	ErrInvalidLine       = errors.New("invalid order line")
	ErrSplitExceedsTotal = errors.New("split shares exceed 100 percent")
	ErrMissingSubaccount = errors.New("seller has no settlement subaccount")
	ErrInvalidFeeBands   = errors.New("invalid transfer fee bands")
)

var hundred = decimal.NewFromInt(100)

// FeeBand charges Fee for any amount up to and including UpTo. UpTo of zero is unbounded.
type FeeBand struct {
	UpTo int64
	Fee  int64
}

// FeeSchedule is an ascending list of transfer fee bands.
type FeeSchedule []FeeBand

// DefaultTransferFees mirrors the flat banded fees charged on outbound transfers.
func DefaultTransferFees() FeeSchedule {
	return FeeSchedule{
		{UpTo: 500_000, Fee: 1_000},
		{UpTo: 5_000_000, Fee: 2_500},
		{UpTo: 0, Fee: 5_000},
	}
}

// For returns the flat fee for amount. Non-positive amounts carry no fee.
func (s FeeSchedule) For(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	for _, band := range s {
		if band.UpTo == 0 || amount <= band.UpTo {
			return band.Fee
		}
	}
	return 0
}

// Validate checks the bands ascend and only the last band is unbounded.
func (s FeeSchedule) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidFeeBands)
	}
	var prev int64
	for i, band := range s {
		if band.Fee < 0 {
			return fmt.Errorf("%w: negative fee in band %d", ErrInvalidFeeBands, i)
		}
		if band.UpTo == 0 {
			if i != len(s)-1 {
				return fmt.Errorf("%w: unbounded band %d is not last", ErrInvalidFeeBands, i)
			}
			continue
		}
		if band.UpTo <= prev {
			return fmt.Errorf("%w: band %d does not ascend", ErrInvalidFeeBands, i)
		}
		prev = band.UpTo
	}
	return nil
}

// ParseFeeSchedule reads bands written as "500000:1000,5000000:2500,*:5000".
func ParseFeeSchedule(raw string) (FeeSchedule, error) {
	var out FeeSchedule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		limit, fee, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFeeBands, part)
		}
		var band FeeBand
		if strings.TrimSpace(limit) != "*" {
			upTo, err := strconv.ParseInt(strings.TrimSpace(limit), 10, 64)
			if err != nil || upTo <= 0 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidFeeBands, part)
			}
			band.UpTo = upTo
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(fee), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFeeBands, part)
		}
		band.Fee = amount
		out = append(out, band)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Line is one order line as seen by the settlement math.
type Line struct {
	ItemID    uuid.UUID
	SellerID  uuid.UUID
	UnitPrice int64
	Quantity  int64
	Cancelled bool
}

// Amount is unit price times quantity.
func (l Line) Amount() int64 {
	return l.UnitPrice * l.Quantity
}

// ItemSplit is the settlement breakdown of a single billable line.
type ItemSplit struct {
	ItemID             uuid.UUID
	SellerID           uuid.UUID
	ItemAmount         int64
	PlatformCommission int64
	SellerShare        int64
	ProratedFee        int64
	TransferFee        int64
	NetCommission      int64
	OwedAmount         int64
}

// Split is the full breakdown of one settlement.
type Split struct {
	Items       []ItemSplit
	ItemsTotal  int64
	DeliveryFee int64
	GatewayFee  int64
	TotalAmount int64
}

// SplitPolicy carries the commercial terms applied to every split.
type SplitPolicy struct {
	CommissionRate decimal.Decimal
	TransferFees   FeeSchedule
	// Tolerance is the largest allowed gap, in minor units, between
	// items plus delivery fee and the charged total.
	Tolerance int64
}

// Compute splits the non-cancelled lines between sellers and the platform.
// Commission and gateway fee proration use the items-only total; the
// delivery fee never attracts commission or fee.
func (p SplitPolicy) Compute(lines []Line, totalAmount, deliveryFee, gatewayFee int64) (Split, error) {
	if totalAmount < 0 || deliveryFee < 0 || gatewayFee < 0 {
		return Split{}, ErrNegativeAmount
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return Split{}, ErrInvalidRate
	}

	billable := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.Cancelled {
			continue
		}
		if line.UnitPrice < 0 || line.Quantity <= 0 {
			return Split{}, fmt.Errorf("%w: item %s", ErrInvalidLine, line.ItemID)
		}
		billable = append(billable, line)
	}
	if len(billable) == 0 {
		return Split{}, ErrNoBillableItems
	}

	amounts := make([]int64, len(billable))
	var itemsTotal int64
	for i, line := range billable {
		amounts[i] = line.Amount()
		itemsTotal += amounts[i]
	}

	gap := itemsTotal + deliveryFee - totalAmount
	if gap < 0 {
		gap = -gap
	}
	if gap > p.Tolerance {
		return Split{}, fmt.Errorf("%w: items %d + delivery %d != total %d", ErrAmountMismatch, itemsTotal, deliveryFee, totalAmount)
	}

	fees := ProrateFee(gatewayFee, amounts)
	out := Split{
		Items:       make([]ItemSplit, len(billable)),
		ItemsTotal:  itemsTotal,
		DeliveryFee: deliveryFee,
		GatewayFee:  gatewayFee,
		TotalAmount: totalAmount,
	}
	for i, line := range billable {
		commission := ApplyRate(amounts[i], p.CommissionRate)
		share := amounts[i] - commission
		transferFee := p.TransferFees.For(share)
		out.Items[i] = ItemSplit{
			ItemID:             line.ItemID,
			SellerID:           line.SellerID,
			ItemAmount:         amounts[i],
			PlatformCommission: commission,
			SellerShare:        share,
			ProratedFee:        fees[i],
			TransferFee:        transferFee,
			NetCommission:      max(commission-fees[i], 0),
			OwedAmount:         max(share-transferFee, 0),
		}
	}
	return out, nil
}

// ProrateFee allocates fee across weights in proportion, handing leftover
// minor units to the largest remainders so the parts sum to fee exactly.
func ProrateFee(fee int64, weights []int64) []int64 {
	out := make([]int64, len(weights))
	var total int64
	for _, w := range weights {
		total += w
	}
	if fee <= 0 || total <= 0 {
		return out
	}

	type remainder struct {
		idx int
		rem decimal.Decimal
	}
	denominator := decimal.NewFromInt(total)
	rems := make([]remainder, len(weights))
	var allocated int64
	for i, w := range weights {
		q, r := decimal.NewFromInt(fee).Mul(decimal.NewFromInt(w)).QuoRem(denominator, 0)
		out[i] = q.IntPart()
		allocated += out[i]
		rems[i] = remainder{idx: i, rem: r}
	}
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].rem.GreaterThan(rems[b].rem)
	})
	for i := int64(0); i < fee-allocated; i++ {
		out[rems[i%int64(len(rems))].idx]++
	}
	return out
}

// TotalCommission sums platform commission across items.
func (s Split) TotalCommission() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.PlatformCommission
	}
	return total
}

// TotalShares sums seller shares across items.
func (s Split) TotalShares() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.SellerShare
	}
	return total
}

// SellerTotal aggregates one seller's shares within a split.
type SellerTotal struct {
	SellerID uuid.UUID
	Share    int64
	Items    int
}

// SellerTotals groups shares by seller in order of first appearance.
func (s Split) SellerTotals() []SellerTotal {
	index := make(map[uuid.UUID]int)
	var out []SellerTotal
	for _, item := range s.Items {
		i, ok := index[item.SellerID]
		if !ok {
			i = len(out)
			index[item.SellerID] = i
			out = append(out, SellerTotal{SellerID: item.SellerID})
		}
		out[i].Share += item.SellerShare
		out[i].Items++
	}
	return out
}

// Share is one subaccount's part of a split.
type Share struct {
	SellerID   uuid.UUID
	Subaccount string
	Percentage decimal.Decimal
	Amount     int64
}

// BuildShares turns a split into per-subaccount percentages of the charged
// total, truncated to two places so they never sum past 100.
func BuildShares(s Split, subaccounts map[uuid.UUID]string) ([]Share, error) {
	if s.TotalAmount <= 0 {
		return nil, ErrNoBillableItems
	}
	total := decimal.NewFromInt(s.TotalAmount)
	sum := decimal.Zero
	var out []Share
	for _, seller := range s.SellerTotals() {
		code := strings.TrimSpace(subaccounts[seller.SellerID])
		if code == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingSubaccount, seller.SellerID)
		}
		pct := decimal.NewFromInt(seller.Share).Mul(hundred).Div(total).Truncate(2)
		sum = sum.Add(pct)
		out = append(out, Share{
			SellerID:   seller.SellerID,
			Subaccount: code,
			Percentage: pct,
			Amount:     seller.Share,
		})
	}
	if sum.GreaterThan(hundred) {
		return nil, ErrSplitExceedsTotal
	}
	return out, nil
}
