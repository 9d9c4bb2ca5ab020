package loan

import "math/big"

var perMille = big.NewInt(1000)

// SettlementBreakdown captures the fee split computed at origination time.
// All values are denominated in the settlement token's smallest unit.
type SettlementBreakdown struct {
	// Price is the asset price implied by the requested amount after the
	// borrower-side fee is stripped.
	Price *big.Int
	// BuyerFeePortion is the borrower-side share of the platform fee.
	BuyerFeePortion *big.Int
	// SellerFeePortion is the lender-side share of the platform fee.
	SellerFeePortion *big.Int
	// PlatformFee is the total fee routed to the administrator.
	PlatformFee *big.Int
	// NetAssetPrice is the amount actually advanced to the borrower.
	NetAssetPrice *big.Int
}

// ComputeSettlement splits the requested loan amount into the implied price,
// the two fee portions and the net advance. Division truncates; every
// subtraction is checked so a misconfigured rate surfaces as
// ErrArithmeticUnderflow instead of a negative amount.
func ComputeSettlement(amount *big.Int, borrowerFeePerMille, lenderFeePerMille uint64) (*SettlementBreakdown, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrArithmeticUnderflow
	}
	denominator := new(big.Int).Add(perMille, new(big.Int).SetUint64(borrowerFeePerMille))
	price := new(big.Int).Mul(amount, perMille)
	price.Quo(price, denominator)

	buyerFee, err := checkedSub(amount, price)
	if err != nil {
		return nil, err
	}
	sellerFee := new(big.Int).Mul(price, new(big.Int).SetUint64(lenderFeePerMille))
	sellerFee.Quo(sellerFee, perMille)

	netAssetPrice, err := checkedSub(price, sellerFee)
	if err != nil {
		return nil, err
	}
	return &SettlementBreakdown{
		Price:            price,
		BuyerFeePortion:  buyerFee,
		SellerFeePortion: sellerFee,
		PlatformFee:      new(big.Int).Add(buyerFee, sellerFee),
		NetAssetPrice:    netAssetPrice,
	}, nil
}

// RepaymentAmount computes the total due at full term: the principal plus the
// platform fee plus full-duration interest at the per-mille rate.
func RepaymentAmount(principal, platformFee *big.Int, interestRatePerMille uint64) *big.Int {
	total := new(big.Int).Add(principal, platformFee)
	return total.Add(total, fullTermInterest(principal, interestRatePerMille))
}

func fullTermInterest(principal *big.Int, interestRatePerMille uint64) *big.Int {
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(interestRatePerMille))
	return interest.Quo(interest, perMille)
}

// ProratedInterest computes the interest owed after elapsed seconds of the
// loan duration. The linear proration is capped so principal plus interest
// never exceeds the repayment amount fixed at origination; elapsed time past
// maturity does not grow the result further.
func ProratedInterest(principal *big.Int, interestRatePerMille uint64, elapsed, duration uint64, repaymentAmount *big.Int) (*big.Int, error) {
	if principal == nil || repaymentAmount == nil || duration == 0 {
		return nil, ErrArithmeticUnderflow
	}
	full := fullTermInterest(principal, interestRatePerMille)
	prorated := new(big.Int).Mul(full, new(big.Int).SetUint64(elapsed))
	prorated.Quo(prorated, new(big.Int).SetUint64(duration))

	payoff := new(big.Int).Add(principal, prorated)
	if payoff.Cmp(repaymentAmount) >= 0 {
		return checkedSub(repaymentAmount, principal)
	}
	return prorated, nil
}

func checkedSub(a, b *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return nil, ErrArithmeticUnderflow
	}
	return diff, nil
}
