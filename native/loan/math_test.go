package loan

import (
	"math/big"
	"testing"
)

func TestComputeSettlementSplitsFees(t *testing.T) {
	breakdown, err := ComputeSettlement(big.NewInt(1000), 50, 50)
	if err != nil {
		t.Fatalf("compute settlement: %v", err)
	}
	if breakdown.Price.Cmp(big.NewInt(952)) != 0 {
		t.Fatalf("unexpected price: got %s want 952", breakdown.Price)
	}
	if breakdown.BuyerFeePortion.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("unexpected buyer fee: got %s want 48", breakdown.BuyerFeePortion)
	}
	if breakdown.SellerFeePortion.Cmp(big.NewInt(47)) != 0 {
		t.Fatalf("unexpected seller fee: got %s want 47", breakdown.SellerFeePortion)
	}
	if breakdown.PlatformFee.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("unexpected platform fee: got %s want 95", breakdown.PlatformFee)
	}
	if breakdown.NetAssetPrice.Cmp(big.NewInt(905)) != 0 {
		t.Fatalf("unexpected net asset price: got %s want 905", breakdown.NetAssetPrice)
	}

	sum := new(big.Int).Add(breakdown.NetAssetPrice, breakdown.PlatformFee)
	if sum.Cmp(big.NewInt(1000)) > 0 {
		t.Fatalf("net plus fee exceeds requested amount: %s", sum)
	}
}

func TestComputeSettlementZeroFees(t *testing.T) {
	breakdown, err := ComputeSettlement(big.NewInt(1000), 0, 0)
	if err != nil {
		t.Fatalf("compute settlement: %v", err)
	}
	if breakdown.NetAssetPrice.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected full amount advanced, got %s", breakdown.NetAssetPrice)
	}
	if breakdown.PlatformFee.Sign() != 0 {
		t.Fatalf("expected zero platform fee, got %s", breakdown.PlatformFee)
	}
}

func TestRepaymentAmountIncludesFeeAndInterest(t *testing.T) {
	// principal 1000, platform fee 95, interest 10% for the duration.
	repayment := RepaymentAmount(big.NewInt(1000), big.NewInt(95), 100)
	if repayment.Cmp(big.NewInt(1195)) != 0 {
		t.Fatalf("unexpected repayment amount: got %s want 1195", repayment)
	}
}

func TestProratedInterestHalfDuration(t *testing.T) {
	principal := big.NewInt(1000)
	repayment := RepaymentAmount(principal, big.NewInt(0), 100)
	interest, err := ProratedInterest(principal, 100, 43200, 86400, repayment)
	if err != nil {
		t.Fatalf("prorated interest: %v", err)
	}
	if interest.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected prorated interest: got %s want 50", interest)
	}
}

func TestProratedInterestCapsAtRepaymentAmount(t *testing.T) {
	principal := big.NewInt(1000)
	repayment := big.NewInt(1100)
	// Ten times the duration elapsed: linear proration would be 1000.
	interest, err := ProratedInterest(principal, 100, 864000, 86400, repayment)
	if err != nil {
		t.Fatalf("prorated interest: %v", err)
	}
	if interest.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected cap at repayment minus principal, got %s", interest)
	}
}

func TestProratedInterestMonotonicUntilSaturation(t *testing.T) {
	principal := big.NewInt(1000)
	repayment := RepaymentAmount(principal, big.NewInt(95), 100)
	previous := big.NewInt(-1)
	for elapsed := uint64(0); elapsed <= 172800; elapsed += 3600 {
		interest, err := ProratedInterest(principal, 100, elapsed, 86400, repayment)
		if err != nil {
			t.Fatalf("prorated interest at %d: %v", elapsed, err)
		}
		if interest.Cmp(previous) < 0 {
			t.Fatalf("interest decreased at elapsed %d: %s < %s", elapsed, interest, previous)
		}
		payoff := new(big.Int).Add(principal, interest)
		if payoff.Cmp(repayment) > 0 {
			t.Fatalf("payoff exceeds repayment amount at elapsed %d: %s > %s", elapsed, payoff, repayment)
		}
		previous = interest
	}
}

func TestProratedInterestRejectsUnderflow(t *testing.T) {
	// Stored repayment below principal must surface as an underflow, not a
	// negative amount.
	if _, err := ProratedInterest(big.NewInt(1000), 100, 86400, 86400, big.NewInt(900)); err != ErrArithmeticUnderflow {
		t.Fatalf("expected underflow error, got %v", err)
	}
}

func TestCheckedSubUnderflow(t *testing.T) {
	if _, err := checkedSub(big.NewInt(1), big.NewInt(2)); err != ErrArithmeticUnderflow {
		t.Fatalf("expected underflow error, got %v", err)
	}
}
