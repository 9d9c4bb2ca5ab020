package events

import (
	"math/big"
	"strconv"

	"pawnvault/core/types"
	"pawnvault/crypto"
)

const (
	TypeLoanOriginated = "loan.originated"
	TypeLoanRepaid     = "loan.repaid"
	TypeLoanLiquidated = "loan.liquidated"
)

type LoanOriginated struct {
	LoanID        uint64
	Collateral    crypto.Address
	ItemID        *big.Int
	NetAssetPrice *big.Int
	PlatformFee   *big.Int
}

func (LoanOriginated) EventType() string { return TypeLoanOriginated }

func (e LoanOriginated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanOriginated,
		Attributes: map[string]string{
			"loanId":        strconv.FormatUint(e.LoanID, 10),
			"collateral":    e.Collateral.String(),
			"tokenId":       formatAmount(e.ItemID),
			"netAssetPrice": formatAmount(e.NetAssetPrice),
			"platformFee":   formatAmount(e.PlatformFee),
		},
	}
}

type LoanRepaid struct {
	LoanID       uint64
	Collateral   crypto.Address
	ItemID       *big.Int
	InterestPaid *big.Int
	Principal    *big.Int
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepaid,
		Attributes: map[string]string{
			"loanId":       strconv.FormatUint(e.LoanID, 10),
			"collateral":   e.Collateral.String(),
			"tokenId":      formatAmount(e.ItemID),
			"interestPaid": formatAmount(e.InterestPaid),
			"principal":    formatAmount(e.Principal),
		},
	}
}

type LoanLiquidated struct {
	LoanID     uint64
	Collateral crypto.Address
	ItemID     *big.Int
}

func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

func (e LoanLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanLiquidated,
		Attributes: map[string]string{
			"loanId":     strconv.FormatUint(e.LoanID, 10),
			"collateral": e.Collateral.String(),
			"tokenId":    formatAmount(e.ItemID),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
