package loan

// DefaultFeePerMille is the fee rate applied to both sides of a loan until
// the administrator configures otherwise.
const DefaultFeePerMille uint64 = 25

// FeeParams groups the administrator-controlled platform fee rates, both
// expressed per mille of the relevant base amount.
type FeeParams struct {
	// BorrowerFeePerMille is stripped out of the requested loan amount before
	// the implied price is computed.
	BorrowerFeePerMille uint64
	// LenderFeePerMille is charged against the implied price.
	LenderFeePerMille uint64
}

// DefaultFeeParams returns the fee configuration applied at engine
// construction.
func DefaultFeeParams() FeeParams {
	return FeeParams{
		BorrowerFeePerMille: DefaultFeePerMille,
		LenderFeePerMille:   DefaultFeePerMille,
	}
}
