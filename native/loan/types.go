package loan

import (
	"fmt"
	"math/big"

	"pawnvault/crypto"
)

// CollateralKind distinguishes the two pledge transfer protocols supported by
// the custody layer.
type CollateralKind uint8

const (
	// CollateralSingleUnit is a unique, indivisible item. Quantity is always 1.
	CollateralSingleUnit CollateralKind = iota + 1
	// CollateralMultiUnit is a semi-fungible holding transferred with an
	// explicit quantity and opaque payload.
	CollateralMultiUnit
)

// Valid reports whether the kind value is within the supported range.
func (k CollateralKind) Valid() bool {
	switch k {
	case CollateralSingleUnit, CollateralMultiUnit:
		return true
	default:
		return false
	}
}

// Collateral describes the pledged asset as a tagged variant: the kind selects
// which transfer protocol the custody layer dispatches to, and the remaining
// fields carry the kind-specific transfer parameters.
type Collateral struct {
	Kind     CollateralKind
	Asset    crypto.Address
	ItemID   *big.Int
	Quantity *big.Int
	Data     []byte
}

// Clone returns a deep copy of the collateral descriptor.
func (c Collateral) Clone() Collateral {
	clone := Collateral{Kind: c.Kind, Asset: c.Asset}
	if c.ItemID != nil {
		clone.ItemID = new(big.Int).Set(c.ItemID)
	}
	if c.Quantity != nil {
		clone.Quantity = new(big.Int).Set(c.Quantity)
	}
	if len(c.Data) > 0 {
		clone.Data = append([]byte(nil), c.Data...)
	}
	return clone
}

// LoanOrder carries the lender-signed terms presented by a borrower at
// origination time. The nonce is single use and bound into the signed digest.
type LoanOrder struct {
	Lender               crypto.Address
	Collateral           Collateral
	SettlementToken      crypto.Address
	Amount               *big.Int
	DurationSeconds      uint64
	InterestRatePerMille uint64
	Nonce                *big.Int
}

// LoanRecord is the immutable accounting entry for an outstanding loan. All
// derived values are recomputed on demand; nothing is written back after
// creation.
type LoanRecord struct {
	ID                   uint64
	Collateral           Collateral
	Borrower             crypto.Address
	Lender               crypto.Address
	SettlementToken      crypto.Address
	Principal            *big.Int
	RepaymentAmount      *big.Int
	StartTime            int64
	DurationSeconds      uint64
	InterestRatePerMille uint64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *LoanRecord) Clone() *LoanRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Collateral = r.Collateral.Clone()
	if r.Principal != nil {
		clone.Principal = new(big.Int).Set(r.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if r.RepaymentAmount != nil {
		clone.RepaymentAmount = new(big.Int).Set(r.RepaymentAmount)
	} else {
		clone.RepaymentAmount = big.NewInt(0)
	}
	return &clone
}

// MaturityTime returns the instant after which the loan becomes overdue.
func (r *LoanRecord) MaturityTime() int64 {
	if r == nil {
		return 0
	}
	return r.StartTime + int64(r.DurationSeconds)
}

// Signature carries the secp256k1 signature components supplied alongside a
// signed authorization.
type Signature struct {
	R, S, V *big.Int
}

// Bytes assembles the canonical 65-byte [R || S || V] form expected by the
// recovery primitive. V values of 27/28 are normalised to 0/1.
func (s Signature) Bytes() ([]byte, error) {
	if s.R == nil || s.S == nil || s.V == nil {
		return nil, fmt.Errorf("loan: incomplete signature")
	}
	rBytes := s.R.Bytes()
	sBytes := s.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, fmt.Errorf("loan: signature component out of range")
	}
	v := s.V.Uint64()
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("loan: invalid recovery id %d", v)
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(v)
	return sig, nil
}

// SanitizeOrder validates and normalises a loan order, returning a copy with
// non-nil big integer fields. The original value is not mutated.
func SanitizeOrder(o LoanOrder) (LoanOrder, error) {
	clone := o
	clone.Collateral = o.Collateral.Clone()
	if !clone.Collateral.Kind.Valid() {
		return LoanOrder{}, fmt.Errorf("loan: invalid collateral kind %d", clone.Collateral.Kind)
	}
	if clone.Collateral.ItemID == nil {
		clone.Collateral.ItemID = big.NewInt(0)
	}
	if err := checkWidth("item id", clone.Collateral.ItemID); err != nil {
		return LoanOrder{}, err
	}
	switch clone.Collateral.Kind {
	case CollateralSingleUnit:
		if clone.Collateral.Quantity == nil {
			clone.Collateral.Quantity = big.NewInt(1)
		}
		if clone.Collateral.Quantity.Cmp(big.NewInt(1)) != 0 {
			return LoanOrder{}, fmt.Errorf("loan: single-unit collateral quantity must be 1")
		}
	case CollateralMultiUnit:
		if clone.Collateral.Quantity == nil || clone.Collateral.Quantity.Sign() <= 0 {
			return LoanOrder{}, fmt.Errorf("loan: multi-unit collateral quantity must be positive")
		}
	}
	if err := checkWidth("quantity", clone.Collateral.Quantity); err != nil {
		return LoanOrder{}, err
	}
	if clone.Amount == nil || clone.Amount.Sign() <= 0 {
		return LoanOrder{}, fmt.Errorf("loan: amount must be positive")
	}
	if err := checkWidth("amount", clone.Amount); err != nil {
		return LoanOrder{}, err
	}
	clone.Amount = new(big.Int).Set(clone.Amount)
	if clone.DurationSeconds == 0 {
		return LoanOrder{}, fmt.Errorf("loan: duration must be positive")
	}
	if clone.Nonce == nil {
		return LoanOrder{}, fmt.Errorf("loan: nonce required")
	}
	if err := checkWidth("nonce", clone.Nonce); err != nil {
		return LoanOrder{}, err
	}
	clone.Nonce = new(big.Int).Set(clone.Nonce)
	return clone, nil
}

// checkWidth rejects values the 32-byte digest encoding cannot represent.
func checkWidth(field string, v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return fmt.Errorf("loan: %s must be a non-negative 32-byte integer", field)
	}
	return nil
}
