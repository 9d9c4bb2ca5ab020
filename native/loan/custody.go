package loan

import (
	"math/big"

	"pawnvault/crypto"
)

// Inbound-transfer acknowledgment selectors. The asset transfer mechanisms
// require the recipient to return these values before a transfer into escrow
// can succeed.
var (
	AckSingleUnitReceived = [4]byte{0x15, 0x0b, 0x7a, 0x02}
	AckMultiUnitReceived  = [4]byte{0xf2, 0x3a, 0x6e, 0x61}
)

// SingleUnitTransferrer moves a unique item between holders.
type SingleUnitTransferrer interface {
	TransferSingleUnit(asset, from, to crypto.Address, itemID *big.Int) error
}

// MultiUnitTransferrer moves a quantity of a semi-fungible holding between
// holders, forwarding an opaque payload to the recipient.
type MultiUnitTransferrer interface {
	TransferMultiUnit(asset, from, to crypto.Address, itemID, quantity *big.Int, data []byte) error
}

// FungibleTransferrer moves settlement-token funds between holders.
type FungibleTransferrer interface {
	TransferFunds(token, from, to crypto.Address, amount *big.Int) error
}

// OnSingleUnitReceived acknowledges an inbound single-unit transfer, making
// the engine a valid escrow recipient for that protocol.
func (e *Engine) OnSingleUnitReceived(operator, from crypto.Address, itemID *big.Int, data []byte) [4]byte {
	return AckSingleUnitReceived
}

// OnMultiUnitReceived acknowledges an inbound multi-unit transfer.
func (e *Engine) OnMultiUnitReceived(operator, from crypto.Address, itemID, quantity *big.Int, data []byte) [4]byte {
	return AckMultiUnitReceived
}

// pullCollateral moves the pledged asset from its holder into module escrow,
// dispatching on the collateral kind.
func (e *Engine) pullCollateral(c Collateral, from crypto.Address) error {
	return e.moveCollateral(c, from, e.moduleAddress)
}

// releaseCollateral moves the pledged asset out of module escrow.
func (e *Engine) releaseCollateral(c Collateral, to crypto.Address) error {
	return e.moveCollateral(c, e.moduleAddress, to)
}

func (e *Engine) moveCollateral(c Collateral, from, to crypto.Address) error {
	switch c.Kind {
	case CollateralSingleUnit:
		if e.singleUnits == nil {
			return errNilTransferrer
		}
		return e.singleUnits.TransferSingleUnit(c.Asset, from, to, c.ItemID)
	case CollateralMultiUnit:
		if e.multiUnits == nil {
			return errNilTransferrer
		}
		return e.multiUnits.TransferMultiUnit(c.Asset, from, to, c.ItemID, c.Quantity, c.Data)
	default:
		return ErrInvalidLoanState
	}
}

// moveFunds issues a settlement-token transfer, skipping the call entirely
// for zero amounts.
func (e *Engine) moveFunds(token, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.funds == nil {
		return errNilTransferrer
	}
	return e.funds.TransferFunds(token, from, to, amount)
}
