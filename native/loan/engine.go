package loan

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"pawnvault/core/events"
	"pawnvault/crypto"
	nativecommon "pawnvault/native/common"
)

var errNilTransferrer = errors.New("loan engine: transfer collaborator not configured")

const moduleName = "loan"

// Engine is the public entry point for the loan lifecycle. It composes the
// authorization verifier, the fee calculator, the ledger and the custody
// sequencing, in that order, for every operation. A single mutex serializes
// all mutating calls so nonce consumption and the state transition form one
// atomic unit.
type Engine struct {
	mu       sync.Mutex
	state    State
	ledger   *Ledger
	verifier *Verifier
	emitter  events.Emitter

	moduleAddress crypto.Address
	admin         crypto.Address
	fees          FeeParams
	nowFn         func() int64
	pauses        nativecommon.PauseView

	singleUnits SingleUnitTransferrer
	multiUnits  MultiUnitTransferrer
	funds       FungibleTransferrer
}

// NewEngine constructs a loan engine. The module address is the escrow
// custody identity bound into every authorization digest; the administrator
// identity is fixed at construction and gates fee configuration as well as
// repayment and liquidation authorizations.
func NewEngine(moduleAddr, admin crypto.Address) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddr,
		admin:         admin,
		fees:          DefaultFeeParams(),
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) {
	if e == nil {
		return
	}
	e.state = state
	e.ledger = NewLedger(state)
	e.verifier = NewVerifier(state)
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetCollaborators wires the external transfer mechanisms the custody
// sequencing dispatches to.
func (e *Engine) SetCollaborators(singles SingleUnitTransferrer, multis MultiUnitTransferrer, funds FungibleTransferrer) {
	if e == nil {
		return
	}
	e.singleUnits = singles
	e.multiUnits = multis
	e.funds = funds
}

// ModuleAddress returns the escrow custody identity.
func (e *Engine) ModuleAddress() crypto.Address {
	return e.moduleAddress
}

// Admin returns the administrator identity fixed at construction.
func (e *Engine) Admin() crypto.Address {
	return e.admin
}

// FeeParams returns the currently configured fee rates.
func (e *Engine) FeeParams() FeeParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees
}

// SetBorrowerFeeRate updates the borrower-side fee rate. Administrator only.
func (e *Engine) SetBorrowerFeeRate(caller crypto.Address, perMilleRate uint64) error {
	if !caller.Equal(e.admin) {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees.BorrowerFeePerMille = perMilleRate
	return nil
}

// SetLenderFeeRate updates the lender-side fee rate. Administrator only.
func (e *Engine) SetLenderFeeRate(caller crypto.Address, perMilleRate uint64) error {
	if !caller.Equal(e.admin) {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees.LenderFeePerMille = perMilleRate
	return nil
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Originate creates a new loan from a lender-signed order presented by the
// borrower. Custody order: collateral into escrow, net advance lender to
// borrower, platform fee lender to administrator, then the ledger entry.
func (e *Engine) Originate(borrower crypto.Address, order LoanOrder, sig Signature) (*LoanRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	sanitized, err := SanitizeOrder(order)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The nonce is burnt before the signature is checked: a failed
	// authorization still consumes it and the order can never be retried.
	if err := e.verifier.ConsumeNonce(sanitized.Nonce); err != nil {
		return nil, err
	}
	if err := e.verifier.VerifyLenderAuthorization(e.moduleAddress, sanitized, borrower, sig); err != nil {
		return nil, err
	}

	breakdown, err := ComputeSettlement(sanitized.Amount, e.fees.BorrowerFeePerMille, e.fees.LenderFeePerMille)
	if err != nil {
		return nil, err
	}
	repayment := RepaymentAmount(sanitized.Amount, breakdown.PlatformFee, sanitized.InterestRatePerMille)
	if repayment.Cmp(sanitized.Amount) < 0 {
		return nil, ErrArithmeticUnderflow
	}

	if err := e.pullCollateral(sanitized.Collateral, borrower); err != nil {
		return nil, err
	}
	if err := e.moveFunds(sanitized.SettlementToken, sanitized.Lender, borrower, breakdown.NetAssetPrice); err != nil {
		return nil, err
	}
	if err := e.moveFunds(sanitized.SettlementToken, sanitized.Lender, e.admin, breakdown.PlatformFee); err != nil {
		return nil, err
	}

	record := &LoanRecord{
		Collateral:           sanitized.Collateral,
		Borrower:             borrower,
		Lender:               sanitized.Lender,
		SettlementToken:      sanitized.SettlementToken,
		Principal:            new(big.Int).Set(sanitized.Amount),
		RepaymentAmount:      repayment,
		StartTime:            e.now(),
		DurationSeconds:      sanitized.DurationSeconds,
		InterestRatePerMille: sanitized.InterestRatePerMille,
	}
	if _, err := e.ledger.Create(record); err != nil {
		return nil, err
	}

	e.emit(events.LoanOriginated{
		LoanID:        record.ID,
		Collateral:    record.Collateral.Asset,
		ItemID:        record.Collateral.ItemID,
		NetAssetPrice: breakdown.NetAssetPrice,
		PlatformFee:   breakdown.PlatformFee,
	})
	return record.Clone(), nil
}

// Repay settles an active loan. The caller must be the recorded borrower and
// present an administrator-signed authorization. Custody order: payoff
// borrower to lender, collateral out of escrow, then the ledger transition.
// The interest paid is returned.
func (e *Engine) Repay(caller crypto.Address, loanID uint64, nonce *big.Int, sig Signature) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.verifier.ConsumeNonce(nonce); err != nil {
		return nil, err
	}
	if err := e.verifier.VerifyAdminAuthorization(e.moduleAddress, e.admin, caller, loanID, nonce, sig); err != nil {
		return nil, err
	}

	record, err := e.activeLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !caller.Equal(record.Borrower) {
		return nil, ErrCallerMismatch
	}

	interest, err := e.interestOwed(record)
	if err != nil {
		return nil, err
	}
	payoff := new(big.Int).Add(record.Principal, interest)
	if err := e.moveFunds(record.SettlementToken, record.Borrower, record.Lender, payoff); err != nil {
		return nil, err
	}
	if err := e.releaseCollateral(record.Collateral, record.Borrower); err != nil {
		return nil, err
	}
	if err := e.ledger.MarkRepaid(loanID); err != nil {
		return nil, err
	}

	e.emit(events.LoanRepaid{
		LoanID:       loanID,
		Collateral:   record.Collateral.Asset,
		ItemID:       record.Collateral.ItemID,
		InterestPaid: interest,
		Principal:    record.Principal,
	})
	return interest, nil
}

// Liquidate forfeits the collateral to the lender once the loan is strictly
// past maturity. The caller must be the recorded lender and present an
// administrator-signed authorization. No funds move; the lender forfeits the
// advanced principal and keeps the collateral.
func (e *Engine) Liquidate(caller crypto.Address, loanID uint64, nonce *big.Int, sig Signature) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.verifier.ConsumeNonce(nonce); err != nil {
		return err
	}
	if err := e.verifier.VerifyAdminAuthorization(e.moduleAddress, e.admin, caller, loanID, nonce, sig); err != nil {
		return err
	}

	record, err := e.activeLoan(loanID)
	if err != nil {
		return err
	}
	if !caller.Equal(record.Lender) {
		return ErrCallerMismatch
	}
	// Strict inequality: exactly at maturity the loan is not yet overdue.
	if e.now() <= record.MaturityTime() {
		return ErrNotYetOverdue
	}

	if err := e.releaseCollateral(record.Collateral, record.Lender); err != nil {
		return err
	}
	if err := e.ledger.MarkLiquidated(loanID); err != nil {
		return err
	}

	e.emit(events.LoanLiquidated{
		LoanID:     loanID,
		Collateral: record.Collateral.Asset,
		ItemID:     record.Collateral.ItemID,
	})
	return nil
}

// AccruedPayoff returns principal plus the interest owed as of the current
// time for an active loan.
func (e *Engine) AccruedPayoff(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.activeLoan(loanID)
	if err != nil {
		return nil, err
	}
	interest, err := e.interestOwed(record)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(record.Principal, interest), nil
}

// Loan returns the stored record and status flags for the identifier. The
// record is nil once a terminal transition erased it.
func (e *Engine) Loan(loanID uint64) (*LoanRecord, LoanFlags, error) {
	if e == nil || e.state == nil {
		return nil, LoanFlags{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	flags, err := e.ledger.Flags(loanID)
	if err != nil {
		return nil, LoanFlags{}, err
	}
	if !flags.Active && !flags.Resolved {
		return nil, LoanFlags{}, ErrLoanNotFound
	}
	record, err := e.ledger.Get(loanID)
	if err != nil {
		return nil, LoanFlags{}, err
	}
	return record, flags, nil
}

// Counters returns the global loan totals.
func (e *Engine) Counters() (Counters, error) {
	if e == nil || e.state == nil {
		return Counters{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Counters()
}

func (e *Engine) activeLoan(loanID uint64) (*LoanRecord, error) {
	flags, err := e.ledger.Flags(loanID)
	if err != nil {
		return nil, err
	}
	if !flags.Active || flags.Resolved {
		return nil, ErrInvalidLoanState
	}
	record, err := e.ledger.Get(loanID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrInvalidLoanState
	}
	return record, nil
}

func (e *Engine) interestOwed(record *LoanRecord) (*big.Int, error) {
	now := e.now()
	var elapsed uint64
	if now > record.StartTime {
		elapsed = uint64(now - record.StartTime)
	}
	return ProratedInterest(record.Principal, record.InterestRatePerMille, elapsed, record.DurationSeconds, record.RepaymentAmount)
}
