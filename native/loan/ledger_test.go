package loan

import (
	"math/big"
	"testing"
)

func newTestRecord() *LoanRecord {
	return &LoanRecord{
		Collateral: Collateral{
			Kind:     CollateralSingleUnit,
			Asset:    makeAddress(0x10),
			ItemID:   big.NewInt(7),
			Quantity: big.NewInt(1),
		},
		Borrower:             makeAddress(0x01),
		Lender:               makeAddress(0x02),
		SettlementToken:      makeAddress(0x03),
		Principal:            big.NewInt(1000),
		RepaymentAmount:      big.NewInt(1195),
		StartTime:            1_700_000_000,
		DurationSeconds:      86400,
		InterestRatePerMille: 100,
	}
}

func TestLedgerCreateAssignsMonotonicIDs(t *testing.T) {
	ledger := NewLedger(newMockState())

	first, err := ledger.Create(newTestRecord())
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := ledger.Create(newTestRecord())
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("unexpected ids: %d, %d", first, second)
	}

	counters, err := ledger.Counters()
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.TotalCreated != 2 || counters.ActiveLoans != 2 {
		t.Fatalf("unexpected counters: %+v", counters)
	}

	flags, err := ledger.Flags(first)
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if !flags.Active || flags.Resolved {
		t.Fatalf("unexpected flags after create: %+v", flags)
	}
}

func TestLedgerResolveErasesRecordKeepsFlags(t *testing.T) {
	ledger := NewLedger(newMockState())
	id, err := ledger.Create(newTestRecord())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ledger.MarkRepaid(id); err != nil {
		t.Fatalf("mark repaid: %v", err)
	}

	record, err := ledger.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record != nil {
		t.Fatalf("expected record erased, got %+v", record)
	}
	flags, err := ledger.Flags(id)
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if flags.Active || !flags.Resolved {
		t.Fatalf("unexpected flags after resolve: %+v", flags)
	}
	counters, err := ledger.Counters()
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.ActiveLoans != 0 || counters.TotalCreated != 1 {
		t.Fatalf("unexpected counters after resolve: %+v", counters)
	}
}

func TestLedgerDoubleResolveRejected(t *testing.T) {
	ledger := NewLedger(newMockState())
	id, err := ledger.Create(newTestRecord())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ledger.MarkLiquidated(id); err != nil {
		t.Fatalf("mark liquidated: %v", err)
	}
	if err := ledger.MarkLiquidated(id); err != ErrInvalidLoanState {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := ledger.MarkRepaid(id); err != ErrInvalidLoanState {
		t.Fatalf("expected invalid state, got %v", err)
	}

	counters, err := ledger.Counters()
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.ActiveLoans != 0 {
		t.Fatalf("active counter moved more than once: %+v", counters)
	}
}

func TestLedgerResolveUnknownLoan(t *testing.T) {
	ledger := NewLedger(newMockState())
	if err := ledger.MarkRepaid(42); err != ErrInvalidLoanState {
		t.Fatalf("expected invalid state for unknown loan, got %v", err)
	}
}
