package loan

import "errors"

var errNilState = errors.New("loan: state not configured")

// Ledger owns loan record creation, lookup and terminal bookkeeping. Loan
// identifiers are assigned monotonically from the total-created counter and
// are never reused.
type Ledger struct {
	state State
}

// NewLedger constructs a ledger backed by the given state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

// Create assigns the next identifier, stores the record, marks it active and
// bumps both global counters as one atomic write. The assigned identifier is
// returned.
func (l *Ledger) Create(record *LoanRecord) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	if record == nil {
		return 0, errors.New("loan: nil record")
	}
	err := l.state.Update(func(s State) error {
		counters, err := s.CountersGet()
		if err != nil {
			return err
		}
		counters.TotalCreated++
		counters.ActiveLoans++
		record.ID = counters.TotalCreated
		if err := s.LoanPut(record); err != nil {
			return err
		}
		if err := s.FlagsPut(record.ID, LoanFlags{Active: true}); err != nil {
			return err
		}
		return s.CountersPut(counters)
	})
	if err != nil {
		return 0, err
	}
	return record.ID, nil
}

// Get returns a copy of the stored record, or nil when the record was erased
// by a terminal transition. Callers must check the flags, not presence.
func (l *Ledger) Get(id uint64) (*LoanRecord, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	record, err := l.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Flags returns the status bits for the identifier.
func (l *Ledger) Flags(id uint64) (LoanFlags, error) {
	if l == nil || l.state == nil {
		return LoanFlags{}, errNilState
	}
	return l.state.FlagsGet(id)
}

// Counters returns the global loan totals.
func (l *Ledger) Counters() (Counters, error) {
	if l == nil || l.state == nil {
		return Counters{}, errNilState
	}
	return l.state.CountersGet()
}

// MarkRepaid finalizes a repayment transition.
func (l *Ledger) MarkRepaid(id uint64) error {
	return l.resolve(id)
}

// MarkLiquidated finalizes a liquidation transition.
func (l *Ledger) MarkLiquidated(id uint64) error {
	return l.resolve(id)
}

// resolve flips both status bits together, decrements the active counter and
// erases the stored record, all in one atomic write. A second attempt
// observes Resolved and is rejected, so the counter moves exactly once per
// loan.
func (l *Ledger) resolve(id uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.Update(func(s State) error {
		flags, err := s.FlagsGet(id)
		if err != nil {
			return err
		}
		if !flags.Active || flags.Resolved {
			return ErrInvalidLoanState
		}
		if err := s.FlagsPut(id, LoanFlags{Active: false, Resolved: true}); err != nil {
			return err
		}
		counters, err := s.CountersGet()
		if err != nil {
			return err
		}
		if counters.ActiveLoans > 0 {
			counters.ActiveLoans--
		}
		if err := s.CountersPut(counters); err != nil {
			return err
		}
		return s.LoanDelete(id)
	})
}
