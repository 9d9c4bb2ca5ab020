package loan

// LoanFlags tracks the per-loan status bits. Both bits flip together at the
// step that finalizes a transition, which makes terminal transitions safe to
// reject on replay.
type LoanFlags struct {
	// Active is true while the loan is outstanding and collateral is escrowed.
	Active bool
	// Resolved is true exactly once the loan reached a terminal state.
	Resolved bool
}

// Counters holds the process-wide loan accounting totals.
type Counters struct {
	// TotalCreated is the number of loans ever created; it assigns IDs and
	// never decreases.
	TotalCreated uint64
	// ActiveLoans counts currently outstanding loans.
	ActiveLoans uint64
}

// State is the persistence boundary the ledger and authorization verifier
// operate against. Implementations must be safe for use under the engine's
// single mutating lock; they are never called concurrently for mutation.
type State interface {
	LoanPut(record *LoanRecord) error
	// LoanGet returns nil when no record is stored for the identifier. Callers
	// must consult the flags, not record presence: terminal transitions erase
	// the record but keep the flags.
	LoanGet(id uint64) (*LoanRecord, error)
	LoanDelete(id uint64) error

	FlagsGet(id uint64) (LoanFlags, error)
	FlagsPut(id uint64, flags LoanFlags) error

	CountersGet() (Counters, error)
	CountersPut(counters Counters) error

	// NonceConsumed reports whether the 32-byte nonce key was ever accepted.
	NonceConsumed(nonce []byte) (bool, error)
	// NonceConsume records the nonce key. The set is append-only.
	NonceConsume(nonce []byte) error

	// Update runs fn against a view of the state whose writes commit together
	// or not at all. An error from fn discards every write fn issued.
	Update(fn func(State) error) error
}
