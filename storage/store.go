package storage

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"pawnvault/native/loan"
)

var (
	bucketLoans    = []byte("loans")
	bucketFlags    = []byte("flags")
	bucketCounters = []byte("counters")
	bucketNonces   = []byte("nonces")

	countersKey = []byte("global")
)

// Store persists loan records, status flags, global counters and the
// consumed-nonce set in a single Bolt database. It implements loan.State.
type Store struct {
	db *bolt.DB
}

type storedFlags struct {
	Active   bool `json:"active"`
	Resolved bool `json:"resolved"`
}

type storedCounters struct {
	TotalCreated uint64 `json:"totalCreated"`
	ActiveLoans  uint64 `json:"activeLoans"`
}

// NewStore initialises (and migrates) the Bolt-backed store.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLoans, bucketFlags, bucketCounters, bucketNonces} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func loanKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// txState is a loan.State view bound to one open transaction. Every write
// issued through it commits (or rolls back) with that transaction.
type txState struct {
	tx *bolt.Tx
}

// LoanPut stores the JSON-encoded record under its identifier.
func (t txState) LoanPut(record *loan.LoanRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketLoans).Put(loanKey(record.ID), payload)
}

// LoanGet returns the stored record, or nil when it was erased.
func (t txState) LoanGet(id uint64) (*loan.LoanRecord, error) {
	payload := t.tx.Bucket(bucketLoans).Get(loanKey(id))
	if payload == nil {
		return nil, nil
	}
	record := &loan.LoanRecord{}
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, err
	}
	return record, nil
}

// LoanDelete erases the stored record. The flags bucket is untouched.
func (t txState) LoanDelete(id uint64) error {
	return t.tx.Bucket(bucketLoans).Delete(loanKey(id))
}

// FlagsGet returns the status bits for the identifier, zero when unset.
func (t txState) FlagsGet(id uint64) (loan.LoanFlags, error) {
	payload := t.tx.Bucket(bucketFlags).Get(loanKey(id))
	if payload == nil {
		return loan.LoanFlags{}, nil
	}
	var flags storedFlags
	if err := json.Unmarshal(payload, &flags); err != nil {
		return loan.LoanFlags{}, err
	}
	return loan.LoanFlags{Active: flags.Active, Resolved: flags.Resolved}, nil
}

// FlagsPut stores the status bits for the identifier.
func (t txState) FlagsPut(id uint64, flags loan.LoanFlags) error {
	payload, err := json.Marshal(storedFlags{Active: flags.Active, Resolved: flags.Resolved})
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketFlags).Put(loanKey(id), payload)
}

// CountersGet returns the global loan totals, zero when unset.
func (t txState) CountersGet() (loan.Counters, error) {
	payload := t.tx.Bucket(bucketCounters).Get(countersKey)
	if payload == nil {
		return loan.Counters{}, nil
	}
	var counters storedCounters
	if err := json.Unmarshal(payload, &counters); err != nil {
		return loan.Counters{}, err
	}
	return loan.Counters{TotalCreated: counters.TotalCreated, ActiveLoans: counters.ActiveLoans}, nil
}

// CountersPut stores the global loan totals.
func (t txState) CountersPut(counters loan.Counters) error {
	payload, err := json.Marshal(storedCounters{TotalCreated: counters.TotalCreated, ActiveLoans: counters.ActiveLoans})
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketCounters).Put(countersKey, payload)
}

// NonceConsumed reports whether the nonce key was ever recorded.
func (t txState) NonceConsumed(nonce []byte) (bool, error) {
	return t.tx.Bucket(bucketNonces).Get(nonce) != nil, nil
}

// NonceConsume records the nonce key. Entries are never removed.
func (t txState) NonceConsume(nonce []byte) error {
	return t.tx.Bucket(bucketNonces).Put(nonce, []byte{1})
}

// Update runs fn inside the already-open transaction.
func (t txState) Update(fn func(loan.State) error) error {
	return fn(t)
}

func (s *Store) LoanPut(record *loan.LoanRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return txState{tx}.LoanPut(record)
	})
}

func (s *Store) LoanGet(id uint64) (*loan.LoanRecord, error) {
	var record *loan.LoanRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		record, err = txState{tx}.LoanGet(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) LoanDelete(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return txState{tx}.LoanDelete(id)
	})
}

func (s *Store) FlagsGet(id uint64) (loan.LoanFlags, error) {
	var flags loan.LoanFlags
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		flags, err = txState{tx}.FlagsGet(id)
		return err
	})
	if err != nil {
		return loan.LoanFlags{}, err
	}
	return flags, nil
}

func (s *Store) FlagsPut(id uint64, flags loan.LoanFlags) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return txState{tx}.FlagsPut(id, flags)
	})
}

func (s *Store) CountersGet() (loan.Counters, error) {
	var counters loan.Counters
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		counters, err = txState{tx}.CountersGet()
		return err
	})
	if err != nil {
		return loan.Counters{}, err
	}
	return counters, nil
}

func (s *Store) CountersPut(counters loan.Counters) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return txState{tx}.CountersPut(counters)
	})
}

func (s *Store) NonceConsumed(nonce []byte) (bool, error) {
	var used bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		used, err = txState{tx}.NonceConsumed(nonce)
		return err
	})
	return used, err
}

func (s *Store) NonceConsume(nonce []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return txState{tx}.NonceConsume(nonce)
	})
}

// Update runs fn inside one Bolt write transaction, so every write fn issues
// commits atomically and an error discards them all.
func (s *Store) Update(fn func(loan.State) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(txState{tx})
	})
}
