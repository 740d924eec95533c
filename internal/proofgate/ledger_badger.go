package proofgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/logger"
)

// BadgerLedger keeps the ledger in an embedded badger database.
type BadgerLedger struct {
	db             *badger.DB
	reservationTTL time.Duration
}

// OpenBadgerLedger opens a ledger at dir, or an in-memory one when dir is empty.
func OpenBadgerLedger(dir string, reservationTTL time.Duration) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithLogger(badgerLogger{}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger ledger: %w", err)
	}
	if reservationTTL <= 0 {
		reservationTTL = DefaultReservationTTL
	}
	return &BadgerLedger{db: db, reservationTTL: reservationTTL}, nil
}

// Reserve writes a pending entry with a TTL. A conflicting concurrent
// transaction on the same key counts as the key being in use.
func (l *BadgerLedger) Reserve(_ context.Context, key string) (bool, error) {
	k := []byte(proofKeyPrefix + key)
	reserved := false
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e := badger.NewEntry(k, []byte(pendingValue)).WithTTL(l.reservationTTL)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		reserved = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return reserved, nil
}

func (l *BadgerLedger) Commit(_ context.Context, key string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(proofKeyPrefix+key), []byte(consumedValue))
	})
}

func (l *BadgerLedger) Release(_ context.Context, key string) error {
	k := []byte(proofKeyPrefix + key)
	return l.db.Update(func(txn *badger.Txn) error {
		v, err := l.value(txn, k)
		if err != nil || v != pendingValue {
			return err
		}
		return txn.Delete(k)
	})
}

func (l *BadgerLedger) Consumed(_ context.Context, key string) (bool, error) {
	var consumed bool
	err := l.db.View(func(txn *badger.Txn) error {
		v, err := l.value(txn, []byte(proofKeyPrefix+key))
		consumed = v == consumedValue
		return err
	})
	return consumed, err
}

// value returns "" for a missing key.
func (l *BadgerLedger) value(txn *badger.Txn, k []byte) (string, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

// badgerLogger routes badger's log output through the service logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { logger.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { logger.Warningf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { logger.Infof("badger: "+format, args...) }
func (badgerLogger) Debugf(string, ...any)               {}
