package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pion/logging"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory only.
	InMemory bool

	LoggerFactory logging.LoggerFactory
}

// BadgerStore is a Store backed by badger.
type BadgerStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool

	log logging.LeveledLogger
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a badger database.
func OpenBadger(config BadgerConfig) (*BadgerStore, error) {
	if !config.InMemory && config.Path == "" {
		return nil, errors.New("store: path is required")
	}

	s := &BadgerStore{}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("store")
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithSyncWrites(true)
	if s.log != nil {
		opts = opts.WithLogger(&badgerLogger{log: s.log})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	s.db = db
	return s, nil
}

// Put stores value under key.
func (s *BadgerStore) Put(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get returns the value stored under key.
func (s *BadgerStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes key.
func (s *BadgerStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger forwards badger's log output to a pion logger.
type badgerLogger struct {
	log logging.LeveledLogger
}

func (b *badgerLogger) Errorf(format string, args ...interface{})   { b.log.Errorf(format, args...) }
func (b *badgerLogger) Warningf(format string, args ...interface{}) { b.log.Warnf(format, args...) }
func (b *badgerLogger) Infof(format string, args ...interface{})    { b.log.Debugf(format, args...) }
func (b *badgerLogger) Debugf(format string, args ...interface{})   { b.log.Tracef(format, args...) }
