package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"git.mills.io/prologic/bitcask"

	"zimage/generation"
	"zimage/logger"
)

// counterTTL keeps day counters around long enough to span timezones and
// restarts without accumulating forever.
const counterTTL = 48 * time.Hour

// Store keeps generation records and per-user day counters in a local
// bitcask database. Values are gzip-compressed, keys are sha3 hashes.
type Store struct {
	db *bitcask.Bitcask
	mu sync.Mutex // guards the read-modify-write on counters
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	// Raise the max value size; generation records are small but the
	// default 64KB cap is uncomfortably close.
	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	s := &Store{db: db}
	go s.mergeLoop()
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) mergeLoop() {
	for {
		time.Sleep(24 * time.Hour)
		logger.Info("Merging store to reclaim space")
		if err := s.db.Merge(); err != nil {
			logger.Error("Store merge failed", "error", err)
		}
	}
}

// Record persists one finished generation and bumps the owner's counter
// for today.
func (s *Store) Record(rec generation.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	compressed, err := compress(data)
	if err != nil {
		return err
	}
	if err := s.db.Put(cacheKey("gen_"+rec.ID), compressed); err != nil {
		return err
	}

	if rec.UserID != "" {
		if err := s.bumpCounter(rec.UserID, rec.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// CountToday returns how many generations the user has completed today (UTC).
func (s *Store) CountToday(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter(userID, time.Now().UTC())
}

func (s *Store) bumpCounter(userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	count, err := s.counter(userID, at)
	if err != nil {
		return err
	}

	compressed, err := compress([]byte(strconv.Itoa(count + 1)))
	if err != nil {
		return err
	}
	return s.db.PutWithTTL(counterKey(userID, at), compressed, counterTTL)
}

func (s *Store) counter(userID string, at time.Time) (int, error) {
	key := counterKey(userID, at)
	if !s.db.Has(key) {
		return 0, nil
	}

	compressed, err := s.db.Get(key)
	if err != nil {
		return 0, err
	}
	data, err := decompress(compressed)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func counterKey(userID string, at time.Time) []byte {
	return cacheKey("count_" + userID + "_" + at.Format("2006-01-02"))
}
