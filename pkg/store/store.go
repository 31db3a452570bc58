package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const syncInterval = 4 * time.Second

// Store wraps the badger database holding feed and channel records.
// Writes go through badger transactions; a background ticker syncs the
// value log to disk so a crash loses at most a few seconds of updates.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open opens or creates the database directory at path and starts the
// periodic sync loop.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
		stopCh: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.syncLoop()

	return s, nil
}

// Close stops the sync loop and closes the database, flushing pending
// writes.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (s *Store) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.db.Sync(); err != nil {
				s.logger.Warn("Store sync failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}
