package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
)

var runPrefix = []byte("run/")

// BadgerConfig controls where the persistent archive lives.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     logging.Logger
	Metrics    MetricsRecorder
}

// BadgerStore is a Store backed by an embedded Badger database. Records are
// JSON encoded under run/<id>.
type BadgerStore struct {
	db      *badger.DB
	log     logging.Logger
	metrics MetricsRecorder
	subs    subscribers

	// countMu orders gauge updates; each count is taken and published under it.
	countMu sync.Mutex
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) the archive described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("kb: path is required for a persistent archive")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("kb: create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kb: open badger archive: %w", err)
	}
	s := &BadgerStore{db: db, log: log, metrics: cfg.Metrics}
	s.publishCount()
	return s, nil
}

func runKey(id string) []byte {
	return append(append([]byte(nil), runPrefix...), id...)
}

// Put archives rec. It returns ErrAlreadyExists if the ID is taken.
func (s *BadgerStore) Put(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("kb: run ID is required")
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kb: encode run %q: %w", rec.ID, err)
	}
	key := runKey(rec.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		switch _, err := txn.Get(key); {
		case err == nil:
			return fmt.Errorf("kb: run %q: %w", rec.ID, ErrAlreadyExists)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return err
	}
	s.log.Debug(ctx, "run archived", logging.String("run_id", rec.ID))
	s.publishCount()
	s.subs.publish(Event{Type: EventRunArchived, Run: rec})
	return nil
}

// Get returns the run with the given ID.
func (s *BadgerStore) Get(_ context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("kb: run %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// List returns every archived run, newest first.
func (s *BadgerStore) List(_ context.Context) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(runPrefix); it.ValidForPrefix(runPrefix); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("kb: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a run.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	key := runKey(id)
	var rec RunRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("kb: run %q: %w", id, ErrNotFound)
		} else if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("kb: decode run %q: %w", id, err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	s.log.Debug(ctx, "run deleted", logging.String("run_id", id))
	s.publishCount()
	s.subs.publish(Event{Type: EventRunDeleted, Run: rec})
	return nil
}

// Subscribe registers a callback for archive events. It returns an
// unsubscribe function.
func (s *BadgerStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.subs.add(fn)
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) publishCount() {
	if s.metrics == nil {
		return
	}
	s.countMu.Lock()
	defer s.countMu.Unlock()
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(runPrefix); it.ValidForPrefix(runPrefix); it.Next() {
			n++
		}
		return nil
	})
	s.metrics.SetArchivedRuns(n)
}

// badgerLogger routes Badger's printf-style logging into the structured
// logger. Badger is chatty at info level, so everything below warnings goes
// to debug.
type badgerLogger struct {
	log logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...), logging.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...), logging.String("component", "badger"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...), logging.String("component", "badger"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...), logging.String("component", "badger"))
}
