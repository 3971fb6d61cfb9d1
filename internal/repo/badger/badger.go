// Package badger is an embedded, file-backed Store. A badger directory can be
// opened by one process at a time, so each instance needs its own path.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/repo"
)

const (
	prefixState   = "state/"
	prefixOutage  = "outage/"
	prefixSample  = "sample/"
	prefixAlert   = "alert/"
	prefixWatch   = "watch/"
	keyWatchNow   = "watch-current"
	DefaultSample = 7 * 24 * time.Hour
)

type Config struct {
	Path string
	// InMemory ignores Path; used by tests.
	InMemory bool
	// SampleTTL expires samples; zero keeps DefaultSample.
	SampleTTL time.Duration
	Logger    *zap.Logger
}

type Store struct {
	db        *badger.DB
	sampleTTL time.Duration
	inMemory  bool
}

var _ repo.Store = (*Store)(nil)

// zapLogger adapts zap to badger's Logger interface.
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l zapLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l zapLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l zapLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapLogger{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	ttl := cfg.SampleTTL
	if ttl <= 0 {
		ttl = DefaultSample
	}
	return &Store{db: db, sampleTTL: ttl, inMemory: cfg.InMemory}, nil
}

// Close flushes pending writes to disk before closing.
func (s *Store) Close() error {
	var err error
	if !s.inMemory {
		err = s.db.Sync()
	}
	return multierr.Append(err, s.db.Close())
}

func (s *Store) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), b)
	})
}

// get decodes key into v; found is false when the key is absent.
func (s *Store) get(key string, v any) (found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// scan calls fn for every value under prefix starting at from (or prefix).
// fn returns false to stop.
func (s *Store) scan(prefix, from string, fn func(key string, val []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		start := p
		if from != "" {
			start = []byte(from)
		}
		for it.Seek(start); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			more, err := fn(string(item.Key()), val)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// ---- StateStore ----

func (s *Store) GetChannelState(ctx context.Context, id domain.ChannelID) (*domain.ChannelState, error) {
	var st domain.ChannelState
	found, err := s.get(prefixState+string(id), &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SetChannelState(ctx context.Context, st domain.ChannelState) error {
	return s.put(prefixState+string(st.ChannelID), st.Reduced(0))
}

func (s *Store) ListChannelStates(ctx context.Context) ([]domain.ChannelState, error) {
	var out []domain.ChannelState
	err := s.scan(prefixState, "", func(_ string, val []byte) (bool, error) {
		var st domain.ChannelState
		if err := json.Unmarshal(val, &st); err != nil {
			return false, err
		}
		out = append(out, st)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteChannelState(ctx context.Context, id domain.ChannelID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixState + string(id))); err != nil {
			return err
		}
		return nil
	})
}

// ---- OutageStore ----

func outageKey(o domain.Outage) string {
	return prefixOutage + string(o.ChannelID) + "/" + o.ID
}

func (s *Store) GetOutages(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Outage, error) {
	prefix := prefixOutage
	if id != "" {
		prefix += string(id) + "/"
	}
	var out []domain.Outage
	err := s.scan(prefix, "", func(_ string, val []byte) (bool, error) {
		var o domain.Outage
		if err := json.Unmarshal(val, &o); err != nil {
			return false, err
		}
		out = append(out, o)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get outages: %w", err)
	}
	return repo.NewestOutages(out, limit), nil
}

func (s *Store) RecordOutage(ctx context.Context, o domain.Outage) error {
	return s.put(outageKey(o), o)
}

func (s *Store) UpdateOutage(ctx context.Context, o domain.Outage) error {
	var existing domain.Outage
	found, err := s.get(outageKey(o), &existing)
	if err != nil {
		return err
	}
	if !found {
		return repo.ErrNotFound
	}
	return s.put(outageKey(o), o)
}

// ---- WatchStore ----

func (s *Store) GetCurrentWatchSession(ctx context.Context) (*domain.WatchSession, error) {
	var ws domain.WatchSession
	found, err := s.get(keyWatchNow, &ws)
	if err != nil || !found {
		return nil, err
	}
	return &ws, nil
}

func (s *Store) StartWatchSession(ctx context.Context, ws domain.WatchSession) error {
	return s.put(keyWatchNow, ws)
}

func (s *Store) EndWatchSession(ctx context.Context, ws domain.WatchSession) error {
	b, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal watch session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixWatch+ws.ID), b); err != nil {
			return err
		}
		item, err := txn.Get([]byte(keyWatchNow))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var cur domain.WatchSession
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
			return err
		}
		if cur.ID != ws.ID {
			return nil
		}
		return txn.Delete([]byte(keyWatchNow))
	})
}

// ---- SampleStore ----

// sampleKey orders samples by time within a channel: the timestamp is
// zero-padded so lexical order matches numeric order.
func sampleKey(id domain.ChannelID, t time.Time) string {
	return fmt.Sprintf("%s%s/%020d", prefixSample, id, t.UnixNano())
}

func (s *Store) AppendSample(ctx context.Context, id domain.ChannelID, smp domain.Sample) error {
	b, err := json.Marshal(smp)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(sampleKey(id, smp.Timestamp)), b).WithTTL(s.sampleTTL)
		return txn.SetEntry(e)
	})
}

func (s *Store) GetSamples(ctx context.Context, id domain.ChannelID, start, end time.Time) ([]domain.Sample, error) {
	prefix := prefixSample + string(id) + "/"
	from := ""
	if !start.IsZero() {
		from = sampleKey(id, start)
	}
	var out []domain.Sample
	err := s.scan(prefix, from, func(_ string, val []byte) (bool, error) {
		var smp domain.Sample
		if err := json.Unmarshal(val, &smp); err != nil {
			return false, err
		}
		if !end.IsZero() && smp.Timestamp.After(end) {
			return false, nil
		}
		out = append(out, smp)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get samples: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ---- AlertStore ----

func (s *Store) GetAlert(ctx context.Context, id domain.ChannelID) (*repo.AlertRecord, error) {
	var r repo.AlertRecord
	found, err := s.get(prefixAlert+string(id), &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SetAlert(ctx context.Context, id domain.ChannelID, status domain.Status, sentAt time.Time) error {
	return s.put(prefixAlert+string(id), repo.NewAlertRecord(id, status, sentAt))
}
