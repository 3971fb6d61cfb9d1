package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	LeaseFile       = "lease.json"
	leaseLockFile   = "lease.lock"
	lockAttempts    = 5
	lockRetryPeriod = 10 * time.Millisecond
)

// FileLeaseStore keeps the lease as JSON in dir/lease.json. Every
// read-modify-write happens under an advisory lock on dir/lease.lock.
type FileLeaseStore struct {
	path     string
	lockPath string
	now      func() time.Time
}

var _ LeaseStore = (*FileLeaseStore)(nil)

func NewFileLeaseStore(dir string) (*FileLeaseStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("lease dir: %w", err)
	}
	return &FileLeaseStore{
		path:     filepath.Join(dir, LeaseFile),
		lockPath: filepath.Join(dir, leaseLockFile),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *FileLeaseStore) lock(ctx context.Context) (func(), error) {
	for i := 0; ; i++ {
		unlock, err := tryLock(s.lockPath)
		if !errors.Is(err, ErrLockBusy) || i == lockAttempts-1 {
			return unlock, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryPeriod):
		}
	}
}

func (s *FileLeaseStore) Acquire(ctx context.Context, owner string, ttl time.Duration) (Lease, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return Lease{}, err
	}
	defer unlock()

	cur, found, err := s.read()
	if err != nil {
		return Lease{}, err
	}
	now := s.now()
	if found && cur.Owner != owner && cur.Valid(now) {
		return cur, nil
	}

	next := Lease{Owner: owner, AcquiredAt: now, LastHeartbeat: now, TTL: ttl}
	if found && cur.Owner == owner && cur.Valid(now) {
		next.AcquiredAt = cur.AcquiredAt
	}
	b, err := json.Marshal(next)
	if err != nil {
		return Lease{}, err
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return Lease{}, fmt.Errorf("write lease: %w", err)
	}
	return next, nil
}

func (s *FileLeaseStore) Release(ctx context.Context, owner string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	cur, found, err := s.read()
	if err != nil || !found || cur.Owner != owner {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lease: %w", err)
	}
	return nil
}

// Current reads the lease without locking; found is false when none exists.
func (s *FileLeaseStore) Current() (Lease, bool, error) {
	return s.read()
}

func (s *FileLeaseStore) read() (Lease, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("read lease: %w", err)
	}
	var l Lease
	if err := json.Unmarshal(b, &l); err != nil {
		return Lease{}, false, fmt.Errorf("%w: %v", ErrCorruptLease, err)
	}
	if l.Owner == "" || l.TTL <= 0 {
		return Lease{}, false, fmt.Errorf("%w: missing owner or ttl", ErrCorruptLease)
	}
	return l, true, nil
}
