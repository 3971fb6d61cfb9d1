// Package coordination elects one leader among processes that share a lease
// domain and replicates the leader's monitoring state to followers.
package coordination

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleUnelected Role = "unelected"
	RoleFollower  Role = "follower"
	RoleLeader    Role = "leader"
)

var (
	// ErrLockBusy is transient: another process holds the lease lock.
	ErrLockBusy = errors.New("lease lock busy")
	// ErrCorruptLease and ErrCorruptState are persistent.
	ErrCorruptLease = errors.New("corrupt lease")
	ErrCorruptState = errors.New("corrupt shared state")
	ErrNoSession    = errors.New("lease session expired")
	ErrNotLeader    = errors.New("not the leader")
)

// Lease is the leadership claim. It is valid while now - LastHeartbeat < TTL.
type Lease struct {
	Owner         string        `json:"ownerInstanceId"`
	AcquiredAt    time.Time     `json:"acquiredAt"`
	LastHeartbeat time.Time     `json:"lastHeartbeatAt"`
	TTL           time.Duration `json:"ttl"`
}

func (l Lease) Valid(now time.Time) bool {
	return l.Owner != "" && now.Sub(l.LastHeartbeat) < l.TTL
}

func (l Lease) ExpiresAt() time.Time { return l.LastHeartbeat.Add(l.TTL) }

// Beats breaks ties between two claims: the later heartbeat wins, then the
// lexicographically smaller owner.
func (l Lease) Beats(other Lease) bool {
	if !l.LastHeartbeat.Equal(other.LastHeartbeat) {
		return l.LastHeartbeat.After(other.LastHeartbeat)
	}
	return l.Owner < other.Owner
}

// LeaseStore is the swappable backing store for leader election.
type LeaseStore interface {
	// Acquire claims a free or expired lease, or refreshes owner's own lease.
	// It returns the lease in force afterwards; the caller leads iff its
	// Owner equals owner.
	Acquire(ctx context.Context, owner string, ttl time.Duration) (Lease, error)
	// Release drops the lease if owner holds it.
	Release(ctx context.Context, owner string) error
}

func isTransient(err error) bool {
	return errors.Is(err, ErrLockBusy) ||
		errors.Is(err, ErrNoSession) ||
		errors.Is(err, context.DeadlineExceeded)
}
