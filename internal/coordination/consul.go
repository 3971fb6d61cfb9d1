package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// Consul rejects session TTLs outside [10s, 24h].
const consulMinTTL = 10 * time.Second

// DefaultConsulKey is the KV key holding the leader's lease.
const DefaultConsulKey = "healthwatch/leader"

// ConsulLeaseStore backs the lease with a consul session and a KV lock. The
// session TTL replaces the heartbeat check: consul deletes the key when the
// owner stops renewing.
type ConsulLeaseStore struct {
	client *consulapi.Client
	key    string
	now    func() time.Time

	mu         sync.Mutex
	session    string
	acquiredAt time.Time
}

var _ LeaseStore = (*ConsulLeaseStore)(nil)

func NewConsulLeaseStore(addr, key string) (*ConsulLeaseStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if key == "" {
		key = DefaultConsulKey
	}
	return &ConsulLeaseStore{client: client, key: key, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *ConsulLeaseStore) ensureSession(ctx context.Context, owner string, ttl time.Duration) error {
	wopts := (&consulapi.WriteOptions{}).WithContext(ctx)
	if s.session != "" {
		entry, _, err := s.client.Session().Renew(s.session, wopts)
		if err != nil {
			return fmt.Errorf("renew session: %w", err)
		}
		if entry != nil {
			return nil
		}
		s.session = ""
		return ErrNoSession
	}
	if ttl < consulMinTTL {
		ttl = consulMinTTL
	}
	id, _, err := s.client.Session().Create(&consulapi.SessionEntry{
		Name:      "healthwatch-" + owner,
		TTL:       ttl.String(),
		Behavior:  consulapi.SessionBehaviorDelete,
		LockDelay: time.Millisecond,
	}, wopts)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.session = id
	return nil
}

func (s *ConsulLeaseStore) Acquire(ctx context.Context, owner string, ttl time.Duration) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureSession(ctx, owner, ttl); err != nil {
		return Lease{}, err
	}

	now := s.now()
	if s.acquiredAt.IsZero() {
		s.acquiredAt = now
	}
	mine := Lease{Owner: owner, AcquiredAt: s.acquiredAt, LastHeartbeat: now, TTL: ttl}
	b, err := json.Marshal(mine)
	if err != nil {
		return Lease{}, err
	}
	kv := s.client.KV()
	ok, _, err := kv.Acquire(&consulapi.KVPair{Key: s.key, Value: b, Session: s.session},
		(&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return Lease{}, fmt.Errorf("acquire %s: %w", s.key, err)
	}
	if ok {
		return mine, nil
	}
	s.acquiredAt = time.Time{}

	pair, _, err := kv.Get(s.key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return Lease{}, fmt.Errorf("get %s: %w", s.key, err)
	}
	if pair == nil {
		// released between acquire and get; next tick retries
		return Lease{}, ErrLockBusy
	}
	var cur Lease
	if err := json.Unmarshal(pair.Value, &cur); err != nil {
		return Lease{}, fmt.Errorf("%w: %v", ErrCorruptLease, err)
	}
	return cur, nil
}

func (s *ConsulLeaseStore) Release(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == "" {
		return nil
	}
	wopts := (&consulapi.WriteOptions{}).WithContext(ctx)
	if _, _, err := s.client.KV().Release(&consulapi.KVPair{Key: s.key, Session: s.session}, wopts); err != nil {
		return fmt.Errorf("release %s: %w", s.key, err)
	}
	if _, err := s.client.Session().Destroy(s.session, wopts); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	s.session = ""
	s.acquiredAt = time.Time{}
	return nil
}
