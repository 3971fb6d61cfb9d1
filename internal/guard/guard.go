// Package guard evaluates named preconditions that gate probes. A failing
// guard means "don't probe now", never "the channel is down".
//
// Guard names are "kind:argument", for example "iface:utun0" or
// "dns:intranet.example.com". Results are cached per name for a short TTL,
// and concurrent evaluations of the same name share one check.
package guard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 5 * time.Second

type Result struct {
	Passed    bool           `json:"passed"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checkedAt"`
}

type Check interface {
	Evaluate(ctx context.Context) Result
}

type CheckFunc func(ctx context.Context) Result

func (f CheckFunc) Evaluate(ctx context.Context) Result { return f(ctx) }

// Builder creates a Check from the argument part of a guard name.
type Builder func(arg string) (Check, error)

type cached struct {
	res Result
	exp time.Time
}

type Gate struct {
	mu       sync.Mutex
	checks   map[string]Check
	builders map[string]Builder
	cache    map[string]cached
	group    singleflight.Group
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewGate returns a gate with the iface and dns builders registered.
func NewGate(ttl time.Duration, log *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		checks:   make(map[string]Check),
		builders: make(map[string]Builder),
		cache:    make(map[string]cached),
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
	g.RegisterBuilder("iface", InterfaceUp)
	g.RegisterBuilder("dns", DNSReachable)
	return g
}

// Register binds an exact guard name to a check.
func (g *Gate) Register(name string, c Check) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks[name] = c
	delete(g.cache, name)
}

func (g *Gate) RegisterBuilder(kind string, b Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.builders[kind] = b
}

func (g *Gate) resolve(name string) (Check, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.checks[name]; ok {
		return c, nil
	}
	kind, arg, _ := strings.Cut(name, ":")
	b, ok := g.builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown guard %q", name)
	}
	c, err := b(arg)
	if err != nil {
		return nil, fmt.Errorf("guard %q: %w", name, err)
	}
	g.checks[name] = c
	return c, nil
}

// Evaluate returns the cached result for name, running the check when the
// cache entry is missing or stale.
func (g *Gate) Evaluate(ctx context.Context, name string) Result {
	g.mu.Lock()
	if c, ok := g.cache[name]; ok && g.now().Before(c.exp) {
		g.mu.Unlock()
		return c.res
	}
	g.mu.Unlock()

	v, _, _ := g.group.Do(name, func() (any, error) {
		check, err := g.resolve(name)
		var res Result
		if err != nil {
			res = Result{Passed: false, Error: err.Error()}
		} else {
			res = check.Evaluate(ctx)
		}
		now := g.now()
		res.CheckedAt = now
		g.mu.Lock()
		g.cache[name] = cached{res: res, exp: now.Add(g.ttl)}
		g.mu.Unlock()
		if !res.Passed {
			g.log.Debug("guard_failed", zap.String("guard", name), zap.String("error", res.Error))
		}
		return res, nil
	})
	return v.(Result)
}

// Allow evaluates names in order and stops at the first failure.
func (g *Gate) Allow(ctx context.Context, names []string) (failed string, res Result, ok bool) {
	for _, n := range names {
		r := g.Evaluate(ctx, n)
		if !r.Passed {
			return n, r, false
		}
	}
	return "", Result{Passed: true}, true
}

// Invalidate drops cached results; with no names the whole cache is cleared.
func (g *Gate) Invalidate(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(names) == 0 {
		g.cache = make(map[string]cached)
		return
	}
	for _, n := range names {
		delete(g.cache, n)
	}
}
