package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// Registry dispatches to a Prober by channel type.
type Registry struct {
	probers map[domain.ChannelType]Prober
}

func NewRegistry() *Registry {
	return &Registry{probers: make(map[domain.ChannelType]Prober)}
}

// Default wires the built-in probers, each HTTP request capped at httpTimeout.
func Default(httpTimeout time.Duration) *Registry {
	r := NewRegistry()
	r.Register(domain.ChannelHTTP, NewHTTPProber(httpTimeout))
	r.Register(domain.ChannelTCP, NewTCPProber())
	r.Register(domain.ChannelDNS, NewDNSProber())
	r.Register(domain.ChannelScript, NewScriptProber())
	return r
}

func (r *Registry) Register(t domain.ChannelType, p Prober) {
	r.probers[t] = p
}

// Wrap replaces every registered prober with wrap(prober).
func (r *Registry) Wrap(wrap func(Prober) Prober) {
	for t, p := range r.probers {
		r.probers[t] = wrap(p)
	}
}

func (r *Registry) Probe(ctx context.Context, ch domain.Channel) Result {
	p, ok := r.probers[ch.Type]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("no prober for channel type %q", ch.Type)}
	}
	return p.Probe(ctx, ch)
}
