package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

const (
	DNSResolves     = "RESOLVES"
	DNSNXDomain     = "NXDOMAIN"
	DNSNoARecord    = "NO_A_RECORD"
	DNSServFail     = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName  = "INVALID_NAME"
	defaultDNSLimit = 3 * time.Second
)

type DNSStatus struct {
	Domain        string
	HasAOrAAAA    bool
	IPs           []net.IP
	CNAME         string
	HasNS         bool
	Nameservers   []string
	Class         string
	ResolverError string
}

// CheckDNS classifies a name using the OS resolver.
func CheckDNS(ctx context.Context, name string) DNSStatus {
	return checkDNS(ctx, net.DefaultResolver, name)
}

func checkDNS(ctx context.Context, r *net.Resolver, name string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(name)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = DNSInvalidName
		return s
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDNSLimit)
		defer cancel()
	}

	ips, err := r.LookupIP(ctx, "ip", s.Domain)
	if err == nil && len(ips) > 0 {
		s.HasAOrAAAA = true
		s.IPs = ips
		s.Class = DNSResolves
	} else if err != nil {
		var de *net.DNSError
		s.ResolverError = err.Error()
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.Class = DNSNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.Class = DNSServFail
			}
		}
	}

	if cname, err := r.LookupCNAME(ctx, s.Domain); err == nil && !strings.EqualFold(cname, s.Domain+".") {
		s.CNAME = strings.TrimSuffix(cname, ".")
	}

	if ns, err := r.LookupNS(ctx, s.Domain); err == nil && len(ns) > 0 {
		s.HasNS = true
		for _, n := range ns {
			s.Nameservers = append(s.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
		if s.Class == DNSNXDomain {
			s.Class = DNSNoARecord
		}
	}

	if s.Class == "" {
		switch {
		case s.HasAOrAAAA:
			s.Class = DNSResolves
		case s.HasNS:
			s.Class = DNSNoARecord
		case s.ResolverError != "":
			s.Class = DNSServFail
		default:
			s.Class = DNSNXDomain
		}
	}
	return s
}

type DNSProber struct {
	Resolver *net.Resolver
}

func NewDNSProber() *DNSProber {
	return &DNSProber{Resolver: net.DefaultResolver}
}

// Probe succeeds when the channel's hostname resolves to an address.
func (d *DNSProber) Probe(ctx context.Context, ch domain.Channel) Result {
	host := ch.Hostname
	if host == "" {
		host = extractHost(ch.URL)
	}
	start := time.Now()
	st := checkDNS(ctx, d.Resolver, host)
	res := Result{
		Success:   st.Class == DNSResolves,
		LatencyMS: sinceMS(start),
		Details:   map[string]any{"class": st.Class, "addresses": len(st.IPs)},
	}
	if st.CNAME != "" {
		res.Details["cname"] = st.CNAME
	}
	if !res.Success {
		res.Error = st.Class
		if st.ResolverError != "" {
			res.Error = st.Class + ": " + st.ResolverError
		}
	}
	return res
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
