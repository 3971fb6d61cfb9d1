package guard

import (
	"context"
	"errors"
	"net"

	"github.com/hamed0406/healthwatch/internal/probe"
)

var errMissingArg = errors.New("missing argument")

// InterfaceUp passes when the named network interface exists and is up,
// e.g. a VPN tunnel.
func InterfaceUp(name string) (Check, error) {
	if name == "" {
		return nil, errMissingArg
	}
	return CheckFunc(func(ctx context.Context) Result {
		ifc, err := net.InterfaceByName(name)
		if err != nil {
			return Result{Passed: false, Error: err.Error()}
		}
		up := ifc.Flags&net.FlagUp != 0
		res := Result{Passed: up, Details: map[string]any{"interface": name, "flags": ifc.Flags.String()}}
		if !up {
			res.Error = "interface " + name + " is down"
		}
		return res
	}), nil
}

// DNSReachable passes when host resolves to at least one address.
func DNSReachable(host string) (Check, error) {
	if host == "" {
		return nil, errMissingArg
	}
	return CheckFunc(func(ctx context.Context) Result {
		st := probe.CheckDNS(ctx, host)
		res := Result{Passed: st.Class == probe.DNSResolves, Details: map[string]any{"class": st.Class}}
		if !res.Passed {
			res.Error = "dns " + host + ": " + st.Class
		}
		return res
	}), nil
}
