package probe

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

func TestRegistry_DispatchesByType(t *testing.T) {
	r := NewRegistry()
	called := ""
	r.Register(domain.ChannelTCP, ProberFunc(func(ctx context.Context, ch domain.Channel) Result {
		called = string(ch.ID)
		return Result{Success: true}
	}))

	if out := r.Probe(context.Background(), domain.Channel{ID: "db", Type: domain.ChannelTCP}); !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if called != "db" {
		t.Fatalf("tcp prober not called")
	}
	out := r.Probe(context.Background(), domain.Channel{ID: "x", Type: domain.ChannelDNS})
	if out.Success || !strings.Contains(out.Error, "no prober") {
		t.Fatalf("want dispatch failure, got %+v", out)
	}
}

func TestRegistry_Wrap(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.ChannelHTTP, &fakeProber{results: []Result{{Error: "a"}, {Success: true}}})
	r.Wrap(func(p Prober) Prober { return &RetryProber{Inner: p, Attempts: 2} })
	if out := r.Probe(context.Background(), domain.Channel{Type: domain.ChannelHTTP}); !out.Success {
		t.Fatalf("want wrapped retry to succeed, got %+v", out)
	}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	ch := domain.Channel{ID: "t", Type: domain.ChannelTCP, Host: "127.0.0.1", Port: port}
	if out := NewTCPProber().Probe(context.Background(), ch); !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if out := NewTCPProber().Probe(ctx, ch); out.Success {
		t.Fatalf("want failure after close on port %s", strconv.Itoa(port))
	}
}

func TestScriptProber(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	okCh := domain.Channel{ID: "s", Type: domain.ChannelScript, Command: "sh", Args: []string{"-c", "echo fine"}}
	if out := NewScriptProber().Probe(context.Background(), okCh); !out.Success {
		t.Fatalf("want success, got %+v", out)
	}

	badCh := domain.Channel{ID: "s", Type: domain.ChannelScript, Command: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}}
	out := NewScriptProber().Probe(context.Background(), badCh)
	if out.Success {
		t.Fatalf("want failure")
	}
	if out.Error != "exit status 3: broken" {
		t.Fatalf("unexpected error %q", out.Error)
	}
	if out.Details["exitCode"] != 3 {
		t.Fatalf("want exitCode 3, got %v", out.Details["exitCode"])
	}
}

func TestCheckDNS_InvalidName(t *testing.T) {
	if st := CheckDNS(context.Background(), "https://example.com"); st.Class != DNSInvalidName {
		t.Fatalf("want %s, got %s", DNSInvalidName, st.Class)
	}
	if st := CheckDNS(context.Background(), "  "); st.Class != DNSInvalidName {
		t.Fatalf("want %s, got %s", DNSInvalidName, st.Class)
	}
}
