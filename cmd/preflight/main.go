// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/config"
	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/guard"
	"github.com/hamed0406/healthwatch/internal/probe"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	cfg := config.FromEnv()

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (admin routes will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (read routes will 401).")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if os.Getenv("API_ADDR") == "" {
		warn("API_ADDR is empty; using " + cfg.Addr)
	} else {
		ok("API_ADDR=" + cfg.Addr)
	}

	switch cfg.Storage {
	case "memory":
		warn("STORAGE=memory; samples and outages are lost on restart.")
	case "badger":
		ok("STORAGE=badger in " + filepath.Join(cfg.DataDir, "badger"))
	case "postgres":
		if cfg.DatabaseURL == "" {
			fail("STORAGE=postgres but DATABASE_URL is empty.")
		}
		ok("DATABASE_URL present")
	default:
		fail("STORAGE must be memory, badger or postgres, got " + cfg.Storage)
	}

	if cfg.Storage == "badger" || cfg.Coordination == "file" {
		if err := writable(cfg.DataDir); err != nil {
			fail("DATA_DIR " + cfg.DataDir + " is not writable: " + err.Error())
		}
		ok("DATA_DIR=" + cfg.DataDir + " writable")
	}

	switch cfg.Coordination {
	case "off":
		warn("COORDINATION=off; run a single instance only.")
	case "file":
		ok("COORDINATION=file, instance " + cfg.InstanceID)
		if cfg.Storage == "badger" {
			warn("badger allows one process per DATA_DIR; give each instance its own DATA_DIR or use postgres.")
		}
	case "consul":
		if cfg.ConsulAddr == "" {
			warn("COORDINATION=consul with empty CONSUL_ADDR; the consul client default will be used.")
		} else {
			ok("CONSUL_ADDR=" + cfg.ConsulAddr)
		}
	default:
		fail("COORDINATION must be off, file or consul, got " + cfg.Coordination)
	}
	if cfg.LeaseTTL <= 2*cfg.ElectionInterval {
		warn(fmt.Sprintf("LEASE_TTL_MS (%s) should be well above ELECTION_INTERVAL_MS (%s).", cfg.LeaseTTL, cfg.ElectionInterval))
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows any origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		fail(err.Error())
	}
	ok(fmt.Sprintf("%s: %d channels", cfg.ChannelsFile, len(channels)))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	checkHosts(ctx, channels, ok, warn)
	checkGuards(ctx, cfg, channels, ok, warn)

	ok("preflight passed")
}

func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// checkHosts resolves every channel host once. Failures only warn since
// the daemon may run where DNS differs.
func checkHosts(ctx context.Context, channels []domain.Channel, ok, warn func(string)) {
	seen := map[string]bool{}
	for _, ch := range channels {
		host := ch.Host
		switch ch.Type {
		case domain.ChannelHTTP:
			u, err := url.Parse(ch.URL)
			if err != nil {
				continue
			}
			host = u.Hostname()
		case domain.ChannelDNS:
			host = ch.Hostname
		case domain.ChannelScript:
			continue
		}
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		st := probe.CheckDNS(ctx, host)
		if st.Class == probe.DNSResolves {
			ok(fmt.Sprintf("%s: %s resolves", ch.ID, st.Domain))
		} else {
			warn(fmt.Sprintf("%s: %s is %s", ch.ID, st.Domain, st.Class))
		}
	}
}

func checkGuards(ctx context.Context, cfg config.Config, channels []domain.Channel, ok, warn func(string)) {
	gate := guard.NewGate(cfg.GuardCacheTTL, zap.NewNop())
	seen := map[string]bool{}
	for _, ch := range channels {
		for _, name := range ch.Guards {
			if seen[name] {
				continue
			}
			seen[name] = true
			res := gate.Evaluate(ctx, name)
			if res.Passed {
				ok("guard " + name + " passes")
			} else {
				warn("guard " + name + " fails now: " + res.Error)
			}
		}
	}
}
