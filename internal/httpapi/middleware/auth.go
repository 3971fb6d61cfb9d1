// Package middleware gates the API: key roles, follower write refusal and
// per-client rate limiting.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Role is the access level an API key grants.
type Role string

const (
	RoleNone   Role = ""
	RoleReader Role = "reader"
	RoleAdmin  Role = "admin"
)

// Keys are the accepted API keys. Public keys read channel state, stats,
// outages and the event stream; admin keys also run checks and drive watch
// sessions.
type Keys struct {
	Public []string
	Admin  []string
}

// Enabled reports whether any key is configured.
func (k Keys) Enabled() bool { return len(k.Public) > 0 || len(k.Admin) > 0 }

// RoleOf returns the role of the key presented on r, read from a bearer
// token or X-API-Key.
func (k Keys) RoleOf(r *http.Request) Role {
	key := presented(r)
	switch {
	case matches(key, k.Admin):
		return RoleAdmin
	case matches(key, k.Public):
		return RoleReader
	}
	return RoleNone
}

func presented(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func matches(given string, set []string) bool {
	if given == "" {
		return false
	}
	found := 0
	for _, k := range set {
		found |= subtle.ConstantTimeCompare([]byte(k), []byte(given))
	}
	return found == 1
}

// ErrorBody is the JSON shape of every API error. Required names the role a
// refused key lacked; Leader names the instance a follower defers writes to.
type ErrorBody struct {
	Error    string `json:"error"`
	Required Role   `json:"required,omitempty"`
	Leader   string `json:"leader,omitempty"`
}

// WriteError writes body with code as JSON.
func WriteError(w http.ResponseWriter, code int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RequireAny admits reader and admin keys on the read routes. With no keys
// configured every request passes, which suits a local single instance.
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !keys.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keys.RoleOf(r) == RoleNone {
				WriteError(w, http.StatusUnauthorized, ErrorBody{Error: "unauthorized", Required: RoleReader})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits admin keys only. With no admin keys configured it
// passes everything.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys.Admin) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keys.RoleOf(r) != RoleAdmin {
				WriteError(w, http.StatusForbidden, ErrorBody{Error: "forbidden", Required: RoleAdmin})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Leadership reports whether this instance accepts writes and, when it does
// not, which instance holds the lease. leader may be empty mid-election.
type Leadership func() (acting bool, leader string)

// RequireLeader refuses runs and watch changes on a follower with 409 and
// the current leader, before the request body is read.
func RequireLeader(lead Leadership) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if acting, leader := lead(); !acting {
				WriteError(w, http.StatusConflict, ErrorBody{Error: "not the leader", Leader: leader})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
