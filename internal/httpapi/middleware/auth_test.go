package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestAuthGates(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}

	cases := []struct {
		name      string
		header    string
		value     string
		wantAny   int
		wantAdmin int
	}{
		{"public via header", "X-API-Key", "pub_key", http.StatusOK, http.StatusForbidden},
		{"admin via header", "X-API-Key", "adm_key", http.StatusOK, http.StatusOK},
		{"admin via bearer", "Authorization", "Bearer adm_key", http.StatusOK, http.StatusOK},
		{"bearer is case-insensitive", "Authorization", "bearer pub_key", http.StatusOK, http.StatusForbidden},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized, http.StatusForbidden},
		// the admin gate does not distinguish a missing key
		{"missing", "", "", http.StatusUnauthorized, http.StatusForbidden},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
			if c.header != "" {
				req.Header.Set(c.header, c.value)
			}

			rec := httptest.NewRecorder()
			RequireAny(keys)(okHandler).ServeHTTP(rec, req)
			if rec.Code != c.wantAny {
				t.Fatalf("RequireAny: want %d got %d", c.wantAny, rec.Code)
			}

			rec = httptest.NewRecorder()
			RequireAdmin(keys)(okHandler).ServeHTTP(rec, req)
			if rec.Code != c.wantAdmin {
				t.Fatalf("RequireAdmin: want %d got %d", c.wantAdmin, rec.Code)
			}
		})
	}
}

func TestAuth_NoKeysConfiguredAllowsAll(t *testing.T) {
	for name, gate := range map[string]func(http.Handler) http.Handler{
		"any":   RequireAny(Keys{}),
		"admin": RequireAdmin(Keys{Public: []string{"pub_key"}}),
	} {
		rec := httptest.NewRecorder()
		gate(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: dev mode should allow; got %d", name, rec.Code)
		}
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestDeny_NamesRequiredRole(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}

	rec := httptest.NewRecorder()
	RequireAny(keys)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	if got := decodeError(t, rec); got != (ErrorBody{Error: "unauthorized", Required: RoleReader}) {
		t.Fatalf("body %+v", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/run", nil)
	req.Header.Set("X-API-Key", "pub_key")
	rec = httptest.NewRecorder()
	RequireAdmin(keys)(okHandler).ServeHTTP(rec, req)
	if got := decodeError(t, rec); got != (ErrorBody{Error: "forbidden", Required: RoleAdmin}) {
		t.Fatalf("body %+v", got)
	}
}

func TestKeys_RoleOf(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}
	cases := map[string]Role{
		"pub_key": RoleReader,
		"adm_key": RoleAdmin,
		"other":   RoleNone,
		"":        RoleNone,
	}
	for key, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		if got := keys.RoleOf(req); got != want {
			t.Fatalf("%q: got %q want %q", key, got, want)
		}
	}
}

func TestRequireLeader_FollowerGets409WithLeader(t *testing.T) {
	acting, leader := false, "node-a"
	gate := RequireLeader(func() (bool, string) { return acting, leader })

	rec := httptest.NewRecorder()
	gate(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/watch", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("follower: want 409 got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != (ErrorBody{Error: "not the leader", Leader: "node-a"}) {
		t.Fatalf("body %+v", got)
	}

	// mid-election there is no leader to name
	leader = ""
	rec = httptest.NewRecorder()
	gate(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if got := decodeError(t, rec); got.Leader != "" || rec.Code != http.StatusConflict {
		t.Fatalf("unelected: %d %+v", rec.Code, got)
	}

	acting = true
	rec = httptest.NewRecorder()
	gate(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("leader: want 200 got %d", rec.Code)
	}
}
