package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
)

type fakeWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{counts: map[string]int64{}}
}

func (f *fakeWindowStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	count := f.counts[scope]
	return count <= limit, count, nil
}

func submitRequest(email, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access-requests", strings.NewReader(`{"name":"A","email":"`+email+`","reason":"r"}`))
	req.RemoteAddr = ip + ":5678"
	return req
}

func TestSubmitRateLimit_AllowsUnderLimitAndPreservesBody(t *testing.T) {
	store := newFakeWindowStore()
	policy := NewSubmitRateLimitPolicy("access-requests", time.Minute, 2, 2)
	handler := SubmitRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"email":"tester@example.com"`) {
			t.Fatalf("unexpected body: %s", string(body))
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, submitRequest("tester@example.com", "1.2.3.4"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSubmitRateLimit_EmailLimitTriggers(t *testing.T) {
	store := newFakeWindowStore()
	policy := NewSubmitRateLimitPolicy("access-requests", time.Minute, 0, 2)
	handler := SubmitRateLimit(policy, store, nil)(okHandler())

	for i := 0; i < 3; i++ {
		// email is normalized before counting
		email := "Blocked@Example.com"
		if i%2 == 0 {
			email = "blocked@example.com"
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, submitRequest(email, "1.2.3.4"))

		switch {
		case i < 2 && rec.Code != http.StatusOK:
			t.Fatalf("expected success before limit, got %d", rec.Code)
		case i >= 2:
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			var payload struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("unexpected code: %s", payload.Error.Code)
			}
			if rec.Header().Get("Retry-After") != "60" {
				t.Fatalf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
			}
		}
	}
}

func TestSubmitRateLimit_IPLimitTriggers(t *testing.T) {
	store := newFakeWindowStore()
	policy := NewSubmitRateLimitPolicy("access-requests", time.Minute, 1, 0)
	handler := SubmitRateLimit(policy, store, nil)(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("a@example.com", "9.9.9.9"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitRequest("b@example.com", "9.9.9.9"))
	other := httptest.NewRecorder()
	handler.ServeHTTP(other, submitRequest("c@example.com", "8.8.8.8"))

	if first.Code != http.StatusOK || other.Code != http.StatusOK {
		t.Fatalf("expected first and other ip to pass, got %d and %d", first.Code, other.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}

func TestSubmitRateLimit_StoreFailure(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("redis down")
	handler := SubmitRateLimit(NewSubmitRateLimitPolicy("", time.Minute, 1, 1), store, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, submitRequest("a@example.com", "1.1.1.1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSubmitRateLimit_DisabledPolicyPassesThrough(t *testing.T) {
	handler := SubmitRateLimit(NewSubmitRateLimitPolicy("x", 0, 1, 1), newFakeWindowStore(), nil)(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, submitRequest("a@example.com", "1.1.1.1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
}

func TestClientIPIgnoresForwardedHeaderFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	if got := (TrustedProxies{}).ClientIP(req); got != "198.51.100.7" {
		t.Fatalf("unexpected ip %q", got)
	}
}

func TestClientIPWalksForwardedHopsBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 "})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 203.0.113.5, 192.0.2.1")
	if got := proxies.ClientIP(req); got != "203.0.113.5" {
		t.Fatalf("unexpected ip %q", got)
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmitRateLimitCannotBeBypassedWithForwardedHeader(t *testing.T) {
	store := newFakeWindowStore()
	policy := NewSubmitRateLimitPolicy("access-requests", time.Minute, 1, 0)
	handler := SubmitRateLimit(policy, store, nil)(okHandler())

	first := submitRequest("a@example.com", "1.2.3.4")
	first.Header.Set("X-Forwarded-For", "9.9.9.1")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := submitRequest("b@example.com", "1.2.3.4")
	second.Header.Set("X-Forwarded-For", "9.9.9.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for a rotated forwarded header, got %d", rec.Code)
	}
}

func TestSubmitRateLimitFingerprintsAreKeyed(t *testing.T) {
	base := NewSubmitRateLimitPolicy("access-requests", time.Minute, 0, 1)
	a := base.WithKeySecret("secret-a")
	b := base.WithKeySecret("secret-b")

	if a.fingerprint("x@example.com") == b.fingerprint("x@example.com") {
		t.Fatal("different secrets must yield different fingerprints")
	}
	if a.fingerprint("x@example.com") != a.fingerprint("x@example.com") {
		t.Fatal("fingerprint must be stable")
	}
	if len(a.fingerprint("x@example.com")) != 64 {
		t.Fatalf("unexpected fingerprint length")
	}
	if base.WithKeySecret("").key != base.key {
		t.Fatal("empty secret must leave the policy unchanged")
	}

	store := newFakeWindowStore()
	handler := SubmitRateLimit(a, store, nil)(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), submitRequest("x@example.com", "1.2.3.4"))
	for scope := range store.counts {
		if strings.Contains(scope, "x@example.com") {
			t.Fatalf("raw email leaked into scope %q", scope)
		}
	}
}
