package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pawlink/pkg/config"
)

func testSecCfg() SecConfig {
	return SecConfig{
		RPS:          1000,
		Burst:        1000,
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
	}
}

func echoRole() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Role", r.Header.Get("X-Role-Name"))
		w.WriteHeader(http.StatusOK)
	})
}

func TestSignDeterministic(t *testing.T) {
	a := Sign("secret", "alice")
	b := Sign("secret", "alice")
	if a != b {
		t.Fatalf("signature not deterministic")
	}
	if Sign("secret", "bob") == a {
		t.Fatalf("different users share a signature")
	}
	if Sign("other", "alice") == a {
		t.Fatalf("different keys share a signature")
	}
}

func TestGatewayResolvesRoles(t *testing.T) {
	h := AuthenticateRequestMiddleware(testSecCfg())(echoRole())
	srv := httptest.NewServer(h)
	defer srv.Close()

	cases := []struct {
		key      string
		wantCode int
		wantRole string
	}{
		{"bk", 200, "backend"},
		{"fk", 200, "frontend"},
		{"nope", 401, ""},
		{"", 401, ""},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest("GET", srv.URL+"/v1/session", nil)
		if tc.key != "" {
			req.Header.Set("X-API-Key", tc.key)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		res.Body.Close()
		if res.StatusCode != tc.wantCode {
			t.Fatalf("key %q: expected %d got %d", tc.key, tc.wantCode, res.StatusCode)
		}
		if tc.wantRole != "" && res.Header.Get("X-Seen-Role") != tc.wantRole {
			t.Fatalf("key %q: expected role %q got %q", tc.key, tc.wantRole, res.Header.Get("X-Seen-Role"))
		}
	}
}

func TestGatewayBearerTokenAccepted(t *testing.T) {
	h := AuthenticateRequestMiddleware(testSecCfg())(echoRole())
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/v1/session", nil)
	req.Header.Set("Authorization", "Bearer fk")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != 200 || res.Header.Get("X-Seen-Role") != "frontend" {
		t.Fatalf("bearer auth failed: %d %q", res.StatusCode, res.Header.Get("X-Seen-Role"))
	}
}

func TestGatewayOpenPaths(t *testing.T) {
	h := AuthenticateRequestMiddleware(testSecCfg())(echoRole())
	srv := httptest.NewServer(h)
	defer srv.Close()

	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(srv.URL + p)
		if err != nil {
			t.Fatalf("probe %s failed: %v", p, err)
		}
		res.Body.Close()
		if res.StatusCode != 200 {
			t.Fatalf("open path %s rejected: %d", p, res.StatusCode)
		}
	}
}

func TestGatewayRateLimit(t *testing.T) {
	cfg := testSecCfg()
	cfg.RPS = 1
	cfg.Burst = 2
	h := AuthenticateRequestMiddleware(cfg)(echoRole())
	srv := httptest.NewServer(h)
	defer srv.Close()

	limited := false
	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest("GET", srv.URL+"/v1/session", nil)
		req.Header.Set("X-API-Key", "fk")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		res.Body.Close()
		if res.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("burst of requests was never rate limited")
	}
}

func TestRequireIdentityFrontendNeedsSignature(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{"bk": {}},
		SigningKeys: map[string]struct{}{"bk": {}},
	})
	t.Cleanup(func() { config.SetRuntime(nil) })

	var sawIdentity bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(RequireIdentity(inner))
	defer srv.Close()

	// missing signature
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Role", "adopter")
	res, _ := http.DefaultClient.Do(req)
	res.Body.Close()
	if res.StatusCode != 401 {
		t.Fatalf("expected 401 without signature got %d", res.StatusCode)
	}

	// valid signature
	req.Header.Set("X-User-Signature", Sign("bk", "alice"))
	res, _ = http.DefaultClient.Do(req)
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 with valid signature got %d", res.StatusCode)
	}
	if !sawIdentity {
		t.Fatalf("identity not injected into context")
	}

	// backend callers assert identity without a signature
	req2, _ := http.NewRequest("GET", srv.URL, nil)
	req2.Header.Set("X-Role-Name", "backend")
	req2.Header.Set("X-User-ID", "svc")
	req2.Header.Set("X-User-Role", "org")
	res, _ = http.DefaultClient.Do(req2)
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 for backend got %d", res.StatusCode)
	}
}
