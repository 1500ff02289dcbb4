package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pawlink/pkg/auth"
	"pawlink/pkg/broker"
	"pawlink/pkg/config"
	"pawlink/pkg/models"
	"pawlink/pkg/store"
)

const (
	backendKey  = "bk-test-secret"
	frontendKey = "fk-test-key"
)

// setupServer builds the full serving stack the way internal/app does:
// key-level auth middleware wrapping the API handler, with a fresh store.
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{backendKey: {}},
		SigningKeys: map[string]struct{}{backendKey: {}},
	})

	secCfg := auth.SecConfig{
		RPS:          1000,
		Burst:        1000,
		BackendKeys:  map[string]struct{}{backendKey: {}},
		FrontendKeys: map[string]struct{}{frontendKey: {}},
	}
	h := auth.AuthenticateRequestMiddleware(secCfg)(Handler(broker.New(nil)))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func frontendReq(t *testing.T, method, url, user string, body []byte) *http.Request {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, url, bytes.NewReader(body))
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("X-API-Key", frontendKey)
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Role", "adopter")
	req.Header.Set("X-User-Signature", auth.Sign(backendKey, user))
	return req
}

func backendReq(t *testing.T, method, url, user string, body []byte) *http.Request {
	t.Helper()
	req := frontendReq(t, method, url, user, body)
	req.Header.Set("X-API-Key", backendKey)
	req.Header.Del("X-User-Signature")
	return req
}

func doReq(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return res
}

func TestSessionEchoesIdentity(t *testing.T) {
	srv := setupServer(t)

	res := doReq(t, frontendReq(t, "GET", srv.URL+"/v1/session", "alice", nil))
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
	var id models.Identity
	if err := json.NewDecoder(res.Body).Decode(&id); err != nil {
		t.Fatalf("failed to decode identity: %v", err)
	}
	if id.ID != "alice" || id.Role != models.RoleAdopter {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestSessionRejectsMissingIdentity(t *testing.T) {
	srv := setupServer(t)

	req, _ := http.NewRequest("GET", srv.URL+"/v1/session", nil)
	req.Header.Set("X-API-Key", frontendKey)
	res := doReq(t, req)
	res.Body.Close()
	if res.StatusCode != 401 {
		t.Fatalf("expected 401 got %v", res.Status)
	}
}

func TestSessionRejectsBadSignature(t *testing.T) {
	srv := setupServer(t)

	req := frontendReq(t, "GET", srv.URL+"/v1/session", "alice", nil)
	req.Header.Set("X-User-Signature", "0000")
	res := doReq(t, req)
	res.Body.Close()
	if res.StatusCode != 401 {
		t.Fatalf("expected 401 got %v", res.Status)
	}
}

func TestRejectsUnknownAPIKey(t *testing.T) {
	srv := setupServer(t)

	req := frontendReq(t, "GET", srv.URL+"/v1/session", "alice", nil)
	req.Header.Set("X-API-Key", "not-a-key")
	res := doReq(t, req)
	res.Body.Close()
	if res.StatusCode != 401 {
		t.Fatalf("expected 401 got %v", res.Status)
	}
}

func TestConversationFlow(t *testing.T) {
	srv := setupServer(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	seed := []models.Message{
		{Sender: "shelter-1", Recipient: "alice", Body: "Biscuit is ready", TS: base},
		{Sender: "shelter-1", Recipient: "alice", Body: "come meet her", TS: base.Add(time.Minute)},
		{Sender: "alice", Recipient: "shelter-1", Body: "on my way", TS: base.Add(2 * time.Minute)},
	}
	for i := range seed {
		if err := store.Append(&seed[i]); err != nil {
			t.Fatalf("seed append failed: %v", err)
		}
	}

	// unread badge sees the two inbound messages
	res := doReq(t, frontendReq(t, "GET", srv.URL+"/v1/unread", "alice", nil))
	var unread struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&unread); err != nil {
		t.Fatalf("failed to decode unread: %v", err)
	}
	res.Body.Close()
	if unread.Count != 2 {
		t.Fatalf("expected 2 unread got %d", unread.Count)
	}

	// history returns all three, oldest first
	res = doReq(t, frontendReq(t, "GET", srv.URL+"/v1/conversations/shelter-1/messages", "alice", nil))
	var hist struct {
		Counterpart string           `json:"counterpart"`
		Messages    []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hist); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	res.Body.Close()
	if len(hist.Messages) != 3 {
		t.Fatalf("expected 3 messages got %d", len(hist.Messages))
	}
	if hist.Messages[0].Body != "Biscuit is ready" {
		t.Fatalf("history out of order: %+v", hist.Messages[0])
	}

	// mark read, then the badge drops to zero
	res = doReq(t, frontendReq(t, "PUT", srv.URL+"/v1/conversations/shelter-1/read", "alice", nil))
	res.Body.Close()
	if res.StatusCode != 204 {
		t.Fatalf("expected 204 got %v", res.Status)
	}
	res = doReq(t, frontendReq(t, "GET", srv.URL+"/v1/unread", "alice", nil))
	if err := json.NewDecoder(res.Body).Decode(&unread); err != nil {
		t.Fatalf("failed to decode unread: %v", err)
	}
	res.Body.Close()
	if unread.Count != 0 {
		t.Fatalf("expected 0 unread after marking got %d", unread.Count)
	}

	// conversation list carries the summary
	res = doReq(t, frontendReq(t, "GET", srv.URL+"/v1/conversations", "alice", nil))
	var list struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode conversations: %v", err)
	}
	res.Body.Close()
	if len(list.Conversations) != 1 || list.Conversations[0].ID != "shelter-1" {
		t.Fatalf("unexpected conversation list: %+v", list.Conversations)
	}
}

func TestHistoryRejectsSelfConversation(t *testing.T) {
	srv := setupServer(t)

	res := doReq(t, frontendReq(t, "GET", srv.URL+"/v1/conversations/alice/messages", "alice", nil))
	res.Body.Close()
	if res.StatusCode != 403 {
		t.Fatalf("expected 403 got %v", res.Status)
	}
}

func TestProfilesBackendOnlyWrites(t *testing.T) {
	srv := setupServer(t)
	body, _ := json.Marshal(models.Profile{DisplayName: "Paws Rescue", AvatarURL: "https://cdn/paws.png"})

	// frontend callers cannot write the directory
	res := doReq(t, frontendReq(t, "PUT", srv.URL+"/v1/profiles/shelter-1", "alice", body))
	res.Body.Close()
	if res.StatusCode != 403 {
		t.Fatalf("expected 403 for frontend write got %v", res.Status)
	}

	res = doReq(t, backendReq(t, "PUT", srv.URL+"/v1/profiles/shelter-1", "svc", body))
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 for backend write got %v", res.Status)
	}

	// anyone authenticated can read
	res = doReq(t, frontendReq(t, "GET", srv.URL+"/v1/profiles/shelter-1", "alice", nil))
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
	var p models.Profile
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if p.ID != "shelter-1" || p.DisplayName != "Paws Rescue" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestSignIssuesVerifiableSignature(t *testing.T) {
	srv := setupServer(t)
	body, _ := json.Marshal(map[string]string{"user_id": "alice"})

	res := doReq(t, backendReq(t, "POST", srv.URL+"/v1/sign", "svc", body))
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("expected 200 got %v", res.Status)
	}
	var out struct {
		UserID    string `json:"user_id"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode sign response: %v", err)
	}
	if out.Signature != auth.Sign(backendKey, "alice") {
		t.Fatalf("signature does not verify against the backend key")
	}

	// the issued signature authenticates the frontend caller
	req := frontendReq(t, "GET", srv.URL+"/v1/session", "alice", nil)
	req.Header.Set("X-User-Signature", out.Signature)
	res2 := doReq(t, req)
	res2.Body.Close()
	if res2.StatusCode != 200 {
		t.Fatalf("issued signature rejected: %v", res2.Status)
	}
}

func TestSignRejectsFrontend(t *testing.T) {
	srv := setupServer(t)
	body, _ := json.Marshal(map[string]string{"user_id": "alice"})

	res := doReq(t, frontendReq(t, "POST", srv.URL+"/v1/sign", "alice", body))
	res.Body.Close()
	if res.StatusCode != 403 {
		t.Fatalf("expected 403 got %v", res.Status)
	}
}
