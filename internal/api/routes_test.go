//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/identity"
	"github.com/ashureev/replyd/internal/store"
	"github.com/ashureev/replyd/internal/transport"
)

type manualSend struct {
	partnerID string
	text      string
}

// fakePipeline scripts the bot service behaviour the handlers depend on.
type fakePipeline struct {
	mu        sync.Mutex
	running   bool
	state     domain.AuthState
	sendErr   error
	submitErr error
	sent      []manualSend
	codes     []string
	passwords []string
}

func (p *fakePipeline) SendManual(_ context.Context, partnerID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, manualSend{partnerID: partnerID, text: text})
	return nil
}

func (p *fakePipeline) AuthState() domain.AuthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePipeline) SubmitCode(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return p.submitErr
	}
	p.codes = append(p.codes, code)
	return nil
}

func (p *fakePipeline) SubmitPassword(password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return p.submitErr
	}
	p.passwords = append(p.passwords, password)
	return nil
}

func (p *fakePipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type apiFixture struct {
	t        *testing.T
	server   *httptest.Server
	store    store.Store
	provider *config.Provider
	pipe     *fakePipeline
	dataDir  string
	token    string
}

// newFixture builds a handler over real on-disk collaborators and a fake
// pipeline. The settings overlay is seeded for every key so ambient
// environment variables cannot leak into assertions.
func newFixture(t *testing.T, pipe *fakePipeline, token string) *apiFixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	provider := config.NewProvider(dir)
	base := make(map[string]string, len(config.SettingsKeys))
	for _, key := range config.SettingsKeys {
		base[key] = ""
	}
	if err := provider.SaveOverlay(base); err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}

	h := NewHandler(st, provider, identity.NewManager(dir), pipe, token)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &apiFixture{t: t, server: server, store: st, provider: provider, pipe: pipe, dataDir: dir, token: token}
}

// request performs an HTTP call against the fixture server. A non-nil body
// is JSON encoded and the Content-Type header set accordingly.
func (f *apiFixture) request(method, path string, body interface{}) *http.Response {
	f.t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("Failed to marshal request body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, rd)
	if err != nil {
		f.t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeMapBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return m
}

func TestGetConfigMasksSecrets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	err := f.provider.SaveOverlay(map[string]string{
		"API_ID":         "12345",
		"API_HASH":       "0123456789abcdef0123456789abcdef",
		"PHONE_NUMBER":   "+15550001111",
		"OPENAI_API_KEY": "sk-0123456789",
	})
	if err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}

	resp := f.request(http.MethodGet, "/api/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body := decodeMapBody(t, resp)

	if body["API_ID"] != "12345" {
		t.Errorf("Expected API_ID to be returned in the clear, got %v", body["API_ID"])
	}
	wantHash := "0123" + strings.Repeat("*", 24) + "cdef"
	if body["API_HASH"] != wantHash {
		t.Errorf("Expected masked API_HASH %q, got %v", wantHash, body["API_HASH"])
	}
	wantKey := "s" + strings.Repeat("*", 11) + "9"
	if body["OPENAI_API_KEY"] != wantKey {
		t.Errorf("Expected masked OPENAI_API_KEY %q, got %v", wantKey, body["OPENAI_API_KEY"])
	}
	if body["is_configured"] != true {
		t.Errorf("Expected is_configured=true, got %v", body["is_configured"])
	}
}

func TestUpdateConfigPreservesMaskedSecrets(t *testing.T) {
	t.Parallel()

	const realHash = "0123456789abcdef0123456789abcdef"
	f := newFixture(t, &fakePipeline{}, "")
	if err := f.provider.SaveOverlay(map[string]string{"API_HASH": realHash}); err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}

	// Submitting the masked placeholder back must not clobber the stored
	// secret, while plain fields still update.
	resp := f.request(http.MethodPost, "/api/config", map[string]string{
		"API_HASH":     "0123" + strings.Repeat("*", 24) + "cdef",
		"PHONE_NUMBER": "+15550002222",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	values := f.provider.Values()
	if values["API_HASH"] != realHash {
		t.Errorf("Expected stored API_HASH to survive masked submission, got %q", values["API_HASH"])
	}
	if values["PHONE_NUMBER"] != "+15550002222" {
		t.Errorf("Expected PHONE_NUMBER to update, got %q", values["PHONE_NUMBER"])
	}
}

func TestUpdateConfigAcceptsNewSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	resp := f.request(http.MethodPost, "/api/config", map[string]string{"API_HASH": "freshsecretvalue"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	if got := f.provider.Values()["API_HASH"]; got != "freshsecretvalue" {
		t.Errorf("Expected new secret to be stored, got %q", got)
	}
}

func TestUpdateConfigRejectsNonNumericAPIID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	resp := f.request(http.MethodPost, "/api/config", map[string]string{"API_ID": "not-a-number"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["error"] != "API_ID must be numeric" {
		t.Errorf("Unexpected error message: %v", body["error"])
	}
}

func TestUpdateConfigIgnoresUnknownKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	resp := f.request(http.MethodPost, "/api/config", map[string]string{
		"BOGUS_KEY":    "evil",
		"PHONE_NUMBER": "+15550003333",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	raw, err := os.ReadFile(filepath.Join(f.dataDir, "config.json"))
	if err != nil {
		t.Fatalf("Failed to read overlay file: %v", err)
	}
	if strings.Contains(string(raw), "BOGUS_KEY") {
		t.Errorf("Expected unknown key to be dropped, overlay contains it: %s", raw)
	}
	if got := f.provider.Values()["PHONE_NUMBER"]; got != "+15550003333" {
		t.Errorf("Expected PHONE_NUMBER to update, got %q", got)
	}
}

func TestPostRequiresJSONContentType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/config", strings.NewReader("PHONE_NUMBER=+1"))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("Expected status 415, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["error"] != "Content-Type must be application/json" {
		t.Errorf("Unexpected error message: %v", body["error"])
	}
}

func TestBearerTokenGuardsAllRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{running: true, state: domain.AuthState{Status: domain.AuthAuthorized}}, "s3cret")

	for _, header := range []string{"", "Bearer wrong", "s3cret"} {
		req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/auth/status", nil)
		if err != nil {
			t.Fatalf("Failed to build request: %v", err)
		}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401 for header %q, got %d", header, resp.StatusCode)
		}
	}

	resp := f.request(http.MethodGet, "/api/auth/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 with valid token, got %d", resp.StatusCode)
	}
}

func TestListMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	seed := []struct {
		partnerID string
		msg       domain.Message
	}{
		{"1001", domain.Message{Timestamp: base, Direction: domain.DirectionReceived, Sender: "Alice", Text: "hi"}},
		{"1001", domain.Message{Timestamp: base.Add(time.Minute), Direction: domain.DirectionSent, Sender: "Me", Text: "hello"}},
		{"2002", domain.Message{Timestamp: base.Add(2 * time.Minute), Direction: domain.DirectionReceived, Sender: "Bob", Text: "yo"}},
	}
	for _, s := range seed {
		if _, err := f.store.Append(ctx, s.partnerID, s.msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	var body struct {
		Messages []domain.Message `json:"messages"`
	}

	resp := f.request(http.MethodGet, "/api/messages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Text != "hi" || body.Messages[2].Text != "yo" {
		t.Errorf("Expected chronological merge, got %+v", body.Messages)
	}

	resp = f.request(http.MethodGet, "/api/messages?partner_id=2002", nil)
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Sender != "Bob" {
		t.Errorf("Expected only partner 2002's message, got %+v", body.Messages)
	}
}

func TestListMessagesEmptyLogIsArray(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	resp := f.request(http.MethodGet, "/api/messages", nil)
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if !strings.Contains(string(raw), `"messages":[]`) {
		t.Errorf("Expected empty array, got %s", raw)
	}
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{running: true, state: domain.AuthState{Status: domain.AuthAuthorized}}, "")
	cases := []struct {
		name    string
		body    map[string]string
		wantErr string
	}{
		{"missing partner", map[string]string{"text": "hi"}, "partner_id is required"},
		{"blank partner", map[string]string{"partner_id": "   ", "text": "hi"}, "partner_id is required"},
		{"missing text", map[string]string{"partner_id": "1001"}, "text is required"},
		{"blank text", map[string]string{"partner_id": "1001", "text": " \n "}, "text is required"},
		{"oversize text", map[string]string{"partner_id": "1001", "text": strings.Repeat("가", maxSendLength+1)}, "text is too long"},
	}

	for _, tc := range cases {
		resp := f.request(http.MethodPost, "/api/messages/send", tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", tc.name, resp.StatusCode)
			continue
		}
		if body := decodeMapBody(t, resp); body["error"] != tc.wantErr {
			t.Errorf("%s: expected error %q, got %v", tc.name, tc.wantErr, body["error"])
		}
	}

	f.pipe.mu.Lock()
	sent := len(f.pipe.sent)
	f.pipe.mu.Unlock()
	if sent != 0 {
		t.Errorf("Expected no sends for invalid requests, got %d", sent)
	}
}

func TestSendMessageWhenPipelineDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{running: false}, "")
	resp := f.request(http.MethodPost, "/api/messages/send", map[string]string{"partner_id": "1001", "text": "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["error"] != "Bot is not available" {
		t.Errorf("Unexpected error message: %v", body["error"])
	}
}

func TestSendMessageWhenNotAuthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{running: true, state: domain.AuthState{Status: domain.AuthWaitingCode}}, "")
	resp := f.request(http.MethodPost, "/api/messages/send", map[string]string{"partner_id": "1001", "text": "hi"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["error"] != "Bot is not authorized" {
		t.Errorf("Unexpected error message: %v", body["error"])
	}
}

func TestSendMessageDelivers(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{running: true, state: domain.AuthState{Status: domain.AuthAuthorized}}
	f := newFixture(t, pipe, "")

	resp := f.request(http.MethodPost, "/api/messages/send", map[string]string{"partner_id": "1001", "text": "manual hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["status"] != "sent" {
		t.Errorf("Expected status=sent, got %v", body["status"])
	}

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if len(pipe.sent) != 1 || pipe.sent[0] != (manualSend{partnerID: "1001", text: "manual hello"}) {
		t.Errorf("Expected one recorded send, got %+v", pipe.sent)
	}
}

func TestSendMessageRacedShutdown(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{running: true, state: domain.AuthState{Status: domain.AuthAuthorized}, sendErr: transport.ErrNotRunning}
	f := newFixture(t, pipe, "")

	resp := f.request(http.MethodPost, "/api/messages/send", map[string]string{"partner_id": "1001", "text": "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestIdentityRoundtrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")

	resp := f.request(http.MethodGet, "/api/identity", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["identity"] != identity.DefaultPersona {
		t.Errorf("Expected default persona on first read, got %v", body["identity"])
	}

	resp = f.request(http.MethodPost, "/api/identity", map[string]string{"identity": "You are a terse pirate."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	resp = f.request(http.MethodGet, "/api/identity", nil)
	if body := decodeMapBody(t, resp); body["identity"] != "You are a terse pirate." {
		t.Errorf("Expected saved persona, got %v", body["identity"])
	}
}

func TestIdentityRejectsOversizeText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePipeline{}, "")
	resp := f.request(http.MethodPost, "/api/identity", map[string]string{
		"identity": strings.Repeat("a", identity.MaxPersonaLen+1),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}
	if body := decodeMapBody(t, resp); body["error"] != "identity text is too long" {
		t.Errorf("Unexpected error message: %v", body["error"])
	}
}

func TestAuthStatus(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{state: domain.AuthState{Status: domain.AuthWaitingCode, Error: "Invalid login code, please try again"}}
	f := newFixture(t, pipe, "")

	resp := f.request(http.MethodGet, "/api/auth/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body := decodeMapBody(t, resp)
	if body["status"] != string(domain.AuthWaitingCode) {
		t.Errorf("Expected status waiting_code, got %v", body["status"])
	}
	if body["error"] != "Invalid login code, please try again" {
		t.Errorf("Expected retained error message, got %v", body["error"])
	}
}

func TestSubmitCode(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{}
	f := newFixture(t, pipe, "")

	resp := f.request(http.MethodPost, "/api/auth/code", map[string]string{"code": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400 for blank code, got %d", resp.StatusCode)
	}

	resp = f.request(http.MethodPost, "/api/auth/code", map[string]string{"code": " 12345 "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	pipe.mu.Lock()
	codes := append([]string(nil), pipe.codes...)
	pipe.mu.Unlock()
	if len(codes) != 1 || codes[0] != "12345" {
		t.Errorf("Expected trimmed code to reach the pipeline, got %v", codes)
	}
}

func TestSubmitCodeWhenNotWaiting(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{submitErr: transport.ErrNotRunning}
	f := newFixture(t, pipe, "")

	resp := f.request(http.MethodPost, "/api/auth/code", map[string]string{"code": "12345"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestSubmitPasswordKeepsWhitespace(t *testing.T) {
	t.Parallel()

	pipe := &fakePipeline{}
	f := newFixture(t, pipe, "")

	resp := f.request(http.MethodPost, "/api/auth/password", map[string]string{"password": " hunter2 "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if len(pipe.passwords) != 1 || pipe.passwords[0] != " hunter2 " {
		t.Errorf("Expected password delivered untrimmed, got %v", pipe.passwords)
	}

	resp = f.request(http.MethodPost, "/api/auth/password", map[string]string{"password": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for blank password, got %d", resp.StatusCode)
	}
}
