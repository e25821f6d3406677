package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framegate/framegate/internal/config"
	"github.com/framegate/framegate/internal/media"
	"github.com/framegate/framegate/internal/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		UploadDir:    t.TempDir(),
		OutputDir:    t.TempDir(),
		RateLimitRPM: 100000, // keep rapid-fire test requests out of the limiter
	}
}

// newTestServer creates a server with a stub processor and a
// recording notifier so tests can read issued OTP codes.
func newTestServer(t *testing.T) (*Server, *notify.Recorder) {
	t.Helper()
	rec := notify.NewRecorder()
	s, err := New(testConfig(t),
		WithProcessor(&media.StubProcessor{}),
		WithNotifier(rec),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, rec
}

func doJSON(s *Server, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

var codeRe = regexp.MustCompile(`\d{6}`)

// registerAndLogin walks the full auth flow and returns a session token.
func registerAndLogin(t *testing.T, s *Server, rec *notify.Recorder, email string) string {
	t.Helper()

	w := doJSON(s, "POST", "/v1/register", gin.H{"email": email, "credential": "hunter2"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(s, "POST", "/v1/login", gin.H{"email": email, "credential": "hunter2"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// OTP delivery is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := rec.Sent()
	if len(msgs) == 0 {
		t.Fatal("no OTP email recorded")
	}
	code := codeRe.FindString(msgs[len(msgs)-1].Body)
	if code == "" {
		t.Fatalf("no code in OTP email body %q", msgs[len(msgs)-1].Body)
	}

	w = doJSON(s, "POST", "/v1/login/verify", gin.H{"email": email, "code": code}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("verify: no token in response %s", w.Body.String())
	}
	return resp.Token
}

// doResize posts a small multipart upload with the given session token.
func doResize(t *testing.T, s *Server, token string, width, height int) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("multipart: %v", err)
	}
	_, _ = fw.Write([]byte("not really a png"))
	_ = mw.WriteField("width", fmt.Sprintf("%d", width))
	_ = mw.WriteField("height", fmt.Sprintf("%d", height))
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/v1/resize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessBeforeRun(t *testing.T) {
	s, _ := newTestServer(t)

	// Run() has not been called, so the server is not ready yet.
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Registration & login
// ---------------------------------------------------------------------------

func TestRegister_DuplicateEmail(t *testing.T) {
	s, _ := newTestServer(t)

	if w := doJSON(s, "POST", "/v1/register", gin.H{"email": "dup@example.com", "credential": "x"}, nil); w.Code != http.StatusCreated {
		t.Fatalf("first register: got %d", w.Code)
	}
	if w := doJSON(s, "POST", "/v1/register", gin.H{"email": "dup@example.com", "credential": "y"}, nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", w.Code)
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	s, _ := newTestServer(t)
	if w := doJSON(s, "POST", "/v1/register", gin.H{"email": "nope", "credential": "x"}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLogin_WrongCredential(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(s, "POST", "/v1/register", gin.H{"email": "a@example.com", "credential": "right"}, nil)
	if w := doJSON(s, "POST", "/v1/login", gin.H{"email": "a@example.com", "credential": "wrong"}, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	s, _ := newTestServer(t)
	if w := doJSON(s, "POST", "/v1/login", gin.H{"email": "ghost@example.com", "credential": "x"}, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown account should be 404, not an auth error; got %d", w.Code)
	}
}

func TestVerify_WrongCode(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(s, "POST", "/v1/register", gin.H{"email": "a@example.com", "credential": "x"}, nil)
	doJSON(s, "POST", "/v1/login", gin.H{"email": "a@example.com", "credential": "x"}, nil)

	if w := doJSON(s, "POST", "/v1/login/verify", gin.H{"email": "a@example.com", "code": "000000"}, nil); w.Code != http.StatusUnauthorized {
		// The issued code is never 000000 (range starts at 100000).
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestFullAuthFlow(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "flow@example.com")
	if token == "" {
		t.Fatal("expected a session token")
	}
}

// ---------------------------------------------------------------------------
// Resize & dashboard
// ---------------------------------------------------------------------------

func TestResize_RequiresSession(t *testing.T) {
	s, _ := newTestServer(t)
	if w := doResize(t, s, "tok_bogus", 100, 100); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestResize_Success(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "resize@example.com")

	w := doResize(t, s, token, 640, 480)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		OutputRef string `json:"outputRef"`
		Remaining int    `json:"remaining"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.OutputRef == "" {
		t.Error("expected an output reference")
	}
	if resp.Remaining != 9 {
		t.Errorf("remaining = %d, want 9", resp.Remaining)
	}
}

func TestResize_InvalidDimensions(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "dims@example.com")

	if w := doResize(t, s, token, 0, 480); w.Code != http.StatusBadRequest {
		t.Errorf("zero width: expected 400, got %d", w.Code)
	}
	if w := doResize(t, s, token, 640, 100000); w.Code != http.StatusBadRequest {
		t.Errorf("oversized height: expected 400, got %d", w.Code)
	}
}

func TestResize_QuotaExhaustion(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "quota@example.com")

	for i := 0; i < 10; i++ {
		if w := doResize(t, s, token, 100, 100); w.Code != http.StatusOK {
			t.Fatalf("resize %d: got %d: %s", i+1, w.Code, w.Body.String())
		}
	}
	if w := doResize(t, s, token, 100, 100); w.Code != http.StatusForbidden {
		t.Fatalf("11th resize: expected 403, got %d", w.Code)
	}
}

func TestDashboard(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "dash@example.com")

	doResize(t, s, token, 100, 100)

	w := doJSON(s, "GET", "/v1/dashboard", nil, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Email          string `json:"email"`
		UsageCount     int    `json:"usageCount"`
		RemainingQuota string `json:"remainingQuota"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Email != "dash@example.com" || resp.UsageCount != 1 || resp.RemainingQuota != "9" {
		t.Errorf("unexpected dashboard %+v", resp)
	}
}

func TestWebhookUpgradeReflectedInDashboard(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "vip@example.com")

	if w := doJSON(s, "POST", "/v1/billing/webhook", gin.H{"email": "vip@example.com", "plan": "lifetime"}, nil); w.Code != http.StatusOK {
		t.Fatalf("webhook: got %d: %s", w.Code, w.Body.String())
	}

	w := doJSON(s, "GET", "/v1/dashboard", nil, map[string]string{"Authorization": "Bearer " + token})
	var resp struct {
		Premium        bool   `json:"premium"`
		RemainingQuota string `json:"remainingQuota"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !resp.Premium || resp.RemainingQuota != "Unlimited" {
		t.Errorf("expected premium Unlimited, got %+v", resp)
	}
}

func TestRiskEventsEndpoint(t *testing.T) {
	s, rec := newTestServer(t)
	token := registerAndLogin(t, s, rec, "risk@example.com")

	w := doJSON(s, "GET", "/v1/risk/events", nil, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("fresh account should have no risk events, got %d", resp.Count)
	}
}
