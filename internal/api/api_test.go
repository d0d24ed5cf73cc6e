package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-auth/kestrel/internal/auth"
	"github.com/opensource-auth/kestrel/internal/cache"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/engine"
	"github.com/opensource-auth/kestrel/internal/policy"
	"github.com/opensource-auth/kestrel/internal/repository"
	"github.com/opensource-auth/kestrel/internal/session"
	"github.com/opensource-auth/kestrel/internal/worker"
)

const testJWTSecret = "test-secret-0123456789abcdef"

// captureNotifier records OTP codes instead of mailing them.
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: make(map[string]string)}
}

func (n *captureNotifier) SendOTP(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[email] = code
	return nil
}

func (n *captureNotifier) SendAlert(_ context.Context, email string, alert *domain.Alert) error {
	return nil
}

func (n *captureNotifier) code(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

func testAuthConfig() domain.AuthConfig {
	return domain.AuthConfig{
		JWTSecret:        testJWTSecret,
		TokenTTL:         time.Hour,
		OTPExpiry:        5 * time.Minute,
		SessionTimeout:   30 * time.Minute,
		MaxLoginAttempts: 3,
	}
}

func clusteredSamples(n int, seed int64) []domain.TelemetrySample {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]domain.TelemetrySample, n)
	for i := range samples {
		samples[i] = domain.TelemetrySample{
			domain.FeatureKeystrokeSpeed:   5 + rng.NormFloat64()*0.5,
			domain.FeatureMouseSpeed:       120 + rng.NormFloat64()*10,
			domain.FeatureIdleTime:         3 + rng.NormFloat64()*0.3,
			domain.FeatureCursorPathLength: 840 + rng.NormFloat64()*60,
		}
	}
	return samples
}

// createTestServer wires a full server on sqlite plus in-memory cache.
func createTestServer(t *testing.T) (*Server, *captureNotifier, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	memCache := cache.NewLRUCache(1000)
	t.Cleanup(func() { memCache.Close() })

	engineCfg := domain.EngineConfig{
		Contamination:      0.1,
		RandomSeed:         42,
		TrustThreshold:     70,
		MinTrainingSamples: 20,
		Trees:              100,
		SubsampleSize:      256,
	}
	eng := engine.New(engineCfg, engine.NewRegistry(), repo, nil)

	policies, err := policy.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	t.Cleanup(func() { policies.Close() })

	authCfg := testAuthConfig()
	notifier := newCaptureNotifier()
	orchestrator := session.NewOrchestrator(repo, nil, notifier, authCfg.SessionTimeout)
	wrk := worker.NewWorker(nil, repo, eng, policies, orchestrator)
	otp := auth.NewOTPIssuer(memCache, authCfg.OTPExpiry)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	server := NewServer(cfg, authCfg, repo, memCache, nil, eng, policies, wrk, orchestrator, otp, notifier, "test-v1")
	return server, notifier, repo
}

func doJSON(t *testing.T, server *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

// registerAndLogin runs the full signup/verify/login/verify flow and
// returns the session token.
func registerAndLogin(t *testing.T, server *Server, notifier *captureNotifier, email, password string) string {
	t.Helper()

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{Email: email, Password: password})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/verify-signup-otp", "", OTPRequest{Email: email, Code: notifier.code(email)})
	if rr.Code != http.StatusOK {
		t.Fatalf("signup verification failed: %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: email, Password: password})
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/verify-login-otp", "", OTPRequest{Email: email, Code: notifier.code(email)})
	if rr.Code != http.StatusOK {
		t.Fatalf("login verification failed: %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Token     string `json:"token"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if resp.Token == "" || resp.SessionID == "" {
		t.Fatalf("expected token and sessionId, got %s", rr.Body.String())
	}
	return resp.Token
}

func TestHealthEndpoints(t *testing.T) {
	server, _, _ := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rr.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", health["status"])
	}
	if health["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %q", health["version"])
	}

	rr = doJSON(t, server, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", rr.Code)
	}
}

func TestSignup(t *testing.T) {
	server, notifier, repo := createTestServer(t)

	t.Run("Success", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{
			Email:    "alice@example.com",
			Password: "correct-horse-battery",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if notifier.code("alice@example.com") == "" {
			t.Error("expected a signup code to be sent")
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{
			Email:    "alice@example.com",
			Password: "another-password",
		})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rr.Code)
		}
	})

	t.Run("ShortPassword", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{
			Email:    "bob@example.com",
			Password: "short",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("VerifyOTP", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/verify-signup-otp", "", OTPRequest{
			Email: "alice@example.com",
			Code:  notifier.code("alice@example.com"),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		user, err := repo.GetUserByEmail(context.Background(), "alice@example.com")
		if err != nil {
			t.Fatalf("failed to load user: %v", err)
		}
		if !user.Verified {
			t.Error("expected user to be verified")
		}
	})

	t.Run("VerifyWrongCode", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/verify-signup-otp", "", OTPRequest{
			Email: "alice@example.com",
			Code:  "000000",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})
}

func TestLogin(t *testing.T) {
	server, notifier, _ := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "carol@example.com", "a-long-password")

	t.Run("TokenAuthorizesDashboard", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/api/user/dashboard", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			User       *domain.User     `json:"user"`
			TrustScore float64          `json:"trustScore"`
			Sessions   []domain.Session `json:"sessions"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode dashboard: %v", err)
		}
		if resp.User == nil || resp.User.Email != "carol@example.com" {
			t.Errorf("unexpected dashboard user: %+v", resp.User)
		}
		if len(resp.Sessions) == 0 {
			t.Error("expected at least one session")
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/login", "", LoginRequest{
			Email:    "carol@example.com",
			Password: "wrong-password",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/login", "", LoginRequest{
			Email:    "nobody@example.com",
			Password: "whatever-password",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})
}

func TestLoginUnverifiedAccount(t *testing.T) {
	server, _, _ := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "dave@example.com",
		Password: "a-long-password",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    "dave@example.com",
		Password: "a-long-password",
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for unverified account, got %d", rr.Code)
	}
}

func TestLoginThrottle(t *testing.T) {
	server, notifier, _ := createTestServer(t)
	registerAndLogin(t, server, notifier, "eve@example.com", "a-long-password")

	// MaxLoginAttempts is 3 and the flow above consumed one; two more
	// failed attempts stay inside the budget, the next is throttled.
	for i := 0; i < 2; i++ {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/login", "", LoginRequest{
			Email:    "eve@example.com",
			Password: "wrong-password",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}

	rr := doJSON(t, server, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    "eve@example.com",
		Password: "wrong-password",
	})
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after exhausting attempts, got %d", rr.Code)
	}
}

// A 6-digit code must not be guessable by hammering the verify
// endpoint inside its TTL; after the attempt budget even the correct
// code is rejected until a new one is issued.
func TestOTPVerifyThrottle(t *testing.T) {
	server, notifier, _ := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "trudy@example.com",
		Password: "a-long-password",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d: %s", rr.Code, rr.Body.String())
	}

	// Five wrong guesses exhaust the per-email budget.
	for i := 0; i < 5; i++ {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/verify-signup-otp", "", OTPRequest{
			Email: "trudy@example.com",
			Code:  fmt.Sprintf("%06d", i),
		})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("guess %d: expected 401, got %d", i, rr.Code)
		}
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/verify-signup-otp", "", OTPRequest{
		Email: "trudy@example.com",
		Code:  "999999",
	})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting guesses, got %d", rr.Code)
	}

	// The real code is locked out too.
	rr = doJSON(t, server, http.MethodPost, "/api/auth/verify-signup-otp", "", OTPRequest{
		Email: "trudy@example.com",
		Code:  notifier.code("trudy@example.com"),
	})
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected correct code throttled as well, got %d", rr.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	server, notifier, _ := createTestServer(t)

	t.Run("MissingToken", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/api/user/dashboard", "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("GarbageToken", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/api/user/dashboard", "not.a.jwt", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("TokenDiesWithSession", func(t *testing.T) {
		token := registerAndLogin(t, server, notifier, "frank@example.com", "a-long-password")

		rr := doJSON(t, server, http.MethodPost, "/api/auth/logout", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout failed: %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/api/user/dashboard", token, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 after logout, got %d", rr.Code)
		}
	})
}

func TestPredictEndpoint(t *testing.T) {
	server, notifier, _ := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "grace@example.com", "a-long-password")

	// No baseline yet: fail-open default verdict, no session side effects.
	rr := doJSON(t, server, http.MethodPost, "/api/ai/predict", token, domain.TelemetrySample{
		domain.FeatureKeystrokeSpeed: 5.0,
		domain.FeatureMouseSpeed:     120.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var verdict domain.Verdict
	if err := json.Unmarshal(rr.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("failed to decode verdict: %v", err)
	}
	if !verdict.ModelAbsent {
		t.Error("expected model_absent verdict before training")
	}
	if verdict.TrustScore != 100 {
		t.Errorf("expected fail-open trust 100, got %v", verdict.TrustScore)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/user/dashboard", token, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("predict must not touch the session, dashboard got %d", rr.Code)
	}
}

func TestTrainAndBehaviorEvents(t *testing.T) {
	server, notifier, repo := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "heidi@example.com", "a-long-password")

	t.Run("TrainTooFewSamples", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/ai/train", token, TrainRequest{
			Samples: clusteredSamples(5, 7),
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for tiny batch, got %d", rr.Code)
		}
	})

	t.Run("Train", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/ai/train", token, TrainRequest{
			Samples: clusteredSamples(50, 7),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("NormalBehaviorKeepsSession", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/behavior/events", token, clusteredSamples(1, 99)[0])
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp BehaviorEventResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Action != "none" {
			t.Errorf("expected action none, got %q", resp.Action)
		}
		if resp.IsAnomalous {
			t.Error("baseline-like behavior flagged anomalous")
		}
	})

	t.Run("AnomalousBehaviorTerminatesSession", func(t *testing.T) {
		outlier := domain.TelemetrySample{
			domain.FeatureKeystrokeSpeed:   50.0,
			domain.FeatureMouseSpeed:       1200.0,
			domain.FeatureIdleTime:         30.0,
			domain.FeatureCursorPathLength: 8400.0,
			"location":                     "203.0.113.7",
		}
		rr := doJSON(t, server, http.MethodPost, "/api/behavior/events", token, outlier)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp BehaviorEventResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Action != "logout" {
			t.Errorf("expected action logout, got %q", resp.Action)
		}
		if !resp.IsAnomalous {
			t.Error("expected anomalous verdict for outlier")
		}

		// The terminated session's token is dead.
		rr = doJSON(t, server, http.MethodGet, "/api/user/dashboard", token, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 after termination, got %d", rr.Code)
		}

		user, err := repo.GetUserByEmail(context.Background(), "heidi@example.com")
		if err != nil {
			t.Fatalf("failed to load user: %v", err)
		}
		alerts, err := repo.ListAlerts(context.Background(), user.ID, 10)
		if err != nil {
			t.Fatalf("failed to list alerts: %v", err)
		}
		if len(alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts))
		}
		if alerts[0].Location != "203.0.113.7" {
			t.Errorf("expected alert location from sample, got %q", alerts[0].Location)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server, notifier, _ := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "ivan@example.com", "a-long-password")

	t.Run("CreateValid", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/policies", token, CreatePolicyRequest{
			ID:         "pol-idle",
			Name:       "impossible idle gap",
			Expression: "idle_time > 3600.0",
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/policies", token, CreatePolicyRequest{
			Name:       "broken",
			Expression: "idle_time >",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for malformed expression, got %d", rr.Code)
		}
	})

	t.Run("CreateNonBoolExpression", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/policies", token, CreatePolicyRequest{
			Name:       "numeric",
			Expression: "mouse_speed + 1.0",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for non-bool expression, got %d", rr.Code)
		}
	})

	t.Run("ReloadAndList", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/api/policies/reload", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("reload failed: %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/api/policies", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("list failed: %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode list: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded policy, got %d", resp.Count)
		}
	})

	t.Run("GetByID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/api/policies/pol-idle", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var rule domain.PolicyRule
		if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
			t.Fatalf("failed to decode rule: %v", err)
		}
		if rule.Name != "impossible idle gap" {
			t.Errorf("unexpected rule name %q", rule.Name)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodDelete, "/api/policies/pol-idle", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("delete failed: %d: %s", rr.Code, rr.Body.String())
		}

		rr = doJSON(t, server, http.MethodGet, "/api/policies", token, nil)
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode list: %v", err)
		}
		if resp.Count != 0 {
			t.Errorf("expected 0 loaded policies after delete, got %d", resp.Count)
		}
	})
}

func TestGuardRuleTerminatesViaAPI(t *testing.T) {
	server, notifier, _ := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "judy@example.com", "a-long-password")

	rr := doJSON(t, server, http.MethodPost, "/api/policies", token, CreatePolicyRequest{
		ID:          "pol-scripted",
		Name:        "mouse speed beyond human range",
		Description: "scripted pointer movement",
		Expression:  "mouse_speed > 5000.0",
		Enabled:     true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed: %d: %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, server, http.MethodPost, "/api/policies/reload", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reload failed: %d", rr.Code)
	}

	// No baseline, so the statistical verdict is fail-open; the guard
	// rule alone must terminate the session.
	rr = doJSON(t, server, http.MethodPost, "/api/behavior/events", token, domain.TelemetrySample{
		domain.FeatureMouseSpeed: 9000.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp BehaviorEventResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Action != "logout" {
		t.Errorf("expected action logout, got %q", resp.Action)
	}
	if len(resp.FiredRules) != 1 {
		t.Fatalf("expected 1 fired rule, got %d", len(resp.FiredRules))
	}
	if resp.FiredRules[0].RuleID != "pol-scripted" {
		t.Errorf("unexpected fired rule %q", resp.FiredRules[0].RuleID)
	}
}

func TestAdminEndpoints(t *testing.T) {
	server, notifier, _ := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "mallory@example.com", "a-long-password")

	rr := doJSON(t, server, http.MethodGet, "/api/admin/users", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var usersResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &usersResp); err != nil {
		t.Fatalf("failed to decode users: %v", err)
	}
	if usersResp.Count != 1 {
		t.Errorf("expected 1 user, got %d", usersResp.Count)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/admin/alerts", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

// TestAdminModelManagement lists and drops trained baselines through
// the admin surface and checks a dropped user scores as untrained.
func TestAdminModelManagement(t *testing.T) {
	server, notifier, repo := createTestServer(t)
	token := registerAndLogin(t, server, notifier, "victor@example.com", "a-long-password")

	user, err := repo.GetUserByEmail(context.Background(), "victor@example.com")
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}

	rr := doJSON(t, server, http.MethodPost, "/api/ai/train", token, TrainRequest{
		Samples: clusteredSamples(50, 40),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("train failed: %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/admin/models", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var listing struct {
		Count  int         `json:"count"`
		Models []ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode models: %v", err)
	}
	if listing.Count != 1 || len(listing.Models) != 1 {
		t.Fatalf("expected 1 model, got %+v", listing)
	}
	if listing.Models[0].UserID != user.ID || listing.Models[0].SampleCount != 50 {
		t.Errorf("unexpected model entry: %+v", listing.Models[0])
	}
	if c := listing.Models[0].Cutoff; c <= 0 || c >= 1 {
		t.Errorf("expected calibrated cutoff in (0,1), got %v", c)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/admin/models/"+user.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("drop failed: %d: %s", rr.Code, rr.Body.String())
	}

	// Snapshot gone too: the baseline must not come back at restart.
	if _, err := repo.GetModelSnapshot(context.Background(), user.ID); err == nil {
		t.Error("expected snapshot deleted with the model")
	}

	// The user scores as untrained again.
	rr = doJSON(t, server, http.MethodPost, "/api/ai/predict", token, domain.TelemetrySample{
		"keystroke_speed": 5.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("predict failed: %d", rr.Code)
	}
	var verdict domain.Verdict
	if err := json.Unmarshal(rr.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("failed to decode verdict: %v", err)
	}
	if !verdict.ModelAbsent || verdict.TrustScore != 100 {
		t.Errorf("expected fail-open default after drop, got %+v", verdict)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/admin/models/"+user.ID, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for already-dropped model, got %d", rr.Code)
	}
}
