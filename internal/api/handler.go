package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-auth/kestrel/internal/auth"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/engine"
	"github.com/opensource-auth/kestrel/internal/policy"
	"github.com/opensource-auth/kestrel/internal/repository"
	"github.com/opensource-auth/kestrel/internal/session"
	"github.com/opensource-auth/kestrel/internal/worker"
)

// eventRateLimit caps behavior events per user per minute. Telemetry
// arrives on a timer from well-behaved clients; anything past this is a
// flooding client, not a fast typist.
const eventRateLimit = 600

// otpVerifyLimit caps code-verification attempts per email inside one
// OTP window. A 6-digit code is guessable given unlimited tries within
// its TTL, so the budget has to be far smaller than the code space.
const otpVerifyLimit = 5

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	engine       *engine.Engine
	policies     *policy.Engine
	worker       *worker.Worker
	orchestrator *session.Orchestrator
	otp          *auth.OTPIssuer
	notifier     session.Notifier
	authCfg      domain.AuthConfig
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, policies *policy.Engine, wrk *worker.Worker, orchestrator *session.Orchestrator, otp *auth.OTPIssuer, notifier session.Notifier, authCfg domain.AuthConfig, version string) *Handler {
	if notifier == nil {
		notifier = session.LogNotifier{}
	}
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		engine:       eng,
		policies:     policies,
		worker:       wrk,
		orchestrator: orchestrator,
		otp:          otp,
		notifier:     notifier,
		authCfg:      authCfg,
		version:      version,
	}
}

// SignupRequest is the request body for POST /api/auth/signup.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OTPRequest carries an email plus the 6-digit code for the verify endpoints.
type OTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup handles POST /api/auth/signup: creates an unverified account
// and mails a one-time code to prove email ownership.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email and password are required",
		})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "password must be at least 8 characters",
		})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create account",
		})
		return
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
		Verified:     false,
		TrustScore:   100,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "an account with this email already exists",
			})
			return
		}
		slog.Error("failed to create user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create account",
		})
		return
	}

	h.sendOTP(ctx, user)

	slog.Info("user signed up", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"userId":  user.ID,
		"message": "verification code sent",
	})
}

// VerifySignupOTP handles POST /api/auth/verify-signup-otp: consumes the
// signup code and marks the account verified.
func (h *Handler) VerifySignupOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.resolveOTPUser(w, r)
	if !ok {
		return
	}

	if err := h.repo.MarkUserVerified(ctx, user.ID); err != nil {
		slog.Error("failed to mark user verified", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to verify account",
		})
		return
	}

	slog.Info("user verified", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "account verified",
	})
}

// Login handles POST /api/auth/login: checks credentials and mails a
// login code. The session is only created once the code is consumed.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email and password are required",
		})
		return
	}

	if h.throttled(ctx, "login:"+req.Email) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "too many login attempts, try again later",
		})
		return
	}

	user, err := h.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		// Same response as a wrong password so the endpoint does not
		// leak which emails have accounts.
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		})
		return
	}

	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		})
		return
	}

	if !user.Verified {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "account is not verified",
		})
		return
	}

	h.sendOTP(ctx, user)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "verification code sent",
	})
}

// VerifyLoginOTP handles POST /api/auth/verify-login-otp: consumes the
// login code, opens a fresh session and returns the signed token.
func (h *Handler) VerifyLoginOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := h.resolveOTPUser(w, r)
	if !ok {
		return
	}
	if !user.Verified {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "account is not verified",
		})
		return
	}

	sessionID := uuid.New().String()
	token, err := auth.SignHS256([]byte(h.authCfg.JWTSecret), user.ID, sessionID, h.authCfg.TokenTTL)
	if err != nil {
		slog.Error("failed to sign session token", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create session",
		})
		return
	}

	sess, err := h.orchestrator.Open(ctx, user.ID, sessionID, token)
	if err != nil {
		slog.Error("failed to open session", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create session",
		})
		return
	}

	slog.Info("session opened", "user_id", user.ID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"sessionId": sess.ID,
		"expiresIn": int64(h.authCfg.TokenTTL.Seconds()),
	})
}

// Logout handles POST /api/auth/logout: closes the caller's session.
// A token for a terminated session stops working immediately.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := GetSession(ctx)

	if err := h.repo.TerminateSession(ctx, sess.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to terminate session", "session_id", sess.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to log out",
		})
		return
	}

	slog.Info("session closed by user", "user_id", sess.UserID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "logged out",
	})
}

// BehaviorEventResponse is the response for POST /api/behavior/events.
type BehaviorEventResponse struct {
	TrustScore  float64               `json:"trust_score"`
	IsAnomalous bool                  `json:"is_anomalous"`
	Action      string                `json:"action"`
	FiredRules  []domain.PolicyResult `json:"firedRules,omitempty"`
}

// BehaviorEvents handles POST /api/behavior/events: scores one telemetry
// record against the caller's baseline and applies the session outcome.
// When the verdict terminates the session the response tells the client
// to log out; the token is already dead by then.
func (h *Handler) BehaviorEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := GetSession(ctx)

	var sample domain.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if h.throttledAt(ctx, "events:"+sess.UserID, eventRateLimit, time.Minute) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "telemetry rate limit exceeded",
		})
		return
	}

	tm := &worker.TelemetryMessage{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Sample:    sample,
	}
	vm, err := h.worker.Process(ctx, tm, GetTraceID(ctx))
	if err != nil {
		slog.Error("failed to process behavior event", "user_id", sess.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to process behavior event",
		})
		return
	}

	action := "none"
	if vm.Terminated {
		action = "logout"
	}

	writeJSON(w, http.StatusOK, BehaviorEventResponse{
		TrustScore:  vm.Verdict.TrustScore,
		IsAnomalous: vm.Verdict.IsAnomalous,
		Action:      action,
		FiredRules:  vm.Fired,
	})
}

// TrainRequest is the request body for POST /api/ai/train.
type TrainRequest struct {
	Samples []domain.TelemetrySample `json:"samples"`
}

// Train handles POST /api/ai/train: fits a fresh baseline for the caller
// from a batch of historical telemetry.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	model, err := h.engine.Train(ctx, userID, req.Samples)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyDataset), errors.Is(err, engine.ErrInsufficientData):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, engine.ErrTrainingInProgress):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("training failed", "user_id", userID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "training failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "baseline trained",
		"sampleCount": model.SampleCount,
		"trainedAt":   model.TrainedAt,
	})
}

// Predict handles POST /api/ai/predict: scores one telemetry record
// without touching the session. Useful for client-side calibration.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var sample domain.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	verdict := h.engine.Score(ctx, userID, sample)
	writeJSON(w, http.StatusOK, verdict)
}

// Dashboard handles GET /api/user/dashboard: the caller's account,
// recent sessions, alerts and scored behavior.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		slog.Error("failed to load user", "user_id", userID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "user not found",
		})
		return
	}

	sessions, err := h.repo.ListSessions(ctx, userID, 10)
	if err != nil {
		slog.Error("failed to list sessions", "user_id", userID, "error", err)
		sessions = nil
	}
	alerts, err := h.repo.ListAlerts(ctx, userID, 10)
	if err != nil {
		slog.Error("failed to list alerts", "user_id", userID, "error", err)
		alerts = nil
	}
	logs, err := h.repo.ListBehaviorLogs(ctx, userID, 20)
	if err != nil {
		slog.Error("failed to list behavior logs", "user_id", userID, "error", err)
		logs = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":           user,
		"trustScore":     user.TrustScore,
		"sessions":       sessions,
		"alerts":         alerts,
		"recentBehavior": logs,
	})
}

// ListUsers handles GET /api/admin/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list users",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// ListAlerts handles GET /api/admin/alerts. An optional userId query
// parameter narrows the listing to one account.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	alerts, err := h.repo.ListAlerts(r.Context(), userID, 100)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ModelInfo is one entry in the GET /api/admin/models listing.
type ModelInfo struct {
	UserID      string    `json:"userId"`
	TrainedAt   time.Time `json:"trainedAt"`
	SampleCount int       `json:"sampleCount"`
	Cutoff      float64   `json:"cutoff"`
}

// ListModels handles GET /api/admin/models: the trained baselines
// currently published in the registry.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	registry := h.engine.Registry()

	models := make([]ModelInfo, 0, registry.Count())
	for _, userID := range registry.Users() {
		model, ok := registry.Lookup(userID)
		if !ok {
			continue
		}
		models = append(models, ModelInfo{
			UserID:      model.UserID,
			TrainedAt:   model.TrainedAt,
			SampleCount: model.SampleCount,
			Cutoff:      model.Cutoff,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].UserID < models[j].UserID })

	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

// DropModel handles DELETE /api/admin/models/{userId}: discards a
// user's baseline and snapshot. The user scores as untrained until the
// next training run; use it to reset a baseline that no longer matches
// the owner's behavior.
func (h *Handler) DropModel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	if err := h.engine.DropModel(r.Context(), userID); err != nil {
		if errors.Is(err, engine.ErrNoModel) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no trained baseline for user",
			})
			return
		}
		slog.Error("failed to drop model", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to drop model",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "baseline dropped",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreatePolicyRequest is the request body for creating a guard rule.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// ListPolicies returns all guard rules currently loaded in the engine.
// Rules are loaded from the database at startup and hot-reloaded via
// POST /api/policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a guard rule by ID.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	rule, err := h.repo.GetPolicyRule(r.Context(), ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "policy not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreatePolicy creates a new guard rule and saves it to the database.
// The expression is compile-validated before anything is persisted.
// After saving, call POST /api/policies/reload to hot-reload the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	rule := &domain.PolicyRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.policies.Validate(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicyRule(ctx, rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	slog.Info("policy rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  rule,
		"message": "Policy created. Call POST /api/policies/reload to apply changes.",
	})
}

// DeletePolicy disables a guard rule and auto-reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if err := h.repo.DeletePolicyRule(ctx, ruleID); err != nil {
		slog.Error("failed to delete policy rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "policy not found",
		})
		return
	}

	// Auto-reload after delete so the rule stops firing immediately.
	enabled, err := h.repo.ListPolicyRules(ctx, true)
	if err != nil {
		slog.Error("failed to reload policies after delete", "error", err)
	} else if err := h.policies.ReloadRules(enabled); err != nil {
		slog.Error("failed to reload policy engine after delete", "error", err)
	}

	slog.Info("policy rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "policy deleted and engine reloaded",
	})
}

// ReloadPolicies reloads all enabled guard rules from the database into
// the engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := h.repo.ListPolicyRules(ctx, true)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadRules(enabled); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(enabled))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "policies reloaded successfully",
		"count":   len(enabled),
	})
}

// sendOTP issues a fresh code for the user and mails it. Delivery
// failures are logged, not surfaced: the code stays valid in the cache
// and the user can request another.
func (h *Handler) sendOTP(ctx context.Context, user *domain.User) {
	code, err := h.otp.Issue(ctx, user.ID)
	if err != nil {
		slog.Error("failed to issue otp", "user_id", user.ID, "error", err)
		return
	}
	if err := h.notifier.SendOTP(ctx, user.Email, code); err != nil {
		slog.Error("failed to send otp", "user_id", user.ID, "error", err)
	}
}

// resolveOTPUser decodes an OTPRequest, resolves the account and
// consumes the code. Writes the error response itself when it fails.
// Verification attempts are counted per email, unknown addresses
// included, so the code cannot be brute-forced inside its TTL.
func (h *Handler) resolveOTPUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	ctx := r.Context()

	var req OTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}
	if req.Email == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email and code are required",
		})
		return nil, false
	}

	if h.throttledAt(ctx, "otp:"+req.Email, otpVerifyLimit, h.authCfg.OTPExpiry) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "too many verification attempts, request a new code",
		})
		return nil, false
	}

	user, err := h.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid or expired code",
		})
		return nil, false
	}

	if err := h.otp.Verify(ctx, user.ID, req.Code); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid or expired code",
		})
		return nil, false
	}

	return user, true
}

// throttled reports whether key has exceeded the configured login
// attempt budget inside the OTP window.
func (h *Handler) throttled(ctx context.Context, key string) bool {
	limit := h.authCfg.MaxLoginAttempts
	if limit <= 0 {
		return false
	}
	return h.throttledAt(ctx, key, int64(limit), h.authCfg.OTPExpiry)
}

func (h *Handler) throttledAt(ctx context.Context, key string, limit int64, window time.Duration) bool {
	if h.cache == nil {
		return false
	}
	count, err := h.cache.IncrementCounter(ctx, domain.ScopeRate, key, window)
	if err != nil {
		slog.Warn("rate counter unavailable", "key", key, "error", err)
		return false
	}
	return count > limit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
