// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-auth/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("record already exists")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser stores a new user account. Email must be unique.
func (r *SQLRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" || user.Email == "" {
		return fmt.Errorf("%w: user id and email are required", ErrInvalidInput)
	}

	verified := 0
	if user.Verified {
		verified = 1
	}

	query := `
		INSERT INTO users (id, email, password_hash, verified, trust_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.Email, user.PasswordHash,
		verified, user.TrustScore, user.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", ErrDuplicate, user.Email)
	}
	return err
}

// GetUser retrieves a user by ID.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, verified, trust_score, created_at
		FROM users
		WHERE id = ?
	`
	return r.scanUser(r.db.QueryRowContext(ctx, r.rebind(query), userID))
}

// GetUserByEmail retrieves a user by email address.
func (r *SQLRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, verified, trust_score, created_at
		FROM users
		WHERE email = ?
	`
	return r.scanUser(r.db.QueryRowContext(ctx, r.rebind(query), email))
}

func (r *SQLRepository) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var verified int

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &verified, &u.TrustScore, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Verified = verified == 1
	return &u, nil
}

// ListUsers retrieves all user accounts ordered by creation time.
func (r *SQLRepository) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT id, email, password_hash, verified, trust_score, created_at
		FROM users
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User
		var verified int

		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &verified, &u.TrustScore, &u.CreatedAt); err != nil {
			return nil, err
		}

		u.Verified = verified == 1
		users = append(users, &u)
	}

	return users, rows.Err()
}

// MarkUserVerified flags a user account as email-verified.
func (r *SQLRepository) MarkUserVerified(ctx context.Context, userID string) error {
	query := `UPDATE users SET verified = 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), userID)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// UpdateUserTrustScore records the latest trust score on the account.
func (r *SQLRepository) UpdateUserTrustScore(ctx context.Context, userID string, score float64) error {
	query := `UPDATE users SET trust_score = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), score, userID)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// SaveSession stores a session.
func (r *SQLRepository) SaveSession(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" || session.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO sessions (id, user_id, token, status, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		session.ID, session.UserID, session.Token,
		session.Status, session.CreatedAt, session.LastActivity,
	)
	return err
}

// GetSessionByToken retrieves a session by its token.
func (r *SQLRepository) GetSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, token, status, created_at, last_activity
		FROM sessions
		WHERE token = ?
	`
	return r.scanSession(r.db.QueryRowContext(ctx, r.rebind(query), token))
}

// GetActiveSession retrieves the most recent active session for a user.
func (r *SQLRepository) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, token, status, created_at, last_activity
		FROM sessions
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanSession(r.db.QueryRowContext(ctx, r.rebind(query), userID, domain.SessionActive))
}

func (r *SQLRepository) scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session

	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.Status, &s.CreatedAt, &s.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions retrieves sessions for a user, newest first.
func (r *SQLRepository) ListSessions(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, token, status, created_at, last_activity
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Token, &s.Status, &s.CreatedAt, &s.LastActivity); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

// TouchSession advances the session's last-activity timestamp.
func (r *SQLRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_activity = ? WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), at, sessionID, domain.SessionActive)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// TerminateSession marks a session terminated. Terminated sessions stay
// terminated, so repeating the call for an already-terminated session
// reports ErrNotFound rather than flipping state.
func (r *SQLRepository) TerminateSession(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET status = ? WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.SessionTerminated, sessionID, domain.SessionActive)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// TerminateIdleSessions terminates every active session whose last
// activity predates the cutoff. Returns the number of sessions closed.
func (r *SQLRepository) TerminateIdleSessions(ctx context.Context, idleBefore time.Time) (int64, error) {
	query := `UPDATE sessions SET status = ? WHERE status = ? AND last_activity < ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.SessionTerminated, domain.SessionActive, idleBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveAlert stores an anomaly alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" || alert.UserID == "" {
		return fmt.Errorf("%w: alert id and user id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (id, user_id, session_id, timestamp, reason, location, behavior, trust_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.UserID, alert.SessionID, alert.Timestamp,
		alert.Reason, alert.Location, string(alert.Behavior), alert.TrustScore,
	)
	return err
}

// ListAlerts retrieves alerts, newest first. An empty userID lists
// across all users.
func (r *SQLRepository) ListAlerts(ctx context.Context, userID string, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, session_id, timestamp, reason, location, behavior, trust_score
		FROM alerts
	`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var behavior string

		if err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &a.Timestamp,
			&a.Reason, &a.Location, &behavior, &a.TrustScore); err != nil {
			return nil, err
		}

		if behavior != "" {
			a.Behavior = []byte(behavior)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// SaveBehaviorLog stores one scored telemetry event.
func (r *SQLRepository) SaveBehaviorLog(ctx context.Context, log *domain.BehaviorLog) error {
	if log == nil || log.ID == "" || log.UserID == "" {
		return fmt.Errorf("%w: log id and user id are required", ErrInvalidInput)
	}

	anomalous := 0
	if log.IsAnomalous {
		anomalous = 1
	}

	query := `
		INSERT INTO behavior_logs (id, user_id, session_id, timestamp, trust_score, raw_score, is_anomalous, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		log.ID, log.UserID, log.SessionID, log.Timestamp,
		log.TrustScore, log.RawScore, anomalous, string(log.Payload),
	)
	return err
}

// ListBehaviorLogs retrieves scored events for a user, newest first.
func (r *SQLRepository) ListBehaviorLogs(ctx context.Context, userID string, limit int) ([]*domain.BehaviorLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, session_id, timestamp, trust_score, raw_score, is_anomalous, payload
		FROM behavior_logs
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.BehaviorLog
	for rows.Next() {
		var l domain.BehaviorLog
		var anomalous int
		var payload string

		if err := rows.Scan(&l.ID, &l.UserID, &l.SessionID, &l.Timestamp,
			&l.TrustScore, &l.RawScore, &anomalous, &payload); err != nil {
			return nil, err
		}

		l.IsAnomalous = anomalous == 1
		if payload != "" {
			l.Payload = []byte(payload)
		}
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}

// SaveModelSnapshot upserts the trained baseline for a user. Each user
// keeps exactly one snapshot, the latest training run.
func (r *SQLRepository) SaveModelSnapshot(ctx context.Context, snap *domain.ModelSnapshot) error {
	if snap == nil || snap.UserID == "" {
		return fmt.Errorf("%w: snapshot user id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO model_snapshots (user_id, params, trained_at, sample_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			params = excluded.params,
			trained_at = excluded.trained_at,
			sample_count = excluded.sample_count
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snap.UserID, string(snap.Params), snap.TrainedAt, snap.SampleCount,
	)
	return err
}

// GetModelSnapshot retrieves the trained baseline for a user.
func (r *SQLRepository) GetModelSnapshot(ctx context.Context, userID string) (*domain.ModelSnapshot, error) {
	query := `
		SELECT user_id, params, trained_at, sample_count
		FROM model_snapshots
		WHERE user_id = ?
	`

	var snap domain.ModelSnapshot
	var params string

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&snap.UserID, &params, &snap.TrainedAt, &snap.SampleCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap.Params = []byte(params)
	return &snap, nil
}

// DeleteModelSnapshot removes the stored baseline for a user. Deleting
// an absent snapshot is a no-op.
func (r *SQLRepository) DeleteModelSnapshot(ctx context.Context, userID string) error {
	query := `DELETE FROM model_snapshots WHERE user_id = ?`
	_, err := r.db.ExecContext(ctx, r.rebind(query), userID)
	return err
}

// ListModelSnapshots retrieves every stored baseline. Used to rehydrate
// the model registry at startup.
func (r *SQLRepository) ListModelSnapshots(ctx context.Context) ([]*domain.ModelSnapshot, error) {
	query := `
		SELECT user_id, params, trained_at, sample_count
		FROM model_snapshots
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*domain.ModelSnapshot
	for rows.Next() {
		var snap domain.ModelSnapshot
		var params string

		if err := rows.Scan(&snap.UserID, &params, &snap.TrainedAt, &snap.SampleCount); err != nil {
			return nil, err
		}

		snap.Params = []byte(params)
		snaps = append(snaps, &snap)
	}

	return snaps, rows.Err()
}

// SavePolicyRule upserts a guard rule configuration.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, rule *domain.PolicyRule) error {
	if rule == nil || rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (id, name, description, expression, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, enabled,
		now, now,
	)
	return err
}

// GetPolicyRule retrieves a guard rule by ID.
func (r *SQLRepository) GetPolicyRule(ctx context.Context, ruleID string) (*domain.PolicyRule, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM policy_rules
		WHERE id = ?
	`

	var rule domain.PolicyRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
		&enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListPolicyRules retrieves guard rules ordered by name.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, enabledOnly bool) ([]*domain.PolicyRule, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM policy_rules
	`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var enabled int

		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
			&enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeletePolicyRule soft-deletes a guard rule by setting enabled = 0.
func (r *SQLRepository) DeletePolicyRule(ctx context.Context, ruleID string) error {
	query := `
		UPDATE policy_rules
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	return requireRows(result)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func requireRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint failure
// from either driver. Both surface the constraint name in the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
