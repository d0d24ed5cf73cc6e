package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// User accounts
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	MarkUserVerified(ctx context.Context, userID string) error
	UpdateUserTrustScore(ctx context.Context, userID string, score float64) error

	// Sessions
	SaveSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	GetActiveSession(ctx context.Context, userID string) (*Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	TerminateSession(ctx context.Context, sessionID string) error
	TerminateIdleSessions(ctx context.Context, idleBefore time.Time) (int64, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, userID string, limit int) ([]*Alert, error)

	// Behavior logs
	SaveBehaviorLog(ctx context.Context, log *BehaviorLog) error
	ListBehaviorLogs(ctx context.Context, userID string, limit int) ([]*BehaviorLog, error)

	// Baseline model snapshots
	SaveModelSnapshot(ctx context.Context, snap *ModelSnapshot) error
	GetModelSnapshot(ctx context.Context, userID string) (*ModelSnapshot, error)
	ListModelSnapshots(ctx context.Context) ([]*ModelSnapshot, error)
	DeleteModelSnapshot(ctx context.Context, userID string) error

	// Policy guard rules
	SavePolicyRule(ctx context.Context, rule *PolicyRule) error
	GetPolicyRule(ctx context.Context, ruleID string) (*PolicyRule, error)
	ListPolicyRules(ctx context.Context, enabledOnly bool) ([]*PolicyRule, error)
	DeletePolicyRule(ctx context.Context, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" env:"KESTREL_DB_DRIVER"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" env:"KESTREL_SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" env:"KESTREL_POSTGRES_HOST"`
	PostgresPort     int    `json:"postgresPort" env:"KESTREL_POSTGRES_PORT"`
	PostgresUser     string `json:"postgresUser" env:"KESTREL_POSTGRES_USER"`
	PostgresPassword string `json:"-" env:"KESTREL_POSTGRES_PASSWORD"`
	PostgresDB       string `json:"postgresDb" env:"KESTREL_POSTGRES_DB"`
	PostgresSSLMode  string `json:"postgresSslMode" env:"KESTREL_POSTGRES_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
