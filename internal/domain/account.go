package domain

import (
	"encoding/json"
	"time"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	TrustScore   float64   `json:"trustScore"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session status values. A session starts active and is terminated
// exactly once; terminated is absorbing — a new login always creates a
// new session.
const (
	SessionActive     = "active"
	SessionTerminated = "terminated"
)

// Session is one authenticated client session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Token        string    `json:"token"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Alert records an anomalous-behavior incident that terminated a session.
type Alert struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	SessionID  string          `json:"sessionId"`
	Timestamp  time.Time       `json:"timestamp"`
	Reason     string          `json:"reason"`
	Location   string          `json:"location,omitempty"`
	Behavior   json.RawMessage `json:"behavior,omitempty"`
	TrustScore float64         `json:"trustScore"`
}

// BehaviorLog records one scored telemetry event.
type BehaviorLog struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	SessionID   string          `json:"sessionId"`
	Timestamp   time.Time       `json:"timestamp"`
	TrustScore  float64         `json:"trustScore"`
	RawScore    float64         `json:"rawScore"`
	IsAnomalous bool            `json:"isAnomalous"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
