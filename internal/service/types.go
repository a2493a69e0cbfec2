// Package service keeps the per-browser-session coverage controllers.
package service

import "time"

// SessionInfo describes a live session.
type SessionInfo struct {
	ID         string    `json:"id" doc:"Session identifier" example:"2f1c0f6e-6c4e-4d43-9a53-6f0f3b1c2d11"`
	CreatedAt  time.Time `json:"createdAt" doc:"Creation time"`
	Authorized bool      `json:"authorized" doc:"Whether the session holds a valid token"`
}
