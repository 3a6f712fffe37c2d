// Package model defines the data structures used throughout the application.
package model

import "time"

// InstallationCredential is the durable link between an internal user and a
// GitHub App installation.
//
// Invariant: at most one credential per UserID — a later successful link for
// the same user overwrites the earlier one. The record is written only by the
// linking orchestrator after the installation passed ownership verification,
// and both tokens are committed together or not at all.
//
// InstallationID is an opaque string. GitHub happens to use numbers, but
// gitlink only ever compares the value for equality.
type InstallationCredential struct {
	ID             string    `json:"id"             db:"id"`
	UserID         string    `json:"userId"         db:"user_id"`
	InstallationID string    `json:"installationId" db:"installation_id"`
	AccessToken    string    `json:"-"              db:"access_token"`
	RefreshToken   string    `json:"-"              db:"refresh_token"`
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      db:"updated_at"`
}

// GitRepo is the read-only projection of a provider repository returned to
// API callers. It has no lifecycle of its own — every list request refetches
// from the provider.
type GitRepo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"htmlUrl"`
	Description   string `json:"description"`
	DefaultBranch string `json:"defaultBranch"`
}
