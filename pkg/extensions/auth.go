// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrUnauthorized is returned (possibly wrapped) when a token is invalid or
// an action is denied.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity established from a bearer token.
type AuthInfo struct {
	// UserID is the only required field and is never empty.
	UserID string

	// DisplayName is the name the assistant addresses the user by. May be
	// empty; the household member list is used instead.
	DisplayName string

	Email string
	Roles []string

	// ExpiresAt is zero when the provider does not report an expiry.
	ExpiresAt time.Time
}

func (a *AuthInfo) HasRole(role string) bool {
	return a != nil && slices.Contains(a.Roles, role)
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// Validate returns the identity behind token. The token format is
// implementation-specific. Invalid, expired or malformed tokens yield an
// error wrapping ErrUnauthorized; any other error is an infrastructure
// failure.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an action a user wants to take on a resource.
type AuthzRequest struct {
	User *AuthInfo

	// Action is the operation, e.g. "chat" or "read".
	Action string

	// ResourceType is the category of resource, e.g. "space" or
	// "conversation".
	ResourceType string

	// ResourceID is the specific instance. Empty means the type in general.
	ResourceID string
}

// AuthzProvider decides whether an authenticated user may act.
type AuthzProvider interface {
	// Authorize returns nil when permitted and an error wrapping
	// ErrUnauthorized when denied.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider accepts every token as a single local user. It is meant
// for local development only.
type NopAuthProvider struct {
	// UserID defaults to "local-user".
	UserID string
}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	id := p.UserID
	if id == "" {
		id = "local-user"
	}
	return &AuthInfo{UserID: id, Roles: []string{"member"}}, nil
}

// NopAuthzProvider permits everything.
type NopAuthzProvider struct{}

func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)
