// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable edges of the chat service:
// identity, authorization, audit and message screening.
//
// # Description
//
// The service depends only on these interfaces. Production wiring injects
// JWTAuthProvider, a membership-based AuthzProvider, SlogAuditLogger and
// the policy engine's chat filter; local development can run entirely on
// the Nop implementations.
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(jwtProvider).
//	    WithAuthz(spaceAuthz).
//	    WithFilter(chatFilter)
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to the service.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens. Default: NopAuthProvider.
	AuthProvider AuthProvider

	// AuthzProvider checks workspace access. Default: NopAuthzProvider.
	AuthzProvider AuthzProvider

	// AuditLogger records security-relevant events. Default: NopAuditLogger.
	AuditLogger AuditLogger

	// MessageFilter screens inbound messages. Default: NopMessageFilter.
	MessageFilter MessageFilter
}

// DefaultOptions returns options with every extension set to its Nop.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   &NopAuditLogger{},
		MessageFilter: &NopMessageFilter{},
	}
}

// WithDefaults fills nil fields with their Nop implementations.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	d := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = d.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = d.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = d.AuditLogger
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = d.MessageFilter
	}
	return opts
}

func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}
