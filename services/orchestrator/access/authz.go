// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"context"
	"fmt"

	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
)

// ResourceSpace is the AuthzRequest.ResourceType for household spaces.
const ResourceSpace = "space"

// SpaceAuthz allows an action on a space only to its members.
type SpaceAuthz struct {
	spaces household.Reader
}

var _ extensions.AuthzProvider = (*SpaceAuthz)(nil)

func NewSpaceAuthz(spaces household.Reader) *SpaceAuthz {
	return &SpaceAuthz{spaces: spaces}
}

func (a *SpaceAuthz) Authorize(ctx context.Context, req extensions.AuthzRequest) error {
	if req.User == nil || req.User.UserID == "" {
		return fmt.Errorf("no authenticated user: %w", extensions.ErrUnauthorized)
	}
	if req.ResourceType != ResourceSpace {
		return nil
	}
	if req.ResourceID == "" {
		return fmt.Errorf("space id required: %w", extensions.ErrUnauthorized)
	}
	ok, err := a.spaces.IsMember(ctx, req.ResourceID, req.User.UserID)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %s is not a member of space %s: %w",
			req.User.UserID, req.ResourceID, extensions.ErrUnauthorized)
	}
	return nil
}
