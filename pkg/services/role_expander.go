package services

import (
	"context"
	"fmt"
	"sort"
)

// RoleExpander resolves a rule's notify_roles and notify_user_ids into
// the concrete set of target users.
type RoleExpander struct {
	directory RoleDirectory
}

// NewRoleExpander creates a role expander over the given directory.
func NewRoleExpander(directory RoleDirectory) *RoleExpander {
	return &RoleExpander{directory: directory}
}

// ResolveTargets expands each role tag to its current workspace members
// and unions the result with the explicit user IDs. The result is
// deduplicated and sorted, so the notified_user_ids snapshot on a log
// entry is stable. Empty inputs yield an empty set: a rule with no
// recipients still fires and logs, it just notifies nobody.
func (e *RoleExpander) ResolveTargets(ctx context.Context, workspaceID string, roles, userIDs []string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, role := range roles {
		members, err := e.directory.MembersOf(ctx, workspaceID, role)
		if err != nil {
			return nil, fmt.Errorf("failed to expand role %q: %w", role, err)
		}
		for _, member := range members {
			if member != "" {
				seen[member] = struct{}{}
			}
		}
	}

	for _, id := range userIDs {
		if id != "" {
			seen[id] = struct{}{}
		}
	}

	targets := make([]string, 0, len(seen))
	for id := range seen {
		targets = append(targets, id)
	}
	sort.Strings(targets)
	return targets, nil
}
