package services

import (
	"context"
	"errors"
	"time"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// ErrDuplicateOpenEscalation is returned by EscalationStore.CreateLogEntry
// when an open entry already exists for the same (rule, entity) pair. The
// backing store must enforce this at write time; the dispatcher's prior
// existence check alone cannot close the check-then-act window between
// overlapping passes.
var ErrDuplicateOpenEscalation = errors.New("open escalation already exists for rule and entity")

// ErrRuleNotFound is returned by RuleStore lookups for unknown rule IDs.
var ErrRuleNotFound = errors.New("rule not found")

// ErrEntryNotFound is returned for unknown escalation log entry IDs.
var ErrEntryNotFound = errors.New("escalation log entry not found")

// RuleStore persists escalation rule definitions.
type RuleStore interface {
	ListRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error)
	GetRule(ctx context.Context, id string) (*models.EscalationRule, error)
	SaveRule(ctx context.Context, rule *models.EscalationRule) error
	DeleteRule(ctx context.Context, id string) error
}

// RuleDirectory is the engine's read-side view of the rule set.
type RuleDirectory interface {
	ListActiveRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error)
}

// RoleDirectory resolves a role tag into its current workspace members.
type RoleDirectory interface {
	MembersOf(ctx context.Context, workspaceID, role string) ([]string, error)
}

// EscalationStore persists firings and their per-user notifications.
type EscalationStore interface {
	// HasOpenEscalation reports whether an unresolved entry exists for the
	// pair. An existence check only; implementations need not fetch rows.
	HasOpenEscalation(ctx context.Context, ruleID, entityID string) (bool, error)

	// CreateLogEntry appends one firing. Implementations must reject a
	// second open entry for the same (rule_id, entity_id) pair with
	// ErrDuplicateOpenEscalation.
	CreateLogEntry(ctx context.Context, entry *models.EscalationLogEntry) error

	// CreateNotifications writes the per-user fan-out of one firing.
	CreateNotifications(ctx context.Context, notifications []*models.Notification) error

	ListLogEntries(ctx context.Context, workspaceID, ruleID string) ([]*models.EscalationLogEntry, error)

	// AcknowledgeLogEntry records who acknowledged the entry without
	// closing it; the pair keeps blocking re-fires.
	AcknowledgeLogEntry(ctx context.Context, entryID, acknowledgedBy string, at time.Time) error

	// ResolveLogEntry sets resolved_at, releasing the pair for future
	// firings.
	ResolveLogEntry(ctx context.Context, entryID, resolvedBy string, at time.Time) error

	ListNotifications(ctx context.Context, workspaceID, userID string) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
}
