package models

import (
	"time"
)

// DefaultNotificationChannel is used when a rule specifies no channels.
const DefaultNotificationChannel = "in_app"

// NotificationTypeEscalation marks notifications produced by the engine.
const NotificationTypeEscalation = "escalation"

// TargetRecord is the engine's read-only view of an operational record.
// Fields carries the scalar attributes a rule predicate may reference
// (status, severity, priority, ...).
type TargetRecord struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"createdAt"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Field looks up a predicate field on the record. The identity columns
// are addressable alongside the domain attributes.
func (r TargetRecord) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "title":
		return r.Title, true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// EscalationLogEntry is the audit record of one firing. Rule name and
// entity title are snapshots taken at fire time, so later edits or
// deletions of the rule do not rewrite history.
type EscalationLogEntry struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	RuleID      string        `json:"ruleId"`
	RuleName    string        `json:"ruleName"`
	EntityType  TriggerEntity `json:"entityType"`
	EntityID    string        `json:"entityId"`
	EntityTitle string        `json:"entityTitle"`

	NotifiedUserIDs      []string `json:"notifiedUserIds"`
	NotificationChannels []string `json:"notificationChannels"`

	FiredAt time.Time `json:"firedAt"`

	// ResolvedAt and the acknowledgement fields are set by the resolution
	// collaborator, never by the engine. A nil ResolvedAt marks the entry
	// as open; at most one open entry may exist per (rule, entity) pair.
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// Open reports whether the entry still blocks re-firing of its pair.
func (e *EscalationLogEntry) Open() bool {
	return e.ResolvedAt == nil
}

// Notification is a per-user alert instance created in bulk on firing.
type Notification struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	UserID      string        `json:"userId"`
	Type        string        `json:"type"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	EntityType  TriggerEntity `json:"entityType"`
	EntityID    string        `json:"entityId"`
	Read        bool          `json:"read"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// RunSummary aggregates one evaluation pass. It is informational only;
// the engine never reads it back for correctness.
type RunSummary struct {
	RulesChecked     int       `json:"rulesChecked"`
	EscalationsFired int       `json:"escalationsFired"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
}
