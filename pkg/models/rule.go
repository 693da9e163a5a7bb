package models

import (
	"time"
)

// TriggerEntity identifies the domain of operational record a rule watches.
type TriggerEntity string

const (
	EntityWorkOrder            TriggerEntity = "work_order"
	EntityIssue                TriggerEntity = "issue"
	EntityComplianceEvent      TriggerEntity = "compliance_event"
	EntityRisk                 TriggerEntity = "risk"
	EntityRegulatoryActionItem TriggerEntity = "regulatory_action_item"
)

// KnownTriggerEntities lists the entity domains shipped with the gateway.
// Record source adapters may be registered for additional domains at runtime.
var KnownTriggerEntities = []TriggerEntity{
	EntityWorkOrder,
	EntityIssue,
	EntityComplianceEvent,
	EntityRisk,
	EntityRegulatoryActionItem,
}

// ConditionOperator is the comparison applied by a rule predicate.
type ConditionOperator string

const (
	OperatorEquals ConditionOperator = "equals"
	OperatorIn     ConditionOperator = "in"
	OperatorNotIn  ConditionOperator = "not_in"
)

// Condition is a single-field predicate applied to candidate records.
// Value holds a scalar for "equals" and a list for "in"/"not_in".
// An empty Field or nil Value makes the condition a match-all.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value"`
}

// EscalationRule is a standing alert definition scoped to a workspace.
type EscalationRule struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`

	TriggerEntity    TriggerEntity `json:"triggerEntity"`
	TriggerCondition *Condition    `json:"triggerCondition,omitempty"`

	// DelayMinutes is the minimum age (by creation time) a record must
	// reach before the rule considers it. Zero means immediately eligible.
	DelayMinutes int `json:"delayMinutes"`

	NotifyRoles          []string `json:"notifyRoles,omitempty"`
	NotifyUserIDs        []string `json:"notifyUserIds,omitempty"`
	NotificationChannels []string `json:"notificationChannels,omitempty"`

	// MessageTemplate supports {entity_title} and {entity_id} placeholders.
	// Empty means the default message is used.
	MessageTemplate string `json:"messageTemplate,omitempty"`

	// ResolutionCondition is stored for an external resolver; the engine
	// never evaluates it.
	ResolutionCondition *Condition `json:"resolutionCondition,omitempty"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DelayThreshold returns the rule's delay window as a duration.
func (r *EscalationRule) DelayThreshold() time.Duration {
	if r.DelayMinutes <= 0 {
		return 0
	}
	return time.Duration(r.DelayMinutes) * time.Minute
}

// CreateRuleRequest is the payload for creating a rule.
type CreateRuleRequest struct {
	WorkspaceID          string        `json:"workspaceId"`
	Name                 string        `json:"name"`
	Description          string        `json:"description"`
	TriggerEntity        TriggerEntity `json:"triggerEntity"`
	TriggerCondition     *Condition    `json:"triggerCondition,omitempty"`
	DelayMinutes         int           `json:"delayMinutes"`
	NotifyRoles          []string      `json:"notifyRoles,omitempty"`
	NotifyUserIDs        []string      `json:"notifyUserIds,omitempty"`
	NotificationChannels []string      `json:"notificationChannels,omitempty"`
	MessageTemplate      string        `json:"messageTemplate,omitempty"`
	ResolutionCondition  *Condition    `json:"resolutionCondition,omitempty"`
	CreatedBy            string        `json:"createdBy,omitempty"`
}

// UpdateRuleRequest is the payload for updating a rule. Nil fields are
// left unchanged.
type UpdateRuleRequest struct {
	Name                 *string        `json:"name,omitempty"`
	Description          *string        `json:"description,omitempty"`
	IsActive             *bool          `json:"isActive,omitempty"`
	TriggerEntity        *TriggerEntity `json:"triggerEntity,omitempty"`
	TriggerCondition     *Condition     `json:"triggerCondition,omitempty"`
	DelayMinutes         *int           `json:"delayMinutes,omitempty"`
	NotifyRoles          *[]string      `json:"notifyRoles,omitempty"`
	NotifyUserIDs        *[]string      `json:"notifyUserIds,omitempty"`
	NotificationChannels *[]string      `json:"notificationChannels,omitempty"`
	MessageTemplate      *string        `json:"messageTemplate,omitempty"`
	ResolutionCondition  *Condition     `json:"resolutionCondition,omitempty"`
}

// AcknowledgeRequest is the payload for acknowledging or resolving an
// escalation log entry.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
}
