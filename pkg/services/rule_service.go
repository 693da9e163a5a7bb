package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// RuleService manages escalation rule definitions and the read-side
// surfaces the UI consumes (escalation history, acknowledgements,
// notifications). It also serves as the engine's rule directory.
type RuleService struct {
	rules       RuleStore
	escalations EscalationStore
}

// NewRuleService creates a rule service over the given stores.
func NewRuleService(rules RuleStore, escalations EscalationStore) *RuleService {
	return &RuleService{rules: rules, escalations: escalations}
}

var _ RuleDirectory = (*RuleService)(nil)

// ListRules returns all rules in a workspace.
func (s *RuleService) ListRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error) {
	return s.rules.ListRules(ctx, workspaceID)
}

// ListActiveRules returns the rules the engine should evaluate.
func (s *RuleService) ListActiveRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error) {
	rules, err := s.rules.ListRules(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	active := make([]*models.EscalationRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	return active, nil
}

// GetRule returns a rule by ID.
func (s *RuleService) GetRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	return s.rules.GetRule(ctx, id)
}

// CreateRule validates and persists a new rule. Rules are active on
// creation.
func (s *RuleService) CreateRule(ctx context.Context, req *models.CreateRuleRequest) (*models.EscalationRule, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if req.TriggerEntity == "" {
		return nil, fmt.Errorf("trigger entity is required")
	}
	if req.DelayMinutes < 0 {
		return nil, fmt.Errorf("delay must not be negative")
	}
	if err := validateCondition(req.TriggerCondition); err != nil {
		return nil, err
	}

	now := time.Now()
	rule := &models.EscalationRule{
		ID:                   uuid.New().String(),
		WorkspaceID:          req.WorkspaceID,
		Name:                 req.Name,
		Description:          req.Description,
		IsActive:             true,
		TriggerEntity:        req.TriggerEntity,
		TriggerCondition:     req.TriggerCondition,
		DelayMinutes:         req.DelayMinutes,
		NotifyRoles:          req.NotifyRoles,
		NotifyUserIDs:        req.NotifyUserIDs,
		NotificationChannels: req.NotificationChannels,
		MessageTemplate:      req.MessageTemplate,
		ResolutionCondition:  req.ResolutionCondition,
		CreatedBy:            req.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to persist rule: %w", err)
	}

	logrus.Infof("Created escalation rule %s (%s) on %s", rule.Name, rule.ID, rule.TriggerEntity)
	return rule, nil
}

// UpdateRule applies the non-nil fields of the request to an existing
// rule.
func (s *RuleService) UpdateRule(ctx context.Context, id string, req *models.UpdateRuleRequest) (*models.EscalationRule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.TriggerEntity != nil {
		rule.TriggerEntity = *req.TriggerEntity
	}
	if req.TriggerCondition != nil {
		if err := validateCondition(req.TriggerCondition); err != nil {
			return nil, err
		}
		rule.TriggerCondition = req.TriggerCondition
	}
	if req.DelayMinutes != nil {
		if *req.DelayMinutes < 0 {
			return nil, fmt.Errorf("delay must not be negative")
		}
		rule.DelayMinutes = *req.DelayMinutes
	}
	if req.NotifyRoles != nil {
		rule.NotifyRoles = *req.NotifyRoles
	}
	if req.NotifyUserIDs != nil {
		rule.NotifyUserIDs = *req.NotifyUserIDs
	}
	if req.NotificationChannels != nil {
		rule.NotificationChannels = *req.NotificationChannels
	}
	if req.MessageTemplate != nil {
		rule.MessageTemplate = *req.MessageTemplate
	}
	if req.ResolutionCondition != nil {
		rule.ResolutionCondition = req.ResolutionCondition
	}

	rule.UpdatedAt = time.Now()

	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to persist updated rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule definition. Log entries keep their rule_id
// and rule_name snapshots; deleting a rule never rewrites history.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.rules.GetRule(ctx, id); err != nil {
		return err
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	logrus.Infof("Deleted escalation rule %s", id)
	return nil
}

// ListEscalations returns the escalation log for a workspace, optionally
// filtered to one rule.
func (s *RuleService) ListEscalations(ctx context.Context, workspaceID, ruleID string) ([]*models.EscalationLogEntry, error) {
	return s.escalations.ListLogEntries(ctx, workspaceID, ruleID)
}

// AcknowledgeEscalation records who has seen an escalation. The entry
// stays open, so the (rule, entity) pair keeps blocking re-fires.
func (s *RuleService) AcknowledgeEscalation(ctx context.Context, entryID, acknowledgedBy string) error {
	if acknowledgedBy == "" {
		return fmt.Errorf("acknowledgedBy is required")
	}
	return s.escalations.AcknowledgeLogEntry(ctx, entryID, acknowledgedBy, time.Now())
}

// ResolveEscalation closes an escalation. Once resolved, the pair may
// fire again on the next pass if the record still matches; that is the
// intended re-escalation behavior.
func (s *RuleService) ResolveEscalation(ctx context.Context, entryID, resolvedBy string) error {
	if resolvedBy == "" {
		return fmt.Errorf("resolvedBy is required")
	}
	return s.escalations.ResolveLogEntry(ctx, entryID, resolvedBy, time.Now())
}

// ListNotifications returns a user's notifications.
func (s *RuleService) ListNotifications(ctx context.Context, workspaceID, userID string) ([]*models.Notification, error) {
	return s.escalations.ListNotifications(ctx, workspaceID, userID)
}

// MarkNotificationRead flips a notification's read state.
func (s *RuleService) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return s.escalations.MarkNotificationRead(ctx, notificationID)
}

// validateCondition rejects predicates the matcher cannot evaluate.
// A nil condition is a valid match-all.
func validateCondition(cond *models.Condition) error {
	if cond == nil || cond.Field == "" || cond.Value == nil {
		return nil
	}
	switch cond.Operator {
	case models.OperatorEquals, models.OperatorIn, models.OperatorNotIn:
		return nil
	default:
		return fmt.Errorf("unsupported condition operator %q", cond.Operator)
	}
}
