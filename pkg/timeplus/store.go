package timeplus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propline-io/escalation-gateway/pkg/models"
	"github.com/propline-io/escalation-gateway/pkg/services"
)

// Store maps the gateway's store interfaces onto Timeplus streams. Rule
// definitions and log entries live in mutable streams keyed by ID; the
// open escalation set lives in a mutable stream keyed
// (rule_id, entity_id), which enforces the at-most-one-open invariant at
// the storage layer.
type Store struct {
	client TimeplusClient
}

var (
	_ services.RuleStore       = (*Store)(nil)
	_ services.EscalationStore = (*Store)(nil)
)

// NewStore creates a store over the given client.
func NewStore(client TimeplusClient) *Store {
	return &Store{client: client}
}

// Setup ensures all backing streams exist.
func (s *Store) Setup(ctx context.Context) error {
	if err := s.client.EnsureMutableStream(ctx, RulesStream, GetRulesSchema(), []string{"id"}); err != nil {
		return fmt.Errorf("failed to ensure rules stream: %w", err)
	}
	if err := s.client.EnsureMutableStream(ctx, OpenEscalationsStream, GetOpenEscalationsSchema(), []string{"rule_id", "entity_id"}); err != nil {
		return fmt.Errorf("failed to ensure open escalations stream: %w", err)
	}
	if err := s.client.EnsureMutableStream(ctx, EscalationLogStream, GetEscalationLogSchema(), []string{"id"}); err != nil {
		return fmt.Errorf("failed to ensure escalation log stream: %w", err)
	}
	if err := s.client.EnsureMutableStream(ctx, NotificationsStream, GetNotificationsSchema(), []string{"id"}); err != nil {
		return fmt.Errorf("failed to ensure notifications stream: %w", err)
	}
	if err := s.client.EnsureMutableStream(ctx, RoleMembersStream, GetRoleMembersSchema(), []string{"workspace_id", "role", "user_id"}); err != nil {
		return fmt.Errorf("failed to ensure role members stream: %w", err)
	}
	for _, entity := range models.KnownTriggerEntities {
		stream := RecordsStreamFor(string(entity))
		if err := s.client.EnsureMutableStream(ctx, stream, GetRecordsSchema(), []string{"id"}); err != nil {
			return fmt.Errorf("failed to ensure records stream %s: %w", stream, err)
		}
	}
	return nil
}

// ListRules returns all non-deleted rules in a workspace.
func (s *Store) ListRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error) {
	query := fmt.Sprintf(`
		SELECT id, workspace_id, name, description, is_active, trigger_entity,
			   trigger_condition, delay_minutes, notify_roles, notify_user_ids,
			   notification_channels, message_template, resolution_condition,
			   created_by, created_at, updated_at
		FROM table(%s)
		WHERE workspace_id = '%s' AND active = true
		ORDER BY created_at ASC
	`, RulesStream, escapeSQL(workspaceID))

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	rules := make([]*models.EscalationRule, 0, len(results))
	for _, result := range results {
		rules = append(rules, mapToRule(result))
	}
	return rules, nil
}

// GetRule returns a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	query := fmt.Sprintf(`
		SELECT id, workspace_id, name, description, is_active, trigger_entity,
			   trigger_condition, delay_minutes, notify_roles, notify_user_ids,
			   notification_channels, message_template, resolution_condition,
			   created_by, created_at, updated_at
		FROM table(%s)
		WHERE id = '%s' AND active = true
		LIMIT 1
	`, RulesStream, escapeSQL(id))

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	if len(results) == 0 {
		return nil, services.ErrRuleNotFound
	}
	return mapToRule(results[0]), nil
}

// SaveRule upserts a rule definition.
func (s *Store) SaveRule(ctx context.Context, rule *models.EscalationRule) error {
	return s.persistRule(ctx, rule, true)
}

// DeleteRule soft-deletes a rule; history keeps its snapshots.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now()
	return s.persistRule(ctx, rule, false)
}

func (s *Store) persistRule(ctx context.Context, rule *models.EscalationRule, active bool) error {
	columns := []string{
		"id", "workspace_id", "name", "description", "is_active",
		"trigger_entity", "trigger_condition", "delay_minutes",
		"notify_roles", "notify_user_ids", "notification_channels",
		"message_template", "resolution_condition",
		"created_by", "created_at", "updated_at", "active",
	}
	values := []interface{}{
		rule.ID,
		rule.WorkspaceID,
		rule.Name,
		rule.Description,
		rule.IsActive,
		string(rule.TriggerEntity),
		marshalJSONOrNil(rule.TriggerCondition),
		rule.DelayMinutes,
		marshalList(rule.NotifyRoles),
		marshalList(rule.NotifyUserIDs),
		marshalList(rule.NotificationChannels),
		rule.MessageTemplate,
		marshalJSONOrNil(rule.ResolutionCondition),
		rule.CreatedBy,
		rule.CreatedAt,
		rule.UpdatedAt,
		active,
	}
	if err := s.client.InsertIntoStream(ctx, RulesStream, columns, values); err != nil {
		return fmt.Errorf("failed to persist rule %s: %w", rule.ID, err)
	}
	return nil
}

// HasOpenEscalation reports whether the pair has an open row. Existence
// check only: one row, one column.
func (s *Store) HasOpenEscalation(ctx context.Context, ruleID, entityID string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT entry_id FROM table(%s)
		WHERE rule_id = '%s' AND entity_id = '%s' AND state = '%s'
		LIMIT 1
	`, OpenEscalationsStream, escapeSQL(ruleID), escapeSQL(entityID), EscalationStateOpen)

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to check open escalation: %w", err)
	}
	return len(results) > 0, nil
}

// CreateLogEntry writes one firing. The pair's open marker is claimed
// first and the audit row only after the claim verifiably survived: the
// open stream's (rule_id, entity_id) primary key collapses racing claims
// into one row, so the loser learns it lost before it has written
// anything to the log. A loser therefore leaves no half-fired entry
// behind, just ErrDuplicateOpenEscalation.
func (s *Store) CreateLogEntry(ctx context.Context, entry *models.EscalationLogEntry) error {
	open, err := s.HasOpenEscalation(ctx, entry.RuleID, entry.EntityID)
	if err != nil {
		return err
	}
	if open {
		return services.ErrDuplicateOpenEscalation
	}

	openColumns := []string{"rule_id", "entity_id", "entry_id", "state", "fired_at", "updated_at", "updated_by"}
	openValues := []interface{}{entry.RuleID, entry.EntityID, entry.ID, EscalationStateOpen, entry.FiredAt, entry.FiredAt, nil}
	if err := s.client.InsertIntoStream(ctx, OpenEscalationsStream, openColumns, openValues); err != nil {
		return fmt.Errorf("failed to claim escalation pair: %w", err)
	}

	winner, err := s.openEntryID(ctx, entry.RuleID, entry.EntityID)
	if err != nil {
		s.releasePair(ctx, entry)
		return fmt.Errorf("failed to verify escalation pair claim: %w", err)
	}
	if winner == "" {
		// The claim did not read back; release rather than leave an open
		// pair no log entry can ever resolve.
		s.releasePair(ctx, entry)
		return fmt.Errorf("escalation pair claim for rule %s entity %s did not read back", entry.RuleID, entry.EntityID)
	}
	if winner != entry.ID {
		logrus.Warnf("Lost open-escalation race for rule %s entity %s to entry %s", entry.RuleID, entry.EntityID, winner)
		return services.ErrDuplicateOpenEscalation
	}

	columns := []string{
		"id", "workspace_id", "rule_id", "rule_name", "entity_type",
		"entity_id", "entity_title", "notified_user_ids",
		"notification_channels", "fired_at", "resolved_at",
		"acknowledged_by", "acknowledged_at",
	}
	values := []interface{}{
		entry.ID,
		entry.WorkspaceID,
		entry.RuleID,
		entry.RuleName,
		string(entry.EntityType),
		entry.EntityID,
		entry.EntityTitle,
		marshalList(entry.NotifiedUserIDs),
		marshalList(entry.NotificationChannels),
		entry.FiredAt,
		nil,
		nil,
		nil,
	}
	if err := s.client.InsertIntoStream(ctx, EscalationLogStream, columns, values); err != nil {
		// Without the audit row the claim would block re-fires forever;
		// give the pair back so the next pass can retry cleanly.
		s.releasePair(ctx, entry)
		return fmt.Errorf("failed to write escalation log entry: %w", err)
	}
	return nil
}

// releasePair flips a claimed open marker back to resolved. Used to back
// out a claim whose firing could not be completed.
func (s *Store) releasePair(ctx context.Context, entry *models.EscalationLogEntry) {
	columns := []string{"rule_id", "entity_id", "entry_id", "state", "fired_at", "updated_at", "updated_by"}
	values := []interface{}{entry.RuleID, entry.EntityID, entry.ID, EscalationStateResolved, entry.FiredAt, entry.FiredAt, nil}
	if err := s.client.InsertIntoStream(ctx, OpenEscalationsStream, columns, values); err != nil {
		logrus.Errorf("Failed to release claimed pair for rule %s entity %s: %v", entry.RuleID, entry.EntityID, err)
	}
}

func (s *Store) openEntryID(ctx context.Context, ruleID, entityID string) (string, error) {
	query := fmt.Sprintf(`
		SELECT entry_id FROM table(%s)
		WHERE rule_id = '%s' AND entity_id = '%s' AND state = '%s'
		LIMIT 1
	`, OpenEscalationsStream, escapeSQL(ruleID), escapeSQL(entityID), EscalationStateOpen)
	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil || len(results) == 0 {
		return "", err
	}
	return getString(results[0], "entry_id"), nil
}

// CreateNotifications writes the per-user fan-out rows. A failed row is
// logged and skipped; the log entry already stands.
func (s *Store) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	columns := []string{
		"id", "workspace_id", "user_id", "type", "title", "message",
		"entity_type", "entity_id", "read", "created_at",
	}
	var firstErr error
	for _, n := range notifications {
		values := []interface{}{
			n.ID, n.WorkspaceID, n.UserID, n.Type, n.Title, n.Message,
			string(n.EntityType), n.EntityID, n.Read, n.CreatedAt,
		}
		if err := s.client.InsertIntoStream(ctx, NotificationsStream, columns, values); err != nil {
			logrus.Errorf("Failed to write notification for user %s: %v", n.UserID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ListLogEntries returns the escalation log for a workspace, newest
// first, optionally filtered to one rule.
func (s *Store) ListLogEntries(ctx context.Context, workspaceID, ruleID string) ([]*models.EscalationLogEntry, error) {
	filter := fmt.Sprintf("workspace_id = '%s'", escapeSQL(workspaceID))
	if ruleID != "" {
		filter += fmt.Sprintf(" AND rule_id = '%s'", escapeSQL(ruleID))
	}
	query := fmt.Sprintf(`
		SELECT id, workspace_id, rule_id, rule_name, entity_type, entity_id,
			   entity_title, notified_user_ids, notification_channels,
			   fired_at, resolved_at, acknowledged_by, acknowledged_at
		FROM table(%s)
		WHERE %s
		ORDER BY fired_at DESC
		LIMIT 1000
	`, EscalationLogStream, filter)

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation log: %w", err)
	}

	entries := make([]*models.EscalationLogEntry, 0, len(results))
	for _, result := range results {
		entries = append(entries, mapToLogEntry(result))
	}
	return entries, nil
}

func (s *Store) getLogEntry(ctx context.Context, entryID string) (*models.EscalationLogEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, workspace_id, rule_id, rule_name, entity_type, entity_id,
			   entity_title, notified_user_ids, notification_channels,
			   fired_at, resolved_at, acknowledged_by, acknowledged_at
		FROM table(%s)
		WHERE id = '%s'
		LIMIT 1
	`, EscalationLogStream, escapeSQL(entryID))

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation log entry: %w", err)
	}
	if len(results) == 0 {
		return nil, services.ErrEntryNotFound
	}
	return mapToLogEntry(results[0]), nil
}

// AcknowledgeLogEntry records the acknowledgement; the entry stays open.
func (s *Store) AcknowledgeLogEntry(ctx context.Context, entryID, acknowledgedBy string, at time.Time) error {
	entry, err := s.getLogEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.AcknowledgedBy = acknowledgedBy
	entry.AcknowledgedAt = &at
	return s.persistLogEntry(ctx, entry)
}

// ResolveLogEntry closes the entry and flips the pair's open marker,
// releasing (rule_id, entity_id) for future firings.
func (s *Store) ResolveLogEntry(ctx context.Context, entryID, resolvedBy string, at time.Time) error {
	entry, err := s.getLogEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.ResolvedAt = &at
	if entry.AcknowledgedBy == "" {
		entry.AcknowledgedBy = resolvedBy
		entry.AcknowledgedAt = &at
	}
	if err := s.persistLogEntry(ctx, entry); err != nil {
		return err
	}

	openColumns := []string{"rule_id", "entity_id", "entry_id", "state", "fired_at", "updated_at", "updated_by"}
	openValues := []interface{}{entry.RuleID, entry.EntityID, entry.ID, EscalationStateResolved, entry.FiredAt, at, resolvedBy}
	if err := s.client.InsertIntoStream(ctx, OpenEscalationsStream, openColumns, openValues); err != nil {
		return fmt.Errorf("failed to release open escalation: %w", err)
	}
	return nil
}

func (s *Store) persistLogEntry(ctx context.Context, entry *models.EscalationLogEntry) error {
	columns := []string{
		"id", "workspace_id", "rule_id", "rule_name", "entity_type",
		"entity_id", "entity_title", "notified_user_ids",
		"notification_channels", "fired_at", "resolved_at",
		"acknowledged_by", "acknowledged_at",
	}
	values := []interface{}{
		entry.ID,
		entry.WorkspaceID,
		entry.RuleID,
		entry.RuleName,
		string(entry.EntityType),
		entry.EntityID,
		entry.EntityTitle,
		marshalList(entry.NotifiedUserIDs),
		marshalList(entry.NotificationChannels),
		entry.FiredAt,
		timeOrNil(entry.ResolvedAt),
		stringOrNil(entry.AcknowledgedBy),
		timeOrNil(entry.AcknowledgedAt),
	}
	if err := s.client.InsertIntoStream(ctx, EscalationLogStream, columns, values); err != nil {
		return fmt.Errorf("failed to update escalation log entry %s: %w", entry.ID, err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, workspaceID, userID string) ([]*models.Notification, error) {
	filter := fmt.Sprintf("workspace_id = '%s'", escapeSQL(workspaceID))
	if userID != "" {
		filter += fmt.Sprintf(" AND user_id = '%s'", escapeSQL(userID))
	}
	query := fmt.Sprintf(`
		SELECT id, workspace_id, user_id, type, title, message,
			   entity_type, entity_id, read, created_at
		FROM table(%s)
		WHERE %s
		ORDER BY created_at DESC
		LIMIT 1000
	`, NotificationsStream, filter)

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	out := make([]*models.Notification, 0, len(results))
	for _, result := range results {
		out = append(out, mapToNotification(result))
	}
	return out, nil
}

// MarkNotificationRead upserts the notification with read = true.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID string) error {
	query := fmt.Sprintf(`
		SELECT id, workspace_id, user_id, type, title, message,
			   entity_type, entity_id, read, created_at
		FROM table(%s)
		WHERE id = '%s'
		LIMIT 1
	`, NotificationsStream, escapeSQL(notificationID))

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query notification: %w", err)
	}
	if len(results) == 0 {
		return services.ErrEntryNotFound
	}

	n := mapToNotification(results[0])
	n.Read = true
	columns := []string{
		"id", "workspace_id", "user_id", "type", "title", "message",
		"entity_type", "entity_id", "read", "created_at",
	}
	values := []interface{}{
		n.ID, n.WorkspaceID, n.UserID, n.Type, n.Title, n.Message,
		string(n.EntityType), n.EntityID, n.Read, n.CreatedAt,
	}
	return s.client.InsertIntoStream(ctx, NotificationsStream, columns, values)
}

// Row mapping helpers

func mapToRule(data map[string]interface{}) *models.EscalationRule {
	rule := &models.EscalationRule{
		ID:                   getString(data, "id"),
		WorkspaceID:          getString(data, "workspace_id"),
		Name:                 getString(data, "name"),
		Description:          getString(data, "description"),
		IsActive:             getBool(data, "is_active"),
		TriggerEntity:        models.TriggerEntity(getString(data, "trigger_entity")),
		TriggerCondition:     unmarshalCondition(getString(data, "trigger_condition")),
		DelayMinutes:         getInt(data, "delay_minutes"),
		NotifyRoles:          unmarshalList(getString(data, "notify_roles")),
		NotifyUserIDs:        unmarshalList(getString(data, "notify_user_ids")),
		NotificationChannels: unmarshalList(getString(data, "notification_channels")),
		MessageTemplate:      getString(data, "message_template"),
		ResolutionCondition:  unmarshalCondition(getString(data, "resolution_condition")),
		CreatedBy:            getString(data, "created_by"),
	}
	if t, ok := getTime(data, "created_at"); ok {
		rule.CreatedAt = t
	}
	if t, ok := getTime(data, "updated_at"); ok {
		rule.UpdatedAt = t
	}
	return rule
}

func mapToLogEntry(data map[string]interface{}) *models.EscalationLogEntry {
	entry := &models.EscalationLogEntry{
		ID:                   getString(data, "id"),
		WorkspaceID:          getString(data, "workspace_id"),
		RuleID:               getString(data, "rule_id"),
		RuleName:             getString(data, "rule_name"),
		EntityType:           models.TriggerEntity(getString(data, "entity_type")),
		EntityID:             getString(data, "entity_id"),
		EntityTitle:          getString(data, "entity_title"),
		NotifiedUserIDs:      unmarshalList(getString(data, "notified_user_ids")),
		NotificationChannels: unmarshalList(getString(data, "notification_channels")),
		AcknowledgedBy:       getString(data, "acknowledged_by"),
	}
	if t, ok := getTime(data, "fired_at"); ok {
		entry.FiredAt = t
	}
	if t, ok := getTime(data, "resolved_at"); ok {
		entry.ResolvedAt = &t
	}
	if t, ok := getTime(data, "acknowledged_at"); ok {
		entry.AcknowledgedAt = &t
	}
	return entry
}

func mapToNotification(data map[string]interface{}) *models.Notification {
	n := &models.Notification{
		ID:          getString(data, "id"),
		WorkspaceID: getString(data, "workspace_id"),
		UserID:      getString(data, "user_id"),
		Type:        getString(data, "type"),
		Title:       getString(data, "title"),
		Message:     getString(data, "message"),
		EntityType:  models.TriggerEntity(getString(data, "entity_type")),
		EntityID:    getString(data, "entity_id"),
		Read:        getBool(data, "read"),
	}
	if t, ok := getTime(data, "created_at"); ok {
		n.CreatedAt = t
	}
	return n
}

// Helper functions to safely get values from query result maps

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	if val, ok := data[key].(*string); ok && val != nil {
		return *val
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key].(bool); ok {
		return val
	}
	return false
}

func getTime(data map[string]interface{}, key string) (time.Time, bool) {
	switch v := data[key].(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	default:
		return time.Time{}, false
	}
}

func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func unmarshalList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		logrus.Warnf("Malformed list column %q: %v", raw, err)
		return nil
	}
	return list
}

func marshalJSONOrNil(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if cond, ok := v.(*models.Condition); ok && cond == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(raw)
}

func unmarshalCondition(raw string) *models.Condition {
	if raw == "" || raw == "null" {
		return nil
	}
	var cond models.Condition
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		logrus.Warnf("Malformed condition column %q: %v", raw, err)
		return nil
	}
	return &cond
}

func stringOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
