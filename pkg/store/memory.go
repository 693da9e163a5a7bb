// Package store provides the in-memory backend for the escalation
// gateway's store interfaces. It is the reference implementation of the
// at-most-one-open-escalation constraint and doubles as the rule, role
// and record fixture for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/propline-io/escalation-gateway/pkg/models"
	"github.com/propline-io/escalation-gateway/pkg/services"
)

// Memory is a mutex-guarded implementation of the gateway's store
// interfaces. CreateLogEntry performs its open-pair check and the insert
// under one lock, which is the in-process equivalent of the partial
// uniqueness constraint a database backend must carry.
type Memory struct {
	mu            sync.RWMutex
	rules         map[string]*models.EscalationRule
	entries       map[string]*models.EscalationLogEntry
	entryOrder    []string
	notifications map[string]*models.Notification
	notifOrder    []string
	roleMembers   map[string]map[string][]string
	records       map[models.TriggerEntity][]models.TargetRecord
}

var (
	_ services.RuleStore       = (*Memory)(nil)
	_ services.EscalationStore = (*Memory)(nil)
	_ services.RoleDirectory   = (*Memory)(nil)
)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		rules:         make(map[string]*models.EscalationRule),
		entries:       make(map[string]*models.EscalationLogEntry),
		notifications: make(map[string]*models.Notification),
		roleMembers:   make(map[string]map[string][]string),
		records:       make(map[models.TriggerEntity][]models.TargetRecord),
	}
}

// ListRules returns the rules of a workspace, oldest first.
func (m *Memory) ListRules(ctx context.Context, workspaceID string) ([]*models.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]*models.EscalationRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if rule.WorkspaceID == workspaceID {
			copied := *rule
			rules = append(rules, &copied)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// GetRule returns a rule by ID.
func (m *Memory) GetRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, services.ErrRuleNotFound
	}
	copied := *rule
	return &copied, nil
}

// SaveRule inserts or replaces a rule.
func (m *Memory) SaveRule(ctx context.Context, rule *models.EscalationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rule
	m.rules[rule.ID] = &copied
	return nil
}

// DeleteRule removes a rule. Escalation history is untouched.
func (m *Memory) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return services.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

// HasOpenEscalation reports whether an unresolved entry exists for the
// pair.
func (m *Memory) HasOpenEscalation(ctx context.Context, ruleID, entityID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openEntryLocked(ruleID, entityID) != nil, nil
}

func (m *Memory) openEntryLocked(ruleID, entityID string) *models.EscalationLogEntry {
	for _, entry := range m.entries {
		if entry.RuleID == ruleID && entry.EntityID == entityID && entry.ResolvedAt == nil {
			return entry
		}
	}
	return nil
}

// CreateLogEntry appends a firing, rejecting a second open entry for the
// same (rule_id, entity_id) pair. Check and insert share the write lock;
// two racing passes cannot both get past the check.
func (m *Memory) CreateLogEntry(ctx context.Context, entry *models.EscalationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openEntryLocked(entry.RuleID, entry.EntityID) != nil {
		return services.ErrDuplicateOpenEscalation
	}
	copied := *entry
	m.entries[entry.ID] = &copied
	m.entryOrder = append(m.entryOrder, entry.ID)
	return nil
}

// CreateNotifications writes the per-user fan-out of one firing.
func (m *Memory) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range notifications {
		copied := *n
		if copied.Type == "" {
			copied.Type = models.NotificationTypeEscalation
		}
		m.notifications[n.ID] = &copied
		m.notifOrder = append(m.notifOrder, n.ID)
	}
	return nil
}

// ListLogEntries returns a workspace's escalation log in firing order,
// optionally filtered to one rule.
func (m *Memory) ListLogEntries(ctx context.Context, workspaceID, ruleID string) ([]*models.EscalationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*models.EscalationLogEntry, 0, len(m.entryOrder))
	for _, id := range m.entryOrder {
		entry := m.entries[id]
		if entry.WorkspaceID != workspaceID {
			continue
		}
		if ruleID != "" && entry.RuleID != ruleID {
			continue
		}
		copied := *entry
		entries = append(entries, &copied)
	}
	return entries, nil
}

// AcknowledgeLogEntry records the acknowledgement without closing the
// entry.
func (m *Memory) AcknowledgeLogEntry(ctx context.Context, entryID, acknowledgedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return services.ErrEntryNotFound
	}
	entry.AcknowledgedBy = acknowledgedBy
	entry.AcknowledgedAt = &at
	return nil
}

// ResolveLogEntry closes the entry, releasing its (rule, entity) pair.
func (m *Memory) ResolveLogEntry(ctx context.Context, entryID, resolvedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return services.ErrEntryNotFound
	}
	entry.ResolvedAt = &at
	if entry.AcknowledgedBy == "" {
		entry.AcknowledgedBy = resolvedBy
		entry.AcknowledgedAt = &at
	}
	return nil
}

// ListNotifications returns a user's notifications in creation order.
func (m *Memory) ListNotifications(ctx context.Context, workspaceID, userID string) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Notification, 0)
	for _, id := range m.notifOrder {
		n := m.notifications[id]
		if n.WorkspaceID != workspaceID {
			continue
		}
		if userID != "" && n.UserID != userID {
			continue
		}
		copied := *n
		out = append(out, &copied)
	}
	return out, nil
}

// MarkNotificationRead flips a notification's read state.
func (m *Memory) MarkNotificationRead(ctx context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok {
		return services.ErrEntryNotFound
	}
	n.Read = true
	return nil
}

// SetRoleMembers replaces the member set of a role within a workspace.
func (m *Memory) SetRoleMembers(workspaceID, role string, userIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.roleMembers[workspaceID]
	if !ok {
		ws = make(map[string][]string)
		m.roleMembers[workspaceID] = ws
	}
	ws[role] = append([]string(nil), userIDs...)
}

// MembersOf returns the current members holding a role. Unknown roles
// have no members.
func (m *Memory) MembersOf(ctx context.Context, workspaceID, role string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.roleMembers[workspaceID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), ws[role]...), nil
}

// SeedRecord adds an operational record to an entity domain.
func (m *Memory) SeedRecord(entity models.TriggerEntity, record models.TargetRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entity] = append(m.records[entity], record)
}

// Source returns a RecordSource adapter over one entity domain, suitable
// for registration in the engine's source registry.
func (m *Memory) Source(entity models.TriggerEntity) services.RecordSource {
	return &memorySource{store: m, entity: entity}
}

// RegisterSources registers an adapter for every known entity domain.
func (m *Memory) RegisterSources(registry *services.SourceRegistry) {
	for _, entity := range models.KnownTriggerEntities {
		registry.Register(entity, m.Source(entity))
	}
}

type memorySource struct {
	store  *Memory
	entity models.TriggerEntity
}

// FindCandidates filters the domain's records by age and predicate. The
// age boundary is inclusive: a record exactly delay old qualifies, and a
// record created at the evaluation instant qualifies under a zero delay.
func (s *memorySource) FindCandidates(ctx context.Context, cond *models.Condition, delay time.Duration, now time.Time, limit int) ([]models.TargetRecord, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	cutoff := now.Add(-delay)
	candidates := make([]models.TargetRecord, 0)
	for _, record := range s.store.records[s.entity] {
		if record.CreatedAt.After(cutoff) {
			continue
		}
		if !services.MatchesCondition(record, cond) {
			continue
		}
		candidates = append(candidates, record)
		if limit > 0 && len(candidates) >= limit {
			break
		}
	}
	return candidates, nil
}
