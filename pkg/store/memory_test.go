package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/propline-io/escalation-gateway/pkg/models"
	"github.com/propline-io/escalation-gateway/pkg/services"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func openEntry(id, ruleID, entityID string) *models.EscalationLogEntry {
	return &models.EscalationLogEntry{
		ID:          id,
		WorkspaceID: "ws-1",
		RuleID:      ruleID,
		EntityID:    entityID,
		EntityType:  models.EntityWorkOrder,
		FiredAt:     fixedNow,
	}
}

func TestMemoryRuleCRUD(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	rule := &models.EscalationRule{
		ID:            "rule-1",
		WorkspaceID:   "ws-1",
		Name:          "Overdue work orders",
		IsActive:      true,
		TriggerEntity: models.EntityWorkOrder,
		CreatedAt:     fixedNow,
	}
	assert.NoError(t, mem.SaveRule(ctx, rule))

	got, err := mem.GetRule(ctx, "rule-1")
	assert.NoError(t, err)
	assert.Equal(t, "Overdue work orders", got.Name)

	// Returned rules are copies; mutating them does not corrupt the store.
	got.Name = "mutated"
	again, err := mem.GetRule(ctx, "rule-1")
	assert.NoError(t, err)
	assert.Equal(t, "Overdue work orders", again.Name)

	rules, err := mem.ListRules(ctx, "ws-1")
	assert.NoError(t, err)
	assert.Len(t, rules, 1)

	rules, err = mem.ListRules(ctx, "ws-other")
	assert.NoError(t, err)
	assert.Empty(t, rules)

	assert.NoError(t, mem.DeleteRule(ctx, "rule-1"))
	_, err = mem.GetRule(ctx, "rule-1")
	assert.ErrorIs(t, err, services.ErrRuleNotFound)
}

func TestMemoryRejectsSecondOpenEntry(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e1", "rule-1", "wo-1")))

	err := mem.CreateLogEntry(ctx, openEntry("e2", "rule-1", "wo-1"))
	assert.ErrorIs(t, err, services.ErrDuplicateOpenEscalation)

	// Different entity or rule is a different pair.
	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e3", "rule-1", "wo-2")))
	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e4", "rule-2", "wo-1")))
}

func TestMemoryPairReleasedOnResolve(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e1", "rule-1", "wo-1")))

	// Acknowledging does not release the pair.
	assert.NoError(t, mem.AcknowledgeLogEntry(ctx, "e1", "user-pm1", fixedNow))
	err := mem.CreateLogEntry(ctx, openEntry("e2", "rule-1", "wo-1"))
	assert.ErrorIs(t, err, services.ErrDuplicateOpenEscalation)

	open, err := mem.HasOpenEscalation(ctx, "rule-1", "wo-1")
	assert.NoError(t, err)
	assert.True(t, open)

	// Resolving does.
	assert.NoError(t, mem.ResolveLogEntry(ctx, "e1", "user-pm1", fixedNow))
	open, err = mem.HasOpenEscalation(ctx, "rule-1", "wo-1")
	assert.NoError(t, err)
	assert.False(t, open)

	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e2", "rule-1", "wo-1")))
}

func TestMemoryConstraintUnderConcurrency(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := openEntry("", "rule-1", "wo-1")
			entry.ID = string(rune('a' + i))
			results <- mem.CreateLogEntry(ctx, entry)
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, services.ErrDuplicateOpenEscalation)
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, rejected)
}

func TestMemoryResolveBackfillsAcknowledgement(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e1", "rule-1", "wo-1")))
	assert.NoError(t, mem.ResolveLogEntry(ctx, "e1", "user-pm1", fixedNow))

	entries, err := mem.ListLogEntries(ctx, "ws-1", "")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.NotNil(t, entries[0].ResolvedAt)
	assert.Equal(t, "user-pm1", entries[0].AcknowledgedBy)
	assert.NotNil(t, entries[0].AcknowledgedAt)
}

func TestMemoryListLogEntriesFilters(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e1", "rule-1", "wo-1")))
	assert.NoError(t, mem.CreateLogEntry(ctx, openEntry("e2", "rule-2", "wo-2")))

	all, err := mem.ListLogEntries(ctx, "ws-1", "")
	assert.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := mem.ListLogEntries(ctx, "ws-1", "rule-2")
	assert.NoError(t, err)
	assert.Len(t, one, 1)
	assert.Equal(t, "e2", one[0].ID)

	assert.ErrorIs(t, mem.AcknowledgeLogEntry(ctx, "missing", "u", fixedNow), services.ErrEntryNotFound)
	assert.ErrorIs(t, mem.ResolveLogEntry(ctx, "missing", "u", fixedNow), services.ErrEntryNotFound)
}

func TestMemoryNotifications(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	assert.NoError(t, mem.CreateNotifications(ctx, []*models.Notification{
		{ID: "n1", WorkspaceID: "ws-1", UserID: "user-a", Message: "m1", CreatedAt: fixedNow},
		{ID: "n2", WorkspaceID: "ws-1", UserID: "user-b", Message: "m2", CreatedAt: fixedNow},
	}))

	forA, err := mem.ListNotifications(ctx, "ws-1", "user-a")
	assert.NoError(t, err)
	assert.Len(t, forA, 1)
	assert.Equal(t, "m1", forA[0].Message)
	assert.False(t, forA[0].Read)
	assert.Equal(t, models.NotificationTypeEscalation, forA[0].Type)

	assert.NoError(t, mem.MarkNotificationRead(ctx, "n1"))
	forA, err = mem.ListNotifications(ctx, "ws-1", "user-a")
	assert.NoError(t, err)
	assert.True(t, forA[0].Read)

	assert.ErrorIs(t, mem.MarkNotificationRead(ctx, "missing"), services.ErrEntryNotFound)
}

func TestMemoryRoleDirectory(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	mem.SetRoleMembers("ws-1", "property_manager", []string{"user-a", "user-b"})

	members, err := mem.MembersOf(ctx, "ws-1", "property_manager")
	assert.NoError(t, err)
	assert.Equal(t, []string{"user-a", "user-b"}, members)

	members, err = mem.MembersOf(ctx, "ws-1", "unknown_role")
	assert.NoError(t, err)
	assert.Empty(t, members)

	members, err = mem.MembersOf(ctx, "ws-other", "property_manager")
	assert.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemorySourceAgeBoundaryInclusive(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	mem.SeedRecord(models.EntityWorkOrder, models.TargetRecord{
		ID: "wo-exact", Title: "At boundary", CreatedAt: fixedNow.Add(-time.Hour),
	})
	mem.SeedRecord(models.EntityWorkOrder, models.TargetRecord{
		ID: "wo-young", Title: "Too young", CreatedAt: fixedNow.Add(-time.Hour + time.Millisecond),
	})

	source := mem.Source(models.EntityWorkOrder)
	candidates, err := source.FindCandidates(ctx, nil, time.Hour, fixedNow, 0)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, "wo-exact", candidates[0].ID)

	// Zero delay admits a record created at the evaluation instant.
	mem.SeedRecord(models.EntityIssue, models.TargetRecord{
		ID: "iss-now", Title: "Created now", CreatedAt: fixedNow,
	})
	candidates, err = mem.Source(models.EntityIssue).FindCandidates(ctx, nil, 0, fixedNow, 0)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestMemorySourceAppliesConditionAndLimit(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for _, rec := range []models.TargetRecord{
		{ID: "wo-1", CreatedAt: fixedNow.Add(-2 * time.Hour), Fields: map[string]interface{}{"status": "open"}},
		{ID: "wo-2", CreatedAt: fixedNow.Add(-2 * time.Hour), Fields: map[string]interface{}{"status": "closed"}},
		{ID: "wo-3", CreatedAt: fixedNow.Add(-2 * time.Hour), Fields: map[string]interface{}{"status": "open"}},
		{ID: "wo-4", CreatedAt: fixedNow.Add(-2 * time.Hour), Fields: map[string]interface{}{"status": "open"}},
	} {
		mem.SeedRecord(models.EntityWorkOrder, rec)
	}

	cond := &models.Condition{Field: "status", Operator: models.OperatorEquals, Value: "open"}
	source := mem.Source(models.EntityWorkOrder)

	candidates, err := source.FindCandidates(ctx, cond, 0, fixedNow, 0)
	assert.NoError(t, err)
	assert.Len(t, candidates, 3)

	candidates, err = source.FindCandidates(ctx, cond, 0, fixedNow, 2)
	assert.NoError(t, err)
	assert.Len(t, candidates, 2)
}

// End-to-end over the in-memory backend: a record crosses the delay
// threshold, fires once, stays quiet while open, and fires again after
// resolution.
func TestEscalationLifecycleOverMemory(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	registry := services.NewSourceRegistry()
	mem.RegisterSources(registry)
	mem.SetRoleMembers("ws-1", "property_manager", []string{"user-pm1"})
	mem.SeedRecord(models.EntityWorkOrder, models.TargetRecord{
		ID:        "wo-1",
		Title:     "Broken elevator",
		CreatedAt: fixedNow.Add(-30 * time.Minute),
		Fields:    map[string]interface{}{"status": "open"},
	})

	rule := &models.EscalationRule{
		ID:            "rule-1",
		WorkspaceID:   "ws-1",
		Name:          "Overdue work orders",
		IsActive:      true,
		TriggerEntity: models.EntityWorkOrder,
		TriggerCondition: &models.Condition{
			Field: "status", Operator: models.OperatorEquals, Value: "open",
		},
		DelayMinutes: 60,
		NotifyRoles:  []string{"property_manager"},
	}

	dispatcher := services.NewDispatcher(registry, services.NewRoleExpander(mem), mem, 0)

	// Record is 30 minutes old, delay is 60: nothing fires.
	fired, err := dispatcher.FireRule(ctx, rule, fixedNow)
	assert.NoError(t, err)
	assert.Equal(t, 0, fired)

	// Past the threshold it fires exactly once across repeated passes.
	later := fixedNow.Add(time.Hour)
	fired, err = dispatcher.FireRule(ctx, rule, later)
	assert.NoError(t, err)
	assert.Equal(t, 1, fired)

	fired, err = dispatcher.FireRule(ctx, rule, later.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 0, fired)

	entries, err := mem.ListLogEntries(ctx, "ws-1", "rule-1")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, []string{"user-pm1"}, entries[0].NotifiedUserIDs)

	notifications, err := mem.ListNotifications(ctx, "ws-1", "user-pm1")
	assert.NoError(t, err)
	assert.Len(t, notifications, 1)
	assert.Equal(t, "Escalation triggered for: Broken elevator", notifications[0].Message)

	// Resolution releases the pair; the still-matching record re-fires.
	assert.NoError(t, mem.ResolveLogEntry(ctx, entries[0].ID, "user-pm1", later.Add(2*time.Minute)))

	fired, err = dispatcher.FireRule(ctx, rule, later.Add(3*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 1, fired)

	entries, err = mem.ListLogEntries(ctx, "ws-1", "rule-1")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}
