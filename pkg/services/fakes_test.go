package services

import (
	"context"
	"sync"
	"time"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// fakeSource is an in-test record source with a fixed candidate set.
type fakeSource struct {
	records []models.TargetRecord
	err     error

	gotDelay time.Duration
	gotNow   time.Time
	gotLimit int
}

func (s *fakeSource) FindCandidates(ctx context.Context, cond *models.Condition, delay time.Duration, now time.Time, limit int) ([]models.TargetRecord, error) {
	s.gotDelay = delay
	s.gotNow = now
	s.gotLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.TargetRecord, 0, len(s.records))
	cutoff := now.Add(-delay)
	for _, rec := range s.records {
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeDirectory resolves roles from a static membership map.
type fakeDirectory struct {
	members map[string][]string
	err     error
}

func (d *fakeDirectory) MembersOf(ctx context.Context, workspaceID, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.members[role], nil
}

// fakeEscalationStore is a stateful EscalationStore. With
// enforceConstraint it rejects a second open entry per pair the way a
// production store's uniqueness constraint does; without it, it models a
// store that relies on the dispatcher's pre-check alone.
type fakeEscalationStore struct {
	mu            sync.Mutex
	entries       []*models.EscalationLogEntry
	notifications []*models.Notification

	enforceConstraint bool

	// checkGap widens the window between dedup check and write, making
	// pass races deterministic in tests.
	checkGap time.Duration

	openCheckErr error
	createErr    error
	notifyErr    error
}

func newFakeEscalationStore() *fakeEscalationStore {
	return &fakeEscalationStore{enforceConstraint: true}
}

func (f *fakeEscalationStore) HasOpenEscalation(ctx context.Context, ruleID, entityID string) (bool, error) {
	if f.openCheckErr != nil {
		return false, f.openCheckErr
	}
	f.mu.Lock()
	open := f.openLocked(ruleID, entityID)
	f.mu.Unlock()
	if f.checkGap > 0 {
		time.Sleep(f.checkGap)
	}
	return open, nil
}

func (f *fakeEscalationStore) openLocked(ruleID, entityID string) bool {
	for _, e := range f.entries {
		if e.RuleID == ruleID && e.EntityID == entityID && e.ResolvedAt == nil {
			return true
		}
	}
	return false
}

func (f *fakeEscalationStore) CreateLogEntry(ctx context.Context, entry *models.EscalationLogEntry) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enforceConstraint && f.openLocked(entry.RuleID, entry.EntityID) {
		return ErrDuplicateOpenEscalation
	}
	copied := *entry
	f.entries = append(f.entries, &copied)
	return nil
}

func (f *fakeEscalationStore) CreateNotifications(ctx context.Context, notifications []*models.Notification) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range notifications {
		copied := *n
		f.notifications = append(f.notifications, &copied)
	}
	return nil
}

func (f *fakeEscalationStore) ListLogEntries(ctx context.Context, workspaceID, ruleID string) ([]*models.EscalationLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.EscalationLogEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if e.WorkspaceID != workspaceID {
			continue
		}
		if ruleID != "" && e.RuleID != ruleID {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeEscalationStore) AcknowledgeLogEntry(ctx context.Context, entryID, acknowledgedBy string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == entryID {
			e.AcknowledgedBy = acknowledgedBy
			ackAt := at
			e.AcknowledgedAt = &ackAt
			return nil
		}
	}
	return ErrEntryNotFound
}

func (f *fakeEscalationStore) ResolveLogEntry(ctx context.Context, entryID, resolvedBy string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == entryID {
			resolvedAt := at
			e.ResolvedAt = &resolvedAt
			if e.AcknowledgedBy == "" {
				e.AcknowledgedBy = resolvedBy
				e.AcknowledgedAt = &resolvedAt
			}
			return nil
		}
	}
	return ErrEntryNotFound
}

func (f *fakeEscalationStore) ListNotifications(ctx context.Context, workspaceID, userID string) ([]*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Notification, 0, len(f.notifications))
	for _, n := range f.notifications {
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

func (f *fakeEscalationStore) MarkNotificationRead(ctx context.Context, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == notificationID {
			n.Read = true
			return nil
		}
	}
	return ErrEntryNotFound
}

func (f *fakeEscalationStore) entryCount(ruleID, entityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.entries {
		if e.RuleID == ruleID && e.EntityID == entityID {
			count++
		}
	}
	return count
}
