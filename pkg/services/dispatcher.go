package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// DefaultCandidateLimit bounds the records one rule evaluates per pass.
const DefaultCandidateLimit = 50

// Dispatcher fires a single rule against its candidate records: it finds
// candidates, filters them through the dedup guard, expands targets,
// renders the message, and writes the log entry plus notifications.
type Dispatcher struct {
	sources        *SourceRegistry
	roles          *RoleExpander
	store          EscalationStore
	candidateLimit int
}

// NewDispatcher creates a dispatcher. A non-positive candidateLimit uses
// DefaultCandidateLimit.
func NewDispatcher(sources *SourceRegistry, roles *RoleExpander, store EscalationStore, candidateLimit int) *Dispatcher {
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Dispatcher{
		sources:        sources,
		roles:          roles,
		store:          store,
		candidateLimit: candidateLimit,
	}
}

// FireRule evaluates one rule at the given instant and returns how many
// escalations it fired.
//
// Candidates are processed in source order; dedup makes the outcome
// order-independent. Failures are best-effort per the engine's error
// policy: an error aborts the remainder of this rule's candidates (the
// caller skips to the next rule), and candidates already fired stay
// fired. A log entry whose notification fan-out partially fails still
// stands as the authoritative firing record.
func (d *Dispatcher) FireRule(ctx context.Context, rule *models.EscalationRule, now time.Time) (int, error) {
	candidates, err := d.sources.FindCandidates(ctx, rule.TriggerEntity, rule.TriggerCondition, rule.DelayThreshold(), now, d.candidateLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to find candidates for rule %s: %w", rule.ID, err)
	}

	fired := 0
	for _, candidate := range candidates {
		// Source adapters may push the predicate down; re-checking here
		// keeps adapters that only filter by age correct.
		if !MatchesCondition(candidate, rule.TriggerCondition) {
			continue
		}

		open, err := d.store.HasOpenEscalation(ctx, rule.ID, candidate.ID)
		if err != nil {
			return fired, fmt.Errorf("dedup check failed for rule %s entity %s: %w", rule.ID, candidate.ID, err)
		}
		if open {
			logrus.Debugf("Skipping entity %s for rule %s: open escalation exists", candidate.ID, rule.ID)
			continue
		}

		targets, err := d.roles.ResolveTargets(ctx, rule.WorkspaceID, rule.NotifyRoles, rule.NotifyUserIDs)
		if err != nil {
			return fired, fmt.Errorf("target resolution failed for rule %s: %w", rule.ID, err)
		}

		channels := rule.NotificationChannels
		if len(channels) == 0 {
			channels = []string{models.DefaultNotificationChannel}
		}

		entry := &models.EscalationLogEntry{
			ID:                   uuid.New().String(),
			WorkspaceID:          rule.WorkspaceID,
			RuleID:               rule.ID,
			RuleName:             rule.Name,
			EntityType:           rule.TriggerEntity,
			EntityID:             candidate.ID,
			EntityTitle:          candidate.Title,
			NotifiedUserIDs:      targets,
			NotificationChannels: channels,
			FiredAt:              now,
		}

		if err := d.store.CreateLogEntry(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateOpenEscalation) {
				// A concurrent pass won the race for this pair. The
				// store's uniqueness constraint turned our write into a
				// rejected duplicate, which is exactly the point.
				logrus.Infof("Duplicate open escalation rejected for rule %s entity %s", rule.ID, candidate.ID)
				continue
			}
			return fired, fmt.Errorf("failed to write escalation log for rule %s entity %s: %w", rule.ID, candidate.ID, err)
		}

		message := RenderMessage(rule.MessageTemplate, candidate)
		if len(targets) > 0 {
			notifications := make([]*models.Notification, 0, len(targets))
			for _, userID := range targets {
				notifications = append(notifications, &models.Notification{
					ID:          uuid.New().String(),
					WorkspaceID: rule.WorkspaceID,
					UserID:      userID,
					Type:        models.NotificationTypeEscalation,
					Title:       rule.Name,
					Message:     message,
					EntityType:  rule.TriggerEntity,
					EntityID:    candidate.ID,
					CreatedAt:   now,
				})
			}
			if err := d.store.CreateNotifications(ctx, notifications); err != nil {
				// The log entry already stands; losing notifications is
				// the documented at-least-logged tradeoff.
				logrus.Errorf("Notification fan-out failed for rule %s entity %s: %v", rule.ID, candidate.ID, err)
			}
		}

		fired++
		logrus.Infof("Escalation fired: rule=%s (%s) entity=%s/%s targets=%d",
			rule.Name, rule.ID, rule.TriggerEntity, candidate.ID, len(targets))
	}

	return fired, nil
}
