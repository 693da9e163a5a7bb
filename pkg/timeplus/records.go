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

var _ services.RoleDirectory = (*Store)(nil)

// MembersOf returns the active members holding a role in a workspace.
// Unknown roles simply have no members.
func (s *Store) MembersOf(ctx context.Context, workspaceID, role string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT user_id
		FROM table(%s)
		WHERE workspace_id = '%s' AND role = '%s' AND active = true
	`, RoleMembersStream, escapeSQL(workspaceID), escapeSQL(role))

	results, err := s.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query role members: %w", err)
	}

	members := make([]string, 0, len(results))
	for _, result := range results {
		if userID := getString(result, "user_id"); userID != "" {
			members = append(members, userID)
		}
	}
	return members, nil
}

// SetRoleMember upserts a role membership row. active=false removes the
// member from expansion without losing the row's history.
func (s *Store) SetRoleMember(ctx context.Context, workspaceID, role, userID string, active bool) error {
	return s.client.InsertIntoStream(ctx, RoleMembersStream,
		[]string{"workspace_id", "role", "user_id", "active", "updated_at"},
		[]interface{}{workspaceID, role, userID, active, time.Now().UTC()})
}

// SaveRecord upserts an operational record into its entity domain stream.
func (s *Store) SaveRecord(ctx context.Context, entity models.TriggerEntity, workspaceID string, record models.TargetRecord) error {
	fields := interface{}(nil)
	if len(record.Fields) > 0 {
		raw, err := json.Marshal(record.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal record fields: %w", err)
		}
		fields = string(raw)
	}
	return s.client.InsertIntoStream(ctx, RecordsStreamFor(string(entity)),
		[]string{"id", "workspace_id", "title", "fields", "created_at"},
		[]interface{}{record.ID, workspaceID, record.Title, fields, record.CreatedAt.UTC()})
}

// Source returns a RecordSource adapter over one entity domain stream.
func (s *Store) Source(entity models.TriggerEntity) services.RecordSource {
	return &streamSource{store: s, entity: entity}
}

// RegisterSources registers an adapter for every known entity domain.
func (s *Store) RegisterSources(registry *services.SourceRegistry) {
	for _, entity := range models.KnownTriggerEntities {
		registry.Register(entity, s.Source(entity))
	}
}

type streamSource struct {
	store  *Store
	entity models.TriggerEntity
}

// recordFetchCeiling bounds how many age-eligible rows one candidate
// query pulls before the in-memory predicate runs.
const recordFetchCeiling = 1000

// FindCandidates pulls records at or past the age boundary and applies
// the rule predicate in memory: record fields are a free-form JSON
// object, so the condition cannot be pushed into the SQL WHERE clause.
// The SQL LIMIT is therefore a fetch ceiling rather than the pass cap,
// except for predicate-less rules, where every fetched row is a match
// and the caller's limit bounds the query directly.
func (s *streamSource) FindCandidates(ctx context.Context, cond *models.Condition, delay time.Duration, now time.Time, limit int) ([]models.TargetRecord, error) {
	fetch := recordFetchCeiling
	if (cond == nil || cond.Field == "" || cond.Value == nil) && limit > 0 && limit < fetch {
		fetch = limit
	}
	query := fmt.Sprintf(`
		SELECT id, workspace_id, title, fields, created_at
		FROM table(%s)
		WHERE created_at <= '%s'
		ORDER BY created_at ASC
		LIMIT %d
	`, RecordsStreamFor(string(s.entity)), now.Add(-delay).UTC().Format("2006-01-02 15:04:05.000"), fetch)

	results, err := s.store.client.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", s.entity, err)
	}

	candidates := make([]models.TargetRecord, 0, len(results))
	for _, result := range results {
		record := mapToRecord(result)
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

func mapToRecord(data map[string]interface{}) models.TargetRecord {
	record := models.TargetRecord{
		ID:    getString(data, "id"),
		Title: getString(data, "title"),
	}
	if createdAt, ok := getTime(data, "created_at"); ok {
		record.CreatedAt = createdAt
	}
	if raw := getString(data, "fields"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &record.Fields); err != nil {
			logrus.Warnf("Failed to unmarshal fields for record %s: %v", record.ID, err)
		}
	}
	return record
}
