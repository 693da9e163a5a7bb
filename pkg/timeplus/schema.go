package timeplus

// Stream names
const (
	// RulesStream stores escalation rule definitions, latest row per rule
	// ID wins.
	RulesStream = "esc_rules"

	// OpenEscalationsStream tracks the open/resolved state of each
	// (rule_id, entity_id) pair. It is a mutable stream with
	// PRIMARY KEY (rule_id, entity_id): the storage-level uniqueness
	// constraint behind the at-most-one-open-escalation guarantee.
	OpenEscalationsStream = "esc_open_escalations"

	// EscalationLogStream is the audit log of firings, keyed by entry ID.
	EscalationLogStream = "esc_log"

	// NotificationsStream stores per-user notification instances.
	NotificationsStream = "esc_notifications"

	// RoleMembersStream stores workspace role membership, one row per
	// (workspace_id, role, user_id).
	RoleMembersStream = "esc_role_members"

	// recordsStreamPrefix prefixes the per-entity operational record
	// streams, e.g. esc_records_work_order.
	recordsStreamPrefix = "esc_records_"
)

// RecordsStreamFor returns the operational record stream name for an
// entity domain.
func RecordsStreamFor(entity string) string {
	return recordsStreamPrefix + entity
}

// Escalation pair states in OpenEscalationsStream
const (
	EscalationStateOpen     = "open"
	EscalationStateResolved = "resolved"
)

// GetRulesSchema returns the schema for the rules stream
func GetRulesSchema() []Column {
	return []Column{
		{Name: "id", Type: "string"},
		{Name: "workspace_id", Type: "string"},
		{Name: "name", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "is_active", Type: "bool"},
		{Name: "trigger_entity", Type: "string"},
		{Name: "trigger_condition", Type: "string", Nullable: true}, // JSON
		{Name: "delay_minutes", Type: "int32"},
		{Name: "notify_roles", Type: "string"},          // JSON list
		{Name: "notify_user_ids", Type: "string"},       // JSON list
		{Name: "notification_channels", Type: "string"}, // JSON list
		{Name: "message_template", Type: "string", Nullable: true},
		{Name: "resolution_condition", Type: "string", Nullable: true}, // JSON
		{Name: "created_by", Type: "string"},
		{Name: "created_at", Type: "datetime64"},
		{Name: "updated_at", Type: "datetime64"},
		{Name: "active", Type: "bool"}, // false marks a soft-deleted rule
	}
}

// GetOpenEscalationsSchema returns the schema for the open escalation
// pair stream. One row per (rule_id, entity_id); the mutable stream's
// primary key makes a racing second insert an upsert, not a duplicate.
func GetOpenEscalationsSchema() []Column {
	return []Column{
		{Name: "rule_id", Type: "string"},
		{Name: "entity_id", Type: "string"},
		{Name: "entry_id", Type: "string"},
		{Name: "state", Type: "string"},
		{Name: "fired_at", Type: "datetime64"},
		{Name: "updated_at", Type: "datetime64"},
		{Name: "updated_by", Type: "string", Nullable: true},
	}
}

// GetEscalationLogSchema returns the schema for the escalation audit log
func GetEscalationLogSchema() []Column {
	return []Column{
		{Name: "id", Type: "string"},
		{Name: "workspace_id", Type: "string"},
		{Name: "rule_id", Type: "string"},
		{Name: "rule_name", Type: "string"},
		{Name: "entity_type", Type: "string"},
		{Name: "entity_id", Type: "string"},
		{Name: "entity_title", Type: "string"},
		{Name: "notified_user_ids", Type: "string"},      // JSON list
		{Name: "notification_channels", Type: "string"},  // JSON list
		{Name: "fired_at", Type: "datetime64"},
		{Name: "resolved_at", Type: "datetime64", Nullable: true},
		{Name: "acknowledged_by", Type: "string", Nullable: true},
		{Name: "acknowledged_at", Type: "datetime64", Nullable: true},
	}
}

// GetNotificationsSchema returns the schema for the notifications stream
func GetNotificationsSchema() []Column {
	return []Column{
		{Name: "id", Type: "string"},
		{Name: "workspace_id", Type: "string"},
		{Name: "user_id", Type: "string"},
		{Name: "type", Type: "string"},
		{Name: "title", Type: "string"},
		{Name: "message", Type: "string"},
		{Name: "entity_type", Type: "string"},
		{Name: "entity_id", Type: "string"},
		{Name: "read", Type: "bool"},
		{Name: "created_at", Type: "datetime64"},
	}
}

// GetRoleMembersSchema returns the schema for the role membership stream
func GetRoleMembersSchema() []Column {
	return []Column{
		{Name: "workspace_id", Type: "string"},
		{Name: "role", Type: "string"},
		{Name: "user_id", Type: "string"},
		{Name: "active", Type: "bool"},
		{Name: "updated_at", Type: "datetime64"},
	}
}

// GetRecordsSchema returns the schema for the per-entity operational
// record streams. Arbitrary record fields travel as a JSON object.
func GetRecordsSchema() []Column {
	return []Column{
		{Name: "id", Type: "string"},
		{Name: "workspace_id", Type: "string"},
		{Name: "title", Type: "string"},
		{Name: "fields", Type: "string", Nullable: true}, // JSON object
		{Name: "created_at", Type: "datetime64"},
	}
}
