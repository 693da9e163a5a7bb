package services

import (
	"strings"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// Placeholders recognized in rule message templates. Anything else in the
// template is left verbatim.
const (
	placeholderEntityTitle = "{entity_title}"
	placeholderEntityID    = "{entity_id}"
)

// RenderMessage renders the notification body for a firing. An empty
// template falls back to the default message.
func RenderMessage(template string, record models.TargetRecord) string {
	if template == "" {
		return "Escalation triggered for: " + record.Title
	}
	msg := strings.ReplaceAll(template, placeholderEntityTitle, record.Title)
	msg = strings.ReplaceAll(msg, placeholderEntityID, record.ID)
	return msg
}
