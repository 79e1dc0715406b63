// ABOUTME: Tests for transcript export rendering
// ABOUTME: Covers Markdown sections, tool annotations, and HTML conversion

package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketoluh/chat/internal/chat"
)

func sampleMessages() []*chat.Message {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return []*chat.Message{
		{
			ID:        "m1",
			Role:      chat.RoleUser,
			Content:   "What did respondents say about pricing?",
			Timestamp: at,
		},
		{
			ID:        "m2",
			Role:      chat.RoleAssistant,
			Content:   "Most respondents found the mid tier too expensive.",
			Timestamp: at.Add(5 * time.Second),
			ToolUses: []chat.ToolUse{
				{Tool: "survey_lookup", Arguments: map[string]any{"survey_id": "s-42"}},
			},
		},
	}
}

func TestMarkdown_SectionPerMessage(t *testing.T) {
	md := Markdown("research-1", sampleMessages())

	assert.Contains(t, md, "# Conversation research-1")
	assert.Contains(t, md, "## You (2026-03-14 09:30:00 UTC)")
	assert.Contains(t, md, "## Assistant (2026-03-14 09:30:05 UTC)")
	assert.Contains(t, md, "What did respondents say about pricing?")
	assert.Contains(t, md, "Most respondents found the mid tier too expensive.")
}

func TestMarkdown_ToolUseAnnotation(t *testing.T) {
	md := Markdown("research-1", sampleMessages())

	assert.Contains(t, md, "**Tool:** `survey_lookup`")
	assert.Contains(t, md, `"survey_id":"s-42"`)
}

func TestMarkdown_ToolUseError(t *testing.T) {
	msgs := []*chat.Message{{
		ID:        "m1",
		Role:      chat.RoleAssistant,
		Content:   "Could not look that up.",
		Timestamp: time.Now(),
		ToolUses:  []chat.ToolUse{{Tool: "survey_lookup", Error: "survey not found"}},
	}}

	md := Markdown("research-1", msgs)
	assert.Contains(t, md, "**Error:** survey not found")
}

func TestMarkdown_EmptyTranscript(t *testing.T) {
	md := Markdown("research-1", nil)
	assert.Contains(t, md, "_No messages._")
}

func TestHTML_StandaloneDocument(t *testing.T) {
	html, err := HTML("research-1", sampleMessages())
	require.NoError(t, err)

	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, "<title>Conversation research-1</title>")
	assert.Contains(t, html, "<h2>You")
	assert.Contains(t, html, "Most respondents found the mid tier too expensive.")
}
