// ABOUTME: Transcript export to Markdown and HTML
// ABOUTME: Renders conversation messages for sharing outside the client

package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/marketoluh/chat/internal/chat"
)

// Markdown renders a transcript as a Markdown document with one
// section per message. Tool invocations are listed under the message
// they belong to.
func Markdown(researchID string, messages []*chat.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Conversation %s\n\n", researchID)
	if len(messages) == 0 {
		b.WriteString("_No messages._\n")
		return b.String()
	}

	for _, msg := range messages {
		fmt.Fprintf(&b, "## %s (%s)\n\n", roleTitle(msg.Role), msg.Timestamp.Format("2006-01-02 15:04:05 MST"))
		if msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}
		for _, tu := range msg.ToolUses {
			fmt.Fprintf(&b, "> **Tool:** `%s`", tu.Tool)
			if len(tu.Arguments) > 0 {
				args, err := json.Marshal(tu.Arguments)
				if err == nil {
					fmt.Fprintf(&b, " `%s`", args)
				}
			}
			b.WriteString("\n")
			if tu.Error != "" {
				fmt.Fprintf(&b, "> **Error:** %s\n", tu.Error)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// htmlPage wraps converted transcript content in a minimal standalone
// document.
var htmlPage = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
h2 { border-bottom: 1px solid #ddd; padding-bottom: 0.25rem; }
blockquote { color: #555; border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML renders a transcript as a standalone HTML page. The Markdown
// form is produced first and converted with goldmark.
func HTML(researchID string, messages []*chat.Message) (string, error) {
	md := Markdown(researchID, messages)

	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}

	var out bytes.Buffer
	data := struct {
		Title string
		Body  template.HTML
	}{
		Title: "Conversation " + researchID,
		Body:  template.HTML(body.String()),
	}
	if err := htmlPage.Execute(&out, data); err != nil {
		return "", fmt.Errorf("rendering page: %w", err)
	}
	return out.String(), nil
}

func roleTitle(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		return "Assistant"
	case chat.RoleSystem:
		return "System"
	default:
		return string(r)
	}
}
