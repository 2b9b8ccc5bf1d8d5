package notify

import (
	"bytes"
	"errors"
	"text/template"
)

// DefaultTemplate renders a plain text alert notification.
const DefaultTemplate = `[Alert {{.EventLabel}}]
Group: {{.GroupID}}
Parameter: {{.Parameter}}
{{- if .Action }}
Action: {{.Action}}
{{- end }}
{{- if .Current }}
Current: {{.Current}}
Target: {{.Target}}
{{- end }}
{{- if .Message }}
Message: {{.Message}}
{{- end }}
Time: {{.OccurredAt}}
{{- if .Suggestion }}
Suggestion: {{.Suggestion}}
{{- end }}
`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	UserID     string
	GroupID    string
	Parameter  string
	Action     string
	Current    string
	Target     string
	Magnitude  string
	Message    string
	Severity   string
	Suggestion string
	OccurredAt string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
