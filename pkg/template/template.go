// Package template renders prompt and input templates against the
// accumulated execution context.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/relayworks/relay/pkg/models"
)

// RenderWithState renders input against the execution's context and
// identity. Templates reference context values as {{.context.key}}.
func RenderWithState(input string, state *models.ExecutionState) (string, error) {
	data := map[string]any{
		"context": state.Context,
		"execution": map[string]any{
			"id":          state.ID,
			"workflow_id": state.WorkflowID,
		},
	}

	return Render(input, data)
}

// Render executes a text/template with a small fixed function set. No
// user-supplied code runs; templates can only read the data they are given.
func Render(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("prompt").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"join": strings.Join,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", templateStr, err)
	}

	return buf.String(), nil
}
