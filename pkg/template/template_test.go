package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/relay/pkg/models"
	"github.com/relayworks/relay/pkg/template"
)

func TestRenderWithState(t *testing.T) {
	state := models.NewExecutionState("exec-1", "wf-1", "entry")
	state.Context["topic"] = "persistence"
	state.Context["count"] = 3

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text passes through",
			input: "no templating here",
			want:  "no templating here",
		},
		{
			name:  "context lookup",
			input: "ask about {{ .context.topic }}",
			want:  "ask about persistence",
		},
		{
			name:  "execution identity",
			input: "run {{ .execution.id }} of {{ .execution.workflow_id }}",
			want:  "run exec-1 of wf-1",
		},
		{
			name:  "missing key renders zero value",
			input: "[{{ .context.absent }}]",
			want:  "[<no value>]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := template.RenderWithState(tt.input, state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := template.Render("{{ .unclosed", nil)
	require.Error(t, err)
}

func TestRenderJoinFunc(t *testing.T) {
	got, err := template.Render(`{{ join .names ", " }}`, map[string]any{
		"names": []string{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a, b, c", got)
}
