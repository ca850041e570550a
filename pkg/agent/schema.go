package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateStructured checks structured output against the JSON schema the
// request declared. A nil schema accepts anything.
func ValidateStructured(schema, structured map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(structured),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("structured output does not match schema: %s", strings.Join(details, "; "))
	}

	return nil
}

// ValidatingAgent rejects responses whose structured output does not
// satisfy the request's declared schema.
type ValidatingAgent struct {
	inner Agent
}

func NewValidatingAgent(inner Agent) *ValidatingAgent {
	return &ValidatingAgent{inner: inner}
}

func (a *ValidatingAgent) Call(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, ErrEmptyPrompt
	}

	resp, err := a.inner.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.OutputSchema != nil {
		if err := ValidateStructured(req.OutputSchema, resp.Structured); err != nil {
			return nil, err
		}
	}

	return resp, nil
}
